package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

type fakeSource struct {
	list   []frame.Reading
	ch     chan frame.Reading
	runErr error
	onAck  func() error

	mu   sync.Mutex
	acks int
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{ch: make(chan frame.Reading)}
	for i := 0; i < n; i++ {
		s.list = append(s.list, frame.Reading{Humidity: float64(i), Temperature: 20, ObservedAt: time.Now()})
	}
	return s
}

func (s *fakeSource) Run(ctx context.Context) error {
	defer close(s.ch)
	for _, r := range s.list {
		select {
		case s.ch <- r:
		case <-ctx.Done():
			return nil
		}
	}
	return s.runErr
}

func (s *fakeSource) Readings() <-chan frame.Reading { return s.ch }

func (s *fakeSource) Acknowledge(ctx context.Context) error {
	var err error
	if s.onAck != nil {
		err = s.onAck()
	}
	if err == nil {
		s.mu.Lock()
		s.acks++
		s.mu.Unlock()
	}
	return err
}

func (s *fakeSource) Acks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks
}

var rejected = sink.Rejected(500, "")

func TestAckAfterSuccessOnly(t *testing.T) {
	t.Parallel()

	src := newFakeSource(4)
	ms := (&sink.Mock{}).FailSend(nil, rejected, nil, &sink.Failure{Kind: sink.Timeout})
	// ack must see its reading already stored
	src.onAck = func() error {
		if len(ms.Sent()) <= src.Acks() {
			return fmt.Errorf("ack before upload")
		}
		return nil
	}
	b := New(Config{}, src, ms, log2.NewTest(t, log2.LDebug))
	require.NoError(t, b.Run(context.Background()))

	assert.Len(t, ms.Sent(), 2)
	assert.Equal(t, 2, src.Acks())
	st := b.Stats()
	assert.Equal(t, uint64(2), st.Uploaded)
	assert.Equal(t, uint64(2), st.Failed)
	assert.Equal(t, uint64(2), st.Acked)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, 0, ms.Checks())
}

func TestFailureThreshold(t *testing.T) {
	t.Parallel()

	type Case struct {
		name        string
		sendErrs    []error
		checkErrs   []error
		expectCheck int
		expectConsq int
	}
	f := rejected
	cases := []Case{
		{"below", []error{f, f}, nil, 0, 2},
		{"reset-by-success", []error{f, f, nil, f, f}, nil, 0, 2},
		{"check-ok-resets", []error{f, f, f, f, f}, []error{nil}, 1, 2},
		{"check-fail-keeps", []error{f, f, f, f}, []error{fmt.Errorf("down"), fmt.Errorf("down")}, 2, 4},
		{"check-fail-then-ok", []error{f, f, f, f, f}, []error{fmt.Errorf("down"), nil}, 2, 1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			src := newFakeSource(len(c.sendErrs))
			ms := (&sink.Mock{}).FailSend(c.sendErrs...).FailCheck(c.checkErrs...)
			b := New(Config{}, src, ms, log2.NewTest(t, log2.LDebug))
			require.NoError(t, b.Run(context.Background()))
			assert.Equal(t, c.expectCheck, ms.Checks())
			assert.Equal(t, c.expectConsq, b.Stats().ConsecutiveFailures)
		})
	}
}

func TestSourceError(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1)
	src.runErr = fmt.Errorf("no serial device found")
	ms := &sink.Mock{}
	b := New(Config{}, src, ms, log2.NewTest(t, log2.LDebug))
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "no serial device found", err.Error())
	assert.Len(t, ms.Sent(), 1)
}

func TestMaxInflight(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{1, 3} {
		limit := limit
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			t.Parallel()
			var cur, peak int32
			ms := &sink.Mock{}
			ms.OnSend = func(frame.Reading) {
				n := atomic.AddInt32(&cur, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&cur, -1)
			}
			src := newFakeSource(9)
			b := New(Config{MaxInflight: limit}, src, ms, log2.NewTest(t, log2.LDebug))
			require.NoError(t, b.Run(context.Background()))
			assert.Len(t, ms.Sent(), 9)
			assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
			if limit == 1 {
				assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
			}
		})
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{ch: make(chan frame.Reading)}
	// endless source
	for i := 0; i < 1000; i++ {
		src.list = append(src.list, frame.Reading{})
	}
	ms := &sink.Mock{}
	ms.OnSend = func(frame.Reading) { time.Sleep(time.Millisecond) }
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b := New(Config{}, src, ms, nil)
	require.NoError(t, b.Run(ctx))
	assert.Less(t, len(ms.Sent()), 1000)
}

type publishRecorder struct {
	mu   sync.Mutex
	list []frame.Reading
}

func (p *publishRecorder) Publish(r frame.Reading) {
	p.mu.Lock()
	p.list = append(p.list, r)
	p.mu.Unlock()
}

func TestPublishBeforeUpload(t *testing.T) {
	t.Parallel()

	src := newFakeSource(3)
	pub := &publishRecorder{}
	ms := (&sink.Mock{}).FailSend(rejected)
	b := New(Config{}, src, ms, log2.NewTest(t, log2.LDebug))
	b.SetPublisher(pub)
	require.NoError(t, b.Run(context.Background()))
	// failed upload is still published
	assert.Equal(t, src.list, pub.list)
	assert.Len(t, ms.Sent(), 2)
}
