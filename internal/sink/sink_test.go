package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorgate/frame"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	rejected := Rejected(401, "Permission denied")
	cases := []struct {
		name   string
		err    error
		expect Kind
	}{
		{"nil", nil, KindNone},
		{"failure", rejected, ServerRejected},
		{"traced-failure", errors.Annotate(rejected, "firebase"), ServerRejected},
		{"wrapped-failure", fmt.Errorf("send: %w", rejected), ServerRejected},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"juju-timeout", errors.Timeoutf("publish"), Timeout},
		{"url-timeout", &url.Error{Op: "Post", URL: "https://x", Err: timeoutErr{}}, Timeout},
		{"url-deadline", &url.Error{Op: "Post", URL: "https://x", Err: context.DeadlineExceeded}, Timeout},
		{"refused", &url.Error{Op: "Post", URL: "https://x", Err: &net.OpError{Op: "dial", Err: fmt.Errorf("connection refused")}}, NetworkUnavailable},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, NetworkUnavailable},
		{"other", fmt.Errorf("unexpected EOF"), NetworkUnavailable},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, KindOf(c.err))
		})
	}
	assert.Nil(t, Classify(nil))
	assert.Same(t, rejected, Classify(errors.Trace(rejected)))
}

func TestFailureError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "upload ServerRejected status=401: Permission denied", Rejected(401, "Permission denied").Error())
	assert.Equal(t, "upload ServerRejected status=500", Rejected(500, "").Error())
	assert.Equal(t, "upload Timeout: context deadline exceeded", Classify(context.DeadlineExceeded).Error())
	assert.Equal(t, "upload NetworkUnavailable", (&Failure{Kind: NetworkUnavailable}).Error())
}

func TestPayload(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	p := NewPayload(frame.Reading{Temperature: 23.45, Humidity: 55, ObservedAt: at}, "")
	_, err := uuid.Parse(p.ID)
	require.NoError(t, err)
	b, err := p.Marshal()
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, 23.45, m["temperatura"])
	assert.Equal(t, 55.0, m["umidade"])
	assert.Equal(t, "2024-03-01T12:30:00Z", m["timestamp"])
	assert.Equal(t, float64(at.Unix()), m["timestamp_unix"])
	assert.Equal(t, "°C", m["unidade_temperatura"])
	assert.Equal(t, "%", m["unidade_umidade"])
	assert.Equal(t, "DHT11", m["sensor"])

	assert.NotEqual(t, p.ID, NewPayload(frame.Reading{}, "AM2302").ID)
	assert.Equal(t, "AM2302", NewPayload(frame.Reading{}, "AM2302").Sensor)
}

func TestMock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := (&Mock{}).FailSend(nil, Rejected(500, "")).FailCheck(fmt.Errorf("down"))
	assert.NoError(t, m.Send(ctx, frame.Reading{Humidity: 1}))
	assert.Error(t, m.Send(ctx, frame.Reading{Humidity: 2}))
	assert.NoError(t, m.Send(ctx, frame.Reading{Humidity: 3}))
	assert.Len(t, m.Sent(), 2)
	assert.Error(t, m.Check(ctx))
	assert.NoError(t, m.Check(ctx))
	assert.Equal(t, 2, m.Checks())
	assert.NoError(t, m.Close())
	assert.Equal(t, 1, m.Closed())
}
