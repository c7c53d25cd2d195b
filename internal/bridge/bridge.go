// Package bridge forwards readings from serial supervisor to telemetry sink
// and acknowledges delivered readings back to device.
package bridge

import (
	"context"
	"sync"

	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/internal/metric"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

const (
	DefaultMaxInflight      = 1
	DefaultFailureThreshold = 3
)

// Source is implemented by supervisor.Supervisor.
type Source interface {
	Run(ctx context.Context) error
	Readings() <-chan frame.Reading
	Acknowledge(ctx context.Context) error
}

type Config struct {
	MaxInflight int
	// Consecutive upload failures before sink health check.
	FailureThreshold int
}

type Stats struct {
	Uploaded            uint64
	Failed              uint64
	Acked               uint64
	ConsecutiveFailures int
}

type Bridge struct {
	config  Config
	source  Source
	sink    sink.Sink
	log     *log2.Log
	metrics *metric.Metrics
	pub     Publisher

	mu       sync.Mutex
	stats    Stats
	checking bool
}

func New(config Config, source Source, s sink.Sink, log *log2.Log) *Bridge {
	if config.MaxInflight <= 0 {
		config.MaxInflight = DefaultMaxInflight
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	return &Bridge{
		config: config,
		source: source,
		sink:   s,
		log:    log.Prefixed("bridge: "),
	}
}

// SetMetrics must be called before Run.
func (self *Bridge) SetMetrics(m *metric.Metrics) { self.metrics = m }

// Publisher sees every reading before upload, must not block.
type Publisher interface {
	Publish(frame.Reading)
}

// SetPublisher must be called before Run.
func (self *Bridge) SetPublisher(p Publisher) { self.pub = p }

func (self *Bridge) Stats() Stats {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stats
}

// Run runs source and uploads its readings until source stops.
// Waits for uploads in progress. Returns source error.
func (self *Bridge) Run(ctx context.Context) error {
	errch := make(chan error, 1)
	go func() { errch <- self.source.Run(ctx) }()

	sem := make(chan struct{}, self.config.MaxInflight)
	wg := sync.WaitGroup{}
	readings := self.source.Readings()
loop:
	for {
		select {
		case r, ok := <-readings:
			if !ok {
				break loop
			}
			if self.pub != nil {
				self.pub.Publish(r)
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				self.upload(ctx, r)
			}()
		case <-ctx.Done():
			break loop
		}
	}
	wg.Wait()
	return <-errch
}

func (self *Bridge) upload(ctx context.Context, r frame.Reading) {
	done := self.metrics.UploadBegin()
	err := self.sink.Send(ctx, r)
	if err != nil {
		kind := sink.KindOf(err)
		done(kind.String())
		self.log.Errorf("upload %s kind=%s err=%v", r, kind, err)
		self.failure(ctx)
		return
	}
	done("ok")
	self.mu.Lock()
	self.stats.Uploaded++
	self.stats.ConsecutiveFailures = 0
	self.mu.Unlock()

	if err = self.source.Acknowledge(ctx); err != nil {
		self.log.Infof("ack skipped: %v", err)
		return
	}
	self.mu.Lock()
	self.stats.Acked++
	self.mu.Unlock()
}

func (self *Bridge) failure(ctx context.Context) {
	self.mu.Lock()
	self.stats.Failed++
	self.stats.ConsecutiveFailures++
	n := self.stats.ConsecutiveFailures
	check := n >= self.config.FailureThreshold && !self.checking
	if check {
		self.checking = true
	}
	self.mu.Unlock()
	if !check {
		return
	}

	self.log.Infof("consecutive upload failures=%d, checking sink", n)
	err := self.sink.Check(ctx)
	self.metrics.SinkCheck(err == nil)
	self.mu.Lock()
	self.checking = false
	if err == nil {
		self.stats.ConsecutiveFailures = 0
	}
	self.mu.Unlock()
	if err != nil {
		self.log.Errorf("sink check kind=%s err=%v", sink.KindOf(err), err)
	} else {
		self.log.Infof("sink check ok")
	}
}
