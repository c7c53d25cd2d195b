// Package supervisor owns serial connection lifecycle:
// discovery, probing, reading lines, silence detection and reconnect.
// Single worker goroutine owns connection state, other methods talk to it through channels.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/hardware/catalog"
	"github.com/temoto/sensorgate/hardware/led"
	"github.com/temoto/sensorgate/hardware/probe"
	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/internal/metric"
	"github.com/temoto/sensorgate/log2"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultSilenceTicks   = 100
	DefaultReconnectDelay = 1 * time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultEventBuffer    = 64
)

type Config struct {
	Baud    int
	Charset string
	// Read timeout of one tick.
	PollInterval time.Duration
	// Connection is lost when more than SilenceTicks ticks pass without bytes.
	SilenceTicks int
	// Debounce after connection loss, also first retry delay when no candidate confirms.
	ReconnectDelay time.Duration
	ReconnectMax   time.Duration
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.Baud <= 0 {
		c.Baud = uart.DefaultBaud
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SilenceTicks <= 0 {
		c.SilenceTicks = DefaultSilenceTicks
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = 0
	}
	if c.ReconnectMax < c.ReconnectDelay {
		c.ReconnectMax = c.ReconnectDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

type Catalog interface {
	ListCandidates() ([]catalog.Candidate, error)
}

type Prober interface {
	Probe(ctx context.Context, c catalog.Candidate) probe.Result
}

type Supervisor struct {
	config  Config
	catalog Catalog
	prober  Prober
	opener  uart.Opener
	log     *log2.Log
	led     led.Indicator
	metrics *metric.Metrics

	alive    *alive.Alive
	started  uint32
	state    int32
	dropped  uint64
	readings chan frame.Reading
	events   chan Event
	ackCh    chan chan error

	statusMu sync.Mutex
	path     string

	// owned by worker
	port      uart.Port
	lines     *uart.LineReader
	idleTicks int
	session   uint64
	lost      *ConnectionLost
	backoff   helpers.Backoff
}

func New(config Config, cat Catalog, prober Prober, opener uart.Opener, log *log2.Log) *Supervisor {
	config = config.withDefaults()
	return &Supervisor{
		config:   config,
		catalog:  cat,
		prober:   prober,
		opener:   opener,
		log:      log.Prefixed("supervisor: "),
		led:      led.Null{},
		alive:    alive.NewAlive(),
		readings: make(chan frame.Reading),
		events:   make(chan Event, config.EventBuffer),
		ackCh:    make(chan chan error),
		backoff:  helpers.Backoff{Min: config.ReconnectDelay, Max: config.ReconnectMax},
	}
}

// SetIndicator must be called before Run.
func (self *Supervisor) SetIndicator(i led.Indicator) {
	if i == nil {
		i = led.Null{}
	}
	self.led = i
}

// SetMetrics must be called before Run.
func (self *Supervisor) SetMetrics(m *metric.Metrics) { self.metrics = m }

// Readings is one sequence across reconnects, closed when Run returns.
func (self *Supervisor) Readings() <-chan frame.Reading { return self.readings }

// Events is closed when Run returns.
func (self *Supervisor) Events() <-chan Event { return self.events }

func (self *Supervisor) State() State { return State(atomic.LoadInt32(&self.state)) }

// Status returns state and device path of current or last connection.
func (self *Supervisor) Status() (State, string) {
	self.statusMu.Lock()
	defer self.statusMu.Unlock()
	return self.State(), self.path
}

func (self *Supervisor) DroppedEvents() uint64 { return atomic.LoadUint64(&self.dropped) }

// Stop requests shutdown and waits for Run to return.
func (self *Supervisor) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

// Acknowledge writes ack token to connected device.
// Returns ErrNotConnected in any other state.
func (self *Supervisor) Acknowledge(ctx context.Context) error {
	if self.State() != StateConnected {
		return ErrNotConnected
	}
	req := make(chan error, 1)
	select {
	case self.ackCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-self.alive.WaitChan():
		return ErrNotConnected
	}
	select {
	case err := <-req:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives connection state machine until Stop, ctx cancel or terminal NoDeviceFound.
// Returns nil on caller shutdown.
func (self *Supervisor) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&self.started, 0, 1) {
		return errors.New("supervisor Run called twice")
	}
	if !self.alive.Add(1) {
		// stopped before start
		self.setState(StateStopped, "")
		close(self.readings)
		close(self.events)
		return nil
	}
	defer self.alive.Done()
	defer self.alive.Stop()
	defer close(self.events)
	defer close(self.readings)

	lines, err := uart.NewLineReader(self.config.Charset)
	if err != nil {
		return errors.Trace(err)
	}
	self.lines = lines

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-self.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	err = self.loop(ctx)
	self.closePort()
	self.setState(StateStopped, self.lastPath())
	if err != nil {
		self.log.Error(err)
	}
	return err
}

func (self *Supervisor) loop(ctx context.Context) error {
	for {
		self.setState(StateDiscovering, "")
		err := self.discover(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			self.setState(StateDisconnected, "")
			self.emit(Event{Kind: EventNoDevice, Err: err})
			if nd, ok := errors.Cause(err).(*NoDeviceFound); !ok || nd.Candidates == 0 {
				return err
			}
			self.backoff.Failure()
			delay := self.backoff.Next()
			self.log.Infof("%v, attempt=%d retry in %s", err, self.backoff.Failures(), delay)
			if !self.sleep(ctx, delay) {
				return nil
			}
			continue
		}
		if n := self.backoff.Failures(); n != 0 {
			self.log.Infof("device found after %d failed attempts, outage %s", n, self.backoff.Outage())
		}
		self.backoff.Reset()

		lost := self.serve(ctx)
		if ctx.Err() != nil || lost == nil {
			return nil
		}
		self.setState(StateReconnecting, self.lastPath())
		self.closePort()
		self.metrics.Reconnect(lost.Reason())
		self.log.Infof("%v, reconnect in %s", lost, self.config.ReconnectDelay)
		self.emit(Event{Kind: EventConnectionLost, Path: lost.Path, Err: lost})
		if !self.sleep(ctx, self.config.ReconnectDelay) {
			return nil
		}
	}
}

// discover probes candidates sequentially, first confirmed is reopened for reading.
func (self *Supervisor) discover(ctx context.Context) error {
	list, err := self.catalog.ListCandidates()
	if err != nil {
		return &NoDeviceFound{Err: err}
	}
	if len(list) == 0 {
		return &NoDeviceFound{}
	}
	errs := make([]error, 0, len(list))
	for _, c := range list {
		self.setState(StateProbing, c.Path)
		r := self.prober.Probe(ctx, c)
		self.metrics.Probe(r.Confirmed)
		self.emit(Event{Kind: EventProbe, Path: c.Path, Line: r.Line, Err: r.Reason})
		if err = ctx.Err(); err != nil {
			return err
		}
		if !r.Confirmed {
			errs = append(errs, r.Reason)
			continue
		}
		if err = self.connect(c.Path); err != nil {
			self.log.Error(err)
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return &NoDeviceFound{Candidates: len(list), Err: helpers.FoldErrors(errs)}
}

func (self *Supervisor) connect(path string) error {
	port, err := self.opener.Open(path, self.config.Baud)
	if err != nil {
		return errors.Annotate(err, "reopen after probe")
	}
	if err = port.SetReadTimeout(self.config.PollInterval); err != nil {
		_ = port.Close()
		return errors.Annotatef(err, "set read timeout %s", path)
	}
	self.port = port
	self.idleTicks = 0
	self.session = 0
	self.lost = nil
	self.lines.Reset()
	self.setState(StateConnected, path)
	return nil
}

// serve reads until connection is lost. nil means shutdown.
func (self *Supervisor) serve(ctx context.Context) *ConnectionLost {
	path := self.lastPath()
	buf := make([]byte, uart.MaxLineLength)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-self.ackCh:
			self.handleAck(req)
		default:
		}
		if self.lost != nil {
			return self.lost
		}

		n, err := self.port.Read(buf)
		if err != nil {
			return &ConnectionLost{Path: path, Err: err}
		}
		if n == 0 {
			self.idleTicks++
			if self.idleTicks > self.config.SilenceTicks {
				return &ConnectionLost{Path: path, Silence: time.Duration(self.idleTicks) * self.config.PollInterval}
			}
			continue
		}
		self.idleTicks = 0
		for _, line := range self.lines.Feed(buf[:n]) {
			if !self.handleLine(ctx, line) {
				return nil
			}
			if self.lost != nil {
				return self.lost
			}
		}
	}
}

// handleLine returns false on shutdown.
func (self *Supervisor) handleLine(ctx context.Context, line string) bool {
	r, err := frame.Parse(line, time.Now())
	if err != nil {
		kind := frame.KindOf(err)
		if kind == frame.NotAFrame {
			self.log.Debugf("skip line=%q", line)
			return true
		}
		self.metrics.Rejection(kind.String())
		self.log.Infof("rejected line=%q err=%v", line, err)
		self.emit(Event{Kind: EventRejected, Path: self.lastPath(), Line: line, Err: err})
		return true
	}
	self.session++
	self.metrics.Reading(r.Temperature, r.Humidity)
	self.log.Infof("[reading %d] %s", self.session, r)
	return self.deliver(ctx, r)
}

// deliver blocks until reading is taken, still serving acks.
func (self *Supervisor) deliver(ctx context.Context, r frame.Reading) bool {
	for {
		select {
		case self.readings <- r:
			return true
		case req := <-self.ackCh:
			self.handleAck(req)
		case <-ctx.Done():
			return false
		}
	}
}

func (self *Supervisor) handleAck(req chan<- error) {
	if self.port == nil || self.lost != nil {
		req <- ErrNotConnected
		return
	}
	err := uart.WriteAck(self.port)
	self.metrics.Ack(err == nil)
	if err != nil {
		path := self.lastPath()
		self.lost = &ConnectionLost{Path: path, Err: errors.Annotate(err, "write ack")}
		req <- errors.Annotatef(err, "ack %s", path)
		return
	}
	self.log.Debugf("ack sent")
	req <- nil
}

// sleep answers acks with ErrNotConnected while waiting.
func (self *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	for {
		select {
		case <-tmr.C:
			return true
		case <-ctx.Done():
			return false
		case req := <-self.ackCh:
			req <- ErrNotConnected
		}
	}
}

func (self *Supervisor) closePort() {
	if self.port == nil {
		return
	}
	if err := self.port.Close(); err != nil {
		self.log.Error(errors.Annotatef(err, "close %s", self.lastPath()))
	}
	self.port = nil
}

func (self *Supervisor) lastPath() string {
	self.statusMu.Lock()
	defer self.statusMu.Unlock()
	return self.path
}

func (self *Supervisor) setState(s State, path string) {
	self.statusMu.Lock()
	if path != "" {
		self.path = path
	}
	prev := State(atomic.SwapInt32(&self.state, int32(s)))
	self.statusMu.Unlock()
	if prev == s && s != StateProbing {
		return
	}
	self.metrics.SetState(int(s))
	if err := self.led.Set(s == StateConnected); err != nil {
		self.log.Error(errors.Annotate(err, "status led"))
	}
	self.log.Debugf("state %s -> %s path=%s", prev, s, path)
	self.emit(Event{Kind: EventState, State: s, Path: path})
}

func (self *Supervisor) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case self.events <- e:
	default:
		atomic.AddUint64(&self.dropped, 1)
	}
}
