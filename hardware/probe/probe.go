// Package probe confirms that a serial candidate speaks the sensor protocol.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/hardware/catalog"
	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/log2"
)

const (
	DefaultSettle      = 2 * time.Second
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultWindow      = 5 * time.Second
)

type Config struct {
	Baud    int
	Charset string
	// Settle waits after open, boards reset on DTR and print bootloader noise.
	Settle      time.Duration
	ReadTimeout time.Duration
	Window      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Baud:        uart.DefaultBaud,
		Settle:      DefaultSettle,
		ReadTimeout: DefaultReadTimeout,
		Window:      DefaultWindow,
	}
}

// Timeout is ProbeTimeout: no line with frame prefix within window.
type Timeout struct {
	Path   string
	Window time.Duration
	Lines  int
}

func (self *Timeout) Error() string {
	return fmt.Sprintf("probe %s: no frame within %s (other lines=%d)", self.Path, self.Window, self.Lines)
}

func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(*Timeout)
	return ok
}

// IsOpenFailure reports DeviceOpenFailure.
func IsOpenFailure(err error) bool { return uart.IsOpenFailure(err) }

// Result of one probe. Unconfirmed result always has Reason.
type Result struct {
	Candidate catalog.Candidate
	Confirmed bool
	Reason    error
	Line      string
	Duration  time.Duration
}

func (r Result) String() string {
	if r.Confirmed {
		return fmt.Sprintf("%s confirmed line=%q (%s)", r.Candidate, r.Line, r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s unconfirmed: %v", r.Candidate, r.Reason)
}

type Prober struct {
	opener uart.Opener
	config Config
	log    *log2.Log
}

func New(opener uart.Opener, config Config, log *log2.Log) *Prober {
	if config.Baud <= 0 {
		config.Baud = uart.DefaultBaud
	}
	if config.Settle < 0 {
		config.Settle = 0
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	return &Prober{
		opener: opener,
		config: config,
		log:    log.Prefixed("probe: "),
	}
}

func (self *Prober) Config() Config { return self.config }

// Probe opens candidate, waits settle delay, discards stale input and listens
// for a line with frame prefix. The line need not parse.
// Handle is closed before return on every path.
func (self *Prober) Probe(ctx context.Context, c catalog.Candidate) Result {
	tbegin := time.Now()
	r := self.probe(ctx, c)
	r.Candidate = c
	r.Duration = time.Since(tbegin)
	if r.Confirmed {
		self.log.Infof("%s", r)
	} else {
		self.log.Debugf("%s", r)
	}
	return r
}

func (self *Prober) probe(ctx context.Context, c catalog.Candidate) Result {
	lr, err := uart.NewLineReader(self.config.Charset)
	if err != nil {
		return Result{Reason: errors.Trace(err)}
	}
	if err = ctx.Err(); err != nil {
		return Result{Reason: err}
	}

	port, err := self.opener.Open(c.Path, self.config.Baud)
	if err != nil {
		return Result{Reason: errors.Trace(err)}
	}
	defer func() {
		if err := port.Close(); err != nil {
			self.log.Errorf("close %s err=%v", c.Path, err)
		}
	}()

	if !helpers.SleepContext(ctx, self.config.Settle) {
		return Result{Reason: ctx.Err()}
	}
	if err = port.ResetInputBuffer(); err != nil {
		return Result{Reason: errors.Annotatef(err, "probe %s reset input", c.Path)}
	}
	if err = port.SetReadTimeout(self.config.ReadTimeout); err != nil {
		return Result{Reason: errors.Annotatef(err, "probe %s set read timeout", c.Path)}
	}

	buf := make([]byte, uart.MaxLineLength)
	other := 0
	deadline := time.Now().Add(self.config.Window)
	for time.Now().Before(deadline) {
		if err = ctx.Err(); err != nil {
			return Result{Reason: err}
		}
		n, err := port.Read(buf)
		if err != nil {
			return Result{Reason: errors.Annotatef(err, "probe %s read", c.Path)}
		}
		for _, line := range lr.Feed(buf[:n]) {
			if frame.HasPrefix(line) {
				return Result{Confirmed: true, Line: line}
			}
			other++
			self.log.Debugf("%s skip line=%q", c.Path, line)
		}
	}
	return Result{Reason: &Timeout{Path: c.Path, Window: self.config.Window, Lines: other}}
}
