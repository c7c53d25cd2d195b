// Package led drives optional status indicator, lit while device is connected.
package led

import (
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
	"github.com/temoto/sensorgate/helpers"
)

type Indicator interface {
	Set(on bool) error
	Close() error
}

// Null is Indicator when status_led is disabled.
type Null struct{}

func (Null) Set(bool) error { return nil }
func (Null) Close() error   { return nil }

// Lines is subset of gpio.Lineser.
type Lines interface {
	SetFunc(line uint32) gpio.LineSetFunc
	Flush() error
	Close() error
}

type GPIO struct {
	mu        sync.Mutex
	chip      io.Closer
	lines     Lines
	set       gpio.LineSetFunc
	activeLow bool
	on        bool
	known     bool
}

// Open requests output line on chip, e.g. "/dev/gpiochip0" line 17. LED starts off.
func Open(chipName string, line uint32, activeLow bool) (*GPIO, error) {
	chip, err := gpio.Open(chipName, "sensorgate")
	if err != nil {
		return nil, errors.Annotatef(err, "status led open chip=%s", chipName)
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "sensorgate-status", line)
	if err != nil {
		_ = chip.Close()
		return nil, errors.Annotatef(err, "status led open line=%d", line)
	}
	self := NewGPIO(chip, lines, line, activeLow)
	if err = self.Set(false); err != nil {
		_ = self.Close()
		return nil, errors.Trace(err)
	}
	return self, nil
}

// NewGPIO takes ownership of chip and lines. chip may be nil.
func NewGPIO(chip io.Closer, lines Lines, line uint32, activeLow bool) *GPIO {
	return &GPIO{
		chip:      chip,
		lines:     lines,
		set:       lines.SetFunc(line),
		activeLow: activeLow,
	}
}

// Set skips hardware write when state is unchanged.
func (self *GPIO) Set(on bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.known && self.on == on {
		return nil
	}
	var v byte
	if on != self.activeLow {
		v = 1
	}
	self.set(v)
	if err := self.lines.Flush(); err != nil {
		self.known = false
		return errors.Annotate(err, "status led flush")
	}
	self.on, self.known = on, true
	return nil
}

func (self *GPIO) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	errs := []error{self.lines.Close()}
	if self.chip != nil {
		errs = append(errs, self.chip.Close())
	}
	return helpers.FoldErrors(errs)
}
