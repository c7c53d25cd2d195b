package state

import (
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/hardware/catalog"
	"github.com/temoto/sensorgate/hardware/led"
	"github.com/temoto/sensorgate/hardware/probe"
	"github.com/temoto/sensorgate/hardware/uart"
)

type hardware struct {
	Opener    uart.Opener
	Strategy  catalog.Strategy
	Catalog   *catalog.Catalog
	Prober    *probe.Prober
	Indicator led.Indicator
}

// initHardware keeps components set before Init, tests use that to inject mocks.
func (g *Global) initHardware() error {
	x := &g.Hardware // short alias
	cfg := &g.Config.Serial

	if x.Opener == nil {
		o, err := uart.NewOpener(cfg.Driver)
		if err != nil {
			return errors.Annotatef(err, "config: serial.driver=%s", cfg.Driver)
		}
		x.Opener = o
	}
	if x.Strategy == nil {
		s, err := catalog.NewStrategy(cfg.Strategy, cfg.Globs, cfg.Ports)
		if err != nil {
			return errors.Annotatef(err, "config: serial.strategy=%s", cfg.Strategy)
		}
		x.Strategy = s
	}
	checker := catalog.Checker{Opener: x.Opener, Baud: cfg.Baud}
	x.Catalog = catalog.New(x.Strategy, checker, cfg.Hints, g.Log)
	x.Prober = probe.New(x.Opener, g.Config.ProbeConfig(), g.Log)

	if x.Indicator == nil {
		x.Indicator = g.statusLED()
	}
	return nil
}

// statusLED failure is not fatal, the bridge works without it.
func (g *Global) statusLED() led.Indicator {
	cfg := &g.Config.Serial.StatusLED
	if !cfg.Enable {
		return led.Null{}
	}
	l, err := led.Open(cfg.Chip, uint32(cfg.Line), cfg.ActiveLow)
	if err != nil {
		g.Error(err, "status_led chip=%s line=%d", cfg.Chip, cfg.Line)
		return led.Null{}
	}
	return l
}
