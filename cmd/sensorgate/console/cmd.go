// Interactive serial monitor: discovery, live readings, manual ACK.
package console

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/cmd/sensorgate/subcmd"
	"github.com/temoto/sensorgate/helpers/cli"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/state"
	"github.com/temoto/sensorgate/internal/supervisor"
)

const modName = "console"

const usage = `commands:
- state     connection state and port
- ack       send ACK to device
- auto=yes  ACK every reading
- auto=no   stop automatic ACK
- quiet     hide readings
- verbose   show readings and events
- help      this text
`

var Mod = subcmd.Mod{Name: modName, Usage: "interactive monitor with manual ACK", Main: Main}

type console struct {
	g       *state.Global
	ctx     context.Context
	autoAck uint32
	quiet   uint32
}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, cfg); err != nil {
		return errors.Annotate(err, "init")
	}
	defer g.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errch := make(chan error, 1)
	go func() { errch <- g.Supervisor.Run(ctx) }()

	c := &console{g: g, ctx: ctx}
	go c.printReadings()
	go c.printEvents()

	cli.MainLoop("sensorgate", g.Log, cancel, c.exec, c.complete)
	cancel()
	select {
	case err := <-errch:
		return err
	case <-time.After(5 * time.Second):
		return errors.Timeoutf("supervisor stop")
	}
}

func (c *console) exec(line string) {
	switch strings.TrimSpace(line) {
	case "":
	case "help", "?":
		fmt.Print(usage)
	case "state":
		s, path := c.g.Supervisor.Status()
		fmt.Printf("state=%s port=%s dropped_events=%d\n", s, path, c.g.Supervisor.DroppedEvents())
	case "ack":
		if err := c.g.Supervisor.Acknowledge(c.ctx); err != nil {
			fmt.Printf("ack: %v\n", err)
		} else {
			fmt.Println("ack sent")
		}
	case "auto=yes":
		atomic.StoreUint32(&c.autoAck, 1)
	case "auto=no":
		atomic.StoreUint32(&c.autoAck, 0)
	case "quiet":
		atomic.StoreUint32(&c.quiet, 1)
	case "verbose":
		atomic.StoreUint32(&c.quiet, 0)
	default:
		fmt.Printf("unknown command=%q, try help\n", line)
	}
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "state", Description: "connection state"},
		{Text: "ack", Description: "send ACK"},
		{Text: "auto=yes", Description: "ACK every reading"},
		{Text: "auto=no", Description: "manual ACK"},
		{Text: "quiet", Description: "hide readings"},
		{Text: "verbose", Description: "show readings"},
		{Text: "help"},
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

// printReadings must keep draining, supervisor delivery blocks otherwise.
func (c *console) printReadings() {
	for r := range c.g.Supervisor.Readings() {
		if atomic.LoadUint32(&c.quiet) == 0 {
			fmt.Printf("reading %s at %s\n", r, r.ObservedAt.Format(time.RFC3339))
		}
		if atomic.LoadUint32(&c.autoAck) == 1 {
			if err := c.g.Supervisor.Acknowledge(c.ctx); err != nil {
				fmt.Printf("auto ack: %v\n", err)
			}
		}
	}
}

func (c *console) printEvents() {
	for e := range c.g.Supervisor.Events() {
		if e.Kind == supervisor.EventRejected && atomic.LoadUint32(&c.quiet) == 1 {
			continue
		}
		fmt.Printf("event %s\n", e)
	}
}
