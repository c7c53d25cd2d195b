// Probe every candidate and report which one speaks sensor frames.
package probe

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/cmd/sensorgate/subcmd"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/state"
	"github.com/temoto/sensorgate/internal/supervisor"
)

var Mod = subcmd.Mod{Name: "probe", Usage: "probe all candidates, report confirmed ports", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, cfg); err != nil {
		return errors.Annotate(err, "init")
	}
	defer g.Close()

	list, err := g.Hardware.Catalog.ListCandidates()
	if err != nil {
		return errors.Trace(err)
	}
	confirmed := 0
	for _, c := range list {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r := g.Hardware.Prober.Probe(ctx, c)
		g.Metrics.Probe(r.Confirmed)
		fmt.Println(r.String())
		if r.Confirmed {
			confirmed++
		}
	}
	if confirmed == 0 {
		return &supervisor.NoDeviceFound{
			Candidates: len(list),
			Err:        errors.Errorf("no frame within %s", g.Hardware.Prober.Config().Window),
		}
	}
	return nil
}
