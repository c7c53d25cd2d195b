// List serial port candidates in probe order.
package ports

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/cmd/sensorgate/subcmd"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/state"
)

var Mod = subcmd.Mod{Name: "ports", Usage: "list serial port candidates in probe order", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, cfg); err != nil {
		return errors.Annotate(err, "init")
	}
	defer g.Close()

	list, err := g.Hardware.Catalog.ListCandidates()
	if err != nil {
		return errors.Annotatef(err, "strategy=%s", g.Hardware.Catalog.StrategyName())
	}
	g.Log.Infof("strategy=%s candidates=%d", g.Hardware.Catalog.StrategyName(), len(list))
	for i, c := range list {
		fmt.Printf("%d\t%s\t%s\n", i+1, c.Path, c.Label)
	}
	return nil
}
