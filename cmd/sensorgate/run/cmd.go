// Bridge readings from serial sensor to configured sink. Main mode for systemd service.
package run

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/sensorgate/cmd/sensorgate/subcmd"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/metric"
	"github.com/temoto/sensorgate/internal/state"
	"github.com/temoto/sensorgate/internal/supervisor"
)

var Mod = subcmd.Mod{Name: "run", Usage: "bridge sensor readings to sink (default)", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	if err := g.Init(ctx, cfg); err != nil {
		return errors.Annotate(err, "init")
	}
	defer func() {
		if err := g.Close(); err != nil {
			g.Log.Error(err)
		}
	}()
	if err := g.InitSink(ctx); err != nil {
		return err
	}
	if err := g.CheckSink(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go stopOnSignal(ctx, g, cancel)

	if cfg.Metrics.Listen != "" {
		srv := metricsServer(cfg.Metrics.Listen, g)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				g.Error(err, "metrics listen=%s", cfg.Metrics.Listen)
			}
		}()
		defer srv.Close()
	}

	go logEvents(g)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go watchdog(ctx, g, interval/2)
	}
	subcmd.SdNotify(g.Log, daemon.SdNotifyReady)
	g.Log.Infof("running, sink=%s", cfg.Sink.Kind)

	err := g.Bridge.Run(ctx)
	subcmd.SdNotify(g.Log, daemon.SdNotifyStopping)
	g.Log.Infof("stopped stats=%+v dropped_events=%d", g.Bridge.Stats(), g.Supervisor.DroppedEvents())
	return err
}

func stopOnSignal(ctx context.Context, g *state.Global, cancel func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case s := <-sigs:
		g.Log.Infof("signal=%v, stopping", s)
	case <-g.Alive.StopChan():
	case <-ctx.Done():
	}
	cancel()
}

func metricsServer(addr string, g *state.Global) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(g.Registry))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/live", g.Feed)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// logEvents ends when supervisor closes event channel.
func logEvents(g *state.Global) {
	for e := range g.Supervisor.Events() {
		switch e.Kind {
		case supervisor.EventState:
			subcmd.SdNotify(g.Log, fmt.Sprintf("STATUS=%s %s", e.State, e.Path))
		case supervisor.EventRejected, supervisor.EventProbe:
			g.Log.Debugf("event %s", e)
		default:
			g.Log.Infof("event %s", e)
		}
	}
}

func watchdog(ctx context.Context, g *state.Global, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			subcmd.SdNotify(g.Log, daemon.SdNotifyWatchdog)
		case <-ctx.Done():
			return
		}
	}
}
