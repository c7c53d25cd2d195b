package state

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/internal/bridge"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/feed"
	"github.com/temoto/sensorgate/internal/metric"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/internal/sink/firebase"
	"github.com/temoto/sensorgate/internal/sink/mqtt"
	"github.com/temoto/sensorgate/internal/supervisor"
	"github.com/temoto/sensorgate/log2"
)

// Global holds process-wide components, wired once by Init.
type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *config.Config
	Feed         *feed.Feed
	Hardware     hardware // hardware.go
	Log          *log2.Log
	Metrics      *metric.Metrics
	Registry     *prometheus.Registry
	Sink         sink.Sink
	Supervisor   *supervisor.Supervisor
	Bridge       *bridge.Bridge
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.WithValue(context.Background(), ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init wires metrics and serial hardware. Sink is separate, see InitSink.
// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *config.Config) error {
	g.Config = cfg
	if cfg.Log.Debug {
		g.Log.SetLevel(log2.LDebug)
	}
	g.Log.Infof("build version=%s", g.BuildVersion)

	if g.Registry == nil {
		g.Registry = prometheus.NewRegistry()
		if err := g.Registry.Register(collectors.NewGoCollector()); err != nil {
			return errors.Annotate(err, "metrics")
		}
	}
	m, err := metric.New(g.Registry)
	if err != nil {
		return errors.Annotate(err, "metrics")
	}
	g.Metrics = m

	if err := g.initHardware(); err != nil {
		return errors.Annotate(err, "hardware")
	}

	g.Supervisor = supervisor.New(cfg.SupervisorConfig(), g.Hardware.Catalog, g.Hardware.Prober, g.Hardware.Opener, g.Log)
	g.Supervisor.SetIndicator(g.Hardware.Indicator)
	g.Supervisor.SetMetrics(g.Metrics)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *config.Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

// InitSink creates configured sink unless one is already set, then wires Bridge and live Feed.
func (g *Global) InitSink(ctx context.Context) error {
	if g.Sink == nil {
		s, err := g.newSink()
		if err != nil {
			return errors.Annotatef(err, "sink kind=%s", g.Config.Sink.Kind)
		}
		g.Sink = s
	}
	g.Bridge = bridge.New(g.Config.BridgeConfig(), g.Supervisor, g.Sink, g.Log)
	g.Bridge.SetMetrics(g.Metrics)
	g.Feed = feed.New(g.Config.Sink.Sensor, g.Log)
	g.Bridge.SetPublisher(g.Feed)
	return nil
}

func (g *Global) newSink() (sink.Sink, error) {
	switch g.Config.Sink.Kind {
	case config.SinkFirebase:
		return firebase.New(g.Config.FirebaseConfig(), nil, g.Log)
	case config.SinkMQTT:
		return mqtt.New(g.Config.MQTTConfig(), g.Log)
	}
	return nil, errors.NotSupportedf("sink kind=%s", g.Config.Sink.Kind)
}

// CheckSink runs startup connectivity test, failure here should abort the process.
func (g *Global) CheckSink(ctx context.Context) error {
	err := g.Sink.Check(ctx)
	g.Metrics.SinkCheck(err == nil)
	if err != nil {
		return errors.Annotatef(err, "sink check (%s)", sink.KindOf(err))
	}
	g.Log.Infof("sink check ok")
	return nil
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases sink and hardware, safe to call after partial Init.
func (g *Global) Close() error {
	errs := make([]error, 0, 2)
	if g.Feed != nil {
		g.Feed.Close()
	}
	if g.Sink != nil {
		if err := g.Sink.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "sink close"))
		}
	}
	if i := g.Hardware.Indicator; i != nil {
		if err := i.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "status led close"))
		}
	}
	return helpers.FoldErrors(errs)
}
