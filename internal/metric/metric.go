// Package metric holds prometheus collectors of the bridge.
// nil *Metrics is valid and records nothing.
package metric

import (
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensorgate"

type Metrics struct {
	state       prometheus.Gauge
	readings    prometheus.Counter
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	rejections  *prometheus.CounterVec // kind
	reconnects  *prometheus.CounterVec // reason
	probes      *prometheus.CounterVec // result
	uploads     *prometheus.CounterVec // result
	uploadTime  prometheus.Histogram
	inflight    prometheus.Gauge
	acks        *prometheus.CounterVec // result
	sinkChecks  *prometheus.CounterVec // result
}

// New creates and registers collectors. nil registry disables metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "serial", Name: "state",
			Help: "Connection state: 0=disconnected 1=discovering 2=probing 3=connected 4=reconnecting 5=stopped",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "readings_total",
			Help: "Valid readings parsed from device",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sensor", Name: "temperature_celsius",
			Help: "Last valid temperature",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sensor", Name: "humidity_percent",
			Help: "Last valid relative humidity",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "rejections_total",
			Help: "Lines with frame prefix rejected by parser",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "reconnects_total",
			Help: "Transitions to reconnecting",
		}, []string{"reason"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "probes_total",
			Help: "Device probe outcomes",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "uploads_total",
			Help: "Upload outcomes by failure kind, ok on success",
		}, []string{"result"}),
		uploadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sink", Name: "upload_seconds",
			Help:    "Upload duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sink", Name: "inflight",
			Help: "Uploads in progress",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "acks_total",
			Help: "Acknowledgements written to device",
		}, []string{"result"}),
		sinkChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "checks_total",
			Help: "Sink health checks",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{
		m.state, m.readings, m.temperature, m.humidity, m.rejections, m.reconnects,
		m.probes, m.uploads, m.uploadTime, m.inflight, m.acks, m.sinkChecks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "metric register")
		}
	}
	return m, nil
}

// Handler serves gatherer in text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

func (m *Metrics) Reading(temperature, humidity float64) {
	if m == nil {
		return
	}
	m.readings.Inc()
	m.temperature.Set(temperature)
	m.humidity.Set(humidity)
}

func (m *Metrics) Rejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Probe(confirmed bool) {
	if m == nil {
		return
	}
	r := "unconfirmed"
	if confirmed {
		r = "confirmed"
	}
	m.probes.WithLabelValues(r).Inc()
}

// UploadBegin returns function to call with outcome label when upload ends.
func (m *Metrics) UploadBegin() func(result string) {
	if m == nil {
		return func(string) {}
	}
	m.inflight.Inc()
	tbegin := time.Now()
	return func(result string) {
		m.inflight.Dec()
		m.uploadTime.Observe(time.Since(tbegin).Seconds())
		m.uploads.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Ack(ok bool) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SinkCheck(ok bool) {
	if m == nil {
		return
	}
	m.sinkChecks.WithLabelValues(result(ok)).Inc()
}
