// Package metrics exposes scheduler and dispatch counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idlesched/internal/task/engine"
	"idlesched/internal/task/scheduler"
)

const namespace = "idlesched"

// Metrics implements scheduler.Observer on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	deferred    *prometheus.CounterVec
	discarded   *prometheus.CounterVec
	timers      prometheus.Gauge
}

var _ scheduler.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Handler callback invocations by trigger and outcome.",
		}, []string{"handler", "trigger", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler callback run time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"handler"}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_deferred_total",
			Help:      "Periodic fires deferred because the user was not idle long enough.",
		}, []string{"handler"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_discarded_total",
			Help:      "Idle waits that expired with the user still active.",
		}, []string{"handler"}),
		timers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_timers",
			Help:      "Timers currently armed.",
		}),
	}
	m.reg.MustRegister(
		m.invocations, m.duration, m.deferred, m.discarded, m.timers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) HandlerInvoked(r scheduler.Run) {
	outcome := "ok"
	if r.Error != "" {
		outcome = "error"
	}
	m.invocations.WithLabelValues(r.Handler, string(r.Trigger), outcome).Inc()
	m.duration.WithLabelValues(r.Handler).Observe(r.Duration.Seconds())
}

func (m *Metrics) HandlerDeferred(id string)  { m.deferred.WithLabelValues(id).Inc() }
func (m *Metrics) HandlerDiscarded(id string) { m.discarded.WithLabelValues(id).Inc() }
func (m *Metrics) TimersArmed(n int)          { m.timers.Set(float64(n)) }

// WatchDispatch exports dispatch queue gauges read from snap at scrape time.
func (m *Metrics) WatchDispatch(snap func() engine.Snapshot) {
	gauge := func(name, help string, f func(engine.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(snap()) })
	}
	counter := func(name, help string, f func(engine.Snapshot) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(snap()) })
	}
	m.reg.MustRegister(
		gauge("queue_length", "Invocations waiting for the dispatch worker.", func(s engine.Snapshot) float64 { return float64(s.QueueLen) }),
		counter("dropped_total", "Invocations dropped because the queue was full.", func(s engine.Snapshot) float64 { return float64(s.Dropped) }),
		counter("executed_total", "Tasks executed by the dispatch worker.", func(s engine.Snapshot) float64 { return float64(s.Executed) }),
	)
}
