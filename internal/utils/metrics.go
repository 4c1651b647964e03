// internal/utils/metrics.go
package utils

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector collects play, compile and persistence metrics.
// The CLI records into it unconditionally; only `serve` exposes it.
type MetricsCollector struct {
	registry *prometheus.Registry

	turns        prometheus.Counter
	choices      *prometheus.CounterVec
	compiles     *prometheus.CounterVec
	compileTime  prometheus.Histogram
	saves        *prometheus.CounterVec
	restores     *prometheus.CounterVec
	recompiles   prometheus.Counter
	activePlays  prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector builds a collector on its own registry.
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calligrapher_turns_total",
			Help: "Text units produced by the narrative engine or plain-text interpreter.",
		}),
		choices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calligrapher_choices_total",
			Help: "Menu selections by kind (story, save, quit).",
		}, []string{"kind"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calligrapher_compiles_total",
			Help: "Compiler invocations by result.",
		}, []string{"result"}),
		compileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calligrapher_compile_duration_seconds",
			Help:    "Wall time of compiler invocations.",
			Buckets: prometheus.DefBuckets,
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calligrapher_saves_total",
			Help: "Save attempts by result.",
		}, []string{"result"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calligrapher_restores_total",
			Help: "Restore attempts by result.",
		}, []string{"result"}),
		recompiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calligrapher_watch_recompiles_total",
			Help: "Recompiles triggered by watch mode.",
		}),
		activePlays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calligrapher_active_sessions",
			Help: "Playthroughs currently open.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calligrapher_http_requests_total",
			Help: "Preview server requests.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.turns, m.choices, m.compiles, m.compileTime, m.saves,
		m.restores, m.recompiles, m.activePlays, m.httpRequests,
	)
	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *MetricsCollector) RecordTurn() { m.turns.Inc() }

// RecordChoice kind is one of "story", "save", "quit".
func (m *MetricsCollector) RecordChoice(kind string) { m.choices.WithLabelValues(kind).Inc() }

func (m *MetricsCollector) RecordCompile(duration time.Duration, err error) {
	m.compiles.WithLabelValues(resultLabel(err)).Inc()
	m.compileTime.Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordSave(err error)    { m.saves.WithLabelValues(resultLabel(err)).Inc() }
func (m *MetricsCollector) RecordRestore(err error) { m.restores.WithLabelValues(resultLabel(err)).Inc() }
func (m *MetricsCollector) RecordRecompile()        { m.recompiles.Inc() }
func (m *MetricsCollector) SessionOpened()          { m.activePlays.Inc() }
func (m *MetricsCollector) SessionClosed()          { m.activePlays.Dec() }

func (m *MetricsCollector) RecordHTTPRequest(method, route, status string) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Registry exposes the underlying registry (tests gather from it).
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
