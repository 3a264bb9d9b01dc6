package lens

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/highlight"
	"github.com/standardbeagle/errlens/internal/sourcemap"
)

// Metrics holds the engine's Prometheus collectors. Each engine owns its own
// registry so several engines can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	captured    *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	identified  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	resolveTime prometheus.Histogram
	discarded   prometheus.Counter
}

func newMetrics(registry *capture.Registry, highlights *highlight.Manager, resolver *sourcemap.Resolver) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		captured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errlens_errors_captured_total",
				Help: "Total number of error signals accepted by capture",
			},
			[]string{"kind"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errlens_errors_duplicate_total",
				Help: "Total number of accepted signals folded into an existing record",
			},
			[]string{"kind"},
		),
		identified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errlens_elements_identified_total",
				Help: "Total number of candidate elements found, by heuristic",
			},
			[]string{"heuristic"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errlens_resolutions_total",
				Help: "Total number of stack resolutions, by outcome",
			},
			[]string{"outcome"},
		),
		resolveTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "errlens_resolve_duration_seconds",
				Help:    "Time spent resolving one stack",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		discarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "errlens_resolutions_discarded_total",
				Help: "Total number of resolutions that finished after a reset",
			},
		),
	}

	m.registry.MustRegister(
		m.captured,
		m.duplicates,
		m.identified,
		m.resolutions,
		m.resolveTime,
		m.discarded,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "errlens_records", Help: "Number of distinct error records"},
			func() float64 { return float64(registry.Len()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "errlens_highlighted_elements", Help: "Number of highlighted elements"},
			func() float64 { return float64(highlights.Len()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "errlens_sourcemap_fetches_total", Help: "Total number of script and map fetch attempts"},
			func() float64 { return float64(resolver.Stats().Fetches) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "errlens_sourcemap_fetch_failures_total", Help: "Total number of fetches that failed after retries"},
			func() float64 { return float64(resolver.Stats().Failures) },
		),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
