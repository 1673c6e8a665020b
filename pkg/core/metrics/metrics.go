// Package metrics exposes Prometheus instrumentation for valuation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds the service metrics on a private Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	Runs         *prometheus.CounterVec
	RunErrors    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	MCFailedRuns *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_runs_total",
				Help: "Valuation requests by surface and outcome",
			},
			[]string{"surface", "status"},
		),
		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_errors_total",
				Help: "Failed valuation requests by error kind",
			},
			[]string{"kind"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuation_run_duration_seconds",
				Help:    "Wall time of a valuation request",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"surface"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_cache_hits_total",
				Help: "Result cache hits by backend",
			},
			[]string{"backend"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_cache_misses_total",
				Help: "Result cache misses by backend",
			},
			[]string{"backend"},
		),
		MCFailedRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_monte_carlo_failed_iterations_total",
				Help: "Monte Carlo iterations that failed, by method",
			},
			[]string{"method"},
		),
	}
	r.reg.MustRegister(
		r.Runs,
		r.RunErrors,
		r.RunDuration,
		r.CacheHits,
		r.CacheMisses,
		r.MCFailedRuns,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRun records one finished request. kind is empty on success.
func (r *Registry) ObserveRun(surface string, took time.Duration, kind string) {
	status := "ok"
	if kind != "" {
		status = "error"
		r.RunErrors.WithLabelValues(kind).Inc()
	}
	r.Runs.WithLabelValues(surface, status).Inc()
	r.RunDuration.WithLabelValues(surface).Observe(took.Seconds())
	log.Debug().
		Str("component", "metrics").
		Str("surface", surface).
		Str("status", status).
		Dur("took", took).
		Msg("Run observed")
}

// RecordCache records a cache lookup outcome
func (r *Registry) RecordCache(backend string, hit bool) {
	if hit {
		r.CacheHits.WithLabelValues(backend).Inc()
		return
	}
	r.CacheMisses.WithLabelValues(backend).Inc()
}

// RecordMonteCarloFailures adds failed iteration counts per method
func (r *Registry) RecordMonteCarloFailures(method string, failed int) {
	if failed > 0 {
		r.MCFailedRuns.WithLabelValues(method).Add(float64(failed))
	}
}
