// Package metrics exposes Prometheus metrics for quote fetching, runs,
// gating and notification delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "stock-alert/internal/errors"
)

// Registry holds all metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	FetchDuration *prometheus.HistogramVec
	FetchTotal    *prometheus.CounterVec

	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	ActiveRuns   prometheus.Gauge
	SymbolsTotal *prometheus.CounterVec

	GateDecisions *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// NewRegistry creates and registers every metric.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockalert_fetch_duration_seconds",
				Help:    "Duration of quote fetches by provider and result",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"provider", "result"},
		),
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_fetch_total",
				Help: "Total number of quote fetches by provider and result",
			},
			[]string{"provider", "result"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_runs_total",
				Help: "Total number of bulk runs by final status code",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockalert_run_duration_seconds",
				Help:    "Duration of bulk runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockalert_active_runs",
				Help: "1 while a bulk run is in progress",
			},
		),
		SymbolsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_symbols_processed_total",
				Help: "Symbols processed by update mode and status code",
			},
			[]string{"mode", "status"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_gate_decisions_total",
				Help: "Notification gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockalert_notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.FetchDuration, r.FetchTotal,
		r.RunsTotal, r.RunDuration, r.ActiveRuns, r.SymbolsTotal,
		r.GateDecisions, r.Notifications,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the metrics in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveFetch records a gateway fetch.
func (r *Registry) ObserveFetch(provider string, kind apperrors.FailureKind, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = kind.String()
	}
	r.FetchDuration.WithLabelValues(provider, result).Observe(d.Seconds())
	r.FetchTotal.WithLabelValues(provider, result).Inc()
}

// RunStarted marks a bulk run as active.
func (r *Registry) RunStarted() {
	r.ActiveRuns.Set(1)
}

// RunFinished records a completed bulk run.
func (r *Registry) RunFinished(status string, d time.Duration) {
	r.ActiveRuns.Set(0)
	r.RunsTotal.WithLabelValues(status).Inc()
	r.RunDuration.Observe(d.Seconds())
}

// SymbolProcessed records the outcome of one symbol update.
func (r *Registry) SymbolProcessed(mode, status string) {
	r.SymbolsTotal.WithLabelValues(mode, status).Inc()
}

// GateDecision records an allow or a rejection reason.
func (r *Registry) GateDecision(outcome string) {
	r.GateDecisions.WithLabelValues(outcome).Inc()
}

// NotificationSent records a delivery attempt.
func (r *Registry) NotificationSent(err error) {
	if err != nil {
		r.Notifications.WithLabelValues("failed").Inc()
		return
	}
	r.Notifications.WithLabelValues("delivered").Inc()
}
