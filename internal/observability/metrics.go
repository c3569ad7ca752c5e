// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Collector metrics
	PagesFetched      *prometheus.CounterVec
	EventsAccepted    *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	EventsFiltered    *prometheus.CounterVec
	StopReasons       *prometheus.CounterVec
	FetchErrors       *prometheus.CounterVec

	// Latency metrics
	PageFetchLatency *prometheus.HistogramVec
	CollectDuration  *prometheus.HistogramVec

	// Report metrics
	ReportsGenerated *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec

	// Archive metrics
	EventsArchived prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "polypnl"
	}
	f := promauto.With(reg)

	return &Metrics{
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "pages_fetched_total",
			Help:      "Total number of activity pages fetched by pagination mode",
		}, []string{"mode"}),
		EventsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_accepted_total",
			Help:      "Total number of new events accepted into results",
		}, []string{"mode"}),
		DuplicatesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of records dropped as duplicates across pages",
		}, []string{"mode"}),
		EventsFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_filtered_total",
			Help:      "Total number of records outside the requested range or instrument filter",
		}, []string{"mode"}),
		StopReasons: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Total number of collection runs by stop reason",
		}, []string{"mode", "reason"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "fetch_errors_total",
			Help:      "Total number of page fetches that aborted a run, by error kind",
		}, []string{"kind"}),

		PageFetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "page_fetch_latency_seconds",
			Help:      "Latency of activity page fetches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		CollectDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "duration_seconds",
			Help:      "Duration of full collection runs",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),

		ReportsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Total number of reports generated by source",
		}, []string{"source"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome",
		}, []string{"outcome"}),

		EventsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "events_written_total",
			Help:      "Total number of events upserted into the archive",
		}),
	}
}

// RecordPage records one fetched page and its outcome counts.
func (m *Metrics) RecordPage(mode string, latency time.Duration, accepted, duplicates, filtered int) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(mode).Inc()
	m.PageFetchLatency.WithLabelValues(mode).Observe(latency.Seconds())
	m.EventsAccepted.WithLabelValues(mode).Add(float64(accepted))
	m.DuplicatesSkipped.WithLabelValues(mode).Add(float64(duplicates))
	m.EventsFiltered.WithLabelValues(mode).Add(float64(filtered))
}

// RecordRun records the end of a collection run.
func (m *Metrics) RecordRun(mode, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.StopReasons.WithLabelValues(mode, reason).Inc()
	m.CollectDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordFetchError records a page failure by kind ("fetch", "parse").
func (m *Metrics) RecordFetchError(kind string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(kind).Inc()
}

// RecordReport records a generated report by source.
func (m *Metrics) RecordReport(source string) {
	if m == nil {
		return
	}
	m.ReportsGenerated.WithLabelValues(source).Inc()
}

// RecordCacheLookup records a cache "hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordArchived adds n archived events.
func (m *Metrics) RecordArchived(n int) {
	if m == nil {
		return
	}
	m.EventsArchived.Add(float64(n))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
