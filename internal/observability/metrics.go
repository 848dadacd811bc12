// Package observability provides Prometheus metrics for the scanner.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "dexarb"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Scan loop
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LastCycleOK    prometheus.Gauge
	TokensScanned  *prometheus.CounterVec
	PoolsFetched   *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec
	DexDown        *prometheus.GaugeVec
	PairsEvaluated *prometheus.CounterVec

	// Decisions
	Opportunities *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	BestSpreadNet *prometheus.GaugeVec

	// Alerts
	AlertsSent       *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter

	// Storage
	StoreErrors *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycles_total",
			Help:      "Total number of scan cycles by status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycle_duration_seconds",
			Help:      "Scan cycle duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		LastCycleOK: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful scan cycle",
		}),
		TokensScanned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "tokens_scanned_total",
			Help:      "Tokens with at least two pools that were evaluated",
		}, []string{"chain"}),
		PoolsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pools_total",
			Help:      "Pools returned by each venue",
		}, []string{"chain", "dex"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Venue fetch failures after retries",
		}, []string{"dex"}),
		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Venue fetch latency in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dex"}),
		DexDown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "dex_down",
			Help:      "1 while a venue is marked down",
		}, []string{"dex"}),
		PairsEvaluated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "pairs_total",
			Help:      "Pool pairs run through the evaluator",
		}, []string{"chain"}),

		Opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "opportunities_total",
			Help:      "Opportunities clearing the net spread threshold",
		}, []string{"chain", "source"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "rejections_total",
			Help:      "Aggregated evaluations rejected, by kind",
		}, []string{"kind"}),
		BestSpreadNet: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "best_spread_net",
			Help:      "Best net spread seen in the last cycle, as a fraction",
		}, []string{"chain"}),

		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Alert deliveries by status",
		}, []string{"status"}),
		AlertsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Alerts suppressed by cooldowns",
		}),

		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Persistence failures by operation",
		}, []string{"operation"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records a finished scan cycle.
func (m *Metrics) RecordCycle(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(d.Seconds())
	if status == "success" {
		m.LastCycleOK.SetToCurrentTime()
	}
}

// RecordFetch records one venue fetch.
func (m *Metrics) RecordFetch(chain, dex string, pools int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchLatency.WithLabelValues(dex).Observe(d.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(dex).Inc()
		return
	}
	m.PoolsFetched.WithLabelValues(chain, dex).Add(float64(pools))
}

// SetDexDown flags a venue as down or up.
func (m *Metrics) SetDexDown(dex string, down bool) {
	if m == nil {
		return
	}
	v := 0.0
	if down {
		v = 1
	}
	m.DexDown.WithLabelValues(dex).Set(v)
}

// RecordToken counts an evaluated token and its pairs.
func (m *Metrics) RecordToken(chain string, pairs int) {
	if m == nil {
		return
	}
	m.TokensScanned.WithLabelValues(chain).Inc()
	m.PairsEvaluated.WithLabelValues(chain).Add(float64(pairs))
}

// RecordOpportunity counts an accepted opportunity.
func (m *Metrics) RecordOpportunity(chain, source string) {
	if m == nil {
		return
	}
	m.Opportunities.WithLabelValues(chain, source).Inc()
}

// RecordRejection counts an aggregated rejection.
func (m *Metrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(kind).Inc()
}

// SetBestSpread publishes the best net spread of the cycle.
func (m *Metrics) SetBestSpread(chain string, spread float64) {
	if m == nil {
		return
	}
	m.BestSpreadNet.WithLabelValues(chain).Set(spread)
}

// RecordAlert records a delivery attempt; suppressed alerts never reach a
// notifier.
func (m *Metrics) RecordAlert(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.AlertsSent.WithLabelValues(status).Inc()
}

// RecordSuppressed counts an alert blocked by a cooldown.
func (m *Metrics) RecordSuppressed() {
	if m == nil {
		return
	}
	m.AlertsSuppressed.Inc()
}

// RecordStoreError counts a persistence failure.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// Serve exposes the metrics on addr until ctx is done.
func Serve(ctx context.Context, addr, path string, m *Metrics, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log := logger.With().Str("component", "metrics").Logger()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Str("path", path).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
