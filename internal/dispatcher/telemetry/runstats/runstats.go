// Package runstats provides opt-in Prometheus telemetry for dispatch runs.
// When disabled, all public functions are no-ops and add no overhead to the
// dispatch hot path.
package runstats

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulkpay/internal/dispatcher/core"
)

// Config controls the runstats module.
//
// MetricsAddr, when non-empty, starts a dedicated HTTP server serving
// /metrics. If the process already exposes Prometheus elsewhere, leave it
// empty and register promhttp there instead.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090"; empty disables the standalone endpoint
}

var (
	modEnabled atomic.Bool

	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkpay_transfers_total",
		Help: "Total transfer attempts by result",
	}, []string{"result"})
	transferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkpay_transfer_duration_seconds",
		Help:    "Distribution of per-transfer round-trip time",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	progressBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkpay_progress_batch_size",
		Help:    "Distribution of outcomes per emitted progress batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
	restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bulkpay_connector_restarts_total",
		Help: "Total maintenance restarts requested from the connector",
	})
	activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bulkpay_active_workers",
		Help: "Current number of in-flight transfer calls",
	})
)

// Enable turns the module on or off and, when configured, starts the
// standalone metrics endpoint. Safe to call once at startup.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if !cfg.Enabled {
		return
	}
	prometheus.MustRegister(transfersTotal, transferDuration, progressBatchSize, restartsTotal, activeWorkers)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{
				Addr:        cfg.MetricsAddr,
				Handler:     mux,
				ReadTimeout: 5 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("ERROR: runstats metrics server: %v\n", err)
			}
		}()
	}
}

// ObserveBatch records an emitted progress batch and its outcomes.
func ObserveBatch(outcomes []core.TransferOutcome) {
	if !modEnabled.Load() {
		return
	}
	progressBatchSize.Observe(float64(len(outcomes)))
	for _, o := range outcomes {
		result := "failure"
		if o.Succeeded {
			result = "success"
		}
		transfersTotal.WithLabelValues(result).Inc()
		transferDuration.Observe(float64(o.DurationMillis) / 1000.0)
	}
}

// RecordRestart counts one requested maintenance restart.
func RecordRestart() {
	if !modEnabled.Load() {
		return
	}
	restartsTotal.Inc()
}

// SetActiveWorkers tracks the in-flight transfer count.
func SetActiveWorkers(n int) {
	if !modEnabled.Load() {
		return
	}
	activeWorkers.Set(float64(n))
}
