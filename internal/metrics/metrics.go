// Package metrics exposes load run counters in the Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bank-fraud-etl/pkg/logger"
)

const namespace = "bank_etl"

// Row outcomes
const (
	OutcomeLoaded   = "loaded"
	OutcomeDropped  = "dropped"
	OutcomeSkipped  = "skipped"
	OutcomeExisting = "existing"
)

// Recorder holds the metrics of the pipeline on its own registry
type Recorder struct {
	registry      *prometheus.Registry
	rows          *prometheus.CounterVec
	batches       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// NewRecorder creates a Recorder with every metric registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows handled per stage and outcome",
		}, []string{"stage", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_committed_total",
			Help:      "Batches committed per stage",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stages that stopped with an error",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}

	r.registry.MustRegister(r.rows, r.batches, r.stageDuration, r.stageFailures, r.runs, r.lastSuccess)
	return r
}

// Registry returns the registry holding the pipeline metrics
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// AddRows counts n rows of stage with the given outcome
func (r *Recorder) AddRows(stage, outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rows.WithLabelValues(stage, outcome).Add(float64(n))
}

// AddBatches counts n committed batches of stage
func (r *Recorder) AddBatches(stage string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.batches.WithLabelValues(stage).Add(float64(n))
}

// ObserveStage records how long stage ran and whether it failed
func (r *Recorder) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		r.stageFailures.WithLabelValues(stage).Inc()
	}
}

// RunFinished records the outcome of a whole run
func (r *Recorder) RunFinished(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.runs.WithLabelValues("failed").Inc()
		return
	}
	r.runs.WithLabelValues("succeeded").Inc()
	r.lastSuccess.SetToCurrentTime()
}

// Handler serves the metrics of r
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, r *Recorder, log logger.Logger) error {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("metrics").WithField("addr", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down metrics server")
		return err
	}
	return nil
}
