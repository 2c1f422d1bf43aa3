// Package metrics exposes per-run monitor counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoqc/internal/logging"
	"autoqc/internal/store"
)

// Recorder collects monitor metrics on its own registry.
type Recorder struct {
	registry  *prometheus.Registry
	verdicts  *prometheus.CounterVec
	stages    *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	remaining prometheus.Gauge
	watches   prometheus.Counter
}

// New registers the autoqc collectors with constant run labels.
func New(instrumentID, runID string) *Recorder {
	labels := prometheus.Labels{"instrument_id": instrumentID, "run_id": runID}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "autoqc",
			Name:        "sample_verdicts_total",
			Help:        "Samples classified, by QC result.",
			ConstLabels: labels,
		}, []string{"result"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "autoqc",
			Name:        "pipeline_stage_seconds",
			Help:        "Wall time of external pipeline stages.",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "autoqc",
			Name:        "pipeline_stage_failures_total",
			Help:        "External stage invocations that failed or timed out.",
			ConstLabels: labels,
		}, []string{"stage"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "autoqc",
			Name:        "samples_remaining",
			Help:        "Expected samples still without a verdict.",
			ConstLabels: labels,
		}),
		watches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "autoqc",
			Name:        "watches_abandoned_total",
			Help:        "Completion watches abandoned after an I/O error.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.verdicts, r.stages, r.failures, r.remaining, r.watches)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveVerdict counts a stored verdict.
func (r *Recorder) ObserveVerdict(result store.Result) {
	if r == nil {
		return
	}
	r.verdicts.WithLabelValues(string(result)).Inc()
}

// ObserveStage records a pipeline stage duration. It matches pipeline.Observer.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		r.failures.WithLabelValues(stage).Inc()
	}
}

// SetRemaining updates the remaining-sample gauge.
func (r *Recorder) SetRemaining(n int) {
	if r == nil {
		return
	}
	r.remaining.Set(float64(n))
}

// WatchAbandoned counts an abandoned completion watch.
func (r *Recorder) WatchAbandoned() {
	if r == nil {
		return
	}
	r.watches.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// returns immediately.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logging.NewComponentLogger(logger, "metrics").Info("metrics endpoint listening",
		logging.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
