// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder tracks frame outcomes and run durations. A nil Recorder records nothing.
type Recorder struct {
	frames      *prometheus.CounterVec
	frameTime   *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	inFlight    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facereel",
			Name:      "frames_total",
			Help:      "Frames processed, by processor and outcome.",
		}, []string{"processor", "outcome"}),
		frameTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "facereel",
			Name:      "frame_seconds",
			Help:      "Time spent transforming one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"processor"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facereel",
			Name:      "runs_total",
			Help:      "Conversion runs, by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "facereel",
			Name:      "run_seconds",
			Help:      "Wall time of a conversion run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "facereel",
			Name:      "frames_in_flight",
			Help:      "Frames currently held by workers.",
		}),
	}
	reg.MustRegister(r.frames, r.frameTime, r.runs, r.runDuration, r.inFlight)
	return r
}

// FrameStarted marks a frame as held by a worker.
func (r *Recorder) FrameStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// ObserveFrame records the outcome of one frame under one processor.
func (r *Recorder) ObserveFrame(processor string, outcome types.Outcome, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.inFlight.Dec()
	r.frames.WithLabelValues(processor, outcome.String()).Inc()
	r.frameTime.WithLabelValues(processor).Observe(elapsed.Seconds())
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// Serve exposes reg on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
