package cmd

import (
	"context"

	"github.com/andresmejia3/facereel/internal/bridge"
	"github.com/andresmejia3/facereel/internal/engine"
	"github.com/andresmejia3/facereel/internal/media"
	"github.com/andresmejia3/facereel/internal/metrics"
	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// runtime owns the long-lived services of one invocation.
type runtime struct {
	client   *bridge.Client
	registry *processor.Registry
	runner   *engine.Runner
	stop     context.CancelFunc
}

// newRuntime starts the model bridge and builds a runner for the processors in names.
// Python workers are spawned lazily on the first model call.
func newRuntime(ctx context.Context, names []string, sink types.Sink) (*runtime, error) {
	pool := bridge.NewPool(cfg.Pipeline.Workers, bridge.WorkerOptions{
		Python:   cfg.Models.Python,
		Script:   cfg.Models.Script,
		ModelDir: cfg.Models.Dir,
		Backend:  cfg.Pipeline.ExecutionBackend,
	}, logger.Named("bridge"))
	client := bridge.NewClient(pool, logger.Named("bridge"))
	set := models.NewSet(client, cfg.Models.EnhancerMaxConcurrent)

	modelDir := ""
	if cfg.Models.Download {
		modelDir = cfg.Models.Dir
	}
	rc := &processor.RunContext{
		Settings: processor.Settings{
			Policy:       cfg.Pipeline.Policy(),
			Threshold:    cfg.Pipeline.DistanceThreshold,
			EnhanceScope: cfg.Pipeline.Scope(),
			ModelDir:     modelDir,
		},
		Models: set,
		Log:    logger,
	}
	registry, err := processor.NewRegistry(rc, names)
	if err != nil {
		client.Close()
		return nil, err
	}

	metricsCtx, stop := context.WithCancel(ctx)
	var recorder *metrics.Recorder
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		recorder = metrics.New(reg)
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, reg); err != nil {
				logger.Warn("metrics server stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	deps := engine.Deps{
		Config:   cfg,
		Registry: registry,
		Models:   set,
		Codec:    media.NewFFmpeg(cfg.Video.FFmpeg, cfg.Video.FFprobe, logger.Named("media")),
		Metrics:  recorder,
		Log:      logger.Named("engine"),
		Sink:     sink,
	}
	if DB != nil {
		deps.History = DB
	}

	return &runtime{
		client:   client,
		registry: registry,
		runner:   engine.NewRunner(deps),
		stop:     stop,
	}, nil
}

// Close stops every python worker and the metrics server.
func (r *runtime) Close() {
	r.stop()
	if err := r.client.Close(); err != nil {
		logger.Debug("bridge shutdown", "error", err)
	}
}
