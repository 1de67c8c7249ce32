package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
)

// DefaultMaxFailures caps the failure records kept per processor summary.
const DefaultMaxFailures = 20

// Releaser frees shared model resources between processors.
type Releaser interface {
	Release(ctx context.Context) error
}

// Pipeline runs a processor chain over a frame store with a full barrier between processors.
type Pipeline struct {
	sched       *Scheduler
	release     Releaser
	log         hclog.Logger
	MaxFailures int
}

func New(sched *Scheduler, release Releaser, log hclog.Logger) *Pipeline {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pipeline{sched: sched, release: release, log: log, MaxFailures: DefaultMaxFailures}
}

// Execute runs chain in order. Processor k+1 starts only after every frame of processor k
// finished. It stops early only on cancellation; frame failures end up in the summaries.
func (p *Pipeline) Execute(ctx context.Context, store frames.Store, chain []processor.Processor, ref types.Embedding) ([]types.BatchSummary, error) {
	refs, err := store.Refs()
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if err := frames.ValidateContiguous(refs); err != nil {
		return nil, err
	}

	summaries := make([]types.BatchSummary, 0, len(chain))
	for _, proc := range chain {
		name := proc.Descriptor().Name
		p.log.Info("processing frames", "processor", name, "frames", len(refs), "workers", p.sched.Workers())

		results, runErr := p.sched.Run(ctx, store, refs, proc, ref)
		sum := types.Summarize(name, results, p.MaxFailures)
		summaries = append(summaries, sum)
		p.barrier(name)

		if runErr != nil {
			return summaries, runErr
		}
		// Every frame was dispatched but the run was interrupted before the barrier.
		if ctx.Err() != nil {
			return summaries, fmt.Errorf("%w after %s: %w", ErrCancelled, name, ctx.Err())
		}
		if sum.Failed > 0 {
			p.log.Warn("processor finished with failed frames", "processor", name, "failed", sum.Failed, "total", sum.Total)
		} else {
			p.log.Info("processor finished", "processor", name, "succeeded", sum.Succeeded, "skipped", sum.Skipped)
		}
	}
	return summaries, nil
}

// barrier runs the release hook once every worker of a processor is done.
func (p *Pipeline) barrier(name string) {
	if p.release != nil {
		// The hook runs even when the run was cancelled.
		if err := p.release.Release(context.Background()); err != nil {
			p.log.Warn("release hook failed", "processor", name, "error", err)
		}
	}
	debug.FreeOSMemory()
}
