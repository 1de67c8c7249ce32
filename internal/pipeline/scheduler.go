// Package pipeline fans frames out to a bounded worker pool, one processor at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/metrics"
	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
)

// ErrCancelled is returned when the run context ends before a processor finished every frame.
var ErrCancelled = errors.New("pipeline cancelled")

// StageProcess is the Event stage emitted for every finished frame.
const StageProcess = "process"

type Options struct {
	Workers int
	Log     hclog.Logger
	Sink    types.Sink
	Metrics *metrics.Recorder
}

// Scheduler runs one processor over a frame batch with a fixed number of workers.
type Scheduler struct {
	workers   int
	log       hclog.Logger
	sink      types.Sink
	metrics   *metrics.Recorder
	completed atomic.Int64
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Log == nil {
		opts.Log = hclog.NewNullLogger()
	}
	if opts.Sink == nil {
		opts.Sink = types.Discard
	}
	return &Scheduler{
		workers: opts.Workers,
		log:     opts.Log,
		sink:    opts.Sink,
		metrics: opts.Metrics,
	}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Completed returns how many frames of the current batch have finished. Safe from any goroutine.
func (s *Scheduler) Completed() int { return int(s.completed.Load()) }

// Run dispatches refs to the pool in order and waits for every dispatched frame.
// results[i] always belongs to refs[i]. Frame failures are recorded, never returned.
func (s *Scheduler) Run(ctx context.Context, store frames.Store, refs []types.FrameRef, proc processor.Processor, ref types.Embedding) ([]types.RunResult, error) {
	name := proc.Descriptor().Name
	s.completed.Store(0)
	results := make([]types.RunResult, len(refs))
	total := len(refs)

	taskChan := make(chan types.FrameTask, s.workers)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				// Each worker owns results[task.Position] exclusively.
				results[task.Position] = s.process(ctx, store, proc, name, task.Ref, ref)
				done := int(s.completed.Add(1))
				s.sink.Emit(types.Event{Stage: StageProcess, Processor: name, Completed: done, Total: total})
			}
		}()
	}

	dispatched := 0
dispatch:
	for i, r := range refs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case taskChan <- types.FrameTask{Position: i, Ref: r}:
			dispatched++
		}
	}
	close(taskChan)
	wg.Wait()

	if dispatched < total {
		for i := dispatched; i < total; i++ {
			results[i] = types.RunResult{Index: refs[i].Index, Outcome: types.Failed, Reason: "not dispatched"}
		}
		return results, fmt.Errorf("%w after %d of %d frames: %w", ErrCancelled, dispatched, total, ctx.Err())
	}
	return results, nil
}

// process loads, transforms and, when modified, saves one frame.
func (s *Scheduler) process(ctx context.Context, store frames.Store, proc processor.Processor, name string, fr types.FrameRef, ref types.Embedding) (res types.RunResult) {
	start := time.Now()
	s.metrics.FrameStarted()
	res.Index = fr.Index
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = types.Failed
			res.Reason = fmt.Sprintf("panic: %v", r)
			s.log.Error("processor panicked", "processor", name, "frame", fr.Index, "panic", r, "stack", string(debug.Stack()))
		}
		s.metrics.ObserveFrame(name, res.Outcome, time.Since(start))
	}()

	fail := func(err error) types.RunResult {
		s.log.Error("frame failed", "processor", name, "frame", fr.Index, "error", err)
		return types.RunResult{Index: fr.Index, Outcome: types.Failed, Reason: err.Error()}
	}

	frame, err := store.Load(ctx, fr)
	if err != nil {
		return fail(fmt.Errorf("load: %w", err))
	}
	outcome, err := proc.TransformFrame(ctx, ref, frame)
	if err != nil {
		return fail(err)
	}
	if frame.Modified {
		if err := store.Save(ctx, frame); err != nil {
			return fail(fmt.Errorf("save: %w", err))
		}
	}
	s.log.Trace("frame done", "processor", name, "frame", fr.Index, "outcome", outcome)
	return types.RunResult{Index: fr.Index, Outcome: outcome}
}
