// Package models declares the external model services the pipeline consumes and the
// shared handles that guard them during a run.
package models

import (
	"context"
	"image"
	"sync"

	"github.com/andresmejia3/facereel/internal/types"
	"golang.org/x/sync/semaphore"
)

// Detector finds faces and their embeddings in a raster image.
type Detector interface {
	Detect(ctx context.Context, img *image.NRGBA) ([]types.FaceCandidate, error)
}

// Swapper composites the source face onto the target region of frame and returns the result.
type Swapper interface {
	Swap(ctx context.Context, source types.SourceFace, target types.BoundingBox, frame *image.NRGBA) (*image.NRGBA, error)
}

// Enhancer improves the fidelity of a region image.
type Enhancer interface {
	Enhance(ctx context.Context, region *image.NRGBA) (*image.NRGBA, error)
}

// Classifier flags content that must not be processed.
type Classifier interface {
	IsUnsafe(ctx context.Context, img *image.NRGBA) (bool, error)
}

// Provider builds model services. Each method is called at most once per run through a Lazy handle.
type Provider interface {
	Detector(ctx context.Context) (Detector, error)
	Swapper(ctx context.Context) (Swapper, error)
	Enhancer(ctx context.Context) (Enhancer, error)
	Classifier(ctx context.Context) (Classifier, error)
	// Release frees accelerator memory held by the services. Called at every processor barrier.
	Release(ctx context.Context) error
}

// Lazy is a once-initialized handle. The first successful Get stores the value;
// a failed build is retried by the next caller.
type Lazy[T any] struct {
	mu    sync.Mutex
	build func(context.Context) (T, error)
	val   T
	ok    bool
}

// NewLazy wraps a constructor.
func NewLazy[T any](build func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// Get returns the shared value, constructing it on first use.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ok {
		return l.val, nil
	}
	v, err := l.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.val, l.ok = v, true
	return v, nil
}

// Built reports whether the handle has been constructed.
func (l *Lazy[T]) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ok
}

// Gate limits concurrent calls into a model that is not safe for concurrent inference,
// independent of the worker count. A nil Gate admits everyone.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a gate admitting n concurrent callers. n < 1 disables gating.
func NewGate(n int) *Gate {
	if n < 1 {
		return nil
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs fn while holding one slot.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if g == nil {
		return fn()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// Set holds the run's lazily constructed model handles, one per model kind.
type Set struct {
	provider   Provider
	Detector   *Lazy[Detector]
	Swapper    *Lazy[Swapper]
	Enhancer   *Lazy[Enhancer]
	Classifier *Lazy[Classifier]
	// EnhancerGate bounds concurrent enhancement calls.
	EnhancerGate *Gate
}

// NewSet wires lazy handles to the provider.
func NewSet(p Provider, enhancerConcurrency int) *Set {
	return &Set{
		provider:     p,
		Detector:     NewLazy(p.Detector),
		Swapper:      NewLazy(p.Swapper),
		Enhancer:     NewLazy(p.Enhancer),
		Classifier:   NewLazy(p.Classifier),
		EnhancerGate: NewGate(enhancerConcurrency),
	}
}

// Release forwards the barrier hook to the provider.
func (s *Set) Release(ctx context.Context) error {
	return s.provider.Release(ctx)
}
