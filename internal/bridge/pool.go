package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("worker pool closed")

type spawnFunc func(ctx context.Context, id int) (*PythonWorker, error)

// Pool hands out at most Size python workers, spawning them on first demand.
type Pool struct {
	size  int
	spawn spawnFunc
	log   hclog.Logger

	idle chan *PythonWorker

	mu      sync.Mutex
	live    map[int]*PythonWorker
	nextID  int
	closed  bool
	freed   chan struct{}
	spawned int
}

// NewPool builds a pool of size workers launched with opts.
func NewPool(size int, opts WorkerOptions, log hclog.Logger) *Pool {
	return newPool(size, func(ctx context.Context, id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, opts)
	}, log)
}

func newPool(size int, spawn spawnFunc, log hclog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pool{
		size:  size,
		spawn: spawn,
		log:   log,
		idle:  make(chan *PythonWorker, size),
		live:  make(map[int]*PythonWorker),
		freed: make(chan struct{}, size),
	}
}

// Acquire returns an idle worker, spawns one if under capacity, or waits.
func (p *Pool) Acquire(ctx context.Context) (*PythonWorker, error) {
	for {
		select {
		case w := <-p.idle:
			return w, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.spawned < p.size {
			p.spawned++
			p.nextID++
			id := p.nextID
			p.mu.Unlock()

			w, err := p.spawn(ctx, id)
			if err != nil {
				p.mu.Lock()
				p.spawned--
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.live[id] = w
			p.mu.Unlock()
			p.log.Debug("spawned python worker", "id", id)
			return w, nil
		}
		p.mu.Unlock()

		select {
		case w := <-p.idle:
			return w, nil
		case <-p.freed:
			// A broken worker was retired; retry the spawn path.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns w to the pool, retiring it if its pipes failed.
func (p *Pool) Release(w *PythonWorker) {
	if w == nil {
		return
	}
	if w.Broken() {
		p.retire(w)
		return
	}
	// The check and the send happen under one lock so Close never drains idle in between.
	// idle holds size workers, so the send never blocks.
	p.mu.Lock()
	if !p.closed {
		p.idle <- w
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	w.Close()
}

func (p *Pool) retire(w *PythonWorker) {
	p.log.Warn("retiring crashed python worker", "id", w.ID)
	w.Close()
	p.mu.Lock()
	delete(p.live, w.ID)
	p.spawned--
	p.mu.Unlock()
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Each runs fn on every live worker. Callers use it between processors, when no worker is busy.
func (p *Pool) Each(fn func(*PythonWorker) error) error {
	p.mu.Lock()
	workers := make([]*PythonWorker, 0, len(p.live))
	for _, w := range p.live {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops every idle worker. Workers still out are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case w := <-p.idle:
			if err := w.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}
