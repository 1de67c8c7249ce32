package processor

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds the single instance of a processor.
type Factory func(rc *RunContext) Processor

var builtin = map[string]Factory{
	SwapperName:      NewSwapper,
	DebugSwapperName: NewDebugSwapper,
	EnhancerName:     NewEnhancer,
}

// Known lists every registered processor name.
func Known() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the descriptor of a registered processor without touching any model.
func Describe(name string) (Descriptor, bool) {
	f, ok := builtin[name]
	if !ok {
		return Descriptor{}, false
	}
	return f(&RunContext{}).Descriptor(), true
}

// Registry holds the processor instances of this process and the ordered enabled list.
// The available set is fixed at construction; only the enabled list changes.
type Registry struct {
	rc        *RunContext
	factories map[string]Factory

	mu        sync.Mutex
	instances map[string]Processor
	enabled   []string
}

// NewRegistry enables names in order.
func NewRegistry(rc *RunContext, names []string) (*Registry, error) {
	return newRegistry(rc, builtin, names)
}

func newRegistry(rc *RunContext, factories map[string]Factory, names []string) (*Registry, error) {
	r := &Registry{
		rc:        rc,
		factories: factories,
		instances: make(map[string]Processor),
	}
	for _, name := range names {
		if err := r.SetEnabled(name, true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetEnabled appends name to the end of the chain, or removes it. Runs already dispatched
// keep the chain they snapshotted.
func (r *Registry) SetEnabled(name string, on bool) error {
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%w: %q (known: %v)", ErrUnknownProcessor, name, Known())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, n := range r.enabled {
		if n == name {
			idx = i
			break
		}
	}
	switch {
	case on && idx < 0:
		r.enabled = append(r.enabled, name)
	case !on && idx >= 0:
		r.enabled = append(r.enabled[:idx:idx], r.enabled[idx+1:]...)
	}
	return nil
}

// Enabled returns the enabled names in chain order.
func (r *Registry) Enabled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.enabled...)
}

// Snapshot returns the enabled processors in chain order, building each instance on first use.
func (r *Registry) Snapshot() []Processor {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := make([]Processor, 0, len(r.enabled))
	for _, name := range r.enabled {
		p, ok := r.instances[name]
		if !ok {
			p = r.factories[name](r.rc)
			r.instances[name] = p
		}
		chain = append(chain, p)
	}
	return chain
}
