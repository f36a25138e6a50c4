package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/anserhq/anser/graph"
)

// Func executes one task against the shared board. Implementations must honor
// ctx cancellation and report failures through the NodeResult, never by
// panicking; the scheduler converts a panic into a failed result regardless.
type Func func(ctx context.Context, task *Task, board *Blackboard) graph.NodeResult

// Registry maps agent kinds to their implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[Kind]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[Kind]Func)}
}

// Register binds a kind to its function. Registering the same kind twice is
// an error; replace on purpose with Replace.
func (r *Registry) Register(kind Kind, fn Func) error {
	if fn == nil {
		return fmt.Errorf("agent: nil function for kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[kind]; exists {
		return fmt.Errorf("agent: kind %q already registered", kind)
	}
	r.funcs[kind] = fn
	return nil
}

// Replace binds a kind unconditionally. Meant for tests and overrides.
func (r *Registry) Replace(kind Kind, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = fn
}

// Lookup returns the function for a kind.
func (r *Registry) Lookup(kind Kind) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[kind]
	return fn, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	kinds := make([]Kind, 0, len(r.funcs))
	for k := range r.funcs {
		kinds = append(kinds, k)
	}
	r.mu.RUnlock()

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
