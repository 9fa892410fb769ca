// Package step executes step bodies. A step names a capability; the Runner
// resolves it in a Registry and runs it with a deadline, panic recovery,
// rate limiting and credential preflight. Failures of any kind come back as
// failed outcomes so that the graph can route on them.
package step

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
)

var (
	ErrCapabilityNotFound  = errors.New("capability not found")
	ErrDuplicateCapability = errors.New("capability already registered")
)

// Request is what a capability receives. Context is a private copy.
type Request struct {
	RunID   string
	GraphID string
	Step    *graph.Step
	Visit   int
	Context state.Context
}

// Capability is the external work behind a step.
type Capability interface {
	Execute(ctx context.Context, req Request) (state.Outcome, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (state.Outcome, error)

func (f CapabilityFunc) Execute(ctx context.Context, req Request) (state.Outcome, error) {
	return f(ctx, req)
}

// Registry maps capability names to implementations.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability under name.
func (r *Registry) Register(name string, c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caps[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
	}
	r.caps[name] = c
	return nil
}

// MustRegister is like Register but panics on duplicates.
func (r *Registry) MustRegister(name string, c Capability) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MissingFor returns capabilities referenced by g that are not registered.
func (r *Registry) MissingFor(g *graph.Graph) []string {
	var missing []string
	seen := map[string]bool{}
	for _, s := range g.Steps() {
		if s.Capability == "" || seen[s.Capability] {
			continue
		}
		seen[s.Capability] = true
		if _, ok := r.Lookup(s.Capability); !ok {
			missing = append(missing, s.Capability)
		}
	}
	sort.Strings(missing)
	return missing
}
