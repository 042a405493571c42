// Package stages defines the per-item processing contract and the registry
// mapping stage names to processors, plus the built-in photo processors.
// Processors hold the domain logic; the engine only drives them.
package stages

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nvidra/photoflow/pkg/schema"
)

// Output is what a processor returns for one item.
type Output struct {
	// Payload is the stage's result document for the item.
	Payload json.RawMessage
	// Usage reports metered external-call consumption, when the processor
	// made one. Units and cost attribution are filled in by the engine.
	Usage *schema.UsageRecord
	// Warnings mark the output degraded but usable. The engine keeps the
	// payload, flags the item, and records each warning.
	Warnings []string
}

// Processor is the per-item processing contract of a stage. Process must be
// safe to invoke concurrently across distinct items. deps holds this item's
// results from every stage the current stage depends on, keyed by stage name.
type Processor interface {
	Name() string
	Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error)
	// Placeholder is the documented default payload substituted when
	// processing the item fails.
	Placeholder(item schema.Item) json.RawMessage
}

// Registry maps processor names to implementations. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Processor)}
}

// Register adds a processor. Re-registering a name replaces it.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	r.procs[p.Name()] = p
	r.mu.Unlock()
}

// Get returns the processor for a name.
func (r *Registry) Get(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	return p, ok
}

// Names returns all registered processor names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for n := range r.procs {
		names = append(names, n)
	}
	return names
}

// ProcessFunc adapts a function to the Processor interface, for tests and
// caller-supplied ad hoc stages.
type ProcessFunc struct {
	StageName string
	Fn        func(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error)
	Fallback  json.RawMessage
}

func (f *ProcessFunc) Name() string { return f.StageName }

func (f *ProcessFunc) Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error) {
	return f.Fn(ctx, item, deps)
}

func (f *ProcessFunc) Placeholder(item schema.Item) json.RawMessage {
	if f.Fallback != nil {
		return f.Fallback
	}
	b, _ := json.Marshal(map[string]any{"image_id": item.ID, "placeholder": true})
	return b
}
