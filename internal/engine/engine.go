package engine

import (
	"context"
	"sort"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// -- Task and evidence --

// Task is the unit of work every engine performs: load a page and bring back
// whatever proves it rendered.
type Task struct {
	Name string
	URL  string
	// Marker is text the page must contain to count as a confirmed load.
	// It is matched case-insensitively.
	Marker string
}

// Capture is the evidence an adapter brings back from one load.
type Capture struct {
	Engine     schemas.EngineKind
	FinalURL   string
	StatusCode int // 0 when the engine cannot observe it
	HTML       []byte
	Screenshot []byte
}

// Size is the number of evidence bytes, the basis of the size heuristic.
func (c *Capture) Size() int {
	if c == nil {
		return 0
	}
	return len(c.HTML)
}

// -- Adapters --

// Adapter is one technique for loading the target. Implementations own
// whatever browser or process they start and release it before Load returns,
// including when ctx expires.
type Adapter interface {
	Kind() schemas.EngineKind
	Load(ctx context.Context, profile schemas.SessionProfile, task Task) (*Capture, error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc struct {
	EngineKind schemas.EngineKind
	Fn         func(ctx context.Context, profile schemas.SessionProfile, task Task) (*Capture, error)
}

func (f AdapterFunc) Kind() schemas.EngineKind { return f.EngineKind }

func (f AdapterFunc) Load(ctx context.Context, profile schemas.SessionProfile, task Task) (*Capture, error) {
	return f.Fn(ctx, profile, task)
}

// Registry maps engine kinds to adapters. It is populated once at startup and
// read-only afterwards.
type Registry struct {
	adapters map[schemas.EngineKind]Adapter
}

// NewRegistry builds a registry from adapters. A later adapter of the same
// kind replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[schemas.EngineKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Kind().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Lookup returns the adapter registered for kind.
func (r *Registry) Lookup(kind schemas.EngineKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []schemas.EngineKind {
	kinds := make([]schemas.EngineKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
