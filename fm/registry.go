package fm

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Resolver looks modules up by handle or configuration key. Devices hold handles and
// resolve them through a Resolver instead of keeping module references.
type Resolver interface {
	Module(h Handle) (*Module, bool)
	HandleOf(key string) (Handle, bool)
}

// Registry is the arena of all modules of a session, keyed by Handle.
//
// Lookups are safe from any goroutine; insertion order is kept for deterministic iteration.
type Registry struct {
	modules *xsync.MapOf[Handle, *Module]
	keys    *xsync.MapOf[string, Handle]

	mu    sync.RWMutex
	order []Handle
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: xsync.NewMapOf[Handle, *Module](),
		keys:    xsync.NewMapOf[string, Handle](),
	}
}

// Add registers m. It fails with ErrDuplicateModule if the handle or key is taken.
func (r *Registry) Add(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, loaded := r.keys.LoadOrStore(m.Key(), m.Handle()); loaded {
		return fmt.Errorf("%w: key %q", ErrDuplicateModule, m.Key())
	}
	if _, loaded := r.modules.LoadOrStore(m.Handle(), m); loaded {
		r.keys.Delete(m.Key())
		return fmt.Errorf("%w: handle %s", ErrDuplicateModule, m.Handle())
	}
	r.order = append(r.order, m.Handle())

	return nil
}

// Module returns the module registered under h.
func (r *Registry) Module(h Handle) (*Module, bool) {
	return r.modules.Load(h)
}

// HandleOf returns the handle registered under key.
func (r *Registry) HandleOf(key string) (Handle, bool) {
	return r.keys.Load(key)
}

// Lookup returns the module registered under key.
func (r *Registry) Lookup(key string) (*Module, bool) {
	h, ok := r.keys.Load(key)
	if !ok {
		return nil, false
	}

	return r.modules.Load(h)
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return r.modules.Size()
}

// Handles returns the registered handles in insertion order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, len(r.order))
	copy(out, r.order)

	return out
}

// Modules returns the registered modules in insertion order.
func (r *Registry) Modules() []*Module {
	handles := r.Handles()
	out := make([]*Module, 0, len(handles))
	for _, h := range handles {
		if m, ok := r.modules.Load(h); ok {
			out = append(out, m)
		}
	}

	return out
}

// Nodes returns the distinct nodes of the registered modules in first-seen order.
func (r *Registry) Nodes() []NodeKey {
	seen := make(map[NodeKey]bool)
	var nodes []NodeKey
	for _, h := range r.Handles() {
		n := h.Node()
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}

	return nodes
}

// Range calls fn for every module in insertion order until fn returns false.
func (r *Registry) Range(fn func(m *Module) bool) {
	for _, m := range r.Modules() {
		if !fn(m) {
			return
		}
	}
}
