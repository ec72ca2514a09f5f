package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one command on the host main loop. The returned value is
// serialized into the response result; an error becomes a runtime_error
// response.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Registry maps command names to handlers. Registration happens at startup;
// dispatch is read-only after that, but the lock keeps it safe either way.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to handler. A duplicate name or nil handler is
// rejected here, at startup, rather than surfacing as a confusing dispatch
// failure later.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("command name required")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for command %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("command %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register that panics on error. For static startup wiring
// where a failure is a programming bug.
func (r *Registry) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
