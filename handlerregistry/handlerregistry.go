// Package handlerregistry is the explicit handler registry spec §9
// calls for in place of import-string handlers: "import-string
// handlers ... must become an explicit handler registry ... no
// runtime string eval". Handlers register themselves by name at
// process start; the serve command resolves configured handler names
// (middlewares, frontend views) against this registry rather than
// evaluating dotted import paths at runtime.
//
// Grounded on pulse/async/handler.go's HandlerRegistry (name-keyed,
// RWMutex-guarded, panics on duplicate registration).
package handlerregistry

import (
	"fmt"
	"sync"

	"github.com/viewdeck/viewdeck/router"
)

// Registry manages view handlers by name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]router.Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]router.Handler)}
}

// Register adds handler under its own Name(). Panics if a handler is
// already registered for that name, matching the teacher's
// fail-fast-at-startup policy for duplicate registration.
func (r *Registry) Register(handler router.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handlerregistry: handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for name, or nil if none is registered.
func (r *Registry) Get(name string) router.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has reports whether a handler is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns every registered handler name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
