package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a cleanup handler. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

type handler struct {
	name     string
	priority int
	fn       Func
}

// Registry runs cleanup handlers once, lowest priority first. Handlers with
// equal priority run in registration order.
//
// Priorities used by serve:
//
//	10  HTTP listener
//	30  history database and result cache
//	90  log flush
type Registry struct {
	mu       sync.Mutex
	handlers []handler
	ran      bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		return
	}
	r.handlers = append(r.handlers, handler{name: name, priority: priority, fn: fn})
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].priority < r.handlers[j].priority
	})
}

// Run calls every handler, even after one fails, and returns the failures.
// Only the first call does anything.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	handlers := append([]handler(nil), r.handlers...)
	r.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errs
}

// Names lists handlers in the order Run calls them.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.name
	}
	return names
}
