package modifier

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps modifier type strings to their implementations.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	modifiers map[string]Modifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modifiers: make(map[string]Modifier)}
}

// DefaultRegistry returns a Registry with every built-in modifier kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Recurrence{})
	r.Register(EventFlag{})
	return r
}

// Register adds a modifier. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(m Modifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modifiers[m.Type()]; exists {
		panic(fmt.Sprintf("modifier registry: duplicate type %q", m.Type()))
	}
	r.modifiers[m.Type()] = m
}

// Get returns the modifier for the given type.
func (r *Registry) Get(typ string) (Modifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modifiers[typ]
	if !ok {
		return nil, fmt.Errorf("no modifier registered for type %q", typ)
	}
	return m, nil
}

// Bind resolves and validates one modifier configuration.
func (r *Registry) Bind(typ, direction, reason string, params map[string]interface{}) (Bound, error) {
	m, err := r.Get(typ)
	if err != nil {
		return Bound{}, err
	}
	if err := m.Validate(params); err != nil {
		return Bound{}, err
	}
	dir, err := ParseDirection(direction)
	if err != nil {
		return Bound{}, fmt.Errorf("%s: %w", typ, err)
	}
	if reason == "" {
		reason = typ
	}
	return Bound{Modifier: m, Params: params, Direction: dir, Reason: reason}, nil
}

// Types returns all registered modifier type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modifiers))
	for k := range r.modifiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
