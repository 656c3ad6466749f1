// Package plugin holds the set of rule plugins a cloudmark run evaluates.
package plugin

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/yairfalse/cloudmark/internal/rule"
)

// Registry holds registered rule plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]rule.Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]rule.Plugin)}
}

// Register adds a plugin. A plugin with the same name is replaced.
func (r *Registry) Register(p rule.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name()] = p
}

// Remove drops a plugin by name and reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.plugins[name]
	delete(r.plugins, name)
	return ok
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (rule.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns the registered plugins ordered by name.
func (r *Registry) All() []rule.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugins := make([]rule.Plugin, 0, len(r.plugins))
	for _, name := range r.sortedNames() {
		plugins = append(plugins, r.plugins[name])
	}
	return plugins
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Done calls Done on every plugin and joins the errors.
func (r *Registry) Done() error {
	var errs []error
	for _, p := range r.All() {
		if err := p.Done(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
