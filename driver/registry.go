// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"errors"
	"sort"
	"sync"
)

// OpenFunc creates a new Factory for a backend.
type OpenFunc func() (Factory, error)

// RegistryEntry represents a registered backend.
type RegistryEntry struct {
	// Name is the unique identifier for this backend.
	Name string

	// Priority determines selection order (higher = preferred).
	// Standard priorities:
	//   - 100: hardware backends (wgpu)
	//   - 10: the simulated GPU (soft)
	Priority int

	// Open creates factory instances.
	Open OpenFunc

	// Available reports if the backend can run on this system.
	Available func() bool
}

// ErrNoBackendAvailable is returned when no registered backend is available.
var ErrNoBackendAvailable = errors.New("driver: no backend available")

// BackendNotFoundError indicates a named backend is not registered.
type BackendNotFoundError struct {
	Name string
}

func (e *BackendNotFoundError) Error() string {
	return "driver: backend not found: " + e.Name
}

// BackendUnavailableError indicates a backend exists but is not available.
type BackendUnavailableError struct {
	Name string
}

func (e *BackendUnavailableError) Error() string {
	return "driver: backend unavailable: " + e.Name
}

var globalRegistry = NewRegistry()

// Registry manages registered backends. Backends register themselves from
// init functions:
//
//	func init() {
//	    driver.Register("soft", 10, open, nil)
//	}
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry creates an empty registry.
// Most code should use the global registry via Register and Open.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*RegistryEntry)}
}

// Register adds a backend to the global registry.
// If available is nil, the backend is assumed always available.
// Registering a name that already exists replaces the previous entry.
func Register(name string, priority int, open OpenFunc, available func() bool) {
	globalRegistry.Register(name, priority, open, available)
}

// Unregister removes a backend from the global registry.
func Unregister(name string) { globalRegistry.Unregister(name) }

// List returns all registered backend names sorted by priority.
func List() []string { return globalRegistry.List() }

// Available returns names of available backends sorted by priority.
func Available() []string { return globalRegistry.Available() }

// Open creates a factory for the named backend.
func Open(name string) (Factory, error) { return globalRegistry.Open(name) }

// OpenDefault creates a factory for the best available backend.
func OpenDefault() (Factory, error) { return globalRegistry.OpenDefault() }

// Register adds a backend to this registry.
func (r *Registry) Register(name string, priority int, open OpenFunc, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if available == nil {
		available = func() bool { return true }
	}
	r.entries[name] = &RegistryEntry{
		Name:      name,
		Priority:  priority,
		Open:      open,
		Available: available,
	}
}

// Unregister removes a backend from this registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// List returns all registered backend names sorted by priority.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames(false)
}

// Available returns names of available backends sorted by priority.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames(true)
}

// Open creates a factory for the named backend.
func (r *Registry) Open(name string) (Factory, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &BackendNotFoundError{Name: name}
	}
	if !entry.Available() {
		return nil, &BackendUnavailableError{Name: name}
	}
	return entry.Open()
}

// OpenDefault tries every available backend in priority order and returns
// the first factory that opens.
func (r *Registry) OpenDefault() (Factory, error) {
	r.mu.RLock()
	names := r.sortedNames(true)
	r.mu.RUnlock()

	if len(names) == 0 {
		return nil, ErrNoBackendAvailable
	}

	var lastErr error
	for _, name := range names {
		f, err := r.Open(name)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// sortedNames returns backend names sorted by priority (highest first),
// ties broken by name. Must be called with lock held.
func (r *Registry) sortedNames(onlyAvailable bool) []string {
	entries := make([]*RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].Name < entries[j].Name
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
