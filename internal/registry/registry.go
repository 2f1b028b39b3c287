// Package registry implements the concurrent map of registered state
// sources, keyed by source id, with listener notification on mutation.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chronos-dev/agent/internal/timeline"
)

// Source is a registered value producer. Hosts implement this interface for
// every piece of state they want Chronos to observe.
type Source interface {
	SourceID() string
	DisplayName() string
	Class() timeline.Class
	CaptureState() (value any, valueTypeName string, err error)
}

// EventType identifies a registry mutation delivered to listeners.
type EventType int

const (
	EventRegistered EventType = iota
	EventUnregistered
)

// Listener is notified after a registry mutation has been committed.
type Listener func(evt EventType, sourceID string, class timeline.Class)

// Registry is a concurrent, listener-notifying map of registered sources.
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]Source
	listeners []Listener
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source under its own SourceID. It fails if that id is
// already present.
func (r *Registry) Register(s Source) error {
	id := s.SourceID()

	r.mu.Lock()
	if _, exists := r.sources[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("registry: source id %q already registered", id)
	}
	r.sources[id] = s
	r.mu.Unlock()

	r.notify(EventRegistered, id, s.Class())
	return nil
}

// Unregister removes a source by id. It is a no-op if the id is not
// present.
func (r *Registry) Unregister(sourceID string) {
	r.mu.Lock()
	s, exists := r.sources[sourceID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.sources, sourceID)
	r.mu.Unlock()

	r.notify(EventUnregistered, sourceID, s.Class())
}

// Get returns the source registered under id, if any.
func (r *Registry) Get(sourceID string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[sourceID]
	return s, ok
}

// AddListener registers a callback invoked after every future registry
// mutation is committed. Listeners do not receive events for mutations that
// already happened.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// All returns a stable-ordered snapshot of every registered source.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID() < out[j].SourceID() })
	return out
}

// HasUnsafeSources reports whether any registered source is classified
// Unsafe.
func (r *Registry) HasUnsafeSources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Class() == timeline.Unsafe {
			return true
		}
	}
	return false
}

// GetByClass returns a filtered, stable-ordered snapshot of sources whose
// class is among the ones given.
func (r *Registry) GetByClass(classes ...timeline.Class) []Source {
	want := make(map[timeline.Class]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0)
	for _, s := range r.sources {
		if want[s.Class()] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID() < out[j].SourceID() })
	return out
}

// notify dispatches a mutation event to every listener. It must be called
// only after the mutation is already committed to the map, per the
// "listeners receive events after the registry mutation is committed"
// invariant.
func (r *Registry) notify(evt EventType, sourceID string, class timeline.Class) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(evt, sourceID, class)
	}
}
