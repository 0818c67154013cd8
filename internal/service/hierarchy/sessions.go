package hierarchy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"osmlevels/internal/metrics"
)

// Session is anything the registry can own
type Session interface {
	Close()
}

// Registry holds the open views or selections of the HTTP API, keyed by a
// generated id. Sessions untouched for longer than the idle period are
// closed by the cleanup loop.
type Registry[T Session] struct {
	kind string

	mu         sync.RWMutex
	sessions   map[string]T
	lastAccess map[string]time.Time
	trees      map[string]string // session id -> tree id

	cleanupInterval time.Duration
	idlePeriod      time.Duration
	now             func() time.Time
}

// NewRegistry creates a registry; kind labels the active-session gauge
func NewRegistry[T Session](kind string, cleanupInterval, idlePeriod time.Duration) *Registry[T] {
	return &Registry[T]{
		kind:            kind,
		sessions:        make(map[string]T),
		lastAccess:      make(map[string]time.Time),
		trees:           make(map[string]string),
		cleanupInterval: cleanupInterval,
		idlePeriod:      idlePeriod,
		now:             time.Now,
	}
}

// Add registers s for treeID and returns its new id
func (r *Registry[T]) Add(treeID string, s T) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
	r.lastAccess[id] = r.now()
	r.trees[id] = treeID
	metrics.SetSessionsActive(r.kind, len(r.sessions))
	return id
}

// Get returns the session and refreshes its idle timer
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		r.lastAccess[id] = r.now()
	}
	return s, ok
}

// Remove closes and forgets the session. Safe to call for unknown ids.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		r.forget(id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// ForTree returns every session open on treeID
func (r *Registry[T]) ForTree(treeID string) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for id, t := range r.trees {
		if t == treeID {
			out = append(out, r.sessions[id])
		}
	}
	return out
}

// Count returns the number of open sessions
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartCleanup closes idle sessions every cleanup interval until ctx ends
func (r *Registry[T]) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// CloseAll closes every session
func (r *Registry[T]) CloseAll() {
	r.mu.Lock()
	closing := make([]T, 0, len(r.sessions))
	for id, s := range r.sessions {
		closing = append(closing, s)
		r.forget(id)
	}
	r.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
}

func (r *Registry[T]) cleanup() int {
	now := r.now()

	r.mu.Lock()
	var idle []T
	for id, last := range r.lastAccess {
		if now.Sub(last) > r.idlePeriod {
			idle = append(idle, r.sessions[id])
			r.forget(id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// forget drops id from every map. Caller holds r.mu.
func (r *Registry[T]) forget(id string) {
	delete(r.sessions, id)
	delete(r.lastAccess, id)
	delete(r.trees, id)
	metrics.SetSessionsActive(r.kind, len(r.sessions))
}
