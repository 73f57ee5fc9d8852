package session

import (
	"errors"
	"sync"
)

// ErrCapacity is returned when admission would exceed the configured
// maximum. The transport closes the connection with a distinguishable
// code so clients can tell capacity rejection from a generic failure.
var ErrCapacity = errors.New("session: admission limit reached")

// Registry is the process-wide table of active sessions. It is the single
// owner of the active-session count; no other component mutates it. All
// access is serialized under one mutex, so count changes are atomic with
// respect to each other.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	max      int
}

// NewRegistry creates a registry with the given admission limit.
func NewRegistry(max int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
	}
}

// Admit registers a session, rejecting with ErrCapacity when the active
// count has reached the maximum.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return ErrCapacity
	}
	r.sessions[s.ID()] = s
	return nil
}

// Release removes a session. Idempotent: releasing an already-removed id
// is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
