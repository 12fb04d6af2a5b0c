// Package session tracks which realtime connections are logged in and issues
// the tokens browsers use to resume a session after reconnecting.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrUnauthorized is returned when a connection without a session attempts a
// gated command.
var ErrUnauthorized = errors.New("not authenticated")

// Session links a connection to the user that authenticated it.
type Session struct {
	ConnectionID  string
	Username      string
	EstablishedAt time.Time
}

// Registry is the in-memory connection→session table. Nothing is persisted
// and sessions live until Revoke.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Establish binds connID to username, replacing any earlier session on the
// same connection.
func (r *Registry) Establish(connID, username string) Session {
	s := Session{ConnectionID: connID, Username: username, EstablishedAt: r.now()}
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) IsAuthenticated(connID string) bool {
	r.mu.RLock()
	_, ok := r.sessions[connID]
	r.mu.RUnlock()
	return ok
}

// Username returns the user bound to connID.
func (r *Registry) Username(connID string) (string, bool) {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	return s.Username, ok
}

// Authorize returns ErrUnauthorized when connID has no session.
func (r *Registry) Authorize(connID string) error {
	if !r.IsAuthenticated(connID) {
		return ErrUnauthorized
	}
	return nil
}

func (r *Registry) Revoke(connID string) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for a snapshot of the current sessions. fn runs without the
// registry lock held, so it may call back into the registry.
func (r *Registry) Each(fn func(Session)) {
	r.mu.RLock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}
