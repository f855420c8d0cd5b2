package session

import (
	"sync"
	"time"
)

// Registry is the in-memory map from session id to session state. All
// mutation flows through the lifecycle manager's per-session event path;
// the internal lock is defense-in-depth and makes the health monitor's
// sweep safe against concurrent handler writes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates a registry that stamps LastActivity using
// the given clock. Tests inject a fake clock to control staleness.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Upsert applies mutate to the session, creating it first when absent.
// LastActivity is always bumped. It returns a copy of the resulting record.
func (r *Registry) Upsert(id string, mutate func(*Session)) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		sess = &Session{ID: id, Status: StatusUninitialized}
		r.sessions[id] = sess
	}
	if mutate != nil {
		mutate(sess)
	}
	sess.LastActivity = r.now()
	return *sess
}

// Update applies mutate to an existing session and bumps LastActivity.
// It reports false without side effects when the id is unknown, so
// late-firing timers cannot resurrect a removed session.
func (r *Registry) Update(id string, mutate func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return false
	}
	mutate(sess)
	sess.LastActivity = r.now()
	return true
}

// Touch bumps LastActivity for an existing session.
func (r *Registry) Touch(id string) {
	r.Update(id, func(*Session) {})
}

// Get returns a copy of the session record.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Remove deletes the session record. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// List returns a snapshot of all session records. The copies are safe to
// iterate while handlers mutate the registry.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess)
	}
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
