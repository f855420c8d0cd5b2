// Package sink projects session status into an external store that callers
// poll. The projection is eventually consistent and never authoritative;
// every write is best-effort from the lifecycle manager's perspective.
package sink

import (
	"context"
	"sync"
)

// Update is one status projection write.
type Update struct {
	// Status is the externally visible status value.
	Status string

	// Artifact is the encoded pairing image, present only while the
	// session awaits a credential scan.
	Artifact []byte

	// Identity is the authenticated network identity, present once the
	// session connects.
	Identity string
}

// Sink receives status projections keyed by session id.
type Sink interface {
	Upsert(ctx context.Context, sessionID string, u Update) error
}

// Noop discards updates. Used when no datastore is configured.
type Noop struct{}

// Upsert discards the update.
func (Noop) Upsert(context.Context, string, Update) error { return nil }

// Memory retains the latest update per session. Used in tests and
// single-process development setups.
type Memory struct {
	mu      sync.RWMutex
	updates map[string][]Update
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{updates: make(map[string][]Update)}
}

// Upsert appends the update to the session's history.
func (m *Memory) Upsert(_ context.Context, sessionID string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates[sessionID] = append(m.updates[sessionID], u)
	return nil
}

// Latest returns the most recent update for the session.
func (m *Memory) Latest(sessionID string) (Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.updates[sessionID]
	if len(history) == 0 {
		return Update{}, false
	}
	return history[len(history)-1], true
}

// History returns all updates written for the session, oldest first.
func (m *Memory) History(sessionID string) []Update {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Update, len(m.updates[sessionID]))
	copy(out, m.updates[sessionID])
	return out
}

// Verify interface compliance.
var (
	_ Sink = Noop{}
	_ Sink = (*Memory)(nil)
)
