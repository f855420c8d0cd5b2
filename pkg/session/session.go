// Package session defines the session entity and the in-memory registry
// that is the authoritative record of live sessions. External projections
// (the status sink) are derived from it, never the other way around.
package session

import (
	"time"

	"github.com/txn2/msgbridge/pkg/client"
	"github.com/txn2/msgbridge/pkg/credential"
)

// Status is a session lifecycle state.
type Status string

// Session lifecycle states.
const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusAwaitingScan  Status = "awaiting_credential_scan"
	StatusConnected     Status = "connected"
	StatusReady         Status = "ready"
	StatusDisconnected  Status = "disconnected"
	StatusLoggedOut     Status = "logged_out"
	StatusError         Status = "error"
)

// Live reports whether the session can carry traffic.
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusReady
}

// Session is one tenant's logical connection to the messaging network.
type Session struct {
	// ID is the caller-assigned, unique session identifier.
	ID string

	// Status is the current lifecycle state.
	Status Status

	// Client owns the live connection. At most one live connection
	// exists per session id at any instant.
	Client client.Client

	// Credentials references the session's persisted auth material.
	Credentials *credential.Handle

	// Identity is the authenticated network identity, set once the
	// connection opens.
	Identity string

	// Artifact is the pending pairing artifact. It is non-empty only
	// while Status is StatusAwaitingScan.
	Artifact string

	// RetryCount is the number of reconnect attempts since the last
	// successful open.
	RetryCount int

	// LastActivity is bumped on every inbound event and registry write.
	LastActivity time.Time
}
