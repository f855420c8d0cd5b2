// Package client defines the capability interface over one connection to the
// external messaging network. The underlying library owns the wire protocol
// (handshake, encryption, framing); a Client only exposes its event stream
// and command surface. Each concrete implementation adapts one library;
// the lifecycle manager is written against this interface alone.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/txn2/msgbridge/pkg/credential"
)

// ErrNotConnected is returned by Send when no open connection exists.
var ErrNotConnected = errors.New("not connected")

// State is a protocol-level connection state reported by the adapter.
type State string

// Connection states.
const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClose      State = "close"
)

// CloseReason classifies why a connection closed.
type CloseReason string

// Close reasons. ReasonLoggedOut is terminal: the server invalidated the
// session's credentials and reconnecting with them can never succeed.
const (
	ReasonLoggedOut      CloseReason = "loggedOut"
	ReasonConnectionLost CloseReason = "connectionLost"
	ReasonTimeout        CloseReason = "timeout"
)

// EventKind discriminates Event variants.
type EventKind int

// Event kinds.
const (
	// EventArtifact carries a scannable pairing artifact (QR payload or
	// short code) issued while the session awaits human authorization.
	EventArtifact EventKind = iota

	// EventState reports a connection state change. Close events carry a
	// Reason; open events carry the authenticated Identity.
	EventState

	// EventMessage carries one inbound user message.
	EventMessage
)

// Event is one item on a Client's event stream. Events for a single
// connection are delivered strictly in order.
type Event struct {
	Kind EventKind

	// Artifact is set for EventArtifact.
	Artifact string

	// State, Reason and Identity are set for EventState.
	State    State
	Reason   CloseReason
	Identity string

	// Message is set for EventMessage.
	Message *Inbound
}

// Inbound is a user message received over the session.
type Inbound struct {
	From       string
	Content    string
	MediaURL   string
	ReceivedAt time.Time
}

// Outbound is a message to forward into the network.
type Outbound struct {
	Recipient   string
	Content     string
	ContentType string
	MediaRef    string
}

// SendResult is the acknowledgement for an accepted outbound message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Options tune one connection attempt.
type Options struct {
	// ConnectTimeout bounds the initial dial and handshake.
	ConnectTimeout time.Duration

	// KeepAlive is the interval between protocol keep-alive probes.
	KeepAlive time.Duration
}

// Client is one live connection for one session. Implementations persist
// rotated credential material through the handle passed to Open as the
// underlying library reports updates, so a crash never loses current keys.
type Client interface {
	// Open starts a connection attempt and returns immediately; all
	// further activity arrives asynchronously on Events. The events
	// channel is closed when the connection is fully torn down.
	Open(ctx context.Context, creds *credential.Handle) error

	// Events returns the connection's ordered event stream.
	Events() <-chan Event

	// Send forwards one outbound message. It fails with ErrNotConnected
	// when no open connection exists.
	Send(ctx context.Context, msg Outbound) (*SendResult, error)

	// Close gracefully ends the connection. This is the planned-teardown
	// path, distinct from an unplanned close event.
	Close() error
}

// Factory creates Clients. One implementation is selected at startup;
// the core never varies per call.
type Factory interface {
	New(sessionID string, opts Options) Client
}
