package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/txn2/msgbridge/pkg/credential"
)

const (
	// credsFile is the credential blob the gateway rotates.
	credsFile = "creds.json"

	// eventBuffer bounds the adapter's event channel. The lifecycle
	// manager drains events promptly; the buffer only absorbs bursts.
	eventBuffer = 16
)

// frame is the JSON envelope exchanged with the messaging gateway.
type frame struct {
	Type string `json:"type"`

	// qr / creds frames
	Name string `json:"name,omitempty"`
	Data string `json:"data,omitempty"`

	// state frames
	State    string `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Identity string `json:"identity,omitempty"`

	// message / send frames
	ID          string `json:"id,omitempty"`
	From        string `json:"from,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	MediaRef    string `json:"media_ref,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// WSFactory creates websocket-backed Clients against a messaging gateway.
// The gateway owns the network's wire protocol; each connection is one
// session's JSON event feed at {BaseURL}/sessions/{id}.
type WSFactory struct {
	// BaseURL is the gateway websocket endpoint, e.g. wss://gw.local/v1.
	BaseURL string
}

// New creates an unopened client for the session.
func (f *WSFactory) New(sessionID string, opts Options) Client {
	return &wsClient{
		sessionID: sessionID,
		url:       fmt.Sprintf("%s/sessions/%s", f.BaseURL, sessionID),
		opts:      opts,
		events:    make(chan Event, eventBuffer),
	}
}

// wsClient is one gateway connection. The read loop is the only sender on
// the events channel and closes it on exit, so event order matches frame
// arrival order.
type wsClient struct {
	sessionID string
	url       string
	opts      Options
	events    chan Event

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// Open dials the gateway and starts the read and keep-alive loops.
func (c *wsClient) Open(ctx context.Context, creds *credential.Handle) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway for %s: %w", c.sessionID, err)
	}

	auth := frame{Type: "auth"}
	if creds != nil && creds.Has(credsFile) {
		blob, err := creds.Get(credsFile)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("loading stored credentials for %s: %w", c.sessionID, err)
		}
		auth.Data = base64.StdEncoding.EncodeToString(blob)
	}
	if err := conn.WriteJSON(auth); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sending auth frame for %s: %w", c.sessionID, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, creds)
	go c.pingLoop(conn)
	return nil
}

// Events returns the connection's ordered event stream.
func (c *wsClient) Events() <-chan Event {
	return c.events
}

// Send forwards one outbound message to the gateway.
func (c *wsClient) Send(_ context.Context, msg Outbound) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.open || c.closed {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	f := frame{
		Type:        "send",
		ID:          id,
		Recipient:   msg.Recipient,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		MediaRef:    msg.MediaRef,
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return nil, fmt.Errorf("writing send frame: %w", err)
	}
	return &SendResult{MessageID: id, Timestamp: time.Now()}, nil
}

// Close gracefully ends the connection, telling the gateway to log the
// session out before dropping the socket.
func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.open = false

	if c.conn == nil {
		close(c.events)
		return nil
	}
	if err := c.conn.WriteJSON(frame{Type: "logout"}); err != nil {
		slog.Warn("logout frame failed", "session", c.sessionID, "error", err)
	}
	return c.conn.Close()
}

// readLoop translates gateway frames into Events until the socket drops.
func (c *wsClient) readLoop(conn *websocket.Conn, creds *credential.Handle) {
	defer close(c.events)

	c.events <- Event{Kind: EventState, State: StateConnecting}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			planned := c.closed
			c.open = false
			c.mu.Unlock()
			if !planned {
				c.events <- Event{Kind: EventState, State: StateClose, Reason: ReasonConnectionLost}
			}
			return
		}

		switch f.Type {
		case "qr":
			c.events <- Event{Kind: EventArtifact, Artifact: f.Data}

		case "state":
			ev := Event{
				Kind:     EventState,
				State:    State(f.State),
				Reason:   CloseReason(f.Reason),
				Identity: f.Identity,
			}
			c.mu.Lock()
			c.open = ev.State == StateOpen
			c.mu.Unlock()
			c.events <- ev
			if ev.State == StateClose {
				_ = conn.Close()
				return
			}

		case "creds":
			// Store-on-update: rotated keys are persisted the moment the
			// gateway reports them, not at disconnect.
			c.persistCreds(creds, f)

		case "message":
			c.events <- Event{Kind: EventMessage, Message: inboundFromFrame(f)}

		default:
			slog.Debug("ignoring unknown gateway frame", "session", c.sessionID, "type", f.Type)
		}
	}
}

func (c *wsClient) persistCreds(creds *credential.Handle, f frame) {
	if creds == nil {
		return
	}
	blob, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		slog.Warn("undecodable credential update", "session", c.sessionID, "error", err)
		return
	}
	name := f.Name
	if name == "" {
		name = credsFile
	}
	if err := creds.Put(name, blob); err != nil {
		slog.Warn("persisting credential update failed", "session", c.sessionID, "error", err)
	}
}

// pingLoop sends keep-alive probes until the socket drops.
func (c *wsClient) pingLoop(conn *websocket.Conn) {
	if c.opts.KeepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()

	for range ticker.C {
		deadline := time.Now().Add(c.opts.KeepAlive)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return
		}
	}
}

func inboundFromFrame(f frame) *Inbound {
	ts, err := time.Parse(time.RFC3339, f.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return &Inbound{
		From:       f.From,
		Content:    f.Content,
		MediaURL:   f.MediaURL,
		ReceivedAt: ts,
	}
}

// Verify interface compliance.
var (
	_ Client  = (*wsClient)(nil)
	_ Factory = (*WSFactory)(nil)
)
