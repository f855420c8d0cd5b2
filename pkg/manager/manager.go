// Package manager orchestrates the lifecycle of messaging sessions:
// creation, the event-driven state machine, reconnection scheduling, and
// status-sink synchronization. One Manager instance owns the registry and
// is constructed once at process start; there is no ambient global state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/txn2/msgbridge/pkg/client"
	"github.com/txn2/msgbridge/pkg/credential"
	"github.com/txn2/msgbridge/pkg/policy"
	"github.com/txn2/msgbridge/pkg/session"
	"github.com/txn2/msgbridge/pkg/sink"
)

// Errors surfaced to callers. Internally driven transitions (adapter
// events, timer fires, sweeps) never raise; they log and update state.
var (
	// ErrCredentialLoad means the session's credential material could
	// not be read. Fatal for that creation attempt; not retried here.
	ErrCredentialLoad = errors.New("credential load failed")

	// ErrClientCreation wraps a failure to open the underlying
	// connection.
	ErrClientCreation = errors.New("client creation failed")

	// ErrSessionNotReady means a send was attempted against a session
	// that is not connected or ready.
	ErrSessionNotReady = errors.New("session not ready")
)

// Defaults for lifecycle timing.
const (
	DefaultSettleDelay    = 2 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultKeepAlive      = 20 * time.Second

	sinkWriteTimeout = 5 * time.Second

	// sinkStatusQR is the external status value for a session awaiting
	// a credential scan.
	sinkStatusQR = "qr"
)

// Timer kinds tracked per session id.
const (
	timerReconnect = "reconnect"
	timerSettle    = "settle"
	timerOpen      = "open-timeout"
)

// Config tunes the lifecycle manager.
type Config struct {
	// MaxAttempts bounds reconnect attempts per connection loss streak.
	MaxAttempts int

	// BaseDelay and MaxDelay shape the reconnect backoff schedule.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// SettleDelay is the pause between a connection reporting open and
	// the session being marked ready for traffic, absorbing
	// post-handshake instability in the underlying library.
	SettleDelay time.Duration

	// ConnectTimeout bounds a connection attempt. When the library
	// never reports open within it, a close is synthesized.
	ConnectTimeout time.Duration

	// KeepAlive is passed through to the protocol adapter.
	KeepAlive time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = policy.DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = policy.DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = policy.DefaultMaxDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
}

// InboundHandler receives inbound user messages. The CRM forwarder hangs
// off this hook; its failures are logged and never reach the state machine.
type InboundHandler func(sessionID string, msg client.Inbound)

// Manager is the session lifecycle manager.
type Manager struct {
	cfg      Config
	creds    *credential.Store
	factory  client.Factory
	registry *session.Registry
	sink     sink.Sink
	policy   policy.Reconnect
	inbound  InboundHandler

	mu     sync.Mutex
	timers map[string]map[string]*time.Timer
	locks  map[string]*sync.Mutex
	closed bool
}

// New creates a Manager. A nil statusSink disables projection writes.
func New(cfg Config, creds *credential.Store, factory client.Factory, reg *session.Registry, statusSink sink.Sink) *Manager {
	cfg.applyDefaults()
	if statusSink == nil {
		statusSink = sink.Noop{}
	}
	return &Manager{
		cfg:      cfg,
		creds:    creds,
		factory:  factory,
		registry: reg,
		sink:     statusSink,
		policy: policy.Reconnect{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		timers: make(map[string]map[string]*time.Timer),
		locks:  make(map[string]*sync.Mutex),
	}
}

// OnInbound installs the inbound message hook. Call before Create.
func (m *Manager) OnInbound(h InboundHandler) {
	m.inbound = h
}

// Registry exposes the authoritative session registry, e.g. for the
// health monitor and readiness gauges.
func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Create opens (or returns) the session's connection. Create is idempotent
// while a live connection exists: a second call returns it without opening
// another. Concurrent calls for the same id are serialized, so only one of
// them can open a connection, preserving the one-connection-per-session
// invariant.
//
// A session that already exhausted its retries is refused: its status is
// forced to error, the retry counter cleared, and (nil, nil) returned, so
// callers cannot silently loop back into the error branch.
func (m *Manager) Create(ctx context.Context, id string) (client.Client, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if sess, ok := m.registry.Get(id); ok {
		if sess.Client != nil {
			return sess.Client, nil
		}
		if sess.RetryCount > m.cfg.MaxAttempts {
			m.registry.Update(id, func(s *session.Session) {
				s.Status = session.StatusError
				s.RetryCount = 0
			})
			m.writeSink(id, sink.Update{Status: string(session.StatusError)})
			return nil, nil
		}
	}

	creds, err := m.creds.Load(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialLoad, err)
	}

	cl := m.factory.New(id, client.Options{
		ConnectTimeout: m.cfg.ConnectTimeout,
		KeepAlive:      m.cfg.KeepAlive,
	})
	m.registry.Upsert(id, func(s *session.Session) {
		s.Status = session.StatusInitializing
		s.Client = cl
		s.Credentials = creds
		s.Artifact = ""
	})

	if err := cl.Open(ctx, creds); err != nil {
		m.registry.Update(id, func(s *session.Session) {
			s.Status = session.StatusError
			s.Client = nil
		})
		m.writeSink(id, sink.Update{Status: string(session.StatusError)})
		return nil, fmt.Errorf("%w: %v", ErrClientCreation, err)
	}

	// If the library never reports open, synthesize a close so the
	// normal reconnect-decision path runs.
	m.setTimer(id, timerOpen, m.cfg.ConnectTimeout, func() {
		m.handleClose(id, cl, client.ReasonTimeout)
	})

	go m.eventLoop(id, cl)

	slog.Info("session created", "session", id, "existing_credentials", m.creds.HasExisting(id))
	return cl, nil
}

// eventLoop processes one connection's events to completion, in order.
// Events for different sessions interleave freely; events for this session
// are serialized by the adapter's single stream.
func (m *Manager) eventLoop(id string, cl client.Client) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session event loop panic", "session", id, "panic", r)
		}
	}()

	for ev := range cl.Events() {
		switch ev.Kind {
		case client.EventArtifact:
			m.handleArtifact(id, ev.Artifact)
		case client.EventState:
			m.handleState(id, cl, ev)
		case client.EventMessage:
			m.handleMessage(id, ev.Message)
		}
	}
}

func (m *Manager) handleArtifact(id, artifact string) {
	ok := m.registry.Update(id, func(s *session.Session) {
		s.Status = session.StatusAwaitingScan
		s.Artifact = artifact
	})
	if !ok {
		return
	}

	encoded, err := encodeArtifact(artifact)
	if err != nil {
		slog.Warn("artifact encoding failed", "session", id, "error", err)
	}
	m.writeSink(id, sink.Update{Status: sinkStatusQR, Artifact: encoded})
}

func (m *Manager) handleState(id string, cl client.Client, ev client.Event) {
	switch ev.State {
	case client.StateConnecting:
		m.registry.Touch(id)

	case client.StateOpen:
		m.stopTimer(id, timerOpen)
		ok := m.registry.Update(id, func(s *session.Session) {
			s.Status = session.StatusConnected
			s.RetryCount = 0
			s.Artifact = ""
			s.Identity = ev.Identity
		})
		if !ok {
			return
		}
		m.writeSink(id, sink.Update{Status: string(session.StatusConnected), Identity: ev.Identity})

		// Let the underlying library settle before carrying traffic.
		m.setTimer(id, timerSettle, m.cfg.SettleDelay, func() { m.markReady(id) })

	case client.StateClose:
		m.handleClose(id, cl, ev.Reason)
	}
}

// markReady runs after the settle delay. The transition is skipped when the
// session has moved on in the meantime, so a late timer can never write
// "ready" over a newer state.
func (m *Manager) markReady(id string) {
	transitioned := false
	m.registry.Update(id, func(s *session.Session) {
		if s.Status != session.StatusConnected {
			return
		}
		s.Status = session.StatusReady
		transitioned = true
	})
	if !transitioned {
		return
	}
	m.writeSink(id, sink.Update{Status: string(session.StatusReady)})
	slog.Info("session ready", "session", id)
}

func (m *Manager) handleClose(id string, cl client.Client, reason client.CloseReason) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := m.registry.Get(id)
	if !ok || sess.Client != cl || sess.Status == session.StatusDisconnected {
		// Stale close from a connection this session no longer owns.
		return
	}

	m.stopTimer(id, timerOpen)
	m.stopTimer(id, timerSettle)

	if reason == client.ReasonLoggedOut {
		m.registry.Update(id, func(s *session.Session) {
			s.Status = session.StatusLoggedOut
			s.Client = nil
			s.Artifact = ""
		})
		m.writeSink(id, sink.Update{Status: string(session.StatusLoggedOut)})
		// Logged-out credentials are invalid and must not be reused.
		if err := m.creds.Delete(id); err != nil {
			slog.Warn("credential delete failed", "session", id, "error", err)
		}
		m.registry.Remove(id)
		slog.Info("session logged out", "session", id)
		return
	}

	decision := m.policy.Decide(reason, sess.RetryCount)
	if !decision.Retry {
		// Retry exhaustion is terminal but keeps credentials on disk
		// for operator inspection, unlike logout.
		m.registry.Update(id, func(s *session.Session) {
			s.Status = session.StatusError
			s.Client = nil
			s.Artifact = ""
		})
		m.writeSink(id, sink.Update{Status: string(session.StatusError)})
		m.registry.Remove(id)
		slog.Warn("session retries exhausted",
			"session", id, "reason", reason, "attempts", sess.RetryCount)
		return
	}

	attempt := sess.RetryCount + 1
	m.registry.Update(id, func(s *session.Session) {
		s.Status = session.StatusInitializing
		s.Client = nil
		s.Artifact = ""
		s.RetryCount = attempt
	})
	slog.Info("scheduling reconnect",
		"session", id, "reason", reason, "attempt", attempt, "delay", decision.Delay)
	m.setTimer(id, timerReconnect, decision.Delay, func() {
		if _, err := m.Create(context.Background(), id); err != nil {
			slog.Warn("reconnect attempt failed", "session", id, "error", err)
		}
	})
}

func (m *Manager) handleMessage(id string, msg *client.Inbound) {
	if msg == nil {
		return
	}
	m.registry.Touch(id)
	if m.inbound == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("inbound handler panic", "session", id, "panic", r)
			}
		}()
		m.inbound(id, *msg)
	}()
}

// StatusView is the read-only projection served to polling callers.
type StatusView struct {
	Status       session.Status `json:"status"`
	HasArtifact  bool           `json:"has_artifact"`
	RetryCount   int            `json:"retry_count"`
	LastActivity time.Time      `json:"last_activity"`
}

// GetStatus returns the session's current view, or nil when unknown.
func (m *Manager) GetStatus(id string) *StatusView {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	return &StatusView{
		Status:       sess.Status,
		HasArtifact:  sess.Artifact != "",
		RetryCount:   sess.RetryCount,
		LastActivity: sess.LastActivity,
	}
}

// Summary is one row of the session listing.
type Summary struct {
	ID           string         `json:"id"`
	Status       session.Status `json:"status"`
	Identity     string         `json:"identity,omitempty"`
	RetryCount   int            `json:"retry_count"`
	LastActivity time.Time      `json:"last_activity"`
}

// ListAll returns a snapshot of all tracked sessions, ordered by id.
func (m *Manager) ListAll() []Summary {
	sessions := m.registry.List()
	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Summary{
			ID:           sess.ID,
			Status:       sess.Status,
			Identity:     sess.Identity,
			RetryCount:   sess.RetryCount,
			LastActivity: sess.LastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendMessage forwards one outbound message over a live session. Adapter
// failures are returned verbatim and never retried here: retrying a send
// risks duplicate delivery.
func (m *Manager) SendMessage(ctx context.Context, id string, msg client.Outbound) (*client.SendResult, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown session %s", ErrSessionNotReady, id)
	}
	if !sess.Status.Live() || sess.Client == nil {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotReady, id, sess.Status)
	}

	res, err := sess.Client.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	m.registry.Touch(id)
	return res, nil
}

// Disconnect tears the session down. It holds the session lock, so a close
// handler in flight either finishes before the teardown (its reconnect timer
// is then cancelled below) or runs after it (and finds the session gone).
// Pending timers are cancelled first so no reconnect can fire afterwards;
// the registry shows "disconnected" before the connection closes so a crash
// mid-teardown leaves the conservative value behind. Every step is
// best-effort: one failure does not block the rest.
func (m *Manager) Disconnect(id string) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.stopTimers(id)

	sess, ok := m.registry.Get(id)
	if !ok {
		slog.Info("disconnect for unknown session", "session", id)
		return
	}

	m.registry.Update(id, func(s *session.Session) {
		s.Status = session.StatusDisconnected
		s.Artifact = ""
	})
	m.writeSink(id, sink.Update{Status: string(session.StatusDisconnected)})

	if sess.Client != nil {
		if err := sess.Client.Close(); err != nil {
			slog.Warn("connection close failed", "session", id, "error", err)
		}
	}
	if err := m.creds.Delete(id); err != nil {
		slog.Warn("credential delete failed", "session", id, "error", err)
	}
	m.registry.Remove(id)
	slog.Info("session disconnected", "session", id)
}

// Close cancels all timers and closes every live connection. Registry
// entries are left in place; the sink already carries the last written
// status for each session.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	for id, kinds := range m.timers {
		for _, t := range kinds {
			t.Stop()
		}
		delete(m.timers, id)
	}
	m.mu.Unlock()

	for _, sess := range m.registry.List() {
		if sess.Client == nil {
			continue
		}
		if err := sess.Client.Close(); err != nil {
			slog.Warn("connection close failed", "session", sess.ID, "error", err)
		}
	}
	return nil
}

// writeSink pushes one status projection. Failures are logged and
// swallowed: the in-memory transition has already happened and must not
// depend on the sink's availability.
func (m *Manager) writeSink(id string, u sink.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if err := m.sink.Upsert(ctx, id, u); err != nil {
		slog.Warn("status sink write failed",
			"session", id, "status", u.Status, "error", err)
	}
}

// sessionLock returns the mutex serializing lifecycle transitions for the
// id. Entries survive session removal so a late timer fire and a fresh
// create for the same id still serialize.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) setTimer(id, kind string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	kinds, ok := m.timers[id]
	if !ok {
		kinds = make(map[string]*time.Timer)
		m.timers[id] = kinds
	}
	if t, ok := kinds[kind]; ok {
		t.Stop()
	}
	kinds[kind] = time.AfterFunc(d, func() {
		m.clearTimer(id, kind)
		fn()
	})
}

func (m *Manager) clearTimer(id, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kinds, ok := m.timers[id]; ok {
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(m.timers, id)
		}
	}
}

func (m *Manager) stopTimer(id, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kinds, ok := m.timers[id]; ok {
		if t, ok := kinds[kind]; ok {
			t.Stop()
			delete(kinds, kind)
		}
		if len(kinds) == 0 {
			delete(m.timers, id)
		}
	}
}

func (m *Manager) stopTimers(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.timers[id] {
		t.Stop()
	}
	delete(m.timers, id)
}
