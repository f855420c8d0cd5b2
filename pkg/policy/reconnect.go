// Package policy isolates the reconnect decision so it is testable without
// standing up a connection. Decide is a pure function of the disconnect
// reason and the attempt count.
package policy

import (
	"time"

	"github.com/txn2/msgbridge/pkg/client"
)

// Defaults for the reconnect schedule.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Second
	DefaultMaxDelay    = 160 * time.Second
)

// Decision is the outcome of one reconnect evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Reconnect holds the bounded exponential backoff parameters.
type Reconnect struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewReconnect returns a policy with the default schedule.
func NewReconnect() Reconnect {
	return Reconnect{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Decide maps (disconnect reason, attempt count) to a retry decision.
// An explicit logout never retries: the server invalidated the session's
// credentials and reconnecting with them cannot succeed. Otherwise retries
// follow capped exponential backoff until MaxAttempts is reached.
func (p Reconnect) Decide(reason client.CloseReason, attempt int) Decision {
	if reason == client.ReasonLoggedOut {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}
