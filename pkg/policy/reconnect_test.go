package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/txn2/msgbridge/pkg/client"
)

func TestDecide_LoggedOutNeverRetries(t *testing.T) {
	p := NewReconnect()

	for _, attempt := range []int{0, 1, 4, 5, 100} {
		d := p.Decide(client.ReasonLoggedOut, attempt)
		assert.False(t, d.Retry, "attempt %d", attempt)
		assert.Zero(t, d.Delay)
	}
}

func TestDecide_BackoffSchedule(t *testing.T) {
	p := NewReconnect()

	tests := []struct {
		attempt int
		retry   bool
		delay   time.Duration
	}{
		{attempt: 0, retry: true, delay: 10 * time.Second},
		{attempt: 1, retry: true, delay: 20 * time.Second},
		{attempt: 2, retry: true, delay: 40 * time.Second},
		{attempt: 3, retry: true, delay: 80 * time.Second},
		{attempt: 4, retry: true, delay: 160 * time.Second},
		{attempt: 5, retry: false},
		{attempt: 6, retry: false},
	}

	for _, tt := range tests {
		d := p.Decide(client.ReasonConnectionLost, tt.attempt)
		assert.Equal(t, tt.retry, d.Retry, "attempt %d", tt.attempt)
		assert.Equal(t, tt.delay, d.Delay, "attempt %d", tt.attempt)
	}
}

func TestDecide_TimeoutFollowsSameSchedule(t *testing.T) {
	p := NewReconnect()

	d := p.Decide(client.ReasonTimeout, 0)
	assert.True(t, d.Retry)
	assert.Equal(t, 10*time.Second, d.Delay)
}

func TestDecide_DelayCapped(t *testing.T) {
	p := Reconnect{MaxAttempts: 20, BaseDelay: 10 * time.Second, MaxDelay: 160 * time.Second}

	for attempt := 4; attempt < 20; attempt++ {
		d := p.Decide(client.ReasonConnectionLost, attempt)
		assert.True(t, d.Retry)
		assert.Equal(t, 160*time.Second, d.Delay, "attempt %d", attempt)
	}
}

func TestDecide_CustomLimits(t *testing.T) {
	p := Reconnect{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second}

	d := p.Decide(client.ReasonConnectionLost, 0)
	assert.True(t, d.Retry)
	assert.Equal(t, time.Millisecond, d.Delay)

	d = p.Decide(client.ReasonConnectionLost, 1)
	assert.False(t, d.Retry)
}
