package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/txn2/msgbridge/pkg/session"
)

// Defaults for the staleness sweep.
const (
	DefaultSweepInterval  = 60 * time.Second
	DefaultStaleThreshold = 600 * time.Second
)

// MonitorConfig tunes the staleness sweep.
type MonitorConfig struct {
	Interval       time.Duration
	StaleThreshold time.Duration
}

// Monitor periodically evicts registry entries with no recent activity.
// Eviction is registry hygiene, not teardown: a long silent period does not
// imply the credentials are invalid, so the sweep neither closes the
// connection nor deletes credential material.
type Monitor struct {
	registry *session.Registry
	interval time.Duration
	stale    time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor over the registry.
func NewMonitor(reg *session.Registry, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	return &Monitor{
		registry: reg,
		interval: cfg.Interval,
		stale:    cfg.StaleThreshold,
		now:      time.Now,
	}
}

// Start launches the background sweep goroutine. It is stopped by Close.
func (mo *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	mo.cancel = cancel
	mo.done = make(chan struct{})

	go func() {
		defer close(mo.done)

		ticker := time.NewTicker(mo.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mo.sweep()
			}
		}
	}()
}

// sweep removes every session whose last activity is older than the stale
// threshold. It iterates a snapshot, so handlers may mutate the registry
// concurrently.
func (mo *Monitor) sweep() {
	now := mo.now()
	for _, sess := range mo.registry.List() {
		idle := now.Sub(sess.LastActivity)
		if idle <= mo.stale {
			continue
		}
		mo.registry.Remove(sess.ID)
		slog.Info("evicted stale session",
			"session", sess.ID, "status", sess.Status, "idle", idle)
	}
}

// Close stops the sweep goroutine and waits for it to exit.
// It is safe to call Close even if Start was never called.
func (mo *Monitor) Close() error {
	if mo.cancel != nil {
		mo.cancel()
		<-mo.done
	}
	return nil
}
