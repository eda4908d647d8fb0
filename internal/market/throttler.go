// internal/market/throttler.go
package market

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Throttler coalesces refresh triggers so that a burst of notifications
// causes one refresh per interval instead of one per notification.
type Throttler struct {
	mu        sync.Mutex
	interval  time.Duration
	lastFire  time.Time
	pending   bool
	out       chan struct{}
	logger    *zap.Logger
	fired     uint64
	coalesced uint64
}

// NewThrottler creates a throttler; a zero interval fires on every trigger
// that finds no refresh already queued.
func NewThrottler(interval time.Duration, logger *zap.Logger) *Throttler {
	return &Throttler{
		interval: interval,
		out:      make(chan struct{}, 1),
		logger:   logger,
	}
}

// C delivers one value per refresh that should run.
func (t *Throttler) C() <-chan struct{} {
	return t.out
}

// Trigger requests a refresh.
func (t *Throttler) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastFire) < t.interval {
		t.pending = true
		t.coalesced++
		t.logger.Debug("Refresh trigger throttled", zap.Duration("since_last", now.Sub(t.lastFire)))
		return
	}
	t.fire(now)
}

// FlushPending fires a throttled trigger once the interval has passed.
// The owner calls it periodically.
func (t *Throttler) FlushPending() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pending {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFire) >= t.interval {
		t.fire(now)
	}
}

// fire queues a refresh. A refresh already queued absorbs this one.
func (t *Throttler) fire(now time.Time) {
	t.pending = false
	select {
	case t.out <- struct{}{}:
		t.lastFire = now
		t.fired++
	default:
		t.coalesced++
	}
}

// HasPending reports a throttled trigger that has not fired yet.
func (t *Throttler) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Stats returns how many refreshes were fired and how many triggers were absorbed.
func (t *Throttler) Stats() (fired, coalesced uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired, t.coalesced
}
