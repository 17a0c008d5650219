package app

import (
	"sync"
	"time"

	"github.com/dkeye/SupportChat/internal/core"
)

// MessageRateLimiter is a per-session sliding window over message frames.
type MessageRateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewMessageRateLimiter returns nil when limit is not positive; a nil
// limiter allows everything.
func NewMessageRateLimiter(limit int, interval time.Duration) *MessageRateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &MessageRateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *MessageRateLimiter) Allow(sid core.SessionID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	rl.history[sid] = append(fresh, now)
	return true
}

func (rl *MessageRateLimiter) Forget(sid core.SessionID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, sid)
}
