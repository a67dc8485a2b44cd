package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedUsers caps the per-user table so rotating accounts cannot
	// grow it without bound.
	maxTrackedUsers = 4096

	DefaultUserCooldown   = 30 * time.Second
	DefaultGlobalInterval = 5 * time.Second
)

// Cooldown throttles a user-triggered command: each user may run it once
// per cooldown, and all users together at most once per global interval.
// Safe for concurrent use.
type Cooldown struct {
	mu      sync.Mutex
	per     time.Duration
	lastUse map[string]time.Time
	global  *rate.Limiter
	now     func() time.Time
}

// NewCooldown creates a limiter. Non-positive durations select the
// defaults.
func NewCooldown(perUser, globalEvery time.Duration) *Cooldown {
	if perUser <= 0 {
		perUser = DefaultUserCooldown
	}
	if globalEvery <= 0 {
		globalEvery = DefaultGlobalInterval
	}
	return &Cooldown{
		per:     perUser,
		lastUse: make(map[string]time.Time),
		global:  rate.NewLimiter(rate.Every(globalEvery), 1),
		now:     time.Now,
	}
}

// Allow reports whether userID may run the command now. When it returns
// false, retryAfter is how long the caller should wait.
func (c *Cooldown) Allow(userID string) (ok bool, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, seen := c.lastUse[userID]; seen {
		if wait := c.per - now.Sub(last); wait > 0 {
			return false, wait
		}
	}

	r := c.global.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}

	c.prune(now)
	c.lastUse[userID] = now
	return true, 0
}

// prune drops expired users once the table reaches its cap. Caller holds mu.
func (c *Cooldown) prune(now time.Time) {
	if len(c.lastUse) < maxTrackedUsers {
		return
	}
	for k, t := range c.lastUse {
		if now.Sub(t) >= c.per {
			delete(c.lastUse, k)
		}
	}
	for len(c.lastUse) >= maxTrackedUsers {
		for k := range c.lastUse {
			delete(c.lastUse, k)
			break
		}
	}
}
