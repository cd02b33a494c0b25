package creatives

import (
	"sync"
	"time"
)

// Cooldown kinds
const (
	CooldownChat   = "chat"
	CooldownTicket = "ticket"
	CooldownXP     = "xp"
)

func commandCooldownKind(name string) string {
	return "command:" + name
}

type cooldownKey struct {
	userID string
	kind   string
}

// RateLimiter tracks the last accepted action per (user, kind).
type RateLimiter struct {
	mu       sync.Mutex
	lastSeen map[cooldownKey]time.Time
	now      func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		lastSeen: map[cooldownKey]time.Time{},
		now:      time.Now,
	}
}

// Allow reports whether userID may perform an action of the given kind.
// An action within window of the last accepted one is rejected and
// leaves the record untouched; otherwise the record is updated.
func (r *RateLimiter) Allow(userID, kind string, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cooldownKey{userID: userID, kind: kind}
	now := r.now()
	if last, ok := r.lastSeen[key]; ok && now.Sub(last) < window {
		return false
	}
	r.lastSeen[key] = now
	return true
}

// Remaining returns how long until userID may perform kind again.
func (r *RateLimiter) Remaining(userID, kind string, window time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSeen[cooldownKey{userID: userID, kind: kind}]
	if !ok {
		return 0
	}
	remaining := window - r.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Forget drops every cooldown record for userID.
func (r *RateLimiter) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.lastSeen {
		if key.userID == userID {
			delete(r.lastSeen, key)
		}
	}
}

// SweepStale removes records older than maxAge, and returns the number
// removed. Records are only ever consulted within their window, so any
// maxAge longer than the longest window is safe.
func (r *RateLimiter) SweepStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for key, last := range r.lastSeen {
		if last.Before(cutoff) {
			delete(r.lastSeen, key)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastSeen)
}

// Kinds returns the cooldown kinds currently recorded for userID.
func (r *RateLimiter) Kinds(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []string
	for key := range r.lastSeen {
		if key.userID == userID {
			kinds = append(kinds, key.kind)
		}
	}
	return kinds
}
