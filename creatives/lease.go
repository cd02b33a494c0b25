package creatives

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// LockManager admits at most one concurrent processing path per event key.
// Leases are released explicitly, or reaped by Sweep once older than the
// configured TTL.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewLockManager(ttl time.Duration, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		leases: map[string]time.Time{},
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// TryAcquire creates a lease for key and returns true, or returns false
// if a lease for key is already held. It never blocks on the lease.
func (m *LockManager) TryAcquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.leases[key]; held {
		m.logger.Debug("lease already held", "key", key)
		return false
	}
	m.leases[key] = m.now()
	leaseGauge.Set(float64(len(m.leases)))
	return true
}

// Release deletes the lease for key. Releasing an absent key is a no-op.
func (m *LockManager) Release(key string) {
	m.mu.Lock()
	delete(m.leases, key)
	leaseGauge.Set(float64(len(m.leases)))
	m.mu.Unlock()
}

// WithLease runs fn while holding the lease for key, and returns false
// without running fn if the lease is held elsewhere. The lease is
// released when fn returns or panics.
func (m *LockManager) WithLease(key string, fn func()) bool {
	if !m.TryAcquire(key) {
		return false
	}
	defer m.Release(key)
	fn()
	return true
}

// Sweep removes leases older than the TTL and returns how many were
// removed. It never panics.
func (m *LockManager) Sweep() (removed int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(
				"recovered panic sweeping leases",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if m.ttl <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	for key, acquiredAt := range m.leases {
		if acquiredAt.Before(cutoff) {
			delete(m.leases, key)
			removed++
			m.logger.Warn(
				"reaped expired lease",
				"key", key,
				"acquired_at", acquiredAt,
			)
		}
	}
	leaseGauge.Set(float64(len(m.leases)))
	return removed
}

// Held reports whether a lease for key currently exists.
func (m *LockManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.leases[key]
	return ok
}

func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Snapshot returns a copy of the current leases, keyed by lease key.
func (m *LockManager) Snapshot() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.leases))
	for k, v := range m.leases {
		out[k] = v
	}
	return out
}

func interactionLeaseKey(userID, interactionID string) string {
	return userID + ":" + interactionID
}

func messageLeaseKey(messageID, authorID string) string {
	return messageID + ":" + authorID
}

func xpLeaseKey(guildID, authorID, messageID string) string {
	return fmt.Sprintf("xp_%s_%s_%s", guildID, authorID, messageID)
}
