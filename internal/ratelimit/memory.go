package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keys idle for longer than idleTTL are forgotten. The sweep runs on the
// request path, at most once per sweepInterval.
const (
	idleTTL       = 10 * time.Minute
	sweepInterval = time.Minute
)

type keyState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Limits are
// not shared between replicas.
type MemoryLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	keys      map[string]*keyState
	lastSweep time.Time
}

// NewMemoryLimiter creates a limiter that sustains rps requests per second
// per key with bursts up to burst. A burst below one is raised to one.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		limit: rate.Limit(rps),
		burst: max(burst, 1),
		now:   time.Now,
		keys:  make(map[string]*keyState),
	}
}

// Allow charges one token to key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.sweepLocked(now)
	}
	st, ok := m.keys[key]
	if !ok {
		st = &keyState{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.keys[key] = st
	}
	st.lastSeen = now
	return st.limiter.AllowN(now, 1), nil
}

func (m *MemoryLimiter) sweepLocked(now time.Time) {
	m.lastSweep = now
	for key, st := range m.keys {
		if now.Sub(st.lastSeen) > idleTTL {
			delete(m.keys, key)
		}
	}
}

// Len returns the number of keys currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Close implements Limiter. The memory limiter holds nothing to release.
func (m *MemoryLimiter) Close() error { return nil }
