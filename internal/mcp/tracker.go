package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// inspectTracker records recent ruikei_get_review calls so
// handleResolveReview can tell when an operator resolves a review they never
// looked at and add a reminder to the result.
//
// The tracker is keyed on (subject, reviewID) with a time window. It is
// per-process and advisory: resolving still succeeds without an inspection.
type inspectTracker struct {
	mu     sync.Mutex
	seen   map[inspectKey]time.Time
	window time.Duration
	now    func() time.Time
}

type inspectKey struct {
	subject  string
	reviewID uuid.UUID
}

func newInspectTracker(window time.Duration) *inspectTracker {
	return &inspectTracker{
		seen:   make(map[inspectKey]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record notes that subject inspected the review.
func (t *inspectTracker) Record(subject string, reviewID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[inspectKey{subject, reviewID}] = t.now()

	// Lazy cleanup keeps the map bounded across many sessions.
	if len(t.seen) > 1000 {
		t.purgeStale()
	}
}

// WasInspected reports whether subject inspected the review within the window.
func (t *inspectTracker) WasInspected(subject string, reviewID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := inspectKey{subject, reviewID}
	ts, ok := t.seen[key]
	if !ok {
		return false
	}
	if t.now().Sub(ts) > t.window {
		delete(t.seen, key)
		return false
	}
	return true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *inspectTracker) purgeStale() {
	now := t.now()
	for k, ts := range t.seen {
		if now.Sub(ts) > t.window {
			delete(t.seen, k)
		}
	}
}
