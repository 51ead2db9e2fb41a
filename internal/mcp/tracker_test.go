package mcp

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInspectTracker_RecordAndCheck(t *testing.T) {
	tracker := newInspectTracker(time.Hour)
	id := uuid.New()

	if tracker.WasInspected("alice", id) {
		t.Fatal("expected WasInspected to return false before any Record")
	}

	tracker.Record("alice", id)

	if !tracker.WasInspected("alice", id) {
		t.Fatal("expected WasInspected to return true after Record")
	}
}

func TestInspectTracker_KeyedOnSubjectAndReview(t *testing.T) {
	tracker := newInspectTracker(time.Hour)
	id := uuid.New()
	tracker.Record("alice", id)

	if tracker.WasInspected("bob", id) {
		t.Fatal("another subject's inspection should not count")
	}
	if tracker.WasInspected("alice", uuid.New()) {
		t.Fatal("an inspection of another review should not count")
	}
}

func TestInspectTracker_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newInspectTracker(time.Minute)
	tracker.now = func() time.Time { return now }
	id := uuid.New()

	tracker.Record("alice", id)
	now = now.Add(30 * time.Second)
	if !tracker.WasInspected("alice", id) {
		t.Fatal("expected inspection to be valid inside the window")
	}

	now = now.Add(time.Minute)
	if tracker.WasInspected("alice", id) {
		t.Fatal("expected inspection to expire after the window")
	}
	if len(tracker.seen) != 0 {
		t.Fatalf("expected expired entry to be removed, have %d", len(tracker.seen))
	}
}

func TestInspectTracker_PurgesStaleEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newInspectTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	for range 1000 {
		tracker.Record("alice", uuid.New())
	}
	now = now.Add(time.Hour)
	fresh := uuid.New()
	tracker.Record("alice", fresh)

	if len(tracker.seen) != 1 {
		t.Fatalf("expected stale entries to be purged, have %d", len(tracker.seen))
	}
	if !tracker.WasInspected("alice", fresh) {
		t.Fatal("the fresh entry should survive the purge")
	}
}
