// Package review holds inbound events that wait for an operator decision.
package review

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/model"
)

// Memory is a process-local review queue. Reviews are lost on restart; use
// the Postgres queue in internal/storage when that matters.
type Memory struct {
	mu      sync.RWMutex
	reviews map[uuid.UUID]model.Review
}

// NewMemory creates an empty queue.
func NewMemory() *Memory {
	return &Memory{reviews: make(map[uuid.UUID]model.Review)}
}

// Enqueue stores a new review. The ID must be unused.
func (m *Memory) Enqueue(_ context.Context, r model.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[r.ID]; ok {
		return fmt.Errorf("review: enqueue: duplicate id %s", r.ID)
	}
	m.reviews[r.ID] = r
	return nil
}

// List returns reviews with the given status, oldest first. An empty status
// returns all reviews.
func (m *Memory) List(_ context.Context, status model.ReviewStatus) ([]model.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Review, 0, len(m.reviews))
	for _, r := range m.reviews {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Review) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// Get returns one review.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (model.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	if !ok {
		return model.Review{}, fmt.Errorf("review: get %s: %w", id, model.ErrReviewNotFound)
	}
	return r, nil
}

// Resolve moves a pending review to status.
func (m *Memory) Resolve(_ context.Context, id uuid.UUID, status model.ReviewStatus, resolvedBy string, note *string) (model.Review, error) {
	if status != model.ReviewApplied && status != model.ReviewDismissed {
		return model.Review{}, fmt.Errorf("review: resolve %s: invalid status %q", id, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok {
		return model.Review{}, fmt.Errorf("review: resolve %s: %w", id, model.ErrReviewNotFound)
	}
	if r.Status != model.ReviewPending {
		return model.Review{}, fmt.Errorf("review: resolve %s: %w", id, model.ErrReviewResolved)
	}
	now := time.Now().UTC()
	r.Status = status
	r.ResolvedBy = &resolvedBy
	r.ResolvedAt = &now
	r.ResolutionNote = note
	m.reviews[id] = r
	return r, nil
}

// CountPending returns the number of reviews awaiting a decision.
func (m *Memory) CountPending(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.reviews {
		if r.Status == model.ReviewPending {
			n++
		}
	}
	return n, nil
}
