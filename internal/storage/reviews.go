package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/ruikei/internal/model"
)

const reviewColumns = `id, kind, status, cohort_name, originator, typedef_guid, typedef_name,
	event, reason, created_at, resolved_by, resolved_at, resolution_note`

// ReviewQueue is the Postgres-backed operator review queue.
type ReviewQueue struct {
	db *DB
}

// NewReviewQueue returns a review queue stored in db.
func NewReviewQueue(db *DB) *ReviewQueue {
	return &ReviewQueue{db: db}
}

// Enqueue inserts a new review.
func (q *ReviewQueue) Enqueue(ctx context.Context, r model.Review) error {
	originator, err := json.Marshal(r.Originator)
	if err != nil {
		return fmt.Errorf("storage: marshal review originator: %w", err)
	}
	event, err := json.Marshal(r.Event)
	if err != nil {
		return fmt.Errorf("storage: marshal review event: %w", err)
	}
	if r.Status == "" {
		r.Status = model.ReviewPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err = q.db.pool.Exec(ctx,
		`INSERT INTO type_reviews (id, kind, status, cohort_name, originator, typedef_guid, typedef_name, event, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9, $10)`,
		r.ID, string(r.Kind), string(r.Status), r.CohortName, originator,
		r.TypeDefGUID, r.TypeDefName, event, r.Reason, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert review: %w", err)
	}
	return nil
}

// List returns reviews with the given status, oldest first. An empty status
// returns all reviews.
func (q *ReviewQueue) List(ctx context.Context, status model.ReviewStatus) ([]model.Review, error) {
	rows, err := q.db.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM type_reviews
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list reviews: %w", err)
	}
	defer rows.Close()

	out := []model.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list reviews: %w", err)
	}
	return out, nil
}

// Get returns one review.
func (q *ReviewQueue) Get(ctx context.Context, id uuid.UUID) (model.Review, error) {
	r, err := scanReview(q.db.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM type_reviews WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Review{}, fmt.Errorf("storage: get review %s: %w", id, model.ErrReviewNotFound)
	}
	return r, err
}

// Resolve moves a pending review to status. The status check and the update
// run in one statement so two operators cannot both resolve the same review.
func (q *ReviewQueue) Resolve(ctx context.Context, id uuid.UUID, status model.ReviewStatus, resolvedBy string, note *string) (model.Review, error) {
	if status != model.ReviewApplied && status != model.ReviewDismissed {
		return model.Review{}, fmt.Errorf("storage: resolve review %s: invalid status %q", id, status)
	}

	var r model.Review
	err := q.db.retryWrite(ctx, "resolve review", retryAttempts, retryBaseDelay, func() error {
		var err error
		r, err = scanReview(q.db.pool.QueryRow(ctx,
			`UPDATE type_reviews
			 SET status = $2, resolved_by = $3, resolved_at = now(), resolution_note = $4
			 WHERE id = $1 AND status = 'pending'
			 RETURNING `+reviewColumns,
			id, string(status), resolvedBy, note))
		return err
	})
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Review{}, err
	}

	// Nothing updated: either the review does not exist or it is resolved.
	if _, getErr := q.Get(ctx, id); getErr != nil {
		return model.Review{}, getErr
	}
	return model.Review{}, fmt.Errorf("storage: resolve review %s: %w", id, model.ErrReviewResolved)
}

// CountPending returns the number of reviews awaiting a decision.
func (q *ReviewQueue) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.pool.QueryRow(ctx,
		`SELECT count(*) FROM type_reviews WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count pending reviews: %w", err)
	}
	return n, nil
}

func scanReview(row pgx.Row) (model.Review, error) {
	var (
		r                 model.Review
		kind, status      string
		originator, event []byte
	)
	err := row.Scan(&r.ID, &kind, &status, &r.CohortName, &originator, &r.TypeDefGUID, &r.TypeDefName,
		&event, &r.Reason, &r.CreatedAt, &r.ResolvedBy, &r.ResolvedAt, &r.ResolutionNote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Review{}, err
		}
		return model.Review{}, fmt.Errorf("storage: scan review: %w", err)
	}
	r.Kind = model.ReviewKind(kind)
	r.Status = model.ReviewStatus(status)
	if err := json.Unmarshal(originator, &r.Originator); err != nil {
		return model.Review{}, fmt.Errorf("storage: unmarshal review originator: %w", err)
	}
	if err := json.Unmarshal(event, &r.Event); err != nil {
		return model.Review{}, fmt.Errorf("storage: unmarshal review event: %w", err)
	}
	return r, nil
}
