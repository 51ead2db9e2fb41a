package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDeliveryInProgress indicates another worker is processing the same
// inbound event.
var ErrDeliveryInProgress = errors.New("storage: event delivery already in progress")

// DeliveryLookup describes an inbound event that has been seen before.
type DeliveryLookup struct {
	Completed bool
	Outcome   string
}

// BeginDelivery reserves an inbound event for processing.
//
// (lookup, nil) with lookup.Completed=false means the caller owns the event.
// With lookup.Completed=true the event was already reconciled and
// lookup.Outcome is what happened to it. ErrDeliveryInProgress means another
// worker holds the reservation. Abandoned reservations are not taken over;
// they block redelivery until CleanupDeliveries removes them.
func (db *DB) BeginDelivery(ctx context.Context, eventID uuid.UUID, cohort string) (DeliveryLookup, error) {
	var tag pgconn.CommandTag
	err := db.retryWrite(ctx, "begin delivery", retryAttempts, retryBaseDelay, func() error {
		var err error
		tag, err = db.pool.Exec(ctx,
			`INSERT INTO event_deliveries (event_id, cohort_name) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			eventID, cohort)
		return err
	})
	if err != nil {
		return DeliveryLookup{}, fmt.Errorf("storage: begin delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return DeliveryLookup{}, nil
	}

	var (
		status  string
		outcome *string
	)
	if err := db.pool.QueryRow(ctx,
		`SELECT status, outcome FROM event_deliveries WHERE event_id = $1`, eventID,
	).Scan(&status, &outcome); err != nil {
		return DeliveryLookup{}, fmt.Errorf("storage: lookup delivery: %w", err)
	}
	if status != "completed" {
		return DeliveryLookup{}, ErrDeliveryInProgress
	}
	lookup := DeliveryLookup{Completed: true}
	if outcome != nil {
		lookup.Outcome = *outcome
	}
	return lookup, nil
}

// CompleteDelivery records the outcome of a reserved event.
func (db *DB) CompleteDelivery(ctx context.Context, eventID uuid.UUID, outcome string) error {
	var tag pgconn.CommandTag
	err := db.retryWrite(ctx, "complete delivery", retryAttempts, retryBaseDelay, func() error {
		var err error
		tag, err = db.pool.Exec(ctx,
			`UPDATE event_deliveries SET status = 'completed', outcome = $2, updated_at = now()
			 WHERE event_id = $1 AND status = 'in_progress'`,
			eventID, outcome)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: complete delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete delivery %s: not in progress", eventID)
	}
	return nil
}

// ClearDelivery drops an in-progress reservation so a redelivery can be
// processed.
func (db *DB) ClearDelivery(ctx context.Context, eventID uuid.UUID) error {
	err := db.retryWrite(ctx, "clear delivery", retryAttempts, retryBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`DELETE FROM event_deliveries WHERE event_id = $1 AND status = 'in_progress'`, eventID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: clear delivery: %w", err)
	}
	return nil
}

// CleanupDeliveries removes completed records older than completedTTL and
// abandoned reservations older than inProgressTTL.
func (db *DB) CleanupDeliveries(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM event_deliveries
		 WHERE (status = 'completed' AND updated_at < now() - ($1 * interval '1 microsecond'))
		    OR (status = 'in_progress' AND updated_at < now() - ($2 * interval '1 microsecond'))`,
		completedTTL.Microseconds(), inProgressTTL.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
