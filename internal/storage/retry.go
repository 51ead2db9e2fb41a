package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

// Review resolution and delivery bookkeeping can lose a serialization or
// deadlock race against another node sharing the database. Those writes are
// attempted again; nothing else is.
const (
	retryAttempts  = 3
	retryBaseDelay = 10 * time.Millisecond
)

// transientConflict reports whether err is a Postgres serialization failure
// (40001) or deadlock (40P01).
func transientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// retryWrite runs fn, repeating it up to attempts more times while it fails
// with a transient conflict. Waits grow exponentially from baseDelay with
// jitter and end early when ctx is done. Other errors are returned at once.
func (db *DB) retryWrite(ctx context.Context, op string, attempts uint64, baseDelay time.Duration, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = baseDelay
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	n := 0
	return backoff.RetryNotify(
		func() error {
			err := fn()
			if err != nil && !transientConflict(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx),
		func(err error, wait time.Duration) {
			n++
			db.logger.Debug("storage: write lost a transaction race, retrying",
				"op", op, "attempt", n, "wait", wait, "error", err)
		},
	)
}
