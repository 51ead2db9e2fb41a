package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/ruikei/internal/reconcile"
)

// InsertAuditNotices appends notices using the COPY protocol. The target
// table is append-only.
func (db *DB) InsertAuditNotices(ctx context.Context, notices []reconcile.Notice) (int64, error) {
	if len(notices) == 0 {
		return 0, nil
	}

	columns := []string{"code", "severity", "message", "cohort_name", "type_guid", "type_name", "occurred_at"}
	rows := make([][]any, len(notices))
	for i, n := range notices {
		rows[i] = []any{n.Code, string(n.Severity), n.Message, n.Cohort, n.TypeGUID, n.TypeName, n.OccurredAt}
	}

	// A hung Postgres must not block the audit buffer flush indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	count, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"type_audit_log"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy audit notices: %w", err)
	}
	return count, nil
}

// AuditFilter narrows ListAuditNotices. Zero fields do not filter.
type AuditFilter struct {
	TypeName string
	Cohort   string
	Code     string
	Limit    int
}

// ListAuditNotices returns the newest notices first.
func (db *DB) ListAuditNotices(ctx context.Context, f AuditFilter) ([]reconcile.Notice, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT code, severity, message, cohort_name, type_guid, type_name, occurred_at
		 FROM type_audit_log
		 WHERE ($1 = '' OR type_name = $1)
		   AND ($2 = '' OR cohort_name = $2)
		   AND ($3 = '' OR code = $3)
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $4`,
		f.TypeName, f.Cohort, f.Code, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit notices: %w", err)
	}
	notices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reconcile.Notice, error) {
		var (
			n        reconcile.Notice
			severity string
		)
		err := row.Scan(&n.Code, &severity, &n.Message, &n.Cohort, &n.TypeGUID, &n.TypeName, &n.OccurredAt)
		n.Severity = reconcile.Severity(severity)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan audit notices: %w", err)
	}
	return notices, nil
}

// PurgeAuditNotices deletes notices older than cutoff and returns how many
// were removed.
func (db *DB) PurgeAuditNotices(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM type_audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: purge audit notices: %w", err)
	}
	return tag.RowsAffected(), nil
}
