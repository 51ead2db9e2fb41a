package auditlog

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/ruikei/internal/reconcile"
)

// LogSink writes each notice as one structured log record.
type LogSink struct {
	logger *slog.Logger
}

var _ reconcile.AuditSink = (*LogSink)(nil)

// NewLogSink returns a sink that logs to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements reconcile.AuditSink.
func (s *LogSink) Record(ctx context.Context, n reconcile.Notice) {
	s.logger.Log(ctx, level(n.Severity), n.Message,
		"audit_code", n.Code,
		"severity", n.Severity,
		"cohort", n.Cohort,
		"type_guid", n.TypeGUID,
		"type_name", n.TypeName,
	)
}

func level(s reconcile.Severity) slog.Level {
	switch s {
	case reconcile.SeverityError:
		return slog.LevelError
	case reconcile.SeverityConflict, reconcile.SeverityAction:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Multi fans a notice out to every sink.
type Multi []reconcile.AuditSink

// Record implements reconcile.AuditSink.
func (m Multi) Record(ctx context.Context, n reconcile.Notice) {
	for _, s := range m {
		s.Record(ctx, n)
	}
}
