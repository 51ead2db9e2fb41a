package cohort

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
)

// Publisher is the subset of *nats.Conn used to send events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Emitter sends this node's outbound events to the cohort. It implements
// reconcile.EventEmitter.
type Emitter struct {
	conn   Publisher
	prefix string
	local  model.Originator
	logger *slog.Logger
}

var _ reconcile.EventEmitter = (*Emitter)(nil)

// NewEmitter creates an Emitter. local identifies this node as the
// originator of everything it sends; its CohortName is overwritten per event.
func NewEmitter(conn Publisher, prefix string, local model.Originator, logger *slog.Logger) *Emitter {
	return &Emitter{conn: conn, prefix: prefix, local: local, logger: logger}
}

// Publish sends ev to the named cohort, filling in the envelope fields this
// node owns.
func (e *Emitter) Publish(ctx context.Context, cohort string, ev model.TypeDefEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cohort: publish: %w", err)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	ev.Originator = e.local
	ev.Originator.CohortName = cohort

	data, err := Encode(ev)
	if err != nil {
		return err
	}
	subject := Subject(e.prefix, cohort)
	if err := e.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("cohort: publish to %s: %w", subject, err)
	}
	e.logger.Debug("cohort: event published", "cohort", cohort, "subject", subject,
		"event_id", ev.ID, "event_type", ev.EventType, "error_code", ev.ErrorCode)
	return nil
}

// EmitTypeDefConflict tells the originator of c.Incoming that it conflicts
// with the definition this node knows.
func (e *Emitter) EmitTypeDefConflict(ctx context.Context, c reconcile.Conflict) error {
	target, other := c.Incoming, c.Known
	return e.Publish(ctx, c.Cohort, model.TypeDefEvent{
		EventType:                  model.EventTypeDefError,
		ErrorCode:                  model.ErrorConflictingTypeDefs,
		ErrorMessage:               c.Message,
		TargetMetadataCollectionID: c.Target.MetadataCollectionID,
		TargetTypeDef:              &target,
		OtherTypeDef:               &other,
	})
}

// EmitAttributeTypeDefConflict is the attribute-type analogue of
// EmitTypeDefConflict.
func (e *Emitter) EmitAttributeTypeDefConflict(ctx context.Context, c reconcile.AttributeConflict) error {
	target, other := c.Incoming.Clone(), c.Known.Clone()
	return e.Publish(ctx, c.Cohort, model.TypeDefEvent{
		EventType:                  model.EventTypeDefError,
		ErrorCode:                  model.ErrorConflictingAttributeTypeDefs,
		ErrorMessage:               c.Message,
		TargetMetadataCollectionID: c.Target.MetadataCollectionID,
		TargetAttributeTypeDef:     &target,
		OtherAttributeTypeDef:      &other,
	})
}
