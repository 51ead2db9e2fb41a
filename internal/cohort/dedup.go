package cohort

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/storage"
)

// DeliveryStore records which inbound events have been reconciled.
// *storage.DB implements it.
type DeliveryStore interface {
	BeginDelivery(ctx context.Context, eventID uuid.UUID, cohort string) (storage.DeliveryLookup, error)
	CompleteDelivery(ctx context.Context, eventID uuid.UUID, outcome string) error
	ClearDelivery(ctx context.Context, eventID uuid.UUID) error
}

// Dedup suppresses redelivered events. An event already reconciled returns
// its recorded outcome without reaching next; one being reconciled elsewhere
// is ignored. An event whose outcome is retryable is forgotten so that a
// redelivery reaches next again. Events without an ID, and every event while
// the store is failing, pass straight through.
type Dedup struct {
	store  DeliveryStore
	next   Inbound
	logger *slog.Logger
}

// NewDedup wraps next with delivery tracking in store.
func NewDedup(store DeliveryStore, next Inbound, logger *slog.Logger) *Dedup {
	return &Dedup{store: store, next: next, logger: logger}
}

// HandleInboundEvent implements Inbound.
func (d *Dedup) HandleInboundEvent(ctx context.Context, cohort string, ev *model.TypeDefEvent) reconcile.Outcome {
	if ev == nil || ev.ID == uuid.Nil {
		return d.next.HandleInboundEvent(ctx, cohort, ev)
	}

	lookup, err := d.store.BeginDelivery(ctx, ev.ID, cohort)
	switch {
	case errors.Is(err, storage.ErrDeliveryInProgress):
		d.logger.Debug("cohort: event already being reconciled", "cohort", cohort, "event_id", ev.ID)
		return reconcile.OutcomeIgnored
	case err != nil:
		d.logger.Warn("cohort: delivery tracking unavailable, reconciling anyway",
			"cohort", cohort, "event_id", ev.ID, "error", err)
		return d.next.HandleInboundEvent(ctx, cohort, ev)
	case lookup.Completed:
		d.logger.Debug("cohort: duplicate event", "cohort", cohort, "event_id", ev.ID, "outcome", lookup.Outcome)
		return reconcile.Outcome(lookup.Outcome)
	}

	outcome := d.next.HandleInboundEvent(ctx, cohort, ev)
	if outcome.Retryable() {
		if err := d.store.ClearDelivery(ctx, ev.ID); err != nil {
			d.logger.Warn("cohort: clear delivery", "event_id", ev.ID, "error", err)
		}
		return outcome
	}
	if err := d.store.CompleteDelivery(ctx, ev.ID, string(outcome)); err != nil {
		d.logger.Warn("cohort: complete delivery", "event_id", ev.ID, "error", err)
	}
	return outcome
}
