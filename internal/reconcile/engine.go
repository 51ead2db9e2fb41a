// Package reconcile applies type lifecycle events received from cohort peers
// to the local registry and repository.
//
// Every inbound event ends in exactly one of three ways: the definition is
// committed to the cache, the engine declines to commit it and says why (log,
// audit notice and, for conflicts, an outbound event), or the event is queued
// for an operator to decide. HandleInboundEvent never returns an error; the
// registry stays available for queries whatever a single event does.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/telemetry"
)

// Outcome summarizes what the engine did with one inbound event.
type Outcome string

const (
	OutcomeCachedKnown   Outcome = "cached_known"
	OutcomeCachedActive  Outcome = "cached_active"
	OutcomeAlreadyKnown  Outcome = "already_known"
	OutcomeConflict      Outcome = "conflict"
	OutcomeRejected      Outcome = "rejected"
	OutcomeUpdated       Outcome = "updated"
	OutcomeUpdateDropped Outcome = "update_dropped"
	OutcomeQueued        Outcome = "queued_for_review"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeFailed        Outcome = "failed"

	// OutcomeCachedKnownRetryable means the definition was cached as known
	// because the local repository could not be reached. A redelivery may
	// still make it active.
	OutcomeCachedKnownRetryable Outcome = "cached_known_retryable"
	// OutcomeSuperTypeNotKnown means the definition was refused because its
	// super-type has not arrived yet.
	OutcomeSuperTypeNotKnown Outcome = "super_type_not_known"
)

// Retryable reports whether delivering the same event again could end
// differently.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeFailed, OutcomeCachedKnownRetryable, OutcomeSuperTypeNotKnown:
		return true
	}
	return false
}

// ReviewHook is called after an event has been queued for review.
type ReviewHook func(ctx context.Context, r model.Review)

// Config wires an Engine to its collaborators. Cache and Reviews are
// required; a nil Repository means the node has no local repository, and
// nil Emitter or Audit discard what they would have received.
type Config struct {
	Cache      TypeCache
	Repository LocalRepository
	Emitter    EventEmitter
	Audit      AuditSink
	Reviews    ReviewQueue
	ReviewHook ReviewHook

	// LocalCollectionID identifies this node's metadata collection. Events it
	// originated are ignored.
	LocalCollectionID string
	Logger            *slog.Logger
}

// Engine reconciles inbound events. It is safe for concurrent use.
type Engine struct {
	cache   TypeCache
	repo    LocalRepository
	emitter EventEmitter
	audit   AuditSink
	reviews ReviewQueue
	hook    ReviewHook
	localID string
	logger  *slog.Logger

	eventCounter    metric.Int64Counter
	eventDuration   metric.Float64Histogram
	conflictCounter metric.Int64Counter
}

var _ Handler = (*Engine)(nil)

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, errors.New("reconcile: cache is required")
	}
	if cfg.Reviews == nil {
		return nil, errors.New("reconcile: review queue is required")
	}
	if cfg.Repository != nil && !cfg.Cache.HasLocalRepository() {
		return nil, errors.New("reconcile: repository configured but cache was built without a local repository")
	}
	e := &Engine{
		cache:   cfg.Cache,
		repo:    cfg.Repository,
		emitter: cfg.Emitter,
		audit:   cfg.Audit,
		reviews: cfg.Reviews,
		hook:    cfg.ReviewHook,
		localID: cfg.LocalCollectionID,
		logger:  cfg.Logger,
	}
	if e.emitter == nil {
		e.emitter = noopEmitter{}
	}
	if e.audit == nil {
		e.audit = noopAudit{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	meter := telemetry.Meter("ruikei/reconcile")
	e.eventCounter, _ = meter.Int64Counter("ruikei.reconcile.events",
		metric.WithDescription("Inbound type events by event type and outcome"),
	)
	e.eventDuration, _ = meter.Float64Histogram("ruikei.reconcile.duration",
		metric.WithDescription("Time to reconcile one inbound type event (ms)"),
		metric.WithUnit("ms"),
	)
	e.conflictCounter, _ = meter.Int64Counter("ruikei.reconcile.conflicts",
		metric.WithDescription("Type conflicts detected and reported to the cohort"),
	)
	return e, nil
}

// HandleInboundEvent reconciles one event received on the named cohort.
// Unknown discriminators, missing payloads and events this node sent itself
// are dropped with a debug log.
func (e *Engine) HandleInboundEvent(ctx context.Context, cohort string, ev *model.TypeDefEvent) Outcome {
	start := time.Now()
	eventType := "nil"
	if ev != nil {
		eventType = string(ev.EventType)
	}
	outcome := e.handle(ctx, cohort, ev)
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", string(outcome)),
	)
	e.eventCounter.Add(ctx, 1, attrs)
	e.eventDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	return outcome
}

func (e *Engine) handle(ctx context.Context, cohort string, ev *model.TypeDefEvent) Outcome {
	decoded, err := Decode(ev)
	if err != nil {
		e.logger.Debug("reconcile: event dropped", "cohort", cohort, "error", err)
		return OutcomeIgnored
	}
	if e.localID != "" && ev.Originator.MetadataCollectionID == e.localID {
		e.logger.Debug("reconcile: ignoring own event", "cohort", cohort, "event_type", ev.EventType)
		return OutcomeIgnored
	}
	return decoded.dispatch(ctx, e, cohort)
}

// HandleNewTypeDef applies the new-type outcome table.
func (e *Engine) HandleNewTypeDef(ctx context.Context, cohort string, ev NewTypeDef) Outcome {
	def := ev.TypeDef
	origin := ev.Originator()
	log := e.logger.With("cohort", cohort, "originator", origin.MetadataCollectionID,
		"type_guid", def.GUID, "type_name", def.Name, "type_version", def.Version)

	if def.GUID == "" || def.Name == "" || !def.Category.Valid() {
		log.Warn("reconcile: new type rejected, identity incomplete", "category", def.Category)
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, "missing guid, name or category"))
		return OutcomeRejected
	}

	// A different definition already cached under this name or GUID is a
	// conflict whatever the repository says.
	if known, ok := e.knownTypeDefConflict(def); ok {
		e.reportTypeDefConflict(ctx, cohort, origin, def, known, "type definition conflicts with the cached definition")
		return OutcomeConflict
	}
	if _, ok := e.cache.TypeDefByGUID(registry.Known, def.GUID); ok {
		// Identical to the cached copy. Only worth going to the repository
		// if it could still become active.
		if _, active := e.cache.TypeDefByGUID(registry.Active, def.GUID); active || e.repo == nil {
			log.Debug("reconcile: type already known")
			return OutcomeAlreadyKnown
		}
	}
	// The repository must not hold a definition the cache would refuse.
	if err := e.cache.CheckPut(def); err != nil {
		return e.refuseTypeDef(ctx, cohort, origin, def, err)
	}

	if e.repo == nil {
		return e.commitTypeDef(ctx, cohort, origin, def, false)
	}

	verified, err := e.repo.VerifyTypeDef(ctx, def)
	if err == nil && verified {
		return e.commitTypeDef(ctx, cohort, origin, def, true)
	}
	if err == nil {
		err = e.repo.AddTypeDef(ctx, def)
		if err == nil {
			e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefAdded.Notice(def.Name, def.GUID, def.Version, origin.MetadataCollectionID))
			log.Info("reconcile: type added to local repository")
			return e.commitTypeDef(ctx, cohort, origin, def, true)
		}
	}

	var conflict *localrepo.ConflictError
	switch {
	case errors.As(err, &conflict) && conflict.Existing != nil:
		e.reportTypeDefConflict(ctx, cohort, origin, def, *conflict.Existing, err.Error())
		return OutcomeConflict
	case errors.Is(err, localrepo.ErrConflict):
		known, ok := e.cache.TypeDefByName(registry.Known, def.Name)
		if !ok {
			known, ok = e.cache.TypeDefByGUID(registry.Known, def.GUID)
		}
		if !ok {
			// The repository has something the cache has never seen; report
			// what we can.
			known = model.TypeDef{Name: def.Name, Category: def.Category}
		}
		e.reportTypeDefConflict(ctx, cohort, origin, def, known, err.Error())
		return OutcomeConflict
	case errors.Is(err, localrepo.ErrAlreadyKnown):
		return e.commitTypeDef(ctx, cohort, origin, def, true)
	case errors.Is(err, localrepo.ErrNotSupported):
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefNotSupported.Notice(def.Name, def.GUID, origin.MetadataCollectionID))
		log.Info("reconcile: type not supported by local repository, caching as known")
		return e.commitTypeDef(ctx, cohort, origin, def, false)
	case errors.Is(err, localrepo.ErrInvalid):
		log.Error("reconcile: local repository rejected type as invalid", "error", err)
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
		return OutcomeRejected
	default:
		// Unavailable, or a failure the repository did not classify. The
		// definition is still known; local support is unconfirmed.
		log.Error("reconcile: local repository failed, caching type as known", "error", err)
		e.record(ctx, cohort, def.GUID, def.Name, AuditRepositoryUnavailable.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
		return retryable(e.commitTypeDef(ctx, cohort, origin, def, false))
	}
}

// knownTypeDefConflict returns the cached definition that def contradicts.
func (e *Engine) knownTypeDefConflict(def model.TypeDef) (model.TypeDef, bool) {
	if known, ok := e.cache.TypeDefByName(registry.Known, def.Name); ok {
		if known.GUID != def.GUID || known.Version != def.Version || known.Category != def.Category {
			return known, true
		}
	}
	if known, ok := e.cache.TypeDefByGUID(registry.Known, def.GUID); ok && known.Name != def.Name {
		return known, true
	}
	return model.TypeDef{}, false
}

// commitTypeDef writes def to the cache. If the cache refuses, another event
// committed a contradicting definition first, or def's super-type is unknown.
func (e *Engine) commitTypeDef(ctx context.Context, cohort string, origin model.Originator, def model.TypeDef, active bool) Outcome {
	if e.cache.Put(def, active) {
		e.logger.Debug("reconcile: type cached", "cohort", cohort, "type_guid", def.GUID, "type_name", def.Name, "active", active)
		if active && e.cache.HasLocalRepository() {
			return OutcomeCachedActive
		}
		return OutcomeCachedKnown
	}
	err := e.cache.CheckPut(def)
	if err == nil {
		err = errors.New("cache refused the definition")
	}
	return e.refuseTypeDef(ctx, cohort, origin, def, err)
}

// refuseTypeDef reports why the cache will not hold def. A contradiction with
// a cached definition is a conflict; anything else is a hierarchy problem.
func (e *Engine) refuseTypeDef(ctx context.Context, cohort string, origin model.Originator, def model.TypeDef, err error) Outcome {
	if known, ok := e.knownTypeDefConflict(def); ok {
		e.reportTypeDefConflict(ctx, cohort, origin, def, known, "type definition conflicts with the cached definition")
		return OutcomeConflict
	}
	e.logger.Warn("reconcile: cache refused type", "cohort", cohort, "type_guid", def.GUID, "type_name", def.Name,
		"super_type", superName(def), "error", err)
	e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
	if errors.Is(err, registry.ErrSuperTypeNotKnown) {
		return OutcomeSuperTypeNotKnown
	}
	return OutcomeRejected
}

// retryable marks a known-only commit made while the repository was
// unreachable.
func retryable(o Outcome) Outcome {
	if o == OutcomeCachedKnown {
		return OutcomeCachedKnownRetryable
	}
	return o
}

func superName(def model.TypeDef) string {
	if def.SuperType == nil {
		return ""
	}
	return def.SuperType.Name
}

func (e *Engine) reportTypeDefConflict(ctx context.Context, cohort string, origin model.Originator, incoming, known model.TypeDef, msg string) {
	e.conflictCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "typedef")))
	e.logger.Warn("reconcile: type conflict",
		"cohort", cohort, "originator", origin.MetadataCollectionID,
		"incoming_guid", incoming.GUID, "incoming_name", incoming.Name, "incoming_version", incoming.Version,
		"known_guid", known.GUID, "known_name", known.Name, "known_version", known.Version)
	e.record(ctx, cohort, incoming.GUID, incoming.Name, AuditTypeDefConflict.Notice(
		incoming.Name, incoming.GUID, incoming.Version, origin.MetadataCollectionID,
		known.Name, known.GUID, known.Version))

	err := e.emitter.EmitTypeDefConflict(ctx, Conflict{
		Cohort:   cohort,
		Target:   origin,
		Incoming: incoming.Summary(),
		Known:    known.Summary(),
		Message:  msg,
	})
	if err != nil {
		e.logger.Error("reconcile: failed to emit type conflict", "cohort", cohort, "type_name", incoming.Name, "error", err)
	}
}

// HandleNewAttributeTypeDef mirrors HandleNewTypeDef for attribute types.
func (e *Engine) HandleNewAttributeTypeDef(ctx context.Context, cohort string, ev NewAttributeTypeDef) Outcome {
	def := ev.AttributeTypeDef
	origin := ev.Originator()
	log := e.logger.With("cohort", cohort, "originator", origin.MetadataCollectionID,
		"type_guid", def.GUID, "type_name", def.Name, "type_version", def.Version)

	if def.GUID == "" || def.Name == "" || !def.Category.Valid() {
		log.Warn("reconcile: new attribute type rejected, identity incomplete", "category", def.Category)
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, "missing guid, name or category"))
		return OutcomeRejected
	}
	if known, ok := e.knownAttributeConflict(def); ok {
		e.reportAttributeConflict(ctx, cohort, origin, def, known, "attribute type conflicts with the cached definition")
		return OutcomeConflict
	}
	if _, ok := e.cache.AttributeTypeDefByGUID(registry.Known, def.GUID); ok {
		if _, active := e.cache.AttributeTypeDefByGUID(registry.Active, def.GUID); active || e.repo == nil {
			log.Debug("reconcile: attribute type already known")
			return OutcomeAlreadyKnown
		}
	}
	if err := e.cache.CheckPutAttributeTypeDef(def); err != nil {
		return e.refuseAttribute(ctx, cohort, origin, def, err)
	}

	if e.repo == nil {
		return e.commitAttribute(ctx, cohort, origin, def, false)
	}

	verified, err := e.repo.VerifyAttributeTypeDef(ctx, def)
	if err == nil && verified {
		return e.commitAttribute(ctx, cohort, origin, def, true)
	}
	if err == nil {
		err = e.repo.AddAttributeTypeDef(ctx, def)
		if err == nil {
			e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefAdded.Notice(def.Name, def.GUID, def.Version, origin.MetadataCollectionID))
			log.Info("reconcile: attribute type added to local repository")
			return e.commitAttribute(ctx, cohort, origin, def, true)
		}
	}

	var conflict *localrepo.ConflictError
	switch {
	case errors.As(err, &conflict) && conflict.ExistingAttribute != nil:
		e.reportAttributeConflict(ctx, cohort, origin, def, *conflict.ExistingAttribute, err.Error())
		return OutcomeConflict
	case errors.Is(err, localrepo.ErrConflict):
		known, ok := e.cache.AttributeTypeDefByName(registry.Known, def.Name)
		if !ok {
			known = model.AttributeTypeDef{Name: def.Name, Category: def.Category}
		}
		e.reportAttributeConflict(ctx, cohort, origin, def, known, err.Error())
		return OutcomeConflict
	case errors.Is(err, localrepo.ErrAlreadyKnown):
		return e.commitAttribute(ctx, cohort, origin, def, true)
	case errors.Is(err, localrepo.ErrNotSupported):
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefNotSupported.Notice(def.Name, def.GUID, origin.MetadataCollectionID))
		log.Info("reconcile: attribute type not supported by local repository, caching as known")
		return e.commitAttribute(ctx, cohort, origin, def, false)
	case errors.Is(err, localrepo.ErrInvalid):
		log.Error("reconcile: local repository rejected attribute type as invalid", "error", err)
		e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
		return OutcomeRejected
	default:
		log.Error("reconcile: local repository failed, caching attribute type as known", "error", err)
		e.record(ctx, cohort, def.GUID, def.Name, AuditRepositoryUnavailable.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
		return retryable(e.commitAttribute(ctx, cohort, origin, def, false))
	}
}

func (e *Engine) knownAttributeConflict(def model.AttributeTypeDef) (model.AttributeTypeDef, bool) {
	if known, ok := e.cache.AttributeTypeDefByName(registry.Known, def.Name); ok {
		if known.GUID != def.GUID || known.Version != def.Version || known.Category != def.Category {
			return known, true
		}
	}
	if known, ok := e.cache.AttributeTypeDefByGUID(registry.Known, def.GUID); ok && known.Name != def.Name {
		return known, true
	}
	return model.AttributeTypeDef{}, false
}

func (e *Engine) commitAttribute(ctx context.Context, cohort string, origin model.Originator, def model.AttributeTypeDef, active bool) Outcome {
	if e.cache.PutAttributeTypeDef(def, active) {
		e.logger.Debug("reconcile: attribute type cached", "cohort", cohort, "type_guid", def.GUID, "type_name", def.Name, "active", active)
		if active && e.cache.HasLocalRepository() {
			return OutcomeCachedActive
		}
		return OutcomeCachedKnown
	}
	err := e.cache.CheckPutAttributeTypeDef(def)
	if err == nil {
		err = errors.New("cache refused the definition")
	}
	return e.refuseAttribute(ctx, cohort, origin, def, err)
}

func (e *Engine) refuseAttribute(ctx context.Context, cohort string, origin model.Originator, def model.AttributeTypeDef, err error) Outcome {
	if known, ok := e.knownAttributeConflict(def); ok {
		e.reportAttributeConflict(ctx, cohort, origin, def, known, "attribute type conflicts with the cached definition")
		return OutcomeConflict
	}
	e.logger.Warn("reconcile: cache refused attribute type", "cohort", cohort, "type_guid", def.GUID, "type_name", def.Name, "error", err)
	e.record(ctx, cohort, def.GUID, def.Name, AuditTypeDefInvalid.Notice(def.Name, def.GUID, origin.MetadataCollectionID, err))
	return OutcomeRejected
}

func (e *Engine) reportAttributeConflict(ctx context.Context, cohort string, origin model.Originator, incoming, known model.AttributeTypeDef, msg string) {
	e.conflictCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "attribute_typedef")))
	e.logger.Warn("reconcile: attribute type conflict",
		"cohort", cohort, "originator", origin.MetadataCollectionID,
		"incoming_guid", incoming.GUID, "incoming_name", incoming.Name, "incoming_version", incoming.Version,
		"known_guid", known.GUID, "known_name", known.Name, "known_version", known.Version)
	e.record(ctx, cohort, incoming.GUID, incoming.Name, AuditTypeDefConflict.Notice(
		incoming.Name, incoming.GUID, incoming.Version, origin.MetadataCollectionID,
		known.Name, known.GUID, known.Version))

	err := e.emitter.EmitAttributeTypeDefConflict(ctx, AttributeConflict{
		Cohort:   cohort,
		Target:   origin,
		Incoming: incoming,
		Known:    known,
		Message:  msg,
	})
	if err != nil {
		e.logger.Error("reconcile: failed to emit attribute type conflict", "cohort", cohort, "type_name", incoming.Name, "error", err)
	}
}

// HandleUpdatedTypeDef applies a peer's patch. Any failure drops the event;
// nothing is re-emitted to the cohort.
func (e *Engine) HandleUpdatedTypeDef(ctx context.Context, cohort string, ev UpdatedTypeDef) Outcome {
	patch := ev.Patch
	origin := ev.Originator()
	log := e.logger.With("cohort", cohort, "originator", origin.MetadataCollectionID,
		"type_guid", patch.TypeDefGUID, "type_name", patch.TypeDefName,
		"apply_to_version", patch.ApplyToVersion, "update_to_version", patch.UpdateToVersion)

	drop := func(err error) Outcome {
		log.Error("reconcile: type update dropped", "error", err)
		e.record(ctx, cohort, patch.TypeDefGUID, patch.TypeDefName,
			AuditUpdateDropped.Notice(patch.TypeDefName, patch.TypeDefGUID, origin.MetadataCollectionID, err))
		return OutcomeUpdateDropped
	}

	if err := patch.Validate(); err != nil {
		return drop(err)
	}
	cached, ok := e.cache.TypeDefByGUID(registry.Known, patch.TypeDefGUID)
	if !ok || cached.Name != patch.TypeDefName {
		return drop(fmt.Errorf("type is not known to this node"))
	}
	if cached.Version != patch.ApplyToVersion {
		log.Warn("reconcile: patch does not apply to known version", "known_version", cached.Version)
		e.record(ctx, cohort, patch.TypeDefGUID, patch.TypeDefName, AuditPatchMismatch.Notice(
			patch.TypeDefName, patch.TypeDefGUID, origin.MetadataCollectionID, patch.ApplyToVersion, cached.Version))
		return OutcomeUpdateDropped
	}

	// Only the repository can update a type it supports; a known-only copy is
	// patched in the cache directly.
	_, active := e.cache.TypeDefByGUID(registry.Active, patch.TypeDefGUID)
	var (
		updated model.TypeDef
		err     error
	)
	if e.repo != nil && active {
		updated, err = e.repo.UpdateTypeDef(ctx, patch)
	} else {
		updated, err = patch.Apply(cached)
	}
	if err != nil {
		return drop(err)
	}
	if err := e.cache.Update(updated, active); err != nil {
		return drop(err)
	}

	by := patch.UpdatedBy
	if by == "" {
		by = origin.MetadataCollectionID
	}
	log.Info("reconcile: type updated", "version", updated.Version)
	e.record(ctx, cohort, updated.GUID, updated.Name,
		AuditTypeDefUpdated.Notice(updated.Name, updated.GUID, cached.Version, updated.Version, by))
	return OutcomeUpdated
}

// HandleDeletedTypeDef queues the deletion for operator review.
func (e *Engine) HandleDeletedTypeDef(ctx context.Context, cohort string, ev DeletedTypeDef) Outcome {
	return e.queue(ctx, cohort, ev, model.ReviewDeleteTypeDef, ev.Original.GUID, ev.Original.Name,
		"peer deleted a type definition")
}

// HandleDeletedAttributeTypeDef queues the deletion for operator review.
func (e *Engine) HandleDeletedAttributeTypeDef(ctx context.Context, cohort string, ev DeletedAttributeTypeDef) Outcome {
	return e.queue(ctx, cohort, ev, model.ReviewDeleteAttributeTypeDef, ev.Original.GUID, ev.Original.Name,
		"peer deleted an attribute type")
}

// HandleReidentifiedTypeDef queues the re-identification for operator review.
func (e *Engine) HandleReidentifiedTypeDef(ctx context.Context, cohort string, ev ReidentifiedTypeDef) Outcome {
	return e.queue(ctx, cohort, ev, model.ReviewReidentifyTypeDef, ev.Original.GUID, ev.Original.Name,
		fmt.Sprintf("peer re-identified type as %s (%s)", ev.TypeDef.Name, ev.TypeDef.GUID))
}

// HandleReidentifiedAttributeTypeDef queues the re-identification for
// operator review.
func (e *Engine) HandleReidentifiedAttributeTypeDef(ctx context.Context, cohort string, ev ReidentifiedAttributeTypeDef) Outcome {
	return e.queue(ctx, cohort, ev, model.ReviewReidentifyAttributeTypeDef, ev.Original.GUID, ev.Original.Name,
		fmt.Sprintf("peer re-identified attribute type as %s (%s)", ev.AttributeTypeDef.Name, ev.AttributeTypeDef.GUID))
}

// HandleConflictReport queues a conflict reported against this node.
// Reports addressed to another member are ignored.
func (e *Engine) HandleConflictReport(ctx context.Context, cohort string, ev ConflictReport) Outcome {
	if !e.addressedHere(ev.TargetCollectionID) {
		e.logger.Debug("reconcile: conflict report for another member", "cohort", cohort, "target", ev.TargetCollectionID)
		return OutcomeIgnored
	}
	return e.queue(ctx, cohort, ev, model.ReviewConflictingTypeDefs, ev.Target.GUID, ev.Target.Name,
		fmt.Sprintf("peer reports %s (%s) conflicts with %s (%s): %s",
			ev.Target.Name, ev.Target.GUID, ev.Other.Name, ev.Other.GUID, ev.Message))
}

// HandleAttributeConflictReport queues an attribute conflict reported against
// this node.
func (e *Engine) HandleAttributeConflictReport(ctx context.Context, cohort string, ev AttributeConflictReport) Outcome {
	if !e.addressedHere(ev.TargetCollectionID) {
		e.logger.Debug("reconcile: attribute conflict report for another member", "cohort", cohort, "target", ev.TargetCollectionID)
		return OutcomeIgnored
	}
	return e.queue(ctx, cohort, ev, model.ReviewConflictingAttributeTypeDefs, ev.Target.GUID, ev.Target.Name,
		fmt.Sprintf("peer reports %s (%s) conflicts with %s (%s): %s",
			ev.Target.Name, ev.Target.GUID, ev.Other.Name, ev.Other.GUID, ev.Message))
}

// HandlePatchMismatchReport queues a patch mismatch reported against this node.
func (e *Engine) HandlePatchMismatchReport(ctx context.Context, cohort string, ev PatchMismatchReport) Outcome {
	if !e.addressedHere(ev.TargetCollectionID) {
		e.logger.Debug("reconcile: patch mismatch report for another member", "cohort", cohort, "target", ev.TargetCollectionID)
		return OutcomeIgnored
	}
	return e.queue(ctx, cohort, ev, model.ReviewPatchMismatch, ev.Target.GUID, ev.Target.Name,
		fmt.Sprintf("peer reports patch %d->%d does not match its version %d: %s",
			ev.Patch.ApplyToVersion, ev.Patch.UpdateToVersion, ev.Target.Version, ev.Message))
}

func (e *Engine) addressedHere(target string) bool {
	return target == "" || e.localID == "" || target == e.localID
}

func (e *Engine) queue(ctx context.Context, cohort string, ev Event, kind model.ReviewKind, guid, name, reason string) Outcome {
	raw := ev.Raw()
	r := model.Review{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      model.ReviewPending,
		CohortName:  cohort,
		Originator:  raw.Originator,
		TypeDefGUID: guid,
		TypeDefName: name,
		Event:       raw,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.reviews.Enqueue(ctx, r); err != nil {
		e.logger.Error("reconcile: failed to queue review", "cohort", cohort, "kind", kind,
			"type_guid", guid, "type_name", name, "error", err)
		return OutcomeFailed
	}

	e.logger.Warn("reconcile: event queued for operator review",
		"cohort", cohort, "originator", raw.Originator.MetadataCollectionID,
		"review_id", r.ID, "kind", kind, "type_guid", guid, "type_name", name)
	e.record(ctx, cohort, guid, name, AuditReviewQueued.Notice(raw.EventType, raw.Originator.MetadataCollectionID, name, kind))
	if e.hook != nil {
		e.hook(ctx, r)
	}
	return OutcomeQueued
}

func (e *Engine) record(ctx context.Context, cohort, guid, name string, n Notice) {
	n.Cohort = cohort
	n.TypeGUID = guid
	n.TypeName = name
	e.audit.Record(ctx, n)
}
