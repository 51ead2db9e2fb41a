package reconcile_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/review"
)

func deleteEvent(guid, name string) *model.TypeDefEvent {
	original := model.TypeDefSummary{GUID: guid, Name: name, Version: 1, Category: model.CategoryEntity}
	return &model.TypeDefEvent{EventType: model.EventDeletedTypeDef, Originator: peer, OriginalTypeDef: &original}
}

func TestDeleteIsQueuedNotApplied(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

	assert.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, deleteEvent("g1", "T")))
	assert.True(t, h.cache.IsActive("g1", "T"), "nothing changes until an operator decides")
	assert.Zero(t, h.repo.count("delete"))
	assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0009")

	pending, err := h.engine.Reviews(ctx, model.ReviewPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.ReviewDeleteTypeDef, pending[0].Kind)
	assert.Equal(t, "peer-1", pending[0].Originator.MetadataCollectionID)
	require.Len(t, h.queued, 1)
	assert.Equal(t, pending[0].ID, h.queued[0].ID)
}

func TestResolveAppliesDelete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, deleteEvent("g1", "T")))
	id := h.queued[0].ID

	note := "retired upstream"
	resolved, err := h.engine.ResolveReview(ctx, id, reconcile.Decision{Apply: true, ResolvedBy: "alice", Note: &note})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApplied, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "alice", *resolved.ResolvedBy)

	assert.False(t, h.cache.IsKnown("g1", "T"))
	assert.Equal(t, 1, h.repo.count("delete"))
	assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0010")

	_, err = h.engine.ResolveReview(ctx, id, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	assert.ErrorIs(t, err, model.ErrReviewResolved)
}

func TestResolveDeleteRefusedWhileSubtypesExist(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "Base"))))
	child := typeDef("g2", "Child")
	child.SuperType = &model.TypeDefLink{GUID: "g1", Name: "Base"}
	require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(child)))
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, deleteEvent("g1", "Base")))

	_, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	assert.ErrorIs(t, err, reconcile.ErrReviewNotApplicable)
	assert.True(t, h.cache.IsKnown("g1", "Base"))

	r, err := h.engine.Review(ctx, h.queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, r.Status, "failed apply leaves the review open")
}

func TestResolveDismissLeavesCache(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, deleteEvent("g1", "T")))

	resolved, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{ResolvedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewDismissed, resolved.Status)
	assert.True(t, h.cache.IsKnown("g1", "T"))
}

func TestResolveAppliesReidentify(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

	original := model.TypeDefSummary{GUID: "g1", Name: "T", Version: 1, Category: model.CategoryEntity}
	renamed := typeDef("g1", "Thing")
	out := h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventReidentifiedTypeDef, Originator: peer, OriginalTypeDef: &original, TypeDef: &renamed,
	})
	require.Equal(t, reconcile.OutcomeQueued, out)
	assert.True(t, h.cache.IsActive("g1", "T"))

	_, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	require.NoError(t, err)
	assert.False(t, h.cache.IsKnown("", "T"))
	assert.True(t, h.cache.IsActive("g1", "Thing"))

	ok, err := h.repo.VerifyTypeDef(ctx, renamed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveAppliesAttributeChanges(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	str := model.AttributeTypeDef{Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "string", Version: 1}
	require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventNewAttributeTypeDef, Originator: peer, AttributeTypeDef: &str,
	}))

	text := str
	text.Name = "text"
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventReidentifiedAttributeTypeDef, Originator: peer, OriginalAttributeTypeDef: &str, AttributeTypeDef: &text,
	}))
	_, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	require.NoError(t, err)
	_, ok := h.cache.AttributeTypeDefByName(registry.Known, "text")
	assert.True(t, ok)

	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventDeletedAttributeTypeDef, Originator: peer, OriginalAttributeTypeDef: &text,
	}))
	_, err = h.engine.ResolveReview(ctx, h.queued[1].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	require.NoError(t, err)
	assert.False(t, h.cache.IsKnown("a1", ""))
}

func TestResolveReportOnlyRecordsDecision(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	target := model.TypeDefSummary{GUID: "g1", Name: "T"}
	patch := model.TypeDefPatch{TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2}
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventTypeDefError, ErrorCode: model.ErrorTypeDefPatchMismatch, Originator: peer,
		TargetTypeDef: &target, TargetPatch: &patch,
	}))

	resolved, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApplied, resolved.Status)
}

func TestResolveReidentifyRefusedByCacheLeavesRepository(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

	original := model.TypeDefSummary{GUID: "g1", Name: "T", Version: 1, Category: model.CategoryEntity}
	renamed := typeDef("g1", "Thing")
	renamed.SuperType = &model.TypeDefLink{GUID: "missing", Name: "Missing"}
	require.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventReidentifiedTypeDef, Originator: peer, OriginalTypeDef: &original, TypeDef: &renamed,
	}))

	_, err := h.engine.ResolveReview(ctx, h.queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	assert.ErrorIs(t, err, reconcile.ErrReviewNotApplicable)
	assert.ErrorIs(t, err, registry.ErrSuperTypeNotKnown)
	assert.Zero(t, h.repo.count("reidentify"))

	ok, err := h.repo.VerifyTypeDef(ctx, typeDef("g1", "T"))
	require.NoError(t, err)
	assert.True(t, ok, "repository keeps the original identity")
	assert.True(t, h.cache.IsActive("g1", "T"))
}

// stuckQueue accepts reviews but cannot record a decision.
type stuckQueue struct{ *review.Memory }

func (stuckQueue) Resolve(context.Context, uuid.UUID, model.ReviewStatus, string, *string) (model.Review, error) {
	return model.Review{}, errors.New("database is read-only")
}

func TestResolveLogsAppliedButUnrecordedReview(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	cache := registry.New(false, 0, logger)
	var queued []model.Review
	engine, err := reconcile.New(reconcile.Config{
		Cache:      cache,
		Reviews:    stuckQueue{review.NewMemory()},
		ReviewHook: func(_ context.Context, r model.Review) { queued = append(queued, r) },
		Logger:     logger,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, reconcile.OutcomeCachedKnown, engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
	require.Equal(t, reconcile.OutcomeQueued, engine.HandleInboundEvent(ctx, cohort, deleteEvent("g1", "T")))
	require.Len(t, queued, 1)

	_, err = engine.ResolveReview(ctx, queued[0].ID, reconcile.Decision{Apply: true, ResolvedBy: "alice"})
	require.Error(t, err)
	assert.False(t, cache.IsKnown("g1", "T"), "the delete was applied")
	assert.Contains(t, logs.String(), "review applied but not marked resolved")
	assert.Contains(t, logs.String(), queued[0].ID.String())
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
}
