package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/review"
)

var (
	_ reconcile.LocalRepository = (*localrepo.Memory)(nil)
	_ reconcile.LocalRepository = (*localrepo.SQLite)(nil)
	_ reconcile.ReviewQueue     = (*review.Memory)(nil)
)

const cohort = "cocoPharma"

var peer = model.Originator{CohortName: cohort, MetadataCollectionID: "peer-1", ServerName: "peer"}

// faultyRepo wraps the in-memory repository, counting calls and returning
// injected errors in place of the real result.
type faultyRepo struct {
	*localrepo.Memory

	mu        sync.Mutex
	verifyErr error
	addErr    error
	calls     map[string]int
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{Memory: localrepo.NewMemory(), calls: make(map[string]int)}
}

func (f *faultyRepo) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyRepo) hit(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *faultyRepo) VerifyTypeDef(ctx context.Context, def model.TypeDef) (bool, error) {
	f.hit("verify")
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.Memory.VerifyTypeDef(ctx, def)
}

func (f *faultyRepo) AddTypeDef(ctx context.Context, def model.TypeDef) error {
	f.hit("add")
	if f.addErr != nil {
		return f.addErr
	}
	return f.Memory.AddTypeDef(ctx, def)
}

func (f *faultyRepo) ReidentifyTypeDef(ctx context.Context, oldGUID, oldName string, def model.TypeDef) error {
	f.hit("reidentify")
	return f.Memory.ReidentifyTypeDef(ctx, oldGUID, oldName, def)
}

func (f *faultyRepo) DeleteTypeDef(ctx context.Context, guid, name string) error {
	f.hit("delete")
	return f.Memory.DeleteTypeDef(ctx, guid, name)
}

type recordingEmitter struct {
	mu        sync.Mutex
	conflicts []reconcile.Conflict
	attrs     []reconcile.AttributeConflict
}

func (r *recordingEmitter) EmitTypeDefConflict(_ context.Context, c reconcile.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, c)
	return nil
}

func (r *recordingEmitter) EmitAttributeTypeDefConflict(_ context.Context, c reconcile.AttributeConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs = append(r.attrs, c)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	notices []reconcile.Notice
}

func (r *recordingAudit) Record(_ context.Context, n reconcile.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingAudit) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Code)
	}
	return out
}

type harness struct {
	engine  *reconcile.Engine
	cache   *registry.Registry
	repo    *faultyRepo
	emitter *recordingEmitter
	audit   *recordingAudit
	reviews *review.Memory
	queued  []model.Review
}

func newHarness(t *testing.T, withRepo bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		cache:   registry.New(withRepo, registry.DefaultMaxDepth, logger),
		emitter: &recordingEmitter{},
		audit:   &recordingAudit{},
		reviews: review.NewMemory(),
	}
	cfg := reconcile.Config{
		Cache:             h.cache,
		Emitter:           h.emitter,
		Audit:             h.audit,
		Reviews:           h.reviews,
		ReviewHook:        func(_ context.Context, r model.Review) { h.queued = append(h.queued, r) },
		LocalCollectionID: "local-1",
		Logger:            logger,
	}
	if withRepo {
		h.repo = newFaultyRepo()
		cfg.Repository = h.repo
	}
	engine, err := reconcile.New(cfg)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func typeDef(guid, name string) model.TypeDef {
	return model.TypeDef{Category: model.CategoryEntity, GUID: guid, Name: name, Version: 1}
}

func newTypeDefEvent(def model.TypeDef) *model.TypeDefEvent {
	return &model.TypeDefEvent{ID: uuid.New(), EventType: model.EventNewTypeDef, Originator: peer, TypeDef: &def}
}

func TestNewRequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := reconcile.New(reconcile.Config{Reviews: review.NewMemory()})
	assert.Error(t, err)

	_, err = reconcile.New(reconcile.Config{Cache: registry.New(false, 0, logger)})
	assert.Error(t, err)

	_, err = reconcile.New(reconcile.Config{
		Cache:      registry.New(false, 0, logger),
		Reviews:    review.NewMemory(),
		Repository: localrepo.NewMemory(),
	})
	assert.Error(t, err, "a repository needs a cache that can hold active types")
}

func TestNewTypeDefWithoutRepository(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out := h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T")))
	assert.Equal(t, reconcile.OutcomeCachedKnown, out)
	assert.True(t, h.cache.IsKnown("g1", "T"))
	assert.False(t, h.cache.IsActive("g1", "T"))

	out = h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T")))
	assert.Equal(t, reconcile.OutcomeAlreadyKnown, out)
}

func TestNewTypeDefOutcomeTable(t *testing.T) {
	tests := []struct {
		name       string
		seedRepo   bool
		verifyErr  error
		addErr     error
		want       reconcile.Outcome
		wantKnown  bool
		wantActive bool
		wantAudit  string
		wantEmits  int
	}{
		{name: "added", want: reconcile.OutcomeCachedActive, wantKnown: true, wantActive: true, wantAudit: "RUIKEI-RECON-0001"},
		{name: "verified", seedRepo: true, want: reconcile.OutcomeCachedActive, wantKnown: true, wantActive: true},
		{name: "already known to repository", addErr: localrepo.ErrAlreadyKnown, want: reconcile.OutcomeCachedActive, wantKnown: true, wantActive: true},
		{name: "not supported", addErr: localrepo.ErrNotSupported, want: reconcile.OutcomeCachedKnown, wantKnown: true, wantAudit: "RUIKEI-RECON-0002"},
		{name: "unavailable on add", addErr: localrepo.ErrUnavailable, want: reconcile.OutcomeCachedKnownRetryable, wantKnown: true, wantAudit: "RUIKEI-RECON-0004"},
		{name: "unavailable on verify", verifyErr: localrepo.ErrUnavailable, want: reconcile.OutcomeCachedKnownRetryable, wantKnown: true, wantAudit: "RUIKEI-RECON-0004"},
		{name: "unclassified failure", addErr: errors.New("disk on fire"), want: reconcile.OutcomeCachedKnownRetryable, wantKnown: true, wantAudit: "RUIKEI-RECON-0004"},
		{name: "invalid", addErr: localrepo.ErrInvalid, want: reconcile.OutcomeRejected, wantAudit: "RUIKEI-RECON-0005"},
		{
			name:      "repository conflict",
			addErr:    &localrepo.ConflictError{Existing: &model.TypeDef{Category: model.CategoryEntity, GUID: "g9", Name: "T", Version: 3}},
			want:      reconcile.OutcomeConflict,
			wantAudit: "RUIKEI-RECON-0003",
			wantEmits: 1,
		},
		{name: "bare conflict", addErr: localrepo.ErrConflict, want: reconcile.OutcomeConflict, wantAudit: "RUIKEI-RECON-0003", wantEmits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()
			def := typeDef("g1", "T")
			if tt.seedRepo {
				require.NoError(t, h.repo.Memory.AddTypeDef(ctx, def))
			}
			h.repo.verifyErr = tt.verifyErr
			h.repo.addErr = tt.addErr

			out := h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(def))
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantKnown, h.cache.IsKnown("g1", "T"), "known")
			assert.Equal(t, tt.wantActive, h.cache.IsActive("g1", "T"), "active")
			if tt.wantAudit != "" {
				assert.Contains(t, h.audit.codes(), tt.wantAudit)
			}
			assert.Len(t, h.emitter.conflicts, tt.wantEmits)
		})
	}
}

func TestConflictWithCachedTypeEmitsOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive,
		h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
	verifies, adds := h.repo.count("verify"), h.repo.count("add")
	h.repo.addErr = &localrepo.ConflictError{Existing: &model.TypeDef{Category: model.CategoryEntity, GUID: "g1", Name: "T", Version: 1}}

	out := h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g2", "T")))
	assert.Equal(t, reconcile.OutcomeConflict, out)

	require.Len(t, h.emitter.conflicts, 1)
	c := h.emitter.conflicts[0]
	assert.Equal(t, cohort, c.Cohort)
	assert.Equal(t, "peer-1", c.Target.MetadataCollectionID)
	assert.Equal(t, "g2", c.Incoming.GUID)
	assert.Equal(t, "g1", c.Known.GUID)

	known, ok := h.cache.TypeDefByName(registry.Known, "T")
	require.True(t, ok)
	assert.Equal(t, "g1", known.GUID, "cache unchanged")
	assert.False(t, h.cache.IsKnown("g2", ""))
	assert.Equal(t, verifies, h.repo.count("verify"), "conflict found in cache without asking the repository")
	assert.Equal(t, adds, h.repo.count("add"))
}

func TestAlreadyActiveSkipsRepository(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	def := typeDef("g1", "T")
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(def)))
	calls := h.repo.count("verify")

	assert.Equal(t, reconcile.OutcomeAlreadyKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(def)))
	assert.Equal(t, calls, h.repo.count("verify"))
}

func TestKnownOnlyRetriesRepository(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	def := typeDef("g1", "T")
	h.repo.addErr = localrepo.ErrUnavailable
	require.Equal(t, reconcile.OutcomeCachedKnownRetryable, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(def)))

	h.repo.addErr = nil
	assert.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(def)))
	assert.True(t, h.cache.IsActive("g1", "T"))
}

func TestNewTypeDefRejections(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	noGUID := typeDef("", "T")
	assert.Equal(t, reconcile.OutcomeRejected, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(noGUID)))

	orphan := typeDef("g2", "Child")
	orphan.SuperType = &model.TypeDefLink{GUID: "missing", Name: "Missing"}
	assert.Equal(t, reconcile.OutcomeSuperTypeNotKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(orphan)))
	assert.False(t, h.cache.IsKnown("g2", "Child"))
	assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0005")
}

func TestOrphanSubtypeNeverReachesRepository(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	orphan := typeDef("g2", "Child")
	orphan.SuperType = &model.TypeDefLink{GUID: "missing", Name: "Missing"}
	out := h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(orphan))
	assert.Equal(t, reconcile.OutcomeSuperTypeNotKnown, out)
	assert.True(t, out.Retryable())

	assert.False(t, h.cache.IsKnown("g2", "Child"))
	assert.Zero(t, h.repo.count("verify"))
	assert.Zero(t, h.repo.count("add"))
	stored, err := h.repo.ListTypeDefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored, "repository must not hold a type the cache refused")
	assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0005")
	assert.NotContains(t, h.audit.codes(), "RUIKEI-RECON-0001")

	// Once the super-type arrives the same event is accepted.
	base := typeDef("missing", "Missing")
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(base)))
	assert.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(orphan)))
	assert.True(t, h.cache.IsActive("g2", "Child"))
}

func TestAttributeNameClashNeverReachesRepository(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

	clash := model.AttributeTypeDef{Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "T", Version: 1}
	out := h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventNewAttributeTypeDef, Originator: peer, AttributeTypeDef: &clash,
	})
	assert.Equal(t, reconcile.OutcomeRejected, out)
	assert.False(t, out.Retryable())
	ok, err := h.repo.VerifyAttributeTypeDef(ctx, clash)
	require.NoError(t, err)
	assert.False(t, ok, "repository must not hold an attribute type the cache refused")
	attrs, err := h.repo.ListAttributeTypeDefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestOutcomeRetryable(t *testing.T) {
	retry := []reconcile.Outcome{
		reconcile.OutcomeFailed, reconcile.OutcomeCachedKnownRetryable, reconcile.OutcomeSuperTypeNotKnown,
	}
	for _, o := range retry {
		assert.True(t, o.Retryable(), o)
	}
	final := []reconcile.Outcome{
		reconcile.OutcomeCachedKnown, reconcile.OutcomeCachedActive, reconcile.OutcomeAlreadyKnown,
		reconcile.OutcomeConflict, reconcile.OutcomeRejected, reconcile.OutcomeUpdated,
		reconcile.OutcomeUpdateDropped, reconcile.OutcomeQueued, reconcile.OutcomeIgnored,
	}
	for _, o := range final {
		assert.False(t, o.Retryable(), o)
	}
}

func TestUnroutableEventsAreIgnored(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	def := typeDef("g1", "T")

	tests := map[string]*model.TypeDefEvent{
		"nil":                nil,
		"unknown type":       {EventType: "Bogus", Originator: peer},
		"missing payload":    {EventType: model.EventNewTypeDef, Originator: peer},
		"unknown error code": {EventType: model.EventTypeDefError, ErrorCode: "Nope", Originator: peer},
		"own event": {
			EventType:  model.EventNewTypeDef,
			Originator: model.Originator{MetadataCollectionID: "local-1"},
			TypeDef:    &def,
		},
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, reconcile.OutcomeIgnored, h.engine.HandleInboundEvent(ctx, cohort, ev))
		})
	}
	assert.Zero(t, h.repo.count("verify"))
	assert.False(t, h.cache.IsKnown("g1", "T"))
}

func TestDecode(t *testing.T) {
	_, err := reconcile.Decode(&model.TypeDefEvent{EventType: "Bogus"})
	assert.ErrorIs(t, err, reconcile.ErrUnknownEvent)

	_, err = reconcile.Decode(&model.TypeDefEvent{EventType: model.EventReidentifiedTypeDef, TypeDef: &model.TypeDef{}})
	assert.ErrorIs(t, err, reconcile.ErrMissingPayload)

	_, err = reconcile.Decode(nil)
	assert.ErrorIs(t, err, reconcile.ErrMissingPayload)

	target := model.TypeDefSummary{GUID: "g1", Name: "T"}
	ev, err := reconcile.Decode(&model.TypeDefEvent{
		EventType:     model.EventTypeDefError,
		ErrorCode:     model.ErrorConflictingTypeDefs,
		TargetTypeDef: &target,
		OtherTypeDef:  &target,
		ErrorMessage:  "boom",
	})
	require.NoError(t, err)
	report, ok := ev.(reconcile.ConflictReport)
	require.True(t, ok)
	assert.Equal(t, "boom", report.Message)
	assert.Equal(t, model.EventTypeDefError, report.Raw().EventType)
}

func TestNewAttributeTypeDef(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	str := model.AttributeTypeDef{Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "string", Version: 1}
	ev := &model.TypeDefEvent{EventType: model.EventNewAttributeTypeDef, Originator: peer, AttributeTypeDef: &str}

	assert.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, ev))
	assert.Equal(t, reconcile.OutcomeAlreadyKnown, h.engine.HandleInboundEvent(ctx, cohort, ev))

	clash := str
	clash.GUID = "a2"
	out := h.engine.HandleInboundEvent(ctx, cohort, &model.TypeDefEvent{
		EventType: model.EventNewAttributeTypeDef, Originator: peer, AttributeTypeDef: &clash,
	})
	assert.Equal(t, reconcile.OutcomeConflict, out)
	require.Len(t, h.emitter.attrs, 1)
	assert.Equal(t, "a1", h.emitter.attrs[0].Known.GUID)
}

func patchEvent(p model.TypeDefPatch) *model.TypeDefEvent {
	return &model.TypeDefEvent{EventType: model.EventUpdatedTypeDef, Originator: peer, Patch: &p}
}

func TestUpdatedTypeDef(t *testing.T) {
	ctx := context.Background()

	t.Run("known only", func(t *testing.T) {
		h := newHarness(t, false)
		require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

		out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
			TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2,
			NewProperties: []model.PropertyDef{{Name: "owner", AttributeTypeName: "string"}},
		}))
		assert.Equal(t, reconcile.OutcomeUpdated, out)
		def, ok := h.cache.TypeDefByGUID(registry.Known, "g1")
		require.True(t, ok)
		assert.Equal(t, int64(2), def.Version)
		assert.Len(t, def.Properties, 1)
		assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0006")
	})

	t.Run("active goes through repository", func(t *testing.T) {
		h := newHarness(t, true)
		require.Equal(t, reconcile.OutcomeCachedActive, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

		out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
			TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2,
		}))
		assert.Equal(t, reconcile.OutcomeUpdated, out)
		assert.True(t, h.cache.IsActive("g1", "T"))

		stored, err := h.repo.ListTypeDefs(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, int64(2), stored[0].Version)
	})

	t.Run("version mismatch", func(t *testing.T) {
		h := newHarness(t, false)
		require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))

		out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
			TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 4, UpdateToVersion: 5,
		}))
		assert.Equal(t, reconcile.OutcomeUpdateDropped, out)
		assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0008")
		assert.Empty(t, h.emitter.conflicts, "dropped updates are not re-emitted")
	})

	t.Run("unknown type", func(t *testing.T) {
		h := newHarness(t, false)
		out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
			TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2,
		}))
		assert.Equal(t, reconcile.OutcomeUpdateDropped, out)
		assert.Contains(t, h.audit.codes(), "RUIKEI-RECON-0007")
	})

	t.Run("invalid patch", func(t *testing.T) {
		h := newHarness(t, false)
		require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
		out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
			TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 1,
		}))
		assert.Equal(t, reconcile.OutcomeUpdateDropped, out)
	})
}

func TestReportsAddressedElsewhereAreIgnored(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	target := model.TypeDefSummary{GUID: "g1", Name: "T", Version: 1, Category: model.CategoryEntity}
	other := model.TypeDefSummary{GUID: "g2", Name: "T", Version: 1, Category: model.CategoryEntity}

	ev := &model.TypeDefEvent{
		EventType:                  model.EventTypeDefError,
		ErrorCode:                  model.ErrorConflictingTypeDefs,
		Originator:                 peer,
		TargetMetadataCollectionID: "someone-else",
		TargetTypeDef:              &target,
		OtherTypeDef:               &other,
	}
	assert.Equal(t, reconcile.OutcomeIgnored, h.engine.HandleInboundEvent(ctx, cohort, ev))

	ev.TargetMetadataCollectionID = "local-1"
	assert.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, ev))
	require.Len(t, h.queued, 1)
	assert.Equal(t, model.ReviewConflictingTypeDefs, h.queued[0].Kind)

	patch := model.TypeDefPatch{TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2}
	mismatch := &model.TypeDefEvent{
		EventType:                  model.EventTypeDefError,
		ErrorCode:                  model.ErrorTypeDefPatchMismatch,
		Originator:                 peer,
		TargetMetadataCollectionID: "local-1",
		TargetTypeDef:              &target,
		TargetPatch:                &patch,
	}
	assert.Equal(t, reconcile.OutcomeQueued, h.engine.HandleInboundEvent(ctx, cohort, mismatch))
}

type failingQueue struct{ *review.Memory }

func (failingQueue) Enqueue(context.Context, model.Review) error { return errors.New("queue full") }

func TestQueueFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := reconcile.New(reconcile.Config{
		Cache:   registry.New(false, 0, logger),
		Reviews: failingQueue{review.NewMemory()},
		Logger:  logger,
	})
	require.NoError(t, err)
	original := model.TypeDefSummary{GUID: "g1", Name: "T"}
	out := engine.HandleInboundEvent(context.Background(), cohort, &model.TypeDefEvent{
		EventType: model.EventDeletedTypeDef, Originator: peer, OriginalTypeDef: &original,
	})
	assert.Equal(t, reconcile.OutcomeFailed, out)
}

func TestPatchForKnownOnlyTypeStaysInCache(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.repo.addErr = localrepo.ErrNotSupported
	require.Equal(t, reconcile.OutcomeCachedKnown, h.engine.HandleInboundEvent(ctx, cohort, newTypeDefEvent(typeDef("g1", "T"))))
	h.repo.addErr = nil

	out := h.engine.HandleInboundEvent(ctx, cohort, patchEvent(model.TypeDefPatch{
		TypeDefGUID: "g1", TypeDefName: "T", ApplyToVersion: 1, UpdateToVersion: 2,
	}))
	assert.Equal(t, reconcile.OutcomeUpdated, out)
	def, ok := h.cache.TypeDefByGUID(registry.Known, "g1")
	require.True(t, ok)
	assert.Equal(t, int64(2), def.Version)
	assert.False(t, h.cache.IsActive("g1", "T"))

	stored, err := h.repo.ListTypeDefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored, "a patch never adds a type to the repository")
}
