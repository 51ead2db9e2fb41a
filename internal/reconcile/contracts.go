package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
)

// LocalRepository is the durable store behind this node. Failures are
// reported with the localrepo sentinel errors. A nil LocalRepository means the
// node has none and nothing it learns can become active.
type LocalRepository interface {
	// VerifyTypeDef returns true when an identical definition is already
	// stored, false when nothing is stored under its identity, and a
	// *localrepo.ConflictError when something different is.
	VerifyTypeDef(ctx context.Context, def model.TypeDef) (bool, error)
	AddTypeDef(ctx context.Context, def model.TypeDef) error
	UpdateTypeDef(ctx context.Context, patch model.TypeDefPatch) (model.TypeDef, error)
	DeleteTypeDef(ctx context.Context, guid, name string) error
	ReidentifyTypeDef(ctx context.Context, oldGUID, oldName string, def model.TypeDef) error

	VerifyAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) (bool, error)
	AddAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) error
	DeleteAttributeTypeDef(ctx context.Context, guid, name string) error
	ReidentifyAttributeTypeDef(ctx context.Context, oldGUID, oldName string, def model.AttributeTypeDef) error
}

// Conflict is an outbound notice that an incoming type definition contradicts
// the one this node already knows.
type Conflict struct {
	Cohort   string
	Target   model.Originator
	Incoming model.TypeDefSummary
	Known    model.TypeDefSummary
	Message  string
}

// AttributeConflict is the attribute-type analogue of Conflict.
type AttributeConflict struct {
	Cohort   string
	Target   model.Originator
	Incoming model.AttributeTypeDef
	Known    model.AttributeTypeDef
	Message  string
}

// EventEmitter sends notices to the rest of the cohort. Emission is
// fire-and-forget: an error is logged, never retried by the engine.
type EventEmitter interface {
	EmitTypeDefConflict(ctx context.Context, c Conflict) error
	EmitAttributeTypeDefConflict(ctx context.Context, c AttributeConflict) error
}

// AuditSink receives audit notices. It is never consulted for control flow.
type AuditSink interface {
	Record(ctx context.Context, n Notice)
}

// ReviewQueue holds events that need an operator decision.
type ReviewQueue interface {
	Enqueue(ctx context.Context, r model.Review) error
	List(ctx context.Context, status model.ReviewStatus) ([]model.Review, error)
	Get(ctx context.Context, id uuid.UUID) (model.Review, error)
	Resolve(ctx context.Context, id uuid.UUID, status model.ReviewStatus, resolvedBy string, note *string) (model.Review, error)
}

// TypeCache is the part of the registry the engine reads and writes.
type TypeCache interface {
	HasLocalRepository() bool

	TypeDefByGUID(scope registry.Scope, guid string) (model.TypeDef, bool)
	TypeDefByName(scope registry.Scope, name string) (model.TypeDef, bool)
	AttributeTypeDefByGUID(scope registry.Scope, guid string) (model.AttributeTypeDef, bool)
	AttributeTypeDefByName(scope registry.Scope, name string) (model.AttributeTypeDef, bool)
	HasSubtypes(guid string) bool

	CheckPut(def model.TypeDef) error
	Put(def model.TypeDef, active bool) bool
	Update(def model.TypeDef, active bool) error
	Remove(guid, name string) bool
	CheckReidentify(oldGUID, oldName string, def model.TypeDef) error
	Reidentify(oldGUID, oldName string, def model.TypeDef, active bool) error

	CheckPutAttributeTypeDef(def model.AttributeTypeDef) error
	PutAttributeTypeDef(def model.AttributeTypeDef, active bool) bool
	RemoveAttributeTypeDef(guid, name string) bool
	CheckReidentifyAttributeTypeDef(oldGUID, oldName string, def model.AttributeTypeDef) error
	ReidentifyAttributeTypeDef(oldGUID, oldName string, def model.AttributeTypeDef, active bool) error
}

var _ TypeCache = (*registry.Registry)(nil)

type noopEmitter struct{}

func (noopEmitter) EmitTypeDefConflict(context.Context, Conflict) error { return nil }
func (noopEmitter) EmitAttributeTypeDefConflict(context.Context, AttributeConflict) error {
	return nil
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, Notice) {}
