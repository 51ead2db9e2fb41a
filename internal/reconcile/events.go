package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/ruikei/internal/model"
)

var (
	// ErrUnknownEvent is returned by Decode for a discriminator it does not know.
	ErrUnknownEvent = errors.New("reconcile: unknown event type")
	// ErrMissingPayload is returned by Decode when the payload its
	// discriminator requires is absent.
	ErrMissingPayload = errors.New("reconcile: event payload missing")
)

// Event is one decoded inbound type lifecycle event. The set of
// implementations is closed: each variant routes itself to its own Handler
// method, so a new variant does not compile until every Handler handles it.
type Event interface {
	// Raw returns the wire envelope the event was decoded from.
	Raw() model.TypeDefEvent
	dispatch(ctx context.Context, h Handler, cohort string) Outcome
}

// Handler has one method per Event variant. *Engine implements it.
type Handler interface {
	HandleNewTypeDef(ctx context.Context, cohort string, e NewTypeDef) Outcome
	HandleNewAttributeTypeDef(ctx context.Context, cohort string, e NewAttributeTypeDef) Outcome
	HandleUpdatedTypeDef(ctx context.Context, cohort string, e UpdatedTypeDef) Outcome
	HandleDeletedTypeDef(ctx context.Context, cohort string, e DeletedTypeDef) Outcome
	HandleDeletedAttributeTypeDef(ctx context.Context, cohort string, e DeletedAttributeTypeDef) Outcome
	HandleReidentifiedTypeDef(ctx context.Context, cohort string, e ReidentifiedTypeDef) Outcome
	HandleReidentifiedAttributeTypeDef(ctx context.Context, cohort string, e ReidentifiedAttributeTypeDef) Outcome
	HandleConflictReport(ctx context.Context, cohort string, e ConflictReport) Outcome
	HandleAttributeConflictReport(ctx context.Context, cohort string, e AttributeConflictReport) Outcome
	HandlePatchMismatchReport(ctx context.Context, cohort string, e PatchMismatchReport) Outcome
}

type envelope struct {
	raw model.TypeDefEvent
}

func (e envelope) Raw() model.TypeDefEvent { return e.raw }

// Originator returns the cohort member that sent the event.
func (e envelope) Originator() model.Originator { return e.raw.Originator }

// NewTypeDef announces a type definition a peer has added.
type NewTypeDef struct {
	envelope
	TypeDef model.TypeDef
}

// NewAttributeTypeDef announces an attribute type a peer has added.
type NewAttributeTypeDef struct {
	envelope
	AttributeTypeDef model.AttributeTypeDef
}

// UpdatedTypeDef carries a patch a peer has applied to a type definition.
type UpdatedTypeDef struct {
	envelope
	Patch model.TypeDefPatch
}

// DeletedTypeDef announces that a peer deleted a type definition.
type DeletedTypeDef struct {
	envelope
	Original model.TypeDefSummary
}

// DeletedAttributeTypeDef announces that a peer deleted an attribute type.
type DeletedAttributeTypeDef struct {
	envelope
	Original model.AttributeTypeDef
}

// ReidentifiedTypeDef announces that a peer changed a type's GUID or name.
type ReidentifiedTypeDef struct {
	envelope
	Original model.TypeDefSummary
	TypeDef  model.TypeDef
}

// ReidentifiedAttributeTypeDef announces that a peer changed an attribute
// type's GUID or name.
type ReidentifiedAttributeTypeDef struct {
	envelope
	Original         model.AttributeTypeDef
	AttributeTypeDef model.AttributeTypeDef
}

// ConflictReport is a peer telling a cohort member that two type definitions
// conflict.
type ConflictReport struct {
	envelope
	TargetCollectionID string
	Target             model.TypeDefSummary
	Other              model.TypeDefSummary
	Message            string
}

// AttributeConflictReport is the attribute-type analogue of ConflictReport.
type AttributeConflictReport struct {
	envelope
	TargetCollectionID string
	Target             model.AttributeTypeDef
	Other              model.AttributeTypeDef
	Message            string
}

// PatchMismatchReport is a peer telling a cohort member that a patch did not
// match its copy of a type definition.
type PatchMismatchReport struct {
	envelope
	TargetCollectionID string
	Target             model.TypeDefSummary
	Patch              model.TypeDefPatch
	Message            string
}

func (e NewTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleNewTypeDef(ctx, cohort, e)
}

func (e NewAttributeTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleNewAttributeTypeDef(ctx, cohort, e)
}

func (e UpdatedTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleUpdatedTypeDef(ctx, cohort, e)
}

func (e DeletedTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleDeletedTypeDef(ctx, cohort, e)
}

func (e DeletedAttributeTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleDeletedAttributeTypeDef(ctx, cohort, e)
}

func (e ReidentifiedTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleReidentifiedTypeDef(ctx, cohort, e)
}

func (e ReidentifiedAttributeTypeDef) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleReidentifiedAttributeTypeDef(ctx, cohort, e)
}

func (e ConflictReport) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleConflictReport(ctx, cohort, e)
}

func (e AttributeConflictReport) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandleAttributeConflictReport(ctx, cohort, e)
}

func (e PatchMismatchReport) dispatch(ctx context.Context, h Handler, cohort string) Outcome {
	return h.HandlePatchMismatchReport(ctx, cohort, e)
}

// Dispatch routes e to the matching method of h.
func Dispatch(ctx context.Context, h Handler, cohort string, e Event) Outcome {
	return e.dispatch(ctx, h, cohort)
}

type decoder func(env envelope) (Event, error)

// decoders maps each wire discriminator to its variant. TypeDefError events
// are routed again by error code through errorDecoders.
var decoders = map[model.TypeDefEventType]decoder{
	model.EventNewTypeDef: func(env envelope) (Event, error) {
		if env.raw.TypeDef == nil {
			return nil, missing("typedef")
		}
		return NewTypeDef{envelope: env, TypeDef: env.raw.TypeDef.Clone()}, nil
	},
	model.EventNewAttributeTypeDef: func(env envelope) (Event, error) {
		if env.raw.AttributeTypeDef == nil {
			return nil, missing("attribute_typedef")
		}
		return NewAttributeTypeDef{envelope: env, AttributeTypeDef: env.raw.AttributeTypeDef.Clone()}, nil
	},
	model.EventUpdatedTypeDef: func(env envelope) (Event, error) {
		if env.raw.Patch == nil {
			return nil, missing("patch")
		}
		return UpdatedTypeDef{envelope: env, Patch: *env.raw.Patch}, nil
	},
	model.EventDeletedTypeDef: func(env envelope) (Event, error) {
		if env.raw.OriginalTypeDef == nil {
			return nil, missing("original_typedef")
		}
		return DeletedTypeDef{envelope: env, Original: *env.raw.OriginalTypeDef}, nil
	},
	model.EventDeletedAttributeTypeDef: func(env envelope) (Event, error) {
		if env.raw.OriginalAttributeTypeDef == nil {
			return nil, missing("original_attribute_typedef")
		}
		return DeletedAttributeTypeDef{envelope: env, Original: env.raw.OriginalAttributeTypeDef.Clone()}, nil
	},
	model.EventReidentifiedTypeDef: func(env envelope) (Event, error) {
		if env.raw.OriginalTypeDef == nil || env.raw.TypeDef == nil {
			return nil, missing("original_typedef and typedef")
		}
		return ReidentifiedTypeDef{envelope: env, Original: *env.raw.OriginalTypeDef, TypeDef: env.raw.TypeDef.Clone()}, nil
	},
	model.EventReidentifiedAttributeTypeDef: func(env envelope) (Event, error) {
		if env.raw.OriginalAttributeTypeDef == nil || env.raw.AttributeTypeDef == nil {
			return nil, missing("original_attribute_typedef and attribute_typedef")
		}
		return ReidentifiedAttributeTypeDef{
			envelope:         env,
			Original:         env.raw.OriginalAttributeTypeDef.Clone(),
			AttributeTypeDef: env.raw.AttributeTypeDef.Clone(),
		}, nil
	},
	model.EventTypeDefError: func(env envelope) (Event, error) {
		d, ok := errorDecoders[env.raw.ErrorCode]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%q", ErrUnknownEvent, model.EventTypeDefError, env.raw.ErrorCode)
		}
		return d(env)
	},
}

var errorDecoders = map[model.TypeDefErrorCode]decoder{
	model.ErrorConflictingTypeDefs: func(env envelope) (Event, error) {
		if env.raw.TargetTypeDef == nil || env.raw.OtherTypeDef == nil {
			return nil, missing("target_typedef and other_typedef")
		}
		return ConflictReport{
			envelope:           env,
			TargetCollectionID: env.raw.TargetMetadataCollectionID,
			Target:             *env.raw.TargetTypeDef,
			Other:              *env.raw.OtherTypeDef,
			Message:            env.raw.ErrorMessage,
		}, nil
	},
	model.ErrorConflictingAttributeTypeDefs: func(env envelope) (Event, error) {
		if env.raw.TargetAttributeTypeDef == nil || env.raw.OtherAttributeTypeDef == nil {
			return nil, missing("target_attribute_typedef and other_attribute_typedef")
		}
		return AttributeConflictReport{
			envelope:           env,
			TargetCollectionID: env.raw.TargetMetadataCollectionID,
			Target:             env.raw.TargetAttributeTypeDef.Clone(),
			Other:              env.raw.OtherAttributeTypeDef.Clone(),
			Message:            env.raw.ErrorMessage,
		}, nil
	},
	model.ErrorTypeDefPatchMismatch: func(env envelope) (Event, error) {
		if env.raw.TargetTypeDef == nil || env.raw.TargetPatch == nil {
			return nil, missing("target_typedef and target_patch")
		}
		return PatchMismatchReport{
			envelope:           env,
			TargetCollectionID: env.raw.TargetMetadataCollectionID,
			Target:             *env.raw.TargetTypeDef,
			Patch:              *env.raw.TargetPatch,
			Message:            env.raw.ErrorMessage,
		}, nil
	},
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingPayload, field)
}

// Decode turns a wire event into its variant. It returns ErrUnknownEvent or
// ErrMissingPayload (wrapped) when the event cannot be routed.
func Decode(ev *model.TypeDefEvent) (Event, error) {
	if ev == nil {
		return nil, missing("event")
	}
	d, ok := decoders[ev.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.EventType)
	}
	return d(envelope{raw: *ev})
}
