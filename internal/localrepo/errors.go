// Package localrepo provides the durable local repositories a node can use to
// persist the type definitions it supports: an in-process map and a SQLite
// file. Both report failures with the sentinel errors below so the
// reconciliation engine can tell them apart.
package localrepo

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/ruikei/internal/model"
)

var (
	// ErrNotSupported means the repository cannot host definitions of this kind.
	ErrNotSupported = errors.New("localrepo: type not supported")
	// ErrConflict means the repository holds a different definition under the
	// same GUID or name. Use errors.As with *ConflictError to get it.
	ErrConflict = errors.New("localrepo: conflicting type definition")
	// ErrInvalid means the definition is structurally unusable.
	ErrInvalid = errors.New("localrepo: invalid type definition")
	// ErrAlreadyKnown means an identical definition is already stored.
	ErrAlreadyKnown = errors.New("localrepo: type already known")
	// ErrUnavailable means the repository could not be reached; the call may
	// succeed if retried later.
	ErrUnavailable = errors.New("localrepo: repository unavailable")
	// ErrNotKnown means the targeted definition is not stored.
	ErrNotKnown = errors.New("localrepo: type not known")
	// ErrInvalidPatch means a patch could not be applied to the stored
	// definition.
	ErrInvalidPatch = errors.New("localrepo: invalid patch")
)

// ConflictError carries the stored definition that an incoming one
// contradicts. Exactly one of Existing and ExistingAttribute is set.
type ConflictError struct {
	Existing          *model.TypeDef
	ExistingAttribute *model.AttributeTypeDef
}

func (e *ConflictError) Error() string {
	switch {
	case e.Existing != nil:
		return fmt.Sprintf("%v: stored %s (%s) version %d", ErrConflict, e.Existing.Name, e.Existing.GUID, e.Existing.Version)
	case e.ExistingAttribute != nil:
		return fmt.Sprintf("%v: stored %s (%s) version %d", ErrConflict, e.ExistingAttribute.Name, e.ExistingAttribute.GUID, e.ExistingAttribute.Version)
	default:
		return ErrConflict.Error()
	}
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
