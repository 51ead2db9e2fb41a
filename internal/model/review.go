package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReviewKind names the inbound event family that produced a review.
type ReviewKind string

const (
	ReviewDeleteTypeDef                ReviewKind = "delete_typedef"
	ReviewDeleteAttributeTypeDef       ReviewKind = "delete_attribute_typedef"
	ReviewReidentifyTypeDef            ReviewKind = "reidentify_typedef"
	ReviewReidentifyAttributeTypeDef   ReviewKind = "reidentify_attribute_typedef"
	ReviewConflictingTypeDefs          ReviewKind = "conflicting_typedefs"
	ReviewConflictingAttributeTypeDefs ReviewKind = "conflicting_attribute_typedefs"
	ReviewPatchMismatch                ReviewKind = "patch_mismatch"
)

// Applicable reports whether approving a review of this kind changes local
// state, as opposed to only recording the operator's decision.
func (k ReviewKind) Applicable() bool {
	switch k {
	case ReviewDeleteTypeDef, ReviewDeleteAttributeTypeDef,
		ReviewReidentifyTypeDef, ReviewReidentifyAttributeTypeDef:
		return true
	default:
		return false
	}
}

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewApplied   ReviewStatus = "applied"
	ReviewDismissed ReviewStatus = "dismissed"
)

// Valid reports whether s is one of the known review statuses.
func (s ReviewStatus) Valid() bool {
	return s == ReviewPending || s == ReviewApplied || s == ReviewDismissed
}

var (
	// ErrReviewNotFound is returned by review queues for an unknown review ID.
	ErrReviewNotFound = errors.New("review not found")
	// ErrReviewResolved is returned when resolving a review that is no longer pending.
	ErrReviewResolved = errors.New("review already resolved")
)

// Review is an inbound event the node refused to act on automatically. It is
// held until an operator applies or dismisses it.
type Review struct {
	ID             uuid.UUID    `json:"id"`
	Kind           ReviewKind   `json:"kind"`
	Status         ReviewStatus `json:"status"`
	CohortName     string       `json:"cohort_name"`
	Originator     Originator   `json:"originator"`
	TypeDefGUID    string       `json:"typedef_guid,omitempty"`
	TypeDefName    string       `json:"typedef_name,omitempty"`
	Event          TypeDefEvent `json:"event"`
	Reason         string       `json:"reason"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedBy     *string      `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	ResolutionNote *string      `json:"resolution_note,omitempty"`
}
