package model

import (
	"time"

	"github.com/google/uuid"
)

// TypeDefEventType is the discriminator carried by every type lifecycle event
// exchanged between cohort members.
type TypeDefEventType string

const (
	EventNewTypeDef                   TypeDefEventType = "NewTypeDef"
	EventNewAttributeTypeDef          TypeDefEventType = "NewAttributeTypeDef"
	EventUpdatedTypeDef               TypeDefEventType = "UpdatedTypeDef"
	EventDeletedTypeDef               TypeDefEventType = "DeletedTypeDef"
	EventDeletedAttributeTypeDef      TypeDefEventType = "DeletedAttributeTypeDef"
	EventReidentifiedTypeDef          TypeDefEventType = "ReIdentifiedTypeDef"
	EventReidentifiedAttributeTypeDef TypeDefEventType = "ReIdentifiedAttributeTypeDef"
	EventTypeDefError                 TypeDefEventType = "TypeDefError"
)

// TypeDefErrorCode qualifies a TypeDefError event.
type TypeDefErrorCode string

const (
	ErrorConflictingTypeDefs          TypeDefErrorCode = "ConflictingTypeDefs"
	ErrorConflictingAttributeTypeDefs TypeDefErrorCode = "ConflictingAttributeTypeDefs"
	ErrorTypeDefPatchMismatch         TypeDefErrorCode = "TypeDefPatchMismatch"
)

// Originator describes the cohort member that produced an event.
type Originator struct {
	CohortName             string `json:"cohort_name"`
	MetadataCollectionID   string `json:"metadata_collection_id"`
	MetadataCollectionName string `json:"metadata_collection_name,omitempty"`
	ServerName             string `json:"server_name,omitempty"`
	ServerType             string `json:"server_type,omitempty"`
	Organization           string `json:"organization,omitempty"`
}

// TypeDefEvent is the wire envelope for type lifecycle events. Which payload
// fields are populated depends on EventType (and ErrorCode for errors).
type TypeDefEvent struct {
	ID         uuid.UUID        `json:"id"`
	EventType  TypeDefEventType `json:"event_type"`
	Originator Originator       `json:"originator"`
	SentAt     time.Time        `json:"sent_at"`

	TypeDef          *TypeDef          `json:"typedef,omitempty"`
	AttributeTypeDef *AttributeTypeDef `json:"attribute_typedef,omitempty"`
	Patch            *TypeDefPatch     `json:"patch,omitempty"`

	// Delete and re-identify events name the definition being replaced.
	OriginalTypeDef          *TypeDefSummary   `json:"original_typedef,omitempty"`
	OriginalAttributeTypeDef *AttributeTypeDef `json:"original_attribute_typedef,omitempty"`

	// TypeDefError events.
	ErrorCode                  TypeDefErrorCode  `json:"error_code,omitempty"`
	ErrorMessage               string            `json:"error_message,omitempty"`
	TargetMetadataCollectionID string            `json:"target_metadata_collection_id,omitempty"`
	TargetTypeDef              *TypeDefSummary   `json:"target_typedef,omitempty"`
	OtherTypeDef               *TypeDefSummary   `json:"other_typedef,omitempty"`
	TargetAttributeTypeDef     *AttributeTypeDef `json:"target_attribute_typedef,omitempty"`
	OtherAttributeTypeDef      *AttributeTypeDef `json:"other_attribute_typedef,omitempty"`
	TargetPatch                *TypeDefPatch     `json:"target_patch,omitempty"`
}
