package model

import "slices"

// TypeDefCategory distinguishes the three kinds of structural type definition.
type TypeDefCategory string

const (
	CategoryEntity         TypeDefCategory = "EntityDef"
	CategoryRelationship   TypeDefCategory = "RelationshipDef"
	CategoryClassification TypeDefCategory = "ClassificationDef"
)

// Valid reports whether c is one of the known categories.
func (c TypeDefCategory) Valid() bool {
	switch c {
	case CategoryEntity, CategoryRelationship, CategoryClassification:
		return true
	default:
		return false
	}
}

// AttributeTypeDefCategory distinguishes primitive, enum and collection value types.
type AttributeTypeDefCategory string

const (
	AttributeCategoryPrimitive  AttributeTypeDefCategory = "PrimitiveDef"
	AttributeCategoryEnum       AttributeTypeDefCategory = "EnumDef"
	AttributeCategoryCollection AttributeTypeDefCategory = "CollectionDef"
)

// Valid reports whether c is one of the known attribute categories.
func (c AttributeTypeDefCategory) Valid() bool {
	switch c {
	case AttributeCategoryPrimitive, AttributeCategoryEnum, AttributeCategoryCollection:
		return true
	default:
		return false
	}
}

// InstanceStatus is a lifecycle status an instance of a type may carry.
type InstanceStatus string

const (
	StatusDraft      InstanceStatus = "DRAFT"
	StatusPrepared   InstanceStatus = "PREPARED"
	StatusProposed   InstanceStatus = "PROPOSED"
	StatusApproved   InstanceStatus = "APPROVED"
	StatusRejected   InstanceStatus = "REJECTED"
	StatusActive     InstanceStatus = "ACTIVE"
	StatusDeprecated InstanceStatus = "DEPRECATED"
	StatusOther      InstanceStatus = "OTHER"
	StatusDeleted    InstanceStatus = "DELETED"
)

// DefaultValidStatuses is used when a definition does not list its own.
var DefaultValidStatuses = []InstanceStatus{StatusActive, StatusDeleted}

// TypeDefLink is an identity-only pointer to a TypeDef.
type TypeDefLink struct {
	GUID string `json:"guid" yaml:"guid"`
	Name string `json:"name" yaml:"name"`
}

// TypeDefSummary identifies one version of a TypeDef without its structure.
type TypeDefSummary struct {
	GUID        string          `json:"guid"`
	Name        string          `json:"name"`
	Version     int64           `json:"version"`
	VersionName string          `json:"version_name,omitempty"`
	Category    TypeDefCategory `json:"category"`
}

// PropertyDef is one named, typed attribute of a TypeDef.
type PropertyDef struct {
	Name              string `json:"name" yaml:"name"`
	AttributeTypeName string `json:"attribute_type_name" yaml:"attributeType"`
	Description       string `json:"description,omitempty" yaml:"description,omitempty"`
	Required          bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Unique            bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// TypeDef is a named, versioned structural definition for entities,
// relationships and classifications.
//
// ValidEntityDefs only applies to classifications. A nil slice means the
// classification may be attached to any entity; a non-nil empty slice means it
// may be attached to none. The JSON tag deliberately has no omitempty so the
// distinction survives the wire.
type TypeDef struct {
	GUID            string           `json:"guid" yaml:"guid"`
	Name            string           `json:"name" yaml:"name"`
	Version         int64            `json:"version" yaml:"version"`
	VersionName     string           `json:"version_name,omitempty" yaml:"versionName,omitempty"`
	Category        TypeDefCategory  `json:"category" yaml:"category"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Origin          string           `json:"origin,omitempty" yaml:"origin,omitempty"`
	SuperType       *TypeDefLink     `json:"super_type,omitempty" yaml:"superType,omitempty"`
	Properties      []PropertyDef    `json:"properties,omitempty" yaml:"properties,omitempty"`
	ValidStatuses   []InstanceStatus `json:"valid_statuses,omitempty" yaml:"validStatuses,omitempty"`
	InitialStatus   InstanceStatus   `json:"initial_status,omitempty" yaml:"initialStatus,omitempty"`
	ValidEntityDefs []TypeDefLink    `json:"valid_entity_defs" yaml:"validEntityDefs"`
}

// Summary projects the definition onto its identity.
func (t TypeDef) Summary() TypeDefSummary {
	return TypeDefSummary{
		GUID:        t.GUID,
		Name:        t.Name,
		Version:     t.Version,
		VersionName: t.VersionName,
		Category:    t.Category,
	}
}

// Link returns an identity-only reference to the definition.
func (t TypeDef) Link() TypeDefLink {
	return TypeDefLink{GUID: t.GUID, Name: t.Name}
}

// Clone returns a deep copy so callers cannot alias cached slices.
func (t TypeDef) Clone() TypeDef {
	c := t
	if t.SuperType != nil {
		st := *t.SuperType
		c.SuperType = &st
	}
	c.Properties = slices.Clone(t.Properties)
	c.ValidStatuses = slices.Clone(t.ValidStatuses)
	if t.ValidEntityDefs != nil {
		c.ValidEntityDefs = append(make([]TypeDefLink, 0, len(t.ValidEntityDefs)), t.ValidEntityDefs...)
	}
	return c
}

// AttributeTypeDef is a named, versioned definition of a property value type.
type AttributeTypeDef struct {
	GUID             string                   `json:"guid" yaml:"guid"`
	Name             string                   `json:"name" yaml:"name"`
	Version          int64                    `json:"version" yaml:"version"`
	VersionName      string                   `json:"version_name,omitempty" yaml:"versionName,omitempty"`
	Category         AttributeTypeDefCategory `json:"category" yaml:"category"`
	Description      string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Origin           string                   `json:"origin,omitempty" yaml:"origin,omitempty"`
	EnumValues       []string                 `json:"enum_values,omitempty" yaml:"enumValues,omitempty"`
	ElementTypeNames []string                 `json:"element_type_names,omitempty" yaml:"elementTypes,omitempty"`
}

// Clone returns a deep copy.
func (a AttributeTypeDef) Clone() AttributeTypeDef {
	c := a
	c.EnumValues = slices.Clone(a.EnumValues)
	c.ElementTypeNames = slices.Clone(a.ElementTypeNames)
	return c
}

// InstanceType is the flattened, hierarchy-resolved view of a TypeDef.
type InstanceType struct {
	Category      TypeDefCategory  `json:"category"`
	GUID          string           `json:"guid"`
	Name          string           `json:"name"`
	Version       int64            `json:"version"`
	Description   string           `json:"description,omitempty"`
	SuperTypes    []TypeDefLink    `json:"super_types"`
	PropertyNames []string         `json:"property_names"`
	ValidStatuses []InstanceStatus `json:"valid_statuses"`
}
