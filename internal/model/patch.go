package model

import (
	"errors"
	"fmt"
)

// ErrPatchMismatch is returned when a patch targets a different definition or
// version than the one it is applied to.
var ErrPatchMismatch = errors.New("model: patch does not match definition")

// ErrInvalidPatch is returned when a patch is internally inconsistent.
var ErrInvalidPatch = errors.New("model: invalid patch")

// TypeDefPatch describes an in-place update of an existing TypeDef.
// Properties are only ever added; existing properties cannot be redefined.
type TypeDefPatch struct {
	TypeDefGUID     string           `json:"typedef_guid"`
	TypeDefName     string           `json:"typedef_name"`
	ApplyToVersion  int64            `json:"apply_to_version"`
	UpdateToVersion int64            `json:"update_to_version"`
	NewVersionName  string           `json:"new_version_name,omitempty"`
	UpdatedBy       string           `json:"updated_by,omitempty"`
	Description     *string          `json:"description,omitempty"`
	NewProperties   []PropertyDef    `json:"new_properties,omitempty"`
	ValidStatuses   []InstanceStatus `json:"valid_statuses,omitempty"`
	ValidEntityDefs *[]TypeDefLink   `json:"valid_entity_defs,omitempty"`
}

// Validate checks the patch on its own, without a target definition.
func (p TypeDefPatch) Validate() error {
	if p.TypeDefGUID == "" || p.TypeDefName == "" {
		return fmt.Errorf("%w: typedef guid and name are required", ErrInvalidPatch)
	}
	if p.UpdateToVersion <= p.ApplyToVersion {
		return fmt.Errorf("%w: update_to_version %d must be greater than apply_to_version %d",
			ErrInvalidPatch, p.UpdateToVersion, p.ApplyToVersion)
	}
	seen := make(map[string]bool, len(p.NewProperties))
	for _, prop := range p.NewProperties {
		if prop.Name == "" {
			return fmt.Errorf("%w: new property without a name", ErrInvalidPatch)
		}
		if seen[prop.Name] {
			return fmt.Errorf("%w: property %q added twice", ErrInvalidPatch, prop.Name)
		}
		seen[prop.Name] = true
	}
	return nil
}

// Apply returns a copy of def with the patch applied. def is not modified.
func (p TypeDefPatch) Apply(def TypeDef) (TypeDef, error) {
	if err := p.Validate(); err != nil {
		return TypeDef{}, err
	}
	if def.GUID != p.TypeDefGUID || def.Name != p.TypeDefName {
		return TypeDef{}, fmt.Errorf("%w: patch for %s (%s) applied to %s (%s)",
			ErrPatchMismatch, p.TypeDefName, p.TypeDefGUID, def.Name, def.GUID)
	}
	if def.Version != p.ApplyToVersion {
		return TypeDef{}, fmt.Errorf("%w: patch applies to version %d, definition is at %d",
			ErrPatchMismatch, p.ApplyToVersion, def.Version)
	}
	if p.ValidEntityDefs != nil && def.Category != CategoryClassification {
		return TypeDef{}, fmt.Errorf("%w: valid entity defs only apply to classifications", ErrInvalidPatch)
	}

	updated := def.Clone()
	for _, prop := range p.NewProperties {
		for _, existing := range updated.Properties {
			if existing.Name == prop.Name {
				return TypeDef{}, fmt.Errorf("%w: property %q already defined on %s", ErrInvalidPatch, prop.Name, def.Name)
			}
		}
		updated.Properties = append(updated.Properties, prop)
	}
	if p.Description != nil {
		updated.Description = *p.Description
	}
	if p.ValidStatuses != nil {
		updated.ValidStatuses = append([]InstanceStatus(nil), p.ValidStatuses...)
	}
	if p.ValidEntityDefs != nil {
		updated.ValidEntityDefs = append(make([]TypeDefLink, 0, len(*p.ValidEntityDefs)), *p.ValidEntityDefs...)
	}
	updated.Version = p.UpdateToVersion
	if p.NewVersionName != "" {
		updated.VersionName = p.NewVersionName
	}
	return updated, nil
}
