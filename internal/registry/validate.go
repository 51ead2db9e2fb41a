package registry

import "github.com/ashita-ai/ruikei/internal/model"

// The validators answer progressively stronger questions about a type
// reference. A reference the cache knows nothing about is always valid; only
// a cached definition that disagrees makes it invalid. Both halves of the
// (GUID, name) pair are checked against the cache.

// ValidTypeID reports whether guid and name are both set and consistent with
// any cached type definition.
func (r *Registry) ValidTypeID(guid, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types.validID(guid, name)
}

// ValidTypeDefID adds a category check to ValidTypeID.
func (r *Registry) ValidTypeDefID(guid, name string, category model.TypeDefCategory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return category.Valid() && r.types.validIDCategory(guid, name, string(category))
}

// ValidTypeDefIDVersion adds a version equality check to ValidTypeDefID.
func (r *Registry) ValidTypeDefIDVersion(guid, name string, version int64, category model.TypeDefCategory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return category.Valid() && r.types.validIDVersion(guid, name, version, string(category))
}

// ValidTypeDef checks a full definition using its own identity fields.
func (r *Registry) ValidTypeDef(def *model.TypeDef) bool {
	if def == nil {
		return false
	}
	return r.ValidTypeDefIDVersion(def.GUID, def.Name, def.Version, def.Category)
}

// ValidTypeDefSummary checks a summary the same way ValidTypeDef checks a
// full definition.
func (r *Registry) ValidTypeDefSummary(s *model.TypeDefSummary) bool {
	if s == nil {
		return false
	}
	return r.ValidTypeDefIDVersion(s.GUID, s.Name, s.Version, s.Category)
}

// ValidAttributeTypeID is the attribute-type analogue of ValidTypeID.
func (r *Registry) ValidAttributeTypeID(guid, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attrs.validID(guid, name)
}

// ValidAttributeTypeDefID is the attribute-type analogue of ValidTypeDefID.
func (r *Registry) ValidAttributeTypeDefID(guid, name string, category model.AttributeTypeDefCategory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return category.Valid() && r.attrs.validIDCategory(guid, name, string(category))
}

// ValidAttributeTypeDefIDVersion is the attribute-type analogue of
// ValidTypeDefIDVersion.
func (r *Registry) ValidAttributeTypeDefIDVersion(guid, name string, version int64, category model.AttributeTypeDefCategory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return category.Valid() && r.attrs.validIDVersion(guid, name, version, string(category))
}

// ValidAttributeTypeDef is the attribute-type analogue of ValidTypeDef.
func (r *Registry) ValidAttributeTypeDef(def *model.AttributeTypeDef) bool {
	if def == nil {
		return false
	}
	return r.ValidAttributeTypeDefIDVersion(def.GUID, def.Name, def.Version, def.Category)
}
