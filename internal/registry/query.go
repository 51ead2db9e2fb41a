package registry

import (
	"regexp"

	"github.com/ashita-ai/ruikei/internal/model"
)

// Snapshot is a copy of one partition of the cache, ordered by name.
type Snapshot struct {
	TypeDefs          []model.TypeDef          `json:"typedefs"`
	AttributeTypeDefs []model.AttributeTypeDef `json:"attribute_typedefs"`
}

// WildcardResult bundles the active definitions whose names matched a
// pattern. FindByWildcardName never returns a WildcardResult with both lists
// empty.
type WildcardResult struct {
	TypeDefs          []model.TypeDef
	AttributeTypeDefs []model.AttributeTypeDef
}

// TypeDefByGUID returns a copy of the definition with the given GUID.
func (r *Registry) TypeDefByGUID(scope Scope, guid string) (model.TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types.byGUID(scope)[guid]
	if !ok {
		return model.TypeDef{}, false
	}
	return def.Clone(), true
}

// TypeDefByName returns a copy of the definition with the given name.
func (r *Registry) TypeDefByName(scope Scope, name string) (model.TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types.byName(scope)[name]
	if !ok {
		return model.TypeDef{}, false
	}
	return def.Clone(), true
}

// AttributeTypeDefByGUID returns a copy of the attribute type with the given GUID.
func (r *Registry) AttributeTypeDefByGUID(scope Scope, guid string) (model.AttributeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.attrs.byGUID(scope)[guid]
	if !ok {
		return model.AttributeTypeDef{}, false
	}
	return def.Clone(), true
}

// AttributeTypeDefByName returns a copy of the attribute type with the given name.
func (r *Registry) AttributeTypeDefByName(scope Scope, name string) (model.AttributeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.attrs.byName(scope)[name]
	if !ok {
		return model.AttributeTypeDef{}, false
	}
	return def.Clone(), true
}

// AllKnown returns every known definition.
func (r *Registry) AllKnown() Snapshot { return r.snapshot(Known) }

// AllActive returns every active definition.
func (r *Registry) AllActive() Snapshot { return r.snapshot(Active) }

func (r *Registry) snapshot(scope Scope) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		TypeDefs:          r.types.all(scope),
		AttributeTypeDefs: r.attrs.all(scope),
	}
}

// FindByWildcardName matches pattern, a regular expression that must match
// the whole name, against the names of active definitions. It returns nil
// when nothing matched and a *TypeError when the pattern does not compile.
func (r *Registry) FindByWildcardName(pattern string) (*WildcardResult, error) {
	if pattern == "" {
		return nil, typeError("find by wildcard", "", "", "", "pattern is required")
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, typeError("find by wildcard", "", pattern, "", "invalid pattern: %v", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var res WildcardResult
	for _, def := range r.types.all(Active) {
		if re.MatchString(def.Name) {
			res.TypeDefs = append(res.TypeDefs, def)
		}
	}
	for _, def := range r.attrs.all(Active) {
		if re.MatchString(def.Name) {
			res.AttributeTypeDefs = append(res.AttributeTypeDefs, def)
		}
	}
	if len(res.TypeDefs) == 0 && len(res.AttributeTypeDefs) == 0 {
		return nil, nil
	}
	return &res, nil
}

// IsOpenType reports whether the identified type or attribute type came from
// the open types archive recorded by SetOpenTypesOrigin.
func (r *Registry) IsOpenType(guid, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.openTypesOrigin == "" {
		return false
	}
	if def, ok := r.types.lookup(Known, guid, name); ok {
		return def.Origin == r.openTypesOrigin
	}
	if def, ok := r.attrs.lookup(Known, guid, name); ok {
		return def.Origin == r.openTypesOrigin
	}
	return false
}

// IsKnown reports whether the identified type or attribute type is in the
// known partition. Either half of the pair may be empty; a half that is given
// must match.
func (r *Registry) IsKnown(guid, name string) bool {
	return r.inScope(Known, guid, name)
}

// IsActive is IsKnown for the active partition.
func (r *Registry) IsActive(guid, name string) bool {
	return r.inScope(Active, guid, name)
}

func (r *Registry) inScope(scope Scope, guid, name string) bool {
	if guid == "" && name == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.types.lookup(scope, guid, name); ok {
		return true
	}
	_, ok := r.attrs.lookup(scope, guid, name)
	return ok
}
