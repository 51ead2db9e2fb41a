package registry

import (
	"slices"

	"github.com/ashita-ai/ruikei/internal/model"
)

// IsValidTypeCategory reports whether name is a known type definition of the
// given category.
func (r *Registry) IsValidTypeCategory(category model.TypeDefCategory, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types.knownByName[name]
	return ok && def.Category == category
}

// HasSubtypes reports whether any known type names guid as its super-type.
func (r *Registry) HasSubtypes(guid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.firstDependentLocked(guid)
	return ok
}

// ResolveInstanceType flattens the named type and its super-types into the
// view used when creating or validating instances. It returns a *TypeError
// when the name is empty, unknown, or not of the requested category.
func (r *Registry) ResolveInstanceType(category model.TypeDefCategory, name string) (model.InstanceType, error) {
	const op = "resolve instance type"
	if name == "" {
		return model.InstanceType{}, typeError(op, "", "", string(category), "type name is required")
	}
	if !category.Valid() {
		return model.InstanceType{}, typeError(op, "", name, string(category), "unknown category")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.types.knownByName[name]
	if !ok {
		return model.InstanceType{}, typeError(op, "", name, string(category), "type is not known")
	}
	if def.Category != category {
		return model.InstanceType{}, typeError(op, def.GUID, name, string(category), "type is a %s", def.Category)
	}

	chain := r.chainLocked(op, def)
	it := model.InstanceType{
		Category:      def.Category,
		GUID:          def.GUID,
		Name:          def.Name,
		Version:       def.Version,
		Description:   def.Description,
		SuperTypes:    make([]model.TypeDefLink, 0, len(chain)-1),
		PropertyNames: []string{},
	}
	for _, anc := range chain[:len(chain)-1] {
		it.SuperTypes = append(it.SuperTypes, anc.Link())
	}
	for _, layer := range chain {
		for _, p := range layer.Properties {
			it.PropertyNames = append(it.PropertyNames, p.Name)
		}
	}
	it.ValidStatuses = inheritedStatuses(chain)
	return it, nil
}

// inheritedStatuses returns the statuses of the most derived type in chain
// that declares any, or the defaults.
func inheritedStatuses(chain []model.TypeDef) []model.InstanceStatus {
	for i := len(chain) - 1; i >= 0; i-- {
		if len(chain[i].ValidStatuses) > 0 {
			return slices.Clone(chain[i].ValidStatuses)
		}
	}
	return slices.Clone(model.DefaultValidStatuses)
}

// AllProperties returns the properties of def and all of its super-types,
// ancestors first. def itself does not need to be cached, but every
// super-type it links to does.
func (r *Registry) AllProperties(def model.TypeDef) []model.PropertyDef {
	var out []model.PropertyDef
	for _, layer := range r.propertyLayers(def) {
		out = append(out, layer...)
	}
	return out
}

// propertyLayers returns one property list per level of the hierarchy, root
// first. A chain of depth d yields d+1 layers.
func (r *Registry) propertyLayers(def model.TypeDef) [][]model.PropertyDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chainLocked("all properties", def)
	layers := make([][]model.PropertyDef, 0, len(chain))
	for _, t := range chain {
		layers = append(layers, slices.Clone(t.Properties))
	}
	return layers
}

// IsClassificationValidForEntity reports whether the named classification may
// be attached to instances of the named entity type. A classification with no
// restriction list accepts any known entity. Otherwise the entity, or one of
// its super-types, must be listed; an empty list accepts nothing. Unknown
// names and wrong categories yield false.
func (r *Registry) IsClassificationValidForEntity(classificationName, entityName string) bool {
	const op = "classification validity"
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.types.knownByName[classificationName]
	if !ok || c.Category != model.CategoryClassification {
		return false
	}
	e, ok := r.types.knownByName[entityName]
	if !ok || e.Category != model.CategoryEntity {
		return false
	}
	if c.ValidEntityDefs == nil {
		return true
	}
	if len(c.ValidEntityDefs) == 0 {
		return false
	}

	allowed := make(map[string]bool, len(c.ValidEntityDefs))
	for _, l := range c.ValidEntityDefs {
		allowed[l.Name] = true
	}
	chain := r.chainLocked(op, e)
	for i := len(chain) - 1; i >= 0; i-- {
		if allowed[chain[i].Name] {
			return true
		}
	}
	return false
}

// chainLocked returns def preceded by all of its super-types, root first.
// A link to a type that is not cached, or a chain longer than maxDepth, means
// the cache has lost consistency; chainLocked panics with an
// *InvariantViolation rather than return a truncated hierarchy.
func (r *Registry) chainLocked(op string, def model.TypeDef) []model.TypeDef {
	chain := []model.TypeDef{def}
	cur := def
	for cur.SuperType != nil {
		if len(chain) > r.maxDepth {
			violate(op, "super-type chain of %q exceeds maximum depth %d", def.Name, r.maxDepth)
		}
		link := *cur.SuperType
		super, ok := r.types.knownByGUID[link.GUID]
		if !ok || super.Name != link.Name {
			violate(op, "%q names super-type %q (%s) which is not in the cache", cur.Name, link.Name, link.GUID)
		}
		chain = append(chain, super)
		cur = super
	}
	slices.Reverse(chain)
	return chain
}
