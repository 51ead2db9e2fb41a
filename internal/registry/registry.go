// Package registry is the in-memory cache of type definitions for one cohort
// member. It owns the known and active partitions, validates identifiers
// against them and resolves super-type hierarchies.
//
// All state lives behind a single sync.RWMutex. Reads take the read lock and
// return copies; every mutation updates the GUID and name indices of both
// partitions under one write lock, so readers never see a definition in one
// index and not its sibling.
package registry

import (
	"log/slog"
	"sync"

	"github.com/ashita-ai/ruikei/internal/model"
)

// DefaultMaxDepth bounds super-type chains when no limit is configured.
const DefaultMaxDepth = 32

// Scope selects the partition a lookup reads from.
type Scope int

const (
	// Known covers every definition this node has accepted from any source.
	Known Scope = iota
	// Active covers the definitions the local repository supports.
	Active
)

func (s Scope) String() string {
	if s == Active {
		return "active"
	}
	return "known"
}

// Registry is the type cache. The zero value is not usable; call New.
type Registry struct {
	mu sync.RWMutex

	types catalog[model.TypeDef]
	attrs catalog[model.AttributeTypeDef]

	hasLocalRepository bool
	maxDepth           int
	openTypesOrigin    string

	logger *slog.Logger
}

// New creates an empty registry. hasLocalRepository controls whether
// definitions can ever become active. maxDepth bounds super-type chains; zero
// or negative selects DefaultMaxDepth.
func New(hasLocalRepository bool, maxDepth int, logger *slog.Logger) *Registry {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		types:              newCatalog(typeDefIdentity, model.TypeDef.Clone),
		attrs:              newCatalog(attributeIdentity, model.AttributeTypeDef.Clone),
		hasLocalRepository: hasLocalRepository,
		maxDepth:           maxDepth,
		logger:             logger,
	}
}

func typeDefIdentity(d model.TypeDef) identity {
	return identity{guid: d.GUID, name: d.Name, version: d.Version, category: string(d.Category)}
}

func attributeIdentity(d model.AttributeTypeDef) identity {
	return identity{guid: d.GUID, name: d.Name, version: d.Version, category: string(d.Category)}
}

// HasLocalRepository reports whether definitions may become active.
func (r *Registry) HasLocalRepository() bool { return r.hasLocalRepository }

// MaxDepth returns the configured super-type chain limit.
func (r *Registry) MaxDepth() int { return r.maxDepth }

// SetOpenTypesOrigin records the identity of the archive that supplies the
// open (standard) types.
func (r *Registry) SetOpenTypesOrigin(originID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openTypesOrigin = originID
}

// OpenTypesOrigin returns the value recorded by SetOpenTypesOrigin.
func (r *Registry) OpenTypesOrigin() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.openTypesOrigin
}

// Put adds def to the known partition, and to the active partition when
// active is set and the node has a local repository. It returns false and
// leaves the cache untouched when def contradicts a cached definition or its
// super-type link cannot be resolved.
func (r *Registry) Put(def model.TypeDef, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPutLocked(def); err != nil {
		r.logger.Debug("registry: put rejected", "type_guid", def.GUID, "type_name", def.Name, "error", err)
		return false
	}
	r.types.store(def, active && r.hasLocalRepository)
	return true
}

// CheckPut returns the reason Put would refuse def, or nil when Put would
// accept it. The cache is not changed.
func (r *Registry) CheckPut(def model.TypeDef) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkPutLocked(def)
}

func (r *Registry) checkPutLocked(def model.TypeDef) error {
	const op = "put"
	if !def.Category.Valid() {
		return typeError(op, def.GUID, def.Name, string(def.Category), "unknown category")
	}
	if !r.types.validIDVersion(def.GUID, def.Name, def.Version, string(def.Category)) {
		return typeError(op, def.GUID, def.Name, string(def.Category), "identity, category or version differs from cached definition")
	}
	if _, clash := r.attrs.lookup(Known, "", def.Name); clash {
		return typeError(op, def.GUID, def.Name, "", "name is used by an attribute type")
	}
	return r.checkAncestryLocked(op, def)
}

// checkAncestryLocked verifies that the super-type chain above def exists,
// has the same category, terminates within maxDepth and does not pass
// through def itself.
func (r *Registry) checkAncestryLocked(op string, def model.TypeDef) error {
	depth := 0
	link := def.SuperType
	for link != nil {
		depth++
		if depth > r.maxDepth {
			return typeError(op, def.GUID, def.Name, "", "super-type chain exceeds maximum depth %d", r.maxDepth)
		}
		if link.GUID == def.GUID || link.Name == def.Name {
			return typeError(op, def.GUID, def.Name, "", "super-type chain loops back to itself")
		}
		super, ok := r.types.lookup(Known, link.GUID, link.Name)
		if !ok {
			te := typeError(op, def.GUID, def.Name, "", "super-type %q (%s) is not known", link.Name, link.GUID)
			te.Err = ErrSuperTypeNotKnown
			return te
		}
		if super.Category != def.Category {
			return typeError(op, def.GUID, def.Name, string(def.Category), "super-type %q is a %s", super.Name, super.Category)
		}
		link = super.SuperType
	}
	return nil
}

// Update replaces a known definition with a newer version of itself. The
// GUID, name and category must match the cached entry and the version must be
// strictly greater. An active entry stays active; a known-only entry becomes
// active when active is set and the node has a local repository.
func (r *Registry) Update(def model.TypeDef, active bool) error {
	const op = "update"
	r.mu.Lock()
	defer r.mu.Unlock()

	cached, ok := r.types.lookup(Known, def.GUID, def.Name)
	if !ok {
		return typeError(op, def.GUID, def.Name, "", "not known")
	}
	if cached.Category != def.Category {
		return typeError(op, def.GUID, def.Name, string(def.Category), "cached definition is a %s", cached.Category)
	}
	if def.Version <= cached.Version {
		return typeError(op, def.GUID, def.Name, "", "version %d is not newer than cached version %d", def.Version, cached.Version)
	}
	if err := r.checkAncestryLocked(op, def); err != nil {
		return err
	}
	r.types.store(def, active && r.hasLocalRepository)
	return nil
}

// Remove deletes the definition with the given identifier pair. The active
// entry is only removed when the node has a local repository. Remove returns
// false when the pair is not known or other definitions still name it as
// their super-type.
func (r *Registry) Remove(guid, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types.lookup(Known, guid, name); !ok || guid == "" || name == "" {
		return false
	}
	if dep, ok := r.firstDependentLocked(guid); ok {
		r.logger.Warn("registry: remove refused, type has subtypes",
			"type_guid", guid, "type_name", name, "subtype", dep)
		return false
	}
	r.types.drop(guid, name, r.hasLocalRepository)
	return true
}

func (r *Registry) firstDependentLocked(guid string) (string, bool) {
	for _, def := range r.types.knownByGUID {
		if def.SuperType != nil && def.SuperType.GUID == guid {
			return def.Name, true
		}
	}
	return "", false
}

// Reidentify replaces the definition known as (oldGUID, oldName) with newDef
// in one step. No reader observes the old identity removed without the new
// one present. The category cannot change, newDef's identity must not collide
// with another cached definition, and the old definition must have no
// subtypes.
func (r *Registry) Reidentify(oldGUID, oldName string, newDef model.TypeDef, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkReidentifyLocked(oldGUID, oldName, newDef); err != nil {
		return err
	}
	wasActive := r.types.isActive(oldGUID)
	r.types.drop(oldGUID, oldName, true)
	r.types.store(newDef, (wasActive || active) && r.hasLocalRepository)
	return nil
}

// CheckReidentify returns the error Reidentify would return for the same
// arguments, without changing the cache.
func (r *Registry) CheckReidentify(oldGUID, oldName string, newDef model.TypeDef) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkReidentifyLocked(oldGUID, oldName, newDef)
}

func (r *Registry) checkReidentifyLocked(oldGUID, oldName string, newDef model.TypeDef) error {
	const op = "reidentify"
	old, ok := r.types.lookup(Known, oldGUID, oldName)
	if !ok || oldGUID == "" || oldName == "" {
		return typeError(op, oldGUID, oldName, "", "not known")
	}
	if newDef.GUID == "" || newDef.Name == "" {
		return typeError(op, newDef.GUID, newDef.Name, "", "new identity requires guid and name")
	}
	if newDef.Category != old.Category {
		return typeError(op, newDef.GUID, newDef.Name, string(newDef.Category), "category differs from %s", old.Category)
	}
	if other, ok := r.types.knownByName[newDef.Name]; ok && other.GUID != oldGUID {
		return typeError(op, newDef.GUID, newDef.Name, "", "name is already used by %s", other.GUID)
	}
	if other, ok := r.types.knownByGUID[newDef.GUID]; ok && other.GUID != oldGUID {
		return typeError(op, newDef.GUID, newDef.Name, "", "guid is already used by %q", other.Name)
	}
	if _, clash := r.attrs.lookup(Known, "", newDef.Name); clash {
		return typeError(op, newDef.GUID, newDef.Name, "", "name is used by an attribute type")
	}
	if dep, ok := r.firstDependentLocked(oldGUID); ok {
		return typeError(op, oldGUID, oldName, "", "type is the super-type of %q", dep)
	}
	if st := newDef.SuperType; st != nil && (st.GUID == oldGUID || st.Name == oldName) {
		return typeError(op, newDef.GUID, newDef.Name, "", "super-type refers to the identity being replaced")
	}
	return r.checkAncestryLocked(op, newDef)
}

// PutAttributeTypeDef is the attribute-type analogue of Put.
func (r *Registry) PutAttributeTypeDef(def model.AttributeTypeDef, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPutAttributeLocked(def); err != nil {
		r.logger.Debug("registry: put rejected", "type_guid", def.GUID, "type_name", def.Name, "error", err)
		return false
	}
	r.attrs.store(def, active && r.hasLocalRepository)
	return true
}

// CheckPutAttributeTypeDef is the attribute-type analogue of CheckPut.
func (r *Registry) CheckPutAttributeTypeDef(def model.AttributeTypeDef) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkPutAttributeLocked(def)
}

func (r *Registry) checkPutAttributeLocked(def model.AttributeTypeDef) error {
	const op = "put attribute type"
	if !def.Category.Valid() {
		return typeError(op, def.GUID, def.Name, string(def.Category), "unknown category")
	}
	if !r.attrs.validIDVersion(def.GUID, def.Name, def.Version, string(def.Category)) {
		return typeError(op, def.GUID, def.Name, string(def.Category), "identity, category or version differs from cached definition")
	}
	if _, clash := r.types.lookup(Known, "", def.Name); clash {
		return typeError(op, def.GUID, def.Name, "", "name is used by a type definition")
	}
	return nil
}

// UpdateAttributeTypeDef is the attribute-type analogue of Update.
func (r *Registry) UpdateAttributeTypeDef(def model.AttributeTypeDef, active bool) error {
	const op = "update attribute type"
	r.mu.Lock()
	defer r.mu.Unlock()

	cached, ok := r.attrs.lookup(Known, def.GUID, def.Name)
	if !ok {
		return typeError(op, def.GUID, def.Name, "", "not known")
	}
	if cached.Category != def.Category {
		return typeError(op, def.GUID, def.Name, string(def.Category), "cached definition is a %s", cached.Category)
	}
	if def.Version <= cached.Version {
		return typeError(op, def.GUID, def.Name, "", "version %d is not newer than cached version %d", def.Version, cached.Version)
	}
	r.attrs.store(def, active && r.hasLocalRepository)
	return nil
}

// RemoveAttributeTypeDef is the attribute-type analogue of Remove.
func (r *Registry) RemoveAttributeTypeDef(guid, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attrs.lookup(Known, guid, name); !ok || guid == "" || name == "" {
		return false
	}
	r.attrs.drop(guid, name, r.hasLocalRepository)
	return true
}

// ReidentifyAttributeTypeDef is the attribute-type analogue of Reidentify.
func (r *Registry) ReidentifyAttributeTypeDef(oldGUID, oldName string, newDef model.AttributeTypeDef, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkReidentifyAttributeLocked(oldGUID, oldName, newDef); err != nil {
		return err
	}
	wasActive := r.attrs.isActive(oldGUID)
	r.attrs.drop(oldGUID, oldName, true)
	r.attrs.store(newDef, (wasActive || active) && r.hasLocalRepository)
	return nil
}

// CheckReidentifyAttributeTypeDef is the attribute-type analogue of
// CheckReidentify.
func (r *Registry) CheckReidentifyAttributeTypeDef(oldGUID, oldName string, newDef model.AttributeTypeDef) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkReidentifyAttributeLocked(oldGUID, oldName, newDef)
}

func (r *Registry) checkReidentifyAttributeLocked(oldGUID, oldName string, newDef model.AttributeTypeDef) error {
	const op = "reidentify attribute type"
	old, ok := r.attrs.lookup(Known, oldGUID, oldName)
	if !ok || oldGUID == "" || oldName == "" {
		return typeError(op, oldGUID, oldName, "", "not known")
	}
	if newDef.GUID == "" || newDef.Name == "" {
		return typeError(op, newDef.GUID, newDef.Name, "", "new identity requires guid and name")
	}
	if newDef.Category != old.Category {
		return typeError(op, newDef.GUID, newDef.Name, string(newDef.Category), "category differs from %s", old.Category)
	}
	if other, ok := r.attrs.knownByName[newDef.Name]; ok && other.GUID != oldGUID {
		return typeError(op, newDef.GUID, newDef.Name, "", "name is already used by %s", other.GUID)
	}
	if other, ok := r.attrs.knownByGUID[newDef.GUID]; ok && other.GUID != oldGUID {
		return typeError(op, newDef.GUID, newDef.Name, "", "guid is already used by %q", other.Name)
	}
	return nil
}

// Stats is a point-in-time count of the cache contents.
type Stats struct {
	KnownTypes           int
	ActiveTypes          int
	KnownAttributeTypes  int
	ActiveAttributeTypes int
}

// Stats returns the current partition sizes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	s.KnownTypes, s.ActiveTypes = r.types.counts()
	s.KnownAttributeTypes, s.ActiveAttributeTypes = r.attrs.counts()
	return s
}
