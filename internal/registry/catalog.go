package registry

import (
	"cmp"
	"slices"
)

// identity is the part of a definition that the cache indexes and the
// validator compares.
type identity struct {
	guid     string
	name     string
	version  int64
	category string
}

// catalog holds one kind of definition in four indices: known and active,
// each by GUID and by name. It has no lock of its own; every method is called
// with the Registry lock held.
type catalog[T any] struct {
	ident func(T) identity
	clone func(T) T

	knownByGUID  map[string]T
	knownByName  map[string]T
	activeByGUID map[string]T
	activeByName map[string]T
}

func newCatalog[T any](ident func(T) identity, clone func(T) T) catalog[T] {
	return catalog[T]{
		ident:        ident,
		clone:        clone,
		knownByGUID:  make(map[string]T),
		knownByName:  make(map[string]T),
		activeByGUID: make(map[string]T),
		activeByName: make(map[string]T),
	}
}

func (c *catalog[T]) byGUID(scope Scope) map[string]T {
	if scope == Active {
		return c.activeByGUID
	}
	return c.knownByGUID
}

func (c *catalog[T]) byName(scope Scope) map[string]T {
	if scope == Active {
		return c.activeByName
	}
	return c.knownByName
}

// validID reports whether (guid, name) is a legal identifier pair: both set,
// and neither half is cached under a different partner.
func (c *catalog[T]) validID(guid, name string) bool {
	if guid == "" || name == "" {
		return false
	}
	if cached, ok := c.knownByName[name]; ok && c.ident(cached).guid != guid {
		return false
	}
	if cached, ok := c.knownByGUID[guid]; ok && c.ident(cached).name != name {
		return false
	}
	return true
}

func (c *catalog[T]) validIDCategory(guid, name, category string) bool {
	if category == "" || !c.validID(guid, name) {
		return false
	}
	if cached, ok := c.knownByName[name]; ok && c.ident(cached).category != category {
		return false
	}
	return true
}

func (c *catalog[T]) validIDVersion(guid, name string, version int64, category string) bool {
	if !c.validIDCategory(guid, name, category) {
		return false
	}
	if cached, ok := c.knownByName[name]; ok && c.ident(cached).version != version {
		return false
	}
	return true
}

// lookup finds the known entry for an identifier pair. Either half may be
// empty, but any half that is given must agree with the entry.
func (c *catalog[T]) lookup(scope Scope, guid, name string) (T, bool) {
	var (
		def T
		ok  bool
	)
	switch {
	case guid != "":
		def, ok = c.byGUID(scope)[guid]
	case name != "":
		def, ok = c.byName(scope)[name]
	}
	if !ok {
		return def, false
	}
	id := c.ident(def)
	if (guid != "" && id.guid != guid) || (name != "" && id.name != name) {
		var zero T
		return zero, false
	}
	return def, true
}

func (c *catalog[T]) isActive(guid string) bool {
	_, ok := c.activeByGUID[guid]
	return ok
}

// store writes a clone of def to known, and to active when active is set or
// the GUID is already active. An active entry always refers to the same value
// as its known entry.
func (c *catalog[T]) store(def T, active bool) {
	id := c.ident(def)
	def = c.clone(def)
	c.knownByGUID[id.guid] = def
	c.knownByName[id.name] = def
	if active || c.isActive(id.guid) {
		c.activeByGUID[id.guid] = def
		c.activeByName[id.name] = def
	}
}

// drop removes an identifier pair from known, and from active when
// fromActive is set.
func (c *catalog[T]) drop(guid, name string, fromActive bool) {
	delete(c.knownByGUID, guid)
	delete(c.knownByName, name)
	if fromActive {
		delete(c.activeByGUID, guid)
		delete(c.activeByName, name)
	}
}

// all returns clones of every entry in scope, ordered by name.
func (c *catalog[T]) all(scope Scope) []T {
	byName := c.byName(scope)
	out := make([]T, 0, len(byName))
	for _, def := range byName {
		out = append(out, c.clone(def))
	}
	slices.SortFunc(out, func(a, b T) int {
		return cmp.Compare(c.ident(a).name, c.ident(b).name)
	})
	return out
}

func (c *catalog[T]) counts() (known, active int) {
	return len(c.knownByGUID), len(c.activeByGUID)
}
