package localrepo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ashita-ai/ruikei/internal/model"
)

// Memory is a local repository held in process memory. It is used in tests
// and by nodes that only need active types for the lifetime of the process.
type Memory struct {
	mu        sync.RWMutex
	types     map[string]model.TypeDef // by GUID
	typeNames map[string]string        // name -> GUID
	attrs     map[string]model.AttributeTypeDef
	attrNames map[string]string
	opts      options
}

// NewMemory creates an empty in-memory repository.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		types:     make(map[string]model.TypeDef),
		typeNames: make(map[string]string),
		attrs:     make(map[string]model.AttributeTypeDef),
		attrNames: make(map[string]string),
		opts:      buildOptions(opts),
	}
}

func (m *Memory) typeByGUID(guid string) *model.TypeDef {
	if def, ok := m.types[guid]; ok {
		c := def.Clone()
		return &c
	}
	return nil
}

func (m *Memory) typeByName(name string) *model.TypeDef {
	if guid, ok := m.typeNames[name]; ok {
		return m.typeByGUID(guid)
	}
	return nil
}

func (m *Memory) attrByGUID(guid string) *model.AttributeTypeDef {
	if def, ok := m.attrs[guid]; ok {
		c := def.Clone()
		return &c
	}
	return nil
}

func (m *Memory) attrByName(name string) *model.AttributeTypeDef {
	if guid, ok := m.attrNames[name]; ok {
		return m.attrByGUID(guid)
	}
	return nil
}

// VerifyTypeDef implements reconcile.LocalRepository.
func (m *Memory) VerifyTypeDef(_ context.Context, def model.TypeDef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return compareTypeDef(def, m.typeByGUID(def.GUID), m.typeByName(def.Name))
}

// AddTypeDef implements reconcile.LocalRepository.
func (m *Memory) AddTypeDef(_ context.Context, def model.TypeDef) error {
	if err := validTypeDef(def); err != nil {
		return err
	}
	if m.opts.unsupported[def.Category] {
		return fmt.Errorf("%w: %s", ErrNotSupported, def.Category)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	same, err := compareTypeDef(def, m.typeByGUID(def.GUID), m.typeByName(def.Name))
	if err != nil {
		return err
	}
	if same {
		return ErrAlreadyKnown
	}
	m.types[def.GUID] = def.Clone()
	m.typeNames[def.Name] = def.GUID
	return nil
}

// UpdateTypeDef implements reconcile.LocalRepository.
func (m *Memory) UpdateTypeDef(_ context.Context, patch model.TypeDefPatch) (model.TypeDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.typeByGUID(patch.TypeDefGUID)
	if stored == nil || stored.Name != patch.TypeDefName {
		return model.TypeDef{}, fmt.Errorf("%w: %s (%s)", ErrNotKnown, patch.TypeDefName, patch.TypeDefGUID)
	}
	updated, err := applyPatch(*stored, patch)
	if err != nil {
		return model.TypeDef{}, err
	}
	m.types[updated.GUID] = updated.Clone()
	return updated, nil
}

// DeleteTypeDef implements reconcile.LocalRepository.
func (m *Memory) DeleteTypeDef(_ context.Context, guid, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.typeByGUID(guid)
	if stored == nil || stored.Name != name {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, name, guid)
	}
	delete(m.types, guid)
	delete(m.typeNames, name)
	return nil
}

// ReidentifyTypeDef implements reconcile.LocalRepository.
func (m *Memory) ReidentifyTypeDef(_ context.Context, oldGUID, oldName string, def model.TypeDef) error {
	if err := validTypeDef(def); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.typeByGUID(oldGUID)
	if stored == nil || stored.Name != oldName {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, oldName, oldGUID)
	}
	if err := renameCollision(oldGUID, m.typeByGUID(def.GUID), m.typeByName(def.Name)); err != nil {
		return err
	}
	delete(m.types, oldGUID)
	delete(m.typeNames, oldName)
	m.types[def.GUID] = def.Clone()
	m.typeNames[def.Name] = def.GUID
	return nil
}

// VerifyAttributeTypeDef implements reconcile.LocalRepository.
func (m *Memory) VerifyAttributeTypeDef(_ context.Context, def model.AttributeTypeDef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return compareAttributeTypeDef(def, m.attrByGUID(def.GUID), m.attrByName(def.Name))
}

// AddAttributeTypeDef implements reconcile.LocalRepository.
func (m *Memory) AddAttributeTypeDef(_ context.Context, def model.AttributeTypeDef) error {
	if err := validAttributeTypeDef(def); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	same, err := compareAttributeTypeDef(def, m.attrByGUID(def.GUID), m.attrByName(def.Name))
	if err != nil {
		return err
	}
	if same {
		return ErrAlreadyKnown
	}
	m.attrs[def.GUID] = def.Clone()
	m.attrNames[def.Name] = def.GUID
	return nil
}

// DeleteAttributeTypeDef implements reconcile.LocalRepository.
func (m *Memory) DeleteAttributeTypeDef(_ context.Context, guid, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.attrByGUID(guid)
	if stored == nil || stored.Name != name {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, name, guid)
	}
	delete(m.attrs, guid)
	delete(m.attrNames, name)
	return nil
}

// ReidentifyAttributeTypeDef implements reconcile.LocalRepository.
func (m *Memory) ReidentifyAttributeTypeDef(_ context.Context, oldGUID, oldName string, def model.AttributeTypeDef) error {
	if err := validAttributeTypeDef(def); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.attrByGUID(oldGUID)
	if stored == nil || stored.Name != oldName {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, oldName, oldGUID)
	}
	if err := renameAttributeCollision(oldGUID, m.attrByGUID(def.GUID), m.attrByName(def.Name)); err != nil {
		return err
	}
	delete(m.attrs, oldGUID)
	delete(m.attrNames, oldName)
	m.attrs[def.GUID] = def.Clone()
	m.attrNames[def.Name] = def.GUID
	return nil
}

// ListTypeDefs returns every stored type definition ordered by name.
func (m *Memory) ListTypeDefs(context.Context) ([]model.TypeDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TypeDef, 0, len(m.types))
	for _, def := range m.types {
		out = append(out, def.Clone())
	}
	slices.SortFunc(out, func(a, b model.TypeDef) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// ListAttributeTypeDefs returns every stored attribute type ordered by name.
func (m *Memory) ListAttributeTypeDefs(context.Context) ([]model.AttributeTypeDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AttributeTypeDef, 0, len(m.attrs))
	for _, def := range m.attrs {
		out = append(out, def.Clone())
	}
	slices.SortFunc(out, func(a, b model.AttributeTypeDef) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}
