package localrepo

import (
	"fmt"

	"github.com/ashita-ai/ruikei/internal/model"
)

// Option configures a repository.
type Option func(*options)

type options struct {
	unsupported map[model.TypeDefCategory]bool
}

// WithUnsupportedCategories makes the repository refuse type definitions of
// the given categories with ErrNotSupported.
func WithUnsupportedCategories(cats ...model.TypeDefCategory) Option {
	return func(o *options) {
		for _, c := range cats {
			o.unsupported[c] = true
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{unsupported: make(map[model.TypeDefCategory]bool)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validTypeDef(def model.TypeDef) error {
	if def.GUID == "" || def.Name == "" {
		return fmt.Errorf("%w: guid and name are required", ErrInvalid)
	}
	if !def.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, def.Category)
	}
	if def.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalid, def.Version)
	}
	return nil
}

func validAttributeTypeDef(def model.AttributeTypeDef) error {
	if def.GUID == "" || def.Name == "" {
		return fmt.Errorf("%w: guid and name are required", ErrInvalid)
	}
	if !def.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, def.Category)
	}
	return nil
}

// compareTypeDef decides how def relates to what is stored under its GUID
// (byGUID) and its name (byName). It returns true when the stored definition
// is the same one, false when nothing is stored, and a *ConflictError when
// something else is.
func compareTypeDef(def model.TypeDef, byGUID, byName *model.TypeDef) (bool, error) {
	for _, stored := range []*model.TypeDef{byName, byGUID} {
		if stored == nil {
			continue
		}
		if stored.GUID != def.GUID || stored.Name != def.Name ||
			stored.Version != def.Version || stored.Category != def.Category {
			return false, &ConflictError{Existing: stored}
		}
	}
	return byGUID != nil, nil
}

func compareAttributeTypeDef(def model.AttributeTypeDef, byGUID, byName *model.AttributeTypeDef) (bool, error) {
	for _, stored := range []*model.AttributeTypeDef{byName, byGUID} {
		if stored == nil {
			continue
		}
		if stored.GUID != def.GUID || stored.Name != def.Name ||
			stored.Version != def.Version || stored.Category != def.Category {
			return false, &ConflictError{ExistingAttribute: stored}
		}
	}
	return byGUID != nil, nil
}

// renameCollision reports a stored definition, other than the one at
// oldGUID, that already uses the new GUID or name.
func renameCollision(oldGUID string, byGUID, byName *model.TypeDef) error {
	for _, stored := range []*model.TypeDef{byName, byGUID} {
		if stored != nil && stored.GUID != oldGUID {
			return &ConflictError{Existing: stored}
		}
	}
	return nil
}

func renameAttributeCollision(oldGUID string, byGUID, byName *model.AttributeTypeDef) error {
	for _, stored := range []*model.AttributeTypeDef{byName, byGUID} {
		if stored != nil && stored.GUID != oldGUID {
			return &ConflictError{ExistingAttribute: stored}
		}
	}
	return nil
}

func applyPatch(stored model.TypeDef, patch model.TypeDefPatch) (model.TypeDef, error) {
	updated, err := patch.Apply(stored)
	if err != nil {
		return model.TypeDef{}, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}
	return updated, nil
}
