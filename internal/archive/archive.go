// Package archive loads type archives: YAML documents that bundle the
// attribute types and type definitions a node starts with. The archive's
// GUID becomes the open-types origin of the registry it seeds.
package archive

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/ruikei/internal/model"
)

// ErrInvalid wraps every structural problem Validate finds.
var ErrInvalid = errors.New("archive: invalid")

//go:embed core.yaml
var coreYAML []byte

// Archive is a named, versioned bundle of type definitions.
type Archive struct {
	GUID           string                   `yaml:"archiveGUID"`
	Name           string                   `yaml:"archiveName"`
	Description    string                   `yaml:"description,omitempty"`
	OriginatorName string                   `yaml:"originatorName,omitempty"`
	Version        int64                    `yaml:"version"`
	AttributeTypes []model.AttributeTypeDef `yaml:"attributeTypes"`
	Types          []model.TypeDef          `yaml:"types"`
}

// Core returns the archive compiled into the binary.
func Core() (*Archive, error) {
	a, err := Parse(coreYAML)
	if err != nil {
		return nil, fmt.Errorf("archive: core: %w", err)
	}
	return a, nil
}

// Load reads, parses and validates the archive at path.
func Load(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", path, err)
	}
	return a, nil
}

// Parse decodes and validates an archive document. Definitions without an
// origin are stamped with the archive GUID.
func Parse(data []byte) (*Archive, error) {
	var a Archive
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	for i := range a.AttributeTypes {
		if a.AttributeTypes[i].Origin == "" {
			a.AttributeTypes[i].Origin = a.GUID
		}
	}
	for i := range a.Types {
		if a.Types[i].Origin == "" {
			a.Types[i].Origin = a.GUID
		}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks that identities are complete and unique across both kinds
// of definition, that every super-type is in the archive with the same
// category, and that the hierarchy has no cycles. All problems are reported
// together.
func (a *Archive) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if a.GUID == "" || a.Name == "" {
		fail("archiveGUID and archiveName are required")
	}

	guids := make(map[string]string)
	names := make(map[string]string)
	claim := func(kind, guid, name string) {
		if guid == "" || name == "" {
			fail("%s %q (%s): guid and name are required", kind, name, guid)
			return
		}
		if prev, ok := guids[guid]; ok {
			fail("%s %q reuses guid %s of %s", kind, name, guid, prev)
		}
		if prev, ok := names[name]; ok {
			fail("%s name %q is already used by %s", kind, name, prev)
		}
		guids[guid] = kind + " " + name
		names[name] = kind + " " + guid
	}

	for _, at := range a.AttributeTypes {
		claim("attribute type", at.GUID, at.Name)
		if !at.Category.Valid() {
			fail("attribute type %q: unknown category %q", at.Name, at.Category)
		}
	}
	byGUID := make(map[string]model.TypeDef, len(a.Types))
	for _, t := range a.Types {
		claim("type", t.GUID, t.Name)
		if !t.Category.Valid() {
			fail("type %q: unknown category %q", t.Name, t.Category)
		}
		byGUID[t.GUID] = t
	}

	for _, t := range a.Types {
		if t.SuperType == nil {
			continue
		}
		super, ok := byGUID[t.SuperType.GUID]
		switch {
		case !ok || super.Name != t.SuperType.Name:
			fail("type %q: super-type %q (%s) is not in the archive", t.Name, t.SuperType.Name, t.SuperType.GUID)
		case super.Category != t.Category:
			fail("type %q is a %s but its super-type %q is a %s", t.Name, t.Category, super.Name, super.Category)
		}
	}
	if len(errs) == 0 {
		if _, err := a.ordered(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ordered returns the types with every super-type before its subtypes.
func (a *Archive) ordered() ([]model.TypeDef, error) {
	byGUID := make(map[string]model.TypeDef, len(a.Types))
	for _, t := range a.Types {
		byGUID[t.GUID] = t
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(a.Types))
	out := make([]model.TypeDef, 0, len(a.Types))

	var visit func(t model.TypeDef) error
	visit = func(t model.TypeDef) error {
		switch state[t.GUID] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: super-type cycle through %q", ErrInvalid, t.Name)
		}
		state[t.GUID] = visiting
		if t.SuperType != nil {
			if super, ok := byGUID[t.SuperType.GUID]; ok {
				if err := visit(super); err != nil {
					return err
				}
			}
		}
		state[t.GUID] = done
		out = append(out, t)
		return nil
	}
	for _, t := range a.Types {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}
