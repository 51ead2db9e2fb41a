package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
)

// Repository is the part of a local repository seeding writes to.
type Repository interface {
	AddTypeDef(ctx context.Context, def model.TypeDef) error
	AddAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) error
}

// SeedResult counts what Seed did.
type SeedResult struct {
	AttributeTypes int `json:"attribute_types"`
	Types          int `json:"types"`
	Active         int `json:"active"`
	Skipped        int `json:"skipped"`
}

// Seed loads the archive into reg and records it as the open-types origin.
// With a repository, each definition is added there first and cached active
// once the repository holds it; a definition the repository refuses is cached
// known only. A definition the registry refuses is skipped and logged.
func (a *Archive) Seed(ctx context.Context, reg *registry.Registry, repo Repository, logger *slog.Logger) (SeedResult, error) {
	types, err := a.ordered()
	if err != nil {
		return SeedResult{}, err
	}
	var res SeedResult

	for _, at := range a.AttributeTypes {
		active, err := a.store(ctx, repo, func(r Repository) error { return r.AddAttributeTypeDef(ctx, at) })
		if err != nil {
			return res, fmt.Errorf("archive: seed attribute type %s: %w", at.Name, err)
		}
		if !reg.PutAttributeTypeDef(at, active) {
			logger.Warn("archive: attribute type skipped, conflicts with cached definition",
				"archive", a.Name, "type_guid", at.GUID, "type_name", at.Name)
			res.Skipped++
			continue
		}
		res.AttributeTypes++
		if active && reg.HasLocalRepository() {
			res.Active++
		}
	}

	for _, t := range types {
		active, err := a.store(ctx, repo, func(r Repository) error { return r.AddTypeDef(ctx, t) })
		if err != nil {
			return res, fmt.Errorf("archive: seed type %s: %w", t.Name, err)
		}
		if !reg.Put(t, active) {
			logger.Warn("archive: type skipped, conflicts with cached definition",
				"archive", a.Name, "type_guid", t.GUID, "type_name", t.Name)
			res.Skipped++
			continue
		}
		res.Types++
		if active && reg.HasLocalRepository() {
			res.Active++
		}
	}

	reg.SetOpenTypesOrigin(a.GUID)
	logger.Info("archive: seeded registry", "archive", a.Name, "archive_guid", a.GUID,
		"attribute_types", res.AttributeTypes, "types", res.Types, "active", res.Active, "skipped", res.Skipped)
	return res, nil
}

// store adds one definition to repo and reports whether it may be cached
// active. Only an unavailable repository aborts seeding.
func (a *Archive) store(ctx context.Context, repo Repository, add func(Repository) error) (bool, error) {
	if repo == nil {
		return false, nil
	}
	err := add(repo)
	switch {
	case err == nil, errors.Is(err, localrepo.ErrAlreadyKnown):
		return true, nil
	case errors.Is(err, localrepo.ErrUnavailable):
		return false, err
	default:
		return false, nil
	}
}
