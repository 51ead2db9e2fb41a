package localrepo_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
)

// repository is the surface both implementations share.
type repository interface {
	VerifyTypeDef(ctx context.Context, def model.TypeDef) (bool, error)
	AddTypeDef(ctx context.Context, def model.TypeDef) error
	UpdateTypeDef(ctx context.Context, patch model.TypeDefPatch) (model.TypeDef, error)
	DeleteTypeDef(ctx context.Context, guid, name string) error
	ReidentifyTypeDef(ctx context.Context, oldGUID, oldName string, def model.TypeDef) error
	VerifyAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) (bool, error)
	AddAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) error
	DeleteAttributeTypeDef(ctx context.Context, guid, name string) error
	ReidentifyAttributeTypeDef(ctx context.Context, oldGUID, oldName string, def model.AttributeTypeDef) error
	ListTypeDefs(ctx context.Context) ([]model.TypeDef, error)
	ListAttributeTypeDefs(ctx context.Context) ([]model.AttributeTypeDef, error)
}

func implementations(t *testing.T, opts ...localrepo.Option) map[string]repository {
	t.Helper()
	sq, err := localrepo.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "types.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]repository{
		"memory": localrepo.NewMemory(opts...),
		"sqlite": sq,
	}
}

func asset() model.TypeDef {
	return model.TypeDef{
		Category: model.CategoryEntity,
		GUID:     "g-asset",
		Name:     "Asset",
		Version:  1,
		Properties: []model.PropertyDef{
			{Name: "qualifiedName", AttributeTypeName: "string"},
		},
	}
}

func TestVerifyAndAdd(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			def := asset()

			ok, err := repo.VerifyTypeDef(ctx, def)
			require.NoError(t, err)
			assert.False(t, ok, "nothing stored yet")

			require.NoError(t, repo.AddTypeDef(ctx, def))

			ok, err = repo.VerifyTypeDef(ctx, def)
			require.NoError(t, err)
			assert.True(t, ok)

			assert.ErrorIs(t, repo.AddTypeDef(ctx, def), localrepo.ErrAlreadyKnown)

			other := def
			other.GUID = "g-other"
			err = repo.AddTypeDef(ctx, other)
			var conflict *localrepo.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.ErrorIs(t, err, localrepo.ErrConflict)
			require.NotNil(t, conflict.Existing)
			assert.Equal(t, "g-asset", conflict.Existing.GUID)

			_, err = repo.VerifyTypeDef(ctx, other)
			assert.ErrorIs(t, err, localrepo.ErrConflict)

			newer := def
			newer.Version = 2
			_, err = repo.VerifyTypeDef(ctx, newer)
			assert.ErrorIs(t, err, localrepo.ErrConflict, "same identity at another version is a conflict")

			stored, err := repo.ListTypeDefs(ctx)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, def, stored[0])
		})
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			noName := asset()
			noName.Name = ""
			assert.ErrorIs(t, repo.AddTypeDef(ctx, noName), localrepo.ErrInvalid)

			badCategory := asset()
			badCategory.Category = "WidgetDef"
			assert.ErrorIs(t, repo.AddTypeDef(ctx, badCategory), localrepo.ErrInvalid)

			badAttr := model.AttributeTypeDef{GUID: "a1", Name: "x", Category: "Nope"}
			assert.ErrorIs(t, repo.AddAttributeTypeDef(ctx, badAttr), localrepo.ErrInvalid)
		})
	}
}

func TestUnsupportedCategory(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t, localrepo.WithUnsupportedCategories(model.CategoryRelationship)) {
		t.Run(name, func(t *testing.T) {
			rel := model.TypeDef{Category: model.CategoryRelationship, GUID: "g-rel", Name: "Link", Version: 1}
			assert.ErrorIs(t, repo.AddTypeDef(ctx, rel), localrepo.ErrNotSupported)
			assert.NoError(t, repo.AddTypeDef(ctx, asset()))
		})
	}
}

func TestUpdateTypeDef(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.UpdateTypeDef(ctx, model.TypeDefPatch{
				TypeDefGUID: "g-asset", TypeDefName: "Asset", ApplyToVersion: 1, UpdateToVersion: 2,
			})
			assert.ErrorIs(t, err, localrepo.ErrNotKnown)

			require.NoError(t, repo.AddTypeDef(ctx, asset()))

			updated, err := repo.UpdateTypeDef(ctx, model.TypeDefPatch{
				TypeDefGUID:     "g-asset",
				TypeDefName:     "Asset",
				ApplyToVersion:  1,
				UpdateToVersion: 2,
				NewProperties:   []model.PropertyDef{{Name: "owner", AttributeTypeName: "string"}},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Version)
			assert.Len(t, updated.Properties, 2)

			ok, err := repo.VerifyTypeDef(ctx, updated)
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = repo.UpdateTypeDef(ctx, model.TypeDefPatch{
				TypeDefGUID: "g-asset", TypeDefName: "Asset", ApplyToVersion: 1, UpdateToVersion: 3,
			})
			assert.ErrorIs(t, err, localrepo.ErrInvalidPatch)
			assert.ErrorIs(t, err, model.ErrPatchMismatch)
		})
	}
}

func TestDeleteAndReidentify(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.AddTypeDef(ctx, asset()))
			other := model.TypeDef{Category: model.CategoryEntity, GUID: "g-dataset", Name: "DataSet", Version: 1}
			require.NoError(t, repo.AddTypeDef(ctx, other))

			renamed := asset()
			renamed.Name = "DataSet"
			err := repo.ReidentifyTypeDef(ctx, "g-asset", "Asset", renamed)
			assert.ErrorIs(t, err, localrepo.ErrConflict, "new name taken by another type")

			renamed.Name = "Resource"
			require.NoError(t, repo.ReidentifyTypeDef(ctx, "g-asset", "Asset", renamed))

			ok, err := repo.VerifyTypeDef(ctx, asset())
			require.NoError(t, err)
			assert.False(t, ok, "old identity is gone")
			ok, err = repo.VerifyTypeDef(ctx, renamed)
			require.NoError(t, err)
			assert.True(t, ok)

			assert.ErrorIs(t, repo.ReidentifyTypeDef(ctx, "g-asset", "Asset", renamed), localrepo.ErrNotKnown)

			assert.ErrorIs(t, repo.DeleteTypeDef(ctx, "g-asset", "Wrong"), localrepo.ErrNotKnown)
			require.NoError(t, repo.DeleteTypeDef(ctx, "g-asset", "Resource"))
			stored, err := repo.ListTypeDefs(ctx)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "DataSet", stored[0].Name)
		})
	}
}

func TestAttributeTypeDefs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			str := model.AttributeTypeDef{Category: model.AttributeCategoryPrimitive, GUID: "a-string", Name: "string", Version: 1}
			require.NoError(t, repo.AddAttributeTypeDef(ctx, str))
			assert.ErrorIs(t, repo.AddAttributeTypeDef(ctx, str), localrepo.ErrAlreadyKnown)

			clash := str
			clash.GUID = "a-other"
			var conflict *localrepo.ConflictError
			require.ErrorAs(t, repo.AddAttributeTypeDef(ctx, clash), &conflict)
			require.NotNil(t, conflict.ExistingAttribute)
			assert.Nil(t, conflict.Existing)

			renamed := str
			renamed.Name = "text"
			require.NoError(t, repo.ReidentifyAttributeTypeDef(ctx, "a-string", "string", renamed))
			ok, err := repo.VerifyAttributeTypeDef(ctx, renamed)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, repo.DeleteAttributeTypeDef(ctx, "a-string", "text"))
			assert.ErrorIs(t, repo.DeleteAttributeTypeDef(ctx, "a-string", "text"), localrepo.ErrNotKnown)
			stored, err := repo.ListAttributeTypeDefs(ctx)
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "types.db")

	first, err := localrepo.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.AddTypeDef(ctx, asset()))
	require.NoError(t, first.Close())

	second, err := localrepo.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	require.NoError(t, second.Ping(ctx))

	ok, err := second.VerifyTypeDef(ctx, asset())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	repo, err := localrepo.OpenSQLite(ctx, filepath.Join(t.TempDir(), "types.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	err = repo.AddTypeDef(ctx, asset())
	assert.True(t, errors.Is(err, localrepo.ErrUnavailable), "got %v", err)
}
