package registry_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
)

func newRegistry(hasRepo bool) *registry.Registry {
	return registry.New(hasRepo, registry.DefaultMaxDepth, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func entity(guid, name string, super *model.TypeDef, props ...string) model.TypeDef {
	def := model.TypeDef{GUID: guid, Name: name, Version: 1, Category: model.CategoryEntity}
	if super != nil {
		l := super.Link()
		def.SuperType = &l
	}
	for _, p := range props {
		def.Properties = append(def.Properties, model.PropertyDef{Name: p, AttributeTypeName: "string"})
	}
	return def
}

func TestPutWritesActiveOnlyWithLocalRepository(t *testing.T) {
	asset := entity("g-asset", "Asset", nil)

	withoutRepo := newRegistry(false)
	require.True(t, withoutRepo.Put(asset, true))
	assert.True(t, withoutRepo.IsKnown("g-asset", "Asset"))
	assert.False(t, withoutRepo.IsActive("g-asset", "Asset"))

	withRepo := newRegistry(true)
	require.True(t, withRepo.Put(asset, false))
	assert.False(t, withRepo.IsActive("g-asset", "Asset"))
	require.True(t, withRepo.Put(asset, true))
	assert.True(t, withRepo.IsActive("g-asset", "Asset"))
}

func TestPutRejectsContradictions(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "T", nil), true))

	tests := []struct {
		name string
		def  model.TypeDef
	}{
		{"same name different guid", entity("g2", "T", nil)},
		{"same guid different name", entity("g1", "U", nil)},
		{"different version", func() model.TypeDef { d := entity("g1", "T", nil); d.Version = 2; return d }()},
		{"different category", func() model.TypeDef {
			d := entity("g1", "T", nil)
			d.Category = model.CategoryRelationship
			return d
		}()},
		{"missing guid", entity("", "V", nil)},
		{"unknown category", model.TypeDef{GUID: "g9", Name: "W", Version: 1, Category: "Blob"}},
		{"unknown super-type", func() model.TypeDef {
			d := entity("g3", "X", nil)
			d.SuperType = &model.TypeDefLink{GUID: "g-missing", Name: "Missing"}
			return d
		}()},
		{"self super-type", func() model.TypeDef {
			d := entity("g4", "Y", nil)
			d.SuperType = &model.TypeDefLink{GUID: "g4", Name: "Y"}
			return d
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, reg.Put(tt.def, true))
		})
	}

	got, ok := reg.TypeDefByName(registry.Known, "T")
	require.True(t, ok)
	assert.Equal(t, "g1", got.GUID)
	assert.Equal(t, 1, reg.Stats().KnownTypes)
}

func TestPutRejectsSuperTypeOfOtherCategory(t *testing.T) {
	reg := newRegistry(false)
	rel := model.TypeDef{GUID: "g-rel", Name: "Link", Version: 1, Category: model.CategoryRelationship}
	require.True(t, reg.Put(rel, false))
	ent := entity("g-e", "E", nil)
	ent.SuperType = &model.TypeDefLink{GUID: "g-rel", Name: "Link"}
	assert.False(t, reg.Put(ent, false))
}

func TestLookupsReturnCopies(t *testing.T) {
	reg := newRegistry(false)
	require.True(t, reg.Put(entity("g1", "T", nil, "a"), false))

	got, ok := reg.TypeDefByGUID(registry.Known, "g1")
	require.True(t, ok)
	got.Properties[0].Name = "mutated"

	again, _ := reg.TypeDefByGUID(registry.Known, "g1")
	assert.Equal(t, "a", again.Properties[0].Name)
}

func TestScopes(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "Known", nil), false))
	require.True(t, reg.Put(entity("g2", "Active", nil), true))

	_, ok := reg.TypeDefByName(registry.Active, "Known")
	assert.False(t, ok)
	_, ok = reg.TypeDefByName(registry.Known, "Active")
	assert.True(t, ok)

	assert.Len(t, reg.AllKnown().TypeDefs, 2)
	active := reg.AllActive().TypeDefs
	require.Len(t, active, 1)
	assert.Equal(t, "Active", active[0].Name)
}

func TestUpdateVersionPolicy(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "T", nil), true))

	same := entity("g1", "T", nil)
	err := reg.Update(same, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrTypeError))
	assert.Contains(t, err.Error(), "not newer")

	next := entity("g1", "T", nil, "added")
	next.Version = 2
	require.NoError(t, reg.Update(next, false))

	got, ok := reg.TypeDefByName(registry.Active, "T")
	require.True(t, ok, "an active entry stays active")
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, reg.ValidTypeDefIDVersion("g1", "T", 2, model.CategoryEntity))
	assert.False(t, reg.ValidTypeDefIDVersion("g1", "T", 1, model.CategoryEntity))

	unknown := entity("g9", "Nope", nil)
	unknown.Version = 5
	var te *registry.TypeError
	require.ErrorAs(t, reg.Update(unknown, false), &te)
	assert.Equal(t, "update", te.Op)
}

func TestRemove(t *testing.T) {
	reg := newRegistry(true)
	parent := entity("g-p", "Parent", nil)
	child := entity("g-c", "Child", &parent)
	require.True(t, reg.Put(parent, true))
	require.True(t, reg.Put(child, true))

	assert.False(t, reg.Remove("g-p", "Wrong"), "mismatched pair")
	assert.False(t, reg.Remove("g-p", "Parent"), "parent still has a subtype")

	require.True(t, reg.Remove("g-c", "Child"))
	assert.False(t, reg.IsKnown("g-c", "Child"))
	assert.False(t, reg.IsActive("g-c", "Child"))

	require.True(t, reg.Remove("g-p", "Parent"))
	assert.Equal(t, registry.Stats{}, reg.Stats())
}

func TestReidentifyAtomicity(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "T", nil, "p"), true))

	next := entity("g2", "T2", nil, "p")
	require.NoError(t, reg.Reidentify("g1", "T", next, false))

	_, ok := reg.TypeDefByGUID(registry.Known, "g1")
	assert.False(t, ok)
	_, ok = reg.TypeDefByName(registry.Known, "T")
	assert.False(t, ok)
	_, ok = reg.TypeDefByGUID(registry.Active, "g1")
	assert.False(t, ok)
	assert.False(t, reg.IsKnown("g1", ""))
	assert.False(t, reg.IsKnown("", "T"))

	got, ok := reg.TypeDefByGUID(registry.Known, "g2")
	require.True(t, ok)
	assert.Equal(t, "T2", got.Name)
	assert.True(t, reg.IsActive("g2", "T2"), "active status carries over")
	assert.True(t, reg.ValidTypeDef(&next))
	assert.True(t, reg.ValidTypeID("g1", "T"), "old identity is unknown again, so valid")
	assert.True(t, reg.ValidTypeID("g2", "T2"))
	assert.False(t, reg.ValidTypeID("g1", "T2"))
}

func TestReidentifyNeverExposesHalfState(t *testing.T) {
	reg := newRegistry(false)
	require.True(t, reg.Put(entity("g1", "T", nil), false))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var torn int
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := reg.AllKnown()
				if len(snap.TypeDefs) != 1 {
					mu.Lock()
					torn++
					mu.Unlock()
				}
			}
		}()
	}

	cur := entity("g1", "T", nil)
	for i := 0; i < 200; i++ {
		next := entity(fmt.Sprintf("g%d", i+2), fmt.Sprintf("T%d", i+2), nil)
		require.NoError(t, reg.Reidentify(cur.GUID, cur.Name, next, false))
		cur = next
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, torn)
}

func TestReidentifyRejections(t *testing.T) {
	reg := newRegistry(false)
	parent := entity("g-p", "Parent", nil)
	require.True(t, reg.Put(parent, false))
	require.True(t, reg.Put(entity("g-c", "Child", &parent), false))
	require.True(t, reg.Put(entity("g-o", "Other", nil), false))

	tests := []struct {
		name       string
		oldGUID    string
		oldName    string
		next       model.TypeDef
		wantReason string
	}{
		{"unknown", "g-x", "X", entity("g-y", "Y", nil), "not known"},
		{"has subtype", "g-p", "Parent", entity("g-p2", "Parent2", nil), "super-type of"},
		{"name collision", "g-o", "Other", entity("g-o2", "Child", nil), "already used"},
		{"guid collision", "g-o", "Other", entity("g-c", "Other2", nil), "already used"},
		{"category change", "g-o", "Other", model.TypeDef{GUID: "g-o2", Name: "Other2", Version: 1, Category: model.CategoryClassification}, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Reidentify(tt.oldGUID, tt.oldName, tt.next, false)
			require.Error(t, err)
			assert.True(t, errors.Is(err, registry.ErrTypeError))
			assert.Contains(t, err.Error(), tt.wantReason)
		})
	}
	assert.Equal(t, 3, reg.Stats().KnownTypes)
}

func TestValidatorUnknownIsValid(t *testing.T) {
	reg := newRegistry(false)
	assert.True(t, reg.ValidTypeID("g-new", "New"))
	assert.True(t, reg.ValidTypeDefIDVersion("g-new", "New", 7, model.CategoryClassification))
	assert.False(t, reg.ValidTypeID("", "New"))
	assert.False(t, reg.ValidTypeID("g-new", ""))
	assert.False(t, reg.ValidTypeDefID("g-new", "New", ""))
	assert.False(t, reg.ValidTypeDef(nil))
	assert.False(t, reg.ValidTypeDefSummary(nil))
	assert.False(t, reg.ValidAttributeTypeDef(nil))

	require.True(t, reg.Put(entity("g1", "T", nil), false))
	assert.False(t, reg.ValidTypeID("g2", "T"), "name cached under another guid")
	assert.False(t, reg.ValidTypeID("g1", "U"), "guid cached under another name")
	assert.False(t, reg.ValidTypeDefID("g1", "T", model.CategoryClassification))
	assert.True(t, reg.ValidTypeDefID("g1", "T", model.CategoryEntity))
}

func TestAttributeTypes(t *testing.T) {
	reg := newRegistry(true)
	str := model.AttributeTypeDef{GUID: "a-str", Name: "string", Version: 1, Category: model.AttributeCategoryPrimitive}
	require.True(t, reg.PutAttributeTypeDef(str, true))
	assert.True(t, reg.ValidAttributeTypeDef(&str))
	assert.True(t, reg.ValidAttributeTypeID("a-str", "string"))
	assert.False(t, reg.ValidAttributeTypeDefID("a-str", "string", model.AttributeCategoryEnum))

	clash := model.AttributeTypeDef{GUID: "a-other", Name: "string", Version: 1, Category: model.AttributeCategoryPrimitive}
	assert.False(t, reg.PutAttributeTypeDef(clash, true))
	assert.False(t, reg.Put(entity("g-string", "string", nil), false), "names are unique across kinds")

	v2 := str
	v2.Version = 2
	require.NoError(t, reg.UpdateAttributeTypeDef(v2, false))
	got, ok := reg.AttributeTypeDefByName(registry.Active, "string")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Version)

	renamed := model.AttributeTypeDef{GUID: "a-text", Name: "text", Version: 1, Category: model.AttributeCategoryPrimitive}
	require.NoError(t, reg.ReidentifyAttributeTypeDef("a-str", "string", renamed, false))
	_, ok = reg.AttributeTypeDefByGUID(registry.Known, "a-str")
	assert.False(t, ok)
	assert.True(t, reg.IsActive("a-text", "text"))

	assert.True(t, reg.RemoveAttributeTypeDef("a-text", "text"))
	assert.False(t, reg.IsKnown("a-text", "text"))
}

func TestFindByWildcardName(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "DataSet", nil), true))
	require.True(t, reg.Put(entity("g2", "DataFile", nil), true))
	require.True(t, reg.Put(entity("g3", "DataStore", nil), false))
	require.True(t, reg.PutAttributeTypeDef(model.AttributeTypeDef{GUID: "a1", Name: "DataKind", Version: 1, Category: model.AttributeCategoryEnum}, true))

	res, err := reg.FindByWildcardName("Data.*")
	require.NoError(t, err)
	require.NotNil(t, res)
	names := []string{}
	for _, d := range res.TypeDefs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"DataFile", "DataSet"}, names, "known-only DataStore is excluded")
	require.Len(t, res.AttributeTypeDefs, 1)

	res, err = reg.FindByWildcardName("Set")
	require.NoError(t, err)
	assert.Nil(t, res, "pattern must match the whole name")

	res, err = reg.FindByWildcardName("DataStore")
	require.NoError(t, err)
	assert.Nil(t, res, "no active match is a nil result, not two empty lists")

	_, err = reg.FindByWildcardName("Data[")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrTypeError))
}

func TestIsOpenType(t *testing.T) {
	reg := newRegistry(false)
	open := entity("g-open", "Referenceable", nil)
	open.Origin = "archive-1"
	mine := entity("g-mine", "Mine", nil)
	mine.Origin = "cohort-peer"
	require.True(t, reg.Put(open, false))
	require.True(t, reg.Put(mine, false))

	assert.False(t, reg.IsOpenType("g-open", "Referenceable"), "no origin recorded yet")
	reg.SetOpenTypesOrigin("archive-1")
	assert.Equal(t, "archive-1", reg.OpenTypesOrigin())
	assert.True(t, reg.IsOpenType("g-open", "Referenceable"))
	assert.False(t, reg.IsOpenType("g-open", "Wrong"))
	assert.False(t, reg.IsOpenType("g-mine", "Mine"))
}

func TestClassificationCompatibility(t *testing.T) {
	reg := newRegistry(false)
	e1 := entity("g-e1", "E1", nil)
	e2 := entity("g-e2", "E2", &e1)
	e3 := entity("g-e3", "E3", nil)
	for _, d := range []model.TypeDef{e1, e2, e3} {
		require.True(t, reg.Put(d, false))
	}
	classification := func(guid, name string, allowed []model.TypeDefLink) model.TypeDef {
		return model.TypeDef{GUID: guid, Name: name, Version: 1, Category: model.CategoryClassification, ValidEntityDefs: allowed}
	}
	require.True(t, reg.Put(classification("g-c1", "C1", []model.TypeDefLink{e1.Link()}), false))
	require.True(t, reg.Put(classification("g-any", "Any", nil), false))
	require.True(t, reg.Put(classification("g-never", "Never", []model.TypeDefLink{}), false))

	tests := []struct {
		classification, entity string
		want                   bool
	}{
		{"C1", "E1", true},
		{"C1", "E2", true},
		{"C1", "E3", false},
		{"Any", "E3", true},
		{"Never", "E1", false},
		{"C1", "Unknown", false},
		{"Unknown", "E1", false},
		{"E1", "E1", false},
		{"C1", "C1", false},
	}
	for _, tt := range tests {
		t.Run(tt.classification+"/"+tt.entity, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.IsClassificationValidForEntity(tt.classification, tt.entity))
		})
	}
}

func TestResolveInstanceType(t *testing.T) {
	reg := newRegistry(false)
	root := entity("g-r", "Referenceable", nil, "qualifiedName")
	root.ValidStatuses = []model.InstanceStatus{model.StatusActive, model.StatusDeprecated}
	asset := entity("g-a", "Asset", &root, "name", "owner")
	asset.Description = "anything of value"
	table := entity("g-t", "Table", &asset, "columns")
	for _, d := range []model.TypeDef{root, asset, table} {
		require.True(t, reg.Put(d, false))
	}

	it, err := reg.ResolveInstanceType(model.CategoryEntity, "Table")
	require.NoError(t, err)
	assert.Equal(t, "g-t", it.GUID)
	assert.Equal(t, []model.TypeDefLink{root.Link(), asset.Link()}, it.SuperTypes)
	assert.Equal(t, []string{"qualifiedName", "name", "owner", "columns"}, it.PropertyNames)
	assert.Equal(t, []model.InstanceStatus{model.StatusActive, model.StatusDeprecated}, it.ValidStatuses, "inherited from the root")

	props := reg.AllProperties(table)
	require.Len(t, props, 4)
	assert.Equal(t, "qualifiedName", props[0].Name)
	assert.Equal(t, "columns", props[3].Name)

	rootIT, err := reg.ResolveInstanceType(model.CategoryEntity, "Referenceable")
	require.NoError(t, err)
	assert.Empty(t, rootIT.SuperTypes)

	bare := entity("g-b", "Bare", nil)
	require.True(t, reg.Put(bare, false))
	bareIT, err := reg.ResolveInstanceType(model.CategoryEntity, "Bare")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultValidStatuses, bareIT.ValidStatuses)
	assert.Empty(t, bareIT.PropertyNames)
}

func TestResolveInstanceTypeErrors(t *testing.T) {
	reg := newRegistry(false)
	require.True(t, reg.Put(entity("g1", "T", nil), false))

	tests := []struct {
		name     string
		category model.TypeDefCategory
		typeName string
		reason   string
	}{
		{"empty name", model.CategoryEntity, "", "required"},
		{"unknown name", model.CategoryEntity, "Nope", "not known"},
		{"category mismatch", model.CategoryClassification, "T", "is a EntityDef"},
		{"bad category", "Blob", "T", "unknown category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.ResolveInstanceType(tt.category, tt.typeName)
			var te *registry.TypeError
			require.ErrorAs(t, err, &te)
			assert.True(t, errors.Is(err, registry.ErrTypeError))
			assert.Contains(t, te.Reason, tt.reason)
		})
	}
	assert.True(t, reg.IsValidTypeCategory(model.CategoryEntity, "T"))
	assert.False(t, reg.IsValidTypeCategory(model.CategoryRelationship, "T"))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	reg := newRegistry(true)
	root := entity("g-root", "Root", nil, "id")
	require.True(t, reg.Put(root, true))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				def := entity(fmt.Sprintf("g-%d-%d", w, i), fmt.Sprintf("T%d_%d", w, i), &root)
				reg.Put(def, i%2 == 0)
			}
		}(w)
	}
	for rdr := 0; rdr < 4; rdr++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = reg.FindByWildcardName("T.*")
				_ = reg.AllActive()
				_, _ = reg.ResolveInstanceType(model.CategoryEntity, "Root")
			}
		}()
	}
	wg.Wait()

	s := reg.Stats()
	assert.Equal(t, 201, s.KnownTypes)
	assert.Equal(t, 101, s.ActiveTypes)
}

func TestCheckPutMatchesPutWithoutWriting(t *testing.T) {
	reg := newRegistry(true)
	base := entity("g-base", "Base", nil)
	child := entity("g-child", "Child", &base)

	err := reg.CheckPut(child)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrTypeError)
	assert.ErrorIs(t, err, registry.ErrSuperTypeNotKnown)
	assert.False(t, reg.Put(child, true))

	require.NoError(t, reg.CheckPut(base))
	assert.False(t, reg.IsKnown("g-base", "Base"), "a check never writes")
	require.True(t, reg.Put(base, true))
	require.NoError(t, reg.CheckPut(child))

	clash := entity("g-other", "Base", nil)
	err = reg.CheckPut(clash)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrTypeError)
	assert.NotErrorIs(t, err, registry.ErrSuperTypeNotKnown)
}

func TestCheckPutAttributeTypeDef(t *testing.T) {
	reg := newRegistry(false)
	require.True(t, reg.Put(entity("g1", "T", nil), false))

	err := reg.CheckPutAttributeTypeDef(model.AttributeTypeDef{
		Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "T", Version: 1,
	})
	assert.ErrorIs(t, err, registry.ErrTypeError)
	assert.NoError(t, reg.CheckPutAttributeTypeDef(model.AttributeTypeDef{
		Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "string", Version: 1,
	}))
	assert.False(t, reg.IsKnown("a1", ""))
}

func TestCheckReidentifyLeavesCache(t *testing.T) {
	reg := newRegistry(true)
	require.True(t, reg.Put(entity("g1", "T", nil), true))

	orphaned := entity("g1", "Thing", nil)
	orphaned.SuperType = &model.TypeDefLink{GUID: "g-missing", Name: "Missing"}
	assert.ErrorIs(t, reg.CheckReidentify("g1", "T", orphaned), registry.ErrSuperTypeNotKnown)

	renamed := entity("g1", "Thing", nil)
	require.NoError(t, reg.CheckReidentify("g1", "T", renamed))
	assert.True(t, reg.IsActive("g1", "T"))
	assert.False(t, reg.IsKnown("", "Thing"))
	require.NoError(t, reg.Reidentify("g1", "T", renamed, false))
	assert.True(t, reg.IsActive("g1", "Thing"))

	str := model.AttributeTypeDef{Category: model.AttributeCategoryPrimitive, GUID: "a1", Name: "string", Version: 1}
	require.True(t, reg.PutAttributeTypeDef(str, false))
	enum := str
	enum.Category = model.AttributeCategoryEnum
	assert.ErrorIs(t, reg.CheckReidentifyAttributeTypeDef("a1", "string", enum), registry.ErrTypeError)
}
