package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/catalog"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/stock"
)

func TestLoad_Full(t *testing.T) {
	cfg, err := Load("testdata/full.cue")
	require.NoError(t, err)

	assert.Equal(t, "PRODUCT", cfg.EntityType)
	assert.Equal(t, "stock_item", cfg.StockStrategy)
	assert.False(t, cfg.ExcludeOutOfStock)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, []string{"configurable"}, cfg.ParentKinds)
	assert.Equal(t, []string{"simple", "virtual", "downloadable"}, cfg.ChildTypes, "default child types")
	assert.Equal(t, []string{"default", "wholesale"}, cfg.APIKeyNames())
	assert.Equal(t, []int64{1, 2}, cfg.APIKeys["default"].Stores)

	watched, err := cfg.Watched()
	require.NoError(t, err)
	assert.Equal(t, ir.NewAspectSet(ir.AspectPrice, ir.AspectStock, ir.AspectVisibility), watched)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.cue")
	require.NoError(t, err)

	want := Default(1)
	assert.Equal(t, want.EntityType, cfg.EntityType)
	assert.Equal(t, want.StockStrategy, cfg.StockStrategy)
	assert.Equal(t, want.ExcludeOutOfStock, cfg.ExcludeOutOfStock)
	assert.Equal(t, want.Concurrency, cfg.Concurrency)
	assert.Equal(t, want.ParentKinds, cfg.ParentKinds)
	assert.Equal(t, want.ChildTypes, cfg.ChildTypes)
	assert.Equal(t, want.WatchedAspects, cfg.WatchedAspects)
	assert.Equal(t, want.APIKeys, cfg.APIKeys)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/nope.cue")
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrCUE, cfgErr.Code)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load("testdata/typo.cue")
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrCUE, cfgErr.Code)
	assert.Contains(t, err.Error(), "exclude_out_of_stok")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
		want string
	}{
		{"syntax", "api_keys: {", ErrCUE, ""},
		{"bad aspect", `api_keys: a: stores: [1]
watched_aspects: ["colour"]`, ErrCUE, "watched_aspects"},
		{"bad kind", `api_keys: a: stores: [1]
parent_kinds: ["kit"]`, ErrCUE, "parent_kinds"},
		{"negative store", `api_keys: a: stores: [-1]`, ErrCUE, "stores"},
		{"negative concurrency", `api_keys: a: stores: [1]
concurrency: -1`, ErrCUE, "concurrency"},
		{"no api keys", ``, ErrNoAPIKeys, "at least one api key is required"},
		{"duplicate store", `api_keys: a: stores: [1, 1]`, ErrDuplicateStore, "duplicate store 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.cue", []byte(tt.src))
			require.Error(t, err)
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.code, cfgErr.Code)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse("pos.cue", []byte("api_keys: a: stores: [1]\nconcurrency: \"four\"\n"))
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	require.True(t, cfgErr.Pos.IsValid())
	assert.Contains(t, err.Error(), "pos.cue:")
}

func TestParse_UnknownStrategyIsNotAnError(t *testing.T) {
	cfg, err := Parse("test.cue", []byte(`api_keys: a: stores: [1]
stock_strategy: "warehouse"`))
	require.NoError(t, err)
	assert.Equal(t, "warehouse", cfg.StockStrategy)
}

func TestValidate(t *testing.T) {
	cfg := Default(1)
	assert.Empty(t, Validate(cfg))

	cfg.EntityType = " "
	cfg.WatchedAspects = []string{"none", "price"}
	cfg.ParentKinds = []string{"kit"}
	cfg.ChildTypes = []string{""}
	cfg.Aspects = map[string]string{"color": "hue"}

	errs := Validate(cfg)
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []string{ErrEmptyField, ErrInvalidAspect, ErrInvalidKind, ErrEmptyField, ErrInvalidAspect}, codes)
}

func TestOverrides_Sorted(t *testing.T) {
	cfg := Default()
	cfg.Aspects = map[string]string{"size": "attributes", "color": "attributes", "cost": "price"}
	got := cfg.Overrides()
	require.Len(t, got, 3)
	assert.Equal(t, "color", got[0].Code)
	assert.Equal(t, "cost", got[1].Code)
	assert.Equal(t, ir.AspectPrice, got[1].Aspect)
	assert.Equal(t, "size", got[2].Code)
}

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(catalog.Snapshot{
		Stores: []ir.Store{{ID: 1, Code: "en", WebsiteID: 1}, {ID: 2, Code: "de", WebsiteID: 2}},
		Entities: []ir.Entity{
			{ID: 5, TypeID: ir.TypeSimple, Enabled: true, StoreIDs: []int64{1}},
		},
	})
	require.NoError(t, err)
	return c
}

func TestBuild(t *testing.T) {
	cfg, err := Load("testdata/full.cue")
	require.NoError(t, err)

	got, err := cfg.Build(newCatalog(t))
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	assert.Equal(t, "PRODUCT", got.EntityType)
	assert.False(t, got.ExcludeOutOfStock)
	assert.Equal(t, 2, got.Concurrency)
	require.Len(t, got.APIKeys, 2)
	assert.Equal(t, "default", got.APIKeys[0].Key)
	assert.Equal(t, []ir.Store{{ID: 1, Code: "en", WebsiteID: 1}, {ID: 2, Code: "de", WebsiteID: 2}}, got.APIKeys[0].Stores)
	assert.Equal(t, "wholesale", got.APIKeys[1].Key)
}

func TestBuild_UnknownStore(t *testing.T) {
	cfg := Default(1, 9)
	_, err := cfg.Build(newCatalog(t))
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrUnknownStore, cfgErr.Code)
	assert.Contains(t, err.Error(), "unknown store 9")
}

func TestCollaborators(t *testing.T) {
	cfg, err := Load("testdata/full.cue")
	require.NoError(t, err)
	cat := newCatalog(t)

	collab, err := cfg.Collaborators(cat, nil, nil)
	require.NoError(t, err)

	set := collab.Classifier.ForEvent(&ir.ChangeEvent{Kind: ir.EventSaved, EntityID: 5, ChangedAttributes: []string{"Color"}})
	assert.Equal(t, ir.NewAspectSet(ir.AspectAttributes), set, "override applies")

	resolver, ok := collab.Stock.(*stock.Resolver)
	require.True(t, ok)
	assert.Equal(t, stock.StrategyStockItem, resolver.Strategy())

	e, _ := cat.Entity(5)
	parentsOf := collab.Parents.ResolveEntities(context.Background(), []ir.Entity{e})
	assert.Empty(t, parentsOf[5])
}
