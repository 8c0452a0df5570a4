package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvo/datasheets/backend/pkg/assets"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
)

func seededStore(t *testing.T) *catalog.MemStore {
	t.Helper()
	series := int64(1)
	store := catalog.NewMemStore()
	err := store.Seed(context.Background(), catalog.Seed{
		Fields: []catalog.SeedField{
			{ID: 1, Key: "Voltage", Label: "Voltage", Type: "text"},
			{ID: 2, Key: "photo", Label: "Photo", Type: "image"},
			{ID: 3, Key: "sku", Label: "SKU override", Type: "text"},
		},
		Series: []catalog.SeedSeries{{
			ID:   1,
			Name: "Power Supplies",
			Metadata: []catalog.SeriesMetadata{
				{Key: "warranty", Label: "Warranty", Value: "2 years"},
			},
			Products: []catalog.SeedProduct{
				{ID: 11, SKU: "PS-12", Name: "Twelve", Attributes: map[string]string{"Voltage": "12V", "sku": "ignored"}},
				{ID: 10, SKU: "PS-05", Name: "Five", Attributes: map[string]string{"Voltage": "5V", "photo": "img/ps05.png"}},
			},
		}},
		Variables: []catalog.SeedVariable{
			{Key: "company-name", Value: "Acme Co"},
			{Key: "tagline", Value: "Global tagline"},
			{Key: "tagline", Value: "Series tagline", SeriesID: &series},
		},
	})
	require.NoError(t, err)
	return store
}

func TestAssembleGlobalsOnly(t *testing.T) {
	store := seededStore(t)
	a := NewAssembler(store, store, nil)

	data, err := a.Assemble(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyGlobals}, data.Keys())

	globals, _ := data.Get(KeyGlobals)
	v, ok := globals.(Mapping).Get("tagline")
	require.True(t, ok)
	assert.Equal(t, String("Global tagline"), v)
}

func TestAssembleSeries(t *testing.T) {
	store := seededStore(t)
	a := NewAssembler(store, store, nil)
	series := int64(1)

	data, err := a.Assemble(context.Background(), &series, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyGlobals, KeySeries, KeyMetadata, KeyProducts}, data.Keys())

	globals, _ := data.Get(KeyGlobals)
	tagline, _ := globals.(Mapping).Get("tagline")
	assert.Equal(t, String("Series tagline"), tagline)

	meta, _ := data.Get(KeyMetadata)
	warranty, _ := meta.(Mapping).Get("warranty")
	assert.Equal(t, String("2 years"), warranty)

	productsVal, _ := data.Get(KeyProducts)
	products := productsVal.(Sequence)
	require.Len(t, products, 2)

	first := products[0].(Mapping)
	second := products[1].(Mapping)
	sku, _ := first.Get("sku")
	assert.Equal(t, String("PS-05"), sku, "products are ordered by SKU")

	// values for the same attribute key stay with their own product
	attrs0, _ := first.Get(KeyAttributes)
	attrs1, _ := second.Get(KeyAttributes)
	v0, _ := attrs0.(Mapping).Get("Voltage")
	v1, _ := attrs1.(Mapping).Get("Voltage")
	assert.Equal(t, String("5V"), v0)
	assert.Equal(t, String("12V"), v1)

	mirrored, ok := second.Get("Voltage")
	require.True(t, ok)
	assert.Equal(t, String("12V"), mirrored)

	// mirrored attributes never replace product fields
	sku, _ = second.Get("sku")
	assert.Equal(t, String("PS-12"), sku)
}

func TestAssembleUnknownSeries(t *testing.T) {
	store := seededStore(t)
	a := NewAssembler(store, store, nil)
	missing := int64(99)

	_, err := a.Assemble(context.Background(), &missing, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
}

func TestAssembleStagesImageAttributes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "public", "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "public", "img", "ps05.png"), []byte("png"), 0o644))

	store := seededStore(t)
	resolver := assets.NewResolver(assets.RootsUnder(root, assets.DefaultRoots))
	a := NewAssembler(store, store, resolver)
	workspace := t.TempDir()
	stage := assets.NewStage(workspace)
	series := int64(1)

	data, err := a.Assemble(context.Background(), &series, stage)
	require.NoError(t, err)

	productsVal, _ := data.Get(KeyProducts)
	attrs, _ := productsVal.(Sequence)[0].(Mapping).Get(KeyAttributes)
	photo, _ := attrs.(Mapping).Get("photo")
	assert.Equal(t, String("img/ps05.png"), photo)

	staged, err := os.ReadFile(filepath.Join(workspace, "img", "ps05.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(staged))
}

func TestAssembleNumberFields(t *testing.T) {
	store := catalog.NewMemStore()
	require.NoError(t, store.Seed(context.Background(), catalog.Seed{
		Fields: []catalog.SeedField{{ID: 1, Key: "Wattage", Label: "Wattage", Type: catalog.FieldNumber}},
		Series: []catalog.SeedSeries{{
			ID: 1,
			Products: []catalog.SeedProduct{
				{ID: 1, SKU: "A", Attributes: map[string]string{"Wattage": "60.0"}},
				{ID: 2, SKU: "B", Attributes: map[string]string{"Wattage": "inf"}},
			},
		}},
	}))
	a := NewAssembler(store, store, nil)
	series := int64(1)

	data, err := a.Assemble(context.Background(), &series, nil)
	require.NoError(t, err)
	products, _ := data.Get(KeyProducts)

	watts, _ := products.(Sequence)[0].(Mapping).Get("Wattage")
	assert.Equal(t, Number("60.0"), watts)
	watts, _ = products.(Sequence)[1].(Mapping).Get("Wattage")
	assert.Equal(t, String("inf"), watts)
}
