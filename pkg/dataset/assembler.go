package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/vyvo/datasheets/backend/pkg/assets"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
)

// Top-level keys of an assembled dataset.
const (
	KeyGlobals  = "globals"
	KeySeries   = "series"
	KeyMetadata = "metadata"
	KeyProducts = "products"
	// KeyAttributes holds the nested attribute mapping of each product.
	KeyAttributes = "attributes"
)

// productFields are product keys that mirrored attributes never overwrite.
var productFields = map[string]struct{}{
	"id": {}, "sku": {}, "name": {}, KeyAttributes: {},
}

// VariableLister is the part of catalog.VariableStore the assembler needs.
type VariableLister interface {
	ListVariables(ctx context.Context, seriesID *int64) ([]catalog.Variable, error)
}

// Assembler builds the dataset fed to the literal encoder from catalog stores.
type Assembler struct {
	data     catalog.DataProvider
	vars     VariableLister
	resolver *assets.Resolver
}

// NewAssembler wires an assembler. resolver may be nil, in which case no
// values are staged.
func NewAssembler(data catalog.DataProvider, vars VariableLister, resolver *assets.Resolver) *Assembler {
	return &Assembler{data: data, vars: vars, resolver: resolver}
}

// Assemble builds {globals, series?, metadata?, products?}. When seriesID is
// nil only globals are present. Media values are staged into stage when both
// stage and the resolver are set.
func (a *Assembler) Assemble(ctx context.Context, seriesID *int64, stage *assets.Stage) (Mapping, error) {
	globalVars, err := a.vars.ListVariables(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list global variables: %w", err)
	}

	globals := Mapping{}
	for _, v := range globalVars {
		val, err := a.variableValue(v, stage)
		if err != nil {
			return nil, err
		}
		globals.Set(v.Key, val)
	}

	out := Mapping{}
	if seriesID == nil {
		out.Set(KeyGlobals, globals)
		return out, nil
	}

	series, err := a.data.GetSeries(ctx, *seriesID)
	if err != nil {
		return nil, err
	}

	seriesVars, err := a.vars.ListVariables(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series variables: %w", err)
	}
	for _, v := range seriesVars {
		val, err := a.variableValue(v, stage)
		if err != nil {
			return nil, err
		}
		globals.Set(v.Key, val)
	}
	out.Set(KeyGlobals, globals)
	out.Set(KeySeries, Mapping{
		{Key: "id", Value: Int(series.ID)},
		{Key: "name", Value: String(series.Name)},
	})

	meta, err := a.data.SeriesMetadata(ctx, series.ID)
	if err != nil {
		return nil, fmt.Errorf("list series metadata: %w", err)
	}
	metadata := Mapping{}
	for _, m := range meta {
		val, err := a.stageValue(m.Value, false, stage)
		if err != nil {
			return nil, err
		}
		metadata.Set(m.Key, val)
	}
	out.Set(KeyMetadata, metadata)

	products, err := a.data.ProductsBySeries(ctx, series.ID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	items := make(Sequence, 0, len(products))
	for _, p := range products {
		item, err := a.product(ctx, p, stage)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	out.Set(KeyProducts, items)

	return out, nil
}

func (a *Assembler) product(ctx context.Context, p catalog.Product, stage *assets.Stage) (Mapping, error) {
	attrs, err := a.data.ProductAttributes(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list attributes of product %s: %w", p.SKU, err)
	}

	attributes := make(Mapping, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Type == catalog.FieldNumber {
			if n, err := ParseNumber(strings.TrimSpace(attr.Value)); err == nil {
				attributes.Set(attr.Key, n)
				continue
			}
		}
		val, err := a.stageValue(attr.Value, attr.Type == string(catalog.VariableImage), stage)
		if err != nil {
			return nil, err
		}
		attributes.Set(attr.Key, val)
	}

	item := Mapping{
		{Key: "id", Value: Int(p.ID)},
		{Key: "sku", Value: String(p.SKU)},
		{Key: "name", Value: String(p.Name)},
		{Key: KeyAttributes, Value: attributes},
	}
	for _, e := range attributes {
		if _, reserved := productFields[e.Key]; reserved {
			continue
		}
		item.Set(e.Key, e.Value)
	}
	return item, nil
}

func (a *Assembler) variableValue(v catalog.Variable, stage *assets.Stage) (Value, error) {
	return a.stageValue(v.Value, v.Type == catalog.VariableImage, stage)
}

// stageValue passes media-like values through the resolver. Declared image
// values get a placeholder on a miss; values that merely look like files are
// left unchanged when nothing is found.
func (a *Assembler) stageValue(raw string, image bool, stage *assets.Stage) (Value, error) {
	if a.resolver == nil || stage == nil {
		return String(raw), nil
	}
	if !image && !assets.LooksLikeMedia(raw) {
		return String(raw), nil
	}
	if raw == "" {
		return String(raw), nil
	}
	rel, err := a.resolver.Resolve(stage, raw, image)
	if err != nil {
		return nil, err
	}
	return String(rel), nil
}
