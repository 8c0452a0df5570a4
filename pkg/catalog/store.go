package catalog

import "context"

// DataProvider exposes the read-only series/product data consumed by the dataset assembler.
type DataProvider interface {
	GetSeries(ctx context.Context, id int64) (Series, error)
	SeriesMetadata(ctx context.Context, seriesID int64) ([]SeriesMetadata, error)
	// ProductsBySeries returns products ordered by SKU ascending.
	ProductsBySeries(ctx context.Context, seriesID int64) ([]Product, error)
	// ProductAttributes returns product-scoped attributes. Order is unspecified.
	ProductAttributes(ctx context.Context, productID int64) ([]Attribute, error)
}

// VariableStore manages template variables. A nil seriesID selects the global scope.
type VariableStore interface {
	ListVariables(ctx context.Context, seriesID *int64) ([]Variable, error)
	GetVariable(ctx context.Context, id int64) (Variable, error)
	CreateVariable(ctx context.Context, input VariableInput) (Variable, error)
	UpdateVariable(ctx context.Context, id int64, input VariableInput) (Variable, error)
	DeleteVariable(ctx context.Context, id int64) error
}

// TemplateStore reads templates and records their last compiled artifact.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id int64) (Template, error)
	// ListTemplates returns all templates when seriesID is nil.
	ListTemplates(ctx context.Context, seriesID *int64) ([]Template, error)
	SaveArtifact(ctx context.Context, templateID int64, artifact ArtifactPointer) error
}

// Seeder loads a seed document into a store.
type Seeder interface {
	Seed(ctx context.Context, seed Seed) error
}

// Store is the full catalog surface implemented by MemStore and SQLStore.
type Store interface {
	DataProvider
	VariableStore
	TemplateStore
	Seeder
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*SQLStore)(nil)
)
