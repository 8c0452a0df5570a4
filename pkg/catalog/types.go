package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested series, template or variable does not exist.
var ErrNotFound = errors.New("not found")

// VariableType distinguishes plain text variables from media references.
type VariableType string

const (
	VariableText  VariableType = "text"
	VariableImage VariableType = "image"
)

// Valid reports whether t is a known variable type.
func (t VariableType) Valid() bool {
	return t == VariableText || t == VariableImage
}

// FieldScopeProduct marks field definitions that describe per-product attributes.
const FieldScopeProduct = "product"

// FieldNumber marks fields whose values are encoded as bare numbers.
const FieldNumber = "number"

// Series groups products that are published together.
type Series struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Variable is a template variable bound either globally (SeriesID nil) or to one series.
type Variable struct {
	ID        int64        `json:"id"`
	Key       string       `json:"key"`
	Type      VariableType `json:"type"`
	Value     string       `json:"value"`
	SeriesID  *int64       `json:"series_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// VariableInput carries the writable fields of a Variable.
type VariableInput struct {
	Key      string       `json:"key"`
	Type     VariableType `json:"type"`
	Value    string       `json:"value"`
	SeriesID *int64       `json:"series_id,omitempty"`
}

// SeriesMetadata is one key/label/value row scoped to a series.
type SeriesMetadata struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Product is a catalog item belonging to a series.
type Product struct {
	ID       int64  `json:"id"`
	SeriesID int64  `json:"series_id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
}

// Attribute is a product attribute value joined with its field definition.
type Attribute struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Field defines an attribute column.
type Field struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// Template is a user-authored document template.
type Template struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Dialect          string     `json:"dialect"`
	SeriesID         *int64     `json:"series_id,omitempty"`
	Body             string     `json:"body"`
	LastArtifactURL  string     `json:"last_artifact_url,omitempty"`
	LastArtifactPath string     `json:"last_artifact_path,omitempty"`
	GeneratedAt      *time.Time `json:"generated_at,omitempty"`
}

// ArtifactPointer records the latest compiled artifact of a template.
type ArtifactPointer struct {
	URL         string
	Path        string
	GeneratedAt time.Time
}
