package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type attributeValue struct {
	fieldID int64
	value   string
}

// MemStore keeps catalog data in memory. It backs local tooling and tests.
type MemStore struct {
	mu         sync.RWMutex
	series     map[int64]Series
	metadata   map[int64][]SeriesMetadata
	products   map[int64]Product
	fields     map[int64]Field
	attributes map[int64][]attributeValue
	variables  map[int64]Variable
	templates  map[int64]Template
	nextVarID  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		series:     make(map[int64]Series),
		metadata:   make(map[int64][]SeriesMetadata),
		products:   make(map[int64]Product),
		fields:     make(map[int64]Field),
		attributes: make(map[int64][]attributeValue),
		variables:  make(map[int64]Variable),
		templates:  make(map[int64]Template),
	}
}

func (s *MemStore) GetSeries(_ context.Context, id int64) (Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[id]
	if !ok {
		return Series{}, fmt.Errorf("series %d: %w", id, ErrNotFound)
	}
	return sr, nil
}

func (s *MemStore) SeriesMetadata(_ context.Context, seriesID int64) ([]SeriesMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SeriesMetadata(nil), s.metadata[seriesID]...), nil
}

func (s *MemStore) ProductsBySeries(_ context.Context, seriesID int64) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Product
	for _, p := range s.products {
		if p.SeriesID == seriesID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU == out[j].SKU {
			return out[i].ID < out[j].ID
		}
		return out[i].SKU < out[j].SKU
	})
	return out, nil
}

func (s *MemStore) ProductAttributes(_ context.Context, productID int64) ([]Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attribute
	for _, av := range s.attributes[productID] {
		f, ok := s.fields[av.fieldID]
		if !ok || f.Scope != FieldScopeProduct {
			continue
		}
		out = append(out, Attribute{Key: f.Key, Label: f.Label, Type: f.Type, Value: av.value})
	}
	return out, nil
}

func (s *MemStore) ListVariables(_ context.Context, seriesID *int64) ([]Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Variable
	for _, v := range s.variables {
		if sameScope(v.SeriesID, seriesID) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) GetVariable(_ context.Context, id int64) (Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[id]
	if !ok {
		return Variable{}, fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	return v, nil
}

func (s *MemStore) CreateVariable(_ context.Context, input VariableInput) (Variable, error) {
	if err := input.Validate(); err != nil {
		return Variable{}, err
	}
	input = input.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVarID++
	now := time.Now().UTC()
	v := Variable{
		ID:        s.nextVarID,
		Key:       input.Key,
		Type:      input.Type,
		Value:     input.Value,
		SeriesID:  copyID(input.SeriesID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.variables[v.ID] = v
	return v, nil
}

func (s *MemStore) UpdateVariable(_ context.Context, id int64, input VariableInput) (Variable, error) {
	if err := input.Validate(); err != nil {
		return Variable{}, err
	}
	input = input.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return Variable{}, fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	v.Key = input.Key
	v.Type = input.Type
	v.Value = input.Value
	v.SeriesID = copyID(input.SeriesID)
	v.UpdatedAt = time.Now().UTC()
	s.variables[id] = v
	return v, nil
}

func (s *MemStore) DeleteVariable(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variables[id]; !ok {
		return fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	delete(s.variables, id)
	return nil
}

func (s *MemStore) GetTemplate(_ context.Context, id int64) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemStore) ListTemplates(_ context.Context, seriesID *int64) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Template
	for _, t := range s.templates {
		if seriesID == nil || sameScope(t.SeriesID, seriesID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) SaveArtifact(_ context.Context, templateID int64, artifact ArtifactPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateID]
	if !ok {
		return fmt.Errorf("template %d: %w", templateID, ErrNotFound)
	}
	generated := artifact.GeneratedAt
	t.LastArtifactURL = artifact.URL
	t.LastArtifactPath = artifact.Path
	t.GeneratedAt = &generated
	s.templates[templateID] = t
	return nil
}

// Seed replaces matching records with the seed contents.
func (s *MemStore) Seed(_ context.Context, seed Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fieldIDs := make(map[string]int64, len(seed.Fields))
	for _, f := range seed.Fields {
		scope := f.Scope
		if scope == "" {
			scope = FieldScopeProduct
		}
		s.fields[f.ID] = Field{ID: f.ID, Key: f.Key, Label: f.Label, Type: f.Type, Scope: scope}
		fieldIDs[f.Key] = f.ID
	}
	for _, sr := range seed.Series {
		s.series[sr.ID] = Series{ID: sr.ID, Name: sr.Name}
		s.metadata[sr.ID] = append([]SeriesMetadata(nil), sr.Metadata...)
		for _, p := range sr.Products {
			s.products[p.ID] = Product{ID: p.ID, SeriesID: sr.ID, SKU: p.SKU, Name: p.Name}
			values := make([]attributeValue, 0, len(p.Attributes))
			for key, value := range p.Attributes {
				values = append(values, attributeValue{fieldID: fieldIDs[key], value: value})
			}
			sort.Slice(values, func(i, j int) bool { return values[i].fieldID < values[j].fieldID })
			s.attributes[p.ID] = values
		}
	}
	now := time.Now().UTC()
	for _, v := range seed.Variables {
		in := VariableInput{Key: v.Key, Type: v.Type, Value: v.Value, SeriesID: v.SeriesID}.normalized()
		if existing, ok := s.variableByKey(in.Key, in.SeriesID); ok {
			existing.Type = in.Type
			existing.Value = in.Value
			existing.UpdatedAt = now
			s.variables[existing.ID] = existing
			continue
		}
		s.nextVarID++
		s.variables[s.nextVarID] = Variable{
			ID:        s.nextVarID,
			Key:       in.Key,
			Type:      in.Type,
			Value:     in.Value,
			SeriesID:  copyID(in.SeriesID),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	for _, t := range seed.Templates {
		s.templates[t.ID] = Template{
			ID:       t.ID,
			Name:     t.Name,
			Dialect:  t.Dialect,
			SeriesID: copyID(t.SeriesID),
			Body:     t.Body,
		}
	}
	return nil
}

// variableByKey returns the lowest-id variable with key in the given scope.
func (s *MemStore) variableByKey(key string, seriesID *int64) (Variable, bool) {
	var (
		found Variable
		ok    bool
	)
	for _, v := range s.variables {
		if v.Key != key || !sameScope(v.SeriesID, seriesID) {
			continue
		}
		if !ok || v.ID < found.ID {
			found, ok = v, true
		}
	}
	return found, ok
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
