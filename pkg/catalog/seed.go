package catalog

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Seed is a YAML document describing catalog fixtures.
type Seed struct {
	Fields    []SeedField    `yaml:"fields"`
	Series    []SeedSeries   `yaml:"series"`
	Variables []SeedVariable `yaml:"variables"`
	Templates []SeedTemplate `yaml:"templates"`
}

type SeedField struct {
	ID    int64  `yaml:"id"`
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
	Scope string `yaml:"scope"`
}

type SeedSeries struct {
	ID       int64            `yaml:"id"`
	Name     string           `yaml:"name"`
	Metadata []SeriesMetadata `yaml:"metadata"`
	Products []SeedProduct    `yaml:"products"`
}

type SeedProduct struct {
	ID         int64             `yaml:"id"`
	SKU        string            `yaml:"sku"`
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

type SeedVariable struct {
	Key      string       `yaml:"key"`
	Type     VariableType `yaml:"type"`
	Value    string       `yaml:"value"`
	SeriesID *int64       `yaml:"series_id"`
}

type SeedTemplate struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Dialect  string `yaml:"dialect"`
	SeriesID *int64 `yaml:"series_id"`
	Body     string `yaml:"body"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

// Validate checks identifiers and cross references.
func (s Seed) Validate() error {
	fields := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.ID == 0 || strings.TrimSpace(f.Key) == "" {
			return fmt.Errorf("seed field requires id and key")
		}
		fields[f.Key] = struct{}{}
	}
	series := make(map[int64]struct{}, len(s.Series))
	for _, sr := range s.Series {
		if sr.ID == 0 {
			return fmt.Errorf("seed series %q requires id", sr.Name)
		}
		series[sr.ID] = struct{}{}
		for _, p := range sr.Products {
			if p.ID == 0 || strings.TrimSpace(p.SKU) == "" {
				return fmt.Errorf("seed product in series %d requires id and sku", sr.ID)
			}
			for key := range p.Attributes {
				if _, ok := fields[key]; !ok {
					return fmt.Errorf("seed product %s references unknown field %q", p.SKU, key)
				}
			}
		}
	}
	for _, v := range s.Variables {
		if err := (VariableInput{Key: v.Key, Type: v.Type, Value: v.Value, SeriesID: v.SeriesID}).Validate(); err != nil {
			return fmt.Errorf("seed variable %q: %w", v.Key, err)
		}
		if v.SeriesID != nil {
			if _, ok := series[*v.SeriesID]; !ok {
				return fmt.Errorf("seed variable %q references unknown series %d", v.Key, *v.SeriesID)
			}
		}
	}
	for _, t := range s.Templates {
		if t.ID == 0 || strings.TrimSpace(t.Dialect) == "" {
			return fmt.Errorf("seed template %q requires id and dialect", t.Name)
		}
	}
	return nil
}

// Validate checks the writable variable fields.
func (in VariableInput) Validate() error {
	if strings.TrimSpace(in.Key) == "" {
		return fmt.Errorf("key is required")
	}
	if in.Type == "" {
		return nil
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown variable type %q", in.Type)
	}
	return nil
}

func (in VariableInput) normalized() VariableInput {
	in.Key = strings.TrimSpace(in.Key)
	if in.Type == "" {
		in.Type = VariableText
	}
	return in
}
