// Package placeholder performs {{key}} token replacement for templates
// authored against a flat variable map.
package placeholder

import (
	"encoding/json"
	"regexp"

	"github.com/vyvo/datasheets/backend/pkg/dataset"
)

var tokenPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Map flattens a sanitized dataset into key/string pairs. Entries of globals
// come first, then metadata, then the attributes of the first product only;
// later sources win on equal keys.
func Map(data dataset.Mapping) map[string]string {
	out := make(map[string]string)
	for _, section := range []string{dataset.KeyGlobals, dataset.KeyMetadata} {
		v, ok := data.Get(section)
		if !ok {
			continue
		}
		m, ok := v.(dataset.Mapping)
		if !ok {
			continue
		}
		for _, e := range m {
			out[e.Key] = Stringify(e.Value)
		}
	}

	if v, ok := data.Get(dataset.KeyProducts); ok {
		if products, ok := v.(dataset.Sequence); ok && len(products) > 0 {
			if first, ok := products[0].(dataset.Mapping); ok {
				if av, ok := first.Get(dataset.KeyAttributes); ok {
					if attrs, ok := av.(dataset.Mapping); ok {
						for _, e := range attrs {
							out[e.Key] = Stringify(e.Value)
						}
					}
				}
			}
		}
	}
	return out
}

// Stringify renders a value for textual substitution. Nested structures fall
// back to compact JSON.
func Stringify(v dataset.Value) string {
	switch val := v.(type) {
	case nil, dataset.Null:
		return ""
	case dataset.String:
		return string(val)
	case dataset.Number:
		return string(val)
	case dataset.Bool:
		if val {
			return "true"
		}
		return "false"
	case dataset.Sequence:
		return compact(val)
	case dataset.Mapping:
		return compact(val)
	default:
		return ""
	}
}

// Substitute replaces every {{identifier}} in body that has a mapping entry.
// Unmapped tokens are left in place.
func Substitute(body string, values map[string]string) string {
	if len(values) == 0 {
		return body
	}
	return tokenPattern.ReplaceAllStringFunc(body, func(token string) string {
		name := token[2 : len(token)-2]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
}

// Missing returns the distinct identifiers in body without a mapping entry.
func Missing(body string, values map[string]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range tokenPattern.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if _, ok := values[name]; ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func compact(v json.Marshaler) string {
	data, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
