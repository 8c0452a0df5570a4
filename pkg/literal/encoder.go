// Package literal renders dataset values as Typst literal syntax.
package literal

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vyvo/datasheets/backend/pkg/dataset"
)

const (
	emptyMapping  = "(:)"
	emptySequence = "()"
	nullToken     = "none"
)

// keywords cannot appear as bare dictionary keys and are emitted quoted.
var keywords = map[string]struct{}{
	"none": {}, "auto": {}, "true": {}, "false": {}, "not": {}, "and": {}, "or": {},
	"let": {}, "set": {}, "show": {}, "context": {}, "if": {}, "else": {}, "for": {},
	"in": {}, "while": {}, "break": {}, "continue": {}, "return": {}, "import": {},
	"include": {}, "as": {},
}

// Encode renders v. Mapping keys are expected to be sanitized already.
func Encode(v dataset.Value) (string, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encode(b *strings.Builder, v dataset.Value) error {
	switch val := v.(type) {
	case nil, dataset.Null:
		b.WriteString(nullToken)
	case dataset.String:
		b.WriteString(Quote(string(val)))
	case dataset.Number:
		b.WriteString(number(val))
	case dataset.Bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case dataset.Sequence:
		if len(val) == 0 {
			b.WriteString(emptySequence)
			return nil
		}
		b.WriteByte('(')
		for i, item := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := encode(b, item); err != nil {
				return fmt.Errorf("sequence index %d: %w", i, err)
			}
		}
		// A one-element group without a trailing comma is just parentheses.
		if len(val) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case dataset.Mapping:
		if len(val) == 0 {
			b.WriteString(emptyMapping)
			return nil
		}
		b.WriteByte('(')
		for i, e := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(key(e.Key))
			b.WriteString(": ")
			if err := encode(b, e.Value); err != nil {
				return fmt.Errorf("mapping key %q: %w", e.Key, err)
			}
		}
		b.WriteByte(')')
	default:
		return fmt.Errorf("unsupported dataset value %T", v)
	}
	return nil
}

// Quote renders s as a double-quoted string literal. Backslash and quote are
// escaped, as are line breaks and tabs so the literal stays on one line.
func Quote(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// number writes a decimal token as-is. Anything else becomes a string so it
// cannot be read as an identifier.
func number(n dataset.Number) string {
	if !n.Valid() {
		return Quote(string(n))
	}
	return string(n)
}

func key(k string) string {
	if _, reserved := keywords[k]; reserved {
		return Quote(k)
	}
	return k
}
