package dataset

import (
	"strconv"
	"strings"
)

// fallbackKey replaces keys that sanitize to nothing.
const fallbackKey = "key"

// SanitizeKey turns an arbitrary key into an identifier matching
// ^[A-Za-z_][A-Za-z0-9_]*$.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), "_")
	if out == "" {
		return fallbackKey
	}
	if out[0] >= '0' && out[0] <= '9' {
		return "_" + out
	}
	return out
}

// Sanitize returns a copy of v with every Mapping key sanitized. Keys that
// collide within one Mapping get _1, _2, ... suffixes in entry order.
// Sequences are walked element-wise.
func Sanitize(v Value) Value {
	switch val := v.(type) {
	case Mapping:
		return sanitizeMapping(val)
	case Sequence:
		out := make(Sequence, len(val))
		for i, item := range val {
			out[i] = Sanitize(item)
		}
		return out
	case nil:
		return Null{}
	default:
		return v
	}
}

// SanitizeMapping is Sanitize specialised to a Mapping root.
func SanitizeMapping(m Mapping) Mapping {
	return sanitizeMapping(m)
}

func sanitizeMapping(m Mapping) Mapping {
	used := make(map[string]struct{}, len(m))
	out := make(Mapping, 0, len(m))
	for _, e := range m {
		name := uniqueName(SanitizeKey(e.Key), used)
		used[name] = struct{}{}
		out = append(out, Entry{Key: name, Value: Sanitize(e.Value)})
	}
	return out
}

func uniqueName(candidate string, used map[string]struct{}) string {
	if _, taken := used[candidate]; !taken {
		return candidate
	}
	for i := 1; ; i++ {
		name := candidate + "_" + strconv.Itoa(i)
		if _, taken := used[name]; !taken {
			return name
		}
	}
}

func isIdentRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
