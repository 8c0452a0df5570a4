package literal

import (
	"fmt"
	"strings"

	"github.com/vyvo/datasheets/backend/pkg/dataset"
)

// HeaderBinding is the name the whole dataset is bound to.
const HeaderBinding = "data"

// Header renders a Typst preamble binding the sanitized dataset to `data`
// and each top-level entry to its own name.
func Header(data dataset.Mapping) (string, error) {
	encoded, err := Encode(data)
	if err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}

	var b strings.Builder
	b.WriteString("// catalog data, generated\n")
	fmt.Fprintf(&b, "#let %s = %s\n", HeaderBinding, encoded)
	for _, e := range data {
		if _, reserved := keywords[e.Key]; reserved || e.Key == HeaderBinding {
			continue
		}
		fmt.Fprintf(&b, "#let %s = %s.at(%s)\n", e.Key, HeaderBinding, Quote(e.Key))
	}
	b.WriteByte('\n')
	return b.String(), nil
}
