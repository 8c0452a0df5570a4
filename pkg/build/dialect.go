package build

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/literal"
)

const (
	DialectTypst = "typst"
	DialectLatex = "latex"
)

// Dialect describes how one template family is assembled and compiled.
type Dialect interface {
	Name() string
	// Binary is the executable looked up on PATH when no path is configured.
	Binary() string
	SourceExt() string
	Header(data dataset.Mapping) (string, error)
	// EmbedsData reports whether Header carries the dataset into the source.
	EmbedsData() bool
	Args(input, output, workspace string) []string
	// AuxFiles lists the byproducts the compiler leaves next to the output.
	AuxFiles(workspace, jobID string) []string
	KeepInputOnFailure() bool
	// RewriteMedia calls fn for every inline media reference and replaces it
	// with the returned path.
	RewriteMedia(source string, fn func(string) (string, error)) (string, error)
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectTypst, "":
		return typst{}, nil
	case DialectLatex, "tex":
		return latex{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

var typstImage = regexp.MustCompile(`image\(\s*"((?:[^"\\]|\\.)*)"`)

type typst struct{}

func (typst) Name() string      { return DialectTypst }
func (typst) Binary() string    { return "typst" }
func (typst) SourceExt() string { return ".typ" }

func (typst) Header(data dataset.Mapping) (string, error) {
	return literal.Header(data)
}

func (typst) Args(input, output, _ string) []string {
	return []string{"compile", input, output}
}

func (typst) AuxFiles(string, string) []string { return nil }

func (typst) KeepInputOnFailure() bool { return false }

func (typst) EmbedsData() bool { return true }

func (typst) RewriteMedia(source string, fn func(string) (string, error)) (string, error) {
	return rewriteGroup(typstImage, source, 1, func(quoted string) (string, error) {
		resolved, err := fn(unquoteTypst(quoted))
		if err != nil {
			return "", err
		}
		q := literal.Quote(resolved)
		return q[1 : len(q)-1], nil
	})
}

func unquoteTypst(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

var latexGraphics = regexp.MustCompile(`\\includegraphics\s*(?:\[[^\]]*\])?\s*\{([^}]*)\}`)

type latex struct{}

func (latex) Name() string      { return DialectLatex }
func (latex) Binary() string    { return "pdflatex" }
func (latex) SourceExt() string { return ".tex" }

func (latex) Header(dataset.Mapping) (string, error) {
	return "% catalog datasheet, generated\n", nil
}

func (latex) Args(input, _, workspace string) []string {
	return []string{"-interaction=nonstopmode", "-halt-on-error", "-output-directory", workspace, input}
}

func (latex) AuxFiles(workspace, jobID string) []string {
	base := filepath.Join(workspace, jobID)
	return []string{base + ".aux", base + ".log", base + ".out"}
}

func (latex) KeepInputOnFailure() bool { return true }

func (latex) EmbedsData() bool { return false }

func (latex) RewriteMedia(source string, fn func(string) (string, error)) (string, error) {
	return rewriteGroup(latexGraphics, source, 1, func(p string) (string, error) {
		return fn(strings.TrimSpace(p))
	})
}

// rewriteGroup replaces capture group n of every match of re in src.
func rewriteGroup(re *regexp.Regexp, src string, n int, fn func(string) (string, error)) (string, error) {
	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[2*n], m[2*n+1]
		if start < 0 {
			continue
		}
		replacement, err := fn(src[start:end])
		if err != nil {
			return "", err
		}
		b.WriteString(src[last:start])
		b.WriteString(replacement)
		last = end
	}
	b.WriteString(src[last:])
	return b.String(), nil
}
