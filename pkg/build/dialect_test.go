package build

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvo/datasheets/backend/pkg/dataset"
)

func TestLookupDialect(t *testing.T) {
	d, err := LookupDialect("Typst")
	require.NoError(t, err)
	assert.Equal(t, DialectTypst, d.Name())
	assert.True(t, d.EmbedsData())

	d, err = LookupDialect("latex")
	require.NoError(t, err)
	assert.Equal(t, "pdflatex", d.Binary())
	assert.True(t, d.KeepInputOnFailure())
	assert.False(t, d.EmbedsData())

	_, err = LookupDialect("docx")
	assert.True(t, errors.Is(err, ErrUnsupportedDialect))
}

func TestTypstRewriteMedia(t *testing.T) {
	d, _ := LookupDialect(DialectTypst)
	src := `#image("a.png") #image( "dir/b c.jpg", width: 50%) #image("https://x/y.png") #image("q\"uote.png")`

	var seen []string
	out, err := d.RewriteMedia(src, func(p string) (string, error) {
		seen = append(seen, p)
		if strings.HasPrefix(p, "https://") {
			return p, nil
		}
		return "staged/" + p, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "dir/b c.jpg", "https://x/y.png", `q"uote.png`}, seen)
	assert.Equal(t, `#image("staged/a.png") #image( "staged/dir/b c.jpg", width: 50%) #image("https://x/y.png") #image("staged/q\"uote.png")`, out)
}

func TestLatexRewriteMedia(t *testing.T) {
	d, _ := LookupDialect(DialectLatex)
	src := `\includegraphics{logo.pdf} and \includegraphics[width=2cm]{ img/a.png }`

	out, err := d.RewriteMedia(src, func(p string) (string, error) {
		return "ws/" + p, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `\includegraphics{ws/logo.pdf} and \includegraphics[width=2cm]{ws/img/a.png}`, out)
}

func TestRewriteMediaPropagatesErrors(t *testing.T) {
	d, _ := LookupDialect(DialectTypst)
	boom := errors.New("boom")
	_, err := d.RewriteMedia(`#image("a.png")`, func(string) (string, error) { return "", boom })
	assert.True(t, errors.Is(err, boom))
}

func TestDialectArgs(t *testing.T) {
	typst, _ := LookupDialect(DialectTypst)
	assert.Equal(t, []string{"compile", "in.typ", "out.pdf"}, typst.Args("in.typ", "out.pdf", "ws"))

	latex, _ := LookupDialect(DialectLatex)
	assert.Equal(t,
		[]string{"-interaction=nonstopmode", "-halt-on-error", "-output-directory", "ws", "in.tex"},
		latex.Args("in.tex", "out.pdf", "ws"))
	assert.Equal(t,
		[]string{filepath.Join("ws", "job.aux"), filepath.Join("ws", "job.log"), filepath.Join("ws", "job.out")},
		latex.AuxFiles("ws", "job"))
}

func TestDialectHeaders(t *testing.T) {
	data := dataset.Mapping{{Key: "globals", Value: dataset.Mapping{{Key: "a", Value: dataset.Int(1)}}}}

	typst, _ := LookupDialect(DialectTypst)
	header, err := typst.Header(data)
	require.NoError(t, err)
	assert.Contains(t, header, `#let data = (globals: (a: 1))`)

	latex, _ := LookupDialect(DialectLatex)
	header, err = latex.Header(data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(header, "%"))
}

func TestCompilationErrorMessage(t *testing.T) {
	err := &CompilationError{JobID: "j", Dialect: "typst", ExitCode: 2, Output: "  error: x \n"}
	assert.Equal(t, "typst compile j failed: exit code 2\nerror: x", err.Error())

	timedOut := &CompilationError{JobID: "j", Dialect: "latex", TimedOut: true}
	assert.Equal(t, "latex compile j failed: timed out", timedOut.Error())
}
