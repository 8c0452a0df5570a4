package assets

import (
	"bytes"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T) (*Resolver, string, string) {
	t.Helper()
	root := t.TempDir()
	workspace := t.TempDir()
	return NewResolver(RootsUnder(root, DefaultRoots)), root, workspace
}

func TestResolveURLPassesThrough(t *testing.T) {
	r, _, ws := newFixture(t)
	stage := NewStage(ws)

	for _, in := range []string{"https://cdn.example.com/a.png", "//cdn.example.com/a.png", "data:image/png;base64,AA=="} {
		got, err := r.Resolve(stage, in, true)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
	assert.Empty(t, stage.Staged())
}

func TestResolveRootOrder(t *testing.T) {
	r, root, ws := newFixture(t)
	writeFile(t, filepath.Join(root, "storage", "img", "logo.png"), "storage")
	writeFile(t, filepath.Join(root, "public", "img", "logo.png"), "public")

	got, err := r.Resolve(NewStage(ws), "img/logo.png", false)
	require.NoError(t, err)
	assert.Equal(t, "img/logo.png", got)

	data, err := os.ReadFile(filepath.Join(ws, "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "public", string(data))
}

func TestResolveAbsolutePath(t *testing.T) {
	r, _, ws := newFixture(t)
	src := filepath.Join(t.TempDir(), "abs", "photo.jpg")
	writeFile(t, src, "jpg")

	got, err := r.Resolve(NewStage(ws), src, false)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(got))

	data, err := os.ReadFile(filepath.Join(ws, filepath.FromSlash(got)))
	require.NoError(t, err)
	assert.Equal(t, "jpg", string(data))
}

func TestResolveMissWithoutPlaceholder(t *testing.T) {
	r, _, ws := newFixture(t)

	got, err := r.Resolve(NewStage(ws), "img/none.png", false)
	require.NoError(t, err)
	assert.Equal(t, "img/none.png", got)
	_, err = os.Stat(filepath.Join(ws, "img", "none.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveMissWithPlaceholder(t *testing.T) {
	r, _, ws := newFixture(t)
	stage := NewStage(ws)

	cases := map[string]func([]byte) error{
		"img/none.png": func(b []byte) error { _, err := png.Decode(bytes.NewReader(b)); return err },
		"img/none.jpg": func(b []byte) error { _, err := jpeg.Decode(bytes.NewReader(b)); return err },
		"img/none.gif": func(b []byte) error { _, err := gif.Decode(bytes.NewReader(b)); return err },
		"img/none.bin": func(b []byte) error { _, err := png.Decode(bytes.NewReader(b)); return err },
	}
	for logical, decode := range cases {
		got, err := r.Resolve(stage, logical, true)
		require.NoError(t, err)
		assert.Equal(t, logical, got)

		data, err := os.ReadFile(filepath.Join(ws, filepath.FromSlash(got)))
		require.NoError(t, err, logical)
		assert.NoError(t, decode(data), logical)
	}

	svg, err := r.Resolve(stage, "img/none.svg", true)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(ws, filepath.FromSlash(svg)))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestResolveCopiesOncePerStage(t *testing.T) {
	r, root, ws := newFixture(t)
	src := filepath.Join(root, "img", "logo.png")
	writeFile(t, src, "v1")

	stage := NewStage(ws)
	_, err := r.Resolve(stage, "img/logo.png", false)
	require.NoError(t, err)

	writeFile(t, src, "v2")
	_, err = r.Resolve(stage, "img/logo.png", false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws, "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Len(t, stage.Staged(), 1)
}

func TestResolveSameSourceUnderTwoSpellings(t *testing.T) {
	r, root, ws := newFixture(t)
	writeFile(t, filepath.Join(root, "public", "logo.png"), "logo")

	stage := NewStage(ws)
	first, err := r.Resolve(stage, "logo.png", false)
	require.NoError(t, err)
	second, err := r.Resolve(stage, "public/logo.png", false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, rel := range []string{first, second} {
		data, err := os.ReadFile(filepath.Join(ws, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, "logo", string(data))
	}
	assert.Len(t, stage.Staged(), 1)
}

func TestResolveConcurrentStages(t *testing.T) {
	r, root, ws := newFixture(t)
	writeFile(t, filepath.Join(root, "img", "logo.png"), "logo")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve(NewStage(ws), "img/logo.png", true)
			assert.NoError(t, err)
			assert.Equal(t, "img/logo.png", got)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(ws, "img", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "logo", string(data))
}

func TestDestinationStaysInsideWorkspace(t *testing.T) {
	assert.Equal(t, "etc/passwd.png", destination("../../etc/passwd.png"))
	assert.Equal(t, "img/a.png", destination(`C:\img\a.png`))
	assert.Equal(t, "img/a.png", destination("/img/a.png"))
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsURL("https://x/y.png"))
	assert.False(t, IsURL(`C:\img\a.png`))
	assert.True(t, IsAbsolute("/a.png"))
	assert.True(t, IsAbsolute(`C:\a.png`))
	assert.False(t, IsAbsolute("img/a.png"))
	assert.True(t, LooksLikeMedia("img/A.PNG"))
	assert.False(t, LooksLikeMedia("Acme Co"))
	assert.False(t, LooksLikeMedia("https://x/y.png"))
}
