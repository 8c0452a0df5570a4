// Package assets locates media referenced by templates and stages copies
// inside a build workspace so the document compiler can read them.
package assets

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ErrStaging reports a filesystem failure while staging an asset.
var ErrStaging = errors.New("asset staging failed")

var (
	drivePattern  = regexp.MustCompile(`^[A-Za-z]:`)
	schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]+:`)
)

var mediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {},
	".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".pdf": {}, ".eps": {},
}

// DefaultRoots lists the candidate directories, relative to the project root,
// searched for relative asset paths.
var DefaultRoots = []string{"", "public", "public/storage", "storage/media", "storage"}

// Resolver finds asset files across a fixed list of candidate roots.
// It holds no per-job state and is safe for concurrent use.
type Resolver struct {
	roots []string
}

// NewResolver returns a resolver that searches roots in order.
func NewResolver(roots []string) *Resolver {
	return &Resolver{roots: append([]string(nil), roots...)}
}

// RootsUnder joins each relative root with projectRoot.
func RootsUnder(projectRoot string, relative []string) []string {
	out := make([]string, 0, len(relative))
	for _, r := range relative {
		if filepath.IsAbs(r) {
			out = append(out, r)
			continue
		}
		out = append(out, filepath.Join(projectRoot, r))
	}
	return out
}

// Stage is the per-job staging area. It memoizes copies by source path so
// a job copies each file at most once. A Stage must not be shared between jobs.
type Stage struct {
	dir    string
	mu     sync.Mutex
	copied map[string]string
}

// NewStage creates a staging area rooted at the job's workspace directory.
func NewStage(workspace string) *Stage {
	return &Stage{dir: workspace, copied: make(map[string]string)}
}

// Dir returns the workspace directory.
func (s *Stage) Dir() string {
	return s.dir
}

// Staged returns a snapshot of source path to workspace-relative destination.
func (s *Stage) Staged() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.copied))
	for k, v := range s.copied {
		out[k] = v
	}
	return out
}

// Resolve maps a logical asset path to a path relative to the stage directory.
//
// URLs are returned unchanged. Absolute paths are tried as-is, relative paths
// against every root. On a hit the file is copied into the stage once. On a
// miss a 1x1 placeholder image is written when createPlaceholder is set,
// otherwise the logical value is returned unchanged.
func (r *Resolver) Resolve(stage *Stage, logical string, createPlaceholder bool) (string, error) {
	if strings.TrimSpace(logical) == "" || IsURL(logical) {
		return logical, nil
	}

	rel := destination(logical)
	if rel == "" {
		return logical, nil
	}

	source, ok := r.locate(logical)
	if !ok {
		if !createPlaceholder {
			return logical, nil
		}
		if err := stage.placeholder(rel); err != nil {
			return "", err
		}
		return rel, nil
	}

	return stage.copy(source, rel)
}

func (r *Resolver) locate(logical string) (string, bool) {
	if IsAbsolute(logical) {
		if isRegularFile(logical) {
			return logical, true
		}
		return "", false
	}
	for _, root := range r.roots {
		candidate := filepath.Join(root, filepath.FromSlash(logical))
		if isRegularFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// copy stages source at rel and returns the workspace-relative path the
// compiler should use. A source already staged by this job under another
// spelling keeps its first destination.
func (s *Stage) copy(source, rel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if staged, done := s.copied[source]; done {
		return staged, nil
	}

	dest := filepath.Join(s.dir, filepath.FromSlash(rel))
	if !isRegularFile(dest) {
		if err := copyFile(source, dest); err != nil {
			return "", fmt.Errorf("%w: copy %s: %v", ErrStaging, source, err)
		}
	}
	s.copied[source] = rel
	return rel, nil
}

func (s *Stage) placeholder(rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := filepath.Join(s.dir, filepath.FromSlash(rel))
	if isRegularFile(dest) {
		return nil
	}
	data, err := PlaceholderImage(path.Ext(rel))
	if err != nil {
		return fmt.Errorf("%w: encode placeholder: %v", ErrStaging, err)
	}
	if err := writeAtomic(dest, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("%w: write placeholder %s: %v", ErrStaging, rel, err)
	}
	return nil
}

// IsURL reports whether value carries a URL scheme (http:, https:, data:, ...)
// or is protocol-relative. Windows drive letters are not schemes.
func IsURL(value string) bool {
	if strings.HasPrefix(value, "//") {
		return true
	}
	if !schemePattern.MatchString(value) {
		return false
	}
	u, err := url.Parse(value)
	return err == nil && u.Scheme != ""
}

// IsAbsolute reports a leading separator or drive designator.
func IsAbsolute(value string) bool {
	return strings.HasPrefix(value, "/") || strings.HasPrefix(value, `\`) || drivePattern.MatchString(value)
}

// LooksLikeMedia reports whether value is a non-URL path with a media extension.
func LooksLikeMedia(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || IsURL(value) || strings.ContainsAny(value, "\n\r") {
		return false
	}
	_, ok := mediaExtensions[strings.ToLower(path.Ext(filepath.ToSlash(value)))]
	return ok
}

// destination computes the workspace-relative path for a logical path.
// Drive designators and leading separators are dropped and ".." segments
// cannot climb above the workspace.
func destination(logical string) string {
	p := filepath.ToSlash(logical)
	p = strings.ReplaceAll(p, `\`, "/")
	p = drivePattern.ReplaceAllString(p, "")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func isRegularFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// writeAtomic writes through a temp file and renames it into place so a
// concurrent reader never observes a partial file.
func writeAtomic(dest string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".stage-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}
