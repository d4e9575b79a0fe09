package toolservers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that leave the served root.
var ErrOutsideRoot = errors.New("path escapes the served directory")

// Resolver confines paths to a root directory.
type Resolver struct {
	Root string
}

// Resolve returns the absolute path for path, which may be relative to the
// root or absolute inside it. Symlinks are followed before the check.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		clean = "."
	}
	rootAbs, err := r.rootAbs()
	if err != nil {
		return "", err
	}

	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)
	if !within(rootAbs, target) {
		return "", ErrOutsideRoot
	}

	real, err := filepath.EvalSymlinks(target)
	switch {
	case err == nil:
		if !within(rootAbs, real) {
			return "", ErrOutsideRoot
		}
		return real, nil
	case errors.Is(err, fs.ErrNotExist):
		return target, nil
	default:
		return "", fmt.Errorf("resolve path: %w", err)
	}
}

// Rel returns abs relative to the root, using forward slashes.
func (r Resolver) Rel(abs string) string {
	rootAbs, err := r.rootAbs()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (r Resolver) rootAbs() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return abs, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
