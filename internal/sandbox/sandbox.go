// Package sandbox confines user-supplied paths to a configured base directory.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrValidation is the parent of every sandbox rejection.
	ErrValidation = errors.New("invalid path")
	// ErrPathEscape is returned when a path resolves outside the base directory.
	ErrPathEscape = fmt.Errorf("%w: path must be under base path", ErrValidation)
	// ErrNotFound is returned when a path does not name an existing regular file.
	ErrNotFound = fmt.Errorf("%w: file not found", ErrValidation)
	// ErrNotADirectory is returned when a path does not name an existing directory.
	ErrNotADirectory = fmt.Errorf("%w: not a directory", ErrValidation)
)

// Sandbox resolves paths relative to a canonical base directory and rejects
// anything that escapes it after symlink and ".." resolution.
type Sandbox struct {
	base string
}

// New canonicalizes base (which must exist) and returns a Sandbox rooted there.
func New(base string) (*Sandbox, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("absolute base path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	return &Sandbox{base: resolved}, nil
}

// Base returns the canonical base directory.
func (s *Sandbox) Base() string {
	return s.base
}

// ResolveForRead returns the canonical path of an existing regular file under the base.
func (s *Sandbox) ResolveForRead(raw string) (string, error) {
	path, err := s.resolve(raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, raw)
	}
	return path, nil
}

// ResolveForIndex returns the canonical path of an existing directory under the base.
func (s *Sandbox) ResolveForIndex(raw string) (string, error) {
	path, err := s.resolve(raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADirectory, raw)
	}
	return path, nil
}

// Resolve returns the canonical location of raw under the base. The target need not exist.
func (s *Sandbox) Resolve(raw string) (string, error) {
	return s.resolve(raw)
}

// Contains reports whether an already canonical path lies under the base.
func (s *Sandbox) Contains(path string) bool {
	return inDir(s.base, path)
}

func (s *Sandbox) resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrValidation)
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.base, path)
	}
	path = filepath.Clean(path)
	resolved, err := evalExisting(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrValidation, raw, err)
	}
	if !inDir(s.base, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, raw)
	}
	return resolved, nil
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// re-attaches the missing tail, so containment is judged on real locations
// even for targets that do not exist yet.
func evalExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	head, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(head, filepath.Base(path)), nil
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel))
}
