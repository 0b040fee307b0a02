// Package paths translates absolute filesystem paths to and from the
// relative, text-safe form stored in the database. Every stored path is
// relative to exactly one base directory (the picture library or the
// thumbnail cache), so a Root carries the base it rebases against.
package paths

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNotUnderRoot is returned when a path to be stored does not live
	// under the root it should be relative to. This indicates a caller or
	// data-integrity bug, not a recoverable condition.
	ErrNotUnderRoot = errors.New("path is not under root")

	// ErrBadEncoding is returned when stored path text cannot be decoded
	// back into a filesystem path.
	ErrBadEncoding = errors.New("malformed path encoding")
)

// Root is a base directory that stored paths are relative to.
type Root struct {
	base string
}

// NewRoot creates a Root for the given base directory. The directory is
// cleaned but not required to exist; callers that need an existing
// directory must check themselves.
func NewRoot(dir string) Root {
	return Root{base: filepath.Clean(dir)}
}

// Base returns the root's base directory.
func (r Root) Base() string {
	return r.base
}

// Rebase converts an absolute path into a path relative to the root.
// It fails with ErrNotUnderRoot if the path does not live under the root.
func (r Root) Rebase(abs string) (string, error) {
	rel, err := filepath.Rel(r.base, filepath.Clean(abs))
	if err != nil {
		return "", fmt.Errorf("rebasing %q against %q: %w", abs, r.base, ErrNotUnderRoot)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("rebasing %q against %q: %w", abs, r.base, ErrNotUnderRoot)
	}
	return rel, nil
}

// Resolve converts a stored relative path back into an absolute path.
func (r Root) Resolve(rel string) string {
	return filepath.Join(r.base, rel)
}

// Encode converts a relative path into text safe for storage in a TEXT
// column. Paths are byte sequences, not necessarily valid UTF-8, so they
// are base64 encoded rather than stored raw.
func Encode(path string) string {
	return base64.StdEncoding.EncodeToString([]byte(path))
}

// Decode converts stored text back into a relative path.
func Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding %q: %w", encoded, ErrBadEncoding)
	}
	return string(raw), nil
}
