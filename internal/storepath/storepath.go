// Package storepath provides the StorePath type described in the store's
// data model: an absolute path under a store directory, canonically
// identified by its 32-character base-32 hash part.
package storepath

import (
	"fmt"
	"path"
	"strings"

	"github.com/nix-community/go-nix/pkg/nixbase32"
)

// HashPartLen is the length in characters of the base-32 hash part of a
// store path, e.g. "16hvpw4b3r05girazh4rnwbw0jgjkb4l".
const HashPartLen = 32

// Path is a store path's hash part and name, independent of which store
// directory it is rooted at. Comparing two Paths with == compares both the
// hash part and the name.
type Path struct {
	hashPart string
	name     string
}

// Parse splits "<hash32>-<name>" (the basename of a store path) into its
// hash part and name. The name may be empty and is taken as-is, without
// validation; the hash part must be exactly HashPartLen nixbase32
// characters.
func Parse(base string) (Path, error) {
	hashPart, name, ok := strings.Cut(base, "-")
	if !ok {
		hashPart = base
		name = ""
	}
	if err := ValidateHashPart(hashPart); err != nil {
		return Path{}, fmt.Errorf("parse store path %q: %w", base, err)
	}
	return Path{hashPart: hashPart, name: name}, nil
}

// ValidateHashPart reports whether s is a well-formed store path hash part.
func ValidateHashPart(s string) error {
	if len(s) != HashPartLen {
		return fmt.Errorf("hash part %q: want %d characters, got %d", s, HashPartLen, len(s))
	}
	if err := nixbase32.ValidateString(s); err != nil {
		return fmt.Errorf("hash part %q: %w", s, err)
	}
	return nil
}

// HashPart returns the 32-character base-32 hash part.
func (p Path) HashPart() string { return p.hashPart }

// Name returns the printable suffix following the hash part, without the
// separating hyphen. It is empty if the path has no name component.
func (p Path) Name() string { return p.name }

// Base returns "<hash32>-<name>", or just the hash part if there is no name.
func (p Path) Base() string {
	if p.name == "" {
		return p.hashPart
	}
	return p.hashPart + "-" + p.name
}

// Under joins the path's basename onto storeDir, producing the absolute
// on-disk (or advertised virtual) store path.
func (p Path) Under(storeDir string) string {
	return path.Join(storeDir, p.Base())
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool { return p.hashPart == "" }
