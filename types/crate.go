// Package types defines core domain types for the cratesio-perf harness.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Wildcard is the input token meaning "every package name in the index".
const Wildcard = "*"

// ErrInvalidSpec is returned for specifier tokens that are not `name` or
// `name=version`.
var ErrInvalidSpec = errors.New("invalid package specifier")

// CrateSpec names a package and optionally pins its version.
type CrateSpec struct {
	// Name is the package name. Never empty, never contains '='.
	Name string `msgpack:"name" json:"name"`
	// Version pins an exact version. Nil selects the maximum version.
	Version *string `msgpack:"version,omitempty" json:"version,omitempty"`
}

// ParseCrateSpec parses a `name` or `name=version` token.
// Surrounding whitespace is ignored.
func ParseCrateSpec(token string) (CrateSpec, error) {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return CrateSpec{}, fmt.Errorf("%w: empty token, try `foo` or `foo=0.1`", ErrInvalidSpec)
	}

	name, version, hasVersion := strings.Cut(tok, "=")
	if name == "" {
		return CrateSpec{}, fmt.Errorf("%w: %q has no package name, try `foo` or `foo=0.1`", ErrInvalidSpec, token)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return CrateSpec{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidSpec, token)
	}
	// The rendered spec names a ledger directory.
	if name == "." || name == ".." || strings.ContainsAny(tok, `/\`) {
		return CrateSpec{}, fmt.Errorf("%w: %q is not a package name", ErrInvalidSpec, token)
	}
	if !hasVersion {
		return CrateSpec{Name: name}, nil
	}

	if version == "" {
		return CrateSpec{}, fmt.Errorf("%w: %q has an empty version", ErrInvalidSpec, token)
	}
	if strings.Contains(version, "=") || strings.IndexFunc(version, unicode.IsSpace) >= 0 {
		return CrateSpec{}, fmt.Errorf("%w: malformed version in %q", ErrInvalidSpec, token)
	}
	return CrateSpec{Name: name, Version: &version}, nil
}

// ParseCrateSpecs parses every token, failing on the first malformed one.
func ParseCrateSpecs(tokens []string) ([]CrateSpec, error) {
	specs := make([]CrateSpec, 0, len(tokens))
	for _, tok := range tokens {
		spec, err := ParseCrateSpec(tok)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// HasWildcard reports whether the wildcard token is among tokens.
func HasWildcard(tokens []string) bool {
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == Wildcard {
			return true
		}
	}
	return false
}

// String renders the spec as `name` or `name=version`.
// It is also the spec's directory name in the ledger.
func (s CrateSpec) String() string {
	if s.Version != nil {
		return s.Name + "=" + *s.Version
	}
	return s.Name
}
