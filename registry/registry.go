// Package registry resolves package specifiers to concrete, locally
// materialized packages.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/nikomatsakis/cratesio-perf/types"
)

// ErrNotFound is returned when no registry version matches a spec.
var ErrNotFound = errors.New("not in registry")

// Registry is the capability the resolver queries.
type Registry interface {
	// Names enumerates every package name in the registry, excluding
	// hidden and metadata entries.
	Names(ctx context.Context) ([]string, error)
	// Query returns every published, non-yanked version of name.
	// An unknown name yields no versions and no error.
	Query(ctx context.Context, name string) ([]types.PackageID, error)
	// Download materializes the package sources on local storage.
	// Downloading an already-present package must succeed without
	// duplicating data.
	Download(ctx context.Context, id types.PackageID) (*types.ResolvedPackage, error)
}

// Kind classifies a resolution failure.
type Kind string

const (
	// KindNotFound means no version matched.
	KindNotFound Kind = "not_found"
	// KindDownloadFailed means the registry could not materialize the package.
	KindDownloadFailed Kind = "download_failed"
)

// ResolveError is a per-package resolution failure.
type ResolveError struct {
	Spec types.CrateSpec
	Kind Kind
	Err  error
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("crate `%s` not in registry", e.Spec)
	default:
		return fmt.Sprintf("crate `%s` failed to download: %v", e.Spec, e.Err)
	}
}

func (e *ResolveError) Unwrap() error {
	if e.Kind == KindNotFound {
		return ErrNotFound
	}
	return e.Err
}

// FailureKind maps the resolution failure onto the recorded outcome kind.
func (e *ResolveError) FailureKind() types.FailureKind {
	if e.Kind == KindNotFound {
		return types.FailureNotFound
	}
	return types.FailureDownload
}

// Resolver selects and materializes one version per spec.
type Resolver struct {
	reg Registry
}

// NewResolver creates a resolver over reg.
func NewResolver(reg Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve queries every version of spec.Name, picks the exact match when a
// version is pinned and the maximum by semantic ordering otherwise, then
// downloads it. Failures are returned as *ResolveError.
func (r *Resolver) Resolve(ctx context.Context, spec types.CrateSpec) (*types.ResolvedPackage, error) {
	versions, err := r.reg.Query(ctx, spec.Name)
	if err != nil {
		return nil, &ResolveError{Spec: spec, Kind: KindDownloadFailed, Err: fmt.Errorf("query: %w", err)}
	}

	id, ok := Select(versions, spec.Version)
	if !ok {
		return nil, &ResolveError{Spec: spec, Kind: KindNotFound}
	}

	pkg, err := r.reg.Download(ctx, id)
	if err != nil {
		return nil, &ResolveError{Spec: spec, Kind: KindDownloadFailed, Err: err}
	}
	return pkg, nil
}

// Select picks a version from candidates. With a pinned version it returns
// the exact match; otherwise the maximum by semantic ordering. Versions that
// are not valid semver sort below every valid one.
func Select(candidates []types.PackageID, pinned *string) (types.PackageID, bool) {
	if pinned != nil {
		want, wantErr := semver.StrictNewVersion(*pinned)
		for _, c := range candidates {
			if c.Version == *pinned {
				return c, true
			}
			if wantErr == nil {
				if v, err := semver.StrictNewVersion(c.Version); err == nil && v.Equal(want) {
					return c, true
				}
			}
		}
		return types.PackageID{}, false
	}

	var (
		best    types.PackageID
		bestVer *semver.Version
		found   bool
	)
	for _, c := range candidates {
		v, err := semver.NewVersion(c.Version)
		switch {
		case !found:
			best, bestVer, found = c, nil, true
			if err == nil {
				bestVer = v
			}
		case err != nil:
			if bestVer == nil && c.Version > best.Version {
				best = c
			}
		case bestVer == nil || v.GreaterThan(bestVer):
			best, bestVer = c, v
		}
	}
	return best, found
}
