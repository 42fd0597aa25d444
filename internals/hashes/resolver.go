package hashes

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/cratefarm/cratefarm/internals/cargolock"
	"github.com/cratefarm/cratefarm/internals/gitfetch"
	"github.com/cratefarm/cratefarm/internals/source"
)

const checksumKeyPrefix = "checksum "

// Resolver resolves a content hash for every non-local package. Registry
// packages carry their hash in the lockfile (either inline or in the legacy
// metadata table). Git packages are looked up in the store and, as a last
// resort, prefetched and hashed on the spot.
type Resolver struct {
	Store    *Store
	Metadata map[string]string
	Git      gitfetch.Fetcher
	// CacheHint names the hash cache file in error messages, so operators
	// know where to add an entry by hand
	CacheHint string
}

// Resolve returns the content hash for the given package or a MissingError
func (r *Resolver) Resolve(ctx context.Context, pkg cargolock.Package, prov source.Provenance) (string, error) {
	switch prov.Kind {
	case source.KindRegistry:
		return r.resolveRegistry(pkg)
	case source.KindGit:
		return r.resolveGit(ctx, pkg, prov)
	default:
		return "", errors.Errorf("can not resolve a hash for source kind %s", prov.Kind)
	}
}

func (r *Resolver) resolveRegistry(pkg cargolock.Package) (string, error) {
	if pkg.Checksum != "" {
		return pkg.Checksum, nil
	}
	// old lockfile versions keep checksums in the metadata table
	if hash, ok := r.Metadata[checksumKeyPrefix+pkg.ID()]; ok {
		return hash, nil
	}
	return "", &MissingError{ID: pkg.ID(), CacheHint: r.CacheHint}
}

func (r *Resolver) resolveGit(ctx context.Context, pkg cargolock.Package, prov source.Provenance) (string, error) {
	if hash, ok := r.Store.Lookup(pkg.ID()); ok {
		return hash, nil
	}

	// computing a hash means fetching the full tree including submodules.
	// without a submodule capable git we would hash an incomplete tree, so
	// the package stays unresolved instead
	if r.Git == nil || !r.Git.SupportsSubmodules() {
		return "", &MissingError{ID: pkg.ID(), CacheHint: r.CacheHint}
	}

	hash, err := r.prefetch(ctx, prov)
	if err != nil {
		return "", errors.Wrapf(err, "computing hash for %s", pkg.ID())
	}
	r.Store.AddComputed(pkg.ID(), hash)
	return hash, nil
}

// prefetch fetches the revision into a throwaway directory and hashes it
func (r *Resolver) prefetch(ctx context.Context, prov source.Provenance) (string, error) {
	tmp, err := os.MkdirTemp("", "cratefarm-prefetch-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	checkout := tmp + "/src"
	if err := r.Git.Fetch(ctx, prov.URL, prov.Rev, checkout, true); err != nil {
		return "", err
	}
	return gitfetch.HashTree(checkout)
}
