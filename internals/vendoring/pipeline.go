// Package vendoring wires the whole pipeline together: lockfile discovery
// and merging, source classification, hash resolution, fetching, farm
// building and config emission. Every stage is a pure transformation of the
// previous stage's output. Any failure aborts the run – there is no partial
// vendor output.
package vendoring

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cratefarm/cratefarm/internals/cargoconfig"
	"github.com/cratefarm/cratefarm/internals/cargolock"
	"github.com/cratefarm/cratefarm/internals/farm"
	"github.com/cratefarm/cratefarm/internals/fetch"
	"github.com/cratefarm/cratefarm/internals/gitfetch"
	"github.com/cratefarm/cratefarm/internals/hashes"
	"github.com/cratefarm/cratefarm/internals/source"
)

// Config carries everything a run needs. Nothing is read from implicit
// locations – the cmd layer resolves flags, env and config files into this
// struct.
type Config struct {
	// ProjectRoot is the directory whose Cargo.lock is vendored
	ProjectRoot string
	// SourcesDir optionally holds additional source trees, one lockfile
	// per subdirectory
	SourcesDir string
	// OutputDir is where crates, the vendor farm and the config end up
	OutputDir string
	// HashFiles are on-disk hash caches, later files override earlier ones
	HashFiles []string
	// DownloadBase overrides the registry download endpoint
	DownloadBase string
	// Concurrency bounds parallel fetches
	Concurrency int

	Client *http.Client
	// Git may be nil when the host has no git. Uncached git packages then
	// fail with a missing hash.
	Git gitfetch.Fetcher

	// OnProgress is called after each finished fetch
	OnProgress func(done int, total int)
}

// ClassifiedPackage is a package with its provenance and resolved hash
type ClassifiedPackage struct {
	cargolock.Package
	Prov source.Provenance
	Hash string
}

// Result is everything a successful run produced
type Result struct {
	Packages   []ClassifiedPackage
	FarmDir    string
	ConfigPath string
	ConfigText string
	// Overlay holds all hashes computed during this run. The caller may
	// persist them back into the hash cache.
	Overlay map[string]string
}

// Resolve runs the offline part of the pipeline: merge lockfiles, classify
// every package and resolve all hashes (which may prefetch uncached git
// packages). No vendor output is written.
func Resolve(ctx context.Context, cfg *Config) ([]ClassifiedPackage, *hashes.Store, error) {
	paths, err := cargolock.Discover(cfg.ProjectRoot, cfg.SourcesDir)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, errors.Errorf("no %s found in %s", cargolock.LockName, cfg.ProjectRoot)
	}

	lock, err := cargolock.LoadAll(paths)
	if err != nil {
		return nil, nil, err
	}

	store, err := hashes.Load(cfg.HashFiles...)
	if err != nil {
		return nil, nil, err
	}
	resolver := &hashes.Resolver{
		Store:     store,
		Metadata:  lock.Metadata,
		Git:       cfg.Git,
		CacheHint: cacheHint(cfg),
	}

	pkgs := lock.NonLocal()
	classified := make([]ClassifiedPackage, 0, len(pkgs))
	for _, pkg := range pkgs {
		prov, err := source.Classify(pkg)
		if err != nil {
			return nil, nil, err
		}
		hash, err := resolver.Resolve(ctx, pkg, prov)
		if err != nil {
			return nil, nil, err
		}
		classified = append(classified, ClassifiedPackage{Package: pkg, Prov: prov, Hash: hash})
	}

	return classified, store, nil
}

// Run executes the full pipeline and writes the vendor farm plus config
// into cfg.OutputDir
func Run(ctx context.Context, cfg *Config) (*Result, error) {
	classified, store, err := Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Vendor(ctx, cfg, classified, store)
}

// Vendor fetches already-resolved packages and writes the vendor farm plus
// config into cfg.OutputDir
func Vendor(ctx context.Context, cfg *Config, classified []ClassifiedPackage, store *hashes.Store) (*Result, error) {
	cratesDir := filepath.Join(cfg.OutputDir, "crates")
	vendorDir := filepath.Join(cfg.OutputDir, "vendor")
	configPath := filepath.Join(cfg.OutputDir, "config.toml")

	queue := fetch.NewQueue(cfg.Concurrency)
	queue.OnProgress = cfg.OnProgress
	entries := make([]farm.Entry, 0, len(classified))

	for _, pkg := range classified {
		dest := filepath.Join(cratesDir, pkg.Basename())
		entries = append(entries, farm.Entry{Basename: pkg.Basename(), Target: dest})

		switch pkg.Prov.Kind {
		case source.KindRegistry:
			queue.Add(&fetch.RegistryItem{
				Client:       cfg.Client,
				DownloadBase: cfg.DownloadBase,
				Package:      pkg.Package,
				Checksum:     pkg.Hash,
				Dest:         dest,
			})
		case source.KindGit:
			if cfg.Git == nil {
				return nil, errors.Errorf("git is required to fetch %s", pkg.ID())
			}
			queue.Add(&fetch.GitItem{
				Git:     cfg.Git,
				Package: pkg.Package,
				Prov:    pkg.Prov,
				Hash:    pkg.Hash,
				Dest:    dest,
			})
		}
	}

	if err := os.MkdirAll(cratesDir, os.ModePerm); err != nil {
		return nil, err
	}
	if cfg.OnProgress != nil {
		cfg.OnProgress(0, queue.Len())
	}
	if err := queue.Start(ctx); err != nil {
		return nil, err
	}

	if err := farm.Build(vendorDir, entries); err != nil {
		return nil, err
	}
	if err := farm.Verify(vendorDir, len(entries)); err != nil {
		return nil, err
	}

	absVendor, err := filepath.Abs(vendorDir)
	if err != nil {
		return nil, err
	}
	configText := cargoconfig.Emit(absVendor, gitSources(classified))
	if err := os.WriteFile(configPath, []byte(configText), 0o644); err != nil {
		return nil, err
	}

	return &Result{
		Packages:   classified,
		FarmDir:    vendorDir,
		ConfigPath: configPath,
		ConfigText: configText,
		Overlay:    store.Overlay(),
	}, nil
}

// gitSources collects every distinct git url in first-seen order
func gitSources(pkgs []ClassifiedPackage) []cargoconfig.GitSource {
	seen := map[string]bool{}
	sources := []cargoconfig.GitSource{}
	for _, pkg := range pkgs {
		if pkg.Prov.Kind != source.KindGit || seen[pkg.Prov.URL] {
			continue
		}
		seen[pkg.Prov.URL] = true
		sources = append(sources, cargoconfig.GitSource{
			URL: pkg.Prov.URL,
			Rev: pkg.Prov.Rev,
			Ref: pkg.Prov.Ref,
		})
	}
	return sources
}

// cacheHint names the file operators should add hash entries to
func cacheHint(cfg *Config) string {
	if len(cfg.HashFiles) == 0 {
		return filepath.Join(cfg.ProjectRoot, "crate-hashes.json")
	}
	return cfg.HashFiles[len(cfg.HashFiles)-1]
}
