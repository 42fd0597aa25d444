package cargolock

import (
	"os"
	"path/filepath"
	"sort"
)

// LockName is the well known cargo lockfile name
const LockName = "Cargo.lock"

// Discover returns all lockfile paths for a project: the Cargo.lock next to
// the project root (if present) plus one Cargo.lock per subdirectory of the
// optional additional sources directory. The sources directory may be empty.
func Discover(projectRoot string, sourcesDir string) ([]string, error) {
	paths := []string{}

	rootLock := filepath.Join(projectRoot, LockName)
	if _, err := os.Stat(rootLock); err == nil {
		paths = append(paths, rootLock)
	}

	if sourcesDir == "" {
		return paths, nil
	}

	entries, err := os.ReadDir(sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return paths, nil
		}
		return nil, err
	}

	// ReadDir is sorted, but sort names again so the merge order never
	// depends on the filesystem
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		lock := filepath.Join(sourcesDir, name, LockName)
		if _, err := os.Stat(lock); err == nil {
			paths = append(paths, lock)
		}
	}

	return paths, nil
}

// LoadAll loads and merges all given lockfiles in order
func LoadAll(paths []string) (*Lockfile, error) {
	locks := make([]*Lockfile, 0, len(paths))
	for _, path := range paths {
		lock, err := Load(path)
		if err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	return Merge(locks...), nil
}

// Merge combines multiple lockfiles into one. Package lists concatenate and
// are then deduplicated by identity key – the record from the last lockfile
// wins, but keeps the position of its first appearance so the merged order
// stays stable. Metadata tables union with later files overriding earlier
// ones. Merging a lockfile with itself yields the same lockfile.
func Merge(locks ...*Lockfile) *Lockfile {
	merged := Lockfile{Metadata: map[string]string{}}

	position := map[string]int{}
	for _, lock := range locks {
		for _, pkg := range lock.Packages {
			id := pkg.ID()
			if at, seen := position[id]; seen {
				merged.Packages[at] = pkg
				continue
			}
			position[id] = len(merged.Packages)
			merged.Packages = append(merged.Packages, pkg)
		}
		for key, value := range lock.Metadata {
			merged.Metadata[key] = value
		}
	}

	return &merged
}

// NonLocal returns all packages that have a source and therefore need to be
// vendored. Workspace members are dropped here.
func (l *Lockfile) NonLocal() []Package {
	kept := make([]Package, 0, len(l.Packages))
	for _, pkg := range l.Packages {
		if !pkg.IsLocal() {
			kept = append(kept, pkg)
		}
	}
	return kept
}
