// Package farm builds the vendor farm: a single directory whose entries
// link every fetched package by its normalized basename. Cargo consumes it
// through a directory source replacement.
package farm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Entry is one package in the farm
type Entry struct {
	// Basename is the directory name inside the farm ("{name}-{version}")
	Basename string
	// Target is the fetched package directory the entry links to
	Target string
}

// Build creates the farm directory at dir with one symlink per entry. The
// farm is built in a staging directory first and only moved into place when
// every entry could be created – a partial farm is worse than no farm.
func Build(dir string, entries []Entry) error {
	seen := map[string]string{}
	for _, entry := range entries {
		if other, taken := seen[entry.Basename]; taken {
			return errors.Errorf(
				"vendor farm entry %q is ambiguous (%s and %s)",
				entry.Basename, other, entry.Target,
			)
		}
		seen[entry.Basename] = entry.Target
	}

	staging := dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := os.MkdirAll(staging, os.ModePerm); err != nil {
		return err
	}

	// sorted so two runs lay out the farm identically
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Basename < sorted[b].Basename })

	for _, entry := range sorted {
		target, err := linkTarget(staging, entry.Target)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, filepath.Join(staging, entry.Basename)); err != nil {
			os.RemoveAll(staging)
			return errors.Wrapf(err, "linking %s into the vendor farm", entry.Basename)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(staging, dir)
}

// linkTarget prefers a relative symlink target so the farm survives moving
// the output directory around
func linkTarget(farmDir string, target string) (string, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	absFarm, err := filepath.Abs(farmDir)
	if err != nil {
		return "", err
	}
	relative, err := filepath.Rel(absFarm, absTarget)
	if err != nil {
		return absTarget, nil
	}
	return relative, nil
}

// Verify checks that the farm at dir has exactly the expected entries
func Verify(dir string, expected int) error {
	listed, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(listed) != expected {
		return fmt.Errorf("vendor farm has %d entries, expected %d", len(listed), expected)
	}
	return nil
}
