package fetch

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cratefarm/cratefarm/internals/cargolock"
	"github.com/cratefarm/cratefarm/internals/gitfetch"
	"github.com/cratefarm/cratefarm/internals/source"
)

// GitItem fetches the pinned revision of a git dependency, verifies the
// tree against the resolved content hash and copies it (minus git metadata)
// into Dest.
type GitItem struct {
	Git     gitfetch.Fetcher
	Package cargolock.Package
	Prov    source.Provenance
	Hash    string
	Dest    string
}

func (i *GitItem) ID() string {
	return i.Package.ID()
}

// Fetch clones, verifies and copies the dependency
func (i *GitItem) Fetch(ctx context.Context) error {
	if err := i.fetch(ctx); err != nil {
		if integrity, ok := err.(*IntegrityError); ok {
			return integrity
		}
		return &Error{ID: i.Package.ID(), Err: err}
	}
	return nil
}

func (i *GitItem) fetch(ctx context.Context) error {
	tmp, err := os.MkdirTemp("", "cratefarm-git-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	checkout := filepath.Join(tmp, "src")
	err = i.Git.Fetch(ctx, i.Prov.URL, i.Prov.Rev, checkout, i.Git.SupportsSubmodules())
	if err != nil {
		return err
	}

	actual, err := gitfetch.HashTree(checkout)
	if err != nil {
		return errors.Wrap(err, "hashing fetched tree")
	}
	if actual != i.Hash {
		return &IntegrityError{ID: i.Package.ID(), Expected: i.Hash, Actual: actual}
	}

	// clear leftovers of a previous run, symlinks can not be copied over
	if err := os.RemoveAll(i.Dest); err != nil {
		return err
	}
	if err := copyTree(checkout, i.Dest); err != nil {
		return errors.Wrap(err, "copying fetched tree")
	}
	return writeMarker(i.Dest, "")
}

// copyTree copies src into dest, skipping .git directories
func copyTree(src string, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, relative)

		switch {
		case entry.IsDir():
			if entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, os.ModePerm)
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src string, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
