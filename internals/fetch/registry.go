package fetch

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"

	"github.com/cratefarm/cratefarm/internals/cargolock"
)

// DefaultDownloadBase is the endpoint crate tarballs are downloaded from
const DefaultDownloadBase = "https://static.crates.io/crates"

// RegistryItem downloads a crate tarball from the registry, verifies it
// against the resolved checksum and unpacks it into Dest with the outer
// directory stripped.
type RegistryItem struct {
	Client       *http.Client
	DownloadBase string
	Package      cargolock.Package
	Checksum     string
	Dest         string
}

func (i *RegistryItem) ID() string {
	return i.Package.ID()
}

// URL returns the download url for this crate
func (i *RegistryItem) URL() string {
	base := i.DownloadBase
	if base == "" {
		base = DefaultDownloadBase
	}
	return fmt.Sprintf(
		"%s/%s/%s-%s.crate",
		strings.TrimSuffix(base, "/"),
		i.Package.Name,
		i.Package.Name,
		i.Package.Version,
	)
}

// Fetch downloads, verifies and unpacks the crate
func (i *RegistryItem) Fetch(ctx context.Context) error {
	if err := i.fetch(ctx); err != nil {
		if integrity, ok := err.(*IntegrityError); ok {
			return integrity
		}
		return &Error{ID: i.Package.ID(), Err: err}
	}
	return nil
}

func (i *RegistryItem) fetch(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(i.Dest), os.ModePerm); err != nil {
		return err
	}
	tarball, err := i.download(ctx)
	if err != nil {
		return err
	}
	defer os.Remove(tarball)

	if err := i.verify(tarball); err != nil {
		return err
	}

	// a previous run may have left output here. unpacking over it breaks on
	// symlinks, so every fetch starts into an empty directory
	if err := os.RemoveAll(i.Dest); err != nil {
		return err
	}
	if err := unpackCrate(tarball, i.Dest); err != nil {
		return errors.Wrap(err, "unpacking crate")
	}
	return writeMarker(i.Dest, i.Checksum)
}

// download fetches the tarball to a temporary file next to Dest
func (i *RegistryItem) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", i.URL(), nil)
	if err != nil {
		return "", err
	}

	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "error while fetching %s", i.URL())
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		return "", errors.Errorf("invalid status code: %s from %s", res.Status, i.URL())
	}

	dest, err := os.CreateTemp(filepath.Dir(i.Dest), i.Package.Basename()+"-*.crate")
	if err != nil {
		return "", err
	}
	_, err = io.Copy(dest, res.Body)
	if err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return "", err
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return "", err
	}
	return dest.Name(), dest.Close()
}

func (i *RegistryItem) verify(tarball string) error {
	src, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer src.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, src); err != nil {
		return err
	}

	actual := fmt.Sprintf("%x", hasher.Sum(nil))
	if actual != i.Checksum {
		return &IntegrityError{ID: i.Package.ID(), Expected: i.Checksum, Actual: actual}
	}
	return nil
}

// unpackCrate extracts a .crate file (a gzipped tarball with a single
// "{name}-{version}" top level directory) into dest, stripping that outer
// directory.
func unpackCrate(tarball string, dest string) error {
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return err
	}

	return archiver.NewTarGz().Walk(tarball, func(f archiver.File) error {
		header, ok := f.Header.(*tar.Header)
		if !ok {
			return errors.Errorf("unexpected entry type in %s", tarball)
		}

		relative := stripTopDir(header.Name)
		if relative == "" {
			return nil
		}
		if err := sanitizeExtractPath(relative, dest); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(relative))

		switch header.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, os.ModePerm)
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return err
			}
			return os.Symlink(header.Linkname, target)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, f); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		default:
			// crates only contain files, dirs and the odd symlink
			return nil
		}
	})
}

// stripTopDir removes the first path component of a tar entry name.
// Entry names always use forward slashes.
func stripTopDir(name string) string {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if at := strings.Index(name, "/"); at != -1 {
		return name[at+1:]
	}
	return ""
}

// sanitizeExtractPath makes sure an archive entry can not escape dest
func sanitizeExtractPath(relative string, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(relative))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return errors.Errorf("%s: illegal file path", relative)
	}
	return nil
}
