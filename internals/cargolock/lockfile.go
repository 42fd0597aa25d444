package cargolock

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Package is a single `[[package]]` entry of a Cargo.lock file.
type Package struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Source   string `toml:"source,omitempty"`
	Checksum string `toml:"checksum,omitempty"`
}

// ID returns the identity key cargo uses for this package. Two packages
// with the same ID are the same package.
func (p *Package) ID() string {
	return fmt.Sprintf("%s %s (%s)", p.Name, p.Version, p.Source)
}

// Basename returns the directory name used for this package in the vendor
// farm. It includes the version so two versions of the same crate can not
// collide.
func (p *Package) Basename() string {
	return p.Name + "-" + p.Version
}

// IsLocal indicates that this package is a workspace member (it has no
// source) and therefore is never vendored.
func (p *Package) IsLocal() bool {
	return p.Source == ""
}

// Lockfile is a parsed Cargo.lock. The Metadata table only exists in older
// lockfile versions, where checksums live under "checksum {id}" keys
// instead of the package entry itself.
type Lockfile struct {
	Packages []Package         `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

// MalformedError is returned when a lockfile is not valid toml
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed lockfile %s: %s", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Parse parses the contents of a Cargo.lock file
func Parse(data []byte) (*Lockfile, error) {
	lock := Lockfile{}
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

// Load reads and parses the lockfile at the given path
func Load(path string) (*Lockfile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lock, err := Parse(buf)
	if err != nil {
		return nil, &MalformedError{Path: path, Err: err}
	}
	return lock, nil
}
