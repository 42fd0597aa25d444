package fetch

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// MarkerName is the integrity marker cargo expects in every vendored
// package directory
const MarkerName = ".cargo-checksum.json"

type checksumMarker struct {
	// Package is the hash of the crate tarball, or null for git sources –
	// those are trusted by revision pinning, not per file checksums
	Package *string           `json:"package"`
	Files   map[string]string `json:"files"`
}

// writeMarker writes the .cargo-checksum.json file into dir. Pass an empty
// packageHash for git sources to get a null marker.
func writeMarker(dir string, packageHash string) error {
	marker := checksumMarker{Files: map[string]string{}}
	if packageHash != "" {
		marker.Package = &packageHash
	}
	buf, err := json.Marshal(&marker)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MarkerName), buf, 0o644)
}
