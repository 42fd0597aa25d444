package hashes

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Store holds known content hashes keyed by package identity. It combines
// the persistent on-disk caches (read only for the whole invocation) with an
// overlay of hashes computed during this run. Cache entries always win over
// overlay entries.
type Store struct {
	cache   map[string]string
	overlay map[string]string
}

// MissingError is returned when no hash could be resolved for a package
// through any fallback. CacheHint names the file where a corrective entry
// can be added by hand.
type MissingError struct {
	ID        string
	CacheHint string
}

func (e *MissingError) Error() string {
	msg := fmt.Sprintf("no content hash known for %s", e.ID)
	if e.CacheHint != "" {
		msg += fmt.Sprintf(" (add an entry to %s to fix this manually)", e.CacheHint)
	}
	return msg
}

// Load reads zero or more hash cache files (JSON objects mapping identity
// key to hash). Missing files are fine, later files override earlier ones.
func Load(paths ...string) (*Store, error) {
	store := &Store{
		cache:   map[string]string{},
		overlay: map[string]string{},
	}

	for _, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "reading hash cache %s", path)
		}
		entries := map[string]string{}
		if err := json.Unmarshal(buf, &entries); err != nil {
			return nil, errors.Wrapf(err, "parsing hash cache %s", path)
		}
		for id, hash := range entries {
			store.cache[id] = hash
		}
	}

	return store, nil
}

// Lookup resolves a hash for the given identity. On-disk cache entries take
// precedence over hashes computed during this invocation.
func (s *Store) Lookup(id string) (string, bool) {
	if hash, ok := s.cache[id]; ok {
		return hash, true
	}
	hash, ok := s.overlay[id]
	return hash, ok
}

// AddComputed records a freshly computed hash in the overlay
func (s *Store) AddComputed(id string, hash string) {
	s.overlay[id] = hash
}

// Overlay returns a copy of all hashes computed during this invocation. The
// caller may merge it back into the persistent cache.
func (s *Store) Overlay() map[string]string {
	out := make(map[string]string, len(s.overlay))
	for id, hash := range s.overlay {
		out[id] = hash
	}
	return out
}

// WriteOverlay writes the overlay as a hash cache file. Keys are sorted so
// the output is stable.
func (s *Store) WriteOverlay(path string) error {
	return writeCache(path, s.Overlay())
}

// MergeInto merges the overlay into the cache file at path, keeping
// existing entries on collision, and writes the result back.
func (s *Store) MergeInto(path string) error {
	merged := map[string]string{}
	buf, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(buf, &merged); err != nil {
			return errors.Wrapf(err, "parsing hash cache %s", path)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	for id, hash := range s.overlay {
		if _, taken := merged[id]; !taken {
			merged[id] = hash
		}
	}
	return writeCache(path, merged)
}

func writeCache(path string, entries map[string]string) error {
	// json.Marshal sorts map keys, so the file is stable
	buf, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(buf, '\n'), 0o644)
}
