package source

import (
	"fmt"
	"strings"

	"github.com/cratefarm/cratefarm/internals/cargolock"
)

// DefaultRegistry is the source string cargo records for crates coming from
// the default registry
const DefaultRegistry = "registry+https://github.com/rust-lang/crates.io-index"

const gitPrefix = "git+"

// Kind is the provenance of a package
type Kind uint8

const (
	// KindRegistry marks packages downloaded from the crates registry
	KindRegistry Kind = iota + 1
	// KindGit marks packages fetched from a git repository
	KindGit
)

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindGit:
		return "git"
	default:
		return "unknown"
	}
}

// Provenance describes where a package comes from. URL, Rev and Ref are only
// set for git sources.
type Provenance struct {
	Kind Kind
	// URL is the plain repository url, without the git+ prefix and without
	// any query or fragment
	URL string
	// Rev pins the exact thing to fetch. Usually a commit sha, but can be
	// any ref cargo recorded
	Rev string
	// Ref is the branch (or tag) name the source string carried, if any
	Ref string
}

// UnknownTypeError is returned for source strings this tool does not
// understand. This is not transient – it means the lockfile uses a
// cargo feature we do not support.
type UnknownTypeError struct {
	Package string
	Source  string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unsupported source type for %s: %q", e.Package, e.Source)
}

// Classify maps a package to its provenance. Local packages (no source) must
// be filtered out before calling this.
func Classify(pkg cargolock.Package) (Provenance, error) {
	switch {
	case pkg.Source == DefaultRegistry:
		return Provenance{Kind: KindRegistry}, nil
	case strings.HasPrefix(pkg.Source, gitPrefix):
		return ParseGitSource(pkg.Source), nil
	default:
		return Provenance{}, &UnknownTypeError{Package: pkg.ID(), Source: pkg.Source}
	}
}

// ParseGitSource splits a cargo git source string into url and revision.
// Source strings look like "git+https://host/repo?rev=<rev>" or
// "git+https://host/repo?branch=main#<sha>".
//
// The revision is whatever comes after the last "#" or "?" – when a source
// carries multiple query parameters the last one wins. That matches what
// cargo writes in practice (the pinned sha always sits in the fragment), so
// the greedy split is kept as is.
func ParseGitSource(src string) Provenance {
	rest := strings.TrimPrefix(src, gitPrefix)

	url := rest
	if at := strings.IndexAny(url, "#?"); at != -1 {
		url = url[:at]
	}

	parts := strings.Split(rest, "#")
	last := parts[len(parts)-1]
	parts = strings.Split(last, "?")
	rev := strings.TrimPrefix(parts[len(parts)-1], "rev=")

	return Provenance{
		Kind: KindGit,
		URL:  url,
		Rev:  rev,
		Ref:  refName(rest),
	}
}

// refName extracts the branch or tag name from the query portion of a git
// source string, if one was recorded
func refName(rest string) string {
	query := rest
	if at := strings.Index(query, "#"); at != -1 {
		query = query[:at]
	}
	at := strings.Index(query, "?")
	if at == -1 {
		return ""
	}

	for _, param := range strings.Split(query[at+1:], "&") {
		if name, ok := strings.CutPrefix(param, "branch="); ok {
			return name
		}
		if name, ok := strings.CutPrefix(param, "tag="); ok {
			return name
		}
	}
	return ""
}
