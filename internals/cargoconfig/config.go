// Package cargoconfig renders the cargo configuration that redirects all
// source resolution to the vendor farm. The output is plain text, built in
// a fixed order, so identical inputs always render byte identical
// configuration.
package cargoconfig

import (
	"fmt"
	"strings"
)

const vendoredName = "vendored-sources"

// DefaultBranch is pinned when a short revision needs a branch line and the
// lockfile did not record one
const DefaultBranch = "master"

// GitSource is one distinct git url that gets its own override block
type GitSource struct {
	URL string
	Rev string
	// Ref is the branch recorded in the lockfile, if any
	Ref string
}

// Emit renders the source replacement configuration. The default registry
// and every git source are redirected to the vendor farm at farmDir. Git
// sources are emitted in the given order; callers pass them deduplicated by
// url, in first-seen order.
func Emit(farmDir string, gits []GitSource) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[source.crates-io]\nreplace-with = %q\n", vendoredName)

	for _, git := range gits {
		fmt.Fprintf(&b, "\n[source.%q]\ngit = %q\n", git.URL, git.URL)
		if git.Rev != "" {
			fmt.Fprintf(&b, "rev = %q\n", git.Rev)
		}
		// cargo refuses a redirect whose branch does not match its own
		// lock data, so anything that is not a full commit id gets pinned
		if !IsFullCommitID(git.Rev) {
			branch := git.Ref
			if branch == "" {
				branch = DefaultBranch
			}
			fmt.Fprintf(&b, "branch = %q\n", branch)
		}
		fmt.Fprintf(&b, "replace-with = %q\n", vendoredName)
	}

	fmt.Fprintf(&b, "\n[source.%s]\ndirectory = %q\n", vendoredName, farmDir)

	return b.String()
}

// IsFullCommitID reports whether rev is a full 40 character hex commit id
func IsFullCommitID(rev string) bool {
	if len(rev) != 40 {
		return false
	}
	for _, c := range rev {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
