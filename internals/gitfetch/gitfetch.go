package gitfetch

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Fetcher is the version control capability set the pipeline needs:
// fetch-by-url-and-revision (optionally with recursive submodules).
type Fetcher interface {
	// SupportsSubmodules reports whether recursive submodule content can
	// be fetched
	SupportsSubmodules() bool
	// Fetch materializes the given revision of url at dest
	Fetch(ctx context.Context, url string, rev string, dest string, submodules bool) error
}

// submodule fetching via `git clone --recurse-submodules` needs git 2.13
var minSubmoduleVersion = semver.MustParse("2.13.0")

var versionMatch = regexp.MustCompile(`git version (\d+\.\d+(\.\d+)?)`)

// Client runs git on the host. The git version is resolved once on
// construction and gates optional capabilities.
type Client struct {
	bin     string
	version *semver.Version
}

// Detect locates git and parses its version. Returns an error if the host
// has no usable git.
func Detect() (*Client, error) {
	bin, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.Wrap(err, "git is required to vendor git dependencies")
	}

	out, err := exec.Command(bin, "version").Output()
	if err != nil {
		return nil, errors.Wrap(err, "could not run git version")
	}

	match := versionMatch.FindStringSubmatch(string(out))
	if match == nil {
		return nil, errors.Errorf("could not parse git version from %q", strings.TrimSpace(string(out)))
	}
	version, err := semver.NewVersion(match[1])
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse git version %q", match[1])
	}

	return &Client{bin: bin, version: version}, nil
}

// Version returns the detected git version
func (c *Client) Version() *semver.Version {
	return c.version
}

// SupportsSubmodules reports whether this git can fetch recursive submodule
// content. Without it, hashes for uncached git packages can not be computed.
func (c *Client) SupportsSubmodules() bool {
	return c.version != nil && !c.version.LessThan(minSubmoduleVersion)
}

// Fetch clones url into dest and checks out the given revision. With
// submodules set it also initializes all submodules recursively. dest must
// not exist yet.
func (c *Client) Fetch(ctx context.Context, url string, rev string, dest string, submodules bool) error {
	if err := c.run(ctx, "", "clone", "--quiet", url, dest); err != nil {
		return errors.Wrapf(err, "cloning %s", url)
	}
	if err := c.run(ctx, dest, "checkout", "--quiet", rev); err != nil {
		return errors.Wrapf(err, "checking out %s of %s", rev, url)
	}
	if submodules {
		if err := c.run(ctx, dest, "submodule", "update", "--init", "--recursive", "--quiet"); err != nil {
			return errors.Wrapf(err, "fetching submodules of %s", url)
		}
	}
	return nil
}

func (c *Client) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}
