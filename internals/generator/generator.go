// Package generator drives the external build description generator. The
// contract is small on purpose: run the generator with CARGO_HOME pointing
// at the emitted vendor config, hand it the lockfile, capture its output
// and exit status.
package generator

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// Generator invokes an external command
type Generator struct {
	// Command is the generator binary name or path
	Command string
	// Args are passed before the lockfile path
	Args []string

	Stdout io.Writer
	Stderr io.Writer
}

// Run places the vendor config into a throwaway cargo home, points
// CARGO_HOME at it and runs the generator against the given lockfile. The
// generator's diagnostics stream to Stdout/Stderr; a non-zero exit comes
// back as an error.
func (g *Generator) Run(ctx context.Context, configPath string, lockfilePath string) error {
	home, err := os.MkdirTemp("", "cratefarm-cargo-home-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(home)

	config, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "reading vendor config")
	}
	if err := os.WriteFile(filepath.Join(home, "config.toml"), config, 0o644); err != nil {
		return err
	}

	args := append(append([]string{}, g.Args...), lockfilePath)
	cmd := exec.CommandContext(ctx, g.Command, args...)
	cmd.Env = append(os.Environ(), "CARGO_HOME="+home)
	cmd.Stdout = g.Stdout
	cmd.Stderr = g.Stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "running %s", g.Command)
	}
	return nil
}
