package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cratefarm/cratefarm/internals/cargolock"
	"github.com/cratefarm/cratefarm/internals/commands"
	"github.com/cratefarm/cratefarm/internals/generator"
)

func init() {
	cmd := commands.New(&cobra.Command{
		Use:   "generate [projectRoot]",
		Short: "Run the build description generator against the vendor config",
		Long: `Invokes the external generator with CARGO_HOME pointed at the emitted
vendor config, so everything it resolves comes from the vendor farm.
Requires a previous "cratefarm vendor" run.`,
		Args: cobra.MaximumNArgs(1),
	}, &generateRunner{})

	cmd.Flags().StringP("out", "o", "cratefarm-out", "output directory of the vendor run")
	cmd.Flags().String("generator", "crate2nix", "generator command to run")
	cmd.Flags().StringArray("generator-arg", nil, "extra argument for the generator (repeatable)")
	viper.BindPFlag("generator", cmd.Flags().Lookup("generator"))

	rootCmd.AddCommand(cmd.Command)
}

type generateRunner struct{}

func (g *generateRunner) RunE(cmd *cobra.Command, args []string) error {
	projectRoot := "."
	if len(args) == 1 {
		projectRoot = args[0]
	}

	out, _ := cmd.Flags().GetString("out")
	configPath := filepath.Join(out, "config.toml")
	if _, err := os.Stat(configPath); err != nil {
		return &commands.CliError{
			Text: "no vendor config found at " + configPath,
			Help: "Run \"cratefarm vendor\" first – the generator only works against an existing vendor farm",
		}
	}

	lockfilePath := filepath.Join(projectRoot, cargolock.LockName)
	extraArgs, _ := cmd.Flags().GetStringArray("generator-arg")

	gen := &generator.Generator{
		Command: viper.GetString("generator"),
		Args:    extraArgs,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	logger.Headline("Running " + gen.Command)
	return gen.Run(cmd.Context(), configPath, lockfilePath)
}
