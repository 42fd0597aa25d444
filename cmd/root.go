package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jwalton/gchalk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cratefarm/cratefarm/internals/cmdlog"
	"github.com/cratefarm/cratefarm/internals/commands"
)

// Version and Commit are set by the build (goreleaser)
var (
	Version = "dev"
	Commit  = "none"
)

var logger *cmdlog.Logger = cmdlog.New()

var disableColors bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cratefarm",
	Short: "Vendor cargo dependencies for reproducible offline builds",
	Long: "cratefarm resolves everything a Cargo.lock pins, fetches it into a local\n" +
		"vendor farm and emits the cargo config that makes builds use the farm\n" +
		"instead of the network.",

	Example: `
  cratefarm vendor
  cratefarm vendor --sources ./extra-sources --out ./farm
  cratefarm prefetch --write`,
}

var completionCmd = &cobra.Command{
	Use:   "completion",
	Args:  cobra.MaximumNArgs(1),
	Short: "Output shell completion code for bash",
	Long: `To load completion run

. <(cratefarm completion)

You can add that line to your ~/.bashrc or ~/.profile to
persist completion in your shell.
`,
	Run: func(cmd *cobra.Command, args []string) {
		rootCmd.GenBashCompletion(os.Stdout)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (%s)", Version, Commit)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(commands.ErrorBox(err.Error(), ""))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&disableColors, "no-color", "", false, "disable color output")
	rootCmd.AddCommand(completionCmd)
}

// initConfig reads in the config file and ENV variables if set
func initConfig() {
	if disableColors || os.Getenv("CI") != "" {
		gchalk.SetLevel(0)
		commands.EmojiEnabled = false
	}

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Fail(err.Error())
	}

	viper.AddConfigPath(home)
	viper.AddConfigPath(".")
	viper.SetConfigName(".cratefarm")
	viper.SetConfigType("toml")

	viper.SetEnvPrefix("CRATEFARM")
	viper.AutomaticEnv() // read in environment variables that match

	viper.SetDefault("download-base", "")
	viper.SetDefault("concurrency", 8)
	viper.SetDefault("generator", "crate2nix")

	// if a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		logger.Log("Using config file: " + viper.ConfigFileUsed())
	}
}

// defaultHashFile is where computed hashes live unless overridden
func defaultHashFile(projectRoot string) string {
	return filepath.Join(projectRoot, "crate-hashes.json")
}
