package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cratefarm/cratefarm/internals/commands"
	"github.com/cratefarm/cratefarm/internals/gitfetch"
	"github.com/cratefarm/cratefarm/internals/ownhttp"
	"github.com/cratefarm/cratefarm/internals/vendoring"
)

func init() {
	cmd := commands.New(&cobra.Command{
		Use:   "vendor [projectRoot]",
		Short: "Fetch all locked dependencies into a local vendor farm",
		Long: `Reads the Cargo.lock of the project (plus any additional sources),
resolves a content hash for every package, fetches everything and builds
the vendor farm together with the cargo config pointing at it.`,
		Args: cobra.MaximumNArgs(1),
	}, &vendorRunner{})

	cmd.Flags().StringP("out", "o", "cratefarm-out", "output directory for crates, farm and config")
	cmd.Flags().String("sources", "", "directory with additional source trees, one lockfile per subdirectory")
	cmd.Flags().StringArray("hash-file", nil, "hash cache file (repeatable, later files win)")
	cmd.Flags().Int("concurrency", 8, "number of parallel fetches")
	cmd.Flags().String("download-base", "", "registry download endpoint override")
	viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("download-base", cmd.Flags().Lookup("download-base"))

	rootCmd.AddCommand(cmd.Command)
}

type vendorRunner struct{}

func (v *vendorRunner) RunE(cmd *cobra.Command, args []string) error {
	cfg, err := pipelineConfig(cmd, args)
	if err != nil {
		return err
	}

	logger.Headline("Vendoring " + cfg.ProjectRoot)
	task := logger.NewTask(2)

	task.Step("🔎", "Resolving packages")
	classified, store, err := vendoring.Resolve(cmd.Context(), cfg)
	if err != nil {
		return describeFailure(err, cfg)
	}
	logger.Info(fmt.Sprintf("  %d packages to vendor", len(classified)))

	task.Step("🚚", "Fetching packages")
	spin := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	spin.Suffix = " fetching packages"
	spin.Start()
	cfg.OnProgress = func(done int, total int) {
		spin.Suffix = fmt.Sprintf(" fetching packages (%d/%d)", done, total)
	}

	result, err := vendoring.Vendor(cmd.Context(), cfg, classified, store)
	spin.Stop()
	if err != nil {
		return describeFailure(err, cfg)
	}

	logger.Info(fmt.Sprintf(
		"  %d packages vendored (%s)",
		len(result.Packages),
		humanize.Bytes(uint64(dirSize(cfg.OutputDir))),
	))
	logger.Info("  farm:   " + result.FarmDir)
	logger.Info("  config: " + result.ConfigPath)

	if len(result.Overlay) != 0 {
		hint := defaultHashFile(cfg.ProjectRoot)
		if len(cfg.HashFiles) != 0 {
			hint = cfg.HashFiles[len(cfg.HashFiles)-1]
		}
		logger.Warn(fmt.Sprintf(
			"%d git hashes were computed on the fly. Run \"cratefarm prefetch --write\" to persist them to %s",
			len(result.Overlay), hint,
		))
	}

	return nil
}

// pipelineConfig assembles the explicit pipeline configuration from flags,
// env and the config file
func pipelineConfig(cmd *cobra.Command, args []string) (*vendoring.Config, error) {
	projectRoot := "."
	if len(args) == 1 {
		projectRoot = args[0]
	}

	out, _ := cmd.Flags().GetString("out")
	sources, _ := cmd.Flags().GetString("sources")
	hashFiles, _ := cmd.Flags().GetStringArray("hash-file")
	if len(hashFiles) == 0 {
		hashFiles = []string{defaultHashFile(projectRoot)}
	}

	cfg := &vendoring.Config{
		ProjectRoot:  projectRoot,
		SourcesDir:   sources,
		OutputDir:    out,
		HashFiles:    hashFiles,
		DownloadBase: viper.GetString("download-base"),
		Concurrency:  viper.GetInt("concurrency"),
		Client:       ownhttp.NewThrottled(16),
	}

	// one capability probe for the whole run. a host without git can still
	// vendor registry-only lockfiles
	git, err := gitfetch.Detect()
	if err != nil {
		logger.Warn("git not usable: " + err.Error())
	} else {
		cfg.Git = git
		if !git.SupportsSubmodules() {
			logger.Warn(fmt.Sprintf(
				"git %s can not fetch submodules recursively, hashes for uncached git packages will not be computed",
				git.Version(),
			))
		}
	}

	return cfg, nil
}

// dirSize sums all regular file sizes below root. Only used for the
// summary, so errors just yield a partial sum.
func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// describeFailure wraps pipeline errors with operator help
func describeFailure(err error, cfg *vendoring.Config) error {
	hint := defaultHashFile(cfg.ProjectRoot)
	if len(cfg.HashFiles) != 0 {
		hint = cfg.HashFiles[len(cfg.HashFiles)-1]
	}
	return &commands.CliError{
		Text: err.Error(),
		Help: "Nothing was vendored. Fix the cause and re-run – missing or wrong hashes can be corrected by hand in " + hint,
	}
}
