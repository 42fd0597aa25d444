package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cratefarm/cratefarm/internals/commands"
	"github.com/cratefarm/cratefarm/internals/vendoring"
)

func init() {
	cmd := commands.New(&cobra.Command{
		Use:   "prefetch [projectRoot]",
		Short: "Resolve and compute content hashes without vendoring anything",
		Long: `Runs only the hash resolution stage: every git package missing from the
hash cache is fetched once (with submodules) and hashed. The computed
hashes are written next to the cache as an overlay, or merged into the
cache itself with --write.`,
		Args: cobra.MaximumNArgs(1),
	}, &prefetchRunner{})

	cmd.Flags().String("sources", "", "directory with additional source trees, one lockfile per subdirectory")
	cmd.Flags().StringArray("hash-file", nil, "hash cache file (repeatable, later files win)")
	cmd.Flags().Bool("write", false, "merge computed hashes into the hash cache file")

	rootCmd.AddCommand(cmd.Command)
}

type prefetchRunner struct{}

func (p *prefetchRunner) RunE(cmd *cobra.Command, args []string) error {
	cfg, err := pipelineConfig(cmd, args)
	if err != nil {
		return err
	}

	classified, store, err := vendoring.Resolve(cmd.Context(), cfg)
	if err != nil {
		return describeFailure(err, cfg)
	}

	overlay := store.Overlay()
	logger.Info(fmt.Sprintf("%d packages resolved, %d hashes computed", len(classified), len(overlay)))
	if len(overlay) == 0 {
		return nil
	}

	cachePath := cfg.HashFiles[len(cfg.HashFiles)-1]
	write, _ := cmd.Flags().GetBool("write")
	if write {
		if err := store.MergeInto(cachePath); err != nil {
			return err
		}
		logger.Info("merged into " + cachePath)
		return nil
	}

	overlayPath := cachePath + ".new"
	if err := store.WriteOverlay(overlayPath); err != nil {
		return err
	}
	logger.Info("wrote " + overlayPath + " (use --write to merge into the cache)")
	return nil
}
