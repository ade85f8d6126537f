package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/engine"
)

func newCleanCommand(opts *globalOptions) *cobra.Command {
	var (
		cache  bool
		output bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete the cache and the generated site",
		Long: `Delete the cache database and the output directory. With --cache or
--output only that one is removed. The next build runs every task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !cache && !output {
				cache, output = true, true
			}

			out := cmd.OutOrStdout()
			if output {
				if err := checkOutputDir(cfg.SourceDir, cfg.OutputDir); err != nil {
					return err
				}
				if err := os.RemoveAll(cfg.OutputDir); err != nil {
					return fmt.Errorf("failed to remove output directory: %w", err)
				}
				fmt.Fprintf(out, "✓ Removed output: %s\n", cfg.OutputDir)
			}
			if cache {
				for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
					if err := os.Remove(cfg.CachePath + suffix); err != nil && !os.IsNotExist(err) {
						return fmt.Errorf("failed to remove cache: %w", err)
					}
				}
				fmt.Fprintf(out, "✓ Removed cache: %s\n", cfg.CachePath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cache, "cache", false, "remove only the cache database")
	cmd.Flags().BoolVar(&output, "output", false, "remove only the output directory")

	return cmd
}

// checkOutputDir refuses output directories that hold the sources.
func checkOutputDir(sourceDir, outputDir string) error {
	src, err := filepath.Abs(sourceDir)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(dst, src)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return engine.NewInvalidArgumentError("refusing to remove " + outputDir + ": it contains the source directory")
	}
	return nil
}
