package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir        string
	configPath string
	verbose    bool
	jsonOutput bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "stardrive",
		Short: "stardrive - incremental static site builds scripted in Starlark",
		Long: `stardrive builds static sites from Starlark build scripts.

Every script run is a task identified by its path and arguments. While a task
runs, the files it reads, the directories it lists and the subtasks it spawns
are recorded. On the next build a task is re-run only if one of those
observations changed; otherwise its previous output is reused.

Features:
  - Dynamic dependency discovery, no manifest to maintain
  - Early cutoff when a rebuilt dependency yields identical output
  - Parallel task execution with cycle detection
  - Markdown rendering and HTML minification
  - Cached remote inputs with ETag revalidation`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default: stardrive.cue or stardrive.yaml in the project directory)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand(opts))
	rootCmd.AddCommand(newBuildCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newInspectCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newGCCommand(opts))
	rootCmd.AddCommand(newCleanCommand(opts))

	return rootCmd
}
