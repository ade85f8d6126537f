package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past builds",
		Example: `  # Show the last 10 builds
  stardrive history --limit 10

  # Show the failures of one build
  stardrive history show 3f2a9c1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if runs == nil {
					runs = []*stores.RunRecord{}
				}
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No builds recorded")
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of builds to show (0 for all)")
	cmd.AddCommand(newHistoryShowCommand(opts))

	return cmd
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the failed tasks of one build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			failures, err := store.ListRunFailures(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if failures == nil {
					failures = []*stores.RunFailure{}
				}
				return writeJSON(out, failures)
			}
			if len(failures) == 0 {
				fmt.Fprintf(out, "No failed tasks recorded for run %s\n", args[0])
				return nil
			}
			for _, f := range failures {
				fmt.Fprintf(out, "✗ %s [%s]\n", f.Task, f.Code)
				fmt.Fprintln(out, indent(f.Message, "    "))
			}
			return nil
		},
	}
}

func printRuns(w io.Writer, runs []*stores.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tDURATION\tEXECUTED\tCACHED\tFAILED\tWRITTEN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID,
			r.Status,
			humanize.Time(r.StartedAt),
			r.Duration().Round(time.Millisecond),
			r.Executed,
			r.Cached,
			r.Failed,
			r.Written,
		)
	}
	tw.Flush()
}
