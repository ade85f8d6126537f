package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/config"
	"github.com/openfroyo/stardrive/pkg/engine"
)

func newBuildCommand(opts *globalOptions) *cobra.Command {
	var (
		workers   int
		outputDir string
		noPrune   bool
	)

	cmd := &cobra.Command{
		Use:   "build [script [args...]]",
		Short: "Build the site",
		Long: `Build the site incrementally.

The root task is the configured entry script, or the script named on the
command line. Arguments after the script are parsed as JSON values, falling
back to plain strings.

This command:
  - Validates every cached task against its recorded trace
  - Re-runs only tasks whose observed inputs changed
  - Writes the declared outputs of succeeded tasks to the output directory
  - Records the run in the build history`,
		Example: `  # Build the configured entry
  stardrive build

  # Build one page task with arguments
  stardrive build pages/post.star '"content/hello.md"'

  # Build with four workers into a custom directory
  stardrive build --workers 4 --output dist`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := openProject(ctx, opts, func(cfg *config.Config) {
				if workers > 0 {
					cfg.Workers = workers
				}
				if outputDir != "" {
					cfg.OutputDir = outputDir
				}
				if noPrune {
					cfg.PruneStale = false
				}
			})
			if err != nil {
				return err
			}
			defer p.Close(ctx)

			root, err := rootTask(p.cfg, args)
			if err != nil {
				return err
			}

			started := time.Now()
			report, err := p.builder.Build(ctx, []engine.TaskIdentity{root})
			if report == nil {
				return err
			}

			if opts.jsonOutput {
				if perr := printReportJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			} else {
				printReport(cmd.OutOrStdout(), report, p.cfg.OutputDir, time.Since(started))
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "max tasks running at once (default: config or CPU count)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: config)")
	cmd.Flags().BoolVar(&noPrune, "no-prune", false, "keep cache entries this build did not visit")

	return cmd
}

// printReport writes a human-readable build summary.
func printReport(w io.Writer, report *engine.RunReport, outputDir string, elapsed time.Duration) {
	status := "succeeded"
	if report.Status != engine.RunStatusSucceeded {
		status = "failed"
	}

	fmt.Fprintf(w, "Build %s in %s (run %s)\n", status, elapsed.Round(time.Millisecond), shortID(report.RunID))
	fmt.Fprintf(w, "  executed: %d  cached: %d  failed: %d\n", report.Executed, report.Cached, report.Failed)
	if len(report.Written) > 0 {
		fmt.Fprintf(w, "  wrote %d file(s) to %s\n", len(report.Written), outputDir)
	}
	if report.OutputError != "" {
		fmt.Fprintf(w, "\n✗ writing outputs to %s\n  %s\n", outputDir, report.OutputError)
	}

	for _, t := range report.Failures() {
		fmt.Fprintf(w, "\n✗ %s\n", t.Identity)
		fmt.Fprintf(w, "  %v\n", t.Err)
		var engErr *engine.EngineError
		if errors.As(t.Err, &engErr) && engErr.Diagnostic != "" {
			fmt.Fprintf(w, "%s\n", indent(engErr.Diagnostic, "    "))
		}
		for _, d := range t.Diagnostics {
			fmt.Fprintf(w, "  | %s\n", d)
		}
	}
}

// taskView is the JSON form of a task report.
type taskView struct {
	Task        string         `json:"task"`
	State       string         `json:"state"`
	Cached      bool           `json:"cached"`
	Output      *engine.Output `json:"output,omitempty"`
	Code        string         `json:"code,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
}

// reportView is the JSON form of a run report.
type reportView struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	Executed    int        `json:"executed"`
	Cached      int        `json:"cached"`
	Failed      int        `json:"failed"`
	Written     []string   `json:"written"`
	OutputError string     `json:"output_error,omitempty"`
	Tasks       []taskView `json:"tasks"`
}

func printReportJSON(w io.Writer, report *engine.RunReport) error {
	view := reportView{
		RunID:       report.RunID,
		Status:      string(report.Status),
		Executed:    report.Executed,
		Cached:      report.Cached,
		Failed:      report.Failed,
		Written:     report.Written,
		OutputError: report.OutputError,
	}
	if view.Written == nil {
		view.Written = []string{}
	}
	for _, t := range report.Tasks {
		tv := taskView{
			Task:        t.Identity.String(),
			State:       string(t.State),
			Cached:      t.Cached,
			Output:      t.Output,
			DurationMS:  t.Duration.Milliseconds(),
			Diagnostics: t.Diagnostics,
		}
		if t.Err != nil {
			tv.Code = engine.ErrorCode(t.Err)
			tv.Error = t.Err.Error()
		}
		view.Tasks = append(view.Tasks, tv)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return prefix + strings.Join(lines, "\n"+prefix)
}
