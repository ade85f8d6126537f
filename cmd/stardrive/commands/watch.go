package commands

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stardrive/pkg/config"
	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/watch"
)

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [script [args...]]",
		Short: "Rebuild the site whenever a source file changes",
		Long: `Build the site, then watch the project directory and rebuild after every
change. The output directory, the cache and hidden files are ignored.

With --metrics-addr the Prometheus metrics of every build are served over
HTTP for as long as the command runs.`,
		Example: `  # Watch with default settings
  stardrive watch

  # Serve metrics on :9090
  stardrive watch --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := openProject(ctx, opts, func(cfg *config.Config) {
				if metricsAddr != "" {
					cfg.Metrics.Enabled = true
					cfg.Metrics.ListenAddress = metricsAddr
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

			if err := p.tel.Metrics.Serve(ctx, p.tel.Logger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rebuild := func(ctx context.Context, changed []string) error {
				if len(changed) > 0 {
					p.tel.Logger.WithField("files", len(changed)).Info("Changes detected, rebuilding")
				}
				started := time.Now()
				report, err := p.builder.Build(ctx, []engine.TaskIdentity{root})
				if report != nil {
					printReport(out, report, p.cfg.OutputDir, time.Since(started))
				}
				var buildErr *engine.BuildError
				if errors.As(err, &buildErr) {
					return nil
				}
				return err
			}

			if err := rebuild(ctx, nil); err != nil {
				return err
			}

			w, err := watch.New(watch.Options{
				Root:     p.cfg.SourceDir,
				Ignore:   watchIgnores(p.cfg),
				Debounce: debounce,
				Logger:   p.tel.Logger,
			})
			if err != nil {
				return err
			}
			return w.Run(ctx, rebuild)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "wait this long for changes to settle")

	return cmd
}

// watchIgnores lists the paths the build itself writes to.
func watchIgnores(cfg *config.Config) []string {
	cache := filepath.Clean(cfg.CachePath)
	return []string{
		cfg.OutputDir,
		cache,
		cache + "-wal",
		cache + "-shm",
		cache + "-journal",
	}
}
