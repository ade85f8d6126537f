package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/stardrive/pkg/config"
	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/remote"
	"github.com/openfroyo/stardrive/pkg/sandbox"
	"github.com/openfroyo/stardrive/pkg/stores"
	"github.com/openfroyo/stardrive/pkg/telemetry"
	"github.com/openfroyo/stardrive/pkg/transforms"
)

// project is an opened site: its configuration, telemetry, store and builder.
type project struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   *stores.SQLiteStore
	builder *engine.Builder
}

// loadConfig reads the project configuration selected by the global flags.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = loader.LoadFile(opts.configPath)
	} else {
		cfg, err = loader.Load(opts.dir)
	}
	if err != nil {
		return nil, err
	}

	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens the cache database, creating its directory if needed.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return stores.Open(ctx, stores.Config{Path: cfg.CachePath})
}

// openProject wires the engine for a build. override, when set, adjusts the
// loaded configuration before anything is created from it.
func openProject(ctx context.Context, opts *globalOptions, override func(*config.Config)) (*project, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(opts.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	builderOpts := engine.Options{
		FS:      engine.NewOSFileSystem(cfg.SourceDir),
		Cache:   store,
		Objects: store,
		Executor: sandbox.NewExecutor(sandbox.Options{
			Timeout:  cfg.TaskTimeout.Std(),
			MaxSteps: cfg.MaxSteps,
		}),
		Transforms: transforms.New(transforms.DefaultOptions()),
		History:    store,
		Pruner:     store,
		PruneStale: cfg.PruneStale,
		OutputDir:  cfg.OutputDir,
		Workers:    cfg.Workers,
		Logger:     tel.Logger,
		Metrics:    tel.Metrics,
		Tracer:     tel.Tracer,
	}

	if cfg.Remote.Enabled {
		fetcher, err := remote.NewFetcher(remote.Options{
			Metadata:     store,
			Objects:      store,
			Timeout:      cfg.Remote.Timeout.Std(),
			UserAgent:    cfg.Remote.UserAgent,
			DefaultTTL:   cfg.Remote.DefaultTTL.Std(),
			MaxBodyBytes: cfg.Remote.MaxBodyBytes,
			Logger:       tel.Logger.NewComponentLogger("remote"),
		})
		if err != nil {
			_ = store.Close()
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		builderOpts.Remote = fetcher
	}

	builder, err := engine.NewBuilder(builderOpts)
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &project{cfg: cfg, tel: tel, store: store, builder: builder}, nil
}

// Close releases the store and flushes telemetry.
func (p *project) Close(ctx context.Context) {
	if err := p.store.Close(); err != nil {
		p.tel.Logger.WithError(err).Warn("Failed to close store")
	}
	if err := p.tel.Shutdown(ctx); err != nil {
		p.tel.Logger.WithError(err).Warn("Failed to flush telemetry")
	}
}

// rootTask returns the task named on the command line, or the configured
// entry when args is empty. Each argument after the script is parsed as JSON
// and falls back to a plain string.
func rootTask(cfg *config.Config, args []string) (engine.TaskIdentity, error) {
	if len(args) == 0 {
		return engine.NewTaskIdentity(cfg.Entry, cfg.EntryArgs)
	}
	return engine.NewTaskIdentity(args[0], parseTaskArgs(args[1:]))
}

func parseTaskArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, a := range raw {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		args = append(args, v)
	}
	return args
}
