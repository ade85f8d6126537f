package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// Options configures a Builder. FS, Cache, Objects and Executor are required.
type Options struct {
	FS       FileSystem
	Cache    CacheStore
	Objects  ObjectStore
	Executor Executor

	// Transforms backs markdown_to_html and minify_html.
	Transforms Transformer

	// Remote backs fetch; nil disables remote inputs.
	Remote RemoteFetcher

	// History records finished runs when set.
	History RunHistory

	// Pruner evicts entries not visited by a successful run when PruneStale is set.
	Pruner     Pruner
	PruneStale bool

	// OutputDir receives the declared outputs after each run. Empty skips
	// materialisation.
	OutputDir string

	// Workers bounds the number of tasks running at once. Defaults to the
	// number of CPUs.
	Workers int

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Builder runs builds. A Builder may run several builds one after another;
// each Build call gets its own task map.
type Builder struct {
	fs         FileSystem
	cache      CacheStore
	objects    ObjectStore
	executor   Executor
	transforms Transformer
	remote     RemoteFetcher
	history    RunHistory
	pruner     Pruner
	pruneStale bool
	outputDir  string
	workers    int

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewBuilder creates a Builder from opts.
func NewBuilder(opts Options) (*Builder, error) {
	switch {
	case opts.FS == nil:
		return nil, NewInvalidArgumentError("builder requires a file system")
	case opts.Cache == nil:
		return nil, NewInvalidArgumentError("builder requires a cache store")
	case opts.Objects == nil:
		return nil, NewInvalidArgumentError("builder requires an object store")
	case opts.Executor == nil:
		return nil, NewInvalidArgumentError("builder requires an executor")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	return &Builder{
		fs:         opts.FS,
		cache:      opts.Cache,
		objects:    opts.Objects,
		executor:   opts.Executor,
		transforms: opts.Transforms,
		remote:     opts.Remote,
		history:    opts.History,
		pruner:     opts.Pruner,
		pruneStale: opts.PruneStale,
		outputDir:  opts.OutputDir,
		workers:    workers,
		logger:     logger.NewComponentLogger("engine"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}, nil
}

// Build evaluates the root tasks and everything they spawn. It returns the
// run report in all cases, and a *BuildError when any task failed or the
// outputs could not be written.
func (b *Builder) Build(ctx context.Context, roots []TaskIdentity) (*RunReport, error) {
	if len(roots) == 0 {
		return nil, NewInvalidArgumentError("no root tasks given")
	}

	runID := uuid.New().String()
	started := time.Now().UTC()

	ctx, span := b.tracer.StartRunSpan(ctx, runID, len(roots))
	defer span.End()

	r := newRun(ctx, b, runID)
	r.logger.Infof("build started with %d root task(s)", len(roots))
	r.start(roots)
	r.wg.Wait()

	report := &RunReport{
		RunID:     runID,
		StartedAt: started,
		Tasks:     r.reports(),
	}
	for _, t := range report.Tasks {
		switch {
		case t.State == TaskFailed:
			report.Failed++
		case t.Cached:
			report.Cached++
		default:
			report.Executed++
		}
	}
	report.Status = RunStatusSucceeded
	if report.Failed > 0 {
		report.Status = RunStatusFailed
	}

	var outputErr error
	if b.outputDir != "" {
		written, err := b.materialize(ctx, r.logger, report)
		report.Written = written
		if err != nil {
			r.logger.WithError(err).Error("failed to write outputs")
			outputErr = err
			report.OutputError = err.Error()
			report.Status = RunStatusFailed
		}
	}

	if report.Status == RunStatusSucceeded && b.pruneStale && b.pruner != nil {
		removed, err := b.pruner.PruneEntries(ctx, r.keys())
		if err != nil {
			r.logger.WithError(err).Warn("failed to prune stale cache entries")
		} else if removed > 0 {
			r.logger.Infof("pruned %d stale cache entries", removed)
		}
	}

	report.CompletedAt = time.Now().UTC()
	if b.history != nil {
		if err := b.history.RecordRun(ctx, report); err != nil {
			r.logger.WithError(err).Warn("failed to record run history")
		}
	}

	b.metrics.RecordRunCompleted(string(report.Status), report.CompletedAt.Sub(started))
	span.SetAttributes(telemetry.AttrRunStatus.String(string(report.Status)))

	r.logger.Infof("build %s: %d executed, %d cached, %d failed",
		report.Status, report.Executed, report.Cached, report.Failed)

	if report.Status == RunStatusFailed {
		err := &BuildError{RunID: runID, Failures: report.Failures(), Err: outputErr}
		telemetry.RecordError(span, err)
		return report, err
	}
	telemetry.RecordSuccess(span)
	return report, nil
}

// materialize writes every declared output into the output directory.
// Tasks are visited in key order, so when two tasks declare the same name the
// later key wins.
func (b *Builder) materialize(ctx context.Context, logger *telemetry.Logger, report *RunReport) ([]string, error) {
	owners := make(map[string]string)
	contents := make(map[string][]byte)
	var order []string

	for _, t := range report.Tasks {
		if t.State != TaskSucceeded || t.Output == nil || t.Output.Name == "" {
			continue
		}
		data, err := b.objects.GetObject(ctx, t.Output.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("failed to load output %s: %w", t.Output.Name, err)
		}
		name := t.Output.Name
		if prev, ok := owners[name]; ok {
			logger.Warnf("output %s declared by %s and %s", name, prev, t.Identity)
		} else {
			order = append(order, name)
		}
		owners[name] = t.Identity.String()
		contents[name] = data
	}

	var written []string
	for _, name := range order {
		dest := filepath.Join(b.outputDir, filepath.FromSlash(name))
		changed, err := writeIfChanged(dest, contents[name])
		if err != nil {
			return written, err
		}
		if changed {
			written = append(written, name)
		}
	}
	return written, nil
}

// writeIfChanged atomically replaces dest with data unless it already holds data.
func writeIfChanged(dest string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".stardrive-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close %s: %w", dest, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return false, fmt.Errorf("failed to chmod %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	return true, nil
}
