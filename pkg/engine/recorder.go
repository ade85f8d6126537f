package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/stardrive/pkg/hashing"
	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// taskHost is the Host handed to one task execution. Tracked calls append a
// DependencyRecord before returning; spawning calls go through the run.
type taskHost struct {
	r      *run
	f      *frame
	logger *telemetry.Logger

	mu          sync.Mutex
	records     []DependencyRecord
	declared    *Output
	queued      []*node
	diagnostics []string

	// fatal is the first spawn failure. It outranks whatever error the
	// script reports after the host call failed.
	fatal error
}

var _ Host = (*taskHost)(nil)

func newTaskHost(r *run, f *frame, logger *telemetry.Logger) *taskHost {
	return &taskHost{r: r, f: f, logger: logger}
}

func (h *taskHost) script() string {
	return h.f.current().id.Script
}

func (h *taskHost) record(rec DependencyRecord) {
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
}

func (h *taskHost) fail(err error) error {
	h.mu.Lock()
	if h.fatal == nil {
		h.fatal = err
	}
	h.mu.Unlock()
	return err
}

// ReadFile implements Host.
func (h *taskHost) ReadFile(_ context.Context, p string) ([]byte, error) {
	resolved, err := ResolvePath(h.script(), p)
	if err != nil {
		return nil, err
	}
	data, err := h.r.b.fs.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	h.record(FileReadRecord(resolved, hashing.Content(data)))
	return data, nil
}

// ListDirectory implements Host.
func (h *taskHost) ListDirectory(_ context.Context, p string) ([]string, error) {
	resolved, err := ResolvePath(h.script(), p)
	if err != nil {
		return nil, err
	}
	entries, err := h.r.b.fs.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	h.record(ListingRecord(resolved, hashing.Listing(entries)))

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// FileType implements Host.
func (h *taskHost) FileType(_ context.Context, p string) (FileKind, error) {
	resolved, err := ResolvePath(h.script(), p)
	if err != nil {
		if IsNotFound(err) {
			// Outside the root nothing exists.
			return FileKindMissing, nil
		}
		return "", err
	}
	kind, err := h.r.b.fs.Stat(resolved)
	if err != nil {
		return "", err
	}
	h.record(FileTypeRecord(resolved, hashing.Probe(string(kind))))
	return kind, nil
}

// Fetch implements Host.
func (h *taskHost) Fetch(ctx context.Context, url string) ([]byte, error) {
	if h.r.b.remote == nil {
		return nil, NewInvalidArgumentError("remote inputs are disabled").WithOperation("fetch")
	}
	content, err := h.r.b.remote.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	h.record(RemoteRecord(url, hashing.Content(content.Data)))
	return content.Data, nil
}

// MarkdownToHTML implements Host.
func (h *taskHost) MarkdownToHTML(text string) (string, error) {
	if h.r.b.transforms == nil {
		return "", NewInternalError("no markdown renderer configured", nil)
	}
	return h.r.b.transforms.MarkdownToHTML(text)
}

// MinifyHTML implements Host.
func (h *taskHost) MinifyHTML(text string) (string, error) {
	if h.r.b.transforms == nil {
		return "", NewInternalError("no html minifier configured", nil)
	}
	return h.r.b.transforms.MinifyHTML(text)
}

// WriteOutput implements Host. Only the last call of a task is kept.
func (h *taskHost) WriteOutput(ctx context.Context, name string, content []byte) error {
	cleaned, err := CleanOutputName(name)
	if err != nil {
		return err
	}
	hash := hashing.Content(content)
	if err := h.r.b.objects.PutObject(ctx, hash, content); err != nil {
		return NewInternalError("store output "+cleaned, err)
	}

	h.mu.Lock()
	h.declared = &Output{Name: cleaned, ContentHash: hash, Size: int64(len(content))}
	h.mu.Unlock()
	return nil
}

// Print implements Host.
func (h *taskHost) Print(msg string) {
	h.mu.Lock()
	h.diagnostics = append(h.diagnostics, msg)
	h.mu.Unlock()
	h.logger.Info(msg)
}

// Run implements Host.
func (h *taskHost) Run(ctx context.Context, script string, args []any) (*SubtaskResult, error) {
	return h.spawnAndWait(ctx, script, args, spawnInline)
}

// RunTask implements Host.
func (h *taskHost) RunTask(ctx context.Context, script string, args []any) (*SubtaskResult, error) {
	return h.spawnAndWait(ctx, script, args, spawnScheduled)
}

// QueueTask implements Host.
func (h *taskHost) QueueTask(ctx context.Context, script string, args []any) error {
	id, err := h.childIdentity(script, args)
	if err != nil {
		return err
	}
	n, err := h.r.request(ctx, h.f, id, spawnQueued)
	if err != nil {
		return h.fail(err)
	}
	h.mu.Lock()
	h.queued = append(h.queued, n)
	h.mu.Unlock()
	return nil
}

func (h *taskHost) childIdentity(script string, args []any) (TaskIdentity, error) {
	resolved, err := ResolvePath(h.script(), script)
	if err != nil {
		return TaskIdentity{}, err
	}
	return NewTaskIdentity(resolved, args)
}

func (h *taskHost) spawnAndWait(ctx context.Context, script string, args []any, mode spawnMode) (*SubtaskResult, error) {
	id, err := h.childIdentity(script, args)
	if err != nil {
		return nil, err
	}
	n, err := h.r.request(ctx, h.f, id, mode)
	if err != nil {
		return nil, h.fail(err)
	}
	if n.err != nil {
		return nil, h.fail(NewDependencyFailedError(id.String(), n.err))
	}

	h.record(SubtaskRecord(id, n.output.Hash()))

	result := &SubtaskResult{Identity: id, Output: n.output}
	if n.output != nil && n.output.ContentHash != "" {
		content, err := h.r.b.objects.GetObject(ctx, n.output.ContentHash)
		if err != nil {
			return nil, NewInternalError(fmt.Sprintf("load output of %s", id), err)
		}
		result.Content = content
	}
	return result, nil
}

// awaitQueued waits for every queued child and appends their records.
func (h *taskHost) awaitQueued(ctx context.Context) error {
	h.mu.Lock()
	queued := append([]*node(nil), h.queued...)
	h.mu.Unlock()

	for _, n := range queued {
		if err := h.r.await(ctx, h.f, n); err != nil {
			return err
		}
		if n.err != nil {
			return NewDependencyFailedError(n.id.String(), n.err)
		}
		h.record(SubtaskRecord(n.id, n.output.Hash()))
	}
	return nil
}

// result combines the declared artifact with the script's result value.
func (h *taskHost) result(res *ExecResult) *Output {
	h.mu.Lock()
	defer h.mu.Unlock()

	hasValue := res != nil && res.HasValue && res.Value != nil
	if h.declared == nil && !hasValue {
		return nil
	}
	out := &Output{}
	if h.declared != nil {
		*out = *h.declared
	}
	if hasValue {
		out.Value = res.Value
	}
	return out
}

func (h *taskHost) trace(scriptHash, argsHash string) Trace {
	h.mu.Lock()
	defer h.mu.Unlock()
	records := make([]DependencyRecord, len(h.records))
	copy(records, h.records)
	return Trace{ScriptHash: scriptHash, ArgsHash: argsHash, Records: records}
}
