package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/stardrive/pkg/hashing"
)

// validate decides whether entry can stand in for executing the task at the
// top of f. Records are checked in trace order and checking stops at the
// first mismatch, since later records may name things that no longer exist.
// Subtask records are resolved through the run, so each child is validated
// or executed at most once per run.
func (r *run) validate(ctx context.Context, f *frame, entry *CacheEntry, scriptHash, argsHash string) (bool, string) {
	n := f.current()
	switch {
	case entry.Key != n.key:
		return false, "entry belongs to another task"
	case entry.ScriptHash != scriptHash:
		return false, "script changed"
	case entry.ArgsHash != argsHash:
		return false, "arguments changed"
	}

	for i, rec := range entry.Trace.Records {
		ok, err := r.check(ctx, f, rec)
		if err != nil {
			return false, fmt.Sprintf("record %d (%s): %v", i, rec, err)
		}
		if !ok {
			return false, fmt.Sprintf("record %d (%s) changed", i, rec)
		}
	}

	if out := entry.Output; out != nil && out.ContentHash != "" {
		ok, err := r.b.objects.HasObject(ctx, out.ContentHash)
		if err != nil || !ok {
			return false, "output object missing"
		}
	}
	return true, ""
}

// check re-observes one record against the current state of the world.
func (r *run) check(ctx context.Context, f *frame, rec DependencyRecord) (bool, error) {
	switch rec.Kind {
	case RecordFileRead:
		data, err := r.b.fs.ReadFile(rec.Path)
		if err != nil {
			return false, err
		}
		return hashing.Content(data) == rec.Hash, nil

	case RecordDirectoryListing:
		entries, err := r.b.fs.ReadDir(rec.Path)
		if err != nil {
			return false, err
		}
		return hashing.Listing(entries) == rec.Hash, nil

	case RecordFileType:
		kind, err := r.b.fs.Stat(rec.Path)
		if err != nil {
			return false, err
		}
		return hashing.Probe(string(kind)) == rec.Hash, nil

	case RecordRemoteFetch:
		if r.b.remote == nil {
			return false, fmt.Errorf("remote inputs are disabled")
		}
		content, err := r.b.remote.Fetch(ctx, rec.Path)
		if err != nil {
			return false, err
		}
		return hashing.Content(content.Data) == rec.Hash, nil

	case RecordSubtaskOutput:
		if rec.Task == nil {
			return false, fmt.Errorf("subtask record without identity")
		}
		child, err := NewTaskIdentity(rec.Task.Script, rec.Task.Args)
		if err != nil {
			return false, err
		}
		cn, err := r.request(ctx, f, child, spawnInline)
		if err != nil {
			return false, err
		}
		if cn.err != nil {
			return false, fmt.Errorf("subtask failed")
		}
		return cn.output.Hash() == rec.Hash, nil

	default:
		return false, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}
