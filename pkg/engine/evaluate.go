package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/stardrive/pkg/hashing"
	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// evaluate brings the task at the top of f to a terminal state: it reuses the
// cached output when the stored trace still holds, and executes the script
// otherwise. The caller must have claimed the node.
func (r *run) evaluate(ctx context.Context, f *frame) {
	n := f.current()
	start := time.Now()
	logger := r.logger.WithTask(n.id.String())

	r.b.metrics.TaskStarted()
	defer r.b.metrics.TaskFinished()

	ctx, span := r.b.tracer.StartTaskSpan(ctx, n.id.Script, n.id.ArgsHash())
	defer span.End()

	out, cached, diagnostics, err := r.process(ctx, f, logger)
	duration := time.Since(start)

	outcome := telemetry.OutcomeExecuted
	switch {
	case err != nil:
		outcome = telemetry.OutcomeFailed
		r.b.metrics.RecordError(ErrorCode(err))
		telemetry.RecordError(span, err)
		logger.WithError(err).Warn("task failed")
	case cached:
		outcome = telemetry.OutcomeCached
		telemetry.RecordSuccess(span)
		logger.Debug("task reused from cache")
	default:
		telemetry.RecordSuccess(span)
		logger.Debugf("task executed in %s", duration)
	}
	span.SetAttributes(telemetry.AttrTaskOutcome.String(outcome))
	r.b.metrics.RecordTask(outcome, duration)

	n.finish(out, cached, diagnostics, err, duration)
}

func (r *run) process(ctx context.Context, f *frame, logger *telemetry.Logger) (*Output, bool, []string, error) {
	n := f.current()

	src, err := r.b.fs.ReadFile(n.id.Script)
	if err != nil {
		return nil, false, nil, withTask(err, n.id)
	}
	scriptHash := hashing.Script(src)
	argsHash := n.id.ArgsHash()

	entry, err := r.b.cache.GetEntry(ctx, n.key)
	if err != nil {
		// A broken entry only costs a rebuild.
		logger.WithError(err).Warn("ignoring unreadable cache entry")
		entry = nil
	}

	if entry == nil {
		r.b.metrics.RecordValidation(telemetry.ValidationCold)
	} else {
		ok, reason := r.validate(ctx, f, entry, scriptHash, argsHash)
		if ok {
			r.b.metrics.RecordValidation(telemetry.ValidationHit)
			return entry.Output, true, nil, nil
		}
		r.b.metrics.RecordValidation(telemetry.ValidationMiss)
		logger.Debugf("cache miss: %s", reason)
	}

	host := newTaskHost(r, f, logger)
	res, err := r.b.executor.Execute(ctx, &ExecRequest{
		Identity: n.id,
		Source:   src,
		Host:     host,
	})
	if host.fatal != nil {
		err = host.fatal
	}
	if err != nil {
		return nil, false, host.diagnostics, withTask(err, n.id)
	}

	if err := host.awaitQueued(ctx); err != nil {
		return nil, false, host.diagnostics, withTask(err, n.id)
	}

	if res != nil && res.HasValue {
		value, err := normalizeValue(res.Value)
		if err != nil {
			return nil, false, host.diagnostics, NewScriptFailure(
				fmt.Sprintf("result is not JSON-compatible: %v", err), "", nil).WithTask(n.id.String())
		}
		res.Value = value
	}
	out := host.result(res)

	newEntry := &CacheEntry{
		Key:        n.key,
		Identity:   n.id,
		ScriptHash: scriptHash,
		ArgsHash:   argsHash,
		Trace:      host.trace(scriptHash, argsHash),
		Output:     out,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.b.cache.PutEntry(ctx, newEntry); err != nil {
		// The output is still good for this run; the next run misses.
		logger.WithError(err).Error("failed to persist cache entry")
	}

	return out, false, host.diagnostics, nil
}

// withTask attaches the task name to engine errors that lack one.
func withTask(err error, id TaskIdentity) error {
	if e, ok := err.(*EngineError); ok && e.Task == "" {
		return e.WithTask(id.String())
	}
	return err
}
