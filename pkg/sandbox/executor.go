package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// DefaultTimeout bounds a single script execution when none is configured.
const DefaultTimeout = 5 * time.Minute

// fileOptions lets build scripts use top-level if and for statements and
// reassign globals.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// resultGlobal is the global whose value becomes part of the task output.
const resultGlobal = "result"

// Options configures an Executor.
type Options struct {
	// Timeout bounds one execution, including time spent waiting on child
	// tasks.
	Timeout time.Duration

	// MaxSteps caps the number of Starlark computation steps. Zero means no cap.
	MaxSteps uint64
}

// Executor runs build scripts in fresh Starlark threads.
type Executor struct {
	timeout  time.Duration
	maxSteps uint64
}

var _ engine.Executor = (*Executor)(nil)

// NewExecutor creates a new Starlark executor.
func NewExecutor(opts Options) *Executor {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		timeout:  timeout,
		maxSteps: opts.MaxSteps,
	}
}

// Execute implements engine.Executor.
func (e *Executor) Execute(ctx context.Context, req *engine.ExecRequest) (*engine.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: req.Identity.String(),
		Print: func(_ *starlark.Thread, msg string) {
			req.Host.Print(msg)
		},
	}
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	predeclared, err := e.predeclared(ctx, req)
	if err != nil {
		return nil, err
	}
	l := newLoader(ctx, req.Host, predeclared)
	thread.Load = l.load

	globals, err := starlark.ExecFileOptions(fileOptions, thread, req.Identity.Script, req.Source, predeclared)
	if err != nil {
		return nil, e.failure(ctx, err)
	}

	result := &engine.ExecResult{}
	if v, ok := globals[resultGlobal]; ok {
		goVal, err := fromStarlarkValue(v)
		if err != nil {
			return nil, engine.NewScriptFailure(
				fmt.Sprintf("cannot convert %s: %v", resultGlobal, err), "", err)
		}
		result.Value = goVal
		result.HasValue = true
	}
	return result, nil
}

// predeclared builds the global environment of one execution.
func (e *Executor) predeclared(ctx context.Context, req *engine.ExecRequest) (starlark.StringDict, error) {
	hb := &hostBuiltins{ctx: ctx, host: req.Host}
	predeclared := hb.dict()
	predeclared["struct"] = starlarkstruct.Default
	predeclared["json"] = starlarkjson.Module

	args := make(starlark.Tuple, len(req.Identity.Args))
	for i, a := range req.Identity.Args {
		v, err := toStarlarkValue(a)
		if err != nil {
			return nil, engine.NewInvalidArgumentError(
				fmt.Sprintf("argument %d of %s: %v", i, req.Identity, err))
		}
		args[i] = v
	}
	args.Freeze()
	predeclared["ARGS"] = args

	return predeclared, nil
}

// failure converts an interpreter error into a SCRIPT_FAILURE.
func (e *Executor) failure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewScriptFailure(fmt.Sprintf("script timed out after %s", e.timeout), "", err)
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return engine.NewScriptFailure(evalErr.Msg, evalErr.Backtrace(), err)
	}
	return engine.NewScriptFailure(err.Error(), "", err)
}
