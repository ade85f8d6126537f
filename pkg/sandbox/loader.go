package sandbox

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// loadEntry is a module being loaded (globals nil, err nil) or loaded.
type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// loader resolves load() statements for one execution. Modules are read
// through the host so every load is a tracked file read.
type loader struct {
	ctx         context.Context
	host        engine.Host
	predeclared starlark.StringDict
	cache       map[string]*loadEntry
}

func newLoader(ctx context.Context, host engine.Host, predeclared starlark.StringDict) *loader {
	return &loader{
		ctx:         ctx,
		host:        host,
		predeclared: predeclared,
		cache:       make(map[string]*loadEntry),
	}
}

func (l *loader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	from := thread.CallFrame(0).Pos.Filename()
	resolved, err := engine.ResolvePath(from, module)
	if err != nil {
		return nil, err
	}

	e, ok := l.cache[resolved]
	if ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", resolved)
		}
		return e.globals, e.err
	}

	// Mark as in progress.
	l.cache[resolved] = nil

	src, err := l.host.ReadFile(l.ctx, "/"+resolved)
	if err != nil {
		l.cache[resolved] = &loadEntry{err: err}
		return nil, err
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, resolved, src, l.predeclared)
	l.cache[resolved] = &loadEntry{globals: globals, err: err}
	return globals, err
}
