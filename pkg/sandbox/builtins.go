package sandbox

import (
	"context"
	"fmt"
	"path"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// builtinFunc is the signature of a Starlark builtin implementation.
type builtinFunc func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// hostBuiltins binds the host surface for one execution.
type hostBuiltins struct {
	ctx  context.Context
	host engine.Host
}

func (hb *hostBuiltins) dict() starlark.StringDict {
	fns := map[string]builtinFunc{
		"read_file":        hb.readFile,
		"list_directory":   hb.listDirectory,
		"file_type":        hb.fileType,
		"fetch":            hb.fetch,
		"markdown_to_html": hb.markdownToHTML,
		"minify_html":      hb.minifyHTML,
		"write_output":     hb.writeOutput,
		"run":              hb.spawn(hb.host.Run),
		"run_task":         hb.spawn(hb.host.RunTask),
		"queue_task":       hb.queueTask,
		"path_join":        pathJoin,
		"basename":         basename,
		"splitext":         splitext,
	}

	d := make(starlark.StringDict, len(fns))
	for name, fn := range fns {
		d[name] = starlark.NewBuiltin(name, fn)
	}
	return d
}

func (hb *hostBuiltins) readFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	data, err := hb.host.ReadFile(hb.ctx, p)
	if err != nil {
		return nil, err
	}
	return starlark.String(data), nil
}

func (hb *hostBuiltins) listDirectory(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	names, err := hb.host.ListDirectory(hb.ctx, p)
	if err != nil {
		return nil, err
	}
	elems := make([]starlark.Value, len(names))
	for i, name := range names {
		elems[i] = starlark.String(name)
	}
	return starlark.NewList(elems), nil
}

func (hb *hostBuiltins) fileType(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	kind, err := hb.host.FileType(hb.ctx, p)
	if err != nil {
		return nil, err
	}
	return starlark.String(kind), nil
}

func (hb *hostBuiltins) fetch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url); err != nil {
		return nil, err
	}
	data, err := hb.host.Fetch(hb.ctx, url)
	if err != nil {
		return nil, err
	}
	return starlark.String(data), nil
}

func (hb *hostBuiltins) markdownToHTML(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
		return nil, err
	}
	html, err := hb.host.MarkdownToHTML(text)
	if err != nil {
		return nil, err
	}
	return starlark.String(html), nil
}

func (hb *hostBuiltins) minifyHTML(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
		return nil, err
	}
	html, err := hb.host.MinifyHTML(text)
	if err != nil {
		return nil, err
	}
	return starlark.String(html), nil
}

func (hb *hostBuiltins) writeOutput(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var content starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "content", &content); err != nil {
		return nil, err
	}

	var data []byte
	switch c := content.(type) {
	case starlark.String:
		data = []byte(c)
	case starlark.Bytes:
		data = []byte(c)
	default:
		return nil, fmt.Errorf("%s: content must be string or bytes, got %s", b.Name(), content.Type())
	}

	if err := hb.host.WriteOutput(hb.ctx, name, data); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

type spawnFunc func(ctx context.Context, script string, args []any) (*engine.SubtaskResult, error)

func (hb *hostBuiltins) spawn(fn spawnFunc) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		script, taskArgs, err := unpackSpawn(b, args, kwargs)
		if err != nil {
			return nil, err
		}
		res, err := fn(hb.ctx, script, taskArgs)
		if err != nil {
			return nil, err
		}
		return subtaskValue(res)
	}
}

func (hb *hostBuiltins) queueTask(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	script, taskArgs, err := unpackSpawn(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if err := hb.host.QueueTask(hb.ctx, script, taskArgs); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func unpackSpawn(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, []any, error) {
	var script string
	var argv starlark.Value = starlark.NewList(nil)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &script, "args?", &argv); err != nil {
		return "", nil, err
	}

	seq, ok := argv.(starlark.Indexable)
	if !ok {
		return "", nil, fmt.Errorf("%s: args must be a list or tuple, got %s", b.Name(), argv.Type())
	}
	switch argv.(type) {
	case *starlark.List, starlark.Tuple:
	default:
		return "", nil, fmt.Errorf("%s: args must be a list or tuple, got %s", b.Name(), argv.Type())
	}

	taskArgs, err := fromSequence(seq)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return script, taskArgs, nil
}

// subtaskValue renders a child result as struct(name, hash, value, content),
// or None when the child declared nothing.
func subtaskValue(res *engine.SubtaskResult) (starlark.Value, error) {
	if res == nil || res.Output == nil {
		return starlark.None, nil
	}
	value, err := toStarlarkValue(res.Output.Value)
	if err != nil {
		return nil, err
	}
	var content starlark.Value = starlark.None
	if res.Content != nil {
		content = starlark.String(res.Content)
	}
	var name starlark.Value = starlark.None
	if res.Output.Name != "" {
		name = starlark.String(res.Output.Name)
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":    name,
		"hash":    starlark.String(res.Output.Hash()),
		"value":   value,
		"content": content,
	}), nil
}

func pathJoin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		s, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i+1, arg.Type())
		}
		parts[i] = s
	}
	return starlark.String(path.Join(parts...)), nil
}

func basename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.String(path.Base(p)), nil
}

func splitext(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	ext := path.Ext(p)
	return starlark.Tuple{starlark.String(p[:len(p)-len(ext)]), starlark.String(ext)}, nil
}
