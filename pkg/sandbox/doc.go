// Package sandbox runs build scripts written in Starlark.
//
// Each task gets a fresh starlark.Thread and a fresh set of globals; nothing
// is shared between executions. A script reaches the outside world only
// through the builtins bound to its engine.Host:
//
//	read_file(path)              -> string   (tracked)
//	list_directory(path)         -> [string] (tracked)
//	file_type(path)              -> "file" | "directory" | "missing" (tracked)
//	fetch(url)                   -> string   (tracked)
//	markdown_to_html(text)       -> string
//	minify_html(text)            -> string
//	write_output(name, content)
//	run(path, args=[])           -> struct(name, hash, value, content) | None
//	run_task(path, args=[])      -> struct(name, hash, value, content) | None
//	queue_task(path, args=[])
//	path_join(*parts), basename(path), splitext(path)
//
// The task's arguments are bound to the frozen tuple ARGS. If the script
// assigns a global named result, its value becomes part of the task output.
// load() statements are resolved relative to the loading file and read
// through the host, so loaded modules are tracked like any other read.
package sandbox
