// Package engine is the incremental build core of stardrive.
//
// # Overview
//
// Every build script is a task, identified by its script path and its
// argument list (TaskIdentity). While a task runs inside the sandbox, each
// tracked host call it makes (read_file, list_directory, file_type, fetch,
// and the output of every child task it spawns) is appended to a Trace.
// A successful execution persists a CacheEntry holding the script hash, the
// arguments hash, the trace and the declared Output.
//
// On the next run the engine does not execute the script first. It loads the
// entry and re-observes each recorded dependency (verifying trace). If every
// observation still matches, the stored output is reused. Child tasks named
// by the trace are themselves validated or executed at most once per run, and
// a child that re-executes but yields the same output hash keeps its parent
// cached (early cutoff).
//
// # Scheduling
//
// A run owns a map from task key to node. Nodes move from pending to running
// exactly once; concurrent requests for a running node wait on it. A bounded
// pool of worker slots limits how many tasks execute at once, and a task gives
// up its slot while it waits on a child. Three spawning primitives exist:
//
//   - run: evaluate the child inline in the caller's turn and return its output.
//   - run_task: hand the child to the pool and wait for its output.
//   - queue_task: hand the child to the pool and continue; the parent is only
//     complete once the child is.
//
// Cycles are caught two ways: each execution path carries its chain of task
// nodes, and the run keeps a waits-for relation so that two paths waiting on
// each other fail with CYCLE_DETECTED instead of deadlocking.
//
// # Failures
//
// A failed task is never cached. Its failure reaches every task that awaited
// it as DEPENDENCY_FAILED, while unrelated tasks carry on. Build returns a
// *BuildError listing every failed task. Cache entries that cannot be read are
// logged and treated as misses.
package engine
