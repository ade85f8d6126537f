package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// spawnMode is how a child task is requested.
type spawnMode int

const (
	// spawnInline evaluates an unclaimed child in the caller's goroutine.
	spawnInline spawnMode = iota

	// spawnScheduled hands the child to the worker pool and waits for it.
	spawnScheduled

	// spawnQueued hands the child to the worker pool without waiting.
	spawnQueued
)

// node is the per-run state of one task identity. Each node has its own lock;
// the run map lock is only held to find or create nodes.
type node struct {
	id  TaskIdentity
	key string

	mu    sync.Mutex
	state TaskState

	// done is closed once the fields below are final.
	done        chan struct{}
	output      *Output
	err         error
	cached      bool
	duration    time.Duration
	diagnostics []string
}

func newNode(id TaskIdentity) *node {
	return &node{
		id:    id,
		key:   id.Key(),
		state: TaskPending,
		done:  make(chan struct{}),
	}
}

// claim moves the node from pending to running. Only the caller that wins the
// claim evaluates the node.
func (n *node) claim() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != TaskPending {
		return false
	}
	n.state = TaskRunning
	return true
}

func (n *node) finish(out *Output, cached bool, diagnostics []string, err error, d time.Duration) {
	n.mu.Lock()
	n.output = out
	n.cached = cached
	n.diagnostics = diagnostics
	n.err = err
	n.duration = d
	if err != nil {
		n.state = TaskFailed
	} else {
		n.state = TaskSucceeded
	}
	n.mu.Unlock()
	close(n.done)
}

func (n *node) snapshot() *TaskReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &TaskReport{
		Identity:    n.id,
		State:       n.state,
		Cached:      n.cached,
		Output:      n.output,
		Err:         n.err,
		Duration:    n.duration,
		Diagnostics: n.diagnostics,
	}
}

// frame is one logical execution path: the chain of tasks from a root down to
// the task currently being evaluated.
type frame struct {
	chain []*node
}

func (f *frame) current() *node {
	return f.chain[len(f.chain)-1]
}

func (f *frame) contains(key string) bool {
	for _, n := range f.chain {
		if n.key == key {
			return true
		}
	}
	return false
}

func (f *frame) child(n *node) *frame {
	chain := make([]*node, len(f.chain), len(f.chain)+1)
	copy(chain, f.chain)
	return &frame{chain: append(chain, n)}
}

// cyclePath renders the chain from the first occurrence of id back to id.
func (f *frame) cyclePath(id TaskIdentity) []string {
	key := id.Key()
	start := 0
	for i, n := range f.chain {
		if n.key == key {
			start = i
			break
		}
	}
	path := make([]string, 0, len(f.chain)-start+1)
	for _, n := range f.chain[start:] {
		path = append(path, n.id.String())
	}
	return append(path, id.String())
}

// run is the state of one build: the task map, the worker slots and the
// waits-for relation used to catch cycles that span execution paths.
type run struct {
	b      *Builder
	id     string
	logger *telemetry.Logger

	// ctx is the build context. Children are evaluated under it rather than
	// under the context of the script that spawned them, which carries that
	// script's timeout.
	ctx context.Context

	mu    sync.Mutex
	nodes map[string]*node

	slots chan struct{}

	waitMu   sync.Mutex
	waitsFor map[string]*node

	wg sync.WaitGroup
}

func newRun(ctx context.Context, b *Builder, runID string) *run {
	return &run{
		b:        b,
		id:       runID,
		ctx:      ctx,
		logger:   b.logger.WithRunID(runID),
		nodes:    make(map[string]*node),
		slots:    make(chan struct{}, b.workers),
		waitsFor: make(map[string]*node),
	}
}

// node returns the node for id, creating it on first use.
func (r *run) node(id TaskIdentity) *node {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[key]; ok {
		return n
	}
	n := newNode(id)
	r.nodes[key] = n
	return n
}

func (r *run) acquire() {
	r.slots <- struct{}{}
}

func (r *run) release() {
	<-r.slots
}

// start dispatches the roots of the run.
func (r *run) start(roots []TaskIdentity) {
	for _, id := range roots {
		n := r.node(id)
		if n.claim() {
			r.dispatch(r.ctx, &frame{chain: []*node{n}})
		}
	}
}

// dispatch evaluates the frame's task on the worker pool.
func (r *run) dispatch(ctx context.Context, f *frame) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.acquire()
		defer r.release()
		r.evaluate(ctx, f)
	}()
}

// request resolves a child task for the task at the top of f.
func (r *run) request(ctx context.Context, f *frame, id TaskIdentity, mode spawnMode) (*node, error) {
	if f.contains(id.Key()) {
		return nil, NewCycleError(f.cyclePath(id))
	}

	n := r.node(id)
	childCtx := telemetry.LinkSpan(r.ctx, ctx)
	switch mode {
	case spawnInline:
		if n.claim() {
			parent := f.current()
			r.setWait(parent, n)
			r.evaluate(childCtx, f.child(n))
			r.clearWait(parent)
			return n, nil
		}
		return n, r.await(ctx, f, n)

	case spawnScheduled:
		if n.claim() {
			r.dispatch(childCtx, f.child(n))
		}
		return n, r.await(ctx, f, n)

	default:
		if n.claim() {
			r.dispatch(childCtx, f.child(n))
		}
		return n, nil
	}
}

// await blocks until n is done. The caller's worker slot is released while it
// waits so that the awaited task can make progress.
func (r *run) await(ctx context.Context, f *frame, n *node) error {
	select {
	case <-n.done:
		return nil
	default:
	}

	waiter := f.current()
	if err := r.addWait(waiter, n); err != nil {
		return err
	}

	r.release()
	var err error
	select {
	case <-n.done:
	case <-ctx.Done():
		err = waitError(ctx, n)
	}
	r.clearWait(waiter)
	r.acquire()
	return err
}

// waitError describes why a wait on n ended before n finished.
func waitError(ctx context.Context, n *node) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewScriptFailure(fmt.Sprintf("timed out waiting for %s", n.id), "", ctx.Err())
	}
	return NewInternalError(fmt.Sprintf("wait for %s cancelled", n.id), ctx.Err())
}

// addWait records that waiter is blocked on target, unless target already
// (transitively) waits on waiter.
func (r *run) addWait(waiter, target *node) error {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()

	path := []string{waiter.id.String(), target.id.String()}
	seen := make(map[string]bool)
	for cur := target; cur != nil; cur = r.waitsFor[cur.key] {
		if cur.key == waiter.key {
			return NewCycleError(path)
		}
		if seen[cur.key] {
			break
		}
		seen[cur.key] = true
		if next := r.waitsFor[cur.key]; next != nil {
			path = append(path, next.id.String())
		}
	}

	r.waitsFor[waiter.key] = target
	return nil
}

func (r *run) setWait(waiter, target *node) {
	r.waitMu.Lock()
	r.waitsFor[waiter.key] = target
	r.waitMu.Unlock()
}

func (r *run) clearWait(waiter *node) {
	r.waitMu.Lock()
	delete(r.waitsFor, waiter.key)
	r.waitMu.Unlock()
}

// reports returns a snapshot of every node, sorted by key.
func (r *run) reports() []*TaskReport {
	r.mu.Lock()
	nodes := make([]*node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	r.mu.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].key < nodes[j].key })
	reports := make([]*TaskReport, 0, len(nodes))
	for _, n := range nodes {
		reports = append(reports, n.snapshot())
	}
	return reports
}

// keys returns the keys of every node in the run.
func (r *run) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
