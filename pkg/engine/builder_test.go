package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/sandbox"
	"github.com/openfroyo/stardrive/pkg/stores"
	"github.com/openfroyo/stardrive/pkg/transforms"
)

// site is a project directory with its own cache database.
type site struct {
	t       *testing.T
	dir     string
	out     string
	store   *stores.SQLiteStore
	cache   engine.CacheStore
	remote  engine.RemoteFetcher
	workers int
	prune   bool
	timeout time.Duration
}

func newSite(t *testing.T, files map[string]string) *site {
	t.Helper()

	store, err := stores.Open(context.Background(), stores.Config{
		Path: filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	s := &site{
		t:       t,
		dir:     t.TempDir(),
		out:     filepath.Join(t.TempDir(), "public"),
		store:   store,
		cache:   store,
		workers: 4,
		timeout: 20 * time.Second,
	}
	for name, content := range files {
		s.write(name, content)
	}
	return s
}

func (s *site) write(name, content string) {
	s.t.Helper()
	path := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.t.Fatal(err)
	}
}

func (s *site) remove(name string) {
	s.t.Helper()
	if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(name))); err != nil {
		s.t.Fatal(err)
	}
}

func (s *site) build(roots ...engine.TaskIdentity) (*engine.RunReport, error) {
	s.t.Helper()
	if len(roots) == 0 {
		roots = []engine.TaskIdentity{engine.MustTaskIdentity("build.star")}
	}

	b, err := engine.NewBuilder(engine.Options{
		FS:         engine.NewOSFileSystem(s.dir),
		Cache:      s.cache,
		Objects:    s.store,
		Executor:   sandbox.NewExecutor(sandbox.Options{Timeout: s.timeout}),
		Transforms: transforms.New(transforms.DefaultOptions()),
		Remote:     s.remote,
		History:    s.store,
		Pruner:     s.store,
		PruneStale: s.prune,
		OutputDir:  s.out,
		Workers:    s.workers,
	})
	if err != nil {
		s.t.Fatalf("failed to create builder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return b.Build(ctx, roots)
}

func (s *site) mustBuild(roots ...engine.TaskIdentity) *engine.RunReport {
	s.t.Helper()
	report, err := s.build(roots...)
	if err != nil {
		s.t.Fatalf("build failed: %v", err)
	}
	return report
}

func task(t *testing.T, report *engine.RunReport, script string, args ...any) *engine.TaskReport {
	t.Helper()
	tr := report.Task(engine.MustTaskIdentity(script, args...))
	if tr == nil {
		t.Fatalf("task %s not in report", script)
	}
	return tr
}

func value(t *testing.T, report *engine.RunReport, script string, args ...any) any {
	t.Helper()
	tr := task(t, report, script, args...)
	if tr.Output == nil {
		t.Fatalf("task %s has no output", script)
	}
	return tr.Output.Value
}

func TestRebuildsOnlyWhatChanged(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `result = read_file("data.txt").upper()` + "\n",
		"data.txt":   "hello",
	})

	r := s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != "HELLO" {
		t.Fatalf("first build: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}

	r = s.mustBuild()
	if r.Cached != 1 || r.Executed != 0 {
		t.Errorf("unchanged build: executed=%d cached=%d", r.Executed, r.Cached)
	}
	if value(t, r, "build.star") != "HELLO" {
		t.Errorf("cached value = %v", value(t, r, "build.star"))
	}

	s.write("unrelated.txt", "noise")
	if r = s.mustBuild(); r.Executed != 0 {
		t.Error("a file the task never read caused a rebuild")
	}

	s.write("data.txt", "bye")
	r = s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != "BYE" {
		t.Errorf("after input change: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}

	s.write("build.star", `result = read_file("data.txt")`+"\n")
	r = s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != "bye" {
		t.Errorf("after script change: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}
}

func TestLoadedModuleChangeRebuildsImporter(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star":    `load("lib/util.star", "double")` + "\nresult = double(1)\n",
		"lib/util.star": "def double(n):\n    return n * 2\n",
	})

	if v := value(t, s.mustBuild(), "build.star"); v != int64(2) {
		t.Fatalf("value = %#v, want 2", v)
	}
	if r := s.mustBuild(); r.Executed != 0 {
		t.Errorf("unchanged module: executed=%d", r.Executed)
	}

	s.write("lib/util.star", "def double(n):\n    return n + n\n")
	r := s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != int64(2) {
		t.Errorf("after module edit: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}

	s.write("lib/util.star", "def double(n):\n    return n * 3\n")
	r = s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != int64(3) {
		t.Errorf("after behaviour change: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}
}

func TestStructuralDependencies(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
names = list_directory("src")
extra = ""
if "c.txt" in names:
    extra = read_file("src/c.txt")
result = {"names": names, "extra": extra, "draft": file_type("draft.md")}
`,
		"src/a.txt":   "a",
		"src/.hidden": "h",
	})

	want := func(r *engine.RunReport, names []string, extra, draft string) {
		t.Helper()
		v, ok := value(t, r, "build.star").(map[string]any)
		if !ok {
			t.Fatalf("unexpected value %#v", value(t, r, "build.star"))
		}
		got, _ := v["names"].([]any)
		if len(got) != len(names) {
			t.Fatalf("names = %v, want %v", got, names)
		}
		for i := range names {
			if got[i] != names[i] {
				t.Errorf("names[%d] = %v, want %s", i, got[i], names[i])
			}
		}
		if v["extra"] != extra || v["draft"] != draft {
			t.Errorf("extra=%v draft=%v, want %q %q", v["extra"], v["draft"], extra, draft)
		}
	}

	want(s.mustBuild(), []string{"a.txt"}, "", "missing")

	s.write("src/c.txt", "see")
	r := s.mustBuild()
	if r.Executed != 1 {
		t.Error("a new file in a listed directory did not cause a rebuild")
	}
	want(r, []string{"a.txt", "c.txt"}, "see", "missing")

	s.write("src/c.txt", "sea")
	want(s.mustBuild(), []string{"a.txt", "c.txt"}, "sea", "missing")

	s.write("src/a.txt", "changed content, same listing")
	if r = s.mustBuild(); r.Executed != 0 {
		t.Error("content of an unread file caused a rebuild")
	}

	s.write("src/.other", "hidden")
	if r = s.mustBuild(); r.Executed != 0 {
		t.Error("a dot file changed the listing")
	}

	s.write("draft.md", "# Draft")
	want(s.mustBuild(), []string{"a.txt", "c.txt"}, "sea", "file")

	s.remove("src/c.txt")
	want(s.mustBuild(), []string{"a.txt"}, "", "file")
}

func TestEarlyCutoff(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `result = run("lib.star").value + "!"` + "\n",
		"lib.star":   `result = read_file("data.txt").strip()` + "\n",
		"data.txt":   "hello",
	})
	s.mustBuild()

	s.write("data.txt", "hello\n\n")
	r := s.mustBuild()
	if tr := task(t, r, "lib.star"); tr.Cached {
		t.Error("lib.star should have re-executed")
	}
	if tr := task(t, r, "build.star"); !tr.Cached {
		t.Error("build.star should be reused when its child output is unchanged")
	}
	if value(t, r, "build.star") != "hello!" {
		t.Errorf("value = %v", value(t, r, "build.star"))
	}

	s.write("data.txt", "world")
	r = s.mustBuild()
	if r.Executed != 2 || value(t, r, "build.star") != "world!" {
		t.Errorf("after output change: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}
}

func TestValidationStopsAtFirstMismatch(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
result = run("a.star").value
if result == "a":
    result += run("b.star").value
`,
		"a.star": `result = read_file("a.txt")` + "\n",
		"b.star": `result = "b"` + "\n",
		"a.txt":  "a",
	})
	if v := value(t, s.mustBuild(), "build.star"); v != "ab" {
		t.Fatalf("value = %#v, want ab", v)
	}

	s.write("a.txt", "z")
	r := s.mustBuild()
	if value(t, r, "build.star") != "z" {
		t.Errorf("value = %v, want z", value(t, r, "build.star"))
	}
	if tr := r.Task(engine.MustTaskIdentity("b.star")); tr != nil {
		t.Error("b.star was evaluated although the changed a.star output invalidated the trace before it")
	}
}

func diamond() map[string]string {
	return map[string]string{
		"build.star": `
b = run_task("b.star")
c = run_task("c.star")
result = b.value + c.value
`,
		"b.star": `result = run_task("d.star").value + 1` + "\n",
		"c.star": `result = run("d.star").value + 2` + "\n",
		"d.star": `
print("d ran")
result = 10
`,
	}
}

func TestEachTaskRunsOncePerBuild(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		s := newSite(t, diamond())
		s.workers = workers

		r := s.mustBuild(
			engine.MustTaskIdentity("build.star"),
			engine.MustTaskIdentity("d.star"),
			engine.MustTaskIdentity("build.star"),
		)
		if len(r.Tasks) != 4 || r.Executed != 4 {
			t.Errorf("workers=%d: %d tasks, %d executed, want 4 and 4", workers, len(r.Tasks), r.Executed)
		}
		if got := task(t, r, "d.star").Diagnostics; len(got) != 1 || got[0] != "d ran" {
			t.Errorf("workers=%d: d.star diagnostics = %v", workers, got)
		}
		if v := value(t, r, "build.star"); v != int64(23) {
			t.Errorf("workers=%d: value = %#v, want 23", workers, v)
		}
	}
}

func TestRepeatedBuildIsCached(t *testing.T) {
	s := newSite(t, diamond())
	first := s.mustBuild()

	second := s.mustBuild()
	if second.Executed != 0 || second.Cached != 4 {
		t.Errorf("second build executed=%d cached=%d, want 0 and 4", second.Executed, second.Cached)
	}
	for _, tr := range first.Tasks {
		again := second.Task(tr.Identity)
		if again == nil || again.Output.Hash() != tr.Output.Hash() {
			t.Errorf("output of %s changed between identical builds", tr.Identity)
		}
	}
}

func TestArgumentsDistinguishTasks(t *testing.T) {
	s := newSite(t, map[string]string{
		"count.star": `
n = ARGS[0]
result = 0 if n == 0 else run("count.star", [n - 1]).value + 1
`,
	})

	r := s.mustBuild(engine.MustTaskIdentity("count.star", 3))
	if v := value(t, r, "count.star", 3); v != int64(3) {
		t.Errorf("value = %#v, want 3", v)
	}
	if len(r.Tasks) != 4 {
		t.Errorf("got %d tasks, want 4", len(r.Tasks))
	}
}

func TestByteStringsCannotNameTasks(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
a = run("child.star", [read_file("a.bin")])
b = run("child.star", [read_file("b.bin")])
result = [a.value, b.value]
`,
		"child.star": "result = len(ARGS[0])\n",
		"raw.star":   `result = read_file("a.bin")` + "\n",
		"a.bin":      "\xff",
		"b.bin":      "\xfe",
	})

	r, err := s.build()
	if err == nil {
		t.Fatal("expected a failure for a non-UTF-8 argument")
	}
	if len(r.Tasks) != 1 {
		t.Errorf("got %d tasks, want only the root", len(r.Tasks))
	}
	if root := task(t, r, "build.star"); !strings.Contains(root.Err.Error(), "not valid UTF-8") {
		t.Errorf("root err = %v", root.Err)
	}

	r, err = s.build(engine.MustTaskIdentity("raw.star"))
	if err == nil {
		t.Fatal("expected a failure for a non-UTF-8 result")
	}
	raw := task(t, r, "raw.star")
	if engine.ErrorCode(raw.Err) != engine.ErrCodeScriptFailure || !strings.Contains(raw.Err.Error(), "not valid UTF-8") {
		t.Errorf("raw.star err = %v", raw.Err)
	}
}

func TestCycles(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		roots []engine.TaskIdentity
		cycle []string
	}{
		{
			name:  "self",
			files: map[string]string{"a.star": `run("a.star")` + "\n"},
			roots: []engine.TaskIdentity{engine.MustTaskIdentity("a.star")},
			cycle: []string{"a.star"},
		},
		{
			name: "indirect",
			files: map[string]string{
				"a.star": `run_task("b.star")` + "\n",
				"b.star": `run("a.star")` + "\n",
			},
			roots: []engine.TaskIdentity{engine.MustTaskIdentity("a.star")},
			cycle: []string{"a.star", "b.star"},
		},
		{
			name: "across roots",
			files: map[string]string{
				"x.star": `run_task("y.star")` + "\n",
				"y.star": `run_task("x.star")` + "\n",
			},
			roots: []engine.TaskIdentity{
				engine.MustTaskIdentity("x.star"),
				engine.MustTaskIdentity("y.star"),
			},
			cycle: []string{"x.star", "y.star"},
		},
		{
			name: "queued",
			files: map[string]string{
				"a.star": `queue_task("b.star")` + "\n",
				"b.star": `run_task("a.star")` + "\n",
			},
			roots: []engine.TaskIdentity{engine.MustTaskIdentity("a.star")},
			cycle: []string{"a.star", "b.star"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSite(t, tt.files)
			s.workers = 1

			r, err := s.build(tt.roots...)
			var buildErr *engine.BuildError
			if !errors.As(err, &buildErr) {
				t.Fatalf("expected BuildError, got %v", err)
			}
			for _, script := range tt.cycle {
				tr := task(t, r, script)
				if tr.State != engine.TaskFailed || !engine.IsCycle(tr.Err) {
					t.Errorf("%s: state=%s err=%v, want a cycle failure", script, tr.State, tr.Err)
				}
			}

			// Nothing involved in a cycle is cached.
			entries, _, err := s.store.ListEntries(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("%d entries cached after a cycle", len(entries))
			}
		})
	}
}

func TestFailureIsolation(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
queue_task("b.star")
queue_task("c.star")
result = "done"
`,
		"b.star": `fail("b is broken")` + "\n",
		"c.star": `
write_output("c.html", "<p>c</p>")
result = "c"
`,
	})

	r, err := s.build()
	var buildErr *engine.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if r.Status != engine.RunStatusFailed {
		t.Errorf("status = %s", r.Status)
	}

	root := task(t, r, "build.star")
	if root.State != engine.TaskFailed || engine.ErrorCode(root.Err) != engine.ErrCodeDependencyFailed {
		t.Errorf("root: state=%s err=%v", root.State, root.Err)
	}
	b := task(t, r, "b.star")
	if engine.ErrorCode(b.Err) != engine.ErrCodeScriptFailure || !strings.Contains(b.Err.Error(), "b is broken") {
		t.Errorf("b.star err = %v", b.Err)
	}
	var engErr *engine.EngineError
	if !errors.As(b.Err, &engErr) || !strings.Contains(engErr.Diagnostic, "b.star") {
		t.Errorf("b.star diagnostic = %+v", engErr)
	}
	if c := task(t, r, "c.star"); c.State != engine.TaskSucceeded {
		t.Errorf("sibling c.star: state=%s err=%v", c.State, c.Err)
	}
	if _, err := os.Stat(filepath.Join(s.out, "c.html")); err != nil {
		t.Errorf("output of the succeeded sibling was not written: %v", err)
	}

	s.write("b.star", `result = "b"`+"\n")
	r = s.mustBuild()
	if !task(t, r, "c.star").Cached {
		t.Error("c.star should be reused")
	}
	if task(t, r, "build.star").Cached || task(t, r, "b.star").Cached {
		t.Error("failed tasks must not be cached")
	}
}

func TestRunTaskFailurePropagates(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `result = run_task("missing.star").value` + "\n",
	})

	r, err := s.build()
	if err == nil {
		t.Fatal("expected failure")
	}
	root := task(t, r, "build.star")
	if !engine.IsDependencyFailed(root.Err) || !engine.IsNotFound(root.Err) {
		t.Errorf("root err = %v, want DEPENDENCY_FAILED wrapping NOT_FOUND", root.Err)
	}

	s.write("missing.star", "result = 1\n")
	r = s.mustBuild()
	if v := value(t, r, "build.star"); v == nil {
		t.Error("root has no value after the child was added")
	}
}

// corruptStore reports the entry of one key as undecodable.
type corruptStore struct {
	*stores.SQLiteStore

	mu      sync.Mutex
	key     string
	reports int
}

func (c *corruptStore) GetEntry(ctx context.Context, key string) (*engine.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.key {
		c.reports++
		return nil, engine.NewCacheCorruptError(key, errors.New("bad json"))
	}
	return c.SQLiteStore.GetEntry(ctx, key)
}

// slowRemote answers after a fixed delay regardless of cancellation.
type slowRemote struct {
	delay time.Duration
}

func (f slowRemote) Fetch(_ context.Context, url string) (*engine.RemoteContent, error) {
	time.Sleep(f.delay)
	return &engine.RemoteContent{URL: url, Data: []byte("late")}, nil
}

func TestTimeoutWhileWaitingOnChild(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `result = run_task("slow.star").value` + "\n",
		"slow.star":  `result = fetch("https://example.com/slow")` + "\n",
	})
	s.remote = slowRemote{delay: time.Second}
	s.timeout = 200 * time.Millisecond

	r, err := s.build()
	if err == nil {
		t.Fatal("expected the root to time out")
	}
	root := task(t, r, "build.star")
	if code := engine.ErrorCode(root.Err); code != engine.ErrCodeScriptFailure {
		t.Errorf("root code = %s, want %s: %v", code, engine.ErrCodeScriptFailure, root.Err)
	}
	var engErr *engine.EngineError
	if !errors.As(root.Err, &engErr) || engErr.Task != "build.star([])" {
		t.Errorf("root error has no task: %+v", engErr)
	}
	if !strings.Contains(root.Err.Error(), "timed out waiting for slow.star") {
		t.Errorf("root err = %v", root.Err)
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `result = run("leaf.star").value * 2` + "\n",
		"leaf.star":  "result = 21\n",
	})
	s.mustBuild()

	cs := &corruptStore{SQLiteStore: s.store, key: engine.MustTaskIdentity("leaf.star").Key()}
	s.cache = cs

	r := s.mustBuild()
	if task(t, r, "leaf.star").Cached {
		t.Error("a corrupt entry should be treated as a miss")
	}
	if !task(t, r, "build.star").Cached {
		t.Error("re-executing leaf.star with the same output should keep the root cached")
	}
	if v := value(t, r, "build.star"); v != int64(42) {
		t.Errorf("value = %#v", v)
	}
	if cs.reports == 0 {
		t.Error("the corrupt entry was never read")
	}
}

func TestOutputsAreMaterialised(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
page = run("page.star", ["Hello"])
write_output("copy/index.html", page.content)
result = page.name
`,
		"page.star": `write_output("index.html", minify_html(markdown_to_html("# " + ARGS[0])))` + "\n",
	})

	r := s.mustBuild()
	if v := value(t, r, "build.star"); v != "index.html" {
		t.Errorf("child output name = %#v", v)
	}
	for _, name := range []string{"index.html", "copy/index.html"} {
		data, err := os.ReadFile(filepath.Join(s.out, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
		if !strings.Contains(string(data), "Hello</h1>") {
			t.Errorf("%s = %q", name, data)
		}
	}
	if len(r.Written) != 2 {
		t.Errorf("Written = %v", r.Written)
	}

	r = s.mustBuild()
	if len(r.Written) != 0 {
		t.Errorf("unchanged outputs were rewritten: %v", r.Written)
	}

	if err := os.Remove(filepath.Join(s.out, "index.html")); err != nil {
		t.Fatal(err)
	}
	r = s.mustBuild()
	if r.Executed != 0 || len(r.Written) != 1 {
		t.Errorf("deleted output: executed=%d written=%v", r.Executed, r.Written)
	}
}

func TestOutputWriteFailureFailsTheBuild(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `write_output("index.html", "<p>hi</p>")` + "\n",
	})
	if err := os.WriteFile(s.out, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := s.build()
	var buildErr *engine.BuildError
	if !errors.As(err, &buildErr) || buildErr.Err == nil {
		t.Fatalf("expected BuildError with an output error, got %v", err)
	}
	if r.Status != engine.RunStatusFailed || r.Failed != 0 || r.OutputError == "" {
		t.Errorf("status=%s failed=%d output error=%q", r.Status, r.Failed, r.OutputError)
	}
	if tr := task(t, r, "build.star"); tr.State != engine.TaskSucceeded {
		t.Errorf("task state = %s", tr.State)
	}

	if err := os.Remove(s.out); err != nil {
		t.Fatal(err)
	}
	r = s.mustBuild()
	if r.Executed != 0 || len(r.Written) != 1 {
		t.Errorf("after fixing the output directory: executed=%d written=%v", r.Executed, r.Written)
	}
}

func TestPruneStaleEntries(t *testing.T) {
	s := newSite(t, map[string]string{
		"build.star": `
if file_type("flag") == "file":
    run("a.star")
else:
    run("b.star")
`,
		"a.star": "result = 'a'\n",
		"b.star": "result = 'b'\n",
		"flag":   "",
	})
	s.prune = true

	s.mustBuild()
	s.remove("flag")
	s.mustBuild()

	entries, _, err := s.store.ListEntries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool)
	for _, e := range entries {
		got[e.Identity.Script] = true
	}
	if len(entries) != 2 || !got["build.star"] || !got["b.star"] {
		t.Errorf("entries after prune = %v", got)
	}
}

func TestRunHistory(t *testing.T) {
	s := newSite(t, map[string]string{"build.star": "result = 1\n"})
	s.mustBuild()
	s.write("build.star", "fail('x')\n")
	_, _ = s.build()

	runs, err := s.store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Status != string(engine.RunStatusFailed) || runs[1].Status != string(engine.RunStatusSucceeded) {
		t.Errorf("statuses = %s, %s", runs[0].Status, runs[1].Status)
	}
	failures, err := s.store.ListRunFailures(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].Code != engine.ErrCodeScriptFailure {
		t.Errorf("failures = %+v", failures)
	}
}

// staticRemote serves fixed bodies by URL.
type staticRemote struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  int
}

func (f *staticRemote) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *staticRemote) Fetch(_ context.Context, url string) (*engine.RemoteContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.bodies[url]
	if !ok {
		return nil, engine.NewNotFoundError(url)
	}
	return &engine.RemoteContent{URL: url, Data: []byte(body)}, nil
}

func TestRemoteInputs(t *testing.T) {
	const url = "https://example.com/feed.json"
	remote := &staticRemote{bodies: map[string]string{url: `{"n": 1}`}}

	s := newSite(t, map[string]string{
		"build.star": `result = json.decode(fetch("` + url + `"))["n"]` + "\n",
	})
	s.remote = remote

	if v := value(t, s.mustBuild(), "build.star"); v != int64(1) {
		t.Errorf("value = %#v", v)
	}
	if r := s.mustBuild(); r.Executed != 0 {
		t.Error("unchanged remote input caused a rebuild")
	}

	remote.set(url, `{"n": 2}`)
	r := s.mustBuild()
	if r.Executed != 1 || value(t, r, "build.star") != int64(2) {
		t.Errorf("after remote change: executed=%d value=%v", r.Executed, value(t, r, "build.star"))
	}

	s.remote = nil
	if _, err := s.build(); err == nil {
		t.Error("expected a failure with remote inputs disabled")
	}
}

func TestNewBuilderRequiresDependencies(t *testing.T) {
	if _, err := engine.NewBuilder(engine.Options{}); engine.ErrorCode(err) != engine.ErrCodeInvalidArgument {
		t.Errorf("NewBuilder(empty) error = %v", err)
	}

	s := newSite(t, nil)
	r, err := s.build()
	if err == nil {
		t.Fatal("expected a failure for a missing root script")
	}
	if root := task(t, r, "build.star"); !engine.IsNotFound(root.Err) {
		t.Errorf("root err = %v, want NOT_FOUND", root.Err)
	}
}
