package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func buildJSON(t *testing.T, dir string) reportView {
	t.Helper()
	out, err := run(t, "build", "-C", dir, "--json")
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	var view reportView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("failed to decode report: %v\n%s", err, out)
	}
	return view
}

func TestInitAndBuild(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "init", dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	for _, f := range scaffold {
		if !strings.Contains(out, "Created: "+f.path) {
			t.Errorf("init output does not mention %s:\n%s", f.path, out)
		}
	}

	first := buildJSON(t, dir)
	if first.Status != string(engine.RunStatusSucceeded) {
		t.Fatalf("first build status = %s, tasks: %+v", first.Status, first.Tasks)
	}
	if first.Executed != 3 {
		t.Errorf("first build executed %d tasks, want 3", first.Executed)
	}

	for _, name := range []string{"index.html", "welcome.html", "about.html"} {
		data, err := os.ReadFile(filepath.Join(dir, "public", name))
		if err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("output %s is empty", name)
		}
	}
	index, _ := os.ReadFile(filepath.Join(dir, "public", "index.html"))
	if !strings.Contains(string(index), "about.html") || !strings.Contains(string(index), "welcome.html") {
		t.Errorf("index does not link the pages: %s", index)
	}

	second := buildJSON(t, dir)
	if second.Executed != 0 {
		t.Errorf("unchanged rebuild executed %d tasks, want 0", second.Executed)
	}

	// Editing one page re-runs that page and the root only.
	if err := os.WriteFile(filepath.Join(dir, "content", "about.md"), []byte("# About us\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third := buildJSON(t, dir)
	if third.Executed != 2 {
		t.Errorf("rebuild after edit executed %d tasks, want 2", third.Executed)
	}
	about, _ := os.ReadFile(filepath.Join(dir, "public", "about.html"))
	if !strings.Contains(string(about), "About us") {
		t.Errorf("about.html was not rebuilt: %s", about)
	}
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("result = 1\n")
	if err := os.WriteFile(filepath.Join(dir, "build.star"), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "init", dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "Kept existing: build.star") {
		t.Errorf("init did not report the kept file:\n%s", out)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "build.star"))
	if !bytes.Equal(data, custom) {
		t.Errorf("build.star was overwritten: %s", data)
	}

	if _, err := run(t, "init", dir, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "build.star"))
	if bytes.Equal(data, custom) {
		t.Error("init --force kept the old build.star")
	}
}

func TestBuildFailureReturnsBuildError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "build.star"), []byte("fail('boom')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "build", "-C", dir)
	if err == nil {
		t.Fatal("expected build to fail")
	}
	if !strings.Contains(out, "Build failed") {
		t.Errorf("summary missing:\n%s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("failure message missing:\n%s", out)
	}
}

func TestHistoryAndInspect(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "init", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	first := buildJSON(t, dir)

	out, err := run(t, "history", "-C", dir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, first.RunID) {
		t.Errorf("history does not list run %s:\n%s", first.RunID, out)
	}

	out, err = run(t, "inspect", "-C", dir)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	for _, want := range []string{"build.star", "directory_listing", "subtask_output"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "inspect", "-C", dir, "--graph")
	if err != nil {
		t.Fatalf("inspect --graph failed: %v", err)
	}
	if !strings.Contains(out, "Tasks: 3") || !strings.Contains(out, "Levels: 2") {
		t.Errorf("unexpected graph summary:\n%s", out)
	}
}

func TestGC(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "init", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	buildJSON(t, dir)

	// A page task built on its own is not reachable from build.star.
	if err := os.WriteFile(filepath.Join(dir, "content", "extra.md"), []byte("# Extra\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "build", "-C", dir, "--no-prune", "pages/page.star", "content/extra.md"); err != nil {
		t.Fatalf("page build failed: %v", err)
	}

	out, err := run(t, "gc", "-C", dir, "--dry-run")
	if err != nil {
		t.Fatalf("gc --dry-run failed: %v", err)
	}
	if !strings.Contains(out, "Would remove 1 of 4") {
		t.Errorf("unexpected dry run output:\n%s", out)
	}

	out, err = run(t, "gc", "-C", dir, "--json")
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	var res gcResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to decode gc result: %v\n%s", err, out)
	}
	if res.Reachable != 3 || res.EntriesRemoved != 1 {
		t.Errorf("gc result = %+v, want 3 reachable and 1 removed", res)
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "init", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	buildJSON(t, dir)

	if _, err := run(t, "clean", "-C", dir, "--output"); err != nil {
		t.Fatalf("clean --output failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "public")); !os.IsNotExist(err) {
		t.Errorf("output directory still exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".stardrive", "cache.db")); err != nil {
		t.Errorf("cache was removed by clean --output: %v", err)
	}

	if _, err := run(t, "clean", "-C", dir); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".stardrive", "cache.db")); !os.IsNotExist(err) {
		t.Errorf("cache still exists: %v", err)
	}
}

func TestCheckOutputDir(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		output  string
		wantErr bool
	}{
		{"sibling", "/site", "/site-out", false},
		{"nested output", "/site", "/site/public", false},
		{"same directory", "/site", "/site", true},
		{"parent of sources", "/site/src", "/site", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOutputDir(tt.source, tt.output)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkOutputDir(%q, %q) error = %v, wantErr %v", tt.source, tt.output, err, tt.wantErr)
			}
		})
	}
}

func TestReachable(t *testing.T) {
	root := engine.MustTaskIdentity("build.star")
	page := engine.MustTaskIdentity("page.star", "a")
	orphan := engine.MustTaskIdentity("page.star", "b")

	entries := []*engine.CacheEntry{
		{Key: root.Key(), Identity: root, Trace: engine.Trace{Records: []engine.DependencyRecord{
			engine.FileReadRecord("build.star", "h1"),
			engine.SubtaskRecord(page, "h2"),
			engine.SubtaskRecord(engine.MustTaskIdentity("gone.star"), "h3"),
		}}},
		{Key: page.Key(), Identity: page},
		{Key: orphan.Key(), Identity: orphan},
	}

	keep := reachable(entries, root)
	if len(keep) != 2 || keep[0] != root.Key() || keep[1] != page.Key() {
		t.Errorf("reachable = %q, want root and page", keep)
	}
}

func TestParseTaskArgs(t *testing.T) {
	got := parseTaskArgs([]string{`"quoted"`, "plain", "3", `{"a":1}`})
	if got[0] != "quoted" || got[1] != "plain" || got[2] != float64(3) {
		t.Errorf("parseTaskArgs = %#v", got)
	}
	if _, ok := got[3].(map[string]interface{}); !ok {
		t.Errorf("object argument = %T, want map", got[3])
	}
}
