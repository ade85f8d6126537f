package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, ignore ...string) <-chan []string {
	t.Helper()

	w, err := New(Options{Root: root, Ignore: ignore, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan []string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(_ context.Context, changed []string) error {
			calls <- changed
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return calls
}

func waitForCall(t *testing.T, calls <-chan []string) []string {
	t.Helper()
	select {
	case changed := <-calls:
		return changed
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rebuild")
		return nil
	}
}

func TestWatcherTriggersOnWrite(t *testing.T) {
	root := t.TempDir()
	calls := startWatcher(t, root)

	path := filepath.Join(root, "index.md")
	if err := os.WriteFile(path, []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := waitForCall(t, calls)
	found := false
	for _, c := range changed {
		if c == path {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in %v", path, changed)
	}
}

func TestWatcherDebounces(t *testing.T) {
	root := t.TempDir()
	calls := startWatcher(t, root)

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	changed := waitForCall(t, calls)
	if len(changed) < 1 {
		t.Fatalf("expected changes, got none")
	}
}

func TestWatcherIgnoresOutputAndHidden(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "public")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	calls := startWatcher(t, root, out)

	if err := os.WriteFile(filepath.Join(out, "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case changed := <-calls:
		t.Fatalf("unexpected rebuild for %v", changed)
	case <-time.After(300 * time.Millisecond):
	}

	src := filepath.Join(root, "page.md")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed := waitForCall(t, calls)
	for _, c := range changed {
		if c != src {
			t.Errorf("unexpected change %s", c)
		}
	}
}

func TestWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	calls := startWatcher(t, root)

	dir := filepath.Join(root, "posts")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	waitForCall(t, calls)

	path := filepath.Join(dir, "first.md")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case changed := <-calls:
			for _, c := range changed {
				if c == path {
					return
				}
			}
		case <-deadline:
			t.Fatalf("no rebuild for %s", path)
		}
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestHidden(t *testing.T) {
	tests := map[string]bool{
		"/a/.git":      true,
		"/a/b.md":      false,
		".stardrive":   true,
		"content/x.md": false,
	}
	for path, want := range tests {
		if got := hidden(path); got != want {
			t.Errorf("hidden(%q) = %v, want %v", path, got, want)
		}
	}
}
