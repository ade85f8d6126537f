// Package watch triggers rebuilds when files under a project change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// RebuildFunc is called with the changed paths once changes settle.
type RebuildFunc func(ctx context.Context, changed []string) error

// Options configures a Watcher.
type Options struct {
	// Root is the directory watched recursively.
	Root string

	// Ignore lists paths whose changes never trigger a rebuild, such as
	// the output directory and the cache database.
	Ignore []string

	Debounce time.Duration
	Logger   *telemetry.Logger
}

// Watcher watches a project tree.
type Watcher struct {
	opts    Options
	ignore  []string
	watcher *fsnotify.Watcher
	logger  *telemetry.Logger
}

// New creates a Watcher and registers every visible directory under Root.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNopLogger()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	opts.Root = root

	ignore := make([]string, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ignored path %s: %w", p, err)
		}
		ignore = append(ignore, abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		opts:    opts,
		ignore:  ignore,
		watcher: fw,
		logger:  opts.Logger.NewComponentLogger("watch"),
	}

	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers debounced changes to fn until ctx is cancelled. Errors
// returned by fn are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, fn RebuildFunc) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	w.logger.WithField("root", w.opts.Root).Info("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.WithError(err).Warn("Failed to watch new directory")
					}
				}
			}

			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("File changed")

			pending[event.Name] = true
			timer.Reset(w.opts.Debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)

			if err := fn(ctx, changed); err != nil {
				w.logger.WithError(err).Warn("Rebuild failed")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// Close stops watching without running.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// addTree registers dir and its visible subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root && (hidden(path) || w.ignored(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return !hidden(event.Name) && !w.ignored(event.Name)
}

func (w *Watcher) ignored(path string) bool {
	for _, p := range w.ignore {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// hidden reports whether the last element of path starts with a dot.
func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
