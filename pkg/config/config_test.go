package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("expected no config path, got %s", cfg.Path)
	}
	if cfg.Entry != "build.star" {
		t.Errorf("Entry = %s, want build.star", cfg.Entry)
	}
	if cfg.OutputDir != filepath.Join(dir, "public") {
		t.Errorf("OutputDir = %s", cfg.OutputDir)
	}
	if cfg.SourceDir != dir {
		t.Errorf("SourceDir = %s, want %s", cfg.SourceDir, dir)
	}
	if cfg.TaskTimeout.Std() != 5*time.Minute {
		t.Errorf("TaskTimeout = %s", cfg.TaskTimeout)
	}
}

func TestLoadCUE(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stardrive.cue", `
entry:        "site.star"
entry_args:   ["en", 2]
output_dir:   "/tmp/site-out"
workers:      4
task_timeout: "90s"
remote: user_agent: "test-agent"
logging: level: "debug"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != filepath.Join(dir, "stardrive.cue") {
		t.Errorf("Path = %s", cfg.Path)
	}
	if cfg.Entry != "site.star" {
		t.Errorf("Entry = %s", cfg.Entry)
	}
	if len(cfg.EntryArgs) != 2 || cfg.EntryArgs[0] != "en" {
		t.Errorf("EntryArgs = %v", cfg.EntryArgs)
	}
	if cfg.OutputDir != "/tmp/site-out" {
		t.Errorf("absolute OutputDir should be kept, got %s", cfg.OutputDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.TaskTimeout.Std() != 90*time.Second {
		t.Errorf("TaskTimeout = %s", cfg.TaskTimeout)
	}
	if cfg.Remote.UserAgent != "test-agent" {
		t.Errorf("Remote.UserAgent = %s", cfg.Remote.UserAgent)
	}
	// Untouched nested fields keep their defaults.
	if !cfg.Remote.Enabled || cfg.Remote.Timeout.Std() != 30*time.Second {
		t.Errorf("expected remote defaults to survive, got %+v", cfg.Remote)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stardrive.yaml", `
entry: pages.star
cache_path: cache/db.sqlite
prune_stale: false
remote:
  enabled: false
  default_ttl: 10m
metrics:
  enabled: true
  listen_address: ":9100"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Entry != "pages.star" {
		t.Errorf("Entry = %s", cfg.Entry)
	}
	if cfg.CachePath != filepath.Join(dir, "cache/db.sqlite") {
		t.Errorf("CachePath = %s", cfg.CachePath)
	}
	if cfg.PruneStale {
		t.Error("expected PruneStale to be false")
	}
	if cfg.Remote.Enabled {
		t.Error("expected remote to be disabled")
	}
	if cfg.Remote.DefaultTTL.Std() != 10*time.Minute {
		t.Errorf("DefaultTTL = %s", cfg.Remote.DefaultTTL)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9100" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadPrefersCUE(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stardrive.cue", `entry: "from-cue.star"`)
	writeFile(t, dir, "stardrive.yaml", `entry: from-yaml.star`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Entry != "from-cue.star" {
		t.Errorf("Entry = %s, want from-cue.star", cfg.Entry)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "cue syntax", file: "stardrive.cue", content: "entry: {", want: "invalid configuration"},
		{name: "cue bad entry", file: "stardrive.cue", content: `entry: "site.py"`, want: "entry"},
		{name: "cue unknown field", file: "stardrive.cue", content: `colour: "blue"`, want: "colour"},
		{name: "cue bad duration", file: "stardrive.cue", content: `task_timeout: "soon"`, want: "task_timeout"},
		{name: "cue negative workers", file: "stardrive.cue", content: `workers: -1`, want: "workers"},
		{name: "yaml syntax", file: "stardrive.yaml", content: "entry: [", want: "invalid configuration"},
		{name: "yaml bad level", file: "stardrive.yaml", content: "logging:\n  level: loud\n", want: "level"},
		{name: "yaml unknown field", file: "stardrive.yaml", content: "colour: blue\n", want: "colour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stardrive.toml", `entry = "x.star"`)

	if _, err := NewLoader().LoadFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestTemplateLoads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stardrive.cue", Template)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Entry != "build.star" {
		t.Errorf("Entry = %s", cfg.Entry)
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("got %s", d)
	}
	if err := d.UnmarshalJSON([]byte(`1000`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if d.Std() != time.Microsecond {
		t.Errorf("got %s", d)
	}
	if err := d.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Error("expected error for bad duration")
	}
	out, _ := Duration(2 * time.Second).MarshalJSON()
	if string(out) != `"2s"` {
		t.Errorf("MarshalJSON() = %s", out)
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()

	if names := sr.ListSchemas(); len(names) != 1 || names[0] != SiteSchema {
		t.Errorf("ListSchemas() = %v", names)
	}
	if err := sr.ValidateAgainstSchema(SiteSchema, map[string]interface{}{"workers": 2}); err != nil {
		t.Errorf("expected valid data, got %v", err)
	}
	if err := sr.ValidateAgainstSchema(SiteSchema, map[string]interface{}{"workers": "two"}); err == nil {
		t.Error("expected error for string workers")
	}
	if err := sr.ValidateAgainstSchema("missing", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
	if err := sr.RegisterSchema("broken", "#X", "#X: {"); err == nil {
		t.Error("expected compile error")
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := ValidationError{File: "stardrive.cue", Line: 3, Column: 2, Path: "entry", Message: "bad"}
	if got := ve.Error(); got != "stardrive.cue:3:2: entry: bad" {
		t.Errorf("Error() = %q", got)
	}
}
