package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// File names searched for by Load, in order.
var FileNames = []string{"stardrive.cue", "stardrive.yaml", "stardrive.yml"}

// Default returns the configuration used when a project has no file.
func Default() *Config {
	tc := telemetry.DefaultConfig()
	return &Config{
		SourceDir:   ".",
		OutputDir:   "public",
		CachePath:   ".stardrive/cache.db",
		Entry:       "build.star",
		EntryArgs:   []any{},
		Workers:     0,
		TaskTimeout: Duration(5 * time.Minute),
		PruneStale:  true,
		Remote: RemoteConfig{
			Enabled:      true,
			Timeout:      Duration(30 * time.Second),
			UserAgent:    "stardrive",
			MaxBodyBytes: 32 << 20,
		},
		Logging: tc.Logging,
		Tracing: tc.Tracing,
		Metrics: tc.Metrics,
	}
}

// Loader reads project configuration files.
type Loader struct {
	registry  *SchemaRegistry
	cue       *CUEParser
	validator *validator.Validate
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	registry := NewSchemaRegistry()
	return &Loader{
		registry:  registry,
		cue:       NewCUEParser(registry),
		validator: validator.New(),
	}
}

// Load reads the first configuration file found in dir, or returns the
// defaults when there is none. Relative paths are resolved against dir.
func (l *Loader) Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return l.LoadFile(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	cfg := Default()
	cfg.resolve(dir)
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a CUE or YAML configuration file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	var fields map[string]interface{}
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		fields, err = l.cue.ParseFile(path)
	case ".yaml", ".yml":
		fields, err = l.parseYAML(path)
	default:
		return nil, fmt.Errorf("unsupported configuration format: %s", path)
	}
	if err != nil {
		return nil, err
	}

	cfg, err := l.apply(Default(), fields)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", path, err)
	}
	cfg.Path = path
	cfg.resolve(filepath.Dir(path))

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry settings.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			loadErr := &LoadError{Path: cfg.Path}
			for _, fe := range verrs {
				loadErr.Errors = append(loadErr.Errors, ValidationError{
					File:    cfg.Path,
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
			return loadErr
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := cfg.Telemetry("").Validate(); err != nil {
		return &LoadError{Path: cfg.Path, Errors: []ValidationError{{File: cfg.Path, Message: err.Error()}}}
	}
	return nil
}

func (l *Loader) parseYAML(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fields := make(map[string]interface{})
	if err := yaml.Unmarshal(content, &fields); err != nil {
		return nil, &LoadError{Path: path, Errors: []ValidationError{{File: path, Message: err.Error()}}}
	}

	if err := l.registry.ValidateAgainstSchema(SiteSchema, fields); err != nil {
		ves := convertCUEErrors(err)
		for i := range ves {
			ves[i].File = path
			ves[i].Line, ves[i].Column = 0, 0
		}
		return nil, &LoadError{Path: path, Errors: ves}
	}
	return fields, nil
}

// apply overlays fields onto base.
func (l *Loader) apply(base *Config, fields map[string]interface{}) (*Config, error) {
	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{})
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}

	mergeFields(merged, fields)

	data, err = json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.EntryArgs == nil {
		cfg.EntryArgs = []any{}
	}
	return cfg, nil
}

// mergeFields copies src into dst, merging nested objects.
func mergeFields(dst, src map[string]interface{}) {
	for k, v := range src {
		if sv, ok := v.(map[string]interface{}); ok {
			if dv, ok := dst[k].(map[string]interface{}); ok {
				mergeFields(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.SourceDir = abs(c.SourceDir)
	c.OutputDir = abs(c.OutputDir)
	c.CachePath = abs(c.CachePath)
}

// Load reads the configuration of the project in dir with a new Loader.
func Load(dir string) (*Config, error) {
	return NewLoader().Load(dir)
}
