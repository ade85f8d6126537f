package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/stardrive/pkg/telemetry"
)

// Config is the project configuration of a site.
type Config struct {
	// SourceDir is the project root that scripts and tracked reads see.
	SourceDir string `json:"source_dir" yaml:"source_dir" validate:"required"`

	// OutputDir receives the declared outputs of succeeded tasks.
	OutputDir string `json:"output_dir" yaml:"output_dir" validate:"required"`

	// CachePath is the SQLite database holding traces and objects.
	CachePath string `json:"cache_path" yaml:"cache_path" validate:"required"`

	// Entry is the root build script, relative to SourceDir.
	Entry string `json:"entry" yaml:"entry" validate:"required,endswith=.star"`

	// EntryArgs are the arguments of the root task.
	EntryArgs []any `json:"entry_args" yaml:"entry_args"`

	// Workers bounds concurrently executing tasks. Zero means one per CPU.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0,lte=1024"`

	// TaskTimeout bounds the wall time of one script execution.
	TaskTimeout Duration `json:"task_timeout" yaml:"task_timeout" validate:"gte=0"`

	// MaxSteps bounds the Starlark steps of one execution. Zero is unlimited.
	MaxSteps uint64 `json:"max_steps" yaml:"max_steps"`

	// PruneStale evicts entries a fully successful run did not visit.
	PruneStale bool `json:"prune_stale" yaml:"prune_stale"`

	Remote  RemoteConfig            `json:"remote" yaml:"remote"`
	Logging telemetry.LoggingConfig `json:"logging" yaml:"logging"`
	Tracing telemetry.TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics telemetry.MetricsConfig `json:"metrics" yaml:"metrics"`

	// Path is the file the configuration was loaded from, empty for defaults.
	Path string `json:"-" yaml:"-"`
}

// RemoteConfig configures the fetch host function.
type RemoteConfig struct {
	// Enabled allows scripts to fetch remote inputs.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Timeout bounds a single request.
	Timeout Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`

	// UserAgent is sent with every request.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// DefaultTTL is the freshness lifetime of responses without caching
	// headers.
	DefaultTTL Duration `json:"default_ttl" yaml:"default_ttl" validate:"gte=0"`

	// MaxBodyBytes caps the size of a response body.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" validate:"gte=0"`
}

// Telemetry returns the telemetry configuration for this site.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Logging = c.Logging
	tc.Tracing = c.Tracing
	tc.Metrics = c.Metrics
	return tc
}

// Duration is a time.Duration written as a string such as "90s" in
// configuration files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML encodes d as a duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ValidationError describes one problem found in a configuration file.
type ValidationError struct {
	// File is the path to the file containing the error.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "remote.timeout").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
		}
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// LoadError collects the validation errors of a configuration file.
type LoadError struct {
	Path   string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid configuration %s: %s", e.Path, e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid configuration %s: %d errors", e.Path, len(e.Errors))
	for _, ve := range e.Errors {
		sb.WriteString("\n  ")
		sb.WriteString(ve.Error())
	}
	return sb.String()
}
