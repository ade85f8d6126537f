package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" json:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" json:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output" json:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller"`

	// TimeFormat specifies the timestamp format (unix, rfc3339, etc.).
	TimeFormat string `yaml:"time_format" json:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the exporter endpoint for otlp.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int `yaml:"max_export_batch_size" json:"max_export_batch_size"`

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout"`

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address" json:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path" json:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace" json:"namespace"`

	// DefaultHistogramBuckets are the default latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"buckets" json:"buckets"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stardrive",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "stardrive",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}
