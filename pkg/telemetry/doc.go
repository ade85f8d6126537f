// Package telemetry provides logging, metrics and tracing for stardrive.
//
// # Logging
//
// Logger wraps zerolog with build-specific helpers:
//
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	taskLog := logger.NewComponentLogger("engine").WithRunID(runID).WithTask(key)
//	taskLog.Info("task executed")
//
// # Metrics
//
// Metrics exposes Prometheus counters and histograms for task outcomes
// (executed, cached, failed), trace validation results and run durations.
// A disabled Metrics value is a no-op, and so is a nil *Metrics.
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer provider. Every build run gets a span
// and every task evaluated within it gets a child span. Exporters: stdout,
// otlp (gRPC) or none.
package telemetry
