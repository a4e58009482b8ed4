// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and health/shutdown plumbing shared by the audit
// engine and its binaries.
//
// Logging uses slog with a JSON handler. The audit lifecycle logs every
// swallowed failure here; nothing in this package ever blocks or fails a
// caller's data mutation.
package observability
