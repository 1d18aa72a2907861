// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown coordination for the pulse service.
//
// The logger is a thin wrapper over log/slog with JSON output and chained
// fields. Metrics cover the HTTP edge and the analytics pipeline (consumed
// events, parse failures, dropped applies, scorer runs, queue depth).
package observability
