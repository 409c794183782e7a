// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown, and optional OpenTelemetry wiring.
//
// The logger is a thin slog wrapper emitting JSON. Metrics cover the HTTP
// surface plus the domain signals that matter operationally: permission
// check outcomes, cache effectiveness, request lifecycle events, and the
// pending-grant backlog the reconciler drains.
package observability
