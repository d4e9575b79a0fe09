// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for trialchat.
//
// # Logging
//
// NewLogger builds a slog logger whose handler redacts API keys, bearer
// tokens and database passwords before records are written. Components take
// the *slog.Logger returned by Logger.Slog and scope it with
// logger.With("component", ...). Request and run IDs travel on the context
// via AddRequestID and AddRunID.
//
// # Metrics
//
// NewMetrics registers the trialchat_* collectors on a caller-supplied
// registry, which the gateway exposes on /metrics. A nil *Metrics records
// nothing, so packages can accept one optionally.
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// is a no-op otherwise. Span names are agent.run, llm.request, tool.execute,
// mcp.call and http.request.
package observability
