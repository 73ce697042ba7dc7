// Package observability provides logging, metrics, and tracing support for
// the submission dedup service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for section computation, similarity queries and decisions
//   - OpenTelemetry tracing with OTLP or stdout exporters
//   - Context helpers for propagating request and user IDs
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithSubmissionContext(logger, 42, "Publication")
//
// # Metrics
//
// Metrics are registered on construction:
//
//	metrics := observability.NewMetrics("submission_dedup")
//	metrics.RecordSection(observability.OutcomeMatched, 2)
//
// Tests should use NewMetricsWithRegistry with a fresh prometheus.Registry.
//
// # Tracing
//
//	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{Enabled: false})
//	defer tp.Shutdown(ctx)
//	ctx, span := tp.Tracer().Start(ctx, "dedup.compute_matches")
//	defer span.End()
package observability
