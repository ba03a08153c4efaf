// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry export.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("item_id", id).Info("entity added")
//
// Context-aware logging:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).WithError(err).Error("censorship failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAudit("Edited", "AUser")
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "collector:4317",
//		ServiceName: "ledger",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers)
//
// FromContext adds trace_id and span_id when ctx carries a span.
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/audit: Audit counters
//   - pkg/lifecycle: Operation counters and durations
package observability
