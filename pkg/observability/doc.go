// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the WingOps
// services: JSON logging, metrics collection, health probes, and distributed
// tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("Server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("Request failed")
//
// Request-scoped values travel via context:
//
//	ctx = observability.WithPilotID(ctx, pilotID)
//	observability.FromContext(ctx).Info("handled")
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.PermissionChecksTotal.WithLabelValues("granted").Inc()
//
// HTTP handlers are instrumented with Middleware, and the Handler method
// serves the scrape endpoint.
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// Postgres being unreachable makes the service unhealthy; Redis being
// unreachable only degrades it, because the snapshot cache recomputes on
// miss.
//
// # OpenTelemetry
//
// InitOTel wires OTLP gRPC exporters for traces and metrics and installs the
// global providers. It returns the providers for shutdown; when tracing is
// disabled it returns nil and the no-op globals stay in place.
package observability
