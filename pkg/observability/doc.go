// Package observability provides metrics, health checks, distributed
// tracing, and graceful shutdown for the shibgate service.
//
// Metrics are Prometheus collectors registered on an explicit registry
// and served from the health port. Tracing is OpenTelemetry with OTLP
// gRPC export, enabled by configuration. Logging throughout the service
// is logrus; this package only wires the pieces that need a logger
// injected.
package observability
