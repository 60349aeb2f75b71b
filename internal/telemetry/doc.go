// Package telemetry wraps OpenTelemetry SDK initialization for cacheflow:
// one Init call wires OTLP gRPC trace and metric export and registers the
// global providers the package tracers pick up. Disabled telemetry keeps
// everything noop without contacting any external service.
package telemetry
