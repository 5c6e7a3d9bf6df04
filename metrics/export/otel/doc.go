// Package otel provides OpenTelemetry metric bindings for goIdentity
// counters.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine
// counter; a single callback reads
// [goIdentity.Engine.MetricsSnapshot] on each collection cycle. The
// exporter never owns the MeterProvider; callers supply the Meter.
package otel
