// Package otel binds engine metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter.
// The session-verify latency histogram becomes two gauges: <name>_bucket,
// with one series per upper bound under the "le" attribute, and
// <name>_count. A single callback reads [authority.Engine.MetricsSnapshot]
// on each collection. [WithAttributes] stamps constant attributes on every
// series.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
