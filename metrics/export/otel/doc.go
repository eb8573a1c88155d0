// Package otel publishes credguard metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per event family
// (credguard.login.events, credguard.session.events, ...) and tags each
// point with the credguard.event attribute naming the engine counter.
// Validation latency is a pair of gauges, the bucket gauge carrying an "le"
// attribute per cumulative bound. Audit events that skipped the dispatcher
// queue are counted by credguard.outcome. A single callback reads
// Engine.MetricsSnapshot on each collection cycle. The caller owns the
// MeterProvider.
package otel
