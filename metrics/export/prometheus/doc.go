// Package prometheus exposes credguard metrics through client_golang.
//
// [Collector] reads Engine.MetricsSnapshot on every scrape and reports
// constant metrics, so the engine's hot path stays on its own atomic
// counters. Counters are named credguard_*_total; the validation latency
// histogram is credguard_validate_latency_seconds.
//
// The collector is not registered globally. Register it with the caller's
// registry, or use [Handler] for a self-contained endpoint.
package prometheus
