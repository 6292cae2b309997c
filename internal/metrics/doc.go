// Package metrics registers the engine's Prometheus instrumentation:
// ingestion counters, insight counters, queue overflow and journal failure
// counters, and per-device health gauges, exposed on /metrics.
package metrics
