// Package pipeline is the engine orchestrator. It owns one worker goroutine
// per device: samples submitted from any ingest source are queued, then the
// worker journals them, runs the drift and anomaly detectors, journals any
// resulting insights, and feeds the health scorer. A separate loop emits
// periodic health snapshots. Shutdown drains queued samples before workers
// stop.
package pipeline
