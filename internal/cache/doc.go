// Package cache mirrors the latest health snapshots into Redis so dashboards
// and sibling services can read current state without touching the engine.
// The mirror is strictly best-effort: it is optional, and failures never
// propagate into the pipeline.
package cache
