// Package config loads and validates the labwatchd YAML configuration:
// device declarations, detector tuning, journal location, ingest sources,
// and the HTTP/WebSocket serving options. It also provides a file watcher
// for hot-reloading detector thresholds.
package config
