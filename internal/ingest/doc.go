// Package ingest holds the built-in sources that feed device pipelines: a
// seeded demo signal generator and a Prometheus exposition poller, plus the
// Runner that polls a source on its interval and submits the readings.
package ingest
