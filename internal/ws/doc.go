// Package ws pushes live engine state to WebSocket clients: the current
// health snapshots on a fixed interval, and insights as they are committed.
package ws
