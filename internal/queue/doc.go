// Package queue provides the bounded per-device sample buffer between the
// ingest surface and a device's processing worker. Samples arriving out of
// order within a configurable lateness window are resequenced by timestamp;
// older arrivals are delivered in arrival order and flagged late.
package queue
