// Package telemetry defines the record types shared between the ingestion
// pipeline, the journal, and the query surface: samples, insights, health
// snapshots, and the persisted record envelope that carries them.
package telemetry
