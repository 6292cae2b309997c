// Package journal is the single-writer, append-only record log and its
// in-memory latest-value index. Records are NDJSON lines in day-segmented
// files; the sequence number assigned at commit time totally orders all
// records across devices and is the authoritative order for replay and
// pagination. On open, the journal replays existing segments to recover the
// sequence counter and rebuild the index, skipping (and reporting) corrupt
// or partially-written lines.
package journal
