// Package query is the read-only view over the journal: latest values from
// the in-memory index, and paginated history and insight range reads served
// directly from the persisted log so results never diverge from what has
// been durably committed.
package query
