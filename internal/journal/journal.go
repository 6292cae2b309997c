package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/labwatch/labwatch/pkg/telemetry"
)

const (
	dayLayout     = "2006-01-02"
	segmentPrefix = "journal-"
	segmentSuffix = ".ndjson"
)

// ErrWriteFailure wraps durable-storage errors. The failed record is dropped
// from durable history (its sequence number becomes a gap) but the pipeline
// keeps processing.
var ErrWriteFailure = errors.New("journal: write failure")

// SkippedRange describes a byte range skipped during replay because its
// contents could not be parsed.
type SkippedRange struct {
	File   string
	Offset int64
	Length int64
}

// ReplayStats summarizes what open-time recovery found.
type ReplayStats struct {
	Records int
	LastSeq uint64
	Skipped []SkippedRange
}

// Journal is the single global serialization point for persisted records.
// Append is safe for concurrent use; internally one writer lock interleaves
// all devices' records into one totally ordered log.
type Journal struct {
	dir  string
	sync bool

	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	day     string
	seq     uint64 // last assigned sequence number
	healthy bool

	latestSample map[string]telemetry.Record
	latestHealth map[string]telemetry.Record

	now func() time.Time // injectable for deterministic tests
}

// Open creates the journal directory if needed, replays existing segments to
// rebuild the latest-value index and recover the sequence counter, and opens
// the current day's segment for appending.
func Open(dir string, syncEveryAppend bool) (*Journal, ReplayStats, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ReplayStats{}, fmt.Errorf("journal: create dir %q: %w", dir, err)
	}

	j := &Journal{
		dir:          dir,
		sync:         syncEveryAppend,
		healthy:      true,
		latestSample: make(map[string]telemetry.Record),
		latestHealth: make(map[string]telemetry.Record),
		now:          time.Now,
	}

	stats, err := j.replay()
	if err != nil {
		return nil, stats, err
	}
	j.seq = stats.LastSeq

	if err := j.openSegment(j.now().UTC().Format(dayLayout)); err != nil {
		return nil, stats, err
	}
	return j, stats, nil
}

// replay walks all segments in order, rebuilding the index and finding the
// highest committed sequence number. Unparsable lines are skipped and
// reported, not treated as fatal corruption.
func (j *Journal) replay() (ReplayStats, error) {
	var stats ReplayStats

	segments, err := j.segments()
	if err != nil {
		return stats, err
	}

	for _, path := range segments {
		if err := j.replaySegment(path, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (j *Journal) replaySegment(path string, stats *ReplayStats) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open segment %q: %w", path, err)
	}
	defer f.Close()

	var offset int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		lineLen := int64(len(line)) + 1 // assume trailing newline; corrected below for EOF

		var rec telemetry.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.Skipped = append(stats.Skipped, SkippedRange{
				File:   filepath.Base(path),
				Offset: offset,
				Length: int64(len(line)),
			})
			offset += lineLen
			continue
		}

		stats.Records++
		if rec.Seq > stats.LastSeq {
			stats.LastSeq = rec.Seq
		}
		j.index(rec)
		offset += lineLen
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("journal: read segment %q: %w", path, err)
	}
	return nil
}

// segments lists journal files in lexical (= chronological) order.
func (j *Journal) segments() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(j.dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, fmt.Errorf("journal: list segments: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// openSegment opens (appending) the segment file for the given day.
// Caller holds j.mu or is the only goroutine with access.
func (j *Journal) openSegment(day string) error {
	path := filepath.Join(j.dir, segmentPrefix+day+segmentSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open segment %q: %w", path, err)
	}
	if j.w != nil {
		j.w.Flush() //nolint:errcheck
	}
	if j.f != nil {
		j.f.Close() //nolint:errcheck
	}
	j.f = f
	j.w = bufio.NewWriter(f)
	j.day = day
	return nil
}

// Append assigns the next sequence number to rec, writes it durably, and
// atomically updates the latest-value index. On write failure the sequence
// number is still consumed — committed sequence numbers are gapless, and a
// gap marks a dropped record — and the error wraps ErrWriteFailure.
func (j *Journal) Append(rec telemetry.Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	rec.Seq = j.seq

	if day := j.now().UTC().Format(dayLayout); day != j.day {
		if err := j.openSegment(day); err != nil {
			j.healthy = false
			return 0, fmt.Errorf("%w: rotate: %w", ErrWriteFailure, err)
		}
		slog.Info("journal: rotated segment", "day", day)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		// Marshal failures are programming errors, but they still consume
		// the sequence number so readers can account for the gap.
		return 0, fmt.Errorf("%w: marshal seq %d: %w", ErrWriteFailure, rec.Seq, err)
	}

	if _, err := j.w.Write(append(data, '\n')); err != nil {
		j.healthy = false
		return 0, fmt.Errorf("%w: seq %d: %w", ErrWriteFailure, rec.Seq, err)
	}
	if err := j.w.Flush(); err != nil {
		j.healthy = false
		return 0, fmt.Errorf("%w: flush seq %d: %w", ErrWriteFailure, rec.Seq, err)
	}
	if j.sync {
		if err := j.f.Sync(); err != nil {
			j.healthy = false
			return 0, fmt.Errorf("%w: sync seq %d: %w", ErrWriteFailure, rec.Seq, err)
		}
	}

	j.index(rec)
	j.healthy = true
	return rec.Seq, nil
}

// index updates the latest-value maps for rec. Caller holds j.mu (or is the
// single-threaded replay path).
func (j *Journal) index(rec telemetry.Record) {
	switch rec.Type {
	case telemetry.RecordSample:
		if cur, ok := j.latestSample[rec.DeviceID]; !ok || rec.Seq > cur.Seq {
			j.latestSample[rec.DeviceID] = rec
		}
	case telemetry.RecordHealth:
		if cur, ok := j.latestHealth[rec.DeviceID]; !ok || rec.Seq > cur.Seq {
			j.latestHealth[rec.DeviceID] = rec
		}
	}
}

// LatestSample returns the most recently committed sample record for a device.
func (j *Journal) LatestSample(deviceID string) (telemetry.Record, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.latestSample[deviceID]
	return rec, ok
}

// LatestHealth returns the most recently committed health snapshot record for
// a device (or the system pseudo-device).
func (j *Journal) LatestHealth(deviceID string) (telemetry.Record, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.latestHealth[deviceID]
	return rec, ok
}

// LastSeq returns the last assigned sequence number.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Healthy reports whether the last append attempt succeeded. The health
// scorer and the query surface use this to expose storage degradation.
func (j *Journal) Healthy() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.healthy
}

// Scan calls fn for every committed record with sequence number >= fromSeq,
// in sequence order, until fn returns false or the log is exhausted.
// Unparsable lines (write-failure gaps, partial trailing writes) are skipped.
func (j *Journal) Scan(fromSeq uint64, fn func(telemetry.Record) bool) error {
	// Flush buffered writes so everything committed so far is visible.
	j.mu.Lock()
	if j.w != nil {
		if err := j.w.Flush(); err != nil {
			j.mu.Unlock()
			return fmt.Errorf("journal: flush before scan: %w", err)
		}
	}
	segments, err := j.segments()
	j.mu.Unlock()
	if err != nil {
		return err
	}

	for _, path := range segments {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("journal: open segment %q: %w", path, err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			var rec telemetry.Record
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				continue
			}
			if rec.Seq < fromSeq {
				continue
			}
			if !fn(rec) {
				f.Close() //nolint:errcheck
				return nil
			}
		}
		err = sc.Err()
		f.Close() //nolint:errcheck
		if err != nil {
			return fmt.Errorf("journal: read segment %q: %w", path, err)
		}
	}
	return nil
}

// Close flushes and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w != nil {
		if err := j.w.Flush(); err != nil {
			return fmt.Errorf("journal: flush on close: %w", err)
		}
	}
	if j.f != nil {
		if err := j.f.Close(); err != nil {
			return fmt.Errorf("journal: close segment: %w", err)
		}
		j.f = nil
	}
	return nil
}
