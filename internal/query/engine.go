package query

import (
	"errors"
	"time"

	"github.com/labwatch/labwatch/internal/journal"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// ErrNotFound is returned when a device is unknown or has no data yet.
var ErrNotFound = errors.New("query: not found")

// Pagination limits.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page is one slice of a range read. NextCursor is the sequence number to
// resume from, or 0 when the range is exhausted.
type Page struct {
	Records    []telemetry.Record `json:"records"`
	NextCursor uint64             `json:"next_cursor,omitempty"`
}

// Engine answers reads against the journal and its latest-value index.
// All methods are safe for concurrent use.
type Engine struct {
	j       *journal.Journal
	devices map[string]telemetry.Device
	order   []string
}

// New creates an Engine over the journal for the declared devices.
func New(j *journal.Journal, devices []telemetry.Device) *Engine {
	e := &Engine{
		j:       j,
		devices: make(map[string]telemetry.Device, len(devices)),
	}
	for _, d := range devices {
		e.devices[d.ID] = d
		e.order = append(e.order, d.ID)
	}
	return e
}

// Device returns the declared metadata for one device.
func (e *Engine) Device(id string) (telemetry.Device, bool) {
	d, ok := e.devices[id]
	return d, ok
}

// Devices returns all declared devices in declaration order.
func (e *Engine) Devices() []telemetry.Device {
	out := make([]telemetry.Device, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.devices[id])
	}
	return out
}

// LatestSample returns the most recent committed sample for a device from
// the O(1) index.
func (e *Engine) LatestSample(deviceID string) (telemetry.Record, error) {
	if _, ok := e.devices[deviceID]; !ok {
		return telemetry.Record{}, ErrNotFound
	}
	rec, ok := e.j.LatestSample(deviceID)
	if !ok {
		return telemetry.Record{}, ErrNotFound
	}
	return rec, nil
}

// LatestHealth returns the most recent committed health snapshot for a device,
// or for the system aggregate when deviceID is telemetry.SystemDeviceID.
func (e *Engine) LatestHealth(deviceID string) (telemetry.Record, error) {
	if deviceID != telemetry.SystemDeviceID {
		if _, ok := e.devices[deviceID]; !ok {
			return telemetry.Record{}, ErrNotFound
		}
	}
	rec, ok := e.j.LatestHealth(deviceID)
	if !ok {
		return telemetry.Record{}, ErrNotFound
	}
	return rec, nil
}

// History returns one page of a device's persisted records (samples,
// insights, and health snapshots) whose timestamps fall in [from, to],
// ordered by sequence number. Zero from/to leave that bound open. Resume with
// the returned cursor.
func (e *Engine) History(deviceID string, from, to time.Time, cursor uint64, limit int) (Page, error) {
	if _, ok := e.devices[deviceID]; !ok {
		return Page{}, ErrNotFound
	}
	return e.page(cursor, limit, func(rec telemetry.Record) bool {
		return rec.DeviceID == deviceID && inRange(rec.Timestamp, from, to)
	})
}

// Insights returns one page of insight records ordered by sequence number,
// optionally filtered by device, minimum severity, and time range. An empty
// deviceID matches all devices.
func (e *Engine) Insights(deviceID string, minSeverity float64, from, to time.Time, cursor uint64, limit int) (Page, error) {
	if deviceID != "" {
		if _, ok := e.devices[deviceID]; !ok {
			return Page{}, ErrNotFound
		}
	}
	return e.page(cursor, limit, func(rec telemetry.Record) bool {
		if rec.Type != telemetry.RecordInsight {
			return false
		}
		if deviceID != "" && rec.DeviceID != deviceID {
			return false
		}
		if rec.Insight.Severity < minSeverity {
			return false
		}
		return inRange(rec.Timestamp, from, to)
	})
}

// page scans the journal from cursor and collects up to limit records
// matching the filter.
func (e *Engine) page(cursor uint64, limit int, match func(telemetry.Record) bool) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if cursor == 0 {
		cursor = 1
	}

	var page Page
	err := e.j.Scan(cursor, func(rec telemetry.Record) bool {
		if !match(rec) {
			return true
		}
		page.Records = append(page.Records, rec)
		return len(page.Records) < limit
	})
	if err != nil {
		return Page{}, err
	}

	if len(page.Records) == limit {
		page.NextCursor = page.Records[limit-1].Seq + 1
	}
	return page, nil
}

// inRange reports whether ts falls within [from, to]; zero bounds are open.
func inRange(ts time.Time, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
