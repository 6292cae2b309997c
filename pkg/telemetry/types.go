package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Device describes one instrument known to the engine. Devices are created
// from static configuration at startup and never change afterwards.
type Device struct {
	// ID is the unique device identifier, e.g. "scope1".
	ID string `json:"id"`

	// Channels is the ordered list of channel names the device reports.
	// The order fixes the dimension layout of anomaly vectors.
	Channels []string `json:"channels"`

	// SampleInterval is the expected time between samples. Advisory only;
	// used by the health scorer to judge data freshness.
	SampleInterval time.Duration `json:"sample_interval"`
}

// Sample is one timestamped multi-channel measurement from a device.
type Sample struct {
	DeviceID  string             `json:"device_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`

	// Late is set when the sample arrived too far out of order to be
	// resequenced and was delivered in arrival order instead.
	Late bool `json:"late,omitempty"`
}

// InsightKind distinguishes the detector that produced an insight.
type InsightKind string

// Insight kinds.
const (
	KindDrift   InsightKind = "drift"
	KindAnomaly InsightKind = "anomaly"
)

// Insight is a derived finding about a device: a drift or anomaly event.
// Insights are immutable and append-only.
type Insight struct {
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      InsightKind `json:"kind"`

	// Severity is a continuous score; higher means more anomalous.
	// Drift severities are in units of standard deviations, anomaly
	// severities are isolation scores in [0, 1].
	Severity float64 `json:"severity"`

	// Summary is a human-readable one-liner describing the finding.
	Summary string `json:"summary"`

	// Channels lists the channel(s) that contributed to the finding.
	Channels []string `json:"channels,omitempty"`
}

// SystemDeviceID is the pseudo device ID used for system-wide health snapshots.
const SystemDeviceID = "system"

// HealthFactors is the per-dimension breakdown behind a health score.
// Each factor is in [0, 1]; 1 is perfectly healthy.
type HealthFactors struct {
	Anomaly   float64 `json:"anomaly"`
	Drift     float64 `json:"drift"`
	Freshness float64 `json:"freshness"`
}

// HealthSnapshot is a point-in-time health assessment for one device, or for
// the whole system when DeviceID is SystemDeviceID. Snapshots are superseded
// by later ones, never overwritten.
type HealthSnapshot struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Score     float64       `json:"score"` // [0, 100]
	State     string        `json:"state"` // healthy | degraded | critical | unknown
	Factors   HealthFactors `json:"factors"`
}

// RecordType tags the payload kind of a persisted record.
type RecordType string

// Persisted record types.
const (
	RecordSample  RecordType = "sample"
	RecordInsight RecordType = "insight"
	RecordHealth  RecordType = "health"
)

// Record is the journal envelope: one JSON object per log line. The sequence
// number is assigned at commit time and is the authoritative total order for
// replay and pagination — not the wall-clock timestamp.
type Record struct {
	Seq       uint64
	Type      RecordType
	DeviceID  string
	Timestamp time.Time

	// Exactly one of the following is non-nil, matching Type.
	Sample  *Sample
	Insight *Insight
	Health  *HealthSnapshot
}

// envelope is the on-disk JSON shape of a Record.
type envelope struct {
	Seq       uint64          `json:"seq"`
	Type      RecordType      `json:"type"`
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the record with its type-specific payload.
func (r Record) MarshalJSON() ([]byte, error) {
	var payload any
	switch r.Type {
	case RecordSample:
		payload = r.Sample
	case RecordInsight:
		payload = r.Insight
	case RecordHealth:
		payload = r.Health
	default:
		return nil, fmt.Errorf("telemetry: marshal record: unknown type %q", r.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Seq:       r.Seq,
		Type:      r.Type,
		DeviceID:  r.DeviceID,
		Timestamp: r.Timestamp,
		Payload:   raw,
	})
}

// UnmarshalJSON decodes the envelope and its type-specific payload.
func (r *Record) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.Seq = env.Seq
	r.Type = env.Type
	r.DeviceID = env.DeviceID
	r.Timestamp = env.Timestamp
	r.Sample, r.Insight, r.Health = nil, nil, nil

	switch env.Type {
	case RecordSample:
		r.Sample = &Sample{}
		return json.Unmarshal(env.Payload, r.Sample)
	case RecordInsight:
		r.Insight = &Insight{}
		return json.Unmarshal(env.Payload, r.Insight)
	case RecordHealth:
		r.Health = &HealthSnapshot{}
		return json.Unmarshal(env.Payload, r.Health)
	default:
		return fmt.Errorf("telemetry: unmarshal record: unknown type %q", env.Type)
	}
}

// SampleRecord wraps a sample in a Record envelope (sequence number unset).
func SampleRecord(s *Sample) Record {
	return Record{Type: RecordSample, DeviceID: s.DeviceID, Timestamp: s.Timestamp, Sample: s}
}

// InsightRecord wraps an insight in a Record envelope (sequence number unset).
func InsightRecord(in *Insight) Record {
	return Record{Type: RecordInsight, DeviceID: in.DeviceID, Timestamp: in.Timestamp, Insight: in}
}

// HealthRecord wraps a health snapshot in a Record envelope (sequence number unset).
func HealthRecord(h *HealthSnapshot) Record {
	return Record{Type: RecordHealth, DeviceID: h.DeviceID, Timestamp: h.Timestamp, Health: h}
}
