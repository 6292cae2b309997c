package health

import (
	"sync"
	"time"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// statsWindow bounds how far back insights count toward the rate and drift
// magnitude factors.
const statsWindow = 5 * time.Minute

// timedInsight is the retained slice of an insight relevant to scoring.
type timedInsight struct {
	at       time.Time
	kind     telemetry.InsightKind
	severity float64
}

// deviceState accumulates the scoring signals for one device.
type deviceState struct {
	device     telemetry.Device
	lastSample time.Time
	recent     []timedInsight // pruned to statsWindow, newest last
}

// Scorer folds sample and insight observations from all device pipelines into
// health snapshots. All exported methods are safe for concurrent use.
type Scorer struct {
	cfg config.EngineConfig

	mu      sync.Mutex
	devices map[string]*deviceState
	order   []string // device IDs in declaration order, for stable output

	now func() time.Time // injectable for deterministic tests
}

// NewScorer creates a Scorer tracking the given devices.
func NewScorer(cfg config.EngineConfig, devices []telemetry.Device) *Scorer {
	s := &Scorer{
		cfg:     cfg,
		devices: make(map[string]*deviceState, len(devices)),
		now:     time.Now,
	}
	for _, d := range devices {
		s.devices[d.ID] = &deviceState{device: d}
		s.order = append(s.order, d.ID)
	}
	return s
}

// ObserveSample records that a sample for the device was processed at ts.
func (s *Scorer) ObserveSample(deviceID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[deviceID]
	if !ok {
		return
	}
	if ts.After(st.lastSample) {
		st.lastSample = ts
	}
}

// ObserveInsight records a detector finding for its device.
func (s *Scorer) ObserveInsight(in telemetry.Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[in.DeviceID]
	if !ok {
		return
	}
	st.recent = append(st.recent, timedInsight{
		at:       in.Timestamp,
		kind:     in.Kind,
		severity: in.Severity,
	})
}

// DeviceSnapshot computes the current health snapshot for one device.
// A device that has never produced a sample reports state unknown, score 0.
func (s *Scorer) DeviceSnapshot(deviceID string) (telemetry.HealthSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[deviceID]
	if !ok {
		return telemetry.HealthSnapshot{}, false
	}
	return s.snapshotLocked(st), true
}

// Snapshots computes snapshots for every device plus the system aggregate,
// in declaration order with the system snapshot last. The system score is
// the minimum of the device scores; devices with no data yet are excluded
// from the minimum, and the system is unknown until any device reports.
func (s *Scorer) Snapshots() []telemetry.HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]telemetry.HealthSnapshot, 0, len(s.order)+1)

	sys := telemetry.HealthSnapshot{
		DeviceID:  telemetry.SystemDeviceID,
		Timestamp: now,
		Score:     100,
		State:     StateUnknown,
		Factors:   telemetry.HealthFactors{Anomaly: 1, Drift: 1, Freshness: 1},
	}
	seen := false

	for _, id := range s.order {
		snap := s.snapshotLocked(s.devices[id])
		out = append(out, snap)
		if snap.State == StateUnknown {
			continue
		}
		if !seen || snap.Score < sys.Score {
			sys.Score = snap.Score
			sys.Factors = snap.Factors
		}
		seen = true
	}

	if seen {
		sys.State = StateFromScore(sys.Score)
	} else {
		sys.Score = 0
	}
	return append(out, sys)
}

// snapshotLocked computes one device's snapshot. Caller holds s.mu.
func (s *Scorer) snapshotLocked(st *deviceState) telemetry.HealthSnapshot {
	now := s.now()

	if st.lastSample.IsZero() {
		return telemetry.HealthSnapshot{
			DeviceID:  st.device.ID,
			Timestamp: now,
			Score:     0,
			State:     StateUnknown,
		}
	}

	st.prune(now)
	var rate, driftSev float64
	if len(st.recent) > 0 {
		rate = float64(len(st.recent)) / statsWindow.Minutes()
		for _, in := range st.recent {
			if in.kind == telemetry.KindDrift && in.severity > driftSev {
				driftSev = in.severity
			}
		}
	}

	score, factors := Compute(Input{
		InsightRate:       rate,
		DriftSeverity:     driftSev,
		SampleAge:         now.Sub(st.lastSample),
		SampleInterval:    st.device.SampleInterval,
		FreshnessMultiple: s.cfg.FreshnessMultiple,
		WeightAnomaly:     s.cfg.WeightAnomaly,
		WeightDrift:       s.cfg.WeightDrift,
	})

	return telemetry.HealthSnapshot{
		DeviceID:  st.device.ID,
		Timestamp: now,
		Score:     score,
		State:     StateFromScore(score),
		Factors:   factors,
	}
}

// prune drops insights older than the stats window.
func (st *deviceState) prune(now time.Time) {
	cutoff := now.Add(-statsWindow)
	i := 0
	for i < len(st.recent) && st.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.recent = st.recent[i:]
	}
}
