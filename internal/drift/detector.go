package drift

import (
	"fmt"
	"math"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// varianceFloor keeps the deviation denominator positive for channels that
// have been perfectly constant.
const varianceFloor = 1e-12

// channelState is the running EMA baseline for one channel.
type channelState struct {
	mean     float64
	variance float64
	count    int
}

// Detector maintains per-channel drift state for a single device. It is not
// safe for concurrent use: each device's pipeline worker is the only writer.
type Detector struct {
	deviceID string
	channels []string
	cfg      config.DriftConfig
	state    map[string]*channelState
}

// New creates a Detector for the given device and its declared channels.
func New(deviceID string, channels []string, cfg config.DriftConfig) *Detector {
	state := make(map[string]*channelState, len(channels))
	for _, ch := range channels {
		state[ch] = &channelState{}
	}
	return &Detector{
		deviceID: deviceID,
		channels: channels,
		cfg:      cfg,
		state:    state,
	}
}

// Observe folds one sample into the baseline and returns any drift insights.
// Channels are evaluated in declared order so insight order is deterministic.
// The deviation test runs against the baseline as it stood before this
// sample; the first warmup samples per channel only update state.
func (d *Detector) Observe(s telemetry.Sample) []telemetry.Insight {
	var out []telemetry.Insight
	for _, ch := range d.channels {
		x, ok := s.Values[ch]
		if !ok {
			continue
		}
		st := d.state[ch]

		if st.count >= d.cfg.Warmup && st.count > 0 {
			sigma := math.Sqrt(math.Max(st.variance, varianceFloor))
			if dev := math.Abs(x - st.mean); dev > d.cfg.K*sigma {
				severity := dev / sigma
				out = append(out, telemetry.Insight{
					DeviceID:  d.deviceID,
					Timestamp: s.Timestamp,
					Kind:      telemetry.KindDrift,
					Severity:  severity,
					Summary: fmt.Sprintf("%s deviates %.4g from baseline %.4g (%.1f sigma)",
						ch, dev, st.mean, severity),
					Channels: []string{ch},
				})
			}
		}

		st.update(x, d.cfg.Alpha)
	}
	return out
}

// update applies one value to the EMA mean and variance:
//
//	m' = m + alpha*(x - m)
//	v' = (1 - alpha) * (v + alpha*(x - m)^2)
//
// The first value seeds the mean directly so a cold channel does not report
// a deviation from zero.
func (st *channelState) update(x, alpha float64) {
	if st.count == 0 {
		st.mean = x
		st.variance = 0
		st.count = 1
		return
	}
	delta := x - st.mean
	st.mean += alpha * delta
	st.variance = (1 - alpha) * (st.variance + alpha*delta*delta)
	st.count++
}

// Baseline returns the current EMA mean, variance, and sample count for a
// channel. Used by the health scorer and in tests.
func (d *Detector) Baseline(channel string) (mean, variance float64, count int) {
	st, ok := d.state[channel]
	if !ok {
		return 0, 0, 0
	}
	return st.mean, st.variance, st.count
}
