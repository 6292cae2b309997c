package health

import (
	"time"

	"github.com/labwatch/labwatch/pkg/telemetry"
)

// State constants derived from a score.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// maxInsightRate is the insight arrival rate (per minute) at which the
// anomaly factor bottoms out at 0.
const maxInsightRate = 6.0

// maxDriftSeverity is the drift severity (in sigma) at which the drift
// factor bottoms out at 0.
const maxDriftSeverity = 10.0

// Input holds the per-device signals fed into the score formula.
type Input struct {
	// InsightRate is the recent insight arrival rate in insights per minute.
	InsightRate float64

	// DriftSeverity is the largest drift severity seen in the recent window,
	// in standard deviations. 0 when no drift was observed.
	DriftSeverity float64

	// SampleAge is the time since the device's last processed sample.
	SampleAge time.Duration

	// SampleInterval is the device's expected sample interval.
	SampleInterval time.Duration

	// FreshnessMultiple scales SampleInterval into the silence horizon at
	// which the freshness factor reaches 0.
	FreshnessMultiple float64

	// WeightAnomaly and WeightDrift combine the two signal factors; they
	// must sum to 1.
	WeightAnomaly float64
	WeightDrift   float64
}

// Compute calculates a device health score from the given inputs.
//
// Formula:
//
//	anomaly   = 1 - clamp(rate / 6 per min, 0, 1)
//	drift     = 1 - clamp(severity / 10 sigma, 0, 1)
//	freshness = 1 inside the expected interval, decaying linearly to 0 at
//	            interval * multiple
//	score     = 100 * freshness * (anomaly*Wa + drift*Wd)
//
// Freshness gates the whole score rather than being averaged in, so a silent
// device decays monotonically toward 0 however clean its history is, and
// recovers as soon as fresh samples resume.
func Compute(in Input) (float64, telemetry.HealthFactors) {
	anomalyF := 1 - clamp01(in.InsightRate/maxInsightRate)
	driftF := 1 - clamp01(in.DriftSeverity/maxDriftSeverity)
	freshF := freshness(in.SampleAge, in.SampleInterval, in.FreshnessMultiple)

	score := 100 * freshF * (anomalyF*in.WeightAnomaly + driftF*in.WeightDrift)
	return score, telemetry.HealthFactors{
		Anomaly:   anomalyF,
		Drift:     driftF,
		Freshness: freshF,
	}
}

// freshness maps sample age to [0, 1]: full credit within the expected
// interval, linear decay to 0 at interval*multiple, floored at 0 beyond.
func freshness(age, interval time.Duration, multiple float64) float64 {
	if interval <= 0 {
		return 1
	}
	if age <= interval {
		return 1
	}
	horizon := time.Duration(float64(interval) * multiple)
	if horizon <= interval {
		return 0
	}
	return 1 - clamp01(float64(age-interval)/float64(horizon-interval))
}

// StateFromScore maps a numeric score to a named health state.
func StateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
