package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func smallConfig() config.AnomalyConfig {
	return config.AnomalyConfig{Window: 32, RefitEvery: 32, MinSamples: 32, Threshold: 0.7}
}

// steady returns a near-identical 3-channel sample with deterministic jitter.
func steady(n int) telemetry.Sample {
	j := float64(n%7) * 1e-3
	return telemetry.Sample{
		DeviceID:  "scope1",
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Values: map[string]float64{
			"voltage": 3.3 + j,
			"current": 0.12 - j/2,
			"temp":    25.0 + j*3,
		},
	}
}

func TestObserve_ColdStartEmitsNothing(t *testing.T) {
	d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
	for i := 0; i < 31; i++ {
		score, in := d.Observe(steady(i))
		require.Nil(t, in, "sample %d emitted during cold start", i)
		assert.Zero(t, score, "sample %d scored before min window", i)
	}
}

func TestObserve_SteadyStateStaysQuiet(t *testing.T) {
	d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
	for i := 0; i < 200; i++ {
		_, in := d.Observe(steady(i))
		require.Nil(t, in, "steady sample %d emitted an anomaly", i)
	}
}

// The acceptance scenario: 40 near-identical vectors, then one vector with a
// channel an order of magnitude outside the observed range. The insight must
// arrive within the next refit cycle — here it is immediate because the
// outlier is scored against the last-fit model.
func TestObserve_OutlierEmitsAnomaly(t *testing.T) {
	d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
	for i := 0; i < 40; i++ {
		_, in := d.Observe(steady(i))
		require.Nil(t, in)
	}

	out := steady(40)
	out.Values["voltage"] = 33.0 // 10x the observed level
	score, in := d.Observe(out)

	require.NotNil(t, in, "outlier produced no insight (score %.3f)", score)
	assert.Equal(t, telemetry.KindAnomaly, in.Kind)
	assert.GreaterOrEqual(t, in.Severity, 0.7)
	assert.Contains(t, in.Channels, "voltage")
	assert.Equal(t, "scope1", in.DeviceID)
}

func TestObserve_ScoreBoundedToUnit(t *testing.T) {
	d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
	for i := 0; i < 40; i++ {
		d.Observe(steady(i))
	}
	out := steady(40)
	out.Values["voltage"] = 1e6
	score, _ := d.Observe(out)
	assert.LessOrEqual(t, score, 1.0)
	assert.Greater(t, score, 0.0)
}

func TestObserve_CarriesForwardMissingChannels(t *testing.T) {
	d := New("scope1", []string{"voltage", "current"}, smallConfig())
	d.Observe(telemetry.Sample{
		DeviceID:  "scope1",
		Timestamp: baseTime,
		Values:    map[string]float64{"voltage": 3.3, "current": 0.12},
	})
	// Second sample omits current; the vector must reuse 0.12, not 0.
	d.Observe(telemetry.Sample{
		DeviceID:  "scope1",
		Timestamp: baseTime.Add(time.Second),
		Values:    map[string]float64{"voltage": 3.31},
	})
	require.Len(t, d.window, 2)
	assert.Equal(t, 0.12, d.window[1][1])
}

func TestObserve_WindowIsBounded(t *testing.T) {
	d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
	for i := 0; i < 100; i++ {
		d.Observe(steady(i))
	}
	assert.Equal(t, 32, d.WindowLen())
}

func TestObserve_RefitCadence(t *testing.T) {
	cfg := config.AnomalyConfig{Window: 64, RefitEvery: 16, MinSamples: 16, Threshold: 0.7}
	d := New("scope1", []string{"voltage", "current", "temp"}, cfg)

	for i := 0; i < 16; i++ {
		d.Observe(steady(i))
	}
	first := d.model
	require.NotNil(t, first, "model not fit at min samples")

	// Fewer than RefitEvery new vectors: same model instance.
	for i := 16; i < 31; i++ {
		d.Observe(steady(i))
	}
	assert.Same(t, first, d.model)

	// Crossing the cadence boundary refits.
	d.Observe(steady(31))
	assert.NotSame(t, first, d.model)
}

func TestObserve_DeterministicAcrossRuns(t *testing.T) {
	run := func() float64 {
		d := New("scope1", []string{"voltage", "current", "temp"}, smallConfig())
		for i := 0; i < 40; i++ {
			d.Observe(steady(i))
		}
		out := steady(40)
		out.Values["temp"] = 250
		score, _ := d.Observe(out)
		return score
	}
	assert.Equal(t, run(), run(), "same seed must produce the same score")
}
