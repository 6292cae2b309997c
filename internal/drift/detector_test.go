package drift

import (
	"math"
	"testing"
	"time"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func scopeConfig() config.DriftConfig {
	return config.DriftConfig{Alpha: 0.1, K: 3, Warmup: 10}
}

func sample(n int, voltage float64) telemetry.Sample {
	return telemetry.Sample{
		DeviceID:  "scope1",
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Values:    map[string]float64{"voltage": voltage},
	}
}

func TestObserve_NoInsightDuringWarmup(t *testing.T) {
	d := New("scope1", []string{"voltage"}, scopeConfig())
	for i := 0; i < 10; i++ {
		// Wildly varying values must still be silent inside warmup.
		v := 2.0
		if i%2 == 0 {
			v = 100.0
		}
		if got := d.Observe(sample(i, v)); len(got) != 0 {
			t.Fatalf("sample %d (warmup): got %d insights, want 0", i, len(got))
		}
	}
}

func TestObserve_ConstantChannelNeverDrifts(t *testing.T) {
	d := New("scope1", []string{"voltage"}, scopeConfig())
	for i := 0; i < 200; i++ {
		if got := d.Observe(sample(i, 2.0)); len(got) != 0 {
			t.Fatalf("sample %d: constant channel emitted drift insight", i)
		}
	}
}

// The scenario from the engine's acceptance checklist: 10 warmup samples at
// 2.0, an 11th at exactly 2.0 (no deviation), then a 12th at 50.0 which must
// produce a drift insight with severity > 3.
func TestObserve_StepChangeEmitsDrift(t *testing.T) {
	d := New("scope1", []string{"voltage"}, scopeConfig())

	for i := 0; i < 10; i++ {
		if got := d.Observe(sample(i, 2.0)); len(got) != 0 {
			t.Fatalf("warmup sample %d emitted an insight", i)
		}
	}
	if got := d.Observe(sample(10, 2.0)); len(got) != 0 {
		t.Fatalf("zero-deviation sample emitted an insight: %+v", got)
	}

	got := d.Observe(sample(11, 50.0))
	if len(got) != 1 {
		t.Fatalf("step sample: got %d insights, want 1", len(got))
	}
	in := got[0]
	if in.Kind != telemetry.KindDrift {
		t.Errorf("Kind = %q, want drift", in.Kind)
	}
	if in.Severity <= 3 {
		t.Errorf("Severity = %g, want > 3", in.Severity)
	}
	if len(in.Channels) != 1 || in.Channels[0] != "voltage" {
		t.Errorf("Channels = %v, want [voltage]", in.Channels)
	}
	if !in.Timestamp.Equal(baseTime.Add(11 * time.Second)) {
		t.Errorf("Timestamp = %v", in.Timestamp)
	}
}

func TestObserve_EMAFollowsFormula(t *testing.T) {
	d := New("scope1", []string{"voltage"}, config.DriftConfig{Alpha: 0.5, K: 3, Warmup: 0})

	d.Observe(sample(0, 4.0)) // seeds mean
	d.Observe(sample(1, 8.0))

	mean, variance, count := d.Baseline("voltage")
	// m' = 4 + 0.5*(8-4) = 6; v' = (1-0.5)*(0 + 0.5*16) = 4
	if math.Abs(mean-6) > 1e-12 {
		t.Errorf("mean = %g, want 6", mean)
	}
	if math.Abs(variance-4) > 1e-12 {
		t.Errorf("variance = %g, want 4", variance)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestObserve_IgnoresUndeclaredChannels(t *testing.T) {
	d := New("scope1", []string{"voltage"}, scopeConfig())
	s := sample(0, 2.0)
	s.Values["phantom"] = 9999
	d.Observe(s)

	if _, _, count := d.Baseline("phantom"); count != 0 {
		t.Error("undeclared channel acquired state")
	}
}

func TestObserve_MissingChannelSkipped(t *testing.T) {
	d := New("scope1", []string{"voltage", "current"}, scopeConfig())
	d.Observe(sample(0, 2.0)) // no "current" value

	if _, _, count := d.Baseline("current"); count != 0 {
		t.Errorf("missing channel advanced its count to %d", count)
	}
	if _, _, count := d.Baseline("voltage"); count != 1 {
		t.Errorf("voltage count = %d, want 1", count)
	}
}

func TestObserve_ChannelsEvaluatedIndependently(t *testing.T) {
	d := New("meter1", []string{"voltage", "current"}, config.DriftConfig{Alpha: 0.1, K: 3, Warmup: 2})
	for i := 0; i < 5; i++ {
		d.Observe(telemetry.Sample{
			DeviceID:  "meter1",
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
			Values:    map[string]float64{"voltage": 2.0, "current": 0.1},
		})
	}

	// Only current jumps; only current should fire.
	got := d.Observe(telemetry.Sample{
		DeviceID:  "meter1",
		Timestamp: baseTime.Add(5 * time.Second),
		Values:    map[string]float64{"voltage": 2.0, "current": 5.0},
	})
	if len(got) != 1 {
		t.Fatalf("got %d insights, want 1", len(got))
	}
	if got[0].Channels[0] != "current" {
		t.Errorf("insight channel = %q, want current", got[0].Channels[0])
	}
}
