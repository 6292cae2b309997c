package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// stdFloor keeps normalization sane for dimensions that were constant over
// the whole window.
const stdFloor = 1e-9

// model holds the scoring parameters frozen at the last refit.
type model struct {
	mean []float64
	std  []float64
	fst  *forest
}

// Detector maintains the rolling window and last-fit model for one device.
// It is not safe for concurrent use: each device's pipeline worker is the
// only writer.
type Detector struct {
	deviceID string
	channels []string
	cfg      config.AnomalyConfig

	window   [][]float64
	last     map[string]float64 // carry-forward for channels absent in a sample
	model    *model
	sinceFit int
	rng      *rand.Rand
}

// New creates a Detector for the given device. The channel order fixes the
// vector dimension layout. The RNG seed is fixed per device so repeated runs
// partition identically.
func New(deviceID string, channels []string, cfg config.AnomalyConfig) *Detector {
	var seed int64 = 1
	for _, c := range deviceID {
		seed = seed*31 + int64(c)
	}
	return &Detector{
		deviceID: deviceID,
		channels: channels,
		cfg:      cfg,
		last:     make(map[string]float64, len(channels)),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Observe folds one sample into the rolling window, refitting the model every
// RefitEvery vectors, and scores the vector against the last-fit model. It
// returns the score and, when the score reaches the configured threshold, an
// anomaly insight. No insight is emitted before the window holds MinSamples
// vectors.
func (d *Detector) Observe(s telemetry.Sample) (float64, *telemetry.Insight) {
	v := d.vector(s)

	d.window = append(d.window, v)
	if len(d.window) > d.cfg.Window {
		d.window = d.window[1:]
	}
	d.sinceFit++

	if len(d.window) >= d.cfg.MinSamples && (d.model == nil || d.sinceFit >= d.cfg.RefitEvery) {
		d.refit()
	}
	if d.model == nil || len(d.window) < d.cfg.MinSamples {
		return 0, nil
	}

	score, z := d.model.score(v)
	if score < d.cfg.Threshold {
		return score, nil
	}

	channels := d.contributors(z)
	return score, &telemetry.Insight{
		DeviceID:  d.deviceID,
		Timestamp: s.Timestamp,
		Kind:      telemetry.KindAnomaly,
		Severity:  score,
		Summary: fmt.Sprintf("multivariate anomaly score %.2f (%s)",
			score, strings.Join(channels, ", ")),
		Channels: channels,
	}
}

// vector builds the fixed-layout value vector for a sample, carrying the last
// seen value forward for channels absent from this sample.
func (d *Detector) vector(s telemetry.Sample) []float64 {
	v := make([]float64, len(d.channels))
	for i, ch := range d.channels {
		if x, ok := s.Values[ch]; ok {
			d.last[ch] = x
		}
		v[i] = d.last[ch]
	}
	return v
}

// refit recomputes per-dimension normalization over the current window and
// rebuilds the partition ensemble on the normalized vectors.
func (d *Detector) refit() {
	dims := len(d.channels)
	mean := make([]float64, dims)
	std := make([]float64, dims)

	n := float64(len(d.window))
	for _, v := range d.window {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= n
	}
	for _, v := range d.window {
		for i, x := range v {
			dx := x - mean[i]
			std[i] += dx * dx
		}
	}
	for i := range std {
		std[i] = math.Max(math.Sqrt(std[i]/n), stdFloor)
	}

	normalized := make([][]float64, len(d.window))
	for j, v := range d.window {
		nv := make([]float64, dims)
		for i, x := range v {
			nv[i] = (x - mean[i]) / std[i]
		}
		normalized[j] = nv
	}

	d.model = &model{mean: mean, std: std, fst: fitForest(normalized, d.rng)}
	d.sinceFit = 0
}

// score normalizes v with the fit-time parameters and combines the isolation
// score with a deviation term, so a vector far outside the window's observed
// range scores high even when the ensemble's leaf regions are coarse.
// Returns the combined score and the per-dimension normalized deviations.
func (m *model) score(v []float64) (float64, []float64) {
	z := make([]float64, len(v))
	var maxAbs float64
	for i, x := range v {
		z[i] = (x - m.mean[i]) / m.std[i]
		if a := math.Abs(z[i]); a > maxAbs {
			maxAbs = a
		}
	}

	iso := m.fst.score(z)
	dev := 1 - math.Exp(-maxAbs/6)
	return math.Max(iso, dev), z
}

// contributors returns the channels whose normalized deviation stands out:
// every dimension at or beyond 3 sigma, or the single largest one when none
// reaches that.
func (d *Detector) contributors(z []float64) []string {
	var out []string
	for i, ch := range d.channels {
		if math.Abs(z[i]) >= 3 {
			out = append(out, ch)
		}
	}
	if len(out) > 0 {
		return out
	}

	best := 0
	for i := range z {
		if math.Abs(z[i]) > math.Abs(z[best]) {
			best = i
		}
	}
	return []string{d.channels[best]}
}

// WindowLen returns the current rolling window fill. Used in tests and by
// the pipeline's status reporting.
func (d *Detector) WindowLen() int {
	return len(d.window)
}
