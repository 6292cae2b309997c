package ingest

import (
	"context"
	"math/rand"
	"sync"
)

// demoBaselines holds nominal readings for common instrument channels. The
// demo source jitters uniformly around the baseline.
var demoBaselines = map[string]struct{ base, jitter float64 }{
	"voltage":     {3.3, 0.2},
	"current":     {0.12, 0.03},
	"temperature": {23.5, 0.8},
	"pressure":    {101.3, 1.5},
}

// demoSource generates plausible steady readings for a device without
// hardware attached. A fixed seed makes runs reproducible.
type demoSource struct {
	channels []string

	mu  sync.Mutex
	rng *rand.Rand
}

func newDemoSource(channels []string, seed int64) *demoSource {
	return &demoSource{
		channels: channels,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (d *demoSource) Poll(_ context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	values := make(map[string]float64, len(d.channels))
	for _, ch := range d.channels {
		b, ok := demoBaselines[ch]
		if !ok {
			b = struct{ base, jitter float64 }{1.0, 0.1}
		}
		values[ch] = b.base + b.jitter*(2*d.rng.Float64()-1)
	}
	return values, nil
}
