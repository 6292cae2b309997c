package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/internal/pipeline"
)

// Submitter is the pipeline ingress a Runner feeds.
type Submitter interface {
	Submit(deviceID string, ts time.Time, values map[string]float64) (uint64, error)
}

// Runner polls one source on its interval and submits each reading to the
// pipeline. Poll failures skip the sample; the device's freshness factor
// surfaces sustained failures in its health score.
type Runner struct {
	deviceID string
	interval time.Duration
	source   Source
	submit   Submitter

	failLog *rate.Limiter
	now     func() time.Time
}

// NewRunner binds a source to its target device.
func NewRunner(src config.SourceConfig, source Source, submit Submitter) *Runner {
	return &Runner{
		deviceID: src.Device,
		interval: src.PollInterval,
		source:   source,
		submit:   submit,
		failLog:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		now:      time.Now,
	}
}

// Run polls until ctx is canceled or the pipeline stops.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.pollOnce(ctx) {
				return
			}
		}
	}
}

// pollOnce reads the source and submits the result. It reports false when the
// pipeline has stopped accepting samples.
func (r *Runner) pollOnce(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	values, err := r.source.Poll(pctx)
	if err != nil {
		if r.failLog.Allow() {
			slog.Warn("ingest: poll failed, sample skipped", "device", r.deviceID, "error", err)
		}
		return true
	}

	_, err = r.submit.Submit(r.deviceID, r.now(), values)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrStopped):
		return false
	default:
		if r.failLog.Allow() {
			slog.Warn("ingest: submit failed, sample dropped", "device", r.deviceID, "error", err)
		}
	}
	return true
}
