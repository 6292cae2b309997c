package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/labwatch/labwatch/internal/anomaly"
	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/internal/drift"
	"github.com/labwatch/labwatch/internal/health"
	"github.com/labwatch/labwatch/internal/journal"
	"github.com/labwatch/labwatch/internal/metrics"
	"github.com/labwatch/labwatch/internal/queue"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// Sentinel errors returned by Submit.
var (
	// ErrUnknownDevice is returned for device IDs not declared in the config.
	ErrUnknownDevice = errors.New("pipeline: unknown device")

	// ErrOverflow is returned when the device's queue is full; the sample was
	// dropped.
	ErrOverflow = errors.New("pipeline: queue overflow")

	// ErrStopped is returned once the engine is draining or stopped.
	ErrStopped = errors.New("pipeline: stopped")
)

// storageDegradedCap bounds the reported system score while journal appends
// are failing, so storage trouble is visible even when every device looks
// fine.
const storageDegradedCap = 50.0

// State is the lifecycle phase of a device worker.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// pipe bundles everything owned by one device worker. The queue is the only
// concurrent boundary: detectors and per-device state are touched by the
// worker goroutine alone.
type pipe struct {
	device   telemetry.Device
	queue    *queue.Queue
	drift    *drift.Detector
	anomaly  *anomaly.Detector
	state    atomic.Int32
	accepted atomic.Uint64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics wires Prometheus instrumentation into the engine.
func WithMetrics(m *metrics.Set) Option {
	return func(e *Engine) { e.metrics = m }
}

// OnSample registers a sink invoked after each sample is processed. Sinks
// run on the device worker goroutine and must not block.
func OnSample(fn func(telemetry.Sample)) Option {
	return func(e *Engine) { e.onSample = append(e.onSample, fn) }
}

// OnInsight registers a sink invoked after each insight is committed. Sinks
// run on the device worker goroutine and must not block.
func OnInsight(fn func(telemetry.Insight)) Option {
	return func(e *Engine) { e.onInsight = append(e.onInsight, fn) }
}

// OnHealth registers a sink invoked with each batch of periodic health
// snapshots.
func OnHealth(fn func([]telemetry.HealthSnapshot)) Option {
	return func(e *Engine) { e.onHealth = append(e.onHealth, fn) }
}

// Engine routes submitted samples through per-device pipelines.
type Engine struct {
	cfg     config.EngineConfig
	journal *journal.Journal
	scorer  *health.Scorer
	metrics *metrics.Set

	onSample  []func(telemetry.Sample)
	onInsight []func(telemetry.Insight)
	onHealth  []func([]telemetry.HealthSnapshot)

	pipes map[string]*pipe
	order []string

	overflowLog *rate.Limiter
	failureLog  *rate.Limiter

	wg sync.WaitGroup
}

// New builds an Engine for the declared devices. Call Run to start it.
func New(cfg config.EngineConfig, devices []config.DeviceConfig, j *journal.Journal, scorer *health.Scorer, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		journal:     j,
		scorer:      scorer,
		pipes:       make(map[string]*pipe, len(devices)),
		overflowLog: rate.NewLimiter(rate.Every(time.Second), 3),
		failureLog:  rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, dc := range devices {
		d := dc.Device()
		e.pipes[d.ID] = &pipe{
			device:  d,
			queue:   queue.New(cfg.QueueCapacity, cfg.LatenessWindow),
			drift:   drift.New(d.ID, d.Channels, dc.Drift),
			anomaly: anomaly.New(d.ID, d.Channels, dc.Anomaly),
		}
		e.order = append(e.order, d.ID)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit hands a sample to its device pipeline. It never blocks: a full queue
// drops the sample and returns ErrOverflow. On success it returns the
// device's accepted-sample count, a per-device ingress ordinal acknowledging
// acceptance. Journal sequence numbers are assigned later, at commit, so the
// returned value is not comparable with the Seq fields that records and query
// pages carry.
func (e *Engine) Submit(deviceID string, ts time.Time, values map[string]float64) (uint64, error) {
	p, ok := e.pipes[deviceID]
	if !ok {
		return 0, ErrUnknownDevice
	}
	err := p.queue.Enqueue(telemetry.Sample{
		DeviceID:  deviceID,
		Timestamp: ts,
		Values:    values,
	})
	switch {
	case err == nil:
		return p.accepted.Add(1), nil
	case errors.Is(err, queue.ErrOverflow):
		e.metrics.ObserveOverflow(deviceID)
		if e.overflowLog.Allow() {
			slog.Warn("pipeline: queue full, sample dropped", "device", deviceID)
		}
		return 0, ErrOverflow
	case errors.Is(err, queue.ErrClosed):
		return 0, ErrStopped
	default:
		return 0, err
	}
}

// DeviceState reports the lifecycle phase of one device worker.
func (e *Engine) DeviceState(deviceID string) (State, bool) {
	p, ok := e.pipes[deviceID]
	if !ok {
		return 0, false
	}
	return State(p.state.Load()), true
}

// Run starts the device workers and the health snapshot loop, then blocks
// until ctx is canceled and every queued sample has been drained and
// processed.
func (e *Engine) Run(ctx context.Context) error {
	for _, id := range e.order {
		p := e.pipes[id]
		e.wg.Add(1)
		go e.work(p)
	}

	tickerDone := make(chan struct{})
	go e.healthLoop(ctx, tickerDone)

	<-ctx.Done()

	for _, id := range e.order {
		p := e.pipes[id]
		p.state.Store(int32(StateDraining))
		p.queue.Close()
	}
	e.wg.Wait()
	<-tickerDone

	// Final snapshot so the journal's last word reflects the drained state.
	e.publishHealth()
	slog.Info("pipeline: stopped")
	return nil
}

// work is the single-writer loop for one device.
func (e *Engine) work(p *pipe) {
	defer e.wg.Done()

	p.state.Store(int32(StateRunning))
	slog.Debug("pipeline: worker running", "device", p.device.ID)

	for {
		s, err := p.queue.Dequeue()
		if err != nil {
			break
		}
		e.process(p, s)
		e.metrics.SetQueueDepth(p.device.ID, p.queue.Len())
	}

	p.state.Store(int32(StateStopped))
	slog.Debug("pipeline: worker stopped", "device", p.device.ID)
}

// process journals one sample, runs the detectors, and journals any insights.
// A failed append drops that record from durable history but never stalls the
// pipeline; detectors and live state stay current.
func (e *Engine) process(p *pipe, s telemetry.Sample) {
	e.append(telemetry.SampleRecord(&s))
	e.metrics.ObserveSample(p.device.ID, s.Late)
	e.scorer.ObserveSample(p.device.ID, s.Timestamp)
	for _, fn := range e.onSample {
		fn(s)
	}

	insights := p.drift.Observe(s)
	if _, in := p.anomaly.Observe(s); in != nil {
		insights = append(insights, *in)
	}
	if len(insights) == 0 {
		return
	}

	for i := range insights {
		in := insights[i]
		e.append(telemetry.InsightRecord(&in))
		e.scorer.ObserveInsight(in)
		e.metrics.ObserveInsight(in.DeviceID, string(in.Kind))
		for _, fn := range e.onInsight {
			fn(in)
		}
	}

	// Insights change the score immediately; don't wait for the next tick.
	if snap, ok := e.scorer.DeviceSnapshot(p.device.ID); ok {
		e.append(telemetry.HealthRecord(&snap))
		e.metrics.SetHealth(snap.DeviceID, snap.Score)
	}
}

// append commits one record, counting and logging failures. The sequence
// number a failed append consumed stays consumed; readers see the gap.
func (e *Engine) append(rec telemetry.Record) {
	_, err := e.journal.Append(rec)
	e.metrics.ObserveAppend(err)
	if err != nil && e.failureLog.Allow() {
		slog.Error("pipeline: journal append failed, record dropped",
			"type", rec.Type, "device", rec.DeviceID, "error", err)
	}
}

// healthLoop emits snapshots for every device plus the system aggregate on
// the configured cadence.
func (e *Engine) healthLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishHealth()
		}
	}
}

// publishHealth journals the current snapshots and fans them out to sinks.
func (e *Engine) publishHealth() {
	snaps := e.scorer.Snapshots()

	if !e.journal.Healthy() {
		sys := &snaps[len(snaps)-1]
		if sys.Score > storageDegradedCap {
			sys.Score = storageDegradedCap
			sys.State = health.StateFromScore(sys.Score)
		}
	}

	for i := range snaps {
		e.append(telemetry.HealthRecord(&snaps[i]))
		e.metrics.SetHealth(snaps[i].DeviceID, snaps[i].Score)
	}
	for _, fn := range e.onHealth {
		fn(snaps)
	}
}
