package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds the engine's Prometheus collectors. A nil *Set is valid and all
// methods become no-ops, so tests can run pipelines without a registry.
type Set struct {
	SamplesTotal    *prometheus.CounterVec
	LateTotal       *prometheus.CounterVec
	InsightsTotal   *prometheus.CounterVec
	OverflowsTotal  *prometheus.CounterVec
	AppendsTotal    prometheus.Counter
	WriteFailures   prometheus.Counter
	HealthScore     *prometheus.GaugeVec
	QueueDepth      *prometheus.GaugeVec
}

// New registers the engine collectors with reg and returns the Set.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labwatch_samples_total",
			Help: "Samples processed per device.",
		}, []string{"device"}),
		LateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labwatch_late_samples_total",
			Help: "Samples delivered beyond the lateness window per device.",
		}, []string{"device"}),
		InsightsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labwatch_insights_total",
			Help: "Insights emitted per device and kind.",
		}, []string{"device", "kind"}),
		OverflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labwatch_queue_overflows_total",
			Help: "Samples rejected because a device queue was full.",
		}, []string{"device"}),
		AppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "labwatch_journal_appends_total",
			Help: "Records committed to the journal.",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "labwatch_journal_write_failures_total",
			Help: "Journal appends that failed; the record was dropped from durable history.",
		}),
		HealthScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "labwatch_health_score",
			Help: "Current health score per device (and the system aggregate).",
		}, []string{"device"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "labwatch_queue_depth",
			Help: "Buffered samples per device queue.",
		}, []string{"device"}),
	}
}

// ObserveSample counts one processed sample.
func (s *Set) ObserveSample(device string, late bool) {
	if s == nil {
		return
	}
	s.SamplesTotal.WithLabelValues(device).Inc()
	if late {
		s.LateTotal.WithLabelValues(device).Inc()
	}
}

// ObserveInsight counts one emitted insight.
func (s *Set) ObserveInsight(device, kind string) {
	if s == nil {
		return
	}
	s.InsightsTotal.WithLabelValues(device, kind).Inc()
}

// ObserveOverflow counts one rejected enqueue.
func (s *Set) ObserveOverflow(device string) {
	if s == nil {
		return
	}
	s.OverflowsTotal.WithLabelValues(device).Inc()
}

// ObserveAppend counts journal append outcomes.
func (s *Set) ObserveAppend(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.WriteFailures.Inc()
		return
	}
	s.AppendsTotal.Inc()
}

// SetHealth records the current health score for a device.
func (s *Set) SetHealth(device string, score float64) {
	if s == nil {
		return
	}
	s.HealthScore.WithLabelValues(device).Set(score)
}

// SetQueueDepth records the current queue fill for a device.
func (s *Set) SetQueueDepth(device string, depth int) {
	if s == nil {
		return
	}
	s.QueueDepth.WithLabelValues(device).Set(float64(depth))
}
