package datadog

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juvenn/datadog-reporter/series"
)

const (
	outcomeOK            = "ok"
	outcomePrepareFailed = "prepare_failed"
	outcomeSendFailed    = "send_failed"
	outcomePanicked      = "panicked"
)

// reporterStats are the reporter's own health metrics. A nil *reporterStats
// records nothing.
type reporterStats struct {
	cycles        *prometheus.CounterVec
	series        *prometheus.CounterVec
	metricErrors  prometheus.Counter
	cyclesSkipped prometheus.Counter
	cycleDuration prometheus.Histogram
}

func newReporterStats(reg prometheus.Registerer) (*reporterStats, error) {
	s := &reporterStats{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datadog_reporter",
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		series: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datadog_reporter",
			Name:      "series_total",
			Help:      "Series added to requests by type.",
		}, []string{"type"}),
		metricErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datadog_reporter",
			Name:      "metric_errors_total",
			Help:      "Metrics skipped because reading or adding them failed.",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datadog_reporter",
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because the previous one was still running.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "datadog_reporter",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a poll cycle including the send.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{
		s.cycles, s.series, s.metricErrors, s.cyclesSkipped, s.cycleDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *reporterStats) cycle(outcome string, seconds float64) {
	if s == nil {
		return
	}
	s.cycles.WithLabelValues(outcome).Inc()
	s.cycleDuration.Observe(seconds)
}

func (s *reporterStats) added(typ series.Type) {
	if s == nil {
		return
	}
	s.series.WithLabelValues(string(typ)).Inc()
}

func (s *reporterStats) metricError() {
	if s == nil {
		return
	}
	s.metricErrors.Inc()
}

func (s *reporterStats) skipped() {
	if s == nil {
		return
	}
	s.cyclesSkipped.Inc()
}
