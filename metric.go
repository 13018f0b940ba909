package datadog

import (
	"math"
	"time"

	"github.com/rcrowley/go-metrics"
)

type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindMeter     Kind = "meter"
	KindTimer     Kind = "timer"
)

// Metric is a point-in-time reading of one registry entry. The set of
// implementations is closed: Counter, Gauge, Histogram, Meter and Timer.
type Metric interface {
	Kind() Kind
	sealed()
}

type Counter struct {
	Count int64
}

type Gauge struct {
	Value float64
}

// Rates is the rate-tracking half of meters and timers.
type Rates struct {
	Count    int64
	RateMean float64
	Rate1    float64
	Rate5    float64
	Rate15   float64
}

// Distribution is the distribution-tracking half of histograms and timers.
type Distribution struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
	P75    float64
	P95    float64
	P98    float64
	P99    float64
	P999   float64
}

type Histogram struct {
	Distribution
}

type Meter struct {
	Rates
}

type Timer struct {
	Rates
	Distribution
}

func (Counter) Kind() Kind   { return KindCounter }
func (Gauge) Kind() Kind     { return KindGauge }
func (Histogram) Kind() Kind { return KindHistogram }
func (Meter) Kind() Kind     { return KindMeter }
func (Timer) Kind() Kind     { return KindTimer }

func (Counter) sealed()   {}
func (Gauge) sealed()     {}
func (Histogram) sealed() {}
func (Meter) sealed()     {}
func (Timer) sealed()     {}

var percentiles = []float64{0.5, 0.75, 0.95, 0.98, 0.99, 0.999}

// sampled is what go-metrics histograms and timers have in common.
type sampled interface {
	Min() int64
	Max() int64
	Mean() float64
	StdDev() float64
	Percentiles([]float64) []float64
}

// Values are divided by scale, which converts timer nanoseconds.
func distributionOf(s sampled, scale float64) Distribution {
	ps := s.Percentiles(percentiles)
	return Distribution{
		Min:    float64(s.Min()) / scale,
		Max:    float64(s.Max()) / scale,
		Mean:   s.Mean() / scale,
		StdDev: s.StdDev() / scale,
		Median: ps[0] / scale,
		P75:    ps[1] / scale,
		P95:    ps[2] / scale,
		P98:    ps[3] / scale,
		P99:    ps[4] / scale,
		P999:   ps[5] / scale,
	}
}

// Snapshot reads a go-metrics registry entry. Timer durations are expressed
// in durationUnit. It reports false for entries that are not exported, such
// as healthchecks.
func Snapshot(metric any, durationUnit time.Duration) (Metric, bool) {
	switch m := metric.(type) {
	case metrics.Counter:
		return Counter{Count: m.Snapshot().Count()}, true
	case metrics.Gauge:
		return Gauge{Value: float64(m.Snapshot().Value())}, true
	case metrics.GaugeFloat64:
		return Gauge{Value: m.Snapshot().Value()}, true
	case metrics.Histogram:
		return Histogram{distributionOf(m.Snapshot(), 1)}, true
	case metrics.Meter:
		ms := m.Snapshot()
		return Meter{Rates{
			Count:    ms.Count(),
			RateMean: ms.RateMean(),
			Rate1:    ms.Rate1(),
			Rate5:    ms.Rate5(),
			Rate15:   ms.Rate15(),
		}}, true
	case metrics.Timer:
		ts := m.Snapshot()
		if durationUnit <= 0 {
			durationUnit = time.Nanosecond
		}
		return Timer{
			Rates: Rates{
				Count:    ts.Count(),
				RateMean: ts.RateMean(),
				Rate1:    ts.Rate1(),
				Rate5:    ts.Rate5(),
				Rate15:   ts.Rate15(),
			},
			Distribution: distributionOf(ts, float64(durationUnit)),
		}, true
	}
	return nil, false
}

func isNumeric(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
