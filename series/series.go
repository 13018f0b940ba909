// Package series models the data points exported to the Datadog series API
// and streams batches of them as JSON.
package series

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Type is the series type reported to the backend.
type Type string

const (
	TypeGauge   Type = "gauge"
	TypeCounter Type = "rate"
)

// Names may embed tags as namespace.metricName[tag1:value1,tag2:value2].
var tagPattern = regexp.MustCompile(`(?s)^([\w.]+)\[(.+)\]$`)

// Point is a single [epoch, value] pair.
type Point struct {
	Epoch int64
	Value float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Epoch, p.Value})
}

// A Series is one timestamped value with its name, tags and origin host.
// It is built once per emitted value and never mutated afterwards.
type Series struct {
	Metric string   `json:"metric"`
	Points []Point  `json:"points"`
	Host   string   `json:"host"`
	Tags   []string `json:"tags"`
	Type   Type     `json:"type"`
}

// NewGauge builds a gauge series from a raw name which may carry a tag block.
func NewGauge(rawName string, value float64, epoch int64, host string, additionalTags []string) *Series {
	return newSeries(TypeGauge, rawName, value, epoch, host, additionalTags)
}

// NewCounter builds a counter series from a raw name which may carry a tag block.
func NewCounter(rawName string, count int64, epoch int64, host string, additionalTags []string) *Series {
	return newSeries(TypeCounter, rawName, float64(count), epoch, host, additionalTags)
}

func newSeries(typ Type, rawName string, value float64, epoch int64, host string, additionalTags []string) *Series {
	metric, tags := Parse(rawName, additionalTags)
	return &Series{
		Metric: metric,
		Points: []Point{{Epoch: epoch, Value: value}},
		Host:   host,
		Tags:   tags,
		Type:   typ,
	}
}

// Epoch of the single point, zero if there is none.
func (s *Series) Epoch() int64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[0].Epoch
}

// Value of the single point, zero if there is none.
func (s *Series) Value() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[0].Value
}

// Parse splits a raw name into the metric name and its tags. Tags embedded
// in the name come first, followed by additionalTags. Tokens are kept
// verbatim, duplicates included. A name without a well-formed tag block is
// returned whole.
func Parse(rawName string, additionalTags []string) (metric string, tags []string) {
	tags = make([]string, 0, len(additionalTags)+2)
	m := tagPattern.FindStringSubmatch(rawName)
	if m == nil {
		metric = rawName
	} else {
		metric = m[1]
		tags = append(tags, strings.Split(m[2], ",")...)
	}
	tags = append(tags, additionalTags...)
	return metric, tags
}

// Split separates a trailing tag block from a raw name. The block keeps its
// brackets so it can be re-attached after the name has been decorated.
func Split(rawName string) (name, tagBlock string) {
	m := tagPattern.FindStringSubmatch(rawName)
	if m == nil {
		return rawName, ""
	}
	return m[1], rawName[len(m[1]):]
}
