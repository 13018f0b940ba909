package datadog

import (
	"fmt"
	"math/bits"
)

// Expansion is a derived statistic emitted for meters, histograms and timers.
type Expansion uint16

const (
	ExpandCount Expansion = 1 << iota
	ExpandRateMean
	ExpandRate1Minute
	ExpandRate5Minute
	ExpandRate15Minute
	ExpandMin
	ExpandMean
	ExpandMax
	ExpandStdDev
	ExpandMedian
	ExpandP75
	ExpandP95
	ExpandP98
	ExpandP99
	ExpandP999

	expansionEnd
)

// AllExpansions is the default set.
const AllExpansions Expansions = Expansions(expansionEnd - 1)

var expansionLabels = map[Expansion]string{
	ExpandCount:        "count",
	ExpandRateMean:     "meanRate",
	ExpandRate1Minute:  "1MinuteRate",
	ExpandRate5Minute:  "5MinuteRate",
	ExpandRate15Minute: "15MinuteRate",
	ExpandMin:          "min",
	ExpandMean:         "mean",
	ExpandMax:          "max",
	ExpandStdDev:       "stddev",
	ExpandMedian:       "median",
	ExpandP75:          "p75",
	ExpandP95:          "p95",
	ExpandP98:          "p98",
	ExpandP99:          "p99",
	ExpandP999:         "p999",
}

// String returns the label appended to the metric name.
func (e Expansion) String() string {
	if label, ok := expansionLabels[e]; ok {
		return label
	}
	return fmt.Sprintf("Expansion(%d)", uint16(e))
}

// ParseExpansion looks up an expansion by its label.
func ParseExpansion(label string) (Expansion, error) {
	for e, l := range expansionLabels {
		if l == label {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown expansion %q", label)
}

// Expansions is a set of enabled expansions.
type Expansions uint16

// NewExpansions builds a set from individual expansions.
func NewExpansions(es ...Expansion) Expansions {
	var set Expansions
	for _, e := range es {
		set |= Expansions(e)
	}
	return set
}

// ParseExpansions builds a set from labels. An empty list means all.
func ParseExpansions(labels []string) (Expansions, error) {
	if len(labels) == 0 {
		return AllExpansions, nil
	}
	var set Expansions
	for _, label := range labels {
		e, err := ParseExpansion(label)
		if err != nil {
			return 0, err
		}
		set |= Expansions(e)
	}
	return set, nil
}

func (s Expansions) Has(e Expansion) bool {
	return s&Expansions(e) != 0
}

func (s Expansions) Len() int {
	return bits.OnesCount16(uint16(s & AllExpansions))
}

// List returns the members in declaration order.
func (s Expansions) List() []Expansion {
	list := make([]Expansion, 0, s.Len())
	for e := ExpandCount; e < expansionEnd; e <<= 1 {
		if s.Has(e) {
			list = append(list, e)
		}
	}
	return list
}
