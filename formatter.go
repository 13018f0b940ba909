package datadog

import "strings"

// MetricName is the structured identity of a registry metric.
type MetricName struct {
	Group string
	Type  string
	Name  string
	Scope string
}

// NameFormatter renders an identity plus optional path segments as a
// dotted name. No escaping is done.
type NameFormatter interface {
	Format(name MetricName, path ...string) string
}

// DefaultFormatter joins the non-empty parts with dots.
type DefaultFormatter struct{}

func (DefaultFormatter) Format(name MetricName, path ...string) string {
	parts := make([]string, 0, 4+len(path))
	for _, p := range [...]string{name.Group, name.Type, name.Name, name.Scope} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for _, p := range path {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// PrefixReplacingFormatter rewrites a literal prefix of the wrapped
// formatter's output.
type PrefixReplacingFormatter struct {
	Formatter NameFormatter
	Before    string
	After     string
}

// NewPrefixReplacingFormatter wraps DefaultFormatter.
func NewPrefixReplacingFormatter(before, after string) *PrefixReplacingFormatter {
	return &PrefixReplacingFormatter{
		Formatter: DefaultFormatter{},
		Before:    before,
		After:     after,
	}
}

func (f *PrefixReplacingFormatter) Format(name MetricName, path ...string) string {
	inner := f.Formatter
	if inner == nil {
		inner = DefaultFormatter{}
	}
	m := inner.Format(name, path...)
	if rest, ok := strings.CutPrefix(m, f.Before); ok {
		return f.After + rest
	}
	return m
}
