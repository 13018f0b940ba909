package datadog

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/juvenn/datadog-reporter/host"
)

type Option func(*Reporter)

// Where to send series. Takes precedence over WithAPIKey.
func WithTransport(t Transport) Option {
	return func(rep *Reporter) {
		rep.transport = t
	}
}

// Send to the Datadog API with this key when no transport is set.
func WithAPIKey(key string) Option {
	return func(rep *Reporter) {
		rep.apiKey = key
	}
}

// Fixed host label.
func WithHost(name string) Option {
	return func(rep *Reporter) {
		rep.host = name
		rep.resolver = nil
	}
}

// Resolve the host label once while building the reporter, such as
// host.NewEC2(). ctx bounds the resolution, including its retries.
func WithHostResolver(ctx context.Context, r host.Resolver) Option {
	return func(rep *Reporter) {
		rep.resolver = r
		rep.resolveCtx = ctx
	}
}

// Expansions emitted for meters, histograms and timers, default to all.
func WithExpansions(set Expansions) Option {
	return func(rep *Reporter) {
		rep.expansions = set
	}
}

// Emit the Go runtime gauges each cycle, default to true.
func WithVMMetrics(enabled bool) Option {
	return func(rep *Reporter) {
		rep.vmMetrics = enabled
	}
}

// Source of the runtime gauges, default to the running process.
func WithVMStats(vm VMStats) Option {
	return func(rep *Reporter) {
		rep.vm = vm
	}
}

// Only visit registry metrics accepted by p, default to all.
func WithPredicate(p Predicate) Option {
	return func(rep *Reporter) {
		if p != nil {
			rep.predicate = p
		}
	}
}

func WithFormatter(f NameFormatter) Option {
	return func(rep *Reporter) {
		if f != nil {
			rep.formatter = f
		}
	}
}

// Map a registry key, stripped of its tag block, to a structured identity.
// Default to using the whole key as the name.
func WithIdentity(fn func(name string) MetricName) Option {
	return func(rep *Reporter) {
		if fn != nil {
			rep.identity = fn
		}
	}
}

// Tags attached to every series, such as env:prod or version:1.0.1.
func WithTags(tags ...string) Option {
	return func(rep *Reporter) {
		rep.tags = append([]string(nil), tags...)
	}
}

func WithClock(c Clock) Option {
	return func(rep *Reporter) {
		if c != nil {
			rep.clock = c
		}
	}
}

// Unit timer durations are reported in, default to milliseconds.
func WithDurationUnit(unit time.Duration) Option {
	return func(rep *Reporter) {
		rep.durationUnit = unit
	}
}

// Report once more while closing.
func WithFlushOnClose(flag bool) Option {
	return func(rep *Reporter) {
		rep.flushOnClose = flag
	}
}

// Register the reporter's own metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(rep *Reporter) {
		rep.registerer = reg
	}
}

// Default to logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(rep *Reporter) {
		if log != nil {
			rep.log = log
		}
	}
}
