// Package datadog periodically drains a go-metrics registry and exports it
// as Datadog series through a pluggable transport.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/juvenn/datadog-reporter/host"
	"github.com/juvenn/datadog-reporter/series"
	"github.com/juvenn/datadog-reporter/transports"
)

var (
	ErrNoRegistry  = errors.New("no metrics registry")
	ErrNoTransport = errors.New("no transport, set one or provide an api key")
)

// Clock supplies the timestamp of a cycle.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Predicate decides whether a registry metric is visited.
type Predicate func(name string, metric any) bool

// A reporter periodically drains a registry and sends it through a transport.
// Cycles never overlap: the poll loop runs them one at a time, and a Run
// that starts while another is in flight is skipped.
type Reporter struct {
	registry     metrics.Registry
	interval     time.Duration // poll and report interval
	transport    Transport
	apiKey       string
	host         string
	resolver     host.Resolver
	resolveCtx   context.Context
	expansions   Expansions
	vmMetrics    bool
	vm           VMStats
	predicate    Predicate
	formatter    NameFormatter
	identity     func(name string) MetricName
	tags         []string // global tags attach to each series
	clock        Clock
	durationUnit time.Duration
	flushOnClose bool
	registerer   prometheus.Registerer
	stats        *reporterStats
	log          logrus.FieldLogger

	running   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	exit      chan struct{} // signal when shutting down
	done      chan struct{}
}

// Create reporter that is yet to be started. Upon closing, the transport
// will be closed too. Host resolution happens here, and its failure fails
// the construction.
func NewReporter(registry metrics.Registry, interval time.Duration, opts ...Option) (*Reporter, error) {
	if registry == nil {
		return nil, ErrNoRegistry
	}
	rep := &Reporter{
		registry:     registry,
		interval:     interval,
		expansions:   AllExpansions,
		vmMetrics:    true,
		predicate:    func(string, any) bool { return true },
		formatter:    DefaultFormatter{},
		identity:     func(name string) MetricName { return MetricName{Name: name} },
		clock:        ClockFunc(time.Now),
		durationUnit: time.Millisecond,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(rep)
	}
	rep.log = rep.log.WithField("component", "reporter")
	if rep.interval <= 0 {
		rep.interval = time.Minute
	}
	if rep.vm == nil {
		rep.vm = NewRuntimeStats()
	}

	if rep.transport == nil {
		if rep.apiKey == "" {
			return nil, ErrNoTransport
		}
		t, err := transports.NewHTTPTransport(rep.apiKey, transports.WithLogger(rep.log))
		if err != nil {
			return nil, fmt.Errorf("creating http transport: %w", err)
		}
		rep.transport = t
	}

	if rep.resolver != nil {
		ctx := rep.resolveCtx
		if ctx == nil {
			ctx = context.Background()
		}
		h, err := rep.resolver.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving host: %w", err)
		}
		rep.host = h
	}

	if rep.registerer != nil {
		stats, err := newReporterStats(rep.registerer)
		if err != nil {
			return nil, fmt.Errorf("registering reporter metrics: %w", err)
		}
		rep.stats = stats
	}
	return rep, nil
}

// Host is the label attached to every series.
func (rep *Reporter) Host() string {
	return rep.host
}

// Start polls every interval until ctx is done or the reporter is closed.
func (rep *Reporter) Start(ctx context.Context) {
	rep.startOnce.Do(func() {
		rep.exit = make(chan struct{})
		rep.done = make(chan struct{})
		go rep.loopPoll(ctx)
	})
}

func (rep *Reporter) loopPoll(ctx context.Context) {
	defer close(rep.done)
	rep.log.WithField("interval", rep.interval).Info("Started to report")
	ticker := time.NewTicker(rep.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rep.exit:
			return
		case <-ticker.C:
			rep.Run(ctx)
		}
	}
}

// Close stops polling, optionally reports one last time, and closes the
// transport. Errors are logged, never returned.
func (rep *Reporter) Close() error {
	rep.closeOnce.Do(func() {
		if rep.exit != nil {
			close(rep.exit)
			<-rep.done
		}
		if rep.flushOnClose {
			rep.Run(context.Background())
		}
		if err := rep.transport.Close(); err != nil {
			rep.log.WithError(err).Error("Error closing the transport, ignored")
		}
	})
	return nil
}

// Run executes one poll cycle. It never fails: every error is logged.
func (rep *Reporter) Run(ctx context.Context) {
	if !rep.running.CompareAndSwap(false, true) {
		rep.log.Warn("Previous cycle still running, skipped")
		rep.stats.skipped()
		return
	}
	defer rep.running.Store(false)

	start := time.Now()
	outcome := rep.run(ctx)
	rep.stats.cycle(outcome, time.Since(start).Seconds())
}

func (rep *Reporter) run(ctx context.Context) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			rep.log.WithField("panic", r).Error("Error processing metrics")
			outcome = outcomePanicked
		}
	}()

	req, err := rep.transport.Prepare(ctx)
	if err != nil {
		rep.log.WithError(err).Error("Could not prepare request")
		return outcomePrepareFailed
	}

	c := &cycle{
		rep:   rep,
		req:   req,
		epoch: rep.clock.Now().UnixMilli() / 1000,
	}
	if rep.vmMetrics {
		c.pushVMMetrics()
	}
	c.pushRegularMetrics()

	if err := req.Send(ctx); err != nil {
		rep.log.WithError(err).Error("Error sending metrics")
		return outcomeSendFailed
	}
	rep.log.WithFields(logrus.Fields{
		"series": c.added,
		"failed": c.failed,
	}).Debug("Reported metrics")
	return outcomeOK
}

// cycle holds the state of one run: the open request and the shared epoch.
type cycle struct {
	rep    *Reporter
	req    Request
	epoch  int64
	added  int
	failed int
}

func (c *cycle) pushRegularMetrics() {
	entries := make(map[string]any, 128)
	names := make([]string, 0, 128)
	c.rep.registry.Each(func(name string, metric any) {
		if metric == nil {
			return
		}
		entries[name] = metric
		names = append(names, name)
	})
	sort.Strings(names)

	for _, name := range names {
		if err := c.visit(name, entries[name]); err != nil {
			c.failed++
			c.rep.stats.metricError()
			c.rep.log.WithError(err).WithField("metric", name).Error("Error pushing metric")
		}
	}
}

func (c *cycle) visit(key string, metric any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !c.rep.predicate(key, metric) {
		return nil
	}
	m, ok := Snapshot(metric, c.rep.durationUnit)
	if !ok {
		c.rep.log.WithField("metric", key).Debugf("Unsupported metric type %T, skipped", metric)
		return nil
	}
	name, tagBlock := series.Split(key)
	c.expand(key, c.rep.identity(name), tagBlock, m)
	return nil
}

// expand emits the values of m allowed by the configured expansions.
// Counters and gauges are always emitted.
func (c *cycle) expand(key string, id MetricName, tagBlock string, m Metric) {
	switch m := m.(type) {
	case Counter:
		c.counter(c.name(id, tagBlock), m.Count)
	case Gauge:
		if !isNumeric(m.Value) {
			c.rep.log.WithField("metric", key).Debug("Gauge had a non numeric value, skipped")
			return
		}
		c.gauge(c.name(id, tagBlock), m.Value)
	case Histogram:
		c.expandDistribution(id, tagBlock, m.Distribution)
	case Meter:
		c.expandRates(id, tagBlock, m.Rates)
	case Timer:
		c.expandRates(id, tagBlock, m.Rates)
		c.expandDistribution(id, tagBlock, m.Distribution)
	default:
		panic(fmt.Sprintf("unexpected metric kind %T", m))
	}
}

func (c *cycle) expandRates(id MetricName, tagBlock string, r Rates) {
	if c.rep.expansions.Has(ExpandCount) {
		c.counter(c.name(id, tagBlock, ExpandCount.String()), r.Count)
	}
	c.maybeExpand(ExpandRateMean, id, tagBlock, r.RateMean)
	c.maybeExpand(ExpandRate1Minute, id, tagBlock, r.Rate1)
	c.maybeExpand(ExpandRate5Minute, id, tagBlock, r.Rate5)
	c.maybeExpand(ExpandRate15Minute, id, tagBlock, r.Rate15)
}

func (c *cycle) expandDistribution(id MetricName, tagBlock string, d Distribution) {
	c.maybeExpand(ExpandMin, id, tagBlock, d.Min)
	c.maybeExpand(ExpandMax, id, tagBlock, d.Max)
	c.maybeExpand(ExpandMean, id, tagBlock, d.Mean)
	c.maybeExpand(ExpandStdDev, id, tagBlock, d.StdDev)
	c.maybeExpand(ExpandMedian, id, tagBlock, d.Median)
	c.maybeExpand(ExpandP75, id, tagBlock, d.P75)
	c.maybeExpand(ExpandP95, id, tagBlock, d.P95)
	c.maybeExpand(ExpandP98, id, tagBlock, d.P98)
	c.maybeExpand(ExpandP99, id, tagBlock, d.P99)
	c.maybeExpand(ExpandP999, id, tagBlock, d.P999)
}

func (c *cycle) maybeExpand(e Expansion, id MetricName, tagBlock string, value float64) {
	if c.rep.expansions.Has(e) {
		c.gauge(c.name(id, tagBlock, e.String()), value)
	}
}

// name formats the identity and re-attaches the tag block split off the
// registry key, so the series parser can still extract it.
func (c *cycle) name(id MetricName, tagBlock string, path ...string) string {
	return c.rep.formatter.Format(id, path...) + tagBlock
}

func (c *cycle) pushVMMetrics() {
	vm := c.rep.vm
	if r, ok := vm.(interface{ Refresh() }); ok {
		r.Refresh()
	}
	c.gauge("go.memory.heap.committed", float64(vm.HeapCommitted()))
	c.gauge("go.memory.heap.used", float64(vm.HeapUsed()))
	c.gauge("go.goroutine_count", float64(vm.GoroutineCount()))
	c.gauge("go.thread_count", float64(vm.ThreadCount()))

	collectors := vm.GarbageCollectors()
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		gc := collectors[name]
		tag := "[type:" + name + "]"
		c.gauge("go.gc.time"+tag, float64(gc.Time.Milliseconds()))
		c.counter("go.gc.runs"+tag, gc.Runs)
	}
}

func (c *cycle) counter(name string, count int64) {
	s := series.NewCounter(name, count, c.epoch, c.rep.host, c.rep.tags)
	if err := c.req.AddCounter(s); err != nil {
		c.failed++
		c.rep.stats.metricError()
		c.rep.log.WithError(err).WithField("metric", name).Error("Error writing counter")
		return
	}
	c.added++
	c.rep.stats.added(s.Type)
}

func (c *cycle) gauge(name string, value float64) {
	s := series.NewGauge(name, value, c.epoch, c.rep.host, c.rep.tags)
	if err := c.req.AddGauge(s); err != nil {
		c.failed++
		c.rep.stats.metricError()
		c.rep.log.WithError(err).WithField("metric", name).Error("Error writing gauge")
		return
	}
	c.added++
	c.rep.stats.added(s.Type)
}
