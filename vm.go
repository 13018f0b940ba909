package datadog

import (
	"runtime"
	"runtime/pprof"
	"time"
)

// GCStats is the accumulated work of one garbage collector.
type GCStats struct {
	Time time.Duration
	Runs int64
}

// VMStats exposes the process gauges emitted at the start of every cycle.
type VMStats interface {
	HeapCommitted() int64
	HeapUsed() int64
	GoroutineCount() int64
	ThreadCount() int64
	GarbageCollectors() map[string]GCStats
}

// Go has a single concurrent mark-sweep collector.
const goCollector = "mark-sweep"

// RuntimeStats reads VMStats from the Go runtime. Memory figures are taken
// once per Refresh so a cycle reports a consistent view.
type RuntimeStats struct {
	mem     runtime.MemStats
	threads *pprof.Profile
}

func NewRuntimeStats() *RuntimeStats {
	return &RuntimeStats{threads: pprof.Lookup("threadcreate")}
}

func (s *RuntimeStats) Refresh() {
	runtime.ReadMemStats(&s.mem)
}

func (s *RuntimeStats) HeapCommitted() int64 {
	return int64(s.mem.HeapSys)
}

func (s *RuntimeStats) HeapUsed() int64 {
	return int64(s.mem.HeapAlloc)
}

func (s *RuntimeStats) GoroutineCount() int64 {
	return int64(runtime.NumGoroutine())
}

func (s *RuntimeStats) ThreadCount() int64 {
	if s.threads == nil {
		return 0
	}
	return int64(s.threads.Count())
}

func (s *RuntimeStats) GarbageCollectors() map[string]GCStats {
	return map[string]GCStats{
		goCollector: {
			Time: time.Duration(s.mem.PauseTotalNs),
			Runs: int64(s.mem.NumGC),
		},
	}
}
