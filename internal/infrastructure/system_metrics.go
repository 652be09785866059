package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// runtimeInstruments are the Go runtime gauges fed by the collector. The GC
// counter carries deltas between readings, so scrape-side rate() works even
// though runtime.MemStats only exposes the running total.
type runtimeInstruments struct {
	goRoutines metric.Int64Gauge
	heapAlloc  metric.Int64Gauge
	heapSys    metric.Int64Gauge
	gcCount    metric.Int64Counter
	gcPause    metric.Float64Histogram
	uptime     metric.Float64Gauge
}

func newRuntimeInstruments(meter metric.Meter) (*runtimeInstruments, error) {
	var firstErr error
	gauge := func(name, desc, unit string) metric.Int64Gauge {
		opts := []metric.Int64GaugeOption{metric.WithDescription(desc)}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		g, err := meter.Int64Gauge(name, opts...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return g
	}

	ri := &runtimeInstruments{
		goRoutines: gauge("system_goroutines", "Number of active goroutines", ""),
		heapAlloc:  gauge("system_memory_usage_bytes", "Heap bytes in use", "By"),
		heapSys:    gauge("system_memory_system_bytes", "Memory obtained from the OS in bytes", "By"),
	}

	var err error
	ri.gcCount, err = meter.Int64Counter(
		"system_gc_count_total",
		metric.WithDescription("Garbage collections since process start"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	ri.gcPause, err = meter.Float64Histogram(
		"system_gc_pause_seconds",
		metric.WithDescription("Most recent garbage collection pause"),
		metric.WithUnit("s"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	ri.uptime, err = meter.Float64Gauge(
		"system_process_uptime_seconds",
		metric.WithDescription("Seconds since process start"),
		metric.WithUnit("s"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return ri, nil
}

// SystemStats is one point-in-time reading of the runtime.
type SystemStats struct {
	GoRoutines  int64
	HeapAlloc   int64
	HeapSys     int64
	GCCount     uint32
	LastGCPause time.Duration
	Uptime      time.Duration
	Timestamp   time.Time
}

// SystemMetricsCollector records runtime stats on a fixed interval.
type SystemMetricsCollector struct {
	instruments *runtimeInstruments
	startTime   time.Time
	interval    time.Duration
	lastNumGC   uint32
	stopCh      chan struct{}
}

// NewSystemMetricsCollector builds a collector reading every interval.
func NewSystemMetricsCollector(meter metric.Meter, interval time.Duration) (*SystemMetricsCollector, error) {
	instruments, err := newRuntimeInstruments(meter)
	if err != nil {
		return nil, fmt.Errorf("create runtime instruments: %w", err)
	}

	return &SystemMetricsCollector{
		instruments: instruments,
		startTime:   time.Now(),
		interval:    interval,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start blocks collecting until Stop is called or ctx is cancelled. Run it on
// its own goroutine.
func (c *SystemMetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Snapshot(ctx)

	for {
		select {
		case <-ticker.C:
			c.Snapshot(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends collection. Safe to call once.
func (c *SystemMetricsCollector) Stop() {
	close(c.stopCh)
}

// Snapshot reads the runtime, records every instrument, and returns the
// reading.
func (c *SystemMetricsCollector) Snapshot(ctx context.Context) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		GoRoutines:  int64(runtime.NumGoroutine()),
		HeapAlloc:   int64(memStats.Alloc),
		HeapSys:     int64(memStats.Sys),
		GCCount:     memStats.NumGC,
		LastGCPause: time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		Uptime:      time.Since(c.startTime),
		Timestamp:   time.Now(),
	}

	c.instruments.goRoutines.Record(ctx, stats.GoRoutines)
	c.instruments.heapAlloc.Record(ctx, stats.HeapAlloc)
	c.instruments.heapSys.Record(ctx, stats.HeapSys)
	c.instruments.uptime.Record(ctx, stats.Uptime.Seconds())

	if delta := stats.GCCount - c.lastNumGC; delta > 0 {
		c.instruments.gcCount.Add(ctx, int64(delta))
		c.instruments.gcPause.Record(ctx, stats.LastGCPause.Seconds())
		c.lastNumGC = stats.GCCount
	}

	return stats
}
