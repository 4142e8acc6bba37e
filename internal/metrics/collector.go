// Package metrics provides in-memory timing statistics for external calls.
package metrics

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Op          string
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents the collected statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Ops           []OperationSnapshot
}

// Operation names for the collector.
const (
	OpCatalogQuery  = "catalog_query"
	OpIndexSearch   = "index_search"
	OpIndexDelete   = "index_delete"
	OpSDSSubmit     = "sds_submit"
	OpSDSInfo       = "sds_info"
	OpSDSSpecs      = "sds_job_specs"
	OpDispatch      = "dispatch"
	OpStorageList   = "storage_list"
	OpStorageCopy   = "storage_copy"
	OpStartPipeline = "start_pipeline"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and a nil Collector records nothing.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordError records timing for a failed operation.
func (c *Collector) RecordError(op string, duration time.Duration) {
	c.record(op, duration, true)
}

// Track records the elapsed time since start, counting a non-nil err as a failure.
//
//	defer func(start time.Time) { m.Track(metrics.OpSDSSubmit, start, err) }(time.Now())
func (c *Collector) Track(op string, start time.Time, err error) {
	if err != nil {
		c.RecordError(op, time.Since(start))
		return
	}
	c.RecordTiming(op, time.Since(start))
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if failed {
		m.Errors++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(op string, m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Op:          op,
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics, sorted by name.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{UptimeSeconds: time.Since(c.startTime).Seconds()}
	for op, m := range c.ops {
		if s := snapshotOp(op, m); s != nil {
			snap.Ops = append(snap.Ops, *s)
		}
	}
	sort.Slice(snap.Ops, func(i, j int) bool { return snap.Ops[i].Op < snap.Ops[j].Op })
	return snap
}

// Log writes the snapshot to logger, one record per operation.
func (c *Collector) Log(logger *slog.Logger) {
	for _, s := range c.Snapshot().Ops {
		logger.Info("call metrics",
			"op", s.Op,
			"count", s.Count,
			"errors", s.Errors,
			"avg_ms", s.AvgTimeMs,
			"max_ms", s.MaxTimeMs,
		)
	}
}
