package polarisdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives a callback after each collection operation.
// Implement it to bridge into an external monitoring system; NoopMetricsCollector
// and BasicMetricsCollector cover the no-dependency cases.
type MetricsCollector interface {
	RecordInsert(duration time.Duration, err error)
	RecordBatchInsert(count, failed int, duration time.Duration)
	RecordSearch(k int, duration time.Duration, err error)
	RecordDelete(duration time.Duration, err error)
	RecordUpdate(duration time.Duration, err error)
	// RecordSnapshot is called after each full-state snapshot write.
	RecordSnapshot(duration time.Duration, err error)
	// RecordFlush is called after each explicit Flush (fsync of the WAL
	// without a full snapshot).
	RecordFlush(duration time.Duration, err error)
}

// NoopMetricsCollector discards every call.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatchInsert(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)         {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)         {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)       {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)          {}

// BasicMetricsCollector accumulates simple in-memory counters, useful for
// debugging and tests without wiring an external monitoring system.
type BasicMetricsCollector struct {
	InsertCount       atomic.Int64
	InsertErrors      atomic.Int64
	InsertTotalNanos  atomic.Int64
	BatchInsertCount  atomic.Int64
	BatchInsertItems  atomic.Int64
	BatchInsertFailed atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchTotalNanos  atomic.Int64
	DeleteCount       atomic.Int64
	DeleteErrors      atomic.Int64
	UpdateCount       atomic.Int64
	UpdateErrors      atomic.Int64
	SnapshotCount     atomic.Int64
	SnapshotErrors    atomic.Int64
	FlushCount        atomic.Int64
	FlushErrors       atomic.Int64
}

func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordBatchInsert(count, failed int, _ time.Duration) {
	b.BatchInsertCount.Add(1)
	b.BatchInsertItems.Add(int64(count))
	b.BatchInsertFailed.Add(int64(failed))
}

func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordUpdate(_ time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSnapshot(_ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordFlush(_ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	InsertCount       int64
	InsertErrors      int64
	InsertAvgNanos    int64
	BatchInsertCount  int64
	BatchInsertItems  int64
	BatchInsertFailed int64
	SearchCount       int64
	SearchErrors      int64
	SearchAvgNanos    int64
	DeleteCount       int64
	DeleteErrors      int64
	UpdateCount       int64
	UpdateErrors      int64
	SnapshotCount     int64
	SnapshotErrors    int64
	FlushCount        int64
	FlushErrors       int64
}

func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:       b.InsertCount.Load(),
		InsertErrors:      b.InsertErrors.Load(),
		InsertAvgNanos:    avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		BatchInsertCount:  b.BatchInsertCount.Load(),
		BatchInsertItems:  b.BatchInsertItems.Load(),
		BatchInsertFailed: b.BatchInsertFailed.Load(),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchAvgNanos:    avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		UpdateCount:       b.UpdateCount.Load(),
		UpdateErrors:      b.UpdateErrors.Load(),
		SnapshotCount:     b.SnapshotCount.Load(),
		SnapshotErrors:    b.SnapshotErrors.Load(),
		FlushCount:        b.FlushCount.Load(),
		FlushErrors:       b.FlushErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}
