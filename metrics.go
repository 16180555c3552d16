package uring

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operation statistics for a ring. Readv counts as a
// read and writev as a write.
type Metrics struct {
	// Operation counters
	Submitted atomic.Uint64 // SQEs handed to the ring
	NopOps    atomic.Uint64
	ReadOps   atomic.Uint64
	WriteOps  atomic.Uint64
	FsyncOps  atomic.Uint64
	CloseOps  atomic.Uint64
	OtherOps  atomic.Uint64

	// Byte counters
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	FsyncErrors atomic.Uint64
	OtherErrors atomic.Uint64 // nop, close and anything else

	// Ring pressure
	SQFullEvents      atomic.Uint64 // reservations that found the ring full
	InterruptedEnters atomic.Uint64 // io_uring_enter calls that returned EINTR/EAGAIN/EBUSY

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // Cumulative in-flight samples
	QueueDepthCount atomic.Uint64 // Number of samples
	MaxQueueDepth   atomic.Uint32 // Maximum observed in-flight operations

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative submit-to-completion latency
	OpCount        atomic.Uint64 // Completed operations

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records an operation handed to the ring
func (m *Metrics) RecordSubmit(op uint8) {
	m.Submitted.Add(1)
}

// RecordComplete records a completed operation of the given opcode
func (m *Metrics) RecordComplete(op uint8, bytes uint64, latencyNs uint64, success bool) {
	switch op {
	case uapi.IORING_OP_NOP:
		m.NopOps.Add(1)
		if !success {
			m.OtherErrors.Add(1)
		}
	case uapi.IORING_OP_READ, uapi.IORING_OP_READV:
		m.ReadOps.Add(1)
		if success {
			m.ReadBytes.Add(bytes)
		} else {
			m.ReadErrors.Add(1)
		}
	case uapi.IORING_OP_WRITE, uapi.IORING_OP_WRITEV:
		m.WriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		} else {
			m.WriteErrors.Add(1)
		}
	case uapi.IORING_OP_FSYNC:
		m.FsyncOps.Add(1)
		if !success {
			m.FsyncErrors.Add(1)
		}
	case uapi.IORING_OP_CLOSE:
		m.CloseOps.Add(1)
		if !success {
			m.OtherErrors.Add(1)
		}
	default:
		m.OtherOps.Add(1)
		if !success {
			m.OtherErrors.Add(1)
		}
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records the number of operations in flight
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records operation latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the ring as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates
type MetricsSnapshot struct {
	Submitted uint64
	NopOps    uint64
	ReadOps   uint64
	WriteOps  uint64
	FsyncOps  uint64
	CloseOps  uint64
	OtherOps  uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	FsyncErrors uint64
	OtherErrors uint64

	SQFullEvents      uint64
	InterruptedEnters uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	IOPS           float64 // Completed operations per second
	ReadBandwidth  float64 // Bytes per second
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Submitted:         m.Submitted.Load(),
		NopOps:            m.NopOps.Load(),
		ReadOps:           m.ReadOps.Load(),
		WriteOps:          m.WriteOps.Load(),
		FsyncOps:          m.FsyncOps.Load(),
		CloseOps:          m.CloseOps.Load(),
		OtherOps:          m.OtherOps.Load(),
		ReadBytes:         m.ReadBytes.Load(),
		WriteBytes:        m.WriteBytes.Load(),
		ReadErrors:        m.ReadErrors.Load(),
		WriteErrors:       m.WriteErrors.Load(),
		FsyncErrors:       m.FsyncErrors.Load(),
		OtherErrors:       m.OtherErrors.Load(),
		SQFullEvents:      m.SQFullEvents.Load(),
		InterruptedEnters: m.InterruptedEnters.Load(),
		MaxQueueDepth:     m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.NopOps + snap.ReadOps + snap.WriteOps + snap.FsyncOps + snap.CloseOps + snap.OtherOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.IOPS = float64(snap.TotalOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.FsyncErrors + snap.OtherErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.Submitted, &m.NopOps, &m.ReadOps, &m.WriteOps, &m.FsyncOps, &m.CloseOps, &m.OtherOps,
		&m.ReadBytes, &m.WriteBytes,
		&m.ReadErrors, &m.WriteErrors, &m.FsyncErrors, &m.OtherErrors,
		&m.SQFullEvents, &m.InterruptedEnters,
		&m.QueueDepthTotal, &m.QueueDepthCount, &m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	m.MaxQueueDepth.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives ring activity. Implementations must be safe for
// concurrent use and must not block.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint8)                         {}
func (NoOpObserver) ObserveComplete(uint8, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint32)                    {}
func (NoOpObserver) ObserveSQFull()                              {}
func (NoOpObserver) ObserveInterrupted()                         {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(op uint8) {
	o.metrics.RecordSubmit(op)
}

func (o *MetricsObserver) ObserveComplete(op uint8, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordComplete(op, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

func (o *MetricsObserver) ObserveSQFull() {
	o.metrics.SQFullEvents.Add(1)
}

func (o *MetricsObserver) ObserveInterrupted() {
	o.metrics.InterruptedEnters.Add(1)
}

// teeObserver forwards every event to each of its observers in order.
type teeObserver []Observer

func (t teeObserver) ObserveSubmit(op uint8) {
	for _, o := range t {
		o.ObserveSubmit(op)
	}
}

func (t teeObserver) ObserveComplete(op uint8, bytes uint64, latencyNs uint64, success bool) {
	for _, o := range t {
		o.ObserveComplete(op, bytes, latencyNs, success)
	}
}

func (t teeObserver) ObserveQueueDepth(depth uint32) {
	for _, o := range t {
		o.ObserveQueueDepth(depth)
	}
}

func (t teeObserver) ObserveSQFull() {
	for _, o := range t {
		o.ObserveSQFull()
	}
}

func (t teeObserver) ObserveInterrupted() {
	for _, o := range t {
		o.ObserveInterrupted()
	}
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = teeObserver(nil)
var _ Observer = (*NoOpObserver)(nil)
