//go:build linux

package uring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsOpClasses(t *testing.T) {
	tests := []struct {
		name    string
		op      uint8
		bytes   uint64
		success bool
		check   func(t *testing.T, s MetricsSnapshot)
	}{
		{"nop", OpNop, 0, true, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.NopOps)
		}},
		{"failed nop", OpNop, 0, false, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.OtherErrors)
		}},
		{"read", OpRead, 4096, true, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.ReadOps)
			assert.Equal(t, uint64(4096), s.ReadBytes)
		}},
		{"readv counts as read", OpReadv, 512, true, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.ReadOps)
			assert.Equal(t, uint64(512), s.ReadBytes)
		}},
		{"failed read keeps no bytes", OpRead, 4096, false, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.ReadErrors)
			assert.Zero(t, s.ReadBytes)
		}},
		{"writev counts as write", OpWritev, 100, true, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.WriteOps)
			assert.Equal(t, uint64(100), s.WriteBytes)
		}},
		{"failed write", OpWrite, 100, false, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.WriteErrors)
			assert.Zero(t, s.WriteBytes)
		}},
		{"failed fsync", OpFsync, 0, false, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.FsyncOps)
			assert.Equal(t, uint64(1), s.FsyncErrors)
		}},
		{"failed close", OpClose, 0, false, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.CloseOps)
			assert.Equal(t, uint64(1), s.OtherErrors)
		}},
		{"unknown opcode", 42, 0, true, func(t *testing.T, s MetricsSnapshot) {
			assert.Equal(t, uint64(1), s.OtherOps)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			m.RecordComplete(tt.op, tt.bytes, 1000, tt.success)
			s := m.Snapshot()
			assert.Equal(t, uint64(1), s.TotalOps)
			tt.check(t, s)
		})
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordComplete(OpRead, 1024, 1000, true)
	m.RecordComplete(OpWrite, 2048, 1000, true)
	m.RecordComplete(OpFsync, 0, 1000, false)
	m.RecordComplete(OpClose, 0, 1000, true)

	s := m.Snapshot()
	assert.Equal(t, uint64(4), s.TotalOps)
	assert.Equal(t, uint64(3072), s.TotalBytes)
	assert.InDelta(t, 25.0, s.ErrorRate, 0.001)
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()
	for _, depth := range []uint32{1, 7, 3, 7, 2} {
		m.RecordQueueDepth(depth)
	}

	s := m.Snapshot()
	assert.Equal(t, uint32(7), s.MaxQueueDepth)
	assert.InDelta(t, 4.0, s.AvgQueueDepth, 0.001)
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	// 90 fast completions, 9 slow ones and one outlier.
	for i := 0; i < 90; i++ {
		m.RecordComplete(OpNop, 0, 5_000, true)
	}
	for i := 0; i < 9; i++ {
		m.RecordComplete(OpRead, 0, 3_000_000, true)
	}
	m.RecordComplete(OpWrite, 0, 200_000_000, true)

	s := m.Snapshot()
	assert.Equal(t, uint64((90*5_000+9*3_000_000+200_000_000)/100), s.AvgLatencyNs)

	// Buckets are cumulative: <=10us holds the fast ones, <=1s holds all.
	assert.Equal(t, uint64(0), s.LatencyHistogram[0])
	assert.Equal(t, uint64(90), s.LatencyHistogram[1])
	assert.Equal(t, uint64(99), s.LatencyHistogram[4])
	assert.Equal(t, uint64(100), s.LatencyHistogram[6])

	assert.LessOrEqual(t, s.LatencyP50Ns, uint64(10_000))
	assert.Greater(t, s.LatencyP99Ns, uint64(1_000_000))
	assert.LessOrEqual(t, s.LatencyP99Ns, uint64(10_000_000))
	assert.LessOrEqual(t, s.LatencyP50Ns, s.LatencyP99Ns)
	assert.LessOrEqual(t, s.LatencyP99Ns, s.LatencyP999Ns)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()
	start := time.Now()
	m.StartTime.Store(start.UnixNano())

	for i := 0; i < 10; i++ {
		m.RecordComplete(OpWrite, 4096, 1000, true)
	}
	m.RecordComplete(OpRead, 1024, 1000, true)
	m.StopTime.Store(start.Add(2 * time.Second).UnixNano())

	s := m.Snapshot()
	assert.Equal(t, uint64(2*time.Second), s.UptimeNs)
	assert.InDelta(t, 5.5, s.IOPS, 0.001)
	assert.InDelta(t, 512.0, s.ReadBandwidth, 0.001)
	assert.InDelta(t, 20480.0, s.WriteBandwidth, 0.001)
}

func TestMetricsStopFreezesUptime(t *testing.T) {
	m := NewMetrics()
	m.Stop()
	first := m.Snapshot().UptimeNs
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, m.Snapshot().UptimeNs)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveSubmit(OpRead)
	o.ObserveComplete(OpRead, 1024, 1000, false)
	o.ObserveQueueDepth(4)
	o.ObserveSQFull()
	o.ObserveInterrupted()
	m.Stop()

	m.Reset()
	s := m.Snapshot()
	assert.Zero(t, s.Submitted)
	assert.Zero(t, s.TotalOps)
	assert.Zero(t, s.ReadErrors)
	assert.Zero(t, s.MaxQueueDepth)
	assert.Zero(t, s.SQFullEvents)
	assert.Zero(t, s.InterruptedEnters)
	assert.Zero(t, s.LatencyHistogram)
	assert.Zero(t, m.StopTime.Load(), "Reset restarts the clock")
}

func TestTeeObserver(t *testing.T) {
	m := NewMetrics()
	rec := NewRecordingObserver()
	tee := teeObserver{NewMetricsObserver(m), NoOpObserver{}, rec}

	tee.ObserveSubmit(OpWrite)
	tee.ObserveSubmit(OpFsync)
	tee.ObserveQueueDepth(2)
	tee.ObserveComplete(OpWrite, 100, 1000, true)
	tee.ObserveComplete(OpFsync, 0, 1000, false)
	tee.ObserveSQFull()
	tee.ObserveInterrupted()
	tee.ObserveInterrupted()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Submitted)
	assert.Equal(t, uint64(100), s.WriteBytes)
	assert.Equal(t, uint64(1), s.FsyncErrors)
	assert.Equal(t, uint64(1), s.SQFullEvents)
	assert.Equal(t, uint64(2), s.InterruptedEnters)

	assert.Equal(t, 1, rec.Submits(OpWrite))
	assert.Equal(t, 1, rec.Failures(OpFsync))
	assert.Equal(t, uint64(100), rec.Bytes())
	assert.Equal(t, uint32(2), rec.MaxDepth())
	assert.Equal(t, map[string]int{"sq_full": 1, "interrupted": 2}, rec.CallCounts())
}

func TestCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmit(OpRead)
	m.RecordSubmit(OpWrite)
	m.RecordSubmit(OpWrite)
	m.RecordComplete(OpRead, 4096, 2_000, true)
	m.RecordComplete(OpWrite, 512, 50_000, true)
	m.RecordComplete(OpWrite, 0, 50_000, false)
	m.RecordQueueDepth(3)
	m.SQFullEvents.Add(1)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m, prometheus.Labels{"ring": "test"})))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "ring":
					assert.Equal(t, "test", lp.GetValue())
				case opLabel:
					key += "/" + lp.GetValue()
				}
			}
			switch {
			case metric.GetCounter() != nil:
				byName[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				byName[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				byName[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 3.0, byName["uring_submitted_total"])
	assert.Equal(t, 1.0, byName["uring_operations_total/read"])
	assert.Equal(t, 2.0, byName["uring_operations_total/write"])
	assert.Equal(t, 1.0, byName["uring_operation_errors_total/write"])
	assert.Equal(t, 4096.0, byName["uring_bytes_total/read"])
	assert.Equal(t, 512.0, byName["uring_bytes_total/write"])
	assert.Equal(t, 1.0, byName["uring_sq_full_total"])
	assert.Equal(t, 0.0, byName["uring_enter_interrupted_total"])
	assert.Equal(t, 3.0, byName["uring_inflight_max"])
	assert.Equal(t, 3.0, byName["uring_operation_latency_seconds"])
}
