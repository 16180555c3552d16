package uring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "uring"
	opLabel          = "op"
)

// Collector exports a Metrics as Prometheus metrics. It reads the
// atomic counters at scrape time, so it adds nothing to the I/O path.
type Collector struct {
	metrics *Metrics

	ops        *prometheus.Desc
	errors     *prometheus.Desc
	bytes      *prometheus.Desc
	submitted  *prometheus.Desc
	sqFull     *prometheus.Desc
	interrupts *prometheus.Desc
	maxDepth   *prometheus.Desc
	avgDepth   *prometheus.Desc
	latency    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for m. constLabels are attached to
// every series, e.g. to tell several rings apart.
func NewCollector(m *Metrics, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		metrics:    m,
		ops:        desc("operations_total", "Completed operations by class.", opLabel),
		errors:     desc("operation_errors_total", "Operations that completed with an error, by class.", opLabel),
		bytes:      desc("bytes_total", "Bytes transferred by successful reads and writes.", opLabel),
		submitted:  desc("submitted_total", "Operations handed to the submission queue."),
		sqFull:     desc("sq_full_total", "Reservations that found every submission slot outstanding."),
		interrupts: desc("enter_interrupted_total", "io_uring_enter calls that returned a retryable error."),
		maxDepth:   desc("inflight_max", "Highest number of operations observed in flight."),
		avgDepth:   desc("inflight_avg", "Mean number of operations in flight across samples."),
		latency:    desc("operation_latency_seconds", "Submit-to-completion latency."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ops, c.errors, c.bytes, c.submitted, c.sqFull, c.interrupts, c.maxDepth, c.avgDepth, c.latency,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.ops, s.NopOps, "nop")
	counter(c.ops, s.ReadOps, "read")
	counter(c.ops, s.WriteOps, "write")
	counter(c.ops, s.FsyncOps, "fsync")
	counter(c.ops, s.CloseOps, "close")
	counter(c.ops, s.OtherOps, "other")

	counter(c.errors, s.ReadErrors, "read")
	counter(c.errors, s.WriteErrors, "write")
	counter(c.errors, s.FsyncErrors, "fsync")
	counter(c.errors, s.OtherErrors, "other")

	counter(c.bytes, s.ReadBytes, "read")
	counter(c.bytes, s.WriteBytes, "write")

	counter(c.submitted, s.Submitted)
	counter(c.sqFull, s.SQFullEvents)
	counter(c.interrupts, s.InterruptedEnters)

	ch <- prometheus.MustNewConstMetric(c.maxDepth, prometheus.GaugeValue, float64(s.MaxQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.avgDepth, prometheus.GaugeValue, s.AvgQueueDepth)

	// LatencyBuckets are already cumulative, as Prometheus expects.
	buckets := make(map[float64]uint64, numLatencyBuckets)
	for i, ub := range LatencyBuckets {
		buckets[float64(ub)/1e9] = s.LatencyHistogram[i]
	}
	sum := float64(c.metrics.TotalLatencyNs.Load()) / 1e9
	ch <- prometheus.MustNewConstHistogram(c.latency, c.metrics.OpCount.Load(), sum, buckets)
}
