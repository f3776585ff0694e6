package diaglog

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes an Emitter's counters to a Prometheus
// registry. Registering it is optional; the scrape endpoint itself is a
// collaborator concern.
type MetricsCollector struct {
	emitter *Emitter

	emitted       *prometheus.Desc
	dropped       *prometheus.Desc
	bytesWritten  *prometheus.Desc
	writeFailures *prometheus.Desc
	rotations     *prometheus.Desc
	retentionDels *prometheus.Desc
	configApplies *prometheus.Desc
	configErrors  *prometheus.Desc
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

// NewMetricsCollector creates a collector over the emitter's counters.
func NewMetricsCollector(e *Emitter) *MetricsCollector {
	return &MetricsCollector{
		emitter: e,
		emitted: prometheus.NewDesc(
			"diaglog_records_emitted_total",
			"Records admitted and written, by level.",
			[]string{"level"}, nil,
		),
		dropped: prometheus.NewDesc(
			"diaglog_records_dropped_total",
			"Records suppressed, by cause.",
			[]string{"cause"}, nil,
		),
		bytesWritten: prometheus.NewDesc(
			"diaglog_bytes_written_total",
			"Bytes handed to the sink.",
			nil, nil,
		),
		writeFailures: prometheus.NewDesc(
			"diaglog_write_failures_total",
			"Sink writes that failed and were dropped.",
			nil, nil,
		),
		rotations: prometheus.NewDesc(
			"diaglog_rotations_total",
			"Completed log file rotations.",
			nil, nil,
		),
		retentionDels: prometheus.NewDesc(
			"diaglog_retention_deletes_total",
			"Rotated files removed by the retention sweep.",
			nil, nil,
		),
		configApplies: prometheus.NewDesc(
			"diaglog_config_applies_total",
			"Configuration snapshots applied.",
			nil, nil,
		),
		configErrors: prometheus.NewDesc(
			"diaglog_config_errors_total",
			"Configuration attempts rejected.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.emitted
	ch <- c.dropped
	ch <- c.bytesWritten
	ch <- c.writeFailures
	ch <- c.rotations
	ch <- c.retentionDels
	ch <- c.configApplies
	ch <- c.configErrors
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.emitter.Metrics()

	for level, count := range m.EmittedByLevel {
		ch <- prometheus.MustNewConstMetric(
			c.emitted, prometheus.CounterValue, float64(count), Level(level).String(),
		)
	}
	for cause, count := range m.DroppedByCause {
		ch <- prometheus.MustNewConstMetric(
			c.dropped, prometheus.CounterValue, float64(count), cause,
		)
	}
	ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(m.BytesWritten))
	ch <- prometheus.MustNewConstMetric(c.writeFailures, prometheus.CounterValue, float64(m.WriteFailures))
	ch <- prometheus.MustNewConstMetric(c.rotations, prometheus.CounterValue, float64(m.Rotations))
	ch <- prometheus.MustNewConstMetric(c.retentionDels, prometheus.CounterValue, float64(m.RetentionDeletes))
	ch <- prometheus.MustNewConstMetric(c.configApplies, prometheus.CounterValue, float64(m.ConfigApplies))
	ch <- prometheus.MustNewConstMetric(c.configErrors, prometheus.CounterValue, float64(m.ConfigErrors))
}
