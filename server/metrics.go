package server

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains atomic counters of the server and dispatcher.
// Each counter can be used as the value of a prometheus CounterFunc or GaugeFunc; Register
// does that for all of them.
type Metrics struct {
	// ConnAccepted indicates the number of connections accepted.
	ConnAccepted atomic.Uint64
	// ConnActive indicates the number of connections between accept and release.
	ConnActive atomic.Int64
	// RequestCount indicates the number of requests read.
	RequestCount atomic.Uint64
	// RequestDropped indicates the number of requests closed without a response.
	RequestDropped atomic.Uint64
	// ResponseCount indicates the number of responses written.
	ResponseCount atomic.Uint64
	// ResponseFailed indicates the number of responses with a non-success status.
	ResponseFailed atomic.Uint64
	// ReadErrCount indicates the number of requests that could not be read.
	ReadErrCount atomic.Uint64
	// WriteErrCount indicates the number of responses that could not be written.
	WriteErrCount atomic.Uint64
	// BytesRead indicates the number of request bytes read.
	BytesRead atomic.Uint64
	// BytesWritten indicates the number of response bytes written.
	BytesWritten atomic.Uint64
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Collectors returns prometheus collectors reading the counters.
func (m *Metrics) Collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spectrad",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("connections_accepted_total", "Connections accepted.", &m.ConnAccepted),
		counter("requests_total", "Requests read.", &m.RequestCount),
		counter("requests_dropped_total", "Requests closed without a response.", &m.RequestDropped),
		counter("responses_total", "Responses written.", &m.ResponseCount),
		counter("responses_failed_total", "Responses with a failure status.", &m.ResponseFailed),
		counter("read_errors_total", "Requests that could not be read.", &m.ReadErrCount),
		counter("write_errors_total", "Responses that could not be written.", &m.WriteErrCount),
		counter("read_bytes_total", "Request bytes read.", &m.BytesRead),
		counter("written_bytes_total", "Response bytes written.", &m.BytesWritten),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "spectrad",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections between accept and release.",
		}, func() float64 { return float64(m.ConnActive.Load()) }),
	}
}

// Register registers the server counters and the per-device collector of d with reg.
func (m *Metrics) Register(reg prometheus.Registerer, d *Dispatcher) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	if d != nil {
		return reg.Register(newDeviceCollector(d))
	}

	return nil
}

// deviceCollector reports the actor and sequence counters of every registered device.
type deviceCollector struct {
	d *Dispatcher

	queueLen     *prometheus.Desc
	executed     *prometheus.Desc
	acquisitions *prometheus.Desc
	failures     *prometheus.Desc
	overlaps     *prometheus.Desc
	state        *prometheus.Desc
}

func newDeviceCollector(d *Dispatcher) *deviceCollector {
	labels := []string{"device", "serial"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("spectrad", "device", name), help, labels, nil)
	}

	return &deviceCollector{
		d:            d,
		queueLen:     desc("queue_length", "Tasks waiting on the device actor."),
		executed:     desc("tasks_executed_total", "Tasks run by the device actor."),
		acquisitions: desc("acquisitions_total", "Scheduled acquisitions completed."),
		failures:     desc("acquisition_failures_total", "Scheduled acquisitions that failed."),
		overlaps:     desc("schedule_overlaps_total", "Schedule fires while the previous acquisition was still queued."),
		state:        desc("sequence_state", "Sequence state: 0 not configured, 1 idle, 2 active, 3 paused."),
	}
}

func (c *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueLen
	ch <- c.executed
	ch <- c.acquisitions
	ch <- c.failures
	ch <- c.overlaps
	ch <- c.state
}

func (c *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	c.d.devices.Range(func(index int, e *Entry) bool {
		labels := []string{strconv.Itoa(index), e.Device.Serial()}

		ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(e.Device.QueueLen()), labels...)
		ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(e.Device.Executed()), labels...)
		if e.Sequence != nil {
			ch <- prometheus.MustNewConstMetric(c.acquisitions, prometheus.CounterValue, float64(e.Sequence.AcquisitionsTotal()), labels...)
			ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(e.Sequence.Failures()), labels...)
			ch <- prometheus.MustNewConstMetric(c.overlaps, prometheus.CounterValue, float64(e.Sequence.Overlaps()), labels...)
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(e.Sequence.State()), labels...)
		}

		return true
	})
}
