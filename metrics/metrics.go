// Package metrics exposes an optional Prometheus collector for a
// PartitionProducer, grounded on klaviyo-pulsar-local-lab's
// internal/metrics (a perf-test harness for this exact domain) and
// sawpanic-cryptorun's use of prometheus/client_golang. Metrics are not part
// of spec.md's core contract (section 1 scopes metrics surfaces out); this
// package is the ambient observability stack every component in the pack
// carries regardless, wired as a plain optional collaborator the actor can
// call into.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector tracks counts for a single PartitionProducer. A nil *Collector
// is safe to call every method on (all methods guard it), so producers
// built without metrics enabled never branch on its presence.
type Collector struct {
	MessagesSent  prometheus.Counter
	BatchesSent   prometheus.Counter
	Reconnects    prometheus.Counter
	AcksReceived  prometheus.Counter
	QueueDepth    prometheus.Gauge
	InFlightCount prometheus.Gauge
}

// New registers a Collector's metrics under reg, labeled by partitionTopic.
func New(reg prometheus.Registerer, partitionTopic string) *Collector {
	labels := prometheus.Labels{"partition_topic": partitionTopic}
	c := &Collector{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pulsago_producer_messages_sent_total",
			Help:        "Application messages accepted into the durable queue.",
			ConstLabels: labels,
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pulsago_producer_batches_sent_total",
			Help:        "Batches framed and written to the broker socket.",
			ConstLabels: labels,
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pulsago_producer_reconnects_total",
			Help:        "Times the producer actor re-entered the connecting state.",
			ConstLabels: labels,
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pulsago_producer_acks_received_total",
			Help:        "SendReceipts processed.",
			ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pulsago_producer_queue_depth",
			Help:        "Items (appends) currently held by the durable queue, unacked.",
			ConstLabels: labels,
		}),
		InFlightCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pulsago_producer_inflight_requests",
			Help:        "Entries currently in the request table.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.MessagesSent, c.BatchesSent, c.Reconnects, c.AcksReceived, c.QueueDepth, c.InFlightCount)
	}
	return c
}

func (c *Collector) incMessages(n int) {
	if c == nil {
		return
	}
	c.MessagesSent.Add(float64(n))
}

func (c *Collector) incBatches() {
	if c == nil {
		return
	}
	c.BatchesSent.Inc()
}

func (c *Collector) incReconnects() {
	if c == nil {
		return
	}
	c.Reconnects.Inc()
}

func (c *Collector) incAcks() {
	if c == nil {
		return
	}
	c.AcksReceived.Inc()
}

func (c *Collector) setQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *Collector) setInFlight(n int) {
	if c == nil {
		return
	}
	c.InFlightCount.Set(float64(n))
}

// IncMessages records n newly-queued application messages.
func (c *Collector) IncMessages(n int) { c.incMessages(n) }

// IncBatches records one batch written to the socket.
func (c *Collector) IncBatches() { c.incBatches() }

// IncReconnects records one idle->connecting transition.
func (c *Collector) IncReconnects() { c.incReconnects() }

// IncAcks records one processed SendReceipt.
func (c *Collector) IncAcks() { c.incAcks() }

// SetQueueDepth reports the durable queue's current unacked item count.
func (c *Collector) SetQueueDepth(n int) { c.setQueueDepth(n) }

// SetInFlight reports the request table's current size.
func (c *Collector) SetInFlight(n int) { c.setInFlight(n) }
