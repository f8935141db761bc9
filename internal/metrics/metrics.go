// Package metrics wraps psbroker's library core with Prometheus
// instrumentation, the way go-server-3's metrics package wraps its hub:
// the plain psb.Broker never imports prometheus, so it stays embeddable
// dependency-free; this package adds the observability layer on top.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"psbroker/psb"
)

// Registry wraps the Prometheus collectors exposed by the demo daemon.
type Registry struct {
	ActiveSubscribers  prometheus.Gauge
	MessagesPublished  prometheus.Counter
	MessagesDelivered  prometheus.Counter
	QueueDepth         prometheus.Gauge
	FreeListSize       prometheus.Gauge
	// PublishOutOfMemory stays at zero: the Go runtime gives callers no
	// way to recover from real allocation failure the way libpsb's
	// PSB_ENOMEM return code did, so psb.Publish never actually returns
	// psb.ErrOutOfMemory. Wired up anyway for parity with the rest of
	// the registry.
	PublishOutOfMemory prometheus.Counter
}

// NewRegistry creates the Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "psbroker_subscribers_active",
			Help: "Number of subscribers currently attached to the broker",
		}),
		MessagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psbroker_messages_published_total",
			Help: "Total number of Publish calls",
		}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psbroker_messages_delivered_total",
			Help: "Total number of per-subscriber deliveries across all Publish calls",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "psbroker_queue_depth_sampled",
			Help: "Most recently sampled subscriber queue depth",
		}),
		FreeListSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "psbroker_queue_freelist_size_sampled",
			Help: "Most recently sampled subscriber queue free-list cache size",
		}),
		PublishOutOfMemory: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psbroker_publish_out_of_memory_total",
			Help: "Total number of Publish fan-outs that failed with psb.ErrOutOfMemory",
		}),
	}
}

// Handler returns an HTTP handler exposing the Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentedBroker layers Registry bookkeeping around a plain
// psb.Broker. It wraps NewSubscriber, DeleteSubscriber and Publish,
// forwarding each call straight through and updating counters and
// gauges alongside; other broker operations (Subscribe, Unsubscribe,
// Close) are reached through Broker() and are not instrumented.
type InstrumentedBroker struct {
	broker   *psb.Broker
	registry *Registry
}

// NewInstrumentedBroker wraps broker with registry-backed metrics.
func NewInstrumentedBroker(broker *psb.Broker, registry *Registry) *InstrumentedBroker {
	return &InstrumentedBroker{broker: broker, registry: registry}
}

// Broker returns the underlying plain broker, for callers that need the
// uninstrumented API directly.
func (ib *InstrumentedBroker) Broker() *psb.Broker { return ib.broker }

// NewSubscriber creates a subscriber and bumps the active-subscriber
// gauge.
func (ib *InstrumentedBroker) NewSubscriber() *psb.Subscriber {
	s := ib.broker.NewSubscriber()
	ib.registry.ActiveSubscribers.Inc()
	return s
}

// DeleteSubscriber detaches a subscriber and drops the active-subscriber
// gauge.
func (ib *InstrumentedBroker) DeleteSubscriber(s *psb.Subscriber) error {
	err := ib.broker.DeleteSubscriber(s)
	if err == nil {
		ib.registry.ActiveSubscribers.Dec()
	}
	return err
}

// Publish forwards to the underlying broker and records the publish and
// per-subscriber delivery counters.
func (ib *InstrumentedBroker) Publish(channel string, payload []byte) int {
	delivered := ib.broker.Publish(channel, payload)
	ib.registry.MessagesPublished.Inc()
	ib.registry.MessagesDelivered.Add(float64(delivered))
	return delivered
}

// SampleQueueDepth records s's current queue depth and free-list cache
// size on their gauges. Demo daemons call this periodically rather than
// on every operation, since a gauge only ever holds the last sampled
// value anyway.
func (ib *InstrumentedBroker) SampleQueueDepth(s *psb.Subscriber) {
	ib.registry.QueueDepth.Set(float64(s.MessagesCount()))
	ib.registry.FreeListSize.Set(float64(s.FreeListSize()))
}
