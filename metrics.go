package carbonara

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the replication counters exposed at /metrics on the
// asset host.
type Metrics struct {
	ClientsPending   prometheus.Gauge
	ClientsActive    prometheus.Gauge
	EnvelopesOut     prometheus.Counter
	EnvelopesDropped prometheus.Counter
	BytesOut         prometheus.Counter
	MessagesIn       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClientsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carbonara_clients_pending",
			Help: "Clients that completed the handshake but not the introduction",
		}),
		ClientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carbonara_clients_active",
			Help: "Clients receiving broadcast envelopes",
		}),
		EnvelopesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "carbonara_envelopes_out_total",
			Help: "Envelopes serialized by the fan-out consumer",
		}),
		EnvelopesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "carbonara_envelopes_dropped_total",
			Help: "Envelopes dropped because their payload failed to encode",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "carbonara_bytes_out_total",
			Help: "Serialized payload bytes handed to client queues",
		}),
		MessagesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "carbonara_messages_in_total",
			Help: "Inbound message pairs dispatched to handlers",
		}),
	}
}
