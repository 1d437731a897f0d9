package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used as label values on MessagesDropped.
const (
	ReasonTTL          = "ttl_expired"
	ReasonBackpressure = "backpressure"
	ReasonSlowSocket   = "slow_socket"
	ReasonWriteFailed  = "write_failed"
)

// Collector owns every Prometheus instrument for the messaging core.
// A single Collector is constructed at startup and shared by reference.
type Collector struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthFailures      prometheus.Counter

	RoomsActive prometheus.Gauge
	RoomJoins   prometheus.Counter
	RoomLeaves  prometheus.Counter
	RoomFull    prometheus.Counter

	QueueDepth        prometheus.Gauge
	MessagesEnqueued  *prometheus.CounterVec // by priority
	MessagesDelivered *prometheus.CounterVec // by priority
	MessagesDropped   *prometheus.CounterVec // by reason

	RateLimited prometheus.Counter

	RelayPublished prometheus.Counter
	RelayReceived  prometheus.Counter
	RelayErrors    prometheus.Counter

	MalformedEvents prometheus.Counter

	ArchiveBatches prometheus.Counter
	ArchiveRows    prometheus.Counter
	ArchiveErrors  prometheus.Counter
}

// NewCollector creates and registers all instruments on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_connections_active",
			Help: "Currently registered connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_connections_total",
			Help: "Connections accepted since start.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_auth_failures_total",
			Help: "Authentication attempts that were rejected.",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_rooms_active",
			Help: "Rooms with at least one member.",
		}),
		RoomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_room_joins_total",
			Help: "Successful room joins.",
		}),
		RoomLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_room_leaves_total",
			Help: "Room leaves, including unregister cascades.",
		}),
		RoomFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_room_full_total",
			Help: "Joins rejected because the room was at capacity.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_queue_depth",
			Help: "Messages currently waiting in the priority queue.",
		}),
		MessagesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_messages_enqueued_total",
			Help: "Messages accepted into the priority queue.",
		}, []string{"priority"}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_messages_delivered_total",
			Help: "Messages handed to local sockets.",
		}, []string{"priority"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_messages_dropped_total",
			Help: "Messages dropped instead of delivered.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_rate_limited_total",
			Help: "Inbound events rejected by the rate limiter.",
		}),
		RelayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_relay_published_total",
			Help: "Messages published to the broker.",
		}),
		RelayReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_relay_received_total",
			Help: "Messages received from the broker and re-enqueued.",
		}),
		RelayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_relay_errors_total",
			Help: "Broker publish or decode failures.",
		}),
		MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_malformed_events_total",
			Help: "Inbound frames rejected at the router boundary.",
		}),
		ArchiveBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_archive_batches_total",
			Help: "Event batches written to the archive database.",
		}),
		ArchiveRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_archive_rows_total",
			Help: "Event rows written to the archive database.",
		}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_archive_errors_total",
			Help: "Failed archive batch writes.",
		}),
	}

	reg.MustRegister(
		c.ConnectionsActive, c.ConnectionsTotal, c.AuthFailures,
		c.RoomsActive, c.RoomJoins, c.RoomLeaves, c.RoomFull,
		c.QueueDepth, c.MessagesEnqueued, c.MessagesDelivered, c.MessagesDropped,
		c.RateLimited,
		c.RelayPublished, c.RelayReceived, c.RelayErrors,
		c.MalformedEvents,
		c.ArchiveBatches, c.ArchiveRows, c.ArchiveErrors,
	)

	return c
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
