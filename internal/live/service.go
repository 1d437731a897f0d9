// Package live assembles the messaging core: connection registry, room
// manager, rate limiter, priority queue, flush scheduler, pub/sub relay,
// and event router. External business services (draft engine, trade
// validation) talk to the Service; they never see delivery internals.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jstrand/league-live/internal/auth"
	"github.com/jstrand/league-live/internal/config"
	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
	"github.com/jstrand/league-live/internal/queue"
	"github.com/jstrand/league-live/internal/ratelimit"
	"github.com/jstrand/league-live/internal/registry"
	"github.com/jstrand/league-live/internal/relay"
	"github.com/jstrand/league-live/internal/room"
	"github.com/jstrand/league-live/internal/router"
)

// Service is the messaging core.
type Service struct {
	logger  *slog.Logger
	metrics *metrics.Collector

	registry  *registry.Registry
	rooms     *room.Manager
	limiter   *ratelimit.Limiter
	queue     *queue.Queue
	scheduler *queue.Scheduler
	relay     *relay.Relay
	router    *router.Router
}

// Deps are the external collaborators the core consumes.
type Deps struct {
	Broker        relay.Broker
	Authenticator auth.Authenticator
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// NewService wires the core from configuration. Nothing starts running
// until Start is called.
func NewService(cfg *config.ServerConfig, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NewCollector()
	}

	s := &Service{
		logger:  logger,
		metrics: mc,
	}

	s.rooms = room.NewManager(room.Config{
		Capacity: cfg.Rooms.Capacity,
	}, mc, logger)

	s.limiter = ratelimit.New(ratelimit.Config{
		Events:      cfg.RateLimit.Events,
		Window:      cfg.RateLimit.Window,
		IdleTimeout: cfg.RateLimit.IdleTimeout,
	}, logger)

	s.registry = registry.NewRegistry(registry.Config{
		HandshakeTimeout:  cfg.Listen.HandshakeTimeout,
		HeartbeatInterval: cfg.Listen.HeartbeatInterval,
	}, s.rooms, s.limiter, mc, logger)
	s.rooms.SetLiveness(func(connID string) bool {
		return s.registry.StateOf(connID) != registry.StateDisconnected
	})

	s.queue = queue.NewQueue(queue.Config{
		MaxDepth:   cfg.Queue.MaxDepth,
		MessageTTL: cfg.Queue.MessageTTL,
	}, mc, logger)

	s.relay = relay.NewRelay(relay.Config{
		Channel:        cfg.Relay.Channel,
		InstanceID:     cfg.Instance.ID,
		PublishBuffer:  cfg.Relay.PublishBuffer,
		RetryBaseDelay: cfg.Relay.RetryBaseDelay,
		RetryMaxDelay:  cfg.Relay.RetryMaxDelay,
	}, deps.Broker, s.queue, mc, logger)

	s.scheduler = queue.NewScheduler(queue.SchedulerConfig{
		FlushInterval: cfg.Queue.FlushInterval,
		BatchSize:     cfg.Queue.BatchSize,
	}, s.queue, s, s.relay, mc, logger)

	// Socket write failures drop the connection; cleanup runs off the
	// flush path.
	s.scheduler.OnDropConn(func(connID string) {
		go s.registry.Unregister(connID)
	})

	s.router = router.NewRouter(s.registry, s.rooms, s.limiter, s.queue, deps.Authenticator, mc, logger)

	return s
}

// Start brings up background components: bucket GC, idle sweep, relay, and
// the flush scheduler.
func (s *Service) Start(ctx context.Context) error {
	if err := s.limiter.Start(ctx); err != nil {
		return err
	}
	if err := s.registry.Start(ctx); err != nil {
		return err
	}
	if err := s.relay.Start(ctx); err != nil {
		return err
	}
	return s.scheduler.Start(ctx)
}

// Stop shuts components down in reverse order, then drains what the
// scheduler left queued.
func (s *Service) Stop(ctx context.Context) error {
	s.scheduler.Stop(ctx)
	s.relay.Stop(ctx)
	s.registry.Stop(ctx)
	s.limiter.Stop(ctx)

	// Final best-effort drain for clients still connected.
	for s.scheduler.FlushOnce() > 0 {
	}
	return nil
}

// Router returns the inbound event router for the transport layer.
func (s *Service) Router() *router.Router { return s.router }

// Registry returns the connection registry for the transport layer.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Rooms returns the room manager, used by diagnostics endpoints.
func (s *Service) Rooms() *room.Manager { return s.rooms }

// OnDelivered forwards delivered messages to an observer such as the
// archiver. Must be called before Start.
func (s *Service) OnDelivered(fn func(msg *event.QueuedMessage, delivered int)) {
	s.scheduler.OnDelivered(fn)
}

// BroadcastToRoom enqueues a domain event for every member of a room, on
// this instance and every peer. Callable by external business services.
func (s *Service) BroadcastToRoom(roomName, eventType string, payload json.RawMessage) {
	s.queue.Enqueue(&event.QueuedMessage{
		Room:       roomName,
		EventType:  eventType,
		Payload:    payload,
		Priority:   event.PriorityFor(eventType),
		EnqueuedAt: time.Now(),
	})
}

// BroadcastToUser enqueues a domain event for every connection of a user
// across all instances.
func (s *Service) BroadcastToUser(userID, eventType string, payload json.RawMessage) {
	s.queue.Enqueue(&event.QueuedMessage{
		UserID:     userID,
		EventType:  eventType,
		Payload:    payload,
		Priority:   event.PriorityFor(eventType),
		EnqueuedAt: time.Now(),
	})
}

// BroadcastRoom satisfies queue.Delivery.
func (s *Service) BroadcastRoom(roomName string, data []byte) (int, []string) {
	return s.rooms.BroadcastLocal(roomName, data, s.registry)
}

// SendUser satisfies queue.Delivery.
func (s *Service) SendUser(userID string, data []byte) (int, []string) {
	return s.registry.SendToUser(userID, data)
}
