// Package router validates inbound client events and dispatches them to
// handlers. Handler output is normalized into prioritized queued messages;
// rejections are reported to the client as explicit control events.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jstrand/league-live/internal/auth"
	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
	"github.com/jstrand/league-live/internal/queue"
	"github.com/jstrand/league-live/internal/ratelimit"
	"github.com/jstrand/league-live/internal/registry"
	"github.com/jstrand/league-live/internal/room"
)

// ErrCloseConnection tells the transport to terminate the connection. The
// router returns it only for authentication failures; every other fault is
// answered in-band and the connection stays open.
var ErrCloseConnection = errors.New("close connection")

// Handler processes one validated inbound event and returns zero or more
// messages to enqueue for delivery.
type Handler func(ctx context.Context, connID string, in *event.Inbound) ([]*event.QueuedMessage, error)

// Router dispatches inbound events.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Collector

	registry      *registry.Registry
	rooms         *room.Manager
	limiter       *ratelimit.Limiter
	queue         *queue.Queue
	authenticator auth.Authenticator

	handlers map[string]Handler
}

// NewRouter creates a router with the built-in handler set.
func NewRouter(
	reg *registry.Registry,
	rooms *room.Manager,
	limiter *ratelimit.Limiter,
	q *queue.Queue,
	authenticator auth.Authenticator,
	mc *metrics.Collector,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		logger:        logger,
		metrics:       mc,
		registry:      reg,
		rooms:         rooms,
		limiter:       limiter,
		queue:         q,
		authenticator: authenticator,
	}
	r.handlers = map[string]Handler{
		event.TypeJoinRoom:  r.handleJoin,
		event.TypeLeaveRoom: r.handleLeave,
		event.TypePublish:   r.handlePublish,
		event.TypeHeartbeat: r.handleHeartbeat,
	}
	return r
}

// HandleFrame processes one raw frame from a connection. A returned
// ErrCloseConnection means the caller must disconnect; any other outcome
// leaves the connection open.
func (r *Router) HandleFrame(ctx context.Context, connID string, data []byte) error {
	in, err := event.DecodeInbound(data)
	if err != nil {
		r.metrics.MalformedEvents.Inc()
		r.logger.Warn("malformed event", "conn", connID, "error", err)
		r.sendControl(connID, event.Outbound{Type: event.TypeError})
		return nil
	}

	r.registry.Touch(connID)

	if in.Type == event.TypeAuthenticate {
		return r.handleAuthenticate(ctx, connID, in)
	}

	// Everything past the handshake requires an authenticated connection.
	if r.registry.StateOf(connID) != registry.StateAuthenticated {
		r.metrics.AuthFailures.Inc()
		r.logger.Warn("event before authentication", "conn", connID, "type", in.Type)
		r.sendControl(connID, event.Outbound{Type: event.TypeError})
		return ErrCloseConnection
	}

	if !r.limiter.CheckAndConsume(connID) {
		r.metrics.RateLimited.Inc()
		r.sendControl(connID, event.Outbound{Type: event.TypeRateLimited})
		return nil
	}

	handler := r.handlers[in.Type]
	msgs, err := handler(ctx, connID, in)
	if err != nil {
		// Handlers reject in-band; an error here is a validation failure.
		r.metrics.MalformedEvents.Inc()
		r.logger.Warn("rejected event", "conn", connID, "type", in.Type, "error", err)
		r.sendControl(connID, event.Outbound{Type: event.TypeError})
		return nil
	}

	for _, msg := range msgs {
		r.queue.Enqueue(msg)
	}
	return nil
}

func (r *Router) handleAuthenticate(ctx context.Context, connID string, in *event.Inbound) error {
	fail := func() error {
		success := false
		r.sendControl(connID, event.Outbound{Type: event.TypeAuthenticated, Success: &success})
		return ErrCloseConnection
	}

	p, err := in.Authenticate()
	if err != nil {
		r.metrics.MalformedEvents.Inc()
		r.logger.Warn("malformed authenticate", "conn", connID, "error", err)
		return fail()
	}

	if err := r.registry.Authenticate(ctx, connID, p.UserID, p.Token, r.authenticator); err != nil {
		r.logger.Info("authentication rejected", "conn", connID, "user", p.UserID, "error", err)
		return fail()
	}

	success := true
	r.sendControl(connID, event.Outbound{Type: event.TypeAuthenticated, Success: &success})
	return nil
}

func (r *Router) handleJoin(_ context.Context, connID string, in *event.Inbound) ([]*event.QueuedMessage, error) {
	p, err := in.Room()
	if err != nil {
		return nil, err
	}

	if err := r.rooms.Join(connID, p.Room); err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			r.sendControl(connID, event.Outbound{Type: event.TypeRoomFull, Room: p.Room})
			return nil, nil
		}
		if errors.Is(err, room.ErrNotRegistered) {
			// The connection was torn down while the frame was in flight.
			// Nothing to answer; the socket is gone.
			return nil, nil
		}
		return nil, err
	}

	r.sendControl(connID, event.Outbound{Type: event.TypeJoinedRoom, Room: p.Room})
	return nil, nil
}

func (r *Router) handleLeave(_ context.Context, connID string, in *event.Inbound) ([]*event.QueuedMessage, error) {
	p, err := in.Room()
	if err != nil {
		return nil, err
	}

	r.rooms.Leave(connID, p.Room)
	r.sendControl(connID, event.Outbound{Type: event.TypeLeftRoom, Room: p.Room})
	return nil, nil
}

func (r *Router) handlePublish(_ context.Context, connID string, in *event.Inbound) ([]*event.QueuedMessage, error) {
	p, err := in.Publish()
	if err != nil {
		return nil, err
	}

	msg := &event.QueuedMessage{
		Room:       p.Room,
		EventType:  p.EventType,
		Payload:    p.Payload,
		Priority:   event.PriorityFor(p.EventType),
		EnqueuedAt: time.Now(),
	}
	return []*event.QueuedMessage{msg}, nil
}

func (r *Router) handleHeartbeat(_ context.Context, connID string, _ *event.Inbound) ([]*event.QueuedMessage, error) {
	// Touch already ran in HandleFrame; nothing else to do.
	return nil, nil
}

// sendControl writes a control event directly to one connection, bypassing
// the priority queue. Failures here mean the transport is already gone; the
// sweep or read loop will clean up.
func (r *Router) sendControl(connID string, out event.Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("failed to encode control event", "error", err)
		return
	}
	if err := r.registry.Send(connID, data); err != nil {
		r.logger.Debug("control send failed", "conn", connID, "type", out.Type)
	}
}
