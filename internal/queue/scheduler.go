package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

// Delivery performs local writes for one flushed message. Implemented by the
// live service, which fans room targets out through the room manager and
// user targets through the registry.
type Delivery interface {
	// BroadcastRoom writes data to every local member of room, returning the
	// delivered count and the connection ids whose send failed.
	BroadcastRoom(room string, data []byte) (delivered int, failed []string)

	// SendUser writes data to every local connection of a user.
	SendUser(userID string, data []byte) (delivered int, failed []string)
}

// Publisher forwards a locally-originated message to peer instances.
// Implemented by the pub/sub relay.
type Publisher interface {
	Publish(msg *event.QueuedMessage)
}

// SchedulerConfig holds flush scheduler settings.
type SchedulerConfig struct {
	FlushInterval time.Duration
	BatchSize     int
}

// Scheduler drains the priority queue on a fixed tick. It is the single
// ordering authority for the dequeue sequence: one goroutine, one tick,
// one batch.
type Scheduler struct {
	cfg      SchedulerConfig
	logger   *slog.Logger
	metrics  *metrics.Collector
	queue    *Queue
	delivery Delivery
	relay    Publisher

	// onDropConn receives ids of connections whose socket write failed.
	// Cleanup runs outside the flush path.
	onDropConn func(connID string)

	// onDelivered observes every message that reached at least one local
	// socket. Used by the archive. May be nil.
	onDelivered func(msg *event.QueuedMessage, delivered int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a flush scheduler.
func NewScheduler(cfg SchedulerConfig, q *Queue, delivery Delivery, relay Publisher, mc *metrics.Collector, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		metrics:  mc,
		queue:    q,
		delivery: delivery,
		relay:    relay,
	}
}

// OnDropConn sets the handler for connections with failed writes.
func (s *Scheduler) OnDropConn(fn func(connID string)) {
	s.onDropConn = fn
}

// OnDelivered sets the delivered-message observer.
func (s *Scheduler) OnDelivered(fn func(msg *event.QueuedMessage, delivered int)) {
	s.onDelivered = fn
}

// Start begins the flush tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("flush scheduler started",
		"interval", s.cfg.FlushInterval,
		"batch_size", s.cfg.BatchSize,
	)
	return nil
}

// Stop halts the flush tick. Messages still queued stay queued; callers that
// want a final drain call FlushOnce after Stop returns.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("flush scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("flush scheduler stop timed out")
	}
	return nil
}

// FlushOnce performs a single tick synchronously: dequeues up to the batch
// size, delivers locally, and republishes non-relay messages. Returns the
// number of messages flushed. Tests drive the scheduler through this.
func (s *Scheduler) FlushOnce() int {
	batch := s.queue.DequeueBatch(s.cfg.BatchSize)
	for _, msg := range batch {
		s.flushOne(msg)
	}
	return len(batch)
}

func (s *Scheduler) flushOne(msg *event.QueuedMessage) {
	data, err := json.Marshal(msg.Envelope())
	if err != nil {
		// Payloads are validated JSON at the router boundary; this is a bug.
		s.logger.Error("failed to encode outbound envelope", "error", err)
		s.metrics.MessagesDropped.WithLabelValues(metrics.ReasonWriteFailed).Inc()
		return
	}

	var delivered int
	var failed []string
	if msg.Room != "" {
		delivered, failed = s.delivery.BroadcastRoom(msg.Room, data)
	} else {
		delivered, failed = s.delivery.SendUser(msg.UserID, data)
	}

	if delivered > 0 {
		s.metrics.MessagesDelivered.WithLabelValues(msg.Priority.String()).Add(float64(delivered))
	}
	for _, id := range failed {
		s.metrics.MessagesDropped.WithLabelValues(metrics.ReasonSlowSocket).Inc()
		if s.onDropConn != nil {
			s.onDropConn(id)
		}
	}

	if s.onDelivered != nil && delivered > 0 {
		s.onDelivered(msg, delivered)
	}

	// Relay-origin messages are never republished: the originating instance
	// already broadcast them to the broker.
	if !msg.FromRelay && s.relay != nil {
		s.relay.Publish(msg)
	}
}

func (s *Scheduler) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.FlushOnce()
		}
	}
}
