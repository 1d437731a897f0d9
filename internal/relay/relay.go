// Package relay bridges locally-originated events to and from the external
// message broker so every server instance converges on the same room
// traffic. Publisher and subscriber I/O run on independent paths: a stalled
// broker write can never block inbound relay delivery, and neither can block
// local socket delivery.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

// Enqueuer accepts messages received from peer instances.
// Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(msg *event.QueuedMessage)
}

// Config holds relay settings.
type Config struct {
	Channel        string
	InstanceID     string // stamped as message origin; used to discard echoes
	PublishBuffer  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Relay connects the flush scheduler's outbound path and the local queue's
// inbound path to the broker.
type Relay struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	broker  Broker
	local   Enqueuer

	out chan *event.QueuedMessage

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewRelay creates a relay over the given broker.
func NewRelay(cfg Config, broker Broker, local Enqueuer, mc *metrics.Collector, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		broker:  broker,
		local:   local,
		out:     make(chan *event.QueuedMessage, cfg.PublishBuffer),
	}
}

// Start subscribes to the relay channel and begins the publisher loop.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	unsub, err := r.broker.Subscribe(r.cfg.Channel, r.onBrokerMessage)
	if err != nil {
		return err
	}
	r.unsubscribe = unsub

	r.wg.Add(1)
	go r.publishLoop()

	r.logger.Info("relay started",
		"channel", r.cfg.Channel,
		"instance", r.cfg.InstanceID,
	)
	return nil
}

// Stop unsubscribes and drains the publisher loop.
func (r *Relay) Stop(ctx context.Context) error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay stopped")
	case <-ctx.Done():
		r.logger.Warn("relay stop timed out")
	}
	return nil
}

// Publish hands a locally-originated message to the publisher loop without
// blocking. When the outbound buffer is full the message is dropped for peer
// instances only; local delivery has already happened by the time this runs.
// Satisfies queue.Publisher.
func (r *Relay) Publish(msg *event.QueuedMessage) {
	select {
	case r.out <- msg:
	default:
		r.metrics.RelayErrors.Inc()
		r.logger.Warn("relay publish buffer full, dropping for peers",
			"event_type", msg.EventType,
		)
	}
}

// publishLoop serializes and sends outbound messages, retrying each with
// exponential backoff while the broker is unavailable.
func (r *Relay) publishLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.out:
			r.publishWithRetry(msg)
		}
	}
}

func (r *Relay) publishWithRetry(msg *event.QueuedMessage) {
	msg.Origin = r.cfg.InstanceID
	data, err := json.Marshal(msg)
	if err != nil {
		r.metrics.RelayErrors.Inc()
		r.logger.Error("failed to encode relay message", "error", err)
		return
	}

	wait := r.cfg.RetryBaseDelay
	for {
		err := r.broker.Publish(r.cfg.Channel, data)
		if err == nil {
			r.metrics.RelayPublished.Inc()
			return
		}

		r.metrics.RelayErrors.Inc()
		r.logger.Warn("broker unavailable, retrying publish",
			"error", err,
			"wait", wait,
		)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(wait):
		}

		wait *= 2
		if wait > r.cfg.RetryMaxDelay {
			wait = r.cfg.RetryMaxDelay
		}
	}
}

// onBrokerMessage re-enqueues a peer instance's message for local delivery.
// The relay-origin flag prevents the flush scheduler from publishing it
// again, which would loop it between instances forever.
func (r *Relay) onBrokerMessage(data []byte) {
	var msg event.QueuedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.metrics.RelayErrors.Inc()
		r.logger.Warn("discarding undecodable relay message", "error", err)
		return
	}

	// Broker echo of our own publish.
	if msg.Origin == r.cfg.InstanceID {
		return
	}

	msg.FromRelay = true
	msg.EnqueuedAt = time.Now()
	r.local.Enqueue(&msg)
	r.metrics.RelayReceived.Inc()
}
