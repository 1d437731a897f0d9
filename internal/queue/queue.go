// Package queue provides the priority-ordered, bounded outbound message
// queue and the fixed-tick flush scheduler that drains it.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

// Config holds queue settings.
type Config struct {
	MaxDepth   int           // total queued messages across all classes
	MessageTTL time.Duration // messages older than this are dropped on dequeue
}

// Queue holds pending messages in strict priority order: every High drains
// before any Medium, every Medium before any Low, FIFO within a class.
// When full it sheds the oldest Low, then the oldest Medium, so critical
// events survive overload at the cost of staleness-tolerant ones.
type Queue struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	classes [3]*ring
	depth   int

	now func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue(cfg Config, mc *metrics.Collector, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
	}
	for i := range q.classes {
		q.classes[i] = newRing()
	}
	return q
}

// Enqueue inserts a message, stamping its enqueue time if unset. When the
// queue is at capacity it makes room by dropping the oldest Low-priority
// message, then the oldest Medium. Queued High messages are never displaced:
// if only High remain, the incoming message is dropped regardless of its
// priority. Every drop increments a metric.
func (q *Queue) Enqueue(msg *event.QueuedMessage) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.depth >= q.cfg.MaxDepth {
		if !q.makeRoom() {
			q.metrics.MessagesDropped.WithLabelValues(metrics.ReasonBackpressure).Inc()
			q.logger.Warn("queue full, dropping incoming message",
				"event_type", msg.EventType,
				"priority", msg.Priority.String(),
			)
			return
		}
	}

	q.classes[msg.Priority].push(msg)
	q.depth++
	q.metrics.MessagesEnqueued.WithLabelValues(msg.Priority.String()).Inc()
	q.metrics.QueueDepth.Set(float64(q.depth))
}

// makeRoom drops one queued Low or Medium message, oldest first, to admit a
// new one. Queued High messages are never displaced; when only High remain
// the incoming message is dropped instead, whatever its priority. Caller
// holds q.mu.
func (q *Queue) makeRoom() bool {
	for _, class := range []event.Priority{event.PriorityLow, event.PriorityMedium} {
		if dropped, ok := q.classes[class].pop(); ok {
			q.depth--
			q.metrics.MessagesDropped.WithLabelValues(metrics.ReasonBackpressure).Inc()
			q.logger.Warn("queue full, shedding oldest message",
				"event_type", dropped.EventType,
				"priority", class.String(),
			)
			return true
		}
	}
	return false
}

// DequeueBatch removes up to n deliverable messages in priority-then-arrival
// order. Messages past their TTL are dropped (with a metric) and do not
// consume batch slots.
func (q *Queue) DequeueBatch(n int) []*event.QueuedMessage {
	cutoff := q.now().Add(-q.cfg.MessageTTL)

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*event.QueuedMessage
	for _, class := range q.classes {
		for len(out) < n {
			msg, ok := class.pop()
			if !ok {
				break
			}
			q.depth--
			if msg.EnqueuedAt.Before(cutoff) {
				q.metrics.MessagesDropped.WithLabelValues(metrics.ReasonTTL).Inc()
				continue
			}
			out = append(out, msg)
		}
		if len(out) >= n {
			break
		}
	}

	q.metrics.QueueDepth.Set(float64(q.depth))
	return out
}

// Depth returns the number of queued messages.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// ring is a FIFO of queued messages backed by a circular slice that doubles
// when full. Pop-heavy phases reuse the freed slots instead of growing.
type ring struct {
	buf   []*event.QueuedMessage
	head  int
	tail  int
	count int
}

func newRing() *ring {
	return &ring{buf: make([]*event.QueuedMessage, 64)}
}

func (r *ring) push(msg *event.QueuedMessage) {
	if r.count == len(r.buf) {
		r.grow()
	}
	r.buf[r.tail] = msg
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
}

func (r *ring) pop() (*event.QueuedMessage, bool) {
	if r.count == 0 {
		return nil, false
	}
	msg := r.buf[r.head]
	r.buf[r.head] = nil // release for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return msg, true
}

func (r *ring) grow() {
	next := make([]*event.QueuedMessage, len(r.buf)*2)
	for i := 0; i < r.count; i++ {
		next[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = next
	r.head = 0
	r.tail = r.count
}
