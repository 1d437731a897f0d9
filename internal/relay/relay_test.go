package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

// fakeBroker is an in-memory Broker that loops publishes back to the
// subscriber, mimicking how a real broker echoes an instance's own messages.
type fakeBroker struct {
	mu        sync.Mutex
	published [][]byte
	handler   func([]byte)
	loopback  bool
}

func (b *fakeBroker) Publish(channel string, data []byte) error {
	b.mu.Lock()
	b.published = append(b.published, data)
	handler := b.handler
	loopback := b.loopback
	b.mu.Unlock()

	if loopback && handler != nil {
		handler(data)
	}
	return nil
}

func (b *fakeBroker) Subscribe(channel string, handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.handler = nil
		b.mu.Unlock()
	}, nil
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// captureQueue records enqueued messages.
type captureQueue struct {
	mu   sync.Mutex
	msgs []*event.QueuedMessage
}

func (q *captureQueue) Enqueue(msg *event.QueuedMessage) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

func (q *captureQueue) snapshot() []*event.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*event.QueuedMessage(nil), q.msgs...)
}

func newTestRelay(t *testing.T, broker Broker, local Enqueuer) *Relay {
	t.Helper()

	r := NewRelay(Config{
		Channel:        "test.events",
		InstanceID:     "instance-a",
		PublishBuffer:  16,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	}, broker, local, metrics.NewCollector(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		r.Stop(stopCtx)
		cancel()
	})
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPublishStampsOrigin(t *testing.T) {
	broker := &fakeBroker{}
	local := &captureQueue{}
	r := newTestRelay(t, broker, local)

	r.Publish(&event.QueuedMessage{
		Room:      "league:1",
		EventType: "score_update",
		Priority:  event.PriorityHigh,
	})

	waitFor(t, func() bool { return broker.publishCount() == 1 })

	var sent event.QueuedMessage
	broker.mu.Lock()
	data := broker.published[0]
	broker.mu.Unlock()
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("decoding published message: %v", err)
	}
	if sent.Origin != "instance-a" {
		t.Errorf("Origin = %q, want instance-a", sent.Origin)
	}
}

func TestOwnEchoIsDiscarded(t *testing.T) {
	broker := &fakeBroker{loopback: true}
	local := &captureQueue{}
	r := newTestRelay(t, broker, local)

	r.Publish(&event.QueuedMessage{
		Room:      "league:1",
		EventType: "score_update",
		Priority:  event.PriorityHigh,
	})

	waitFor(t, func() bool { return broker.publishCount() == 1 })

	// The loopback delivered our own message back; it must not re-enter
	// the local queue.
	time.Sleep(20 * time.Millisecond)
	if got := local.snapshot(); len(got) != 0 {
		t.Errorf("local queue received %d echoed messages, want 0", len(got))
	}
}

func TestPeerMessageIsEnqueued(t *testing.T) {
	broker := &fakeBroker{}
	local := &captureQueue{}
	newTestRelay(t, broker, local)

	peer := event.QueuedMessage{
		Room:      "league:1",
		EventType: "draft_pick",
		Priority:  event.PriorityHigh,
		Origin:    "instance-b",
	}
	data, _ := json.Marshal(&peer)
	broker.handler(data)

	msgs := local.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("local queue received %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if !got.FromRelay {
		t.Error("relayed message not marked FromRelay")
	}
	if got.Origin != "instance-b" {
		t.Errorf("Origin = %q, want instance-b", got.Origin)
	}
	if got.EnqueuedAt.IsZero() {
		t.Error("relayed message missing local enqueue time")
	}
}

func TestUndecodableMessageIsDiscarded(t *testing.T) {
	broker := &fakeBroker{}
	local := &captureQueue{}
	newTestRelay(t, broker, local)

	broker.handler([]byte("{not json"))

	if got := local.snapshot(); len(got) != 0 {
		t.Errorf("local queue received %d messages, want 0", len(got))
	}
}
