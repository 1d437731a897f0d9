package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

func newTestArchiver(bufferSize int) *Archiver {
	return NewArchiver(Config{
		InstanceID:    "instance-a",
		BatchSize:     10,
		FlushInterval: time.Hour,
		BufferSize:    bufferSize,
	}, nil, metrics.NewCollector(), nil)
}

func TestRecordMapsMessageToRow(t *testing.T) {
	a := newTestArchiver(8)

	a.Record(&event.QueuedMessage{
		Room:      "league:1",
		EventType: "score_update",
		Payload:   json.RawMessage(`{"points":12}`),
		Priority:  event.PriorityHigh,
	}, 3)

	row := <-a.input
	if row.Room != "league:1" || row.EventType != "score_update" {
		t.Errorf("row = %+v", row)
	}
	if row.Priority != "high" {
		t.Errorf("Priority = %q, want high", row.Priority)
	}
	if row.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", row.Delivered)
	}
	if row.DeliveredAt == 0 {
		t.Error("DeliveredAt not stamped")
	}

	// Messages without a relay origin are attributed to this instance.
	if row.Origin != "instance-a" {
		t.Errorf("Origin = %q, want instance-a", row.Origin)
	}
}

func TestRecordKeepsRelayOrigin(t *testing.T) {
	a := newTestArchiver(8)

	a.Record(&event.QueuedMessage{
		Room:      "league:1",
		EventType: "draft_pick",
		Priority:  event.PriorityHigh,
		Origin:    "instance-b",
		FromRelay: true,
	}, 1)

	row := <-a.input
	if row.Origin != "instance-b" {
		t.Errorf("Origin = %q, want instance-b", row.Origin)
	}
	if !row.FromRelay {
		t.Error("FromRelay not carried into the row")
	}
}

func TestRecordDropsWhenBufferFull(t *testing.T) {
	a := newTestArchiver(1)

	msg := &event.QueuedMessage{Room: "league:1", EventType: "chat_message", Priority: event.PriorityMedium}
	a.Record(msg, 1)

	// Nothing consumes the buffer; this call must return instead of blocking.
	done := make(chan struct{})
	go func() {
		a.Record(msg, 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	if got := len(a.input); got != 1 {
		t.Errorf("buffered rows = %d, want 1", got)
	}
}
