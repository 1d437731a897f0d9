package room

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/jstrand/league-live/internal/metrics"
)

func newTestManager(capacity int) *Manager {
	return NewManager(Config{Capacity: capacity}, metrics.NewCollector(), nil)
}

func TestJoinAndLeave(t *testing.T) {
	m := newTestManager(10)

	if err := m.Join("conn-1", "league:1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := m.Join("conn-2", "league:1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	if got := m.MemberCount("league:1"); got != 2 {
		t.Errorf("MemberCount() = %d, want 2", got)
	}
	if got := m.RoomCount(); got != 1 {
		t.Errorf("RoomCount() = %d, want 1", got)
	}

	m.Leave("conn-1", "league:1")
	if got := m.MemberCount("league:1"); got != 1 {
		t.Errorf("MemberCount() after leave = %d, want 1", got)
	}

	// Last member out destroys the room.
	m.Leave("conn-2", "league:1")
	if got := m.RoomCount(); got != 0 {
		t.Errorf("RoomCount() after last leave = %d, want 0", got)
	}
}

func TestJoinIdempotent(t *testing.T) {
	m := newTestManager(10)

	m.Join("conn-1", "league:1")
	if err := m.Join("conn-1", "league:1"); err != nil {
		t.Fatalf("re-Join() error = %v", err)
	}
	if got := m.MemberCount("league:1"); got != 1 {
		t.Errorf("MemberCount() after double join = %d, want 1", got)
	}
}

func TestJoinRefusesDeadConnection(t *testing.T) {
	m := newTestManager(10)
	m.SetLiveness(func(connID string) bool { return connID != "ghost" })

	m.Join("conn-1", "league:1")

	if err := m.Join("ghost", "league:1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Join(dead conn) error = %v, want ErrNotRegistered", err)
	}
	if got := m.MemberCount("league:1"); got != 1 {
		t.Errorf("MemberCount() = %d, want 1", got)
	}
	if got := m.Rooms("ghost"); len(got) != 0 {
		t.Errorf("Rooms(ghost) = %v, want empty", got)
	}

	// A refused join into a fresh room must not leave an empty room behind.
	if err := m.Join("ghost", "league:2"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Join(dead conn, new room) error = %v, want ErrNotRegistered", err)
	}
	if got := m.RoomCount(); got != 1 {
		t.Errorf("RoomCount() = %d, want 1", got)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	m := newTestManager(10)

	// Leaving a room that was never joined is a no-op.
	m.Leave("conn-1", "league:1")

	m.Join("conn-1", "league:1")
	m.Leave("conn-1", "league:1")
	m.Leave("conn-1", "league:1")

	if got := m.RoomCount(); got != 0 {
		t.Errorf("RoomCount() = %d, want 0", got)
	}
}

func TestJoinCapacity(t *testing.T) {
	m := newTestManager(2)

	m.Join("conn-1", "league:1")
	m.Join("conn-2", "league:1")

	err := m.Join("conn-3", "league:1")
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Join() over capacity error = %v, want ErrRoomFull", err)
	}
	if got := m.MemberCount("league:1"); got != 2 {
		t.Errorf("MemberCount() = %d, want 2", got)
	}

	// An existing member re-joining a full room still succeeds.
	if err := m.Join("conn-1", "league:1"); err != nil {
		t.Errorf("re-Join() at capacity error = %v", err)
	}
}

func TestLeaveAll(t *testing.T) {
	m := newTestManager(10)

	m.Join("conn-1", "league:1")
	m.Join("conn-1", "draft:7")
	m.Join("conn-2", "league:1")

	rooms := m.LeaveAll("conn-1")
	sort.Strings(rooms)
	if len(rooms) != 2 || rooms[0] != "draft:7" || rooms[1] != "league:1" {
		t.Errorf("LeaveAll() = %v, want [draft:7 league:1]", rooms)
	}

	if got := m.MemberCount("league:1"); got != 1 {
		t.Errorf("MemberCount(league:1) = %d, want 1", got)
	}
	if got := m.MemberCount("draft:7"); got != 0 {
		t.Errorf("MemberCount(draft:7) = %d, want 0", got)
	}
	if got := m.Rooms("conn-1"); len(got) != 0 {
		t.Errorf("Rooms(conn-1) = %v, want empty", got)
	}
}

// recordingSender captures sends and fails for designated connection ids.
type recordingSender struct {
	sent map[string][]byte
	fail map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		sent: make(map[string][]byte),
		fail: make(map[string]bool),
	}
}

func (s *recordingSender) Send(connID string, data []byte) error {
	if s.fail[connID] {
		return fmt.Errorf("send to %s failed", connID)
	}
	s.sent[connID] = data
	return nil
}

func TestBroadcastLocal(t *testing.T) {
	m := newTestManager(10)
	sender := newRecordingSender()

	m.Join("conn-1", "league:1")
	m.Join("conn-2", "league:1")
	m.Join("conn-3", "other:room")

	delivered, failed := m.BroadcastLocal("league:1", []byte("frame"), sender)
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v, want none", failed)
	}
	if _, ok := sender.sent["conn-3"]; ok {
		t.Error("member of another room received the broadcast")
	}
}

func TestBroadcastLocalIsolatesFailures(t *testing.T) {
	m := newTestManager(10)
	sender := newRecordingSender()
	sender.fail["conn-2"] = true

	m.Join("conn-1", "league:1")
	m.Join("conn-2", "league:1")
	m.Join("conn-3", "league:1")

	delivered, failed := m.BroadcastLocal("league:1", []byte("frame"), sender)
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
	if len(failed) != 1 || failed[0] != "conn-2" {
		t.Errorf("failed = %v, want [conn-2]", failed)
	}

	// The failed send must not remove the member; cleanup is the caller's.
	if got := m.MemberCount("league:1"); got != 3 {
		t.Errorf("MemberCount() = %d, want 3", got)
	}
}

func TestBroadcastLocalEmptyRoom(t *testing.T) {
	m := newTestManager(10)
	sender := newRecordingSender()

	delivered, failed := m.BroadcastLocal("ghost:room", []byte("frame"), sender)
	if delivered != 0 || failed != nil {
		t.Errorf("BroadcastLocal() on empty room = (%d, %v), want (0, nil)", delivered, failed)
	}
}
