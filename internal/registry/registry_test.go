package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jstrand/league-live/internal/metrics"
)

// fakeSink records frames and close calls.
type fakeSink struct {
	frames  [][]byte
	closed  bool
	sendErr error
}

func (s *fakeSink) Send(data []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

// fakeAuthenticator approves a fixed user/token pair.
type fakeAuthenticator struct {
	userID string
	token  string
	err    error
}

func (a *fakeAuthenticator) Validate(_ context.Context, userID, token string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return userID == a.userID && token == a.token, nil
}

// fakeRooms records LeaveAll calls.
type fakeRooms struct {
	left []string
}

func (r *fakeRooms) LeaveAll(connID string) []string {
	r.left = append(r.left, connID)
	return nil
}

// fakeBuckets records Remove calls.
type fakeBuckets struct {
	removed []string
}

func (b *fakeBuckets) Remove(connID string) {
	b.removed = append(b.removed, connID)
}

func newTestRegistry() (*Registry, *fakeRooms, *fakeBuckets, *time.Time) {
	rooms := &fakeRooms{}
	buckets := &fakeBuckets{}
	r := NewRegistry(Config{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 90 * time.Second,
	}, rooms, buckets, metrics.NewCollector(), nil)

	now := time.Now()
	r.now = func() time.Time { return now }
	return r, rooms, buckets, &now
}

func TestRegisterStartsConnecting(t *testing.T) {
	r, _, _, _ := newTestRegistry()

	id := r.Register(&fakeSink{})
	if id == "" {
		t.Fatal("Register() returned empty id")
	}
	if got := r.StateOf(id); got != StateConnecting {
		t.Errorf("StateOf() = %v, want StateConnecting", got)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestAuthenticate(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	id := r.Register(&fakeSink{})

	if err := r.Authenticate(context.Background(), id, "user-1", "good", authn); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got := r.StateOf(id); got != StateAuthenticated {
		t.Errorf("StateOf() = %v, want StateAuthenticated", got)
	}
	if got := r.UserOf(id); got != "user-1" {
		t.Errorf("UserOf() = %q, want %q", got, "user-1")
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	id := r.Register(&fakeSink{})

	err := r.Authenticate(context.Background(), id, "user-1", "bad", authn)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthenticationFailed", err)
	}
	if got := r.StateOf(id); got != StateConnecting {
		t.Errorf("StateOf() after failed auth = %v, want StateConnecting", got)
	}
}

func TestAuthenticateTwice(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	id := r.Register(&fakeSink{})
	if err := r.Authenticate(context.Background(), id, "user-1", "good", authn); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	err := r.Authenticate(context.Background(), id, "user-1", "good", authn)
	if !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Errorf("second Authenticate() error = %v, want ErrAlreadyAuthenticated", err)
	}
}

func TestAuthenticateUnknownConnection(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	err := r.Authenticate(context.Background(), "no-such-conn", "user-1", "good", authn)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Authenticate() error = %v, want ErrNotConnected", err)
	}
}

func TestUnregisterCascades(t *testing.T) {
	r, rooms, buckets, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}
	sink := &fakeSink{}

	id := r.Register(sink)
	r.Authenticate(context.Background(), id, "user-1", "good", authn)

	r.Unregister(id)

	if got := r.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if got := r.StateOf(id); got != StateDisconnected {
		t.Errorf("StateOf() = %v, want StateDisconnected", got)
	}
	if len(rooms.left) != 1 || rooms.left[0] != id {
		t.Errorf("rooms.LeaveAll calls = %v, want [%s]", rooms.left, id)
	}
	if len(buckets.removed) != 1 || buckets.removed[0] != id {
		t.Errorf("buckets.Remove calls = %v, want [%s]", buckets.removed, id)
	}
	if !sink.closed {
		t.Error("sink was not closed")
	}
	if got := r.LookupByUser("user-1"); got != nil {
		t.Errorf("LookupByUser() = %v, want nil", got)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r, rooms, _, _ := newTestRegistry()

	id := r.Register(&fakeSink{})
	r.Unregister(id)
	r.Unregister(id)

	if len(rooms.left) != 1 {
		t.Errorf("LeaveAll called %d times, want 1", len(rooms.left))
	}
}

func TestLookupByUserMultiDevice(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	id1 := r.Register(&fakeSink{})
	id2 := r.Register(&fakeSink{})
	r.Authenticate(context.Background(), id1, "user-1", "good", authn)
	r.Authenticate(context.Background(), id2, "user-1", "good", authn)

	conns := r.LookupByUser("user-1")
	if len(conns) != 2 {
		t.Fatalf("LookupByUser() returned %d conns, want 2", len(conns))
	}
}

func TestSendToUser(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	good := &fakeSink{}
	bad := &fakeSink{sendErr: errors.New("buffer full")}

	id1 := r.Register(good)
	id2 := r.Register(bad)
	r.Authenticate(context.Background(), id1, "user-1", "good", authn)
	r.Authenticate(context.Background(), id2, "user-1", "good", authn)

	delivered, failed := r.SendToUser("user-1", []byte("frame"))
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if len(failed) != 1 || failed[0] != id2 {
		t.Errorf("failed = %v, want [%s]", failed, id2)
	}
	if len(good.frames) != 1 {
		t.Errorf("good sink received %d frames, want 1", len(good.frames))
	}
}

func TestSendToUnregisteredConnection(t *testing.T) {
	r, _, _, _ := newTestRegistry()

	id := r.Register(&fakeSink{})
	r.Unregister(id)

	if err := r.Send(id, []byte("frame")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestSweepOnceDropsStaleHandshake(t *testing.T) {
	r, _, _, now := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	stale := r.Register(&fakeSink{})
	fresh := r.Register(&fakeSink{})
	r.Authenticate(context.Background(), fresh, "user-1", "good", authn)

	// Past the handshake deadline, but within the heartbeat window.
	*now = now.Add(11 * time.Second)
	r.Touch(fresh)

	dropped := r.SweepOnce()
	if len(dropped) != 1 || dropped[0] != stale {
		t.Errorf("SweepOnce() = %v, want [%s]", dropped, stale)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestSweepOnceDropsMissedHeartbeat(t *testing.T) {
	r, _, _, now := newTestRegistry()
	authn := &fakeAuthenticator{userID: "user-1", token: "good"}

	id1 := r.Register(&fakeSink{})
	id2 := r.Register(&fakeSink{})
	r.Authenticate(context.Background(), id1, "user-1", "good", authn)
	r.Authenticate(context.Background(), id2, "user-1", "good", authn)

	*now = now.Add(2 * time.Minute)
	r.Touch(id2)

	dropped := r.SweepOnce()
	if len(dropped) != 1 || dropped[0] != id1 {
		t.Errorf("SweepOnce() = %v, want [%s]", dropped, id1)
	}
}
