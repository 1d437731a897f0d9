// Package room tracks room membership and performs local broadcast fan-out.
//
// A room is a logical broadcast scope (one league, one draft, one matchup).
// Rooms are created lazily on first join and destroyed when the last member
// leaves. The manager keeps the room→member and connection→room sets in
// lockstep: a connection id appears in a room's member set iff the room
// appears in that connection's joined set.
package room

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/jstrand/league-live/internal/metrics"
)

const shardCount = 32

// Errors
var (
	// ErrRoomFull is returned when a join would exceed the room capacity.
	ErrRoomFull = errors.New("room full")

	// ErrNotRegistered is returned when the joining connection is no longer
	// in the registry.
	ErrNotRegistered = errors.New("connection not registered")
)

// Sender delivers a frame to one local connection. Implemented by the
// connection registry; a failed send means the socket is unusable and the
// caller should schedule an unregister.
type Sender interface {
	Send(connID string, data []byte) error
}

// Config holds room manager settings.
type Config struct {
	Capacity int // max members per room
}

// Manager owns room membership state for this process.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	shards  [shardCount]*shard

	// Back-reference from connection id to its joined rooms. Guarded by
	// memMu, always acquired after a room shard lock, never before.
	memMu  sync.RWMutex
	joined map[string]map[string]struct{}

	// liveness reports whether a connection is still registered. Set once
	// during wiring, before any Join runs. Nil means no check.
	liveness func(connID string) bool
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> member connection ids
}

// NewManager creates a room manager.
func NewManager(cfg Config, mc *metrics.Collector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		joined:  make(map[string]map[string]struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{rooms: make(map[string]map[string]struct{})}
	}
	return m
}

// SetLiveness installs the registry check consulted on every Join. Must be
// called during wiring, before the manager sees traffic.
func (m *Manager) SetLiveness(fn func(connID string) bool) {
	m.liveness = fn
}

// Join adds a connection to a room, creating the room lazily. Re-joining a
// room the connection is already in is a no-op. Returns ErrRoomFull when the
// room is at capacity and ErrNotRegistered when the connection has already
// been unregistered.
func (m *Manager) Join(connID, room string) error {
	s := m.shardFor(room)

	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[room] = members
		m.metrics.RoomsActive.Inc()
	}

	if _, already := members[connID]; already {
		return nil
	}
	if len(members) >= m.cfg.Capacity {
		m.metrics.RoomFull.Inc()
		if len(members) == 0 {
			delete(s.rooms, room)
			m.metrics.RoomsActive.Dec()
		}
		return ErrRoomFull
	}

	members[connID] = struct{}{}

	m.memMu.Lock()
	rooms, ok := m.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		m.joined[connID] = rooms
	}
	rooms[room] = struct{}{}
	m.memMu.Unlock()

	// Validate after inserting, not before. The unregister cascade drops the
	// connection from the registry and only then sweeps its rooms, so either
	// this check observes the drop and we undo the insert here, or the sweep
	// runs after the insert is visible and removes it. A check-before-insert
	// would leave a window where a membership written after the sweep is
	// never cleaned up.
	if m.liveness != nil && !m.liveness(connID) {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.rooms, room)
			m.metrics.RoomsActive.Dec()
		}
		m.memMu.Lock()
		if rooms, ok := m.joined[connID]; ok {
			delete(rooms, room)
			if len(rooms) == 0 {
				delete(m.joined, connID)
			}
		}
		m.memMu.Unlock()
		return ErrNotRegistered
	}

	m.metrics.RoomJoins.Inc()
	return nil
}

// Leave removes a connection from a room. Idempotent; leaving a room the
// connection never joined is a no-op. Empty rooms are destroyed.
func (m *Manager) Leave(connID, room string) {
	s := m.shardFor(room)

	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		return
	}
	if _, member := members[connID]; !member {
		return
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(s.rooms, room)
		m.metrics.RoomsActive.Dec()
	}

	m.memMu.Lock()
	if rooms, ok := m.joined[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.joined, connID)
		}
	}
	m.memMu.Unlock()

	m.metrics.RoomLeaves.Inc()
}

// LeaveAll removes a connection from every room it joined and returns the
// rooms it was removed from. Called from the unregister cascade.
func (m *Manager) LeaveAll(connID string) []string {
	m.memMu.RLock()
	rooms := make([]string, 0, len(m.joined[connID]))
	for r := range m.joined[connID] {
		rooms = append(rooms, r)
	}
	m.memMu.RUnlock()

	for _, r := range rooms {
		m.Leave(connID, r)
	}
	return rooms
}

// Rooms returns a snapshot of the rooms a connection has joined.
func (m *Manager) Rooms(connID string) []string {
	m.memMu.RLock()
	defer m.memMu.RUnlock()

	rooms := make([]string, 0, len(m.joined[connID]))
	for r := range m.joined[connID] {
		rooms = append(rooms, r)
	}
	return rooms
}

// Members returns a snapshot of a room's member connection ids.
func (m *Manager) Members(room string) []string {
	s := m.shardFor(room)

	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the current member count of a room.
func (m *Manager) MemberCount(room string) int {
	s := m.shardFor(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.rooms)
		s.mu.RUnlock()
	}
	return total
}

// BroadcastLocal writes a frame to every member of a room on this process.
// Membership is snapshotted first so sends happen outside the shard lock and
// a slow socket cannot stall joins or other rooms. Returns the ids of
// connections whose send failed; the caller schedules their unregister.
func (m *Manager) BroadcastLocal(room string, data []byte, sender Sender) (delivered int, failed []string) {
	members := m.Members(room)
	if len(members) == 0 {
		return 0, nil
	}

	for _, id := range members {
		if err := sender.Send(id, data); err != nil {
			m.logger.Debug("broadcast send failed",
				"room", room,
				"conn", id,
				"error", err,
			)
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (m *Manager) shardFor(room string) *shard {
	h := fnv.New32a()
	h.Write([]byte(room))
	return m.shards[h.Sum32()%shardCount]
}
