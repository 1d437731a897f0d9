// Package registry tracks live connections, their authentication state, and
// the user→connection mapping. The registry is the sole owner of connection
// objects; the room manager holds only connection ids.
package registry

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jstrand/league-live/internal/auth"
	"github.com/jstrand/league-live/internal/metrics"
)

const shardCount = 16

// Errors
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrNotConnected         = errors.New("connection not registered")
)

// State is the lifecycle state of a connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

// String returns the lowercase label used in logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Sink is the write side of a connection's transport. Send must not block:
// implementations report an error when the socket buffer is full so the
// caller can drop the connection instead of stalling a broadcast.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// RoomLeaver removes a connection from every room it joined.
// Satisfied by *room.Manager.
type RoomLeaver interface {
	LeaveAll(connID string) []string
}

// BucketRemover discards per-connection rate limit state.
// Satisfied by *ratelimit.Limiter.
type BucketRemover interface {
	Remove(connID string)
}

// Config holds registry settings.
type Config struct {
	HandshakeTimeout  time.Duration // Connecting conns older than this are dropped
	HeartbeatInterval time.Duration // Authenticated conns idle this long are dropped
	SweepInterval     time.Duration // how often the idle sweep runs
}

// Registry is the connection table.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	rooms   RoomLeaver
	buckets BucketRemover

	shards [shardCount]*shard

	// user id -> set of connection ids, for multi-device broadcast
	userMu sync.RWMutex
	users  map[string]map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

// conn is the registry's private view of one connection.
type conn struct {
	mu         sync.Mutex
	id         string
	state      State
	userID     string
	sink       Sink
	openedAt   time.Time
	lastActive time.Time
}

// NewRegistry creates a registry. The room leaver and bucket remover receive
// the unregister cascade.
func NewRegistry(cfg Config, rooms RoomLeaver, buckets BucketRemover, mc *metrics.Collector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		rooms:   rooms,
		buckets: buckets,
		users:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]*conn)}
	}
	return r
}

// Start begins the idle-connection sweep.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.sweepLoop()
	return nil
}

// Stop halts the sweep. Registered connections are not closed here; the
// server closes transports during its own shutdown.
func (r *Registry) Stop(ctx context.Context) error {
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
	case <-ctx.Done():
		r.logger.Warn("registry stop timed out")
	}
	return nil
}

// Register allocates a connection in Connecting state and returns its id.
func (r *Registry) Register(sink Sink) string {
	id := uuid.NewString()
	now := r.now()

	c := &conn{
		id:         id,
		state:      StateConnecting,
		sink:       sink,
		openedAt:   now,
		lastActive: now,
	}

	s := r.shardFor(id)
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	r.metrics.ConnectionsTotal.Inc()
	r.metrics.ConnectionsActive.Inc()
	return id
}

// Authenticate validates credentials with the external authenticator and
// transitions the connection to Authenticated. On failure the caller must
// close the connection; the registry does not.
func (r *Registry) Authenticate(ctx context.Context, connID, userID, token string, authenticator auth.Authenticator) error {
	c := r.lookup(connID)
	if c == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	ok, err := authenticator.Validate(ctx, userID, token)
	if err != nil || !ok {
		r.metrics.AuthFailures.Inc()
		if err != nil {
			r.logger.Warn("authenticator error", "conn", connID, "user", userID, "error", err)
		}
		return ErrAuthenticationFailed
	}

	c.mu.Lock()
	c.state = StateAuthenticated
	c.userID = userID
	c.lastActive = r.now()
	c.mu.Unlock()

	r.userMu.Lock()
	conns, okU := r.users[userID]
	if !okU {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	conns[connID] = struct{}{}
	r.userMu.Unlock()

	r.logger.Debug("connection authenticated", "conn", connID, "user", userID)
	return nil
}

// Unregister removes a connection, cascading removal from every joined room
// and its rate bucket, and closes the transport. Idempotent.
func (r *Registry) Unregister(connID string) {
	s := r.shardFor(connID)

	s.mu.Lock()
	c, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	c.mu.Lock()
	c.state = StateDisconnected
	userID := c.userID
	sink := c.sink
	c.mu.Unlock()

	if userID != "" {
		r.userMu.Lock()
		if conns, ok := r.users[userID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.users, userID)
			}
		}
		r.userMu.Unlock()
	}

	rooms := r.rooms.LeaveAll(connID)
	r.buckets.Remove(connID)

	if sink != nil {
		sink.Close()
	}

	r.metrics.ConnectionsActive.Dec()
	r.logger.Debug("connection unregistered",
		"conn", connID,
		"user", userID,
		"rooms", len(rooms),
	)
}

// LookupByUser returns a snapshot of the connection ids for a user.
func (r *Registry) LookupByUser(userID string) []string {
	r.userMu.RLock()
	defer r.userMu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// StateOf returns a connection's state. Unknown ids report Disconnected.
func (r *Registry) StateOf(connID string) State {
	c := r.lookup(connID)
	if c == nil {
		return StateDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserOf returns the user id bound to a connection, if authenticated.
func (r *Registry) UserOf(connID string) string {
	c := r.lookup(connID)
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Touch records activity on a connection. Called for every inbound frame,
// including heartbeats.
func (r *Registry) Touch(connID string) {
	c := r.lookup(connID)
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastActive = r.now()
	c.mu.Unlock()
}

// Send writes a frame to one connection. Satisfies room.Sender.
func (r *Registry) Send(connID string, data []byte) error {
	c := r.lookup(connID)
	if c == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	sink := c.sink
	state := c.state
	c.mu.Unlock()

	if state == StateDisconnected || sink == nil {
		return ErrNotConnected
	}
	return sink.Send(data)
}

// SendToUser writes a frame to every connection of a user. Returns the count
// delivered and the ids whose send failed.
func (r *Registry) SendToUser(userID string, data []byte) (delivered int, failed []string) {
	for _, id := range r.LookupByUser(userID) {
		if err := r.Send(id, data); err != nil {
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}

// SweepOnce force-unregisters connections that missed the handshake or
// heartbeat deadline and returns their ids. Exposed for tests.
func (r *Registry) SweepOnce() []string {
	now := r.now()
	var stale []string

	for _, s := range r.shards {
		s.mu.RLock()
		for id, c := range s.conns {
			c.mu.Lock()
			switch c.state {
			case StateConnecting:
				if now.Sub(c.openedAt) > r.cfg.HandshakeTimeout {
					stale = append(stale, id)
				}
			case StateAuthenticated:
				if now.Sub(c.lastActive) > r.cfg.HeartbeatInterval {
					stale = append(stale, id)
				}
			}
			c.mu.Unlock()
		}
		s.mu.RUnlock()
	}

	for _, id := range stale {
		r.logger.Info("dropping idle connection", "conn", id)
		r.Unregister(id)
	}
	return stale
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	interval := r.cfg.SweepInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce()
		}
	}
}

func (r *Registry) lookup(connID string) *conn {
	s := r.shardFor(connID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[connID]
}

func (r *Registry) shardFor(connID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(connID))
	return r.shards[h.Sum32()%shardCount]
}
