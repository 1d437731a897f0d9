// Package ratelimit provides per-connection fixed-window admission control
// for inbound events. The window resets exactly once per interval boundary,
// which permits a burst of up to twice the limit across a boundary; that
// matches the behavior clients already tolerate.
package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const shardCount = 16

// Config holds limiter settings.
type Config struct {
	Events      int           // allowed events per window
	Window      time.Duration // window length
	IdleTimeout time.Duration // buckets idle this long are garbage-collected
	GCInterval  time.Duration // how often the sweep runs (default: IdleTimeout)
}

// Limiter tracks one fixed-window bucket per connection id.
type Limiter struct {
	cfg    Config
	logger *slog.Logger
	shards [shardCount]*shard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time // overridable for tests
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// New creates a limiter. GC does not run until Start is called.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = cfg.IdleTimeout
	}

	l := &Limiter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l
}

// Start begins the background bucket sweep.
func (l *Limiter) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.gcLoop()
	return nil
}

// Stop halts the background sweep.
func (l *Limiter) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("rate limiter stop timed out")
	}
	return nil
}

// CheckAndConsume records one event against connID's bucket and reports
// whether it is within the window limit. Safe for concurrent use.
func (l *Limiter) CheckAndConsume(connID string) bool {
	now := l.now()
	s := l.shardFor(connID)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[connID]
	if !ok {
		b = &bucket{windowStart: now}
		s.buckets[connID] = b
	}
	b.lastSeen = now

	// Reset on the interval boundary, not a sliding window.
	if now.Sub(b.windowStart) >= l.cfg.Window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= l.cfg.Events {
		return false
	}
	b.count++
	return true
}

// Remove discards the bucket for a connection, if any. Called on unregister.
func (l *Limiter) Remove(connID string) {
	s := l.shardFor(connID)
	s.mu.Lock()
	delete(s.buckets, connID)
	s.mu.Unlock()
}

// Has reports whether a bucket currently exists for connID.
func (l *Limiter) Has(connID string) bool {
	s := l.shardFor(connID)
	s.mu.Lock()
	_, ok := s.buckets[connID]
	s.mu.Unlock()
	return ok
}

// BucketCount returns the total number of live buckets.
func (l *Limiter) BucketCount() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.buckets)
		s.mu.Unlock()
	}
	return total
}

// SweepOnce removes buckets idle longer than the configured timeout and
// returns how many were removed. Exposed so tests can run a sweep without
// waiting on the ticker.
func (l *Limiter) SweepOnce() int {
	cutoff := l.now().Add(-l.cfg.IdleTimeout)
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, b := range s.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(s.buckets, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (l *Limiter) gcLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if n := l.SweepOnce(); n > 0 {
				l.logger.Debug("swept idle rate buckets", "removed", n)
			}
		}
	}
}

func (l *Limiter) shardFor(connID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(connID))
	return l.shards[h.Sum32()%shardCount]
}
