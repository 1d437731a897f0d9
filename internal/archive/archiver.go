// Package archive batch-writes delivered domain events to PostgreSQL for
// offline analytics. It sits off the flush path behind a bounded channel:
// when the archive falls behind, events are dropped from the archive only,
// never from delivery. Nothing in the messaging core reads this data back.
package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jstrand/league-live/internal/event"
	"github.com/jstrand/league-live/internal/metrics"
)

// Config holds archiver settings.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Archiver consumes delivered events and writes them in batches.
type Archiver struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	db      *pgxpool.Pool

	input chan eventRow

	batch   []eventRow
	batchMu sync.Mutex

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// eventRow is the archived form of one delivered message.
type eventRow struct {
	DeliveredAt int64 // µs since epoch
	Room        string
	UserID      string
	EventType   string
	Priority    string
	Payload     []byte
	Delivered   int
	Origin      string
	FromRelay   bool
}

// NewArchiver creates an archiver writing through the given pool.
func NewArchiver(cfg Config, db *pgxpool.Pool, mc *metrics.Collector, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Archiver{
		cfg:     cfg,
		logger:  logger,
		metrics: mc,
		db:      db,
		input:   make(chan eventRow, cfg.BufferSize),
		batch:   make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming and flushing.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.wg.Add(1)
	go a.consumeLoop()

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (a *Archiver) Stop(ctx context.Context) error {
	a.logger.Info("stopping archiver")

	if a.cancel != nil {
		a.cancel()
	}
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("archiver stopped")
	case <-ctx.Done():
		a.logger.Warn("archiver stop timed out")
	}

	a.flush()
	return nil
}

// Record accepts a delivered message without blocking. Wired to the flush
// scheduler's delivered-message observer.
func (a *Archiver) Record(msg *event.QueuedMessage, delivered int) {
	row := eventRow{
		DeliveredAt: time.Now().UnixMicro(),
		Room:        msg.Room,
		UserID:      msg.UserID,
		EventType:   msg.EventType,
		Priority:    msg.Priority.String(),
		Payload:     msg.Payload,
		Delivered:   delivered,
		Origin:      msg.Origin,
		FromRelay:   msg.FromRelay,
	}
	if row.Origin == "" {
		row.Origin = a.cfg.InstanceID
	}

	select {
	case a.input <- row:
	default:
		// Archive lag must not slow delivery.
		a.logger.Debug("archive buffer full, dropping row", "event_type", msg.EventType)
	}
}

func (a *Archiver) consumeLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case row := <-a.input:
			a.batchMu.Lock()
			a.batch = append(a.batch, row)
			shouldFlush := len(a.batch) >= a.cfg.BatchSize
			a.batchMu.Unlock()

			if shouldFlush {
				a.flush()
			}
		}
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flush()
		}
	}
}

func (a *Archiver) flush() {
	a.batchMu.Lock()
	if len(a.batch) == 0 {
		a.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := a.batch
	a.batch = make([]eventRow, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	start := time.Now()

	if err := a.batchInsert(batch); err != nil {
		a.metrics.ArchiveErrors.Inc()
		a.logger.Error("archive batch insert failed", "error", err, "count", len(batch))
		return
	}

	a.metrics.ArchiveBatches.Inc()
	a.metrics.ArchiveRows.Add(float64(len(batch)))

	a.logger.Debug("flushed archive batch",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert writes rows using pgx.Batch. The table is append-only.
func (a *Archiver) batchInsert(rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO delivered_events (delivered_at, room, user_id, event_type, priority, payload, delivered, origin, from_relay)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, r.DeliveredAt, r.Room, r.UserID, r.EventType, r.Priority, r.Payload, r.Delivered, r.Origin, r.FromRelay)
	}

	results := a.db.SendBatch(a.ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
