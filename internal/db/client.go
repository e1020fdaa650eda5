package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
	"github.com/refineflow/orchestrator/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Driver          string
	DSN             string
	Workers         int
	QueueSize       int
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 2
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.Driver == DriverSQLite {
		// sqlite allows a single writer
		c.MaxConnections = 1
		c.IdleConnections = 1
	}
}

// ErrClosed is returned when writing to a closed writer.
var ErrClosed = errors.New("record writer closed")

// RecordWriter persists execution records. Writes are queued and applied
// by a fixed worker pool; a full queue falls back to a synchronous write
// so records are not dropped.
type RecordWriter struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger

	queue    chan writeRequest
	workers  int
	stopCh   chan struct{}
	workerWg sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type writeRequest struct {
	record   *RunRecord
	callback func(error)
}

// Open connects to cfg.DSN, migrates the schema and starts the workers.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*RecordWriter, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported records driver %q", cfg.Driver)
	}
	cfg.applyDefaults()

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewRecordWriter(db, cfg, logger), nil
}

// NewRecordWriter starts a writer on an open, migrated connection.
func NewRecordWriter(db *sqlx.DB, cfg Config, logger *zap.Logger) *RecordWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	cb := circuitbreaker.NewCircuitBreaker("database", circuitbreaker.GetDatabaseConfig().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("database", "records", cb)

	w := &RecordWriter{
		db:      db,
		cb:      cb,
		logger:  logger,
		queue:   make(chan writeRequest, cfg.QueueSize),
		workers: cfg.Workers,
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < w.workers; i++ {
		w.workerWg.Add(1)
		go w.writeWorker(i)
	}

	logger.Info("Record writer initialized",
		zap.String("driver", db.DriverName()),
		zap.Int("workers", w.workers),
		zap.Int("queue_size", cfg.QueueSize),
	)
	return w
}

// writeWorker processes write requests from the queue
func (w *RecordWriter) writeWorker(id int) {
	defer w.workerWg.Done()
	for {
		select {
		case <-w.stopCh:
			w.drainQueue()
			w.logger.Debug("Record worker stopped", zap.Int("worker_id", id))
			return
		case req := <-w.queue:
			metrics.RecordQueueDepth.Set(float64(len(w.queue)))
			w.process(req)
		}
	}
}

func (w *RecordWriter) process(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := w.Save(ctx, req.record)
	cancel()
	if req.callback != nil {
		req.callback(err)
	}
}

// drainQueue processes remaining requests during shutdown
func (w *RecordWriter) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-w.queue:
			w.process(req)
		case <-timeout:
			w.logger.Warn("Timeout draining record queue", zap.Int("remaining", len(w.queue)))
			return
		default:
			metrics.RecordQueueDepth.Set(0)
			return
		}
	}
}

// Enqueue schedules rec for writing. callback, if set, receives the
// outcome. When the queue is full the write happens synchronously.
func (w *RecordWriter) Enqueue(rec *RunRecord, callback func(error)) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	req := writeRequest{record: rec, callback: callback}
	select {
	case w.queue <- req:
		metrics.RecordQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		w.logger.Warn("Record queue is full, falling back to synchronous write",
			zap.String("run_id", rec.RunID))
		w.process(req)
		return nil
	}
}

// Close stops accepting records, drains the queue and closes the database.
func (w *RecordWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		close(w.stopCh)
		w.workerWg.Wait()

		if cerr := w.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
		w.logger.Info("Record writer closed")
	})
	return err
}

// Ping checks that the database still answers.
func (w *RecordWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Breaker returns the breaker guarding writes.
func (w *RecordWriter) Breaker() *circuitbreaker.CircuitBreaker { return w.cb }
