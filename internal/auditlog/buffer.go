// Package auditlog delivers reconciliation audit notices to their
// destinations: a buffered COPY writer for Postgres and a structured-log
// writer for nodes without a database.
package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered notices. Past it new
// notices are dropped and counted; recording never blocks reconciliation.
const maxBufferCapacity = 100_000

// Store persists a batch of notices. *storage.DB implements it.
type Store interface {
	InsertAuditNotices(ctx context.Context, notices []reconcile.Notice) (int64, error)
}

// Buffer accumulates notices in memory and flushes them to a Store when
// either the batch size or the flush interval is reached.
type Buffer struct {
	store        Store
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu      sync.Mutex
	notices []reconcile.Notice

	dropped atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

var _ reconcile.AuditSink = (*Buffer)(nil)

// NewBuffer creates a notice buffer.
func NewBuffer(store Store, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if flushTimeout <= 0 {
		flushTimeout = time.Second
	}
	return &Buffer{
		store:        store,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. A second
// call is a no-op. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("auditlog: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Record implements reconcile.AuditSink.
func (b *Buffer) Record(_ context.Context, n reconcile.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.notices) >= maxBufferCapacity {
		b.dropped.Add(1)
		return
	}
	b.notices = append(b.notices, n)
	if len(b.notices) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final flush needs a live one.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.notices) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.notices
	b.notices = nil
	b.mu.Unlock()

	start := time.Now()
	count, err := b.store.InsertAuditNotices(ctx, batch)
	if err != nil {
		b.logger.Error("auditlog: flush failed", "error", err, "batch_size", len(batch))
		b.mu.Lock()
		if len(b.notices)+len(batch) <= maxBufferCapacity {
			b.notices = append(batch, b.notices...)
		} else {
			b.dropped.Add(int64(len(batch)))
			b.logger.Error("auditlog: dropping notices, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Debug("auditlog: batch flushed",
		"batch_size", count,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain stops the flush loop after a final flush. ctx bounds both the wait
// and the final flush.
func (b *Buffer) Drain(ctx context.Context) {
	if !b.started.Load() {
		return
	}
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("auditlog: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("ruikei/auditlog")

	_, _ = meter.Int64ObservableGauge("ruikei.audit.buffer.depth",
		metric.WithDescription("Current number of audit notices waiting to be written"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("ruikei.audit.buffer.dropped_total",
		metric.WithDescription("Total audit notices dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}

// Len returns the current number of buffered notices.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notices)
}

// Dropped returns the total number of notices lost to capacity exhaustion.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}
