package clients

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/suifx/faucet/internal/store"
)

const (
	defaultUsageBuffer = 1024
	defaultBatchSize   = 64
	defaultFlushEvery  = time.Second
	flushTimeout       = 10 * time.Second
)

// UsageWriter batches per-request usage rows and persists them off the
// request path. Track never blocks: when the buffer is full the row is
// dropped and counted rather than stalling a handler.
type UsageWriter struct {
	store  store.Store
	logger *slog.Logger

	events     chan store.ClientUsage
	stop       chan struct{}
	done       chan struct{}
	batchSize  int
	flushEvery time.Duration

	dropped atomic.Int64
	written atomic.Int64
}

type UsageOption func(*UsageWriter)

// WithBatchSize sets how many rows accumulate before an early flush.
func WithBatchSize(n int) UsageOption {
	return func(w *UsageWriter) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(d time.Duration) UsageOption {
	return func(w *UsageWriter) {
		if d > 0 {
			w.flushEvery = d
		}
	}
}

// WithBufferSize sets the Track channel capacity.
func WithBufferSize(n int) UsageOption {
	return func(w *UsageWriter) {
		if n > 0 {
			w.events = make(chan store.ClientUsage, n)
		}
	}
}

func NewUsageWriter(st store.Store, logger *slog.Logger, opts ...UsageOption) *UsageWriter {
	w := &UsageWriter{
		store:      st,
		logger:     logger,
		events:     make(chan store.ClientUsage, defaultUsageBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Track enqueues one usage row. It returns false when the buffer is full
// and the row was dropped.
func (w *UsageWriter) Track(row store.ClientUsage) bool {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	select {
	case w.events <- row:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *UsageWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]store.ClientUsage, 0, w.batchSize)
	for {
		select {
		case <-w.stop:
			for {
				select {
				case row := <-w.events:
					batch = append(batch, row)
					if len(batch) >= w.batchSize {
						batch = w.flush(batch)
					}
				default:
					w.flush(batch)
					return
				}
			}
		case row := <-w.events:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				batch = w.flush(batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = w.flush(batch)
			}
		}
	}
}

// flush writes the batch in one attempt and returns an empty slice reusing
// the backing array. Failed batches are dropped; usage rows are advisory
// and not worth retry queues.
func (w *UsageWriter) flush(batch []store.ClientUsage) []store.ClientUsage {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := w.store.RecordClientUsage(ctx, batch); err != nil {
		w.logger.Warn("usage_flush_failed",
			slog.Int("rows", len(batch)),
			slog.String("error", err.Error()),
		)
	} else {
		w.written.Add(int64(len(batch)))
	}
	return batch[:0]
}

// Close drains pending rows and stops the writer.
func (w *UsageWriter) Close() {
	close(w.stop)
	<-w.done
}

// Stats reports lifetime written and dropped row counts.
func (w *UsageWriter) Stats() (written, dropped int64) {
	return w.written.Load(), w.dropped.Load()
}
