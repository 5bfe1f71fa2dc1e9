package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-headwatch/pkg/journal"
)

const (
	// writeTimeout bounds each background write.
	writeTimeout = 5 * time.Second

	// DefaultQueueSize is the number of events buffered ahead of the writer.
	DefaultQueueSize = 256
)

type eventWriter interface {
	SetReference(ctx context.Context, id uuid.UUID, height float64, at time.Time) error
	RecordEvent(ctx context.Context, e journal.Event) error
}

// queued is either an event or a flush marker.
type queued struct {
	event   journal.Event
	flushed chan struct{}
}

// recorder moves database writes off the publishing goroutine. Events go
// through a bounded queue to a single writer; when the queue is full the
// event is dropped and counted.
type recorder struct {
	w      eventWriter
	logger atomic.Pointer[slog.Logger]

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
}

func newRecorder(w eventWriter, size int, logger *slog.Logger) *recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &recorder{
		w:     w,
		queue: make(chan queued, size),
		done:  make(chan struct{}),
	}
	r.logger.Store(logger)
	go r.run()
	return r
}

// enqueue never blocks.
func (r *recorder) enqueue(e journal.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- queued{event: e}:
	default:
		n := r.dropped.Add(1)
		r.logger.Load().Warn("event queue full, dropping event", "kind", e.Kind, "seq", e.Seq, "dropped", n)
	}
}

// flush waits until everything enqueued before the call has been written.
func (r *recorder) flush(ctx context.Context) error {
	marker := queued{flushed: make(chan struct{})}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- marker:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recorder) run() {
	defer close(r.done)
	for q := range r.queue {
		if q.flushed != nil {
			close(q.flushed)
			continue
		}
		r.write(q.event)
	}
}

func (r *recorder) write(e journal.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	logger := r.logger.Load()
	if e.Kind == journal.KindCalibrated {
		if err := r.w.SetReference(ctx, e.SessionID, e.ReferenceHeight, e.Time); err != nil {
			logger.Warn("persist reference failed", "error", err)
		}
	}
	if err := r.w.RecordEvent(ctx, e); err != nil {
		logger.Warn("persist event failed", "kind", e.Kind, "error", err)
		return
	}
	r.written.Add(1)
}

// close stops intake and waits for the queue to drain.
func (r *recorder) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
