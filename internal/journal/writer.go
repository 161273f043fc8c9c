package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
)

const (
	// DefaultBuffer is the number of events queued before Record drops.
	DefaultBuffer = 256

	pruneInterval = time.Hour
	insertTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the journal.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Buffer is the queue size. Zero means DefaultBuffer.
	Buffer int

	// Retention is how long events are kept. Zero disables pruning.
	Retention time.Duration

	Logger Logger
}

// Writer records events asynchronously. It implements event.Sink.
type Writer struct {
	store     *Store
	queue     chan event.Event
	retention time.Duration
	logger    Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewWriter creates a writer. Call Start before recording.
func NewWriter(store *Store, opts WriterOptions) *Writer {
	size := opts.Buffer
	if size <= 0 {
		size = DefaultBuffer
	}
	w := &Writer{
		store:     store,
		queue:     make(chan event.Event, size),
		retention: opts.Retention,
		logger:    opts.Logger,
		done:      make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = noopLogger{}
	}
	return w
}

// Start launches the insert loop and, when retention is set, the pruner.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.run()

	if w.retention > 0 {
		w.wg.Add(1)
		go w.pruneLoop(ctx)
	}
}

// Record queues e. It never blocks; a full queue drops the event.
func (w *Writer) Record(e event.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
		w.logger.Warn("journal queue full, event dropped", "kind", e.Kind, "state", e.State)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting events, writes what is queued and stops the pruner.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	close(w.done)
	started := w.started
	w.mu.Unlock()

	if started {
		w.wg.Wait()
	}
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := w.store.Insert(ctx, e); err != nil {
			w.logger.Error("journal insert failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}

func (w *Writer) pruneLoop(ctx context.Context) {
	defer w.wg.Done()

	w.prune(ctx)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *Writer) prune(ctx context.Context) {
	n, err := w.store.Prune(ctx, w.retention)
	if err != nil {
		w.logger.Error("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("journal pruned", "deleted", n, "retention", w.retention)
	}
}
