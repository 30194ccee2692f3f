package recompute

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/logger"
)

// ErrStopped is returned by Enqueue after Shutdown.
var ErrStopped = errors.New("recompute: worker stopped")

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Workers   int
	QueueSize int
	// OnResult, when set, is called after every handled event. Used by tests and metrics.
	OnResult func(ev domain.ProductWrite, outcome Outcome, err error)
}

// Worker feeds store write events to the Engine.
//
// Events are coalesced per product: while a product is queued, a newer event replaces the
// queued one instead of taking another slot. Recomputes of the same product never overlap;
// different products run in parallel up to Workers.
type Worker struct {
	engine   *Engine
	logger   *slog.Logger
	onResult func(domain.ProductWrite, Outcome, error)
	workers  int

	queue   chan string
	mu      sync.Mutex
	pending map[string]domain.ProductWrite
	locks   *keyedMutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates a worker; call Start to begin processing.
func NewWorker(engine *Engine, cfg WorkerConfig, log *slog.Logger) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Worker{
		engine:   engine,
		logger:   logger.OrDiscard(log),
		onResult: cfg.OnResult,
		workers:  cfg.Workers,
		queue:    make(chan string, cfg.QueueSize),
		pending:  make(map[string]domain.ProductWrite),
		locks:    newKeyedMutex(),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutines. They run until ctx is canceled or Shutdown is called.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	w.logger.Info("recompute worker started", slog.Int("workers", w.workers), slog.Int("queue_size", cap(w.queue)))
}

// Emit implements store.EventEmitter. Events the engine would skip are dropped here.
func (w *Worker) Emit(event any) {
	ev, ok := event.(domain.ProductWrite)
	if !ok {
		return
	}
	if err := w.Enqueue(ev); err != nil && !errors.Is(err, ErrStopped) {
		w.logger.Warn("failed to queue recompute", slog.String("product_id", ev.ProductID), slog.String("error", err.Error()))
	}
}

// Enqueue schedules a recompute for ev. It blocks only while the queue is full.
func (w *Worker) Enqueue(ev domain.ProductWrite) error {
	if _, ok := Guard(ev); !ok {
		return nil
	}

	select {
	case <-w.done:
		return ErrStopped
	default:
	}

	w.mu.Lock()
	if _, queued := w.pending[ev.ProductID]; queued {
		w.pending[ev.ProductID] = ev
		w.mu.Unlock()
		return nil
	}
	w.pending[ev.ProductID] = ev
	w.mu.Unlock()

	select {
	case w.queue <- ev.ProductID:
		return nil
	case <-w.done:
		w.mu.Lock()
		delete(w.pending, ev.ProductID)
		w.mu.Unlock()
		return ErrStopped
	}
}

// Pending returns the number of products waiting for a recompute.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Shutdown stops accepting events, lets in-flight recomputes finish and drops the rest.
// Dropped products are recomputed on their next write.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		w.logger.Info("recompute worker stopped")
		return nil
	case <-ctx.Done():
		if w.cancel != nil {
			w.cancel()
		}
		<-finished
		return ctx.Err()
	}
}

func (w *Worker) run(n int) {
	defer w.wg.Done()
	log := w.logger.With(slog.Int("worker", n))

	for {
		select {
		case <-w.done:
			return
		case <-w.ctx.Done():
			return
		case productID := <-w.queue:
			w.process(log, productID)
		}
	}
}

func (w *Worker) process(log *slog.Logger, productID string) {
	w.mu.Lock()
	ev, ok := w.pending[productID]
	delete(w.pending, productID)
	w.mu.Unlock()
	if !ok {
		return
	}

	unlock := w.locks.Lock(productID)
	defer unlock()

	start := time.Now()
	outcome, err := w.engine.Handle(w.ctx, ev)
	if err != nil {
		log.Warn("recompute failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
	} else {
		log.Debug("recompute finished",
			slog.String("product_id", productID),
			slog.String("outcome", outcome.String()),
			slog.Duration("took", time.Since(start)))
	}

	if w.onResult != nil {
		w.onResult(ev, outcome, err)
	}
}
