package cooldown

import (
	"context"
	"sync"
	"time"

	"adbot/internal/storage"
	logx "adbot/pkg/logx"
)

type saveJob struct {
	actor     int64
	lastMilli int64
}

// writer is the write-behind half of the cooldown store: a bounded queue
// consumed by a single goroutine, so saves for the same actor apply in the
// order they were enqueued. Failures are logged and swallowed; the cache
// above is already authoritative.
type writer struct {
	log     logx.Logger
	durable storage.Store

	mu        sync.Mutex
	queue     chan saveJob
	accepting bool
	enqueueWG sync.WaitGroup

	workerWG sync.WaitGroup
}

func newWriter(durable storage.Store, queueSize int, log logx.Logger) *writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &writer{
		log:     log,
		durable: durable,
		queue:   make(chan saveJob, queueSize),
	}
}

func (w *writer) start() {
	w.mu.Lock()
	if w.accepting {
		w.mu.Unlock()
		return
	}
	w.accepting = true
	q := w.queue
	w.mu.Unlock()

	w.workerWG.Add(1)
	go func() {
		defer w.workerWG.Done()
		w.loop(q)
	}()
}

// loop ends when the queue closes, not on context cancellation: pending
// jobs drain before the worker exits.
func (w *writer) loop(q chan saveJob) {
	for j := range q {
		// Each save gets its own deadline; shutdown drain must not hang on a
		// stalled disk, but also must not inherit an already-cancelled ctx.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.durable.SaveCooldown(sctx, j.actor, j.lastMilli)
		cancel()
		if err != nil {
			w.log.Warn("cooldown save failed", logx.Int64("actor", j.actor), logx.Err(err))
			continue
		}
		w.log.Trace("cooldown saved", logx.Int64("actor", j.actor), logx.Int64("last_ms", j.lastMilli))
	}
}

// enqueue offers a save to the queue without blocking. It reports false when
// the writer is stopped or the queue is full.
func (w *writer) enqueue(j saveJob) bool {
	w.mu.Lock()
	if !w.accepting {
		w.mu.Unlock()
		return false
	}
	q := w.queue
	w.enqueueWG.Add(1)
	w.mu.Unlock()
	defer w.enqueueWG.Done()

	select {
	case q <- j:
		return true
	default:
		return false
	}
}

// stop blocks intake, lets in-flight enqueues finish, closes the queue so
// the worker drains the backlog, and waits for it (bounded by ctx).
func (w *writer) stop(ctx context.Context) {
	w.mu.Lock()
	if !w.accepting {
		w.mu.Unlock()
		return
	}
	w.accepting = false
	q := w.queue
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.enqueueWG.Wait()
		close(q)
		w.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn("cooldown writer stop timed out; queue not fully drained")
	}
}
