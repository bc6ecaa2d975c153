// Package actor provides the single-worker task queue that serializes all work for one device.
//
// A Queue owns exactly one worker goroutine. Tasks run strictly in submission order and
// never concurrently, which is what allows the device driver to be called without locks.
// Submit blocks only when the queue is full (backpressure). Stop enqueues a sentinel and
// waits for the worker, so every task submitted before Stop still runs.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-spectrad/internal/pool"
	"github.com/arloliu/go-spectrad/logger"
)

// DefaultCapacity is the queue capacity used when a non-positive capacity is given.
const DefaultCapacity = 64

var (
	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("actor queue stopped")

	// ErrStopTimeout is returned by StopTimeout when the worker did not drain in time.
	ErrStopTimeout = errors.New("actor queue stop timeout")
)

// Task is one unit of work executed on the worker goroutine.
type Task struct {
	// Name identifies the task in logs.
	Name string
	// Run is the task body.
	Run func()
	// Recover, when not nil, is called on the worker with the recovered value if Run panics.
	// It is the place to turn the failure into a response.
	Recover func(r any)
}

// Queue is a bounded FIFO of tasks drained by a single worker goroutine.
type Queue struct {
	name   string
	logger logger.Logger

	tasks chan *Task // nil entry is the stop sentinel
	done  chan struct{}

	mu      sync.RWMutex // guards stopped against concurrent Submit
	stopped bool

	pending  atomic.Int64
	executed atomic.Uint64
	panics   atomic.Uint64
}

// NewQueue creates a queue and starts its worker.
func NewQueue(name string, capacity int, l logger.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if l == nil {
		l = logger.GetLogger()
	}

	q := &Queue{
		name:   name,
		logger: l.With("queue", name),
		tasks:  make(chan *Task, capacity),
		done:   make(chan struct{}),
	}

	go q.worker()

	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Submit enqueues t. It blocks while the queue is full and returns ErrStopped once the queue
// has been stopped.
func (q *Queue) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("submit %q: nil task body", t.Name)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrStopped
	}

	q.pending.Add(1)
	q.tasks <- &t

	return nil
}

// Stop enqueues the sentinel and waits until every previously submitted task has run.
// It is safe to call Stop more than once.
func (q *Queue) Stop() {
	if q.markStopped() {
		q.tasks <- nil
	}
	<-q.done
}

// StopTimeout is Stop bounded by timeout. The sentinel is always enqueued; on timeout the
// worker keeps draining in the background.
func (q *Queue) StopTimeout(timeout time.Duration) error {
	if q.markStopped() {
		q.tasks <- nil
	}

	if !pool.WaitDone(context.Background(), q.done, timeout) {
		q.logger.Warn("queue did not drain in time", "timeout", timeout, "pending", q.Len())
		return ErrStopTimeout
	}

	return nil
}

// markStopped flips the stopped flag and reports whether this call did it.
// Taking the write lock waits for Submit calls blocked on a full queue; they complete
// because the worker keeps draining.
func (q *Queue) markStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	q.stopped = true

	return true
}

// Done is closed when the worker has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Len returns the number of submitted tasks that have not finished yet.
func (q *Queue) Len() int { return int(q.pending.Load()) }

// Executed returns the number of tasks the worker has finished.
func (q *Queue) Executed() uint64 { return q.executed.Load() }

// Panics returns the number of tasks that panicked.
func (q *Queue) Panics() uint64 { return q.panics.Load() }

func (q *Queue) worker() {
	defer close(q.done)

	q.logger.Debug("queue worker started")
	for t := range q.tasks {
		if t == nil {
			q.logger.Debug("queue worker stopped", "executed", q.Executed())
			return
		}

		q.run(t)
		q.pending.Add(-1)
		q.executed.Add(1)
	}
}

// run executes one task inside the recovery boundary.
func (q *Queue) run(t *Task) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		q.panics.Add(1)
		q.logger.Error("panic in task", "task", t.Name, "panic", r)
		if t.Recover != nil {
			q.recoverHook(t, r)
		}
	}()

	t.Run()
}

func (q *Queue) recoverHook(t *Task, r any) {
	defer func() {
		if r2 := recover(); r2 != nil {
			q.logger.Error("panic in task recover hook", "task", t.Name, "panic", r2)
		}
	}()

	t.Recover(r)
}
