package ingest

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/internal/metrics"
)

// DefaultQueueSize is the number of payloads buffered between the file reader and the
// decode workers.
const DefaultQueueSize = 64

// Task is one chunk payload waiting to be decoded.
type Task struct {
	ChunkID int64
	Payload []byte
	Source  string // path of the capture file the payload was read from
}

// TaskQueue is a bounded FIFO of decode tasks.
//
// Any number of goroutines may Pop. Push and Close are meant for the single goroutine
// reading a file: after Close, pending tasks still drain and Pop reports false once the
// queue is empty.
type TaskQueue struct {
	mu     sync.RWMutex
	tasks  chan Task
	closed bool

	depth prometheus.Gauge
}

// NewTaskQueue creates a queue holding at most size tasks. A size below 1 uses
// DefaultQueueSize.
func NewTaskQueue(size int, collector *metrics.Collector) *TaskQueue {
	if size < 1 {
		size = DefaultQueueSize
	}

	q := &TaskQueue{tasks: make(chan Task, size)}
	if collector != nil {
		q.depth = collector.QueueDepth
	}

	return q
}

// Push enqueues t, blocking while the queue is full.
//
// Returns errs.ErrQueueClosed after Close, or the context error if ctx ends first.
func (q *TaskQueue) Push(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errs.ErrQueueClosed
	}

	select {
	case q.tasks <- t:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until a task is available. It returns false once the queue is closed and
// drained.
func (q *TaskQueue) Pop() (Task, bool) {
	t, ok := <-q.tasks
	if ok {
		q.observe()
	}

	return t, ok
}

// Close stops accepting tasks. It is safe to call more than once.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

func (q *TaskQueue) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.tasks)))
	}
}
