package ingest

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/dataset"
	"github.com/arloliu/diagcap/internal/metrics"
)

// Pool decodes queued chunk payloads in parallel and adds the results to a dataset.
//
// Workers start on demand as tasks are submitted, up to the configured limit, so a file with
// three chunks never runs more than three workers. A chunk that fails to decode is logged,
// counted and dropped; it never fails the pool.
type Pool struct {
	queue      *TaskQueue
	group      errgroup.Group
	maxWorkers int
	started    int

	decoder *chunk.Decoder
	dataset *dataset.Dataset
	logger  zerolog.Logger
	metrics *metrics.Collector

	added  atomic.Int64
	failed atomic.Int64

	mu     sync.Mutex
	chunks []*chunk.Chunk
}

// NewPool creates a pool feeding ds. A workers value below 1 uses GOMAXPROCS.
func NewPool(dec *chunk.Decoder, ds *dataset.Dataset, workers, queueSize int, logger zerolog.Logger, collector *metrics.Collector) *Pool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Pool{
		queue:      NewTaskQueue(queueSize, collector),
		maxWorkers: workers,
		decoder:    dec,
		dataset:    ds,
		logger:     logger,
		metrics:    collector,
	}
}

// Submit queues t and starts another worker if the limit allows. It must not be called
// concurrently or after Wait.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if p.started < p.maxWorkers {
		p.started++
		id := p.started
		p.group.Go(func() error {
			p.work(id)
			return nil
		})
	}

	return p.queue.Push(ctx, t)
}

// Wait closes the queue and blocks until every submitted task is processed.
func (p *Pool) Wait() error {
	p.queue.Close()

	return p.group.Wait()
}

// Workers returns the number of workers started so far.
func (p *Pool) Workers() int {
	return p.started
}

// Added returns the number of chunks handed to the dataset.
func (p *Pool) Added() int {
	return int(p.added.Load())
}

// Failed returns the number of chunks dropped because they failed to decode.
func (p *Pool) Failed() int {
	return int(p.failed.Load())
}

// Chunks returns the chunks this pool handed to the dataset, in no particular order. Call it
// after Wait.
func (p *Pool) Chunks() []*chunk.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.chunks
}

func (p *Pool) work(id int) {
	for {
		t, ok := p.queue.Pop()
		if !ok {
			p.logger.Trace().Int("worker_id", id).Msg("decode worker done")
			return
		}

		p.process(t)
	}
}

func (p *Pool) process(t Task) {
	c := p.decoder.NewChunk(t.ChunkID, t.Payload, t.Source)

	began := time.Now()
	err := c.Decode(false)
	if p.metrics != nil {
		p.metrics.DecodeSeconds.Observe(time.Since(began).Seconds())
	}

	if err == nil {
		err = p.dataset.AddChunk(c)
	}

	if err != nil {
		p.failed.Add(1)
		p.logger.Error().
			Err(err).
			Int64("chunk_id", t.ChunkID).
			Str("file", t.Source).
			Msg("dropping chunk that failed to decode")
		if p.metrics != nil {
			p.metrics.ChunksDropped.WithLabelValues(metrics.ReasonCorrupt).Inc()
		}

		return
	}

	p.mu.Lock()
	p.chunks = append(p.chunks, c)
	p.mu.Unlock()

	p.added.Add(1)
	if p.metrics != nil {
		p.metrics.ChunksDecoded.Inc()
	}
}
