// Package ingest reads capture files into a dataset.
//
// Records are read sequentially on the calling goroutine; chunk payloads go through a bounded
// TaskQueue to a Pool of decode workers. Chunks that fail to decode are dropped without failing
// the file, so a capture with a few corrupt chunks still yields every good one.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/arloliu/diagcap/capture"
	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/dataset"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/logger"
	"github.com/arloliu/diagcap/internal/metrics"
	"github.com/arloliu/diagcap/internal/options"
)

// Option configures a Reader.
type Option = options.Option[*Reader]

// WithDecoder sets the chunk decoder. The decoder's lazy flag decides whether workers fully
// decode each chunk or only run its header pass.
func WithDecoder(dec *chunk.Decoder) Option {
	return options.New(func(r *Reader) error {
		if dec == nil {
			return errors.New("decoder cannot be nil")
		}
		r.decoder = dec

		return nil
	})
}

// WithWorkers bounds the number of decode workers. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return options.New(func(r *Reader) error {
		if n < 0 {
			return fmt.Errorf("invalid worker count %d", n)
		}
		r.workers = n

		return nil
	})
}

// WithQueueSize sets the capacity of the decode queue.
func WithQueueSize(n int) Option {
	return options.New(func(r *Reader) error {
		if n < 1 {
			return fmt.Errorf("invalid queue size %d", n)
		}
		r.queueSize = n

		return nil
	})
}

// WithMetadataOnly stops each file after its metadata record.
func WithMetadataOnly(enabled bool) Option {
	return options.NoError(func(r *Reader) {
		r.metadataOnly = enabled
	})
}

// WithLogger sets the reader's logger. Workers log dropped chunks through it.
func WithLogger(l zerolog.Logger) Option {
	return options.NoError(func(r *Reader) {
		r.logger = l
	})
}

// WithMetrics records ingestion metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return options.NoError(func(r *Reader) {
		r.metrics = c
	})
}

// Reader ingests capture files into a dataset.
type Reader struct {
	dataset      *dataset.Dataset
	decoder      *chunk.Decoder
	workers      int
	queueSize    int
	metadataOnly bool
	logger       zerolog.Logger
	metrics      *metrics.Collector
}

// NewReader creates a reader that adds chunks to ds.
func NewReader(ds *dataset.Dataset, opts ...Option) (*Reader, error) {
	if ds == nil {
		return nil, errors.New("dataset cannot be nil")
	}

	r := &Reader{
		dataset:   ds,
		queueSize: DefaultQueueSize,
		logger:    logger.Get("ingest"),
	}

	if err := options.Apply(r, opts...); err != nil {
		return nil, err
	}

	if r.decoder == nil {
		dec, err := chunk.NewDecoder()
		if err != nil {
			return nil, err
		}
		r.decoder = dec
	}

	return r, nil
}

// Dataset returns the dataset the reader fills.
func (r *Reader) Dataset() *dataset.Dataset {
	return r.dataset
}

// ReadFiles ingests paths in order and stops at the first file that cannot be read.
func (r *Reader) ReadFiles(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if _, err := r.ReadFile(ctx, path); err != nil {
			return err
		}
	}

	return nil
}

// ReadFile ingests one capture file and returns its provenance.
//
// The records are read in order: the first metadata record is kept as the file's metadata and
// every data record's payload is queued for decoding. Once the pool has drained the dataset is
// sealed and the provenance is computed from the chunks of this call that it kept. Reading a
// file twice therefore yields an empty provenance the second time, since Seal drops every
// repeated chunk as a duplicate.
//
// A truncated trailing record ends the file without error, since capture files are commonly
// read while still being written. Chunks that fail to decode are logged and dropped. An error
// is returned only when the file cannot be opened, a record is malformed or ctx ends; the
// chunks already read are kept in the dataset in every case.
func (r *Reader) ReadFile(ctx context.Context, path string) (dataset.FileProvenance, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.FileProvenance{}, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	return r.read(ctx, f, path)
}

func (r *Reader) read(ctx context.Context, src io.Reader, path string) (dataset.FileProvenance, error) {
	log := r.logger.With().Str("file", path).Logger()

	records := capture.NewReader(src)
	defer records.Close()

	pool := NewPool(r.decoder, r.dataset, r.workers, r.queueSize, log, r.metrics)
	prov := dataset.FileProvenance{Path: path}

	readErr := r.readRecords(ctx, records, pool, &prov, log)
	waitErr := pool.Wait()

	r.dataset.Seal()

	chunks := r.accepted(pool)
	prov.Chunks = len(chunks)
	if len(chunks) > 0 {
		prov.Start = chunks[0].Start()
		prov.End = chunks[len(chunks)-1].End()
	}
	for _, c := range chunks {
		prov.SampleCount += c.SampleCount()
	}
	r.dataset.AddFile(prov)

	if err := errors.Join(readErr, waitErr); err != nil {
		return prov, fmt.Errorf("read %s: %w", path, err)
	}

	if r.metrics != nil {
		r.metrics.FilesRead.Inc()
	}

	log.Debug().
		Int("chunks", prov.Chunks).
		Int("failed", pool.Failed()).
		Int("samples", prov.SampleCount).
		Int("workers", pool.Workers()).
		Msg("capture file ingested")

	return prov, nil
}

// accepted returns the chunks decoded by pool that are still in the dataset after Seal, in
// start order. Chunks of an earlier read of the same file are not included.
func (r *Reader) accepted(pool *Pool) []*chunk.Chunk {
	mine := make(map[*chunk.Chunk]struct{}, pool.Added())
	for _, c := range pool.Chunks() {
		mine[c] = struct{}{}
	}

	var out []*chunk.Chunk
	for _, c := range r.dataset.Chunks() {
		if _, ok := mine[c]; ok {
			out = append(out, c)
		}
	}

	return out
}

func (r *Reader) readRecords(ctx context.Context, records *capture.Reader, pool *Pool, prov *dataset.FileProvenance, log zerolog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := records.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, errs.ErrTruncatedRecord) {
			log.Warn().Err(err).Msg("capture file ends in a partial record")
			return nil
		}
		if err != nil {
			return err
		}

		if r.metrics != nil {
			r.metrics.RecordsRead.WithLabelValues(rec.Kind.String()).Inc()
		}

		switch rec.Kind {
		case format.RecordMetadata:
			if prov.Metadata == nil {
				prov.Metadata = rec.Doc
			}
			if r.metadataOnly {
				return nil
			}
		case format.RecordPeriodicMetadata:
			log.Trace().Int64("id", rec.ID).Msg("skipping periodic metadata")
		case format.RecordData:
			if r.metadataOnly {
				return nil
			}

			task := Task{ChunkID: rec.ID, Payload: rec.Payload, Source: prov.Path}
			if err := pool.Submit(ctx, task); err != nil {
				return err
			}
		}
	}
}
