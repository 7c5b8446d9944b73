// Package diagcap decodes diagnostic capture files into a queryable time-series dataset.
//
// A capture file is a sequence of BSON records: one metadata document describing the process,
// then data records that each carry a compressed chunk of up to a few hundred samples of every
// tracked metric. diagcap reads the records, decodes the chunks in parallel and assembles them
// into a dataset.Dataset ordered by time, where each metric can be read back as an int64
// series over any half-open time range.
//
// # Basic Usage
//
//	ds, err := diagcap.ParseFiles(ctx, []string{"metrics.2024-05-01T00-00-00Z-00000"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	names, _ := ds.MetricNames()
//	conns, _ := ds.Metric("serverStatus.connections.current", diagcap.FirstTimestamp, diagcap.LastTimestamp)
//
// # Lazy Decoding
//
// With WithLazy(true) ingestion only decodes each chunk's timestamp column. The remaining
// columns are decoded on the first query that touches the chunk, which keeps ingestion fast when
// only a handful of metrics are ever read:
//
//	ds, err := diagcap.ParseFiles(ctx, paths, diagcap.WithLazy(true))
//
// # Package Structure
//
// This package wraps the ingest, dataset and chunk packages for the common case. Use them
// directly for finer control, for example to reuse one dataset across several ingest passes.
package diagcap

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/dataset"
	"github.com/arloliu/diagcap/ingest"
	"github.com/arloliu/diagcap/internal/hash"
	"github.com/arloliu/diagcap/internal/logger"
	"github.com/arloliu/diagcap/internal/metrics"
	"github.com/arloliu/diagcap/internal/options"
)

// Sentinel timestamps selecting the first and last sample of a dataset.
const (
	FirstTimestamp = dataset.FirstTimestamp
	LastTimestamp  = dataset.LastTimestamp
)

// Option configures ParseFiles.
type Option = options.Option[*config]

type config struct {
	chunkOpts    []chunk.Option
	workers      int
	metadataOnly bool
	logger       zerolog.Logger
	registerer   prometheus.Registerer
}

// WithLazy defers decoding of every metric column except the timestamps until first access.
func WithLazy(lazy bool) Option {
	return options.NoError(func(c *config) {
		c.chunkOpts = append(c.chunkOpts, chunk.WithLazy(lazy))
	})
}

// WithChunkOptions passes options to the chunk decoder, such as chunk.WithCompression or
// chunk.WithMaxSamples.
func WithChunkOptions(opts ...chunk.Option) Option {
	return options.NoError(func(c *config) {
		c.chunkOpts = append(c.chunkOpts, opts...)
	})
}

// WithWorkers bounds the number of decode workers. Zero, the default, uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return options.New(func(c *config) error {
		if n < 0 {
			return errors.New("worker count cannot be negative")
		}
		c.workers = n

		return nil
	})
}

// WithMetadataOnly reads only the metadata record of each file. The returned dataset holds
// file provenance with metadata documents and no chunks.
func WithMetadataOnly(enabled bool) Option {
	return options.NoError(func(c *config) {
		c.metadataOnly = enabled
	})
}

// WithLogger sets the logger used for dropped chunks and truncated files.
func WithLogger(l zerolog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = l
	})
}

// WithRegisterer registers ingestion metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return options.NoError(func(c *config) {
		c.registerer = reg
	})
}

// ParseFiles reads capture files into a new dataset.
//
// Files are read in the given order; chunks are ordered by time regardless. Chunks that fail
// to decode, repeat an earlier time range or declare a different metric set than the first
// chunk are logged and dropped without failing the call.
//
// Parameters:
//   - ctx: Cancels ingestion between records
//   - paths: Capture files to read
//   - opts: Decoding and ingestion options
//
// Returns:
//   - *dataset.Dataset: The sealed dataset. It is returned with the chunks read so far even
//     when an error occurs, unless the options are invalid.
//   - error: An error if an option is invalid, a file cannot be opened or holds a malformed
//     record, or ctx ends.
//
// Example:
//
//	ds, err := diagcap.ParseFiles(ctx, paths, diagcap.WithLazy(true), diagcap.WithWorkers(4))
func ParseFiles(ctx context.Context, paths []string, opts ...Option) (*dataset.Dataset, error) {
	cfg := &config{logger: logger.Get("diagcap")}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	collector, err := metrics.New(cfg.registerer)
	if err != nil {
		return nil, err
	}

	dec, err := chunk.NewDecoder(cfg.chunkOpts...)
	if err != nil {
		return nil, err
	}

	ds, err := dataset.New(dataset.WithLogger(cfg.logger), dataset.WithMetrics(collector))
	if err != nil {
		return nil, err
	}

	r, err := ingest.NewReader(ds,
		ingest.WithDecoder(dec),
		ingest.WithWorkers(cfg.workers),
		ingest.WithMetadataOnly(cfg.metadataOnly),
		ingest.WithLogger(cfg.logger),
		ingest.WithMetrics(collector),
	)
	if err != nil {
		return nil, err
	}

	return ds, r.ReadFiles(ctx, paths)
}

// MetricID returns the 64-bit identifier of a metric name.
//
// Datasets index their metric catalog by this hash, falling back to name comparison for the
// rare names whose identifiers collide.
func MetricID(name string) uint64 {
	return hash.ID(name)
}
