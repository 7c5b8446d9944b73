package dataset

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/internal/collision"
	"github.com/arloliu/diagcap/internal/logger"
	"github.com/arloliu/diagcap/internal/metrics"
	"github.com/arloliu/diagcap/internal/options"
)

// Sentinel timestamps selecting the absolute bounds of a dataset.
const (
	FirstTimestamp int64 = math.MinInt64
	LastTimestamp  int64 = math.MaxInt64
)

// FileProvenance records one ingested capture file.
type FileProvenance struct {
	Path        string
	Start       int64 // first sample time of the file's accepted chunks, in milliseconds
	End         int64 // last sample time of the file's accepted chunks, in milliseconds
	SampleCount int
	Chunks      int
	Metadata    bsoncore.Document // the file's leading metadata document, uninterpreted
}

// Option configures a Dataset.
type Option = options.Option[*Dataset]

// WithLogger sets the logger used to report dropped chunks.
func WithLogger(l zerolog.Logger) Option {
	return options.NoError(func(d *Dataset) {
		d.logger = l
	})
}

// WithMetrics records dropped chunks on c.
func WithMetrics(c *metrics.Collector) Option {
	return options.NoError(func(d *Dataset) {
		d.metrics = c
	})
}

// Dataset is a time-ordered collection of chunks sharing one metric catalog.
//
// Chunks are added concurrently during ingestion with AddChunk and put in order by Seal. Every
// query method assumes ingestion has finished: callers must not query while AddChunk calls are
// in flight.
type Dataset struct {
	mu           sync.Mutex
	chunks       []*chunk.Chunk
	unsealed     int
	totalSamples int
	catalog      *collision.Tracker
	names        []string
	files        []FileProvenance

	logger  zerolog.Logger
	metrics *metrics.Collector
}

// New creates an empty dataset.
func New(opts ...Option) (*Dataset, error) {
	d := &Dataset{
		logger: logger.Get("dataset"),
	}

	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// AddChunk appends a chunk. It is safe for concurrent use.
//
// The chunk must have passed its header pass (chunk.Chunk.Index) so its time range and
// sample count are known; a chunk whose header pass fails is rejected with its decode error.
func (d *Dataset) AddChunk(c *chunk.Chunk) error {
	if err := c.Index(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.chunks = append(d.chunks, c)
	d.unsealed++
	d.totalSamples += c.SampleCount()

	return nil
}

// Seal orders the chunks by start time and enforces the dataset invariants.
//
// The first Seal establishes the metric catalog from the earliest chunk. Chunks whose metric
// names differ from the catalog, and chunks that start at or before the end of an earlier
// chunk, are dropped and logged. Seal may be called again after more chunks were added; it
// returns the chunks dropped by this call.
func (d *Dataset) Seal() []*chunk.Chunk {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unsealed == 0 {
		return nil
	}
	d.unsealed = 0

	slices.SortStableFunc(d.chunks, func(a, b *chunk.Chunk) int {
		switch {
		case a.Start() < b.Start():
			return -1
		case a.Start() > b.Start():
			return 1
		default:
			return 0
		}
	})

	if d.catalog == nil {
		names, _ := d.chunks[0].MetricNames()
		d.catalog = collision.NewTracker()
		for _, name := range names {
			_, _ = d.catalog.TrackMetric(name)
		}
		d.names = names
	}

	var dropped []*chunk.Chunk
	kept := d.chunks[:0]
	total := 0
	for _, c := range d.chunks {
		if err := d.admit(kept, c); err != nil {
			d.logger.Warn().
				Err(err).
				Int64("chunk_id", c.ID()).
				Str("file", c.Source()).
				Int64("start", c.Start()).
				Msg("dropping chunk")
			d.recordDrop(err)
			dropped = append(dropped, c)

			continue
		}

		kept = append(kept, c)
		total += c.SampleCount()
	}

	clear(d.chunks[len(kept):])
	d.chunks = kept
	d.totalSamples = total

	return dropped
}

func (d *Dataset) admit(kept []*chunk.Chunk, c *chunk.Chunk) error {
	names, err := c.MetricNames()
	if err != nil {
		return err
	}

	if !slices.Equal(names, d.names) {
		return fmt.Errorf("%w: %d metrics, catalog has %d", errs.ErrMetricCatalogMismatch, len(names), len(d.names))
	}

	if len(kept) > 0 {
		prev := kept[len(kept)-1]
		if c.Start() <= prev.End() {
			return fmt.Errorf("%w: starts at %d, chunk %d ends at %d", errs.ErrDuplicateChunk, c.Start(), prev.ID(), prev.End())
		}
	}

	return nil
}

func (d *Dataset) recordDrop(err error) {
	if d.metrics == nil {
		return
	}

	reason := metrics.ReasonCorrupt
	switch {
	case errors.Is(err, errs.ErrMetricCatalogMismatch):
		reason = metrics.ReasonCatalogMismatch
	case errors.Is(err, errs.ErrDuplicateChunk):
		reason = metrics.ReasonDuplicate
	}
	d.metrics.ChunksDropped.WithLabelValues(reason).Inc()
}

// AddFile appends a provenance entry.
func (d *Dataset) AddFile(f FileProvenance) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.files = append(d.files, f)
}

// Files returns the provenance of every ingested file in ingestion order.
func (d *Dataset) Files() []FileProvenance {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.files)
}

// Chunks returns the chunks in start order.
func (d *Dataset) Chunks() []*chunk.Chunk {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.chunks)
}

// ChunksFrom returns the chunks read from the given file, in start order.
func (d *Dataset) ChunksFrom(path string) []*chunk.Chunk {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*chunk.Chunk
	for _, c := range d.chunks {
		if c.Source() == path {
			out = append(out, c)
		}
	}

	return out
}

// SampleCount returns the total number of samples over all chunks.
func (d *Dataset) SampleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.totalSamples
}

// Span returns the first and last sample time of the dataset.
func (d *Dataset) Span() (int64, int64, error) {
	if len(d.chunks) == 0 {
		return 0, 0, errs.ErrEmptyDataset
	}

	return d.chunks[0].Start(), d.chunks[len(d.chunks)-1].End(), nil
}

// MetricNames returns the metric catalog.
func (d *Dataset) MetricNames() ([]string, error) {
	if len(d.chunks) == 0 {
		return nil, errs.ErrEmptyDataset
	}

	return slices.Clone(d.names), nil
}

// ReleasePayloads drops the compressed payload of every decoded chunk and returns how many
// were released. Pending lazy chunks keep theirs.
func (d *Dataset) ReleasePayloads() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.chunks {
		if c.ReleasePayload() {
			n++
		}
	}

	return n
}

// SampleLocation addresses one sample of the dataset.
//
// Two out-of-range values exist: {Chunk: len(chunks)} lies after the last sample and
// {Chunk: -1} lies before the first one.
type SampleLocation struct {
	Chunk  int
	Sample int
}

// Compare orders locations by chunk, then by sample.
func (l SampleLocation) Compare(o SampleLocation) int {
	switch {
	case l.Chunk != o.Chunk:
		if l.Chunk < o.Chunk {
			return -1
		}

		return 1
	case l.Sample < o.Sample:
		return -1
	case l.Sample > o.Sample:
		return 1
	default:
		return 0
	}
}

// Locate resolves a timestamp to a sample.
//
// FirstTimestamp resolves to the first sample and LastTimestamp to the last one without
// scanning. Otherwise a start location (fromStart) is the first sample at or after ts, and an
// end location is the last sample strictly before ts. An end location that falls on the first
// sample of a chunk therefore moves to the last sample of the previous chunk, which makes
// [start, end) ranges split cleanly at any timestamp.
func (d *Dataset) Locate(ts int64, fromStart bool) (SampleLocation, error) {
	n := len(d.chunks)
	if n == 0 {
		return SampleLocation{}, errs.ErrEmptyDataset
	}

	switch ts {
	case FirstTimestamp:
		return SampleLocation{Chunk: 0, Sample: 0}, nil
	case LastTimestamp:
		return SampleLocation{Chunk: n - 1, Sample: d.chunks[n-1].SampleCount() - 1}, nil
	}

	ci := sort.Search(n, func(i int) bool { return d.chunks[i].End() >= ts })

	var si int
	if ci < n {
		timestamps, err := d.chunks[ci].Timestamps()
		if err != nil {
			return SampleLocation{}, err
		}
		si = sort.Search(len(timestamps), func(i int) bool { return timestamps[i] >= ts })
	}

	if fromStart {
		return SampleLocation{Chunk: ci, Sample: si}, nil
	}

	switch {
	case ci < n && si > 0:
		return SampleLocation{Chunk: ci, Sample: si - 1}, nil
	case ci > 0:
		return SampleLocation{Chunk: ci - 1, Sample: d.chunks[ci-1].SampleCount() - 1}, nil
	default:
		return SampleLocation{Chunk: -1, Sample: 0}, nil
	}
}

// Metric returns the samples of name with timestamps in [startTs, endTs).
//
// LastTimestamp as endTs includes the last sample. The result is a fresh slice spanning as
// many chunks as the range covers; lazy chunks decode on first touch.
//
// Returns errs.ErrEmptyDataset, errs.ErrInvalidRange when startTs >= endTs and
// errs.ErrUnknownMetric before touching any chunk.
func (d *Dataset) Metric(name string, startTs, endTs int64) ([]int64, error) {
	idx, err := d.checkQuery(name, startTs, endTs)
	if err != nil {
		return nil, err
	}

	return d.collect(startTs, endTs, func(c *chunk.Chunk) ([]int64, error) {
		return c.MetricAt(idx)
	})
}

// Timestamps returns the sample times in [startTs, endTs).
//
// It reads only the timestamp columns kept by the header pass, so lazy chunks are not
// decoded.
func (d *Dataset) Timestamps(startTs, endTs int64) ([]int64, error) {
	if len(d.chunks) == 0 {
		return nil, errs.ErrEmptyDataset
	}
	if startTs >= endTs {
		return nil, fmt.Errorf("%w: start %d is not before end %d", errs.ErrInvalidRange, startTs, endTs)
	}

	return d.collect(startTs, endTs, (*chunk.Chunk).Timestamps)
}

// Matrix returns one series per name over the same range, in the order of names.
func (d *Dataset) Matrix(names []string, startTs, endTs int64) ([][]int64, error) {
	out := make([][]int64, len(names))
	for i, name := range names {
		series, err := d.Metric(name, startTs, endTs)
		if err != nil {
			return nil, err
		}
		out[i] = series
	}

	return out, nil
}

// Samples returns an iterator over the (timestamp, value) pairs of name in [startTs, endTs).
//
// The range is resolved and decoded before Samples returns, so errors surface here rather
// than during iteration.
//
// Example:
//
//	seq, err := ds.Samples("connections.current", dataset.FirstTimestamp, dataset.LastTimestamp)
//	if err != nil {
//	    return err
//	}
//	for ts, v := range seq {
//	    fmt.Println(ts, v)
//	}
func (d *Dataset) Samples(name string, startTs, endTs int64) (iter.Seq2[int64, int64], error) {
	values, err := d.Metric(name, startTs, endTs)
	if err != nil {
		return nil, err
	}

	timestamps, err := d.Timestamps(startTs, endTs)
	if err != nil {
		return nil, err
	}

	return func(yield func(int64, int64) bool) {
		for i, ts := range timestamps {
			if !yield(ts, values[i]) {
				return
			}
		}
	}, nil
}

func (d *Dataset) checkQuery(name string, startTs, endTs int64) (int, error) {
	if len(d.chunks) == 0 {
		return -1, errs.ErrEmptyDataset
	}

	if startTs >= endTs {
		return -1, fmt.Errorf("%w: start %d is not before end %d", errs.ErrInvalidRange, startTs, endTs)
	}

	idx, ok := d.catalog.Lookup(name)
	if !ok {
		return -1, fmt.Errorf("%w: %q", errs.ErrUnknownMetric, name)
	}

	return idx, nil
}

func (d *Dataset) collect(startTs, endTs int64, columnOf func(*chunk.Chunk) ([]int64, error)) ([]int64, error) {
	start, err := d.Locate(startTs, true)
	if err != nil {
		return nil, err
	}

	end, err := d.Locate(endTs, false)
	if err != nil {
		return nil, err
	}

	if start.Compare(end) > 0 {
		return []int64{}, nil
	}

	// Exact size: every chunk between the two locations is taken whole.
	size := 0
	for ci := start.Chunk; ci <= end.Chunk; ci++ {
		lo, hi := d.bounds(ci, start, end)
		size += hi - lo
	}

	out := make([]int64, 0, size)
	for ci := start.Chunk; ci <= end.Chunk; ci++ {
		col, err := columnOf(d.chunks[ci])
		if err != nil {
			return nil, err
		}

		lo, hi := d.bounds(ci, start, end)
		out = append(out, col[lo:hi]...)
	}

	return out, nil
}

// bounds returns the half-open sample range of chunk ci covered by [start, end].
func (d *Dataset) bounds(ci int, start, end SampleLocation) (int, int) {
	lo, hi := 0, d.chunks[ci].SampleCount()
	if ci == start.Chunk {
		lo = start.Sample
	}
	if ci == end.Chunk {
		hi = end.Sample + 1
	}

	return lo, hi
}
