package chunk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/compress"
	"github.com/arloliu/diagcap/encoding"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/collision"
	"github.com/arloliu/diagcap/internal/options"
	"github.com/arloliu/diagcap/section"
)

// State is the decode state of a chunk.
type State uint32

const (
	StatePending State = iota // StatePending means the metric columns have not been decoded.
	StateDecoded              // StateDecoded means every metric column is available.
	StateFailed               // StateFailed means the payload is corrupt; the chunk is unusable.
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateDecoded:
		return "Decoded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Decoder holds the configuration shared by every chunk of an ingestion run.
type Decoder struct {
	decompressor    compress.Decompressor
	deltas          encoding.DeltaDecoder
	maxSamples      int
	timestampMetric string
	lazy            bool
}

// NewDecoder creates a chunk decoder.
//
// Defaults: zlib decompression, zig-zag deltas, 300 samples per chunk, timestamp metric
// "start" and eager decoding.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{
		decompressor:    compress.NewZlibCompressor(),
		deltas:          encoding.NewDeltaDecoder(format.DeltaZigZag),
		maxSamples:      DefaultMaxSamples,
		timestampMetric: DefaultTimestampMetric,
	}

	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// Lazy reports whether chunks defer their full decode until first metric access.
func (d *Decoder) Lazy() bool {
	return d.lazy
}

// MaxSamples returns the sample capacity of a chunk.
func (d *Decoder) MaxSamples() int {
	return d.maxSamples
}

// TimestampMetric returns the flattened name of the sample time metric.
func (d *Decoder) TimestampMetric() string {
	return d.timestampMetric
}

// NewChunk wraps a data record payload. Nothing is decoded yet.
//
// The chunk takes ownership of payload; the caller must not modify it afterwards.
func (d *Decoder) NewChunk(id int64, payload []byte, source string) *Chunk {
	return &Chunk{
		id:      id,
		source:  source,
		payload: payload,
		dec:     d,
	}
}

// New is a shorthand for NewDecoder followed by NewChunk.
func New(id int64, payload []byte, opts ...Option) (*Chunk, error) {
	d, err := NewDecoder(opts...)
	if err != nil {
		return nil, err
	}

	return d.NewChunk(id, payload, ""), nil
}

// header is what the index pass learns about a chunk without decoding every column.
type header struct {
	ref         *Reference
	lookup      *collision.Tracker
	tsIndex     int
	timestamps  []int64
	sampleCount int
	deltaOffset int // start of the delta stream within the decompressed body
}

// Chunk is one block of up to MaxSamples consecutive samples of every metric.
//
// A chunk moves from StatePending to StateDecoded or StateFailed exactly once. Two passes
// exist: Index decompresses the body, flattens the reference document and decodes the
// timestamp column only, which makes Start, End, SampleCount and MetricNames available; Decode
// additionally decodes every metric column. Both are idempotent and safe for concurrent use.
//
// The header pass still walks the whole delta stream, so a chunk with a damaged column fails
// Index and is never added to a dataset.
//
// In eager mode the ingestion pipeline calls Decode and metric accessors fail with
// errs.ErrNotDecoded on a chunk that was never decoded. In lazy mode it only calls Index and
// the first metric accessor triggers Decode. Lazy mode defers materializing the columns, not
// decompression: that first Decode decompresses the payload again.
type Chunk struct {
	id     int64
	source string
	dec    *Decoder

	mu      sync.Mutex
	payload []byte

	indexOnce sync.Once
	indexErr  error
	hdr       header

	decodeOnce sync.Once
	decodeErr  error
	columns    [][]int64

	state atomic.Uint32
}

// ID returns the chunk id, the record's capture time in milliseconds.
func (c *Chunk) ID() int64 {
	return c.id
}

// Source returns the path of the file the chunk was read from, if known.
func (c *Chunk) Source() string {
	return c.source
}

// Lazy reports whether the chunk decodes on first metric access.
func (c *Chunk) Lazy() bool {
	return c.dec.lazy
}

// State returns the current decode state.
func (c *Chunk) State() State {
	return State(c.state.Load())
}

// Err returns the decode failure of a chunk in StateFailed.
func (c *Chunk) Err() error {
	if c.State() != StateFailed {
		return nil
	}
	if c.indexErr != nil {
		return c.indexErr
	}

	return c.decodeErr
}

// Index runs the header pass. See Chunk.
func (c *Chunk) Index() error {
	c.indexOnce.Do(func() {
		body, err := c.decompress()
		if err != nil {
			c.indexErr = err
		} else {
			c.indexErr = c.parseHeader(body)
		}

		if c.indexErr != nil {
			c.state.Store(uint32(StateFailed))
		}
	})

	return c.indexErr
}

// Decode decodes every metric column.
//
// It is idempotent; after the first call it returns the outcome of that call. Without
// forceNow a lazy chunk only runs the header pass and leaves the columns to the first metric
// access.
func (c *Chunk) Decode(forceNow bool) error {
	if c.dec.lazy && !forceNow {
		return c.Index()
	}

	c.decodeOnce.Do(func() {
		body, err := c.decompress()
		if err == nil {
			c.indexOnce.Do(func() {
				c.indexErr = c.parseHeader(body)
			})
			err = c.indexErr
		}

		if err == nil {
			err = c.decodeColumns(body)
		}

		c.decodeErr = err
		if err != nil {
			c.state.Store(uint32(StateFailed))
			return
		}
		c.state.Store(uint32(StateDecoded))
	})

	if c.indexErr != nil {
		return c.indexErr
	}

	return c.decodeErr
}

// Start returns the first sample time. Valid once Index or Decode succeeded.
func (c *Chunk) Start() int64 {
	if len(c.hdr.timestamps) == 0 {
		return 0
	}

	return c.hdr.timestamps[0]
}

// End returns the last sample time. Valid once Index or Decode succeeded.
func (c *Chunk) End() int64 {
	if len(c.hdr.timestamps) == 0 {
		return 0
	}

	return c.hdr.timestamps[len(c.hdr.timestamps)-1]
}

// SampleCount returns the number of samples per metric. Valid once Index or Decode succeeded.
func (c *Chunk) SampleCount() int {
	return c.hdr.sampleCount
}

// Timestamps returns the decoded timestamp column. The slice must not be modified.
func (c *Chunk) Timestamps() ([]int64, error) {
	if err := c.Index(); err != nil {
		return nil, err
	}

	return c.hdr.timestamps, nil
}

// MetricNames returns the flattened metric names in reference document order.
func (c *Chunk) MetricNames() ([]string, error) {
	if err := c.Index(); err != nil {
		return nil, err
	}

	return c.hdr.ref.Names, nil
}

// MetricTypes returns the declared type of every metric, parallel to MetricNames.
func (c *Chunk) MetricTypes() ([]format.MetricType, error) {
	if err := c.Index(); err != nil {
		return nil, err
	}

	return c.hdr.ref.Types, nil
}

// MetricIndex returns the column index of name. Duplicate names resolve to the first column.
func (c *Chunk) MetricIndex(name string) (int, error) {
	if err := c.Index(); err != nil {
		return -1, err
	}

	idx, ok := c.hdr.lookup.Lookup(name)
	if !ok {
		return -1, fmt.Errorf("%w: %q", errs.ErrUnknownMetric, name)
	}

	return idx, nil
}

// Metric returns the samples of the named metric. The slice must not be modified.
func (c *Chunk) Metric(name string) ([]int64, error) {
	idx, err := c.MetricIndex(name)
	if err != nil {
		return nil, err
	}

	return c.MetricAt(idx)
}

// MetricAt returns the samples of the metric in column idx. The slice must not be modified.
func (c *Chunk) MetricAt(idx int) ([]int64, error) {
	if err := c.ensureDecoded(); err != nil {
		return nil, err
	}

	if idx < 0 || idx >= len(c.columns) {
		return nil, fmt.Errorf("%w: column %d out of %d", errs.ErrUnknownMetric, idx, len(c.columns))
	}

	return c.columns[idx], nil
}

// ReleasePayload drops the compressed payload of a decoded chunk and reports whether it did.
//
// Pending chunks keep their payload since they may still need to decode it.
func (c *Chunk) ReleasePayload() bool {
	if c.State() != StateDecoded {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = nil

	return true
}

// PayloadSize returns the size of the retained compressed payload.
func (c *Chunk) PayloadSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.payload)
}

func (c *Chunk) ensureDecoded() error {
	switch c.State() {
	case StateDecoded:
		return nil
	case StateFailed:
		return c.Err()
	}

	if !c.dec.lazy {
		return fmt.Errorf("%w: chunk %d", errs.ErrNotDecoded, c.id)
	}

	return c.Decode(true)
}

func (c *Chunk) decompress() ([]byte, error) {
	c.mu.Lock()
	payload := c.payload
	c.mu.Unlock()

	hdr, compressed, err := section.ParsePayloadHeader(payload)
	if err != nil {
		return nil, newDecodeError(c.id, 0, err)
	}

	body, err := c.dec.decompressor.Decompress(compressed)
	if err != nil {
		return nil, newDecodeError(c.id, 0, err)
	}

	if err := hdr.Verify(body); err != nil {
		return nil, newDecodeError(c.id, 0, err)
	}

	return body, nil
}

func (c *Chunk) parseHeader(body []byte) error {
	doc, rest, ok := bsoncore.ReadDocument(body)
	if !ok {
		return newDecodeError(c.id, 0, fmt.Errorf("%w: unreadable document", errs.ErrInvalidReference))
	}

	ref, err := FlattenReference(doc)
	if err != nil {
		return newDecodeError(c.id, 0, err)
	}

	offset := len(doc)
	counts, deltas, err := section.ParseBodyCounts(rest)
	if err != nil {
		return newDecodeError(c.id, offset, err)
	}

	if int(counts.MetricCount) != ref.Len() {
		return newDecodeError(c.id, offset, fmt.Errorf("%w: header declares %d, document has %d",
			errs.ErrMetricCountMismatch, counts.MetricCount, ref.Len()))
	}

	sampleCount := counts.SampleCount()
	if sampleCount > c.dec.maxSamples {
		return newDecodeError(c.id, offset, fmt.Errorf("%w: %d > %d",
			errs.ErrTooManySamples, sampleCount, c.dec.maxSamples))
	}
	offset += section.BodyCountsSize

	lookup := collision.NewTracker()
	for _, name := range ref.Names {
		// Duplicate names keep their first column.
		_, _ = lookup.TrackMetric(name)
	}

	tsIndex, ok := lookup.Lookup(c.dec.timestampMetric)
	if !ok {
		return newDecodeError(c.id, 0, fmt.Errorf("%w: %q", errs.ErrMissingTimestampMetric, c.dec.timestampMetric))
	}

	r := c.dec.deltas.NewColumnReader(deltas, sampleCount-1)
	for i := 0; i < tsIndex; i++ {
		if err := r.SkipColumn(); err != nil {
			return newDecodeError(c.id, offset+r.Offset(), err)
		}
	}

	timestamps := make([]int64, sampleCount)
	if err := r.ReadColumn(ref.Values[tsIndex], timestamps); err != nil {
		return newDecodeError(c.id, offset+r.Offset(), err)
	}

	// The remaining columns are walked without being stored so a damaged stream fails the
	// header pass in lazy mode too.
	for i := tsIndex + 1; i < ref.Len(); i++ {
		if err := r.SkipColumn(); err != nil {
			return newDecodeError(c.id, offset+r.Offset(), err)
		}
	}
	if err := r.Finish(); err != nil {
		return newDecodeError(c.id, offset+r.Offset(), err)
	}

	if timestamps[sampleCount-1] < timestamps[0] {
		return newDecodeError(c.id, offset, fmt.Errorf("%w: last sample %d precedes first sample %d",
			errs.ErrCorruptPayload, timestamps[sampleCount-1], timestamps[0]))
	}

	c.hdr = header{
		ref:         ref,
		lookup:      lookup,
		tsIndex:     tsIndex,
		timestamps:  timestamps,
		sampleCount: sampleCount,
		deltaOffset: offset,
	}

	return nil
}

func (c *Chunk) decodeColumns(body []byte) error {
	columns, n, err := c.dec.deltas.DecodeColumns(c.hdr.ref.Values, body[c.hdr.deltaOffset:], c.hdr.sampleCount)
	if err != nil {
		return newDecodeError(c.id, c.hdr.deltaOffset+n, err)
	}

	c.columns = columns

	return nil
}
