package capture

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/chunk"
	"github.com/arloliu/diagcap/compress"
	"github.com/arloliu/diagcap/encoding"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/collision"
	"github.com/arloliu/diagcap/internal/options"
	"github.com/arloliu/diagcap/internal/pool"
	"github.com/arloliu/diagcap/section"
)

// EncoderOption configures a ChunkEncoder.
type EncoderOption = options.Option[*ChunkEncoder]

// WithCompressor sets the body compressor. Defaults to zlib.
func WithCompressor(c compress.Compressor) EncoderOption {
	return options.New(func(e *ChunkEncoder) error {
		if c == nil {
			return errors.New("capture: compressor must not be nil")
		}
		e.compressor = c

		return nil
	})
}

// WithCompression selects one of the built-in codecs as body compressor.
func WithCompression(t format.CompressionType) EncoderOption {
	return options.New(func(e *ChunkEncoder) error {
		codec, err := compress.GetCodec(t)
		if err != nil {
			return err
		}
		e.compressor = codec

		return nil
	})
}

// WithDeltaEncoding sets the delta mapping. Defaults to format.DeltaZigZag.
func WithDeltaEncoding(mode format.DeltaEncoding) EncoderOption {
	return options.New(func(e *ChunkEncoder) error {
		if mode != format.DeltaZigZag && mode != format.DeltaUnsigned {
			return errors.New("capture: unknown delta encoding")
		}
		e.mode = mode

		return nil
	})
}

// WithTimestampMetric names the metric written as a BSON datetime by EncodeRows.
func WithTimestampMetric(name string) EncoderOption {
	return options.NoError(func(e *ChunkEncoder) {
		e.timestampMetric = name
	})
}

// ChunkEncoder produces data record payloads.
//
// It is the inverse of the chunk decoder: a reference document, the metric and delta counts and
// the column-major delta stream form the body, which is compressed and prefixed with its
// uncompressed length. Safe for concurrent use if the compressor is.
type ChunkEncoder struct {
	compressor      compress.Compressor
	mode            format.DeltaEncoding
	timestampMetric string
}

// NewChunkEncoder creates an encoder with zlib compression and zig-zag deltas.
func NewChunkEncoder(opts ...EncoderOption) (*ChunkEncoder, error) {
	e := &ChunkEncoder{
		compressor:      compress.NewZlibCompressor(),
		mode:            format.DeltaZigZag,
		timestampMetric: chunk.DefaultTimestampMetric,
	}

	if err := options.Apply(e, opts...); err != nil {
		return nil, err
	}

	return e, nil
}

// EncodeRows encodes samples given row by row.
//
// rows[i][j] is the value of names[j] at sample i. The reference document holds every metric
// as a top-level int64, except the timestamp metric which is written as a datetime.
//
// Returns errs.ErrNoSamples for no rows, errs.ErrRowWidthMismatch for a ragged row,
// errs.ErrInvalidMetricName or errs.ErrDuplicateMetric for a bad name, and
// errs.ErrMissingTimestampMetric if names lacks the timestamp metric.
func (e *ChunkEncoder) EncodeRows(names []string, rows [][]int64) ([]byte, error) {
	if len(rows) == 0 {
		return nil, errs.ErrNoSamples
	}

	tracker := collision.NewTracker()
	for _, name := range names {
		if _, err := tracker.TrackMetric(name); err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
	}

	if _, ok := tracker.Lookup(e.timestampMetric); !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrMissingTimestampMetric, e.timestampMetric)
	}

	for i, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", errs.ErrRowWidthMismatch, i, len(row), len(names))
		}
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	for j, name := range names {
		if name == e.timestampMetric {
			doc = bsoncore.AppendDateTimeElement(doc, name, rows[0][j])
		} else {
			doc = bsoncore.AppendInt64Element(doc, name, rows[0][j])
		}
	}
	doc, err := bsoncore.AppendDocumentEnd(doc, idx)
	if err != nil {
		return nil, err
	}

	column, cleanup := pool.GetInt64Slice(len(rows))
	defer cleanup()

	enc := encoding.NewDeltaEncoder(e.mode)
	defer enc.Finish()

	for j := range names {
		for i, row := range rows {
			column[i] = row[j]
		}
		enc.WriteColumn(column)
	}

	return e.frame(doc, len(names), len(rows), enc.Bytes())
}

// EncodeDocument encodes a chunk whose reference document is given verbatim.
//
// columns must hold one column per flattened metric of ref, in flattening order, each
// starting with the value the document holds for that metric. This allows every reference
// type (doubles, booleans, timestamps, nested documents and arrays) to be written.
func (e *ChunkEncoder) EncodeDocument(ref bsoncore.Document, columns [][]int64) ([]byte, error) {
	flat, err := chunk.FlattenReference(ref)
	if err != nil {
		return nil, err
	}

	if len(columns) != flat.Len() {
		return nil, fmt.Errorf("%w: %d columns for %d metrics", errs.ErrRowWidthMismatch, len(columns), flat.Len())
	}

	if len(columns) == 0 {
		return nil, errs.ErrNoSamples
	}

	sampleCount := len(columns[0])
	if sampleCount == 0 {
		return nil, errs.ErrNoSamples
	}

	enc := encoding.NewDeltaEncoder(e.mode)
	defer enc.Finish()

	for i, col := range columns {
		if len(col) != sampleCount {
			return nil, fmt.Errorf("%w: column %d has %d samples, want %d", errs.ErrRowWidthMismatch, i, len(col), sampleCount)
		}
		if col[0] != flat.Values[i] {
			return nil, fmt.Errorf("%w: column %d (%s) starts at %d, document holds %d",
				errs.ErrInvalidReference, i, flat.Names[i], col[0], flat.Values[i])
		}
		enc.WriteColumn(col)
	}

	return e.frame(ref, len(columns), sampleCount, enc.Bytes())
}

// Frame compresses an arbitrary chunk body and prefixes its length.
func (e *ChunkEncoder) Frame(body []byte) ([]byte, error) {
	compressed, err := e.compressor.Compress(body)
	if err != nil {
		return nil, err
	}

	hdr := section.PayloadHeader{UncompressedLen: uint32(len(body))} //nolint:gosec
	payload := make([]byte, 0, section.PayloadHeaderSize+len(compressed))
	payload = hdr.AppendTo(payload)

	return append(payload, compressed...), nil
}

func (e *ChunkEncoder) frame(doc []byte, metricCount, sampleCount int, deltas []byte) ([]byte, error) {
	body := pool.GetRecordBuffer()
	defer pool.PutRecordBuffer(body)

	counts := section.BodyCounts{
		MetricCount: uint32(metricCount),     //nolint:gosec
		DeltaCount:  uint32(sampleCount - 1), //nolint:gosec
	}

	body.Grow(len(doc) + section.BodyCountsSize + len(deltas))
	body.MustWrite(doc)
	body.B = counts.AppendTo(body.B)
	body.MustWrite(deltas)

	return e.Frame(body.Bytes())
}
