package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/pool"
)

// ZigZagEncode maps a signed delta to an unsigned value so small magnitudes of either sign
// need few varint bytes.
//
//	0 -> 0, -1 -> 1, 1 -> 2, -2 -> 3, ...
func ZigZagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63)) //nolint:gosec
}

// ZigZagDecode reverses ZigZagEncode.
func ZigZagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1) //nolint:gosec
}

// DeltaEncoder writes the delta section of a chunk body.
//
// Deltas are written column-major: every delta of metric 0, then every delta of metric 1,
// and so on. Each delta is a uvarint, either zig-zag mapped (format.DeltaZigZag) or the raw
// two's-complement difference (format.DeltaUnsigned).
//
// Zero deltas are run-length compressed: a run of N zeros is written as a single zero
// varint followed by a varint holding N-1. A run is only flushed when a non-zero delta
// arrives or the encoder is flushed, so runs continue across column boundaries. Most
// metrics in a capture change rarely, which makes this the dominant saving.
//
// Internal state:
//   - mode: Delta mapping used for non-zero deltas
//   - temp: Reusable buffer for varint encoding (avoids allocations)
//   - buf: Output buffer accumulating encoded data
//   - zeroes: Length of the pending zero run
//   - count: Number of deltas written, including pending zeros
type DeltaEncoder struct {
	mode   format.DeltaEncoding
	temp   [binary.MaxVarintLen64]byte
	buf    *pool.ByteBuffer
	zeroes uint64
	count  int
}

// NewDeltaEncoder creates a delta encoder using the given delta mapping.
//
// Parameters:
//   - mode: format.DeltaZigZag or format.DeltaUnsigned
//
// Returns:
//   - *DeltaEncoder: A new encoder backed by a pooled buffer; call Finish when done
func NewDeltaEncoder(mode format.DeltaEncoding) *DeltaEncoder {
	return &DeltaEncoder{
		mode: mode,
		buf:  pool.GetDeltaBuffer(),
	}
}

// WriteDelta appends one delta.
func (e *DeltaEncoder) WriteDelta(delta int64) {
	e.count++

	if delta == 0 {
		e.zeroes++
		return
	}

	e.flushZeroes()
	e.putUvarint(e.mapDelta(delta))
}

// WriteColumn appends the deltas of one metric column.
//
// The first value is the reference row entry and is not written; len(values)-1 deltas
// follow, each the difference from the previous sample.
//
// Parameters:
//   - values: Absolute samples of one metric, reference value first
func (e *DeltaEncoder) WriteColumn(values []int64) {
	if len(values) < 2 {
		return
	}

	e.buf.Grow(len(values))

	prev := values[0]
	for _, v := range values[1:] {
		e.WriteDelta(v - prev)
		prev = v
	}
}

// Flush writes out a pending zero run. Bytes calls it implicitly.
func (e *DeltaEncoder) Flush() {
	e.flushZeroes()
}

// Bytes returns the encoded delta stream after flushing any pending zero run.
//
// The returned slice is valid until the next write or Finish.
func (e *DeltaEncoder) Bytes() []byte {
	e.flushZeroes()
	return e.buf.Bytes()
}

// Len returns the number of deltas written.
func (e *DeltaEncoder) Len() int {
	return e.count
}

// Size returns the encoded size in bytes, excluding a pending zero run.
func (e *DeltaEncoder) Size() int {
	return e.buf.Len()
}

// Finish returns the internal buffer to the pool. The encoder must not be used afterwards.
func (e *DeltaEncoder) Finish() {
	pool.PutDeltaBuffer(e.buf)
	e.buf = nil
	e.zeroes = 0
	e.count = 0
}

func (e *DeltaEncoder) mapDelta(delta int64) uint64 {
	if e.mode == format.DeltaUnsigned {
		return uint64(delta) //nolint:gosec
	}

	return ZigZagEncode(delta)
}

func (e *DeltaEncoder) flushZeroes() {
	if e.zeroes == 0 {
		return
	}

	e.putUvarint(0)
	e.putUvarint(e.zeroes - 1)
	e.zeroes = 0
}

func (e *DeltaEncoder) putUvarint(v uint64) {
	n := binary.PutUvarint(e.temp[:], v)
	e.buf.MustWrite(e.temp[:n])
}

// DeltaDecoder reconstructs absolute sample columns from a delta stream written by
// DeltaEncoder.
//
// The decoder is stateless and safe for concurrent use; per-stream state lives in the
// ColumnReader it creates.
type DeltaDecoder struct {
	mode format.DeltaEncoding
}

// NewDeltaDecoder creates a decoder for the given delta mapping.
func NewDeltaDecoder(mode format.DeltaEncoding) DeltaDecoder {
	return DeltaDecoder{mode: mode}
}

// Mode returns the delta mapping of the decoder.
func (d DeltaDecoder) Mode() format.DeltaEncoding {
	return d.mode
}

// NewColumnReader starts reading a delta stream holding deltaCount deltas per column.
func (d DeltaDecoder) NewColumnReader(data []byte, deltaCount int) *ColumnReader {
	return &ColumnReader{
		data:       data,
		deltaCount: deltaCount,
		mode:       d.mode,
	}
}

// DecodeColumns decodes one column per reference value and verifies the stream is
// consumed exactly.
//
// Parameters:
//   - ref: Reference row, one absolute value per metric
//   - data: Delta stream
//   - sampleCount: Samples per column, reference included (deltas per column + 1)
//
// Returns:
//   - [][]int64: One column of sampleCount absolute values per metric
//   - int: Byte offset reached in data (the failure offset on error)
//   - error: errs.ErrTruncatedDeltas, errs.ErrInvalidVarint or errs.ErrDeltaOverrun
func (d DeltaDecoder) DecodeColumns(ref []int64, data []byte, sampleCount int) ([][]int64, int, error) {
	if sampleCount < 1 {
		return nil, 0, fmt.Errorf("%w: sample count %d", errs.ErrTooManySamples, sampleCount)
	}

	r := d.NewColumnReader(data, sampleCount-1)

	// Single backing array keeps the columns contiguous and cuts allocations to two.
	backing := make([]int64, len(ref)*sampleCount)
	columns := make([][]int64, len(ref))
	for i, seed := range ref {
		col := backing[i*sampleCount : (i+1)*sampleCount : (i+1)*sampleCount]
		if err := r.ReadColumn(seed, col); err != nil {
			return nil, r.Offset(), err
		}
		columns[i] = col
	}

	if err := r.Finish(); err != nil {
		return nil, r.Offset(), err
	}

	return columns, r.Offset(), nil
}

// ColumnReader walks a delta stream one column at a time.
//
// A zero run left over at the end of one column carries into the next, matching the
// encoder. Not safe for concurrent use.
type ColumnReader struct {
	data       []byte
	offset     int
	deltaCount int
	zeroes     uint64
	mode       format.DeltaEncoding
}

// ReadColumn decodes the next column into dst, seeded by the reference value.
//
// Parameters:
//   - seed: Reference row value of the column, written to dst[0]
//   - dst: Destination; must have length deltaCount+1
//
// Returns:
//   - error: errs.ErrTruncatedDeltas if the stream ends early, errs.ErrInvalidVarint on an
//     overlong varint
func (r *ColumnReader) ReadColumn(seed int64, dst []int64) error {
	if len(dst) != r.deltaCount+1 {
		return fmt.Errorf("%w: column buffer holds %d samples, want %d",
			errs.ErrTooManySamples, len(dst), r.deltaCount+1)
	}

	cur := seed
	dst[0] = cur

	for j := 1; j <= r.deltaCount; j++ {
		if r.zeroes > 0 {
			r.zeroes--
			dst[j] = cur
			continue
		}

		u, err := r.uvarint()
		if err != nil {
			return err
		}

		if u == 0 {
			run, err := r.uvarint()
			if err != nil {
				return err
			}
			r.zeroes = run
			dst[j] = cur
			continue
		}

		cur += r.unmapDelta(u)
		dst[j] = cur
	}

	return nil
}

// SkipColumn advances past the next column without materializing it.
func (r *ColumnReader) SkipColumn() error {
	for j := 0; j < r.deltaCount; j++ {
		if r.zeroes > 0 {
			// Consume as much of the run as fits in this column at once.
			remaining := uint64(r.deltaCount - j) //nolint:gosec
			if r.zeroes >= remaining {
				r.zeroes -= remaining
				return nil
			}
			j += int(r.zeroes) - 1 //nolint:gosec
			r.zeroes = 0
			continue
		}

		u, err := r.uvarint()
		if err != nil {
			return err
		}

		if u == 0 {
			run, err := r.uvarint()
			if err != nil {
				return err
			}
			r.zeroes = run
		}
	}

	return nil
}

// Finish verifies that no zero run and no bytes remain after the last column.
func (r *ColumnReader) Finish() error {
	if r.zeroes > 0 {
		return fmt.Errorf("%w: zero run of %d extends past the last column", errs.ErrDeltaOverrun, r.zeroes)
	}

	if r.offset != len(r.data) {
		return fmt.Errorf("%w: %d trailing bytes", errs.ErrDeltaOverrun, len(r.data)-r.offset)
	}

	return nil
}

// Offset returns the byte offset of the next unread varint.
func (r *ColumnReader) Offset() int {
	return r.offset
}

func (r *ColumnReader) uvarint() (uint64, error) {
	if r.offset >= len(r.data) {
		return 0, fmt.Errorf("%w: at offset %d", errs.ErrTruncatedDeltas, r.offset)
	}

	v, n := binary.Uvarint(r.data[r.offset:])
	if n == 0 {
		return 0, fmt.Errorf("%w: at offset %d", errs.ErrTruncatedDeltas, r.offset)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: at offset %d", errs.ErrInvalidVarint, r.offset)
	}
	r.offset += n

	return v, nil
}

func (r *ColumnReader) unmapDelta(u uint64) int64 {
	if r.mode == format.DeltaUnsigned {
		return int64(u) //nolint:gosec
	}

	return ZigZagDecode(u)
}
