package section

import (
	"fmt"

	"github.com/arloliu/diagcap/endian"
	"github.com/arloliu/diagcap/errs"
)

var engine = endian.GetLittleEndianEngine()

// PayloadHeader is the length prefix of a compressed chunk body.
type PayloadHeader struct {
	// UncompressedLen is the exact size of the body after decompression.
	UncompressedLen uint32
}

// ParsePayloadHeader splits a chunk payload into its header and compressed body.
//
// Returns errs.ErrPayloadTooShort if data cannot hold the header, and
// errs.ErrPayloadSizeMismatch if the declared length exceeds MaxBodySize.
func ParsePayloadHeader(data []byte) (PayloadHeader, []byte, error) {
	if len(data) < PayloadHeaderSize {
		return PayloadHeader{}, nil, fmt.Errorf("%w: %d bytes", errs.ErrPayloadTooShort, len(data))
	}

	h := PayloadHeader{UncompressedLen: engine.Uint32(data[:PayloadHeaderSize])}
	if h.UncompressedLen > MaxBodySize {
		return PayloadHeader{}, nil, fmt.Errorf("%w: declared %d bytes exceeds limit %d",
			errs.ErrPayloadSizeMismatch, h.UncompressedLen, MaxBodySize)
	}

	return h, data[PayloadHeaderSize:], nil
}

// Verify checks a decompressed body against the declared length.
func (h PayloadHeader) Verify(body []byte) error {
	if len(body) != int(h.UncompressedLen) {
		return fmt.Errorf("%w: declared %d bytes, got %d", errs.ErrPayloadSizeMismatch, h.UncompressedLen, len(body))
	}

	return nil
}

// AppendTo appends the serialized header to dst.
func (h PayloadHeader) AppendTo(dst []byte) []byte {
	return engine.AppendUint32(dst, h.UncompressedLen)
}

// BodyCounts are the two counters following the reference document in a chunk body.
type BodyCounts struct {
	MetricCount uint32
	DeltaCount  uint32 // samples per metric minus the reference sample
}

// ParseBodyCounts reads the counters at the start of data and returns the remaining bytes,
// which are the delta stream.
func ParseBodyCounts(data []byte) (BodyCounts, []byte, error) {
	if len(data) < BodyCountsSize {
		return BodyCounts{}, nil, fmt.Errorf("%w: %d bytes left for metric and delta counts",
			errs.ErrPayloadTooShort, len(data))
	}

	c := BodyCounts{
		MetricCount: engine.Uint32(data[0:4]),
		DeltaCount:  engine.Uint32(data[4:8]),
	}

	return c, data[BodyCountsSize:], nil
}

// SampleCount returns the number of samples per metric, reference sample included.
func (c BodyCounts) SampleCount() int {
	return int(c.DeltaCount) + 1
}

// AppendTo appends the serialized counters to dst.
func (c BodyCounts) AppendTo(dst []byte) []byte {
	dst = engine.AppendUint32(dst, c.MetricCount)
	return engine.AppendUint32(dst, c.DeltaCount)
}
