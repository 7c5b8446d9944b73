// Package errs defines the sentinel errors shared by every diagcap package.
//
// Callers compare with errors.Is; producers wrap a sentinel with fmt.Errorf("%w: ...")
// to attach context such as the chunk id, byte offset or metric name.
package errs

import "errors"

// Decode errors are chunk-local: the ingestion pipeline logs them and drops the chunk.
var (
	ErrCorruptPayload         = errors.New("corrupt chunk payload")
	ErrPayloadTooShort        = errors.New("chunk payload too short")
	ErrPayloadSizeMismatch    = errors.New("decompressed size does not match declared size")
	ErrInvalidReference       = errors.New("invalid reference document")
	ErrMetricCountMismatch    = errors.New("metric count does not match reference document")
	ErrTooManySamples         = errors.New("sample count exceeds chunk capacity")
	ErrTruncatedDeltas        = errors.New("delta stream ended before all deltas were read")
	ErrDeltaOverrun           = errors.New("delta stream holds more deltas than declared")
	ErrInvalidVarint          = errors.New("invalid varint in delta stream")
	ErrMissingTimestampMetric = errors.New("reference document has no timestamp metric")
	ErrMetricCatalogMismatch  = errors.New("chunk metric set differs from dataset catalog")
	ErrDuplicateChunk         = errors.New("chunk start overlaps an ingested chunk")
)

// Query errors are surfaced to the caller unchanged.
var (
	ErrUnknownMetric = errors.New("unknown metric")
	ErrInvalidRange  = errors.New("invalid time range")
	ErrEmptyDataset  = errors.New("dataset has no chunks")
	ErrNotDecoded    = errors.New("chunk accessed before decode")
)

// Encoding and record errors.
var (
	ErrInvalidRecord     = errors.New("invalid capture record")
	ErrTruncatedRecord   = errors.New("truncated capture record")
	ErrInvalidMetricName = errors.New("invalid metric name")
	ErrDuplicateMetric   = errors.New("duplicate metric name")
	ErrRowWidthMismatch  = errors.New("sample row width does not match metric count")
	ErrNoSamples         = errors.New("no samples added")
	ErrQueueClosed       = errors.New("task queue closed")
)
