// Package encoding implements the delta section of a capture chunk body.
//
// A chunk stores sampleCount samples of metricCount metrics. The first sample of every metric
// lives in the chunk's reference document; the remaining sampleCount-1 samples of each metric
// are stored as differences from the previous sample, column by column:
//
//	metric 0: d[0][1] d[0][2] ... d[0][n-1]
//	metric 1: d[1][1] d[1][2] ... d[1][n-1]
//	...
//
// Each delta is an unsigned varint. In format.DeltaZigZag mode signed deltas are zig-zag mapped
// first; in format.DeltaUnsigned mode the raw two's-complement difference is written and
// reconstruction wraps. A zero delta is always followed by a varint counting the zero deltas
// that come right after it, and such a run may continue into the next column:
//
//	deltas 5 0 0 0 | 0 0 7   ->   varints 10 0 4 14   (zig-zag)
//
// # Decoding
//
// DeltaDecoder.DecodeColumns rebuilds every column from the reference values. A ColumnReader
// walks the same stream one column at a time and can skip columns, which lets a chunk decode
// just its timestamp column when it is first indexed.
//
// Every malformed stream is reported with the byte offset reached: a varint that overflows
// (errs.ErrInvalidVarint), a stream that ends early (errs.ErrTruncatedDeltas), a zero run that
// extends past the last delta or bytes left over at the end (errs.ErrDeltaOverrun).
//
// # Encoding
//
// DeltaEncoder produces the same stream and is used by the capture writer and tests:
//
//	enc := encoding.NewDeltaEncoder(format.DeltaZigZag)
//	defer enc.Finish()
//
//	for _, column := range columns {
//	    enc.WriteColumn(column)
//	}
//	enc.Flush()
//	deltas := enc.Bytes()
package encoding
