package chunk

import (
	"errors"

	"github.com/arloliu/diagcap/compress"
	"github.com/arloliu/diagcap/encoding"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/options"
)

const (
	// DefaultMaxSamples is the capacity of a chunk: the capture writer flushes a chunk every
	// 300 samples.
	DefaultMaxSamples = 300
	// DefaultTimestampMetric is the flattened name of the per-sample capture time.
	DefaultTimestampMetric = "start"
)

// Option configures a Decoder.
type Option = options.Option[*Decoder]

// WithDecompressor sets the decompression service for chunk bodies. Defaults to zlib.
func WithDecompressor(d compress.Decompressor) Option {
	return options.New(func(dec *Decoder) error {
		if d == nil {
			return errors.New("chunk: decompressor must not be nil")
		}
		dec.decompressor = d

		return nil
	})
}

// WithCompression selects one of the built-in codecs as decompression service.
func WithCompression(t format.CompressionType) Option {
	return options.New(func(dec *Decoder) error {
		codec, err := compress.GetCodec(t)
		if err != nil {
			return err
		}
		dec.decompressor = codec

		return nil
	})
}

// WithDeltaEncoding sets how non-zero deltas are mapped to unsigned varints.
// Defaults to format.DeltaZigZag.
func WithDeltaEncoding(mode format.DeltaEncoding) Option {
	return options.New(func(dec *Decoder) error {
		if mode != format.DeltaZigZag && mode != format.DeltaUnsigned {
			return errors.New("chunk: unknown delta encoding")
		}
		dec.deltas = encoding.NewDeltaDecoder(mode)

		return nil
	})
}

// WithMaxSamples bounds the samples per chunk. Larger chunks fail to decode.
func WithMaxSamples(n int) Option {
	return options.New(func(dec *Decoder) error {
		if n < 1 {
			return errors.New("chunk: max samples must be positive")
		}
		dec.maxSamples = n

		return nil
	})
}

// WithTimestampMetric sets the flattened name of the metric holding sample times.
func WithTimestampMetric(name string) Option {
	return options.New(func(dec *Decoder) error {
		if name == "" {
			return errors.New("chunk: timestamp metric name must not be empty")
		}
		dec.timestampMetric = name

		return nil
	})
}

// WithLazy defers full decoding of chunks until a metric is first read.
func WithLazy(lazy bool) Option {
	return options.NoError(func(dec *Decoder) {
		dec.lazy = lazy
	})
}
