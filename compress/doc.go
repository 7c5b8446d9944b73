// Package compress provides the compression codecs used for capture chunk bodies.
//
// A data record in a capture file carries a compressed body: a little-endian uint32
// holding the decompressed size, followed by the codec stream. Decoding a chunk delegates
// the second part to a Decompressor, which the chunk package treats as an opaque service.
//
// # Supported Algorithms
//
//   - Zlib (format.CompressionZlib): the native capture codec, used by default
//   - Zstd (format.CompressionZstd): pure Go by default, cgo via the `gozstd` build tag
//   - S2 (format.CompressionS2)
//   - LZ4 (format.CompressionLZ4): block format, adaptive output buffer
//   - None (format.CompressionNone): pass-through, handy in tests
//
// # Usage
//
//	codec, err := compress.GetCodec(format.CompressionZlib)
//	if err != nil {
//	    return err
//	}
//	body, err := codec.Decompress(payload)
//
// # Thread Safety
//
// All codec implementations are stateless values backed by pooled encoders and decoders,
// and can be shared across decode workers.
package compress
