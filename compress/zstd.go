package compress

// ZstdCompressor provides Zstandard compression for chunk bodies.
//
// Capture files in the wild are zlib; Zstd is offered for re-encoded archives where a
// better ratio and faster decompression matter more than compatibility.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
//
// Example:
//
//	compressor := NewZstdCompressor()
//	compressed, err := compressor.Compress(data)
//	if err != nil {
//		return err
//	}
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
