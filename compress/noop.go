package compress

// NoOpCompressor passes chunk bodies through unchanged.
//
// It is used for capture files whose bodies are stored uncompressed (format.CompressionNone)
// and in tests that want to craft decompressed bodies byte by byte.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor creates a new pass-through codec.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns the input slice as-is, without copying.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the input slice as-is, without copying.
//
// Note: The returned slice shares memory with the input. Chunk payloads are copied out of
// the record reader before they reach the decoder, so sharing is safe there.
func (c NoOpCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
