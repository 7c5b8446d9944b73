package section

// Fixed sizes of the binary framing around a chunk body.
const (
	PayloadHeaderSize = 4 // uint32 LE uncompressed body length preceding the compressed body
	BodyCountsSize    = 8 // uint32 LE metric count followed by uint32 LE delta count

	// MaxBodySize bounds the declared uncompressed length so a corrupt header cannot request an
	// arbitrarily large allocation.
	MaxBodySize = 64 * 1024 * 1024
)
