package format

type (
	DeltaEncoding   uint8
	CompressionType uint8
	MetricType      uint8
	RecordKind      uint8
)

const (
	DeltaZigZag   DeltaEncoding = 0x1 // DeltaZigZag stores each delta as a zig-zag mapped uvarint.
	DeltaUnsigned DeltaEncoding = 0x2 // DeltaUnsigned stores each delta as a wrapping uint64 uvarint.

	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
	CompressionZlib CompressionType = 0x5 // CompressionZlib represents zlib compression, native to capture files.

	MetricDouble    MetricType = 0x1 // MetricDouble is a BSON double truncated to int64.
	MetricInt32     MetricType = 0x2 // MetricInt32 is a BSON int32.
	MetricInt64     MetricType = 0x3 // MetricInt64 is a BSON int64.
	MetricBool      MetricType = 0x4 // MetricBool is a BSON boolean stored as 0 or 1.
	MetricDateTime  MetricType = 0x5 // MetricDateTime is a BSON UTC datetime in milliseconds.
	MetricTimestamp MetricType = 0x6 // MetricTimestamp is one half (seconds or increment) of a BSON timestamp.

	RecordMetadata         RecordKind = 0x0 // RecordMetadata is the leading descriptive document of a file.
	RecordData             RecordKind = 0x1 // RecordData carries one compressed chunk.
	RecordPeriodicMetadata RecordKind = 0x2 // RecordPeriodicMetadata is a metadata delta written between chunks.
)

func (e DeltaEncoding) String() string {
	switch e {
	case DeltaZigZag:
		return "ZigZag"
	case DeltaUnsigned:
		return "Unsigned"
	default:
		return "Unknown"
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	case CompressionZlib:
		return "Zlib"
	default:
		return "Unknown"
	}
}

func (m MetricType) String() string {
	switch m {
	case MetricDouble:
		return "Double"
	case MetricInt32:
		return "Int32"
	case MetricInt64:
		return "Int64"
	case MetricBool:
		return "Bool"
	case MetricDateTime:
		return "DateTime"
	case MetricTimestamp:
		return "Timestamp"
	default:
		return "Unknown"
	}
}

func (k RecordKind) String() string {
	switch k {
	case RecordMetadata:
		return "Metadata"
	case RecordData:
		return "Data"
	case RecordPeriodicMetadata:
		return "PeriodicMetadata"
	default:
		return "Unknown"
	}
}

// ParseCompressionType maps a lower-case codec name to its CompressionType.
func ParseCompressionType(name string) (CompressionType, bool) {
	switch name {
	case "none":
		return CompressionNone, true
	case "zstd":
		return CompressionZstd, true
	case "s2":
		return CompressionS2, true
	case "lz4":
		return CompressionLZ4, true
	case "zlib", "":
		return CompressionZlib, true
	default:
		return 0, false
	}
}

// ParseDeltaEncoding maps a lower-case delta mode name to its DeltaEncoding.
func ParseDeltaEncoding(name string) (DeltaEncoding, bool) {
	switch name {
	case "zigzag", "":
		return DeltaZigZag, true
	case "unsigned":
		return DeltaUnsigned, true
	default:
		return 0, false
	}
}
