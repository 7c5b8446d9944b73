package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/endian"
	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/pool"
)

const (
	// MinRecordSize is the size of an empty BSON document.
	MinRecordSize = 5
	// MaxRecordSize bounds a single record so a corrupt length prefix cannot exhaust memory.
	MaxRecordSize = 64 * 1024 * 1024

	fieldID      = "_id"
	fieldType    = "type"
	fieldData    = "data"
	fieldDoc     = "doc"
	defaultBufSz = 256 * 1024
)

// Record is one top-level document of a capture file.
type Record struct {
	Kind format.RecordKind
	// ID is the record's _id datetime in milliseconds; for data records it is the chunk id.
	ID int64
	// Doc is the embedded "doc" of a metadata record, or the whole record when it has none.
	Doc bsoncore.Document
	// Payload is the binary "data" field of a data record.
	Payload []byte
	// Offset is the byte offset of the record within the file.
	Offset int64
}

// Reader iterates the records of a capture file.
//
// Each returned Record owns its memory: the read buffer is reused between calls, so the
// document and payload are copied out before Next returns.
type Reader struct {
	r       *bufio.Reader
	buf     *pool.ByteBuffer
	offset  int64
	records int
}

// NewReader creates a record reader on top of r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   bufio.NewReaderSize(r, defaultBufSz),
		buf: pool.GetRecordBuffer(),
	}
}

// Next returns the next record.
//
// Returns io.EOF at a clean end of input, errs.ErrTruncatedRecord when the input ends inside a
// record (a capture file still being written), and errs.ErrInvalidRecord for a record that is
// not a valid document or lacks the fields its kind requires.
func (r *Reader) Next() (*Record, error) {
	if r.buf == nil {
		return nil, io.EOF
	}

	var prefix [4]byte
	n, err := io.ReadFull(r.r, prefix[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %d of 4 length bytes at offset %d", errs.ErrTruncatedRecord, n, r.offset)
		}

		return nil, err
	}

	size := int(int32(endian.GetLittleEndianEngine().Uint32(prefix[:]))) //nolint:gosec
	if size < MinRecordSize || size > MaxRecordSize {
		return nil, fmt.Errorf("%w: length %d at offset %d", errs.ErrInvalidRecord, size, r.offset)
	}

	r.buf.Reset()
	r.buf.Grow(size)
	r.buf.MustWrite(prefix[:])
	r.buf.B = r.buf.B[:size]
	if n, err := io.ReadFull(r.r, r.buf.B[4:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %d of %d bytes at offset %d", errs.ErrTruncatedRecord, n+4, size, r.offset)
		}

		return nil, err
	}

	rec, err := r.parse(bsoncore.Document(r.buf.B))
	if err != nil {
		return nil, fmt.Errorf("%w: record %d at offset %d: %w", errs.ErrInvalidRecord, r.records, r.offset, err)
	}
	rec.Offset = r.offset

	r.offset += int64(size)
	r.records++

	return rec, nil
}

// Close releases the read buffer. It does not close the underlying reader.
func (r *Reader) Close() {
	pool.PutRecordBuffer(r.buf)
	r.buf = nil
}

func (r *Reader) parse(doc bsoncore.Document) (*Record, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	rec := &Record{}

	switch v := doc.Lookup(fieldType); v.Type {
	case bsontype.Int32:
		rec.Kind = format.RecordKind(v.Int32()) //nolint:gosec
	case bsontype.Int64:
		rec.Kind = format.RecordKind(v.Int64()) //nolint:gosec
	case bsontype.Double:
		rec.Kind = format.RecordKind(v.Double())
	default:
		// Untyped files: the first record describes the process, every later one is data.
		if r.records == 0 {
			rec.Kind = format.RecordMetadata
		} else {
			rec.Kind = format.RecordData
		}
	}

	switch v := doc.Lookup(fieldID); v.Type {
	case bsontype.DateTime:
		rec.ID = v.DateTime()
	case bsontype.Int64:
		rec.ID = v.Int64()
	default:
		if rec.Kind == format.RecordData {
			return nil, fmt.Errorf("data record without %s datetime", fieldID)
		}
	}

	switch rec.Kind {
	case format.RecordData:
		subtype, data, ok := doc.Lookup(fieldData).BinaryOK()
		if !ok {
			return nil, fmt.Errorf("data record without binary %s field", fieldData)
		}
		if subtype != bsontype.BinaryGeneric {
			return nil, fmt.Errorf("unexpected binary subtype 0x%02x", subtype)
		}
		rec.Payload = bytes.Clone(data)
	case format.RecordMetadata, format.RecordPeriodicMetadata:
		if inner, ok := doc.Lookup(fieldDoc).DocumentOK(); ok {
			rec.Doc = bytes.Clone(inner)
		} else {
			rec.Doc = bytes.Clone(doc)
		}
	default:
		return nil, fmt.Errorf("unknown record type %d", rec.Kind)
	}

	return rec, nil
}
