package capture

import (
	"io"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/format"
	"github.com/arloliu/diagcap/internal/pool"
)

// Writer appends records to a capture file.
//
// Not safe for concurrent use.
type Writer struct {
	w   io.Writer
	buf *pool.ByteBuffer
	n   int64
}

// NewWriter creates a record writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   w,
		buf: pool.GetRecordBuffer(),
	}
}

// WriteMetadata writes the leading metadata record wrapping doc.
func (w *Writer) WriteMetadata(id int64, doc bsoncore.Document) error {
	return w.writeDocRecord(format.RecordMetadata, id, doc)
}

// WritePeriodicMetadata writes a metadata record between data records.
func (w *Writer) WritePeriodicMetadata(id int64, doc bsoncore.Document) error {
	return w.writeDocRecord(format.RecordPeriodicMetadata, id, doc)
}

// WriteChunk writes a data record carrying one chunk payload as produced by ChunkEncoder.
func (w *Writer) WriteChunk(id int64, payload []byte) error {
	w.buf.Reset()
	w.buf.B = bsoncore.BuildDocumentFromElements(w.buf.B,
		bsoncore.AppendDateTimeElement(nil, fieldID, id),
		bsoncore.AppendInt32Element(nil, fieldType, int32(format.RecordData)),
		bsoncore.AppendBinaryElement(nil, fieldData, bsontype.BinaryGeneric, payload),
	)

	return w.flush()
}

// WriteRaw writes pre-built bytes verbatim, for example to reproduce a truncated tail.
func (w *Writer) WriteRaw(data []byte) error {
	n, err := w.w.Write(data)
	w.n += int64(n)

	return err
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.n
}

// Close releases the record buffer. It does not close the underlying writer.
func (w *Writer) Close() {
	pool.PutRecordBuffer(w.buf)
	w.buf = nil
}

func (w *Writer) writeDocRecord(kind format.RecordKind, id int64, doc bsoncore.Document) error {
	w.buf.Reset()
	w.buf.B = bsoncore.BuildDocumentFromElements(w.buf.B,
		bsoncore.AppendDateTimeElement(nil, fieldID, id),
		bsoncore.AppendInt32Element(nil, fieldType, int32(kind)),
		bsoncore.AppendDocumentElement(nil, fieldDoc, doc),
	)

	return w.flush()
}

func (w *Writer) flush() error {
	n, err := w.buf.WriteTo(w.w)
	w.n += n

	return err
}
