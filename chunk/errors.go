package chunk

import (
	"errors"
	"fmt"

	"github.com/arloliu/diagcap/errs"
)

// DecodeError reports a chunk that could not be decoded.
//
// Offset is the byte offset into the decompressed body where decoding stopped, or zero when
// the failure happened before the body was available. errors.Is matches both
// errs.ErrCorruptPayload and the underlying cause.
type DecodeError struct {
	ChunkID int64
	Offset  int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("chunk %d: corrupt payload at offset %d: %v", e.ChunkID, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{errs.ErrCorruptPayload, e.Err}
}

func newDecodeError(id int64, offset int, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}

	return &DecodeError{ChunkID: id, Offset: offset, Err: err}
}
