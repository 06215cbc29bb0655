package liveview

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned by Stream.Next after Cancel or after the
	// view closed.
	ErrStreamClosed = errors.New("liveview: stream closed")

	// ErrViewClosed is returned by operations on a closed view.
	ErrViewClosed = errors.New("liveview: view closed")

	// ErrSweepTooSoon is returned when a sweep is requested within the
	// minimum interval of the previous one.
	ErrSweepTooSoon = errors.New("liveview: sweep requested before minimum interval elapsed")

	// ErrReservedField is returned when a mutation tries to set the id or
	// the visibility flag directly.
	ErrReservedField = errors.New("liveview: reserved field")
)

// DecodeError reports a stored document that could not be decoded. It is
// handled per record: the document is left out of the projection and the
// rest of the batch is unaffected.
type DecodeError struct {
	Collection string
	ID         string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError returns true if err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
