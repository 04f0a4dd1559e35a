// Package framing turns a byte stream into discrete frames. Two variants
// are provided: length-prefixed (binary, via encoding/binary) and
// line-delimited (UTF-8, newline terminated). Both satisfy the Framer
// contract below.
package framing

import "errors"

// Framer turns bytes flowing across a transport into complete frames and
// back. An instance owns an internal buffer across Push calls; partial
// frames are retained until more bytes arrive.
type Framer interface {
	// Encode wraps payload in this framer's wire format.
	Encode(payload []byte) ([]byte, error)
	// Push appends newly-read bytes and returns zero or more complete
	// frames extracted from the accumulated buffer.
	Push(chunk []byte) ([][]byte, error)
}

// Error is the taxonomy's FramingError: oversized frame, malformed prefix,
// or a forbidden embedded separator. A FramingError is terminal for the
// owning transport/channel — the stream is considered corrupt once one
// occurs.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "framing: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) error { return &Error{Op: op, Err: err} }

var (
	// ErrFrameTooLarge is returned when a frame would exceed the
	// configured maximum size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMalformedPrefix is returned when a length prefix cannot be a
	// valid frame length (e.g. it claims a negative or absurd length).
	ErrMalformedPrefix = errors.New("malformed length prefix")
	// ErrEmbeddedSeparator is returned by the line-delimited framer when
	// asked to encode a payload containing the line separator: embedded
	// separators are rejected at encode time rather than escaped.
	ErrEmbeddedSeparator = errors.New("payload contains embedded line separator")
)
