package webcodecs

import (
	"errors"
	"fmt"
)

// Common errors. These enable callers to programmatically distinguish
// failure modes using errors.Is.
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// pipeline's current lifecycle state (e.g. Decode before Configure,
	// anything after Close, or a submit while a flush is pending).
	ErrInvalidState = errors.New("webcodecs: invalid state")

	// ErrNotSupported is returned by Configure when the requested codec is
	// not in the supported set or a required field is invalid.
	ErrNotSupported = errors.New("webcodecs: configuration not supported")

	// ErrMalformedRecord is returned when binary input violates the format
	// invariants of a decoder configuration record, IVF stream, or
	// AudioSpecificConfig.
	ErrMalformedRecord = errors.New("webcodecs: malformed record")

	// ErrQuotaExceeded is reported through the error callback when the
	// codec queue has reached its ceiling. It is recoverable: resubmit
	// after outputs drain.
	ErrQuotaExceeded = errors.New("webcodecs: codec queue is full")

	// ErrFlushTimeout is returned by Flush when the engine does not
	// acknowledge a full drain before the context deadline.
	ErrFlushTimeout = errors.New("webcodecs: flush deadline exceeded")

	// ErrBufferTooSmall is returned by CopyTo when the destination buffer
	// is smaller than ByteLength.
	ErrBufferTooSmall = errors.New("webcodecs: buffer too small")

	// ErrFrameClosed is returned when frame data is accessed or released
	// after Close.
	ErrFrameClosed = errors.New("webcodecs: frame already closed")
)

// EncodingError indicates an engine-reported failure or an unhealthy
// engine. It is delivered through the error callback, never thrown from a
// pipeline call, and leaves the pipeline in a state from which Reset or
// Configure is possible.
type EncodingError struct {
	Op  string // pipeline operation in flight ("decode", "encode", "flush")
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("webcodecs: encoding error during %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// MuxerError tags a muxer backend failure with the backend identity and
// the operation that failed, so fallback decisions and surfaced errors can
// name both.
type MuxerError struct {
	Backend string // backend Name()
	Op      string // "open", "addVideoTrack", "writeVideoChunk", ...
	Err     error
}

func (e *MuxerError) Error() string {
	return fmt.Sprintf("webcodecs: muxer backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *MuxerError) Unwrap() error {
	return e.Err
}
