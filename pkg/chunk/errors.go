package chunk

import (
	"errors"
	"fmt"
)

// ErrorCode is the driver error code carried by chunk errors.
type ErrorCode string

const (
	// CodeChunkDownload marks a failure while fetching chunk bytes.
	CodeChunkDownload ErrorCode = "CHUNK_DOWNLOAD_ERROR"
	// CodeChunkProcessing marks a failure while decompressing or decoding.
	CodeChunkProcessing ErrorCode = "CHUNK_PROCESSING_ERROR"
	// CodeInvalidStateTransition marks a rejected status transition.
	CodeInvalidStateTransition ErrorCode = "INVALID_CHUNK_STATE_TRANSITION"
)

var (
	// ErrCancelled is reported by a completion signal that was cancelled
	// rather than failed.
	ErrCancelled = errors.New("chunk: download cancelled")

	// ErrReleased is returned when work is attempted on a released chunk.
	ErrReleased = errors.New("chunk: released")

	// ErrNoLink is returned when a chunk has no download link to fetch.
	ErrNoLink = errors.New("chunk: no download link")
)

// Error is the typed error delivered through a chunk's completion signal.
// Use errors.As to extract it and inspect Code and the wrapped cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TransitionError is returned when a chunk is asked to move to a status that
// is not reachable from its current one.
type TransitionError struct {
	StatementID string
	Index       int64
	From        Status
	To          Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for chunk [%d] and statement [%s]: %s -> %s",
		e.Index, e.StatementID, e.From, e.To)
}

// Code returns CodeInvalidStateTransition.
func (e *TransitionError) Code() ErrorCode {
	return CodeInvalidStateTransition
}

// CodeOf returns the driver error code found in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code()
	}
	return ""
}
