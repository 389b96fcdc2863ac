package pipeline

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline failure for callers.
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeProcessingFailed Code = "PROCESSING_FAILED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is a failure with a code and a message safe to show to callers.
// Err holds the internal cause, if any, and is never exposed.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the Code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}
