package errors

import (
	"context"
	stderrors "errors"
)

// FromError converts any error to Errno.
// An Errno anywhere in the chain is returned as is. A bare deadline becomes
// ErrRequestTimeout and anything else ErrInternal.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	var e *Errno
	if stderrors.As(err, &e) {
		return e
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrRequestTimeout.WithCause(err)
	}
	return ErrInternal.WithCause(err)
}

// IsCode checks if the error chain carries the given error code.
func IsCode(err error, code int) bool {
	var e *Errno
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode returns the error code from an error, or -1 if none is present.
func GetCode(err error) int {
	var e *Errno
	if stderrors.As(err, &e) {
		return e.Code
	}
	return -1
}
