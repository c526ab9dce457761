package rawcompr

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Error is the error type returned by every package in this module. Derived
// errors keep the originating sentinel in their chain, so callers can
// classify a failure with errors.Is regardless of how many times it has been
// annotated on the way up.
type Error interface {
	error
	WithMessage(message string) Error
	Wrap(err error) Error
}

type baseError string

// One sentinel per failure class. Everything the binary reports is rooted in
// exactly one of these.
var ErrInvalidInput = baseError("invalid input")
var ErrCorruptSidecar = baseError("corrupt LLR file")
var ErrSizeMismatch = baseError("decoded packet size mismatch")
var ErrMissingPacket = baseError("source packet missing")
var ErrHashMismatch = baseError("corrupt file")
var ErrExternal = baseError("multimedia library error")
var ErrInternalBug = baseError("probably a bug. halting!")

func (e baseError) Error() string {
	return string(e)
}

func (e baseError) WithMessage(message string) Error {
	return customError{
		message:       fmt.Sprintf("%s: %s", string(e), message),
		originalError: e,
	}
}

func (e baseError) Wrap(err error) Error {
	return customError{
		message:       fmt.Sprintf("%s: %s", string(e), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a
// string describing the error.
func (e customError) Error() string {
	return e.message
}

func (e customError) WithMessage(message string) Error {
	return customError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customError) Wrap(err error) Error {
	return customError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customError) Unwrap() error {
	return e.originalError
}
