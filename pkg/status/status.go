// Package status defines the error taxonomy shared by every kernel object
// package and the numeric status codes returned across the syscall boundary.
package status

import (
	"context"
	"errors"
	"fmt"
)

// Status is a numeric result code. OK is zero, failures are negative.
type Status int32

const (
	OK               Status = 0
	ErrCodeInternal  Status = -1
	ErrCodeSupport   Status = -2
	ErrCodeNoMemory  Status = -4
	ErrCodeArgs      Status = -10
	ErrCodeBadHandle Status = -11
	ErrCodeWrongType Status = -12
	ErrCodeRange     Status = -14
	ErrCodeBadState  Status = -20
	ErrCodeTimedOut  Status = -21
	ErrCodeBound     Status = -27
	ErrCodeNotFound  Status = -25
	ErrCodeAccess    Status = -30
	ErrCodeCanceled  Status = -23
)

// Error taxonomy. Components wrap these so callers can match with errors.Is.
var (
	// ErrInvalidArgs is malformed caller input: zero size, bad alignment, bad slot index.
	ErrInvalidArgs = errors.New("invalid args")
	// ErrAccessDenied is a failed resource validation.
	ErrAccessDenied = errors.New("permission denied")
	// ErrBadHandle is a handle value the process does not own.
	ErrBadHandle = errors.New("bad handle")
	// ErrWrongType is a handle naming an object of another type.
	ErrWrongType = errors.New("wrong object type")
	// ErrOutOfRange is a requested range that is not covered by a grant.
	ErrOutOfRange = errors.New("out of range")
	// ErrAlreadyBound is an interrupt vector claimed elsewhere.
	ErrAlreadyBound = errors.New("already bound")
	// ErrNotBound is an operation on an interrupt slot with no vector.
	ErrNotBound = errors.New("not bound")
	// ErrNoMemory is an allocation or commit shortfall.
	ErrNoMemory = errors.New("no memory")
	// ErrNotSupported is an operation the platform does not implement.
	ErrNotSupported = errors.New("not supported")
	// ErrCanceled is a wait interrupted by unbind or object destruction.
	ErrCanceled = errors.New("canceled")
	// ErrNotFound is a lookup that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrBadState is an operation on an object in the wrong lifecycle state.
	ErrBadState = errors.New("bad state")
)

var codes = []struct {
	err  error
	code Status
}{
	{ErrInvalidArgs, ErrCodeArgs},
	{ErrAccessDenied, ErrCodeAccess},
	{ErrBadHandle, ErrCodeBadHandle},
	{ErrWrongType, ErrCodeWrongType},
	{ErrOutOfRange, ErrCodeRange},
	{ErrAlreadyBound, ErrCodeBound},
	{ErrNotBound, ErrCodeNotFound},
	{ErrNoMemory, ErrCodeNoMemory},
	{ErrNotSupported, ErrCodeSupport},
	{ErrCanceled, ErrCodeCanceled},
	{ErrNotFound, ErrCodeNotFound},
	{ErrBadState, ErrCodeBadState},
	{context.DeadlineExceeded, ErrCodeTimedOut},
	{context.Canceled, ErrCodeCanceled},
}

// Code maps err to its status code. Wrapped errors match the first taxonomy
// entry they contain, so an access failure wrapping a range error reports
// ErrCodeAccess.
func Code(err error) Status {
	if err == nil {
		return OK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ErrCodeInternal
}

// String returns the conventional name of the status.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ErrCodeInternal:
		return "ERR_INTERNAL"
	case ErrCodeSupport:
		return "ERR_NOT_SUPPORTED"
	case ErrCodeNoMemory:
		return "ERR_NO_MEMORY"
	case ErrCodeArgs:
		return "ERR_INVALID_ARGS"
	case ErrCodeBadHandle:
		return "ERR_BAD_HANDLE"
	case ErrCodeWrongType:
		return "ERR_WRONG_TYPE"
	case ErrCodeRange:
		return "ERR_OUT_OF_RANGE"
	case ErrCodeBadState:
		return "ERR_BAD_STATE"
	case ErrCodeTimedOut:
		return "ERR_TIMED_OUT"
	case ErrCodeBound:
		return "ERR_ALREADY_BOUND"
	case ErrCodeNotFound:
		return "ERR_NOT_FOUND"
	case ErrCodeAccess:
		return "ERR_ACCESS_DENIED"
	case ErrCodeCanceled:
		return "ERR_CANCELED"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Error lets a Status travel as an error when a caller only has the code.
func (s Status) Error() string {
	return s.String()
}
