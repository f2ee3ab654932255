package hel

import (
	"errors"
	"fmt"

	"github.com/managarm/hel/internal/kernel"
)

// ErrorCode enumerates the closed set of error conditions the Hel
// kernel can report (§6). It mirrors the kernel's HelError taxonomy,
// not the raw wire value — see FromHelError for the mapping.
type ErrorCode int

const (
	ErrCodeIllegalSyscall ErrorCode = iota + 1
	ErrCodeIllegalArgs
	ErrCodeIllegalState
	ErrCodeUnsupportedOperation
	ErrCodeOutOfBounds
	ErrCodeQueueTooSmall
	ErrCodeCancelled
	ErrCodeNoDescriptor
	ErrCodeBadDescriptor
	ErrCodeThreadTerminated
	ErrCodeTransmissionMismatch
	ErrCodeLaneShutdown
	ErrCodeEndOfLane
	ErrCodeDismissed
	ErrCodeBufferTooSmall
	ErrCodeFault
	ErrCodeRemoteFault
	ErrCodeNoHardwareSupport
	ErrCodeNoMemory
	ErrCodeAlreadyExists
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeIllegalSyscall:
		return "illegal syscall"
	case ErrCodeIllegalArgs:
		return "illegal arguments"
	case ErrCodeIllegalState:
		return "illegal state"
	case ErrCodeUnsupportedOperation:
		return "unsupported operation"
	case ErrCodeOutOfBounds:
		return "out of bounds"
	case ErrCodeQueueTooSmall:
		return "queue too small"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeNoDescriptor:
		return "no descriptor"
	case ErrCodeBadDescriptor:
		return "bad descriptor"
	case ErrCodeThreadTerminated:
		return "thread terminated"
	case ErrCodeTransmissionMismatch:
		return "transmission mismatch"
	case ErrCodeLaneShutdown:
		return "lane shutdown"
	case ErrCodeEndOfLane:
		return "end of lane"
	case ErrCodeDismissed:
		return "dismissed"
	case ErrCodeBufferTooSmall:
		return "buffer too small"
	case ErrCodeFault:
		return "fault"
	case ErrCodeRemoteFault:
		return "remote fault"
	case ErrCodeNoHardwareSupport:
		return "no hardware support"
	case ErrCodeNoMemory:
		return "no memory"
	case ErrCodeAlreadyExists:
		return "already exists"
	default:
		return "unknown error"
	}
}

// Error is a structured Hel error: an operation name, an error code
// from the closed taxonomy above, and an optional wrapped cause.
type Error struct {
	Op    string
	Code  ErrorCode
	Inner error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("hel: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("hel: %s", e.Code)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against another *Error by code,
// ignoring Op and Inner.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// FatalError marks a protocol violation rather than an ordinary
// operational failure — the queue or executor state is no longer
// trustworthy and the caller should not retry (§7). It still satisfies
// the error interface so it can be wrapped and inspected with
// errors.As, but callers must never treat it like an *Error.
type FatalError struct {
	Msg   string
	Inner error
}

func (e *FatalError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("hel: fatal: %s: %v", e.Msg, e.Inner)
	}
	return fmt.Sprintf("hel: fatal: %s", e.Msg)
}

func (e *FatalError) Unwrap() error {
	return e.Inner
}

// NewError constructs an *Error for the given operation and code.
func NewError(op string, code ErrorCode) *Error {
	return &Error{Op: op, Code: code}
}

// WrapError attaches an operation name to an existing error. A
// *kernel.KernelError is translated through FromHelError first (the
// Kernel interface cannot do this itself without importing this
// package); an *Error already carries a code and just gets reparented
// under the new Op; anything else is wrapped verbatim.
func WrapError(op string, inner error) error {
	if inner == nil {
		return nil
	}
	var ke *kernel.KernelError
	if errors.As(inner, &ke) {
		return FromHelError(op, ke.RawCode)
	}
	var he *Error
	if errors.As(inner, &he) {
		return &Error{Op: op, Code: he.Code, Inner: inner}
	}
	return fmt.Errorf("hel: %s: %w", op, inner)
}

// FromHelError translates a raw kernel error word (§6) into the
// module's error type. HelErrNone (0) maps to nil. An unrecognized
// code is a protocol violation, not an ordinary error, so it panics
// with a *FatalError rather than returning one — per §4.1's
// requirement that an out-of-range code "must be reported distinctly"
// rather than silently coerced into a known member.
func FromHelError(op string, raw uint32) error {
	if raw == 0 {
		return nil
	}
	code, ok := helErrorCodes[raw]
	if !ok {
		panic(&FatalError{Msg: fmt.Sprintf("unrecognized kernel error code %d from %s", raw, op)})
	}
	return &Error{Op: op, Code: code}
}

var helErrorCodes = map[uint32]ErrorCode{
	1:  ErrCodeIllegalSyscall,
	2:  ErrCodeIllegalArgs,
	3:  ErrCodeIllegalState,
	4:  ErrCodeUnsupportedOperation,
	5:  ErrCodeOutOfBounds,
	6:  ErrCodeQueueTooSmall,
	7:  ErrCodeCancelled,
	8:  ErrCodeNoDescriptor,
	9:  ErrCodeBadDescriptor,
	10: ErrCodeThreadTerminated,
	11: ErrCodeTransmissionMismatch,
	12: ErrCodeLaneShutdown,
	13: ErrCodeEndOfLane,
	14: ErrCodeDismissed,
	15: ErrCodeBufferTooSmall,
	16: ErrCodeFault,
	17: ErrCodeRemoteFault,
	18: ErrCodeNoHardwareSupport,
	19: ErrCodeNoMemory,
	20: ErrCodeAlreadyExists,
}

// IsCode reports whether err is an *Error (or wraps one) with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsCancelled is a convenience check used throughout the queue's
// futex-retry loop (§4.4.5).
func IsCancelled(err error) bool {
	return IsCode(err, ErrCodeCancelled)
}
