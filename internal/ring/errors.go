package ring

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured ring error with context and errno mapping
type Error struct {
	Op    string        // Operation that failed (e.g., "setup", "enter", "READ")
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("uring: %s (%s)", msg, strings.Join(parts, ", "))
	}

	return "uring: " + msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error with the same code, so the package sentinels
// work with errors.Is.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok && te != nil {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeResource    ErrorCode = "resource unavailable"
	ErrCodeFull        ErrorCode = "submission queue full"
	ErrCodeInterrupted ErrorCode = "interrupted"
	ErrCodeKernel      ErrorCode = "kernel error"
	ErrCodeUnsupported ErrorCode = "operation not supported"
	ErrCodeClosed      ErrorCode = "ring closed"
	ErrCodeInvalid     ErrorCode = "invalid parameters"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrResource    = &Error{Code: ErrCodeResource}
	ErrFull        = &Error{Code: ErrCodeFull}
	ErrInterrupted = &Error{Code: ErrCodeInterrupted}
	ErrKernel      = &Error{Code: ErrCodeKernel}
	ErrUnsupported = &Error{Code: ErrCodeUnsupported}
	ErrClosed      = &Error{Code: ErrCodeClosed}
	ErrInvalid     = &Error{Code: ErrCodeInvalid}
)

// errSQFull is returned by GetSQE. It is shared to keep the hot path
// allocation free; callers must not modify it.
var errSQFull = &Error{Op: "get_sqe", Code: ErrCodeFull}

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
		Inner: errno,
	}
}

// WrapError wraps an existing error with ring context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	var re *Error
	if errors.As(inner, &re) {
		return &Error{
			Op:    op,
			Code:  re.Code,
			Errno: re.Errno,
			Msg:   re.Msg,
			Inner: re.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeKernel,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode classifies an io_uring_enter/io_uring_register errno.
// Setup failures are always ErrCodeResource and do not go through here.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINTR, syscall.EAGAIN, syscall.EBUSY:
		return ErrCodeInterrupted
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupported
	case syscall.EBADF, syscall.EBADFD:
		return ErrCodeClosed
	default:
		return ErrCodeKernel
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Errno == errno
	}
	return false
}

// IsRetryable reports whether the failed call may simply be repeated.
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeInterrupted)
}
