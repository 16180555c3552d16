package uring

import (
	"syscall"

	"github.com/ehrlich-b/go-uring/internal/ring"
)

// Error represents a structured ring error with context and errno mapping.
// Match categories with errors.Is against the sentinels below.
type Error = ring.Error

// ErrorCode represents high-level error categories
type ErrorCode = ring.ErrorCode

const (
	ErrCodeResource    = ring.ErrCodeResource
	ErrCodeFull        = ring.ErrCodeFull
	ErrCodeInterrupted = ring.ErrCodeInterrupted
	ErrCodeKernel      = ring.ErrCodeKernel
	ErrCodeUnsupported = ring.ErrCodeUnsupported
	ErrCodeClosed      = ring.ErrCodeClosed
	ErrCodeInvalid     = ring.ErrCodeInvalid
)

// Sentinel errors. Any *Error with the same code matches under errors.Is.
var (
	// ErrResource: the ring could not be created or mapped.
	ErrResource = ring.ErrResource

	// ErrFull: every submission slot is outstanding. Consume completions
	// and retry.
	ErrFull = ring.ErrFull

	// ErrInterrupted: io_uring_enter returned EINTR, EAGAIN or EBUSY.
	// Safe to retry.
	ErrInterrupted = ring.ErrInterrupted

	// ErrKernel: any other io_uring_enter or register failure.
	ErrKernel = ring.ErrKernel

	// ErrUnsupported: the kernel lacks the opcode or feature.
	ErrUnsupported = ring.ErrUnsupported

	// ErrClosed: the ring or runner has been shut down.
	ErrClosed = ring.ErrClosed

	// ErrInvalid: the request was rejected before reaching the kernel.
	ErrInvalid = ring.ErrInvalid
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return ring.NewError(op, code, msg)
}

// WrapError wraps an existing error with ring context
func WrapError(op string, inner error) *Error {
	return ring.WrapError(op, inner)
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	return ring.IsCode(err, code)
}

// IsErrno checks if an error carries a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	return ring.IsErrno(err, errno)
}

// IsRetryable reports whether the failed call may simply be repeated.
func IsRetryable(err error) bool {
	return ring.IsRetryable(err)
}
