package ring

import (
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// Enter is the raw io_uring_enter call: submit up to toSubmit published
// SQEs and, with IORING_ENTER_GETEVENTS in flags, block until at least
// minComplete completions are ready. It returns the number of SQEs the
// kernel consumed.
//
// EINTR, EAGAIN and EBUSY come back as ErrCodeInterrupted and may be
// retried by the caller. Any other failure is ErrCodeKernel (or
// ErrCodeClosed for a bad ring fd). Enter never retries on its own.
func (r *Ring) Enter(toSubmit, minComplete, flags uint32) (int, error) {
	if !r.open {
		return 0, NewError("enter", ErrCodeClosed, "ring is closed")
	}
	n, errno := sysEnter(r.fd, toSubmit, minComplete, flags)
	if errno == 0 {
		return n, nil
	}

	err := NewErrorWithErrno("enter", mapErrnoToCode(errno), errno)
	if err.Code == ErrCodeInterrupted {
		r.logger.Debug("io_uring_enter interrupted", "errno", errno, "to_submit", toSubmit)
	} else {
		r.logger.Error("io_uring_enter failed",
			"errno", errno,
			"to_submit", toSubmit,
			"min_complete", minComplete,
			"flags", flags)
	}
	return n, err
}

// WaitCQE returns the oldest completion, blocking in io_uring_enter
// until one arrives. Interrupted waits are retried. The CQE must still be
// released with CQESeen.
func (r *Ring) WaitCQE() (*uapi.CQE, error) {
	for {
		if cqe, ok := r.PeekCQE(); ok {
			return cqe, nil
		}
		if !r.open {
			return nil, NewError("wait_cqe", ErrCodeClosed, "ring is closed")
		}
		if _, err := r.Enter(0, 1, uapi.IORING_ENTER_GETEVENTS); err != nil && !IsRetryable(err) {
			return nil, err
		}
	}
}
