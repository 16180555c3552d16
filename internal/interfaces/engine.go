package interfaces

import "github.com/ehrlich-b/go-uring/internal/uapi"

// Engine is the submission/completion surface of one io_uring instance.
// Implementations are single-producer single-consumer: GetSQE through
// Submit must be called from one goroutine at a time, and so must
// PeekCQE/CQESeen.
type Engine interface {
	// GetSQE reserves the next submission slot. It returns an error
	// carrying the full code when every slot is outstanding.
	GetSQE() (*uapi.SQE, error)

	// Submit publishes reserved SQEs and notifies the kernel.
	// It returns the number of SQEs the kernel consumed.
	Submit() (int, error)

	// SubmitAndWait is Submit followed by a wait until at least waitNr
	// completions are ready.
	SubmitAndWait(waitNr uint32) (int, error)

	// CQReady returns the number of completions waiting to be consumed.
	CQReady() uint32

	// PeekCQE returns the oldest unconsumed completion without consuming it.
	PeekCQE() (*uapi.CQE, bool)

	// CQESeen consumes the completion returned by PeekCQE.
	CQESeen(cqe *uapi.CQE)

	// Probe reports which opcodes the kernel supports.
	Probe() (*uapi.Probe, error)

	// Entries returns the submission queue depth.
	Entries() uint32

	// Close tears the ring down. Outstanding operations are abandoned.
	Close() error
}

// Observer receives ring activity for metrics collection.
type Observer interface {
	// ObserveSubmit is called when an operation is queued to the ring
	ObserveSubmit(op uint8)

	// ObserveComplete is called for each completed operation.
	// bytes is the transfer size for successful reads and writes.
	ObserveComplete(op uint8, bytes uint64, latencyNs uint64, success bool)

	// ObserveQueueDepth is called with the number of operations in flight
	ObserveQueueDepth(depth uint32)

	// ObserveSQFull is called when a reservation hits a full ring
	ObserveSQFull()

	// ObserveInterrupted is called when a ring syscall returns a retryable error
	ObserveInterrupted()
}
