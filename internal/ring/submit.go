package ring

import (
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// GetSQE reserves the next submission slot and returns it zeroed. The
// slot is not visible to the kernel until the next Submit. It fails with
// ErrCodeFull when the SQ has no free slot or when entries operations
// are already outstanding.
func (r *Ring) GetSQE() (*uapi.SQE, error) {
	sq := &r.sq
	if sq.entries == 0 {
		return nil, NewError("get_sqe", ErrCodeClosed, "ring is closed")
	}
	head := loadAcquire(sq.head)
	if sq.sqeTail-head >= sq.entries || r.outstanding >= sq.entries {
		return nil, errSQFull
	}

	sqe := &sq.sqes[sq.sqeTail&sq.mask]
	sq.sqeTail++
	r.outstanding++
	sqe.Reset()
	return sqe, nil
}

// SQReady returns the number of reserved SQEs not yet published.
func (r *Ring) SQReady() uint32 {
	if r.sq.entries == 0 {
		return 0
	}
	return r.sq.sqeTail - loadAcquire(r.sq.tail)
}

// SQSpace returns how many more SQEs GetSQE can hand out right now.
func (r *Ring) SQSpace() uint32 {
	sq := &r.sq
	if sq.entries == 0 {
		return 0
	}
	used := sq.sqeTail - loadAcquire(sq.head)
	if r.outstanding > used {
		used = r.outstanding
	}
	if used >= sq.entries {
		return 0
	}
	return sq.entries - used
}

// flushSQ publishes reserved SQEs with a release store of the tail and
// returns how many entries the kernel has yet to consume.
func (r *Ring) flushSQ() uint32 {
	sq := &r.sq
	if tail := loadAcquire(sq.tail); tail != sq.sqeTail {
		for i := tail; i != sq.sqeTail; i++ {
			r.refs.publish(&sq.sqes[i&sq.mask])
		}
		storeRelease(sq.tail, sq.sqeTail)
	}
	return sq.sqeTail - loadAcquire(sq.head)
}

// Submit publishes every reserved SQE and asks the kernel to consume
// them. It does not wait for completions.
func (r *Ring) Submit() (int, error) {
	return r.submit(0)
}

// SubmitAndWait publishes reserved SQEs and blocks until at least waitNr
// completions are ready. An interrupted wait returns an error with
// ErrCodeInterrupted; SQEs the kernel already consumed stay consumed.
func (r *Ring) SubmitAndWait(waitNr uint32) (int, error) {
	return r.submit(waitNr)
}

func (r *Ring) submit(waitNr uint32) (int, error) {
	if !r.open {
		return 0, NewError("submit", ErrCodeClosed, "ring is closed")
	}
	pending := r.flushSQ()
	if pending == 0 {
		if waitNr == 0 || r.CQReady() >= waitNr {
			return 0, nil
		}
	}

	var flags uint32
	if waitNr > 0 {
		flags |= uapi.IORING_ENTER_GETEVENTS
	}
	return r.Enter(pending, waitNr, flags)
}
