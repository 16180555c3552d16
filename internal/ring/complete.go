package ring

import (
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// CQReady returns the number of completions waiting to be consumed.
func (r *Ring) CQReady() uint32 {
	cq := &r.cq
	if cq.entries == 0 {
		return 0
	}
	return loadAcquire(cq.tail) - loadAcquire(cq.head)
}

// PeekCQE returns the oldest unconsumed completion without consuming
// it. The returned pointer aliases ring memory and is valid until the
// matching CQESeen.
func (r *Ring) PeekCQE() (*uapi.CQE, bool) {
	cq := &r.cq
	if cq.entries == 0 {
		return nil, false
	}
	head := loadAcquire(cq.head)
	if head == loadAcquire(cq.tail) {
		return nil, false
	}
	return &cq.cqes[head&cq.mask], true
}

// CQESeen consumes one completion, handing its slot back to the kernel.
// Completions must be consumed in the order PeekCQE returns them.
func (r *Ring) CQESeen(cqe *uapi.CQE) {
	r.CQAdvance(1)
}

// CQAdvance consumes n completions at once.
func (r *Ring) CQAdvance(n uint32) {
	cq := &r.cq
	if n == 0 || cq.entries == 0 {
		return
	}
	head := loadAcquire(cq.head)
	if r.refs.held() > 0 {
		for i := uint32(0); i < n; i++ {
			r.refs.complete(cq.cqes[(head+i)&cq.mask].UserData)
		}
	}
	storeRelease(cq.head, head+n)
	if n > r.outstanding {
		n = r.outstanding
	}
	r.outstanding -= n
}

// PeekBatchCQE fills cqes with up to len(cqes) ready completions and
// returns how many it filled. Release them with CQAdvance.
func (r *Ring) PeekBatchCQE(cqes []*uapi.CQE) int {
	cq := &r.cq
	if cq.entries == 0 {
		return 0
	}
	head := loadAcquire(cq.head)
	ready := loadAcquire(cq.tail) - head
	n := len(cqes)
	if uint32(n) > ready {
		n = int(ready)
	}
	for i := 0; i < n; i++ {
		cqes[i] = &cq.cqes[(head+uint32(i))&cq.mask]
	}
	return n
}

// Overflow returns the kernel's count of completions it had to drop
// because the CQ was full.
func (r *Ring) Overflow() uint32 {
	if r.cq.overflow == nil {
		return 0
	}
	return loadAcquire(r.cq.overflow)
}
