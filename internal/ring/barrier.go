package ring

import "sync/atomic"

// Head and tail indices live in memory shared with the kernel. Go's
// sync/atomic operations are sequentially consistent, which is at least
// the acquire/release pairing the io_uring protocol requires.

// loadAcquire reads an index the kernel publishes (SQ head, CQ tail).
func loadAcquire(p *uint32) uint32 {
	return atomic.LoadUint32(p)
}

// storeRelease publishes an index the kernel reads (SQ tail, CQ head).
// All prior writes to SQE slots or array entries are visible to the
// kernel before the new index is.
func storeRelease(p *uint32, v uint32) {
	atomic.StoreUint32(p, v)
}
