package queue

import (
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/ehrlich-b/go-uring/internal/constants"
)

// GetBuffer returns a buffer of length size from a power-of-two size
// class pool. Contents are not zeroed. Sizes above MaxPooledBuffer are
// allocated directly and never pooled.
//
// The buffer's address is handed to the kernel, so callers must not
// return it with PutBuffer while an operation using it is in flight.
func GetBuffer(size uint32) []byte {
	if size > constants.MaxPooledBuffer {
		return make([]byte, size)
	}
	return mcache.Malloc(int(size))
}

// PutBuffer returns a buffer obtained from GetBuffer to its size class.
// Buffers with a capacity that is not a pooled size class are dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	if c == 0 || c > constants.MaxPooledBuffer || c&(c-1) != 0 {
		return
	}
	mcache.Free(buf)
}
