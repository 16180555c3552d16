package uapi

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Prep helpers fill the opcode-specific fields of an SQE. They leave
// Flags and UserData alone so SetData/SetFlags can be applied in either
// order.
//
// The kernel only sees a buffer's address, so the buffer or iovec slice
// handed to a Prep helper is also recorded against the SQE. That moves
// it to the heap and lets the ring hold it (see TakeRef) until the
// completion is consumed. Callers still must not reuse the memory for
// anything else while the operation is in flight.

// sqeRefs maps a reserved SQE to the Go object its addresses point into.
var sqeRefs = struct {
	sync.Mutex
	m map[*SQE]any
}{m: make(map[*SQE]any)}

func (s *SQE) setRef(obj any) {
	sqeRefs.Lock()
	if obj == nil {
		delete(sqeRefs.m, s)
	} else {
		sqeRefs.m[s] = obj
	}
	sqeRefs.Unlock()
}

// TakeRef removes and returns the buffer or iovec slice recorded by the
// last Prep call on s, or nil. Rings call it when they publish s.
func TakeRef(s *SQE) any {
	sqeRefs.Lock()
	obj, ok := sqeRefs.m[s]
	if ok {
		delete(sqeRefs.m, s)
	}
	sqeRefs.Unlock()
	return obj
}

func (s *SQE) prepRW(op uint8, fd int, addr uintptr, n uint32, offset uint64) {
	s.Opcode = op
	s.Fd = int32(fd)
	s.Off = offset
	s.Addr = uint64(addr)
	s.Len = n
	s.OpFlags = 0
}

// PrepNop prepares a no-op. Its CQE carries Res 0.
func (s *SQE) PrepNop() {
	s.prepRW(IORING_OP_NOP, -1, 0, 0, 0)
	s.setRef(nil)
}

// PrepRead prepares a read of len(buf) bytes at offset into buf.
func (s *SQE) PrepRead(fd int, buf []byte, offset uint64) {
	s.prepRW(IORING_OP_READ, fd, bufAddr(buf), uint32(len(buf)), offset)
	s.setRef(buf)
}

// PrepWrite prepares a write of buf at offset.
func (s *SQE) PrepWrite(fd int, buf []byte, offset uint64) {
	s.prepRW(IORING_OP_WRITE, fd, bufAddr(buf), uint32(len(buf)), offset)
	s.setRef(buf)
}

// PrepReadv prepares a vectored read at offset. The iovec slice is kept,
// and through its Base pointers so are the buffers.
func (s *SQE) PrepReadv(fd int, iovecs []unix.Iovec, offset uint64) {
	s.prepRW(IORING_OP_READV, fd, iovecAddr(iovecs), uint32(len(iovecs)), offset)
	s.setRef(iovecs)
}

// PrepWritev prepares a vectored write at offset.
func (s *SQE) PrepWritev(fd int, iovecs []unix.Iovec, offset uint64) {
	s.prepRW(IORING_OP_WRITEV, fd, iovecAddr(iovecs), uint32(len(iovecs)), offset)
	s.setRef(iovecs)
}

// PrepFsync prepares an fsync; flags may carry IORING_FSYNC_DATASYNC.
func (s *SQE) PrepFsync(fd int, flags uint32) {
	s.prepRW(IORING_OP_FSYNC, fd, 0, 0, 0)
	s.OpFlags = flags
	s.setRef(nil)
}

// PrepClose prepares a close of fd.
func (s *SQE) PrepClose(fd int) {
	s.prepRW(IORING_OP_CLOSE, fd, 0, 0, 0)
	s.setRef(nil)
}

// SetData attaches the correlation tag echoed back in the CQE.
func (s *SQE) SetData(tag uint64) {
	s.UserData = tag
}

// SetFlags ORs IOSQE_* bits into the SQE. It never clears bits.
func (s *SQE) SetFlags(flags uint8) {
	s.Flags |= flags
}

// Reset zeroes every field and forgets any recorded buffer.
func (s *SQE) Reset() {
	*s = SQE{}
	s.setRef(nil)
}

func bufAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func iovecAddr(iovecs []unix.Iovec) uintptr {
	if len(iovecs) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&iovecs[0]))
}

// Iovecs builds an iovec array over bufs. Empty buffers are kept with a
// nil base so indexes line up with bufs.
func Iovecs(bufs [][]byte) []unix.Iovec {
	iovecs := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) > 0 {
			iovecs[i].Base = &b[0]
		}
		iovecs[i].SetLen(len(b))
	}
	return iovecs
}
