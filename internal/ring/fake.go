//go:build linux

package ring

import (
	"errors"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// FakeOptions configures a FakeRing.
type FakeOptions struct {
	// CQEntries defaults to twice the SQ depth.
	CQEntries uint32

	// Unsupported opcodes are cleared from the probe and complete
	// with -EINVAL if submitted anyway.
	Unsupported []uint8

	// NoProbe makes Probe fail the way pre-5.6 kernels do.
	NoProbe bool
}

// FakeRing is an in-memory Engine for tests. Reserved SQEs live in a
// byte slab and are decoded from it on submit, as the kernel copies
// them. Each operation then runs on its own goroutine using ordinary
// syscalls, so completions may arrive out of order. Links and drains
// are not honored.
type FakeRing struct {
	entries   uint32
	cqEntries uint32

	sqSlab  []byte
	sqes    []uapi.SQE
	sqHead  uint32 // consumed by submit
	sqTail  uint32 // published
	sqeTail uint32 // reserved

	outstanding uint32

	mu       sync.Mutex
	cond     *sync.Cond
	cqSlab   []byte
	cqes     []uapi.CQE
	cqHead   uint32
	cqTail   uint32
	overflow uint32
	closed   bool
	paused   bool

	enterErrs []syscall.Errno
	probe     uapi.Probe
	noProbe   bool
	submitted uint64
}

var _ interfaces.Engine = (*FakeRing)(nil)

// NewFakeRing creates a fake ring with at least entries SQ slots.
func NewFakeRing(entries uint32, opts *FakeOptions) (*FakeRing, error) {
	if opts == nil {
		opts = &FakeOptions{}
	}
	if entries == 0 || entries > uapi.IORING_MAX_ENTRIES {
		return nil, NewErrorWithErrno("setup", ErrCodeResource, syscall.EINVAL)
	}
	entries = roundUpPow2(entries)
	cqEntries := 2 * entries
	if opts.CQEntries != 0 {
		if opts.CQEntries < entries {
			return nil, NewError("setup", ErrCodeInvalid, "cq entries smaller than sq entries")
		}
		cqEntries = roundUpPow2(opts.CQEntries)
	}

	f := &FakeRing{
		entries:   entries,
		cqEntries: cqEntries,
		sqSlab:    make([]byte, int(entries)*uapi.SQESize),
		cqSlab:    make([]byte, int(cqEntries)*uapi.CQESize),
		noProbe:   opts.NoProbe,
	}
	f.cond = sync.NewCond(&f.mu)
	f.sqes = unsafe.Slice((*uapi.SQE)(unsafe.Pointer(&f.sqSlab[0])), entries)
	f.cqes = unsafe.Slice((*uapi.CQE)(unsafe.Pointer(&f.cqSlab[0])), cqEntries)

	f.probe.LastOp = uapi.IORING_OP_LAST - 1
	f.probe.OpsLen = uapi.IORING_OP_LAST
	for _, op := range []uint8{
		uapi.IORING_OP_NOP, uapi.IORING_OP_READV, uapi.IORING_OP_WRITEV, uapi.IORING_OP_FSYNC,
		uapi.IORING_OP_CLOSE, uapi.IORING_OP_READ, uapi.IORING_OP_WRITE,
	} {
		f.probe.Ops[op] = uapi.ProbeOp{Op: op, Flags: uapi.IO_URING_OP_SUPPORTED}
	}
	for _, op := range opts.Unsupported {
		f.probe.Ops[op].Flags &^= uapi.IO_URING_OP_SUPPORTED
	}
	return f, nil
}

// GetSQE implements Engine.
func (f *FakeRing) GetSQE() (*uapi.SQE, error) {
	if f.isClosed() {
		return nil, NewError("get_sqe", ErrCodeClosed, "ring is closed")
	}
	if f.sqeTail-f.sqHead >= f.entries || f.outstanding >= f.entries {
		return nil, errSQFull
	}
	sqe := &f.sqes[f.sqeTail&(f.entries-1)]
	f.sqeTail++
	f.outstanding++
	sqe.Reset()
	return sqe, nil
}

// Submit implements Engine.
func (f *FakeRing) Submit() (int, error) {
	return f.submit(0)
}

// SubmitAndWait implements Engine.
func (f *FakeRing) SubmitAndWait(waitNr uint32) (int, error) {
	return f.submit(waitNr)
}

func (f *FakeRing) submit(waitNr uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, NewError("submit", ErrCodeClosed, "ring is closed")
	}
	if len(f.enterErrs) > 0 {
		errno := f.enterErrs[0]
		f.enterErrs = f.enterErrs[1:]
		return 0, NewErrorWithErrno("enter", mapErrnoToCode(errno), errno)
	}

	f.sqTail = f.sqeTail
	n := 0
	for f.sqHead != f.sqTail {
		idx := f.sqHead & (f.entries - 1)
		off := int(idx) * uapi.SQESize
		var sqe uapi.SQE
		if err := uapi.UnmarshalSQE(f.sqSlab[off:off+uapi.SQESize], &sqe); err != nil {
			return n, WrapError("enter", err)
		}
		ref := uapi.TakeRef(&f.sqes[idx])
		f.sqHead++
		n++
		go f.execute(sqe, ref)
	}
	f.submitted += uint64(n)

	for waitNr > 0 && f.cqTail-f.cqHead < waitNr && !f.closed {
		f.cond.Wait()
	}
	return n, nil
}

// CQReady implements Engine.
func (f *FakeRing) CQReady() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cqTail - f.cqHead
}

// PeekCQE implements Engine.
func (f *FakeRing) PeekCQE() (*uapi.CQE, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cqHead == f.cqTail {
		return nil, false
	}
	return &f.cqes[f.cqHead&(f.cqEntries-1)], true
}

// CQESeen implements Engine.
func (f *FakeRing) CQESeen(cqe *uapi.CQE) {
	f.mu.Lock()
	if f.cqHead != f.cqTail {
		f.cqHead++
	}
	f.mu.Unlock()
	if f.outstanding > 0 {
		f.outstanding--
	}
}

// Probe implements Engine.
func (f *FakeRing) Probe() (*uapi.Probe, error) {
	if f.noProbe {
		return nil, NewErrorWithErrno("probe", ErrCodeUnsupported, syscall.EINVAL)
	}
	p := f.probe
	return &p, nil
}

// Entries implements Engine.
func (f *FakeRing) Entries() uint32 {
	return f.entries
}

// Close implements Engine. Operations still running are abandoned and
// their completions dropped.
func (f *FakeRing) Close() error {
	f.mu.Lock()
	for i := range f.sqes {
		uapi.TakeRef(&f.sqes[i])
	}
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil
}

// Outstanding returns the number of SQEs reserved and not yet consumed.
func (f *FakeRing) Outstanding() uint32 {
	return f.outstanding
}

// Submitted returns the total number of SQEs consumed by submit.
func (f *FakeRing) Submitted() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

// InjectEnterError makes the next submit fail with errno without
// consuming any SQEs. Calls queue up.
func (f *FakeRing) InjectEnterError(errno syscall.Errno) {
	f.mu.Lock()
	f.enterErrs = append(f.enterErrs, errno)
	f.mu.Unlock()
}

// Pause holds back completions until Resume. Operations still execute.
func (f *FakeRing) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

// Resume releases completions held by Pause.
func (f *FakeRing) Resume() {
	f.mu.Lock()
	f.paused = false
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *FakeRing) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// execute runs one operation. ref is the buffer or iovec slice the SQE
// was prepared with; the goroutine holding it keeps it alive.
func (f *FakeRing) execute(sqe uapi.SQE, ref any) {
	res := f.run(&sqe, ref)

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.paused && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return
	}
	if f.cqTail-f.cqHead >= f.cqEntries {
		f.overflow++
		return
	}
	off := int(f.cqTail&(f.cqEntries-1)) * uapi.CQESize
	uapi.PutCQE(f.cqSlab[off:off+uapi.CQESize], &uapi.CQE{UserData: sqe.UserData, Res: res})
	f.cqTail++
	f.cond.Broadcast()
}

// run performs one operation and returns its CQE result.
func (f *FakeRing) run(sqe *uapi.SQE, ref any) int32 {
	if !f.probe.Supports(sqe.Opcode) {
		return -int32(syscall.EINVAL)
	}

	fd := int(sqe.Fd)
	// Stream files (pipes, eventfds) ignore the offset, as in the kernel.
	positioned := sqe.Off != ^uint64(0) && seekable(fd)
	off := int64(sqe.Off)
	switch sqe.Opcode {
	case uapi.IORING_OP_NOP:
		return 0
	case uapi.IORING_OP_READ:
		buf := sqeBytes(sqe, ref)
		if positioned {
			if n, err := unix.Pread(fd, buf, off); err != unix.ESPIPE {
				return result(n, err)
			}
		}
		return result(unix.Read(fd, buf))
	case uapi.IORING_OP_WRITE:
		buf := sqeBytes(sqe, ref)
		if positioned {
			if n, err := unix.Pwrite(fd, buf, off); err != unix.ESPIPE {
				return result(n, err)
			}
		}
		return result(unix.Write(fd, buf))
	case uapi.IORING_OP_READV:
		bufs := sqeIovecs(sqe, ref)
		if positioned {
			if n, err := unix.Preadv(fd, bufs, off); err != unix.ESPIPE {
				return result(n, err)
			}
		}
		return result(unix.Readv(fd, bufs))
	case uapi.IORING_OP_WRITEV:
		bufs := sqeIovecs(sqe, ref)
		if positioned {
			if n, err := unix.Pwritev(fd, bufs, off); err != unix.ESPIPE {
				return result(n, err)
			}
		}
		return result(unix.Writev(fd, bufs))
	case uapi.IORING_OP_FSYNC:
		if sqe.OpFlags&uapi.IORING_FSYNC_DATASYNC != 0 {
			return result(0, unix.Fdatasync(fd))
		}
		return result(0, unix.Fsync(fd))
	case uapi.IORING_OP_CLOSE:
		return result(0, unix.Close(fd))
	}
	return -int32(syscall.EINVAL)
}

func seekable(fd int) bool {
	_, err := unix.Seek(fd, 0, unix.SEEK_CUR)
	return err != unix.ESPIPE
}

func result(n int, err error) int32 {
	if err == nil {
		return int32(n)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(syscall.EIO)
}

// sqeBytes returns the buffer a READ or WRITE targets, preferring the
// slice it was prepared with over its raw address.
func sqeBytes(sqe *uapi.SQE, ref any) []byte {
	if buf, ok := ref.([]byte); ok && len(buf) == int(sqe.Len) {
		return buf
	}
	return bytesAt(sqe.Addr, sqe.Len)
}

func sqeIovecs(sqe *uapi.SQE, ref any) [][]byte {
	if iovecs, ok := ref.([]unix.Iovec); ok && len(iovecs) == int(sqe.Len) {
		return iovecBytes(iovecs)
	}
	return iovecBufs(sqe.Addr, sqe.Len)
}

func iovecBytes(iovecs []unix.Iovec) [][]byte {
	bufs := make([][]byte, len(iovecs))
	for i, iov := range iovecs {
		if iov.Base != nil {
			bufs[i] = unsafe.Slice(iov.Base, iov.Len)
		}
	}
	return bufs
}

// bytesAt and iovecBufs serve SQEs whose fields were filled by hand.
// The address came from a live Go object, which checkptr cannot see
// through a uint64.
//
//go:nocheckptr
func bytesAt(addr uint64, n uint32) []byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

//go:nocheckptr
func iovecBufs(addr uint64, n uint32) [][]byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return iovecBytes(unsafe.Slice((*unix.Iovec)(unsafe.Pointer(uintptr(addr))), n))
}
