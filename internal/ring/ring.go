// Package ring implements the user-space side of Linux io_uring on top
// of the raw setup, enter and register system calls.
//
// A Ring is single-producer single-consumer. One goroutine at a time may
// reserve and prepare SQEs and call Submit; one goroutine at a time may
// peek and consume CQEs. The two may be the same goroutine.
package ring

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/ehrlich-b/go-uring/internal/constants"
	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// Options tunes ring creation. The zero value is valid.
type Options struct {
	// CQEntries requests an explicit CQ size (IORING_SETUP_CQSIZE).
	// It is rounded up to a power of two and must be at least the SQ
	// depth. Zero leaves the kernel default of twice the SQ depth.
	CQEntries uint32

	// Clamp asks the kernel to clamp oversized depths instead of
	// failing (IORING_SETUP_CLAMP).
	Clamp bool

	// Logger receives ring lifecycle and error logs. Nil uses the
	// process default logger.
	Logger *logging.Logger
}

type submissionQueue struct {
	head    *uint32 // kernel-owned consumer index
	tail    *uint32 // producer index published to the kernel
	flags   *uint32
	dropped *uint32
	array   []uint32
	sqes    []uapi.SQE

	mask    uint32
	entries uint32

	// sqeTail counts reserved slots; tail lags it until the next flush
	sqeTail uint32
}

type completionQueue struct {
	head     *uint32 // consumer index published to the kernel
	tail     *uint32 // kernel-owned producer index
	overflow *uint32
	cqes     []uapi.CQE

	mask    uint32
	entries uint32
}

// Ring is one io_uring instance with its three shared mappings.
type Ring struct {
	fd     int
	params uapi.Params

	// open is set once io_uring_setup succeeds and cleared by Close, so
	// a zero Ring never touches fd 0.
	open bool

	ringMem []byte // SQ ring, and the CQ ring with IORING_FEAT_SINGLE_MMAP
	cqMem   []byte // separate CQ ring mapping on older kernels
	sqeMem  []byte

	sq submissionQueue
	cq completionQueue

	// outstanding counts SQEs reserved and not yet matched by a
	// consumed CQE. Capping it at sq.entries keeps the CQ from overflowing.
	outstanding uint32

	// refs keeps prepared buffers reachable while the kernel owns them.
	refs inflightRefs

	logger *logging.Logger
}

var _ interfaces.Engine = (*Ring)(nil)

// New creates a ring with at least entries submission slots.
func New(entries uint32, opts *Options) (*Ring, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	if entries == 0 || (entries > constants.MaxQueueDepth && !opts.Clamp) {
		return nil, &Error{
			Op:    "setup",
			Code:  ErrCodeResource,
			Errno: syscall.EINVAL,
			Msg:   fmt.Sprintf("queue depth %d outside 1..%d", entries, constants.MaxQueueDepth),
			Inner: syscall.EINVAL,
		}
	}
	entries = roundUpPow2(entries)

	params := uapi.Params{}
	if opts.CQEntries != 0 {
		if opts.CQEntries < entries {
			return nil, NewError("setup", ErrCodeInvalid,
				fmt.Sprintf("cq entries %d smaller than sq entries %d", opts.CQEntries, entries))
		}
		params.Flags |= uapi.IORING_SETUP_CQSIZE
		params.CQEntries = roundUpPow2(opts.CQEntries)
	}
	if opts.Clamp {
		params.Flags |= uapi.IORING_SETUP_CLAMP
	}

	logger.Debug("calling io_uring_setup", "entries", entries, "flags", fmt.Sprintf("0x%x", params.Flags))

	fd, errno := sysSetup(entries, &params)
	if errno != 0 {
		logger.Debug("io_uring_setup failed", "errno", errno)
		return nil, NewErrorWithErrno("setup", ErrCodeResource, errno)
	}

	r := &Ring{
		fd:     fd,
		params: params,
		open:   true,
		logger: logger.WithRing(fd),
	}
	if err := r.mapRings(); err != nil {
		r.logger.Error("failed to map rings", "error", err)
		r.Close()
		return nil, err
	}

	r.logger.Debug("created io_uring",
		"sq_entries", r.sq.entries,
		"cq_entries", r.cq.entries,
		"features", fmt.Sprintf("0x%x", params.Features))
	return r, nil
}

// mapRings maps the SQ ring, CQ ring and SQE array and wires the
// queue pointers into them.
func (r *Ring) mapRings() error {
	p := &r.params

	sqSize := int(p.SQOff.Array) + int(p.SQEntries)*int(unsafe.Sizeof(uint32(0)))
	cqSize := int(p.CQOff.Cqes) + int(p.CQEntries)*uapi.CQESize
	single := p.Features&uapi.IORING_FEAT_SINGLE_MMAP != 0
	if single && cqSize > sqSize {
		sqSize = cqSize
	}

	var err error
	r.ringMem, err = mmapRegion(r.fd, uapi.IORING_OFF_SQ_RING, sqSize)
	if err != nil {
		return mapError("mmap_sq_ring", err)
	}

	cqMem := r.ringMem
	if !single {
		r.cqMem, err = mmapRegion(r.fd, uapi.IORING_OFF_CQ_RING, cqSize)
		if err != nil {
			return mapError("mmap_cq_ring", err)
		}
		cqMem = r.cqMem
	}

	r.sqeMem, err = mmapRegion(r.fd, uapi.IORING_OFF_SQES, int(p.SQEntries)*uapi.SQESize)
	if err != nil {
		return mapError("mmap_sqes", err)
	}

	sq := &r.sq
	sq.head = u32At(r.ringMem, p.SQOff.Head)
	sq.tail = u32At(r.ringMem, p.SQOff.Tail)
	sq.flags = u32At(r.ringMem, p.SQOff.Flags)
	sq.dropped = u32At(r.ringMem, p.SQOff.Dropped)
	sq.mask = *u32At(r.ringMem, p.SQOff.RingMask)
	sq.entries = *u32At(r.ringMem, p.SQOff.RingEntries)
	sq.array = unsafe.Slice(u32At(r.ringMem, p.SQOff.Array), sq.entries)
	sq.sqes = unsafe.Slice((*uapi.SQE)(unsafe.Pointer(&r.sqeMem[0])), sq.entries)
	sq.sqeTail = loadAcquire(sq.tail)

	// Slot i of the index array always names SQE i, so publishing is a
	// single tail store.
	for i := range sq.array {
		sq.array[i] = uint32(i)
	}

	cq := &r.cq
	cq.head = u32At(cqMem, p.CQOff.Head)
	cq.tail = u32At(cqMem, p.CQOff.Tail)
	cq.overflow = u32At(cqMem, p.CQOff.Overflow)
	cq.mask = *u32At(cqMem, p.CQOff.RingMask)
	cq.entries = *u32At(cqMem, p.CQOff.RingEntries)
	cq.cqes = unsafe.Slice((*uapi.CQE)(unsafe.Pointer(&cqMem[p.CQOff.Cqes])), cq.entries)

	return nil
}

func mapError(op string, err error) *Error {
	if errno, ok := err.(syscall.Errno); ok {
		return NewErrorWithErrno(op, ErrCodeResource, errno)
	}
	return &Error{Op: op, Code: ErrCodeResource, Msg: err.Error(), Inner: err}
}

func u32At(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// Close unmaps the shared regions and closes the ring fd. Operations
// still in flight are abandoned; the kernel cancels them. Close is
// idempotent and returns the first error encountered.
func (r *Ring) Close() error {
	if r == nil || !r.open {
		return nil
	}

	// Drop references recorded for slots that were never published.
	for i := range r.sq.sqes {
		uapi.TakeRef(&r.sq.sqes[i])
	}

	var firstErr error
	unmap := func(mem *[]byte) {
		if *mem == nil {
			return
		}
		if err := munmapRegion(*mem); err != nil && firstErr == nil {
			firstErr = err
		}
		*mem = nil
	}
	unmap(&r.sqeMem)
	unmap(&r.cqMem)
	unmap(&r.ringMem)

	if err := closeFd(r.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	r.logger.Debug("closed io_uring", "outstanding", r.outstanding)

	r.fd = -1
	r.open = false
	r.sq = submissionQueue{}
	r.cq = completionQueue{}
	r.outstanding = 0
	r.refs.reset()
	return firstErr
}

// Fd returns the ring file descriptor, or -1 after Close.
func (r *Ring) Fd() int {
	return r.fd
}

// Entries returns the SQ depth after power-of-two rounding.
func (r *Ring) Entries() uint32 {
	return r.sq.entries
}

// CQEntries returns the CQ depth.
func (r *Ring) CQEntries() uint32 {
	return r.cq.entries
}

// Features returns the IORING_FEAT_* bits reported by the kernel.
func (r *Ring) Features() uint32 {
	return r.params.Features
}

// Outstanding returns the number of SQEs reserved and not yet matched by
// a consumed completion.
func (r *Ring) Outstanding() uint32 {
	return r.outstanding
}

func roundUpPow2(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

// Available reports whether this process can create io_uring instances.
// It returns the setup error otherwise (ENOSYS on old kernels, EPERM
// under seccomp or io_uring_disabled).
func Available() error {
	r, err := New(2, &Options{Logger: logging.Nop()})
	if err != nil {
		return err
	}
	return r.Close()
}
