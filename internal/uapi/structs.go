package uapi

import (
	"syscall"
	"unsafe"
)

// SQRingOffsets mirrors struct io_sqring_offsets. Every field is a byte
// offset into the SQ ring mapping.
type SQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

var _ [40]byte = [unsafe.Sizeof(SQRingOffsets{})]byte{}

// CQRingOffsets mirrors struct io_cqring_offsets.
type CQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

var _ [40]byte = [unsafe.Sizeof(CQRingOffsets{})]byte{}

// Params mirrors struct io_uring_params (120 bytes). The caller fills
// SQEntries, CQEntries (with IORING_SETUP_CQSIZE) and Flags; the kernel
// fills the rest on io_uring_setup.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        SQRingOffsets
	CQOff        CQRingOffsets
}

var _ [120]byte = [unsafe.Sizeof(Params{})]byte{}

// SQE mirrors struct io_uring_sqe (64 bytes):
//
//	struct io_uring_sqe {
//	  __u8  opcode;
//	  __u8  flags;        // IOSQE_*
//	  __u16 ioprio;
//	  __s32 fd;
//	  __u64 off;          // union with addr2
//	  __u64 addr;         // buffer or iovec array
//	  __u32 len;          // byte count or iovec count
//	  __u32 op_flags;     // union: rw_flags, fsync_flags, ...
//	  __u64 user_data;    // echoed in the CQE
//	  __u16 buf_index;
//	  __u16 personality;
//	  __s32 splice_fd_in;
//	  __u64 addr3;
//	  __u64 __pad2[1];
//	};
type SQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	Pad         uint64
}

var _ [64]byte = [unsafe.Sizeof(SQE{})]byte{}

// CQE mirrors struct io_uring_cqe (16 bytes).
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

var _ [16]byte = [unsafe.Sizeof(CQE{})]byte{}

// Data returns the tag the submitter attached with SetData.
func (c *CQE) Data() uint64 {
	return c.UserData
}

// Err returns the negated errno carried in Res, or nil for Res >= 0.
// The value is not interpreted further.
func (c *CQE) Err() error {
	if c.Res >= 0 {
		return nil
	}
	return syscall.Errno(-c.Res)
}

// ProbeOp mirrors struct io_uring_probe_op.
type ProbeOp struct {
	Op    uint8
	Resv  uint8
	Flags uint16
	Resv2 uint32
}

var _ [8]byte = [unsafe.Sizeof(ProbeOp{})]byte{}

// Probe mirrors struct io_uring_probe with room for ProbeOpsLen ops.
type Probe struct {
	LastOp uint8
	OpsLen uint8
	Resv   uint16
	Resv2  [3]uint32
	Ops    [ProbeOpsLen]ProbeOp
}

var _ [16 + 8*ProbeOpsLen]byte = [unsafe.Sizeof(Probe{})]byte{}

// Supports reports whether the kernel flagged op as supported.
func (p *Probe) Supports(op uint8) bool {
	if op > p.LastOp {
		return false
	}
	return p.Ops[op].Flags&IO_URING_OP_SUPPORTED != 0
}
