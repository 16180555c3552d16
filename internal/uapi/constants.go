package uapi

import "strconv"

// Opcodes from include/uapi/linux/io_uring.h (enum io_uring_op).
// Only the opcodes this module prepares are listed; the probe can
// report on any value in 0..255.
const (
	IORING_OP_NOP    = 0
	IORING_OP_READV  = 1
	IORING_OP_WRITEV = 2
	IORING_OP_FSYNC  = 3
	IORING_OP_CLOSE  = 19
	IORING_OP_READ   = 22
	IORING_OP_WRITE  = 23

	// IORING_OP_LAST is the first opcode value no kernel defines yet.
	IORING_OP_LAST = 58
)

// SQE flags (sqe->flags)
const (
	IOSQE_FIXED_FILE       = 1 << 0
	IOSQE_IO_DRAIN         = 1 << 1
	IOSQE_IO_LINK          = 1 << 2
	IOSQE_IO_HARDLINK      = 1 << 3
	IOSQE_ASYNC            = 1 << 4
	IOSQE_BUFFER_SELECT    = 1 << 5
	IOSQE_CQE_SKIP_SUCCESS = 1 << 6
)

// fsync flags (sqe->fsync_flags)
const (
	IORING_FSYNC_DATASYNC = 1 << 0
)

// io_uring_setup flags
const (
	IORING_SETUP_IOPOLL = 1 << 0
	IORING_SETUP_SQPOLL = 1 << 1
	IORING_SETUP_SQ_AFF = 1 << 2
	IORING_SETUP_CQSIZE = 1 << 3
	IORING_SETUP_CLAMP  = 1 << 4
)

// Features reported in io_uring_params.features
const (
	IORING_FEAT_SINGLE_MMAP   = 1 << 0
	IORING_FEAT_NODROP        = 1 << 1
	IORING_FEAT_SUBMIT_STABLE = 1 << 2
	IORING_FEAT_RW_CUR_POS    = 1 << 3
)

// io_uring_enter flags
const (
	IORING_ENTER_GETEVENTS = 1 << 0
	IORING_ENTER_SQ_WAKEUP = 1 << 1
)

// io_uring_register opcodes
const (
	IORING_REGISTER_PROBE = 8
)

// Probe op flags
const (
	IO_URING_OP_SUPPORTED = 1 << 0
)

// mmap offsets for the three shared regions
const (
	IORING_OFF_SQ_RING = 0
	IORING_OFF_CQ_RING = 0x8000000
	IORING_OFF_SQES    = 0x10000000
)

// IORING_MAX_ENTRIES is the kernel's upper bound on SQ entries.
const (
	IORING_MAX_ENTRIES    = 32768
	IORING_MAX_CQ_ENTRIES = 2 * IORING_MAX_ENTRIES
)

// ProbeOpsLen is the number of op slots passed to IORING_REGISTER_PROBE.
const ProbeOpsLen = 256

var opNames = map[uint8]string{
	IORING_OP_NOP:    "NOP",
	IORING_OP_READV:  "READV",
	IORING_OP_WRITEV: "WRITEV",
	IORING_OP_FSYNC:  "FSYNC",
	IORING_OP_CLOSE:  "CLOSE",
	IORING_OP_READ:   "READ",
	IORING_OP_WRITE:  "WRITE",
}

// OpName returns a short name for an opcode, or OP_<n> for opcodes
// this package does not prepare.
func OpName(op uint8) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "OP_" + strconv.Itoa(int(op))
}
