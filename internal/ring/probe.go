package ring

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// Probe asks the kernel which opcodes it supports (IORING_REGISTER_PROBE,
// Linux 5.6+). On kernels without probe support it fails with
// ErrCodeUnsupported.
func (r *Ring) Probe() (*uapi.Probe, error) {
	if !r.open {
		return nil, NewError("probe", ErrCodeClosed, "ring is closed")
	}
	p := new(uapi.Probe)
	if _, errno := sysRegister(r.fd, uapi.IORING_REGISTER_PROBE, unsafe.Pointer(p), uapi.ProbeOpsLen); errno != 0 {
		code := ErrCodeKernel
		if errno == syscall.EINVAL || errno == syscall.ENOSYS {
			code = ErrCodeUnsupported
		}
		r.logger.Debug("probe failed", "errno", errno)
		return nil, NewErrorWithErrno("probe", code, errno)
	}
	return p, nil
}

// Require returns an ErrCodeUnsupported error naming the first op in
// ops that p does not support, or nil.
func Require(p *uapi.Probe, ops ...uint8) error {
	for _, op := range ops {
		if !p.Supports(op) {
			return UnsupportedOp(op)
		}
	}
	return nil
}

// UnsupportedOp builds the error reported for an opcode the kernel lacks.
func UnsupportedOp(op uint8) *Error {
	return NewError(uapi.OpName(op), ErrCodeUnsupported,
		fmt.Sprintf("opcode %d (%s) not supported by kernel", op, uapi.OpName(op)))
}

// SupportedOps lists every opcode p reports as supported.
func SupportedOps(p *uapi.Probe) []uint8 {
	var ops []uint8
	for op := 0; op <= int(p.LastOp); op++ {
		if p.Supports(uint8(op)) {
			ops = append(ops, uint8(op))
		}
	}
	return ops
}

// BaseProbe returns a probe claiming the opcodes every io_uring kernel
// implements (Linux 5.1: NOP, READV, WRITEV, FSYNC). Used when the
// kernel predates IORING_REGISTER_PROBE.
func BaseProbe() *uapi.Probe {
	p := new(uapi.Probe)
	p.LastOp = uapi.IORING_OP_FSYNC
	p.OpsLen = p.LastOp + 1
	for _, op := range []uint8{uapi.IORING_OP_NOP, uapi.IORING_OP_READV, uapi.IORING_OP_WRITEV, uapi.IORING_OP_FSYNC} {
		p.Ops[op] = uapi.ProbeOp{Op: op, Flags: uapi.IO_URING_OP_SUPPORTED}
	}
	return p
}
