//go:build linux && giouring

package ring

import (
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-uring/internal/constants"
	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// giouringRing adapts github.com/pawelgaczynski/giouring to Engine.
// giouring's SubmissionQueueEntry and CompletionQueueEvent share the
// kernel layout with the uapi types, so slots convert by pointer. Its
// Probe is sized to giouring's own opcode table and is copied instead.
type giouringRing struct {
	ring        *giouring.Ring
	entries     uint32
	outstanding uint32

	reserved []*uapi.SQE // handed out since the last submit
	refs     inflightRefs
}

var _ interfaces.Engine = (*giouringRing)(nil)

// Compile-time layout checks against the uapi mirrors
var (
	_ [unsafe.Sizeof(uapi.SQE{})]byte = [unsafe.Sizeof(giouring.SubmissionQueueEntry{})]byte{}
	_ [unsafe.Sizeof(uapi.CQE{})]byte = [unsafe.Sizeof(giouring.CompletionQueueEvent{})]byte{}
)

// NewGiouringRing creates an Engine backed by giouring instead of this
// package's own setup and mmap code.
func NewGiouringRing(entries uint32) (interfaces.Engine, error) {
	logger := logging.Default()
	if entries == 0 || entries > constants.MaxQueueDepth {
		return nil, NewErrorWithErrno("setup", ErrCodeResource, syscall.EINVAL)
	}

	logger.Debug("creating giouring ring", "entries", entries)
	r, err := giouring.CreateRing(entries)
	if err != nil {
		logger.Error("failed to create giouring ring", "error", err)
		e := WrapError("setup", err)
		e.Code = ErrCodeResource
		return nil, e
	}
	return &giouringRing{ring: r, entries: roundUpPow2(entries)}, nil
}

func (g *giouringRing) GetSQE() (*uapi.SQE, error) {
	if g.outstanding >= g.entries {
		return nil, errSQFull
	}
	sqe := g.ring.GetSQE()
	if sqe == nil {
		return nil, errSQFull
	}
	g.outstanding++
	s := (*uapi.SQE)(unsafe.Pointer(sqe))
	s.Reset()
	g.reserved = append(g.reserved, s)
	return s, nil
}

// publish moves prepared buffers into refs before giouring flushes the
// SQ tail.
func (g *giouringRing) publish() {
	for _, s := range g.reserved {
		g.refs.publish(s)
	}
	g.reserved = g.reserved[:0]
}

func (g *giouringRing) Submit() (int, error) {
	g.publish()
	n, err := g.ring.Submit()
	if err != nil {
		return int(n), WrapError("enter", err)
	}
	return int(n), nil
}

func (g *giouringRing) SubmitAndWait(waitNr uint32) (int, error) {
	g.publish()
	n, err := g.ring.SubmitAndWait(waitNr)
	if err != nil {
		return int(n), WrapError("enter", err)
	}
	return int(n), nil
}

func (g *giouringRing) CQReady() uint32 {
	return g.ring.CQReady()
}

func (g *giouringRing) PeekCQE() (*uapi.CQE, bool) {
	cqe, err := g.ring.PeekCQE()
	if err != nil || cqe == nil {
		return nil, false
	}
	return (*uapi.CQE)(unsafe.Pointer(cqe)), true
}

func (g *giouringRing) CQESeen(cqe *uapi.CQE) {
	g.refs.complete(cqe.UserData)
	g.ring.CQESeen((*giouring.CompletionQueueEvent)(unsafe.Pointer(cqe)))
	if g.outstanding > 0 {
		g.outstanding--
	}
}

func (g *giouringRing) Probe() (*uapi.Probe, error) {
	p, err := g.ring.GetProbeRing()
	if err != nil {
		e := WrapError("probe", err)
		if e.Errno == syscall.EINVAL {
			e.Code = ErrCodeUnsupported
		}
		return nil, e
	}
	out := &uapi.Probe{LastOp: p.LastOp, OpsLen: p.OpsLen}
	for i := 0; i <= int(p.LastOp) && i < len(p.Ops) && i < len(out.Ops); i++ {
		out.Ops[i] = uapi.ProbeOp{Op: uint8(p.Ops[i].Op), Flags: uint16(p.Ops[i].Flags)}
	}
	return out, nil
}

func (g *giouringRing) Entries() uint32 {
	return g.entries
}

func (g *giouringRing) Close() error {
	if g.ring != nil {
		g.ring.QueueExit()
		g.ring = nil
	}
	for _, s := range g.reserved {
		uapi.TakeRef(s)
	}
	g.reserved = nil
	g.refs.reset()
	return nil
}
