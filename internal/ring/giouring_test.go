//go:build linux && giouring

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-uring/internal/uapi"
)

func newGiouring(t *testing.T, entries uint32) *giouringRing {
	t.Helper()
	skipIfUnavailable(t)
	e, err := NewGiouringRing(entries)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e.(*giouringRing)
}

func TestGiouringProbeIsCopied(t *testing.T) {
	g := newGiouring(t, 4)
	p, err := g.Probe()
	if err != nil {
		t.Skipf("probe unavailable: %v", err)
	}

	// A full-size value copy must stay within the returned allocation.
	snapshot := *p
	assert.True(t, snapshot.Supports(uapi.IORING_OP_NOP))
	assert.Equal(t, p.LastOp, snapshot.LastOp)
	for op := int(p.LastOp) + 1; op < uapi.ProbeOpsLen; op++ {
		assert.False(t, snapshot.Supports(uint8(op)), "op %d past LastOp", op)
	}
}

func TestGiouringReleasesBuffers(t *testing.T) {
	g := newGiouring(t, 4)
	_, fd := tempFile(t)

	sqe, err := g.GetSQE()
	require.NoError(t, err)
	sqe.PrepWrite(fd, []byte("giouring"), 0)
	sqe.SetData(9)
	_, err = g.SubmitAndWait(1)
	require.NoError(t, err)
	assert.Equal(t, 1, g.refs.held())

	cqe, ok := g.PeekCQE()
	require.True(t, ok)
	assert.Equal(t, int32(8), cqe.Res)
	g.CQESeen(cqe)
	assert.Zero(t, g.refs.held())
}
