//go:build linux

package queue

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/ring"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

type countingObserver struct {
	submits     atomic.Int64
	completes   atomic.Int64
	failures    atomic.Int64
	bytes       atomic.Uint64
	sqFull      atomic.Int64
	interrupted atomic.Int64
	maxDepth    atomic.Uint32
}

func (o *countingObserver) ObserveSubmit(op uint8) { o.submits.Add(1) }

func (o *countingObserver) ObserveComplete(op uint8, bytes uint64, latencyNs uint64, success bool) {
	o.completes.Add(1)
	o.bytes.Add(bytes)
	if !success {
		o.failures.Add(1)
	}
}

func (o *countingObserver) ObserveQueueDepth(depth uint32) {
	for {
		cur := o.maxDepth.Load()
		if depth <= cur || o.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

func (o *countingObserver) ObserveSQFull()      { o.sqFull.Add(1) }
func (o *countingObserver) ObserveInterrupted() { o.interrupted.Add(1) }

func newFakeRunner(t *testing.T, entries uint32, fopts *ring.FakeOptions, obs *countingObserver) (*Runner, *ring.FakeRing) {
	t.Helper()
	fake, err := ring.NewFakeRing(entries, fopts)
	require.NoError(t, err)

	cfg := Config{Engine: fake, Logger: logging.Nop(), StopTimeout: 5 * time.Second}
	if obs != nil {
		cfg.Observer = obs
	}
	r, err := NewRunner(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, fake
}

func startedFakeRunner(t *testing.T, entries uint32, fopts *ring.FakeOptions, obs *countingObserver) (*Runner, *ring.FakeRing) {
	t.Helper()
	r, fake := newFakeRunner(t, entries, fopts, obs)
	require.NoError(t, r.Start())
	return r, fake
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunnerNopsExceedDepth(t *testing.T) {
	obs := &countingObserver{}
	r, _ := startedFakeRunner(t, 4, nil, obs)
	ctx := testCtx(t)

	const n = 200
	chans := make([]<-chan Result, 0, n)
	for i := 0; i < n; i++ {
		ch, err := r.Submit(ctx, &Request{Op: uapi.IORING_OP_NOP})
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	tags := make(map[uint64]bool, n)
	for _, ch := range chans {
		select {
		case res := <-ch:
			require.NoError(t, res.Err)
			assert.Equal(t, uint8(uapi.IORING_OP_NOP), res.Op)
			tags[res.Tag] = true
		case <-ctx.Done():
			t.Fatal("timed out waiting for nop")
		}
	}
	assert.Len(t, tags, n, "every request gets its own tag")
	assert.Equal(t, int64(n), obs.submits.Load())
	assert.Equal(t, int64(n), obs.completes.Load())
	assert.LessOrEqual(t, obs.maxDepth.Load(), uint32(3), "one slot stays with the wakeup read")
}

func TestRunnerReadWrite(t *testing.T) {
	r, _ := startedFakeRunner(t, 8, nil, nil)
	ctx := testCtx(t)

	f, err := os.CreateTemp(t.TempDir(), "runner-*")
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	data := bytes.Repeat([]byte("0123456789abcdef"), 256)
	res, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_WRITE, Fd: fd, Buf: data, Offset: 4096})
	require.NoError(t, err)
	assert.Equal(t, len(data), res.N())
	assert.Equal(t, &data[0], &res.Buf[0], "buffer is handed back")

	got := make([]byte, len(data))
	res, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_READ, Fd: fd, Buf: got, Offset: 4096})
	require.NoError(t, err)
	assert.Equal(t, len(data), res.N())
	assert.Equal(t, data, got)
	assert.Greater(t, res.Latency, time.Duration(0))

	_, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_FSYNC, Fd: fd, OpFlags: uapi.IORING_FSYNC_DATASYNC})
	require.NoError(t, err)
}

func TestRunnerVectored(t *testing.T) {
	r, _ := startedFakeRunner(t, 8, nil, nil)
	ctx := testCtx(t)

	f, err := os.CreateTemp(t.TempDir(), "runner-*")
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	res, err := r.Do(ctx, &Request{
		Op:   uapi.IORING_OP_WRITEV,
		Fd:   fd,
		Bufs: [][]byte{[]byte("abc"), []byte("defg")},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.N())

	in := [][]byte{make([]byte, 2), make([]byte, 5)}
	res, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_READV, Fd: fd, Bufs: in})
	require.NoError(t, err)
	assert.Equal(t, 7, res.N())
	assert.Equal(t, "ab", string(res.Bufs[0]))
	assert.Equal(t, "cdefg", string(res.Bufs[1]))
}

func TestRunnerCloseFd(t *testing.T) {
	r, _ := startedFakeRunner(t, 4, nil, nil)
	ctx := testCtx(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[1])

	_, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_CLOSE, Fd: fds[0]})
	require.NoError(t, err)

	_, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_CLOSE, Fd: fds[0]})
	assert.Equal(t, syscall.EBADF, err, "second close reports the CQE errno")
}

func TestRunnerUnsupportedOp(t *testing.T) {
	obs := &countingObserver{}
	r, _ := startedFakeRunner(t, 4, &ring.FakeOptions{Unsupported: []uint8{uapi.IORING_OP_READ}}, obs)
	ctx := testCtx(t)

	assert.False(t, r.Supports(uapi.IORING_OP_READ))
	assert.True(t, r.Supports(uapi.IORING_OP_NOP))

	_, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_READ, Fd: 0, Buf: make([]byte, 1)})
	assert.True(t, errors.Is(err, ring.ErrUnsupported))
	assert.Zero(t, obs.submits.Load(), "unsupported requests never reach the ring")

	_, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_NOP})
	assert.NoError(t, err)
}

func TestRunnerProbeFallback(t *testing.T) {
	r, _ := startedFakeRunner(t, 4, &ring.FakeOptions{NoProbe: true}, nil)

	assert.True(t, r.Supports(uapi.IORING_OP_READV))
	assert.False(t, r.Supports(uapi.IORING_OP_READ), "base set predates IORING_OP_READ")
	assert.Equal(t, uint8(uapi.IORING_OP_FSYNC), r.Probe().LastOp)

	_, err := r.Do(testCtx(t), &Request{Op: uapi.IORING_OP_NOP})
	assert.NoError(t, err)
}

func TestRunnerInvalidRequest(t *testing.T) {
	r, _ := startedFakeRunner(t, 4, nil, nil)
	ctx := testCtx(t)

	_, err := r.Submit(ctx, nil)
	assert.True(t, errors.Is(err, ring.ErrInvalid))

	_, err = r.Submit(ctx, &Request{Op: 0xff})
	assert.True(t, errors.Is(err, ring.ErrInvalid))

	_, err = r.Submit(ctx, &Request{Op: uapi.IORING_OP_READV, Bufs: make([][]byte, maxIovecs+1)})
	assert.True(t, errors.Is(err, ring.ErrInvalid))
}

func TestRunnerInterruptedEnterRetried(t *testing.T) {
	obs := &countingObserver{}
	r, fake := newFakeRunner(t, 4, nil, obs)
	fake.InjectEnterError(syscall.EINTR)
	fake.InjectEnterError(syscall.EAGAIN)
	require.NoError(t, r.Start())

	_, err := r.Do(testCtx(t), &Request{Op: uapi.IORING_OP_NOP})
	require.NoError(t, err)
	assert.Equal(t, int64(2), obs.interrupted.Load())
	assert.NoError(t, r.Err())
}

func TestRunnerFatalEnterError(t *testing.T) {
	r, fake := newFakeRunner(t, 4, nil, nil)
	fake.InjectEnterError(syscall.EFAULT)

	ch, err := r.Submit(testCtx(t), &Request{Op: uapi.IORING_OP_NOP})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	res := <-ch
	assert.True(t, errors.Is(res.Err, ring.ErrKernel))
	<-r.Done()
	assert.True(t, errors.Is(r.Err(), ring.ErrKernel))

	_, err = r.Submit(testCtx(t), &Request{Op: uapi.IORING_OP_NOP})
	assert.Error(t, err)
}

func TestRunnerStopDrainsInflight(t *testing.T) {
	r, _ := startedFakeRunner(t, 4, nil, nil)
	ctx := testCtx(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	buf := make([]byte, 5)
	ch, err := r.Submit(ctx, &Request{Op: uapi.IORING_OP_READ, Fd: fds[0], Buf: buf})
	require.NoError(t, err)

	// Let the read reach the ring before stopping.
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	_, err = r.Submit(ctx, &Request{Op: uapi.IORING_OP_NOP})
	assert.True(t, errors.Is(err, ring.ErrClosed))

	select {
	case <-r.Done():
		t.Fatal("runner exited with a read still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = unix.Write(fds[1], []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, "hello", string(res.Buf[:res.N()]))
}

func TestRunnerCloseBeforeStart(t *testing.T) {
	r, _ := newFakeRunner(t, 4, nil, nil)

	ch, err := r.Submit(testCtx(t), &Request{Op: uapi.IORING_OP_NOP})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	res := <-ch
	assert.True(t, errors.Is(res.Err, ring.ErrClosed))

	assert.True(t, errors.Is(r.Start(), ring.ErrClosed))
	assert.NoError(t, r.Close(), "Close is idempotent")
}

func TestRunnerCallback(t *testing.T) {
	r, _ := startedFakeRunner(t, 4, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	_, err := r.Submit(testCtx(t), &Request{
		Op: uapi.IORING_OP_NOP,
		Callback: func(res Result) {
			got = res
			wg.Done()
		},
	})
	require.NoError(t, err)
	wg.Wait()
	assert.NoError(t, got.Err)
	assert.NotZero(t, got.Tag)
}

func TestRunnerContextCancellation(t *testing.T) {
	fake, err := ring.NewFakeRing(4, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewRunner(ctx, Config{Engine: fake, Logger: logging.Nop()})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
}

func TestRunnerConcurrentSubmitters(t *testing.T) {
	obs := &countingObserver{}
	r, _ := startedFakeRunner(t, 8, nil, obs)
	ctx := testCtx(t)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	var failures atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_NOP}); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
	assert.Equal(t, int64(workers*perWorker), obs.completes.Load())
}

func TestRunnerRequiresTwoEntries(t *testing.T) {
	fake, err := ring.NewFakeRing(1, nil)
	require.NoError(t, err)
	_, err = NewRunner(context.Background(), Config{Engine: fake, Logger: logging.Nop()})
	assert.True(t, errors.Is(err, ring.ErrInvalid))
}

func TestRunnerKernelRing(t *testing.T) {
	if err := ring.Available(); err != nil {
		t.Skipf("io_uring not available: %v", err)
	}
	r, err := NewRunner(context.Background(), Config{Depth: 8, Logger: logging.Nop()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Close()
	ctx := testCtx(t)

	for i := 0; i < 32; i++ {
		_, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_NOP})
		require.NoError(t, err)
	}

	f, err := os.CreateTemp(t.TempDir(), "kernel-*")
	require.NoError(t, err)
	defer f.Close()
	data := []byte("through the kernel ring")
	bufs := [][]byte{data}
	_, err = r.Do(ctx, &Request{Op: uapi.IORING_OP_WRITEV, Fd: int(f.Fd()), Bufs: bufs})
	require.NoError(t, err)

	got := make([]byte, len(data))
	res, err := r.Do(ctx, &Request{Op: uapi.IORING_OP_READV, Fd: int(f.Fd()), Bufs: [][]byte{got}})
	require.NoError(t, err)
	assert.Equal(t, len(data), res.N())
	assert.Equal(t, data, got)

	require.NoError(t, r.Close())
	<-r.Done()
}
