//go:build linux

package uring

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func newFakeRunner(t *testing.T, opts *FakeOptions, options *Options) (*Runner, *FakeRing) {
	t.Helper()
	fake, err := NewFakeRing(8, opts)
	if err != nil {
		t.Fatalf("NewFakeRing failed: %v", err)
	}
	params := DefaultRunnerParams()
	params.Engine = fake
	if options == nil {
		options = &Options{}
	}
	if options.Logger == nil {
		options.Logger = NewLogger(&LogConfig{Level: LogLevelError, Output: os.Stderr})
	}
	r, err := NewRunner(context.Background(), params, options)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, fake
}

func openTemp(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "data"), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatalf("open temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDefaultRunnerParams(t *testing.T) {
	params := DefaultRunnerParams()

	if params.QueueDepth != 128 {
		t.Errorf("QueueDepth = %d, want 128", params.QueueDepth)
	}

	if params.CQEntries != 0 {
		t.Errorf("CQEntries = %d, want 0", params.CQEntries)
	}

	if params.Backlog != 1024 {
		t.Errorf("Backlog = %d, want 1024", params.Backlog)
	}

	if params.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", params.StopTimeout, DefaultStopTimeout)
	}

	if params.Engine != nil {
		t.Error("Engine should default to nil")
	}
}

func TestNewRunnerInvalidDepth(t *testing.T) {
	for _, depth := range []int{-1, MaxQueueDepth + 1} {
		params := DefaultRunnerParams()
		params.QueueDepth = depth
		_, err := NewRunner(context.Background(), params, nil)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("depth %d: expected ErrInvalid, got %v", depth, err)
		}
	}
}

func TestRunnerReadWrite(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)
	ctx := testContext(t)
	f := openTemp(t)
	fd := int(f.Fd())

	n, err := r.Write(ctx, fd, []byte("hello world"), 0)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 11 {
		t.Errorf("Write wrote %d bytes, want 11", n)
	}

	buf := make([]byte, 5)
	n, err = r.Read(ctx, fd, buf, 6)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Errorf("Read got %q, want %q", buf[:n], "world")
	}

	// Reads past the end return zero bytes
	n, err = r.Read(ctx, fd, buf, 100)
	if err != nil || n != 0 {
		t.Errorf("Read past EOF = (%d, %v), want (0, nil)", n, err)
	}

	if err := r.Fsync(ctx, fd, false); err != nil {
		t.Errorf("Fsync failed: %v", err)
	}
	if err := r.Fsync(ctx, fd, true); err != nil {
		t.Errorf("Fsync(datasync) failed: %v", err)
	}

	s := r.MetricsSnapshot()
	if s.WriteOps != 1 || s.WriteBytes != 11 {
		t.Errorf("write metrics = (%d ops, %d bytes), want (1, 11)", s.WriteOps, s.WriteBytes)
	}
	if s.ReadOps != 2 || s.ReadBytes != 5 {
		t.Errorf("read metrics = (%d ops, %d bytes), want (2, 5)", s.ReadOps, s.ReadBytes)
	}
	if s.FsyncOps != 2 {
		t.Errorf("FsyncOps = %d, want 2", s.FsyncOps)
	}
}

func TestRunnerFilePosition(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)
	ctx := testContext(t)
	f := openTemp(t)
	fd := int(f.Fd())

	for _, part := range []string{"abc", "def"} {
		if _, err := r.Write(ctx, fd, []byte(part), -1); err != nil {
			t.Fatalf("Write(%q) failed: %v", part, err)
		}
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("file contents = %q, want %q", got, "abcdef")
	}
}

func TestRunnerVectored(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)
	ctx := testContext(t)
	f := openTemp(t)
	fd := int(f.Fd())

	n, err := r.Writev(ctx, fd, [][]byte{[]byte("abc"), []byte("defgh")}, 0)
	if err != nil {
		t.Fatalf("Writev failed: %v", err)
	}
	if n != 8 {
		t.Errorf("Writev wrote %d bytes, want 8", n)
	}

	a, b := make([]byte, 4), make([]byte, 4)
	n, err = r.Readv(ctx, fd, [][]byte{a, b}, 0)
	if err != nil {
		t.Fatalf("Readv failed: %v", err)
	}
	if n != 8 || string(a) != "abcd" || string(b) != "efgh" {
		t.Errorf("Readv = %d %q %q, want 8 \"abcd\" \"efgh\"", n, a, b)
	}
}

func TestRunnerReadAlloc(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)
	ctx := testContext(t)
	f := openTemp(t)

	data := bytes.Repeat([]byte{0x5a}, 3000)
	if _, err := f.WriteAt(data, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	buf, err := r.ReadAlloc(ctx, int(f.Fd()), DefaultIOSize, 0)
	if err != nil {
		t.Fatalf("ReadAlloc failed: %v", err)
	}
	defer PutBuffer(buf)

	if !bytes.Equal(buf, data) {
		t.Errorf("ReadAlloc returned %d bytes, want %d matching bytes", len(buf), len(data))
	}
}

func TestRunnerCloseFD(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)
	ctx := testContext(t)

	var p [2]int
	if err := syscall.Pipe2(p[:], syscall.O_CLOEXEC); err != nil {
		t.Fatalf("pipe failed: %v", err)
	}
	defer syscall.Close(p[0])

	if err := r.CloseFD(ctx, p[1]); err != nil {
		t.Fatalf("CloseFD failed: %v", err)
	}
	err := r.CloseFD(ctx, p[1])
	if !errors.Is(err, syscall.EBADF) {
		t.Errorf("second CloseFD: expected EBADF, got %v", err)
	}

	if s := r.MetricsSnapshot(); s.CloseOps != 2 || s.OtherErrors != 1 {
		t.Errorf("close metrics = (%d ops, %d errors), want (2, 1)", s.CloseOps, s.OtherErrors)
	}
}

func TestRunnerUnsupportedOp(t *testing.T) {
	r, _ := newFakeRunner(t, &FakeOptions{Unsupported: []uint8{OpClose}}, nil)
	ctx := testContext(t)

	if r.Supports(OpClose) {
		t.Error("CLOSE should not be supported")
	}
	if !r.Supports(OpRead) {
		t.Error("READ should be supported")
	}

	err := r.CloseFD(ctx, 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	for _, name := range r.Info().Opcodes {
		if name == OpName(OpClose) {
			t.Errorf("Info lists unsupported opcode %s", name)
		}
	}
}

func TestRunnerObserver(t *testing.T) {
	observer := NewRecordingObserver()
	r, _ := newFakeRunner(t, nil, &Options{Observer: observer})
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		if err := r.Nop(ctx); err != nil {
			t.Fatalf("Nop failed: %v", err)
		}
	}

	if got := observer.Submits(OpNop); got != 5 {
		t.Errorf("observer saw %d submits, want 5", got)
	}
	if got := observer.Completes(OpNop); got != 5 {
		t.Errorf("observer saw %d completions, want 5", got)
	}
	if observer.MaxDepth() == 0 {
		t.Error("observer saw no queue depth")
	}

	// The built-in metrics see the same events
	if s := r.MetricsSnapshot(); s.NopOps != 5 || s.Submitted != 5 {
		t.Errorf("metrics = (%d nops, %d submitted), want (5, 5)", s.NopOps, s.Submitted)
	}
}

func TestRunnerInterruptedEnter(t *testing.T) {
	fake, err := NewFakeRing(8, nil)
	if err != nil {
		t.Fatalf("NewFakeRing failed: %v", err)
	}
	InjectEnterErrors(fake, syscall.EINTR, syscall.EAGAIN)

	observer := NewRecordingObserver()
	params := DefaultRunnerParams()
	params.Engine = fake
	r, err := NewRunner(context.Background(), params, &Options{Observer: observer})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close()

	if err := r.Nop(testContext(t)); err != nil {
		t.Fatalf("Nop failed: %v", err)
	}

	if got := observer.CallCounts()["interrupted"]; got != 2 {
		t.Errorf("interrupted = %d, want 2", got)
	}
	if got := r.MetricsSnapshot().InterruptedEnters; got != 2 {
		t.Errorf("InterruptedEnters = %d, want 2", got)
	}
}

func TestRunnerClose(t *testing.T) {
	r, _ := newFakeRunner(t, nil, nil)

	if r.State() != RunnerStateRunning || !r.IsRunning() {
		t.Errorf("State = %s, want running", r.State())
	}
	info := r.Info()
	if info.QueueDepth != 8 {
		t.Errorf("Info.QueueDepth = %d, want 8", info.QueueDepth)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if r.State() != RunnerStateStopped {
		t.Errorf("State after Close = %s, want stopped", r.State())
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err after clean Close = %v", err)
	}

	err := r.Nop(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Nop after Close: expected ErrClosed, got %v", err)
	}
}

func TestNilRunner(t *testing.T) {
	var r *Runner

	if r.State() != RunnerStateStopped {
		t.Errorf("nil runner State = %s, want stopped", r.State())
	}
	if r.Info().Running {
		t.Error("nil runner should not be running")
	}
	if r.Metrics() != nil {
		t.Error("nil runner should have nil metrics")
	}
	if err := r.Close(); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil runner Close: expected ErrInvalid, got %v", err)
	}
}

func BenchmarkRunnerNop(b *testing.B) {
	fake, err := NewFakeRing(64, nil)
	if err != nil {
		b.Fatalf("NewFakeRing failed: %v", err)
	}
	params := DefaultRunnerParams()
	params.Engine = fake
	r, err := NewRunner(context.Background(), params, &Options{
		Logger: NewLogger(&LogConfig{Level: LogLevelError, Output: os.Stderr}),
	})
	if err != nil {
		b.Fatalf("NewRunner failed: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := r.Nop(ctx); err != nil {
				b.Fatalf("Nop failed: %v", err)
			}
		}
	})
}
