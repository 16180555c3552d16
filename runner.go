package uring

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-uring/internal/constants"
	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/queue"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

type (
	// Request is one operation for a Runner. Its buffers belong to the
	// runner until the Result is delivered.
	Request = queue.Request

	// Result is the outcome of a Request.
	Result = queue.Result
)

// RunnerParams contains parameters for creating a Runner
type RunnerParams struct {
	QueueDepth  int           // SQ entries (default: 128); one is reserved for wakeups
	CQEntries   int           // CQ entries (default: twice QueueDepth)
	Backlog     int           // Requests buffered ahead of the loop (default: 1024)
	StopTimeout time.Duration // How long Close waits for in-flight I/O (default: 5s)

	// Engine replaces the native ring, e.g. with NewFakeRing or
	// NewGiouringEngine. The runner takes ownership of it.
	Engine Engine
}

// DefaultRunnerParams returns default runner parameters
func DefaultRunnerParams() RunnerParams {
	return RunnerParams{
		QueueDepth:  constants.DefaultQueueDepth,
		CQEntries:   0, // kernel default
		Backlog:     constants.DefaultSubmitBacklog,
		StopTimeout: constants.DefaultStopTimeout,
	}
}

// Options contains additional options for runner creation
type Options struct {
	// Context for cancellation (if nil, uses the ctx argument)
	Context context.Context

	// Logger for debug/info messages (if nil, uses the default logger)
	Logger *Logger

	// Observer receives ring activity in addition to the runner's own
	// Metrics (if nil, only Metrics is updated)
	Observer Observer
}

// RunnerState represents the current state of a Runner
type RunnerState string

const (
	// RunnerStateRunning indicates the runner is accepting requests
	RunnerStateRunning RunnerState = "running"
	// RunnerStateStopped indicates the runner has shut down
	RunnerStateStopped RunnerState = "stopped"
)

// Runner is a goroutine-safe front end over one ring. Any number of
// goroutines may call its methods concurrently.
type Runner struct {
	inner   *queue.Runner
	depth   int
	metrics *Metrics
}

// NewRunner creates a ring, probes it and starts serving requests.
// The runner stays up until Close is called, the context is cancelled,
// or the ring fails.
//
// Example:
//
//	r, err := uring.NewRunner(ctx, uring.DefaultRunnerParams(), nil)
//	defer r.Close()
//	n, err := r.Read(ctx, fd, buf, 0)
func NewRunner(ctx context.Context, params RunnerParams, options *Options) (*Runner, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	if params.QueueDepth < 0 || params.QueueDepth > MaxQueueDepth || params.CQEntries < 0 {
		return nil, NewError("new_runner", ErrCodeInvalid,
			fmt.Sprintf("queue depth %d outside 0..%d", params.QueueDepth, MaxQueueDepth))
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = teeObserver{observer, options.Observer}
	}

	inner, err := queue.NewRunner(ctx, queue.Config{
		Engine:      params.Engine,
		Depth:       uint32(params.QueueDepth),
		CQEntries:   uint32(params.CQEntries),
		Backlog:     params.Backlog,
		StopTimeout: params.StopTimeout,
		Logger:      logger,
		Observer:    observer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	if err := inner.Start(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to start runner: %w", err)
	}

	logger.Info("runner started", "entries", inner.Entries())
	return &Runner{
		inner:   inner,
		depth:   int(inner.Entries()),
		metrics: metrics,
	}, nil
}

// Submit queues req and returns a channel that receives its Result.
func (r *Runner) Submit(ctx context.Context, req *Request) (<-chan Result, error) {
	return r.inner.Submit(ctx, req)
}

// Do submits req and waits for its Result.
func (r *Runner) Do(ctx context.Context, req *Request) (Result, error) {
	return r.inner.Do(ctx, req)
}

// Nop round-trips a no-op through the ring.
func (r *Runner) Nop(ctx context.Context) error {
	_, err := r.inner.Do(ctx, &Request{Op: OpNop})
	return err
}

// Read reads into buf from fd at off. A negative off reads at, and
// advances, the file position.
func (r *Runner) Read(ctx context.Context, fd int, buf []byte, off int64) (int, error) {
	res, err := r.inner.Do(ctx, &Request{Op: OpRead, Fd: fd, Buf: buf, Offset: offset(off)})
	return res.N(), err
}

// Write writes buf to fd at off. A negative off writes at, and
// advances, the file position.
func (r *Runner) Write(ctx context.Context, fd int, buf []byte, off int64) (int, error) {
	res, err := r.inner.Do(ctx, &Request{Op: OpWrite, Fd: fd, Buf: buf, Offset: offset(off)})
	return res.N(), err
}

// Readv scatters a read from fd at off across bufs.
func (r *Runner) Readv(ctx context.Context, fd int, bufs [][]byte, off int64) (int, error) {
	res, err := r.inner.Do(ctx, &Request{Op: OpReadv, Fd: fd, Bufs: bufs, Offset: offset(off)})
	return res.N(), err
}

// Writev gathers bufs into one write to fd at off.
func (r *Runner) Writev(ctx context.Context, fd int, bufs [][]byte, off int64) (int, error) {
	res, err := r.inner.Do(ctx, &Request{Op: OpWritev, Fd: fd, Bufs: bufs, Offset: offset(off)})
	return res.N(), err
}

// Fsync flushes fd to stable storage. With datasync set only the data
// and the metadata needed to read it back are flushed.
func (r *Runner) Fsync(ctx context.Context, fd int, datasync bool) error {
	req := &Request{Op: OpFsync, Fd: fd}
	if datasync {
		req.OpFlags = FsyncDatasync
	}
	_, err := r.inner.Do(ctx, req)
	return err
}

// CloseFD closes fd through the ring.
func (r *Runner) CloseFD(ctx context.Context, fd int) error {
	_, err := r.inner.Do(ctx, &Request{Op: OpClose, Fd: fd})
	return err
}

// ReadAlloc reads up to size bytes from fd at off into a pooled buffer.
// Release the returned slice with PutBuffer.
func (r *Runner) ReadAlloc(ctx context.Context, fd int, size uint32, off int64) ([]byte, error) {
	buf := queue.GetBuffer(size)
	res, err := r.inner.Do(ctx, &Request{Op: OpRead, Fd: fd, Buf: buf, Offset: offset(off)})
	if err != nil {
		// On a context error the read may still be running.
		if res.Buf != nil {
			queue.PutBuffer(buf)
		}
		return nil, err
	}
	return buf[:res.N()], nil
}

func offset(off int64) uint64 {
	if off < 0 {
		return ^uint64(0)
	}
	return uint64(off)
}

// Probe returns the opcode table requests are checked against.
func (r *Runner) Probe() *Probe {
	return r.inner.Probe()
}

// Supports reports whether op can be submitted through this runner.
func (r *Runner) Supports(op uint8) bool {
	return r.inner.Supports(op)
}

// State returns the current state of the runner
func (r *Runner) State() RunnerState {
	if r == nil {
		return RunnerStateStopped
	}
	select {
	case <-r.inner.Done():
		return RunnerStateStopped
	default:
		return RunnerStateRunning
	}
}

// IsRunning returns true if the runner is accepting requests
func (r *Runner) IsRunning() bool {
	return r.State() == RunnerStateRunning
}

// Err returns the error that stopped the runner, if it failed.
func (r *Runner) Err() error {
	return r.inner.Err()
}

// RunnerInfo describes a runner
type RunnerInfo struct {
	State      RunnerState `json:"state"`
	QueueDepth int         `json:"queue_depth"`
	Opcodes    []string    `json:"opcodes"`
	Running    bool        `json:"running"`
}

// Info returns a description of the runner
func (r *Runner) Info() RunnerInfo {
	if r == nil {
		return RunnerInfo{State: RunnerStateStopped}
	}
	state := r.State()
	var names []string
	for _, op := range SupportedOps(r.Probe()) {
		names = append(names, uapi.OpName(op))
	}
	return RunnerInfo{
		State:      state,
		QueueDepth: r.depth,
		Opcodes:    names,
		Running:    state == RunnerStateRunning,
	}
}

// Metrics returns the live metrics for the runner
func (r *Runner) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of runner metrics
func (r *Runner) MetricsSnapshot() MetricsSnapshot {
	if r == nil || r.metrics == nil {
		return MetricsSnapshot{}
	}
	return r.metrics.Snapshot()
}

// Close stops accepting requests, waits for in-flight operations and
// releases the ring.
func (r *Runner) Close() error {
	if r == nil {
		return ErrInvalid
	}
	err := r.inner.Close()
	r.metrics.Stop()
	return err
}

// GetBuffer returns a pooled buffer of length size. Release it with
// PutBuffer once no operation is using it.
func GetBuffer(size uint32) []byte {
	return queue.GetBuffer(size)
}

// PutBuffer returns a buffer from GetBuffer or ReadAlloc to the pool.
func PutBuffer(buf []byte) {
	queue.PutBuffer(buf)
}
