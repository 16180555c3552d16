package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	fifo "github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-uring/internal/constants"
	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/ring"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// Request is one operation for the runner. Buffers passed in Buf or
// Bufs belong to the runner until the matching Result is delivered.
type Request struct {
	Op     uint8
	Fd     int
	Offset uint64

	// Buf is the data buffer for READ and WRITE
	Buf []byte

	// Bufs are the segments for READV and WRITEV
	Bufs [][]byte

	// OpFlags carries per-opcode flags such as IORING_FSYNC_DATASYNC
	OpFlags uint32

	// SQEFlags are IOSQE_* bits. Links only hold within one submission
	// batch, so a chain can be split if the ring fills up mid-chain.
	SQEFlags uint8

	// Callback, if set, is run with the result on a pooled goroutine
	// in addition to the result being sent on the request's channel.
	Callback func(Result)
}

// Result is the outcome of a Request. Buf and Bufs hand the request's
// buffers back to the caller.
type Result struct {
	Tag     uint64
	Op      uint8
	Res     int32
	Err     error
	Buf     []byte
	Bufs    [][]byte
	Latency time.Duration
}

// N returns the byte count of a successful transfer, or 0.
func (r Result) N() int {
	if r.Err != nil || r.Res < 0 {
		return 0
	}
	return int(r.Res)
}

// Config configures a Runner.
type Config struct {
	// Engine is the ring to drive. Nil creates a native ring of Depth
	// entries. The runner owns the engine and closes it on shutdown.
	Engine interfaces.Engine

	Depth     uint32
	CQEntries uint32

	// Backlog is the capacity of the channel feeding the loop
	Backlog int

	// StopTimeout bounds how long Close waits for in-flight operations
	StopTimeout time.Duration

	Logger   *logging.Logger
	Observer interfaces.Observer
}

// maxIovecs is the kernel's UIO_MAXIOV.
const maxIovecs = 1024

type pending struct {
	tag    uint64
	req    *Request
	iovecs []unix.Iovec
	start  time.Time
	done   chan Result
}

// Runner multiplexes requests from any number of goroutines onto one
// ring. A single loop goroutine owns the ring. While it blocks waiting
// for completions, a read on an eventfd stays posted to the ring so
// that new submissions and Stop can wake it.
type Runner struct {
	engine interfaces.Engine
	probe  *uapi.Probe

	wakeFd      int
	wakeBuf     [8]byte
	wakeIov     [1]unix.Iovec
	wakeArmed   bool
	wakeRetired bool

	incoming chan *pending
	backlog  *fifo.Queue
	inflight map[uint64]*pending
	nextTag  uint64
	draining bool

	mu       sync.RWMutex
	closed   bool
	started  bool
	stopping atomic.Bool

	quit      chan struct{}
	exited    chan struct{}
	loopErr   error
	closeOnce sync.Once
	closeErr  error

	stopTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *logging.Logger
	observer    interfaces.Observer
}

// NewRunner creates a runner. It probes the engine for supported
// opcodes, falling back to the base set on kernels that cannot probe.
func NewRunner(ctx context.Context, config Config) (*Runner, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	depth := config.Depth
	if depth == 0 {
		depth = constants.DefaultQueueDepth
	}
	backlog := config.Backlog
	if backlog <= 0 {
		backlog = constants.DefaultSubmitBacklog
	}
	stopTimeout := config.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = constants.DefaultStopTimeout
	}

	engine := config.Engine
	if engine == nil {
		rg, err := ring.New(depth, &ring.Options{CQEntries: config.CQEntries, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("create ring: %w", err)
		}
		engine = rg
	}
	if engine.Entries() < constants.MinRunnerDepth {
		engine.Close()
		return nil, ring.NewError("runner", ring.ErrCodeInvalid,
			fmt.Sprintf("runner needs at least %d ring entries", constants.MinRunnerDepth))
	}

	probe, err := engine.Probe()
	if err != nil {
		if !errors.Is(err, ring.ErrUnsupported) {
			engine.Close()
			return nil, fmt.Errorf("probe ring: %w", err)
		}
		logger.Info("opcode probe unsupported, assuming base opcode set")
		probe = ring.BaseProbe()
	}

	wakeFd, err := newWakeFd()
	if err != nil {
		engine.Close()
		return nil, ring.WrapError("eventfd", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		engine:      engine,
		probe:       probe,
		wakeFd:      wakeFd,
		incoming:    make(chan *pending, backlog),
		backlog:     fifo.New(),
		inflight:    make(map[uint64]*pending, engine.Entries()),
		quit:        make(chan struct{}),
		exited:      make(chan struct{}),
		stopTimeout: stopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		observer:    config.Observer,
	}
	r.wakeIov[0].Base = &r.wakeBuf[0]
	r.wakeIov[0].SetLen(len(r.wakeBuf))

	logger.Debug("runner created", "entries", engine.Entries(), "backlog", backlog)
	return r, nil
}

// Start launches the loop goroutine. Requests submitted before Start
// are queued and run once it begins.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errStopped("start")
	}
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true

	go r.loop()
	go func() {
		select {
		case <-r.ctx.Done():
			r.Stop()
		case <-r.exited:
		}
	}()
	return nil
}

// Submit queues req and returns a channel that receives exactly one
// Result. It blocks only while the intake channel is full.
func (r *Runner) Submit(ctx context.Context, req *Request) (<-chan Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	p := &pending{req: req, done: make(chan Result, 1)}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, r.stoppedErr()
	}
	select {
	case r.incoming <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, r.stoppedErr()
	}
	if err := kick(r.wakeFd); err != nil {
		r.logger.Warn("failed to wake runner", "error", err)
	}
	return p.done, nil
}

// Do submits req and waits for its result. The returned error is
// Result.Err, or the submission or context error. If ctx ends first
// the operation is not cancelled and its buffers stay in use until it
// completes.
func (r *Runner) Do(ctx context.Context, req *Request) (Result, error) {
	ch, err := r.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop stops accepting requests. Requests not yet handed to the ring
// fail with a closed error; in-flight ones run to completion. Stop does
// not wait; Close does.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.stopping.Store(true)
	if r.started {
		if err := kick(r.wakeFd); err != nil {
			r.logger.Warn("failed to wake runner for stop", "error", err)
		}
	}
	r.cancel()
}

// Close stops the runner, waits up to the stop timeout for in-flight
// operations, and releases the ring and eventfd.
func (r *Runner) Close() error {
	r.Stop()

	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()
	if !started {
		r.failIncoming(errStopped("submit"))
		return r.closeResources()
	}

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()
	select {
	case <-r.exited:
		return r.closeErr
	case <-timer.C:
		return ring.NewError("close", ring.ErrCodeResource,
			fmt.Sprintf("in-flight operations did not finish within %s", r.stopTimeout))
	}
}

// Done is closed once the loop has exited and every request has
// received its result.
func (r *Runner) Done() <-chan struct{} {
	return r.exited
}

// Err returns the error that terminated the loop, if any.
func (r *Runner) Err() error {
	select {
	case <-r.quit:
		return r.loopErr
	default:
		return nil
	}
}

// Probe returns a copy of the opcode table the runner checks against.
func (r *Runner) Probe() *uapi.Probe {
	p := *r.probe
	return &p
}

// Supports reports whether requests with op will be submitted.
func (r *Runner) Supports(op uint8) bool {
	return r.probe.Supports(op)
}

// Entries returns the ring depth.
func (r *Runner) Entries() uint32 {
	return r.engine.Entries()
}

func validate(req *Request) error {
	if req == nil {
		return ring.NewError("submit", ring.ErrCodeInvalid, "nil request")
	}
	switch req.Op {
	case uapi.IORING_OP_NOP, uapi.IORING_OP_FSYNC, uapi.IORING_OP_CLOSE:
	case uapi.IORING_OP_READ, uapi.IORING_OP_WRITE:
		if uint64(len(req.Buf)) > uint64(^uint32(0)) {
			return ring.NewError(uapi.OpName(req.Op), ring.ErrCodeInvalid, "buffer larger than 4GiB")
		}
	case uapi.IORING_OP_READV, uapi.IORING_OP_WRITEV:
		if len(req.Bufs) > maxIovecs {
			return ring.NewError(uapi.OpName(req.Op), ring.ErrCodeInvalid,
				fmt.Sprintf("%d segments exceeds the limit of %d", len(req.Bufs), maxIovecs))
		}
	default:
		return ring.NewError(uapi.OpName(req.Op), ring.ErrCodeInvalid,
			fmt.Sprintf("opcode %d cannot be prepared by the runner", req.Op))
	}
	return nil
}

func errStopped(op string) error {
	return ring.NewError(op, ring.ErrCodeClosed, "runner is stopped")
}

func (r *Runner) stoppedErr() error {
	if err := r.Err(); err != nil {
		return err
	}
	return errStopped("submit")
}

func (r *Runner) loop() {
	// One thread keeps io_uring_enter and the completion side together.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.logger.Debug("runner loop started")
	err := r.run()
	r.shutdown(err)
}

func (r *Runner) run() error {
	for {
		if !r.wakeArmed && !r.wakeRetired {
			if err := r.armWake(); err != nil {
				return err
			}
		}

		r.intake()
		if r.stopping.Load() && !r.draining {
			r.draining = true
			r.logger.Debug("runner draining", "inflight", len(r.inflight), "backlog", r.backlog.Length())
		}
		if r.draining {
			r.failBacklog(errStopped("submit"))
		} else if err := r.fill(); err != nil {
			return err
		}

		if r.draining && len(r.inflight) == 0 {
			if !r.wakeArmed {
				return nil
			}
			if !r.wakeRetired {
				// Complete the posted read so nothing is in flight at close.
				r.wakeRetired = true
				if err := kick(r.wakeFd); err != nil {
					return ring.WrapError("eventfd", err)
				}
			}
		}

		if _, err := r.engine.SubmitAndWait(1); err != nil {
			if ring.IsRetryable(err) {
				if r.observer != nil {
					r.observer.ObserveInterrupted()
				}
				continue
			}
			return err
		}
		if err := r.reap(); err != nil {
			return err
		}
	}
}

func (r *Runner) armWake() error {
	sqe, err := r.engine.GetSQE()
	if err != nil {
		return fmt.Errorf("arm wakeup read: %w", err)
	}
	sqe.PrepReadv(r.wakeFd, r.wakeIov[:], 0)
	sqe.SetData(constants.WakeTag)
	r.wakeArmed = true
	return nil
}

// intake moves everything waiting on the channel into the backlog.
func (r *Runner) intake() {
	for {
		select {
		case p := <-r.incoming:
			r.backlog.Add(p)
		default:
			return
		}
	}
}

// fill hands backlog entries to the ring until it is full.
func (r *Runner) fill() error {
	for r.backlog.Length() > 0 {
		p := r.backlog.Peek().(*pending)
		if !r.probe.Supports(p.req.Op) {
			r.backlog.Remove()
			r.complete(p, 0, ring.UnsupportedOp(p.req.Op))
			continue
		}

		sqe, err := r.engine.GetSQE()
		if err != nil {
			if errors.Is(err, ring.ErrFull) {
				if r.observer != nil {
					r.observer.ObserveSQFull()
				}
				break
			}
			return err
		}
		r.backlog.Remove()

		r.nextTag++
		if r.nextTag == constants.WakeTag {
			r.nextTag = 1
		}
		p.tag = r.nextTag
		r.prep(sqe, p)
		p.start = time.Now()
		r.inflight[p.tag] = p

		if r.observer != nil {
			r.observer.ObserveSubmit(p.req.Op)
		}
	}
	if r.observer != nil {
		r.observer.ObserveQueueDepth(uint32(len(r.inflight)))
	}
	return nil
}

func (r *Runner) prep(sqe *uapi.SQE, p *pending) {
	req := p.req
	switch req.Op {
	case uapi.IORING_OP_NOP:
		sqe.PrepNop()
	case uapi.IORING_OP_READ:
		sqe.PrepRead(req.Fd, req.Buf, req.Offset)
	case uapi.IORING_OP_WRITE:
		sqe.PrepWrite(req.Fd, req.Buf, req.Offset)
	case uapi.IORING_OP_READV:
		p.iovecs = uapi.Iovecs(req.Bufs)
		sqe.PrepReadv(req.Fd, p.iovecs, req.Offset)
	case uapi.IORING_OP_WRITEV:
		p.iovecs = uapi.Iovecs(req.Bufs)
		sqe.PrepWritev(req.Fd, p.iovecs, req.Offset)
	case uapi.IORING_OP_FSYNC:
		sqe.PrepFsync(req.Fd, req.OpFlags)
	case uapi.IORING_OP_CLOSE:
		sqe.PrepClose(req.Fd)
	}
	sqe.SetFlags(req.SQEFlags)
	sqe.SetData(p.tag)
}

// reap consumes every ready completion.
func (r *Runner) reap() error {
	for {
		cqe, ok := r.engine.PeekCQE()
		if !ok {
			return nil
		}
		tag, res := cqe.UserData, cqe.Res
		r.engine.CQESeen(cqe)

		if tag == constants.WakeTag {
			r.wakeArmed = false
			if res < 0 && !r.wakeRetired {
				return ring.WrapError("wakeup", syscall.Errno(-res))
			}
			continue
		}

		p, ok := r.inflight[tag]
		if !ok {
			r.logger.Warn("completion for unknown tag", "tag", tag, "res", res)
			continue
		}
		delete(r.inflight, tag)
		r.complete(p, res, nil)
	}
}

func (r *Runner) complete(p *pending, res int32, err error) {
	op := p.req.Op
	if err == nil && res < 0 {
		err = syscall.Errno(-res)
	}
	result := Result{
		Tag:  p.tag,
		Op:   op,
		Res:  res,
		Err:  err,
		Buf:  p.req.Buf,
		Bufs: p.req.Bufs,
	}

	if !p.start.IsZero() {
		result.Latency = time.Since(p.start)
		if r.observer != nil {
			var n uint64
			if err == nil && res > 0 {
				n = uint64(res)
			}
			r.observer.ObserveComplete(op, n, uint64(result.Latency.Nanoseconds()), err == nil)
		}
	}
	if err != nil && r.logger.Enabled(logging.LevelDebug) {
		r.logger.WithOp(p.tag, uapi.OpName(op)).Debug("operation failed", "res", res, "error", err)
	}

	p.iovecs = nil
	p.done <- result
	if cb := p.req.Callback; cb != nil {
		gopool.Go(func() { cb(result) })
	}
}

func (r *Runner) failBacklog(err error) {
	for r.backlog.Length() > 0 {
		r.complete(r.backlog.Remove().(*pending), 0, err)
	}
}

func (r *Runner) failIncoming(err error) {
	r.intake()
	r.failBacklog(err)
}

// shutdown runs on the loop goroutine after run returns.
func (r *Runner) shutdown(err error) {
	if err != nil {
		r.logger.WithError(err).Error("runner loop failed")
		r.loopErr = err
	}
	close(r.quit)

	// Submitters blocked on the channel see quit and back out; once the
	// lock is held no further sends can start.
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopping.Store(true)
	r.cancel()

	failErr := err
	if failErr == nil {
		failErr = errStopped("submit")
	}
	r.closeResources()
	for tag, p := range r.inflight {
		delete(r.inflight, tag)
		r.complete(p, 0, failErr)
	}
	r.failIncoming(failErr)

	r.logger.Debug("runner loop exited")
	close(r.exited)
}

func (r *Runner) closeResources() error {
	r.closeOnce.Do(func() {
		if err := r.engine.Close(); err != nil {
			r.closeErr = err
		}
		if err := closeWakeFd(r.wakeFd); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
	})
	return r.closeErr
}
