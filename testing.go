//go:build linux

package uring

import (
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-uring/internal/ring"
)

type (
	// FakeRing is an in-memory Engine that runs operations with ordinary
	// syscalls. It needs no io_uring support, which makes it useful for
	// unit testing code built on a Runner.
	FakeRing = ring.FakeRing

	// FakeOptions configures a FakeRing.
	FakeOptions = ring.FakeOptions
)

// NewFakeRing creates a fake ring with at least entries SQ slots.
//
// Example:
//
//	fake, _ := uring.NewFakeRing(8, &uring.FakeOptions{Unsupported: []uint8{uring.OpClose}})
//	params := uring.DefaultRunnerParams()
//	params.Engine = fake
//	r, _ := uring.NewRunner(ctx, params, nil)
func NewFakeRing(entries uint32, opts *FakeOptions) (*FakeRing, error) {
	return ring.NewFakeRing(entries, opts)
}

// RecordingObserver is an Observer that remembers what it was told.
// It tracks calls for verification in tests.
type RecordingObserver struct {
	mu          sync.RWMutex
	submits     map[uint8]int
	completes   map[uint8]int
	failures    map[uint8]int
	bytes       uint64
	maxDepth    uint32
	sqFull      int
	interrupted int
}

// NewRecordingObserver creates an empty recording observer.
func NewRecordingObserver() *RecordingObserver {
	o := &RecordingObserver{}
	o.Reset()
	return o
}

// ObserveSubmit implements Observer
func (o *RecordingObserver) ObserveSubmit(op uint8) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits[op]++
}

// ObserveComplete implements Observer
func (o *RecordingObserver) ObserveComplete(op uint8, bytes uint64, latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes[op]++
	if !success {
		o.failures[op]++
		return
	}
	o.bytes += bytes
}

// ObserveQueueDepth implements Observer
func (o *RecordingObserver) ObserveQueueDepth(depth uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if depth > o.maxDepth {
		o.maxDepth = depth
	}
}

// ObserveSQFull implements Observer
func (o *RecordingObserver) ObserveSQFull() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sqFull++
}

// ObserveInterrupted implements Observer
func (o *RecordingObserver) ObserveInterrupted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interrupted++
}

// Testing utility methods

// Submits returns how many times op was submitted
func (o *RecordingObserver) Submits(op uint8) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.submits[op]
}

// Completes returns how many operations of op completed
func (o *RecordingObserver) Completes(op uint8) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.completes[op]
}

// Failures returns how many operations of op completed with an error
func (o *RecordingObserver) Failures(op uint8) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.failures[op]
}

// Bytes returns the total bytes reported by successful transfers
func (o *RecordingObserver) Bytes() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bytes
}

// MaxDepth returns the highest in-flight count reported
func (o *RecordingObserver) MaxDepth() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxDepth
}

// CallCounts returns the number of ring pressure events seen
func (o *RecordingObserver) CallCounts() map[string]int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return map[string]int{
		"sq_full":     o.sqFull,
		"interrupted": o.interrupted,
	}
}

// Reset clears everything recorded so far
func (o *RecordingObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.submits = make(map[uint8]int)
	o.completes = make(map[uint8]int)
	o.failures = make(map[uint8]int)
	o.bytes = 0
	o.maxDepth = 0
	o.sqFull = 0
	o.interrupted = 0
}

// InjectEnterErrors queues errnos for fake's next submissions to fail
// with, in order.
func InjectEnterErrors(fake *FakeRing, errnos ...syscall.Errno) {
	for _, errno := range errnos {
		fake.InjectEnterError(errno)
	}
}

// Compile-time interface checks
var (
	_ Observer = (*RecordingObserver)(nil)
	_ Engine   = (*FakeRing)(nil)
)
