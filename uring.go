// Package uring is a user-space io_uring core for Linux.
//
// Two levels are offered. Ring is the raw single-producer
// single-consumer interface: reserve SQEs with GetSQE, prepare them,
// publish with Submit, and consume completions with PeekCQE/CQESeen.
// Runner puts a goroutine-safe front end on one ring, with blocking
// convenience calls such as Read and Write, a backlog for when the ring
// is full, and metrics.
//
//	r, err := uring.New(64, nil)
//	sqe, err := r.GetSQE()
//	sqe.PrepRead(fd, buf, 0)
//	sqe.SetData(1)
//	r.SubmitAndWait(1)
//	cqe, _ := r.PeekCQE()
//	n, err := cqe.Res, cqe.Err()
//	r.CQESeen(cqe)
package uring

import (
	"github.com/ehrlich-b/go-uring/internal/interfaces"
	"github.com/ehrlich-b/go-uring/internal/logging"
	"github.com/ehrlich-b/go-uring/internal/ring"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

type (
	// Ring is one io_uring instance. See the ring methods for the
	// single-producer single-consumer rules.
	Ring = ring.Ring

	// RingOptions tunes ring creation. The zero value is valid.
	RingOptions = ring.Options

	// SQE is a submission queue entry. Pointers returned by GetSQE alias
	// ring memory and are valid until the next Submit.
	SQE = uapi.SQE

	// CQE is a completion queue entry.
	CQE = uapi.CQE

	// Probe is the kernel's opcode support table.
	Probe = uapi.Probe

	// Engine is the submission/completion surface shared by Ring, the
	// fake ring and the giouring-backed ring.
	Engine = interfaces.Engine

	// Logger is the structured logger used throughout the package.
	Logger = logging.Logger

	// LogConfig configures NewLogger.
	LogConfig = logging.Config
)

// Log levels for LogConfig
const (
	LogLevelDebug = logging.LevelDebug
	LogLevelInfo  = logging.LevelInfo
	LogLevelWarn  = logging.LevelWarn
	LogLevelError = logging.LevelError
)

// New creates a ring with at least entries submission slots, rounded up
// to a power of two.
func New(entries uint32, opts *RingOptions) (*Ring, error) {
	return ring.New(entries, opts)
}

// Available reports whether this process can create io_uring instances.
func Available() error {
	return ring.Available()
}

// Require returns an ErrUnsupported error naming the first op in ops
// that p lacks, or nil.
func Require(p *Probe, ops ...uint8) error {
	return ring.Require(p, ops...)
}

// SupportedOps lists every opcode p reports as supported.
func SupportedOps(p *Probe) []uint8 {
	return ring.SupportedOps(p)
}

// OpName returns a short name for an opcode.
func OpName(op uint8) string {
	return uapi.OpName(op)
}

// NewLogger creates a logger. A nil config uses text output at info
// level on stderr.
func NewLogger(config *LogConfig) *Logger {
	return logging.NewLogger(config)
}

// NewGiouringEngine creates an Engine backed by
// github.com/pawelgaczynski/giouring. It is only available when built
// with the giouring tag.
func NewGiouringEngine(entries uint32) (Engine, error) {
	return ring.NewGiouringRing(entries)
}
