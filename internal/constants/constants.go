package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueDepth is the default number of SQ entries
	DefaultQueueDepth = 128

	// DefaultCQMultiplier sizes the CQ relative to the SQ when no explicit
	// CQ size is requested. Matches the kernel's own default.
	DefaultCQMultiplier = 2

	// MaxQueueDepth is the kernel's IORING_MAX_ENTRIES
	MaxQueueDepth = 32768

	// MinRunnerDepth leaves one slot for the wakeup read plus one for work
	MinRunnerDepth = 2
)

// Runner constants
const (
	// WakeTag is the reserved user_data of the runner's eventfd read.
	// Request tags are allocated from 1 upwards and never reach it.
	WakeTag = ^uint64(0)

	// DefaultSubmitBacklog is the capacity of the channel feeding the loop
	DefaultSubmitBacklog = 1024

	// DefaultStopTimeout bounds how long Close waits for in-flight I/O
	DefaultStopTimeout = 5 * time.Second
)

// Memory allocation constants
const (
	// DefaultIOSize is the buffer size used by the CLI and pooled reads (64KB)
	DefaultIOSize = 64 * 1024

	// MaxPooledBuffer is the largest buffer handed out by the pool (1MB)
	MaxPooledBuffer = 1 << 20
)
