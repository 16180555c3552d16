package uring

import (
	"github.com/ehrlich-b/go-uring/internal/constants"
	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// Re-export constants for public API
const (
	DefaultQueueDepth   = constants.DefaultQueueDepth
	DefaultCQMultiplier = constants.DefaultCQMultiplier
	MaxQueueDepth       = constants.MaxQueueDepth
	DefaultIOSize       = constants.DefaultIOSize
	DefaultStopTimeout  = constants.DefaultStopTimeout
)

// Opcodes
const (
	OpNop    uint8 = uapi.IORING_OP_NOP
	OpReadv  uint8 = uapi.IORING_OP_READV
	OpWritev uint8 = uapi.IORING_OP_WRITEV
	OpFsync  uint8 = uapi.IORING_OP_FSYNC
	OpClose  uint8 = uapi.IORING_OP_CLOSE
	OpRead   uint8 = uapi.IORING_OP_READ
	OpWrite  uint8 = uapi.IORING_OP_WRITE
)

// SQE flags for SetFlags
const (
	FlagFixedFile  uint8 = uapi.IOSQE_FIXED_FILE
	FlagIODrain    uint8 = uapi.IOSQE_IO_DRAIN
	FlagIOLink     uint8 = uapi.IOSQE_IO_LINK
	FlagIOHardlink uint8 = uapi.IOSQE_IO_HARDLINK
	FlagAsync      uint8 = uapi.IOSQE_ASYNC
)

// FsyncDatasync makes an fsync behave like fdatasync.
const FsyncDatasync uint32 = uapi.IORING_FSYNC_DATASYNC
