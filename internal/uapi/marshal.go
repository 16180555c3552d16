package uapi

import (
	"encoding/binary"
	"unsafe"
)

// Explicit little-endian encodings of the shared-memory structs, laid
// out at the byte offsets the kernel uses. They let code that plays the
// kernel's side of the ring (the fake ring) work on raw slots, and pin
// the field offsets in tests independently of Go struct layout.

const (
	SQESize = int(unsafe.Sizeof(SQE{}))
	CQESize = int(unsafe.Sizeof(CQE{}))
)

// MarshalSQE encodes sqe in kernel layout.
func MarshalSQE(sqe *SQE) []byte {
	buf := make([]byte, SQESize)
	PutSQE(buf, sqe)
	return buf
}

// PutSQE encodes sqe into buf, which must hold SQESize bytes.
func PutSQE(buf []byte, sqe *SQE) {
	_ = buf[SQESize-1]
	buf[0] = sqe.Opcode
	buf[1] = sqe.Flags
	binary.LittleEndian.PutUint16(buf[2:4], sqe.IoPrio)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(sqe.Fd))
	binary.LittleEndian.PutUint64(buf[8:16], sqe.Off)
	binary.LittleEndian.PutUint64(buf[16:24], sqe.Addr)
	binary.LittleEndian.PutUint32(buf[24:28], sqe.Len)
	binary.LittleEndian.PutUint32(buf[28:32], sqe.OpFlags)
	binary.LittleEndian.PutUint64(buf[32:40], sqe.UserData)
	binary.LittleEndian.PutUint16(buf[40:42], sqe.BufIndex)
	binary.LittleEndian.PutUint16(buf[42:44], sqe.Personality)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(sqe.SpliceFdIn))
	binary.LittleEndian.PutUint64(buf[48:56], sqe.Addr3)
	binary.LittleEndian.PutUint64(buf[56:64], sqe.Pad)
}

// UnmarshalSQE decodes a kernel-layout SQE.
func UnmarshalSQE(data []byte, sqe *SQE) error {
	if len(data) < SQESize {
		return ErrInsufficientData
	}
	sqe.Opcode = data[0]
	sqe.Flags = data[1]
	sqe.IoPrio = binary.LittleEndian.Uint16(data[2:4])
	sqe.Fd = int32(binary.LittleEndian.Uint32(data[4:8]))
	sqe.Off = binary.LittleEndian.Uint64(data[8:16])
	sqe.Addr = binary.LittleEndian.Uint64(data[16:24])
	sqe.Len = binary.LittleEndian.Uint32(data[24:28])
	sqe.OpFlags = binary.LittleEndian.Uint32(data[28:32])
	sqe.UserData = binary.LittleEndian.Uint64(data[32:40])
	sqe.BufIndex = binary.LittleEndian.Uint16(data[40:42])
	sqe.Personality = binary.LittleEndian.Uint16(data[42:44])
	sqe.SpliceFdIn = int32(binary.LittleEndian.Uint32(data[44:48]))
	sqe.Addr3 = binary.LittleEndian.Uint64(data[48:56])
	sqe.Pad = binary.LittleEndian.Uint64(data[56:64])
	return nil
}

// MarshalCQE encodes cqe in kernel layout.
func MarshalCQE(cqe *CQE) []byte {
	buf := make([]byte, CQESize)
	PutCQE(buf, cqe)
	return buf
}

// PutCQE encodes cqe into buf, which must hold CQESize bytes.
func PutCQE(buf []byte, cqe *CQE) {
	_ = buf[CQESize-1]
	binary.LittleEndian.PutUint64(buf[0:8], cqe.UserData)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(cqe.Res))
	binary.LittleEndian.PutUint32(buf[12:16], cqe.Flags)
}

// UnmarshalCQE decodes a kernel-layout CQE.
func UnmarshalCQE(data []byte, cqe *CQE) error {
	if len(data) < CQESize {
		return ErrInsufficientData
	}
	cqe.UserData = binary.LittleEndian.Uint64(data[0:8])
	cqe.Res = int32(binary.LittleEndian.Uint32(data[8:12]))
	cqe.Flags = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// MarshalError is returned by the Unmarshal helpers.
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
)
