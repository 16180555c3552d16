//go:build !linux

package ring

import (
	"syscall"
	"unsafe"

	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// io_uring exists only on Linux. Elsewhere every ring syscall fails with
// ENOSYS so New reports a resource error.

func sysSetup(entries uint32, p *uapi.Params) (int, syscall.Errno) {
	return -1, syscall.ENOSYS
}

func sysEnter(fd int, toSubmit, minComplete, flags uint32) (int, syscall.Errno) {
	return 0, syscall.ENOSYS
}

func sysRegister(fd int, op uint32, arg unsafe.Pointer, nrArgs uint32) (int, syscall.Errno) {
	return 0, syscall.ENOSYS
}

func mmapRegion(fd int, offset int64, size int) ([]byte, error) {
	return nil, syscall.ENOSYS
}

func munmapRegion(b []byte) error {
	return nil
}

func closeFd(fd int) error {
	return syscall.Close(fd)
}
