//go:build linux

package ring

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-uring/internal/uapi"
)

func sysSetup(entries uint32, p *uapi.Params) (int, syscall.Errno) {
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(p)), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), 0
}

func sysEnter(fd int, toSubmit, minComplete, flags uint32) (int, syscall.Errno) {
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(fd),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), 0
}

func sysRegister(fd int, op uint32, arg unsafe.Pointer, nrArgs uint32) (int, syscall.Errno) {
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_REGISTER,
		uintptr(fd),
		uintptr(op),
		uintptr(arg),
		uintptr(nrArgs),
		0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), 0
}

func mmapRegion(fd int, offset int64, size int) ([]byte, error) {
	return unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
}

func munmapRegion(b []byte) error {
	return unix.Munmap(b)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
