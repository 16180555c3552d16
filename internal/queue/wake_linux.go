//go:build linux

package queue

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// newWakeFd creates the eventfd the loop keeps a read posted on.
func newWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC)
}

// kick adds one to the eventfd counter, completing the posted read.
func kick(fd int) error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(fd, one[:])
		if err != unix.EINTR {
			return err
		}
	}
}

func closeWakeFd(fd int) error {
	return unix.Close(fd)
}
