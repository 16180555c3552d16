//go:build !linux

package queue

import "syscall"

func newWakeFd() (int, error) {
	return -1, syscall.ENOSYS
}

func kick(fd int) error {
	return syscall.ENOSYS
}

func closeWakeFd(fd int) error {
	return nil
}
