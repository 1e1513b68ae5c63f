//go:build unix

package flock

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

func lockRange(fd uintptr, offset, length int64, wait bool) error {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
		Start:  offset,
		Len:    length,
	}
	cmd := setLock
	if wait {
		cmd = setLockWait
	}
	for {
		err := unix.FcntlFlock(fd, cmd, &lk)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case !wait && (errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES)):
			return ErrWouldBlock
		default:
			return err
		}
	}
}

func unlockRange(fd uintptr, offset, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: io.SeekStart,
		Start:  offset,
		Len:    length,
	}
	return unix.FcntlFlock(fd, setLock, &lk)
}
