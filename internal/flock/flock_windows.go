//go:build windows

package flock

import (
	"errors"

	"golang.org/x/sys/windows"
)

func lockRange(fd uintptr, offset, length int64, wait bool) error {
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK)
	if !wait {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}
	ol := overlapped(offset)
	err := windows.LockFileEx(windows.Handle(fd), flags, 0, uint32(length), uint32(uint64(length)>>32), ol)
	if !wait && errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return ErrWouldBlock
	}
	return err
}

func unlockRange(fd uintptr, offset, length int64) error {
	return windows.UnlockFileEx(windows.Handle(fd), 0, uint32(length), uint32(uint64(length)>>32), overlapped(offset))
}

func overlapped(offset int64) *windows.Overlapped {
	return &windows.Overlapped{
		Offset:     uint32(offset),
		OffsetHigh: uint32(uint64(offset) >> 32),
	}
}
