//go:build unix && !linux

package flock

import "golang.org/x/sys/unix"

const (
	setLock     = unix.F_SETLK
	setLockWait = unix.F_SETLKW
)
