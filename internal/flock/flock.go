package flock

import (
	"errors"
)

// ErrWouldBlock is returned by TryLock when another holder owns the range.
var ErrWouldBlock = errors.New("flock: range is locked")

// Range is an exclusive lock on [Offset, Offset+Len) of a file.
type Range struct {
	fd     uintptr
	offset int64
	length int64
}

// NewRange returns a lock handle for length bytes at offset of the file
// behind fd. No lock is taken until Lock or TryLock is called.
func NewRange(fd uintptr, offset, length int64) *Range {
	return &Range{fd: fd, offset: offset, length: length}
}

// Lock blocks until the range is held exclusively.
func (r *Range) Lock() error {
	return lockRange(r.fd, r.offset, r.length, true)
}

// TryLock takes the range if it is free and returns ErrWouldBlock otherwise.
func (r *Range) TryLock() error {
	return lockRange(r.fd, r.offset, r.length, false)
}

// Unlock releases the range.
func (r *Range) Unlock() error {
	return unlockRange(r.fd, r.offset, r.length)
}
