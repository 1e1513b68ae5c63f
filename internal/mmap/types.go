package mmap

import "errors"

// AccessPattern is a paging hint passed to Advise.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom   // store lookups follow addresses, not file order
	AccessWillNeed // prefetch
)

var (
	ErrClosed        = errors.New("mmap: mapping is closed")
	ErrInvalidSize   = errors.New("mmap: mapping size must be positive")
	ErrOutOfBounds   = errors.New("mmap: range outside the mapping")
	ErrInvalidOffset = errors.New("mmap: offset is negative or not aligned to the allocation granularity")
)
