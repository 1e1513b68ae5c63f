package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping is one contiguous memory-mapped window of a file.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data     []byte
	offset   int64
	writable bool
	closed   atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// PageSize returns the granularity used by Flush and Protect.
func PageSize() int {
	return os.Getpagesize()
}

// Map maps size bytes of the file behind fd starting at offset. The mapping
// is shared so writes through Bytes reach the file. offset must be a multiple
// of the OS allocation granularity.
func Map(fd uintptr, offset int64, size int, writable bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if offset < 0 || offset%int64(allocationGranularity()) != 0 {
		return nil, ErrInvalidOffset
	}

	data, unmapFunc, err := osMap(fd, offset, size, writable)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:     data,
		offset:   offset,
		writable: writable,
		unmap:    unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Offset returns the file offset of the first mapped byte.
func (m *Mapping) Offset() int64 {
	return m.offset
}

// Writable reports whether the mapping was created read-write.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}

// Flush writes dirty pages in [off, off+n) of the mapping back to the file
// and waits for completion. off is rounded down to a page boundary.
func (m *Mapping) Flush(off, n int) error {
	b, err := m.pages(off, n, false)
	if err != nil || len(b) == 0 {
		return err
	}
	return osFlush(b)
}

// Protect makes the whole pages inside [off, off+n) read-only. Partial pages
// at either end stay writable.
func (m *Mapping) Protect(off, n int) error {
	if !m.writable {
		return nil
	}
	b, err := m.pages(off, n, true)
	if err != nil || len(b) == 0 {
		return err
	}
	return osProtect(b)
}

func (m *Mapping) pages(off, n int, inward bool) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off+n > len(m.data) {
		return nil, ErrOutOfBounds
	}
	page := PageSize()
	start, end := off, off+n
	if inward {
		start = (start + page - 1) &^ (page - 1)
		end &^= page - 1
	} else {
		start &^= page - 1
	}
	if start >= end {
		return nil, nil
	}
	return m.data[start:end], nil
}

// ReadAt implements io.ReaderAt relative to the start of the mapping.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
