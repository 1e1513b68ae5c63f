// Package mmap provides shared memory-mapped windows onto a file.
//
// # Overview
//
// A [Mapping] covers a fixed range of a file and never moves: the store maps
// new windows as the file grows instead of remapping old ones, so slices
// handed out from a mapping stay valid until it is closed.
//
// # Usage
//
//	m, err := mmap.Map(f.Fd(), 0, 4<<20, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	copy(m.Bytes()[64:], payload)
//	_ = m.Flush(64, len(payload)) // msync + wait
//	_ = m.Protect(0, 4<<20)       // committed pages become read-only
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2), mprotect(2), madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile, FlushViewOfFile, VirtualProtect
//
// # Thread Safety
//
// Mapping is safe for concurrent access. Close is idempotent, but callers
// must ensure no goroutine touches Bytes after Close returns.
package mmap
