//go:build windows

package mmap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func allocationGranularity() int {
	// Views must start on a 64 KiB boundary.
	return 64 << 10
}

func osMap(fd uintptr, offset int64, size int, writable bool) ([]byte, func([]byte) error, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	end := uint64(offset) + uint64(size)
	h, err := windows.CreateFileMapping(windows.Handle(fd), nil, prot, uint32(end>>32), uint32(end), nil)
	if err != nil {
		return nil, nil, err
	}
	// The view holds its own reference to the mapping object.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access, uint32(uint64(offset)>>32), uint32(offset), uintptr(size))
	if err != nil {
		return nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	return data, func([]byte) error {
		return windows.UnmapViewOfFile(addr)
	}, nil
}

func osFlush(data []byte) error {
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
}

func osProtect(data []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)), windows.PAGE_READONLY, &old)
}

func osAdvise(data []byte, pattern AccessPattern) error {
	// No madvise equivalent; the page cache handles sequential access.
	return nil
}
