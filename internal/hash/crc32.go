package hash

import (
	"hash"
	"hash/crc32"
)

// CRC32 returns the IEEE CRC-32 of data. Header and trailer records are
// stamped with this checksum.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// NewCRC32 returns a streaming IEEE CRC-32 hash for records assembled in
// several pieces.
func NewCRC32() hash.Hash32 {
	return crc32.NewIEEE()
}
