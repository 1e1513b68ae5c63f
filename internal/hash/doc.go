// Package hash provides the checksum used to protect on-disk records.
//
// # CRC-32 (IEEE)
//
// The file header and every trailer carry a CRC-32 computed with the IEEE
// polynomial (0xEDB88320, reflected) over their body bytes. The checksum is
// stored little-endian next to the body it covers.
//
// For one-shot checksums:
//
//	crc := hash.CRC32(body)
//
// For streaming checksums:
//
//	h := hash.NewCRC32()
//	h.Write(part1)
//	h.Write(part2)
//	crc := h.Sum32()
package hash
