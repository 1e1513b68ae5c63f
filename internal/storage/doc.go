// Package storage maps a store file into memory in segment-aligned regions.
//
// The address space is divided into 4 MiB segments. A [Mapper] maps the file
// in regions that are whole multiples of the segment size and records, for
// every segment, the region that backs it in a segment address table. Growth
// only ever adds regions; an existing region is never remapped or moved, so
// a slice returned for an address stays valid until the Mapper is closed.
//
// Requests that fall inside one region are served as direct slices of the
// mapping. Requests that straddle two regions are served from a copy; a
// writable copy is written back when its [View] is released.
package storage
