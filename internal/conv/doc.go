// Package conv provides checked integer conversions between the unsigned
// 64-bit quantities used for store addresses and sizes and the signed or
// platform-sized integers required by slices and file APIs.
//
// Values read from disk (sizes, counts, offsets) must go through these
// helpers before they are used to index memory.
package conv
