package pstore

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math/bits"
	"reflect"
)

const (
	// OffsetBits is the width of the offset part of an address.
	OffsetBits = 22
	// SegmentBits is the width of the segment part of an address.
	SegmentBits = 16

	// MaxOffset is the largest offset within a segment.
	MaxOffset = 1<<OffsetBits - 1
	// MaxSegment is the largest segment number.
	MaxSegment = 1<<SegmentBits - 1
	// SegmentSize is the number of bytes in a segment (4 MiB).
	SegmentSize = 1 << OffsetBits

	// MaxAddress is the largest encodable address.
	MaxAddress Address = MaxSegment<<OffsetBits | MaxOffset
)

// Address is an absolute byte position in the store. Bits 22..37 hold the
// segment number and bits 0..21 the offset within that segment.
type Address uint64

// NullAddress is the zero address. No record is ever stored at it.
const NullAddress Address = 0

// MakeAddress builds an address from its segment and offset.
func MakeAddress(segment, offset uint64) (Address, error) {
	if segment > MaxSegment || offset > MaxOffset {
		return NullAddress, fmt.Errorf("%w: segment %d offset %d", ErrAddressOutOfRange, segment, offset)
	}
	return Address(segment<<OffsetBits | offset), nil
}

// AddressFrom converts a raw absolute position.
func AddressFrom(abs uint64) Address { return Address(abs) }

// Absolute returns the raw 64-bit value.
func (a Address) Absolute() uint64 { return uint64(a) }

// Segment returns bits 22..37.
func (a Address) Segment() uint64 { return (uint64(a) >> OffsetBits) & MaxSegment }

// Offset returns bits 0..21.
func (a Address) Offset() uint64 { return uint64(a) & MaxOffset }

// IsNull reports whether a is the null address.
func (a Address) IsNull() bool { return a == NullAddress }

// InRange reports whether a is encodable as a segment/offset pair.
func (a Address) InRange() bool { return a <= MaxAddress }

// Add returns a+n. An offset overflow carries into the segment. It panics
// if the 64-bit value wraps.
func (a Address) Add(n uint64) Address {
	sum, carry := bits.Add64(uint64(a), n, 0)
	if carry != 0 {
		panic(fmt.Sprintf("pstore: address overflow: %s + %d", a, n))
	}
	return Address(sum)
}

// Sub returns a-n. It panics if the result would be negative.
func (a Address) Sub(n uint64) Address {
	diff, borrow := bits.Sub64(uint64(a), n, 0)
	if borrow != 0 {
		panic(fmt.Sprintf("pstore: address underflow: %s - %d", a, n))
	}
	return Address(diff)
}

// Diff returns the number of bytes from b to a. It panics if b > a.
func (a Address) Diff(b Address) uint64 {
	return a.Sub(uint64(b)).Absolute()
}

// Compare orders addresses numerically.
func (a Address) Compare(b Address) int { return cmp.Compare(a, b) }

// String formats the address as segment:offset.
func (a Address) String() string {
	return fmt.Sprintf("%#x:%#x", a.Segment(), a.Offset())
}

// AlignUp rounds a up to a multiple of align, which must be a power of two.
func (a Address) AlignUp(align uint64) Address {
	return a.Add((align - a.Absolute()%align) % align)
}

// TypedAddress is an Address holding a value of type T. Arithmetic on a
// typed address counts elements of T, not bytes.
type TypedAddress[T any] struct {
	Address
}

// MakeTypedAddress tags a with T.
func MakeTypedAddress[T any](a Address) TypedAddress[T] {
	return TypedAddress[T]{Address: a}
}

// NullTypedAddress returns the null address of T.
func NullTypedAddress[T any]() TypedAddress[T] {
	return TypedAddress[T]{}
}

// CastAddress reinterprets a typed address as pointing at U.
func CastAddress[U, T any](a TypedAddress[T]) TypedAddress[U] {
	return TypedAddress[U]{Address: a.Address}
}

// Add advances the address by n elements of T.
func (t TypedAddress[T]) Add(n uint64) TypedAddress[T] {
	return TypedAddress[T]{Address: t.Address.Add(scaled[T](n))}
}

// Sub moves the address back by n elements of T.
func (t TypedAddress[T]) Sub(n uint64) TypedAddress[T] {
	return TypedAddress[T]{Address: t.Address.Sub(scaled[T](n))}
}

// Compare orders typed addresses numerically.
func (t TypedAddress[T]) Compare(o TypedAddress[T]) int {
	return t.Address.Compare(o.Address)
}

// Sizer is implemented by types whose stored size differs from their
// encoding/binary size.
type Sizer interface {
	StoredSize() uint64
}

// SizeOf returns the number of bytes one T occupies in the store.
// It panics for types without a fixed-size encoding.
func SizeOf[T any]() uint64 {
	var zero T
	if s, ok := any(zero).(Sizer); ok {
		return s.StoredSize()
	}
	n := binary.Size(zero)
	if n < 0 {
		panic(fmt.Sprintf("pstore: %s has no fixed-size encoding", reflect.TypeFor[T]()))
	}
	return uint64(n)
}

func scaled[T any](n uint64) uint64 {
	hi, lo := bits.Mul64(n, SizeOf[T]())
	if hi != 0 {
		panic(fmt.Sprintf("pstore: address overflow: %d elements of %s", n, reflect.TypeFor[T]()))
	}
	return lo
}

// ExtentSize is the stored size of an Extent.
const ExtentSize = 16

// Extent describes a variable-length record: its address and its size in
// bytes (not elements). It is stored as two little-endian u64 values, the
// address followed by the size.
type Extent[T any] struct {
	Addr TypedAddress[T]
	Size uint64
}

// MakeExtent builds an extent.
func MakeExtent[T any](addr TypedAddress[T], size uint64) Extent[T] {
	return Extent[T]{Addr: addr, Size: size}
}

// IsNull reports whether the extent has a null address.
func (e Extent[T]) IsNull() bool { return e.Addr.IsNull() }

// End returns the address just past the extent.
func (e Extent[T]) End() Address { return e.Addr.Address.Add(e.Size) }

// Compare orders extents by address, then by size.
func (e Extent[T]) Compare(o Extent[T]) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	return cmp.Compare(e.Size, o.Size)
}

// AppendBinary appends the 16-byte stored form of e to b.
func (e Extent[T]) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, e.Addr.Absolute())
	return binary.LittleEndian.AppendUint64(b, e.Size), nil
}

// DecodeExtent reads the stored form of an extent from b.
func DecodeExtent[T any](b []byte) (Extent[T], error) {
	if len(b) < ExtentSize {
		return Extent[T]{}, fmt.Errorf("pstore: extent needs %d bytes, have %d", ExtentSize, len(b))
	}
	return Extent[T]{
		Addr: MakeTypedAddress[T](Address(binary.LittleEndian.Uint64(b[0:8]))),
		Size: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Extent[T]) UnmarshalBinary(b []byte) error {
	v, err := DecodeExtent[T](b)
	if err != nil {
		return err
	}
	*e = v
	return nil
}
