package pstore

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// Getter resolves store addresses to bytes. *Database and *Transaction
// implement it.
type Getter interface {
	GetRO(addr Address, size uint64) ([]byte, error)
}

// Writer stores values directly into the mapped file, each at a freshly
// allocated address of the owning transaction.
type Writer struct {
	tx *Transaction
}

// Writer returns a write-through archive for tx.
func (tx *Transaction) Writer() *Writer {
	return &Writer{tx: tx}
}

// Put stores v and returns its address. Types implementing
// encoding.BinaryAppender are stored in that form; any other type must
// have a fixed-size encoding/binary representation and is stored
// little-endian.
func Put[T any](w *Writer, v T) (TypedAddress[T], error) {
	addr, view, err := AllocRWOf[T](w.tx, 1)
	if err != nil {
		return NullTypedAddress[T](), err
	}
	if err := encodeInto(view.Bytes(), v); err != nil {
		return NullTypedAddress[T](), err
	}
	if err := view.Release(); err != nil {
		return NullTypedAddress[T](), err
	}
	return addr, nil
}

// PutN stores vs contiguously and returns the address of the first element.
func PutN[T any](w *Writer, vs []T) (TypedAddress[T], error) {
	addr, view, err := AllocRWOf[T](w.tx, uint64(len(vs)))
	if err != nil {
		return NullTypedAddress[T](), err
	}
	b := view.Bytes()
	elem := int(SizeOf[T]())
	for i, v := range vs {
		if err := encodeInto(b[i*elem:(i+1)*elem], v); err != nil {
			return NullTypedAddress[T](), err
		}
	}
	if err := view.Release(); err != nil {
		return NullTypedAddress[T](), err
	}
	return addr, nil
}

// PutBytes stores p unaligned and returns its extent.
func (w *Writer) PutBytes(p []byte) (Extent[byte], error) {
	addr, view, err := w.tx.AllocRW(uint64(len(p)), 1)
	if err != nil {
		return Extent[byte]{}, err
	}
	copy(view.Bytes(), p)
	if err := view.Release(); err != nil {
		return Extent[byte]{}, err
	}
	return MakeExtent(MakeTypedAddress[byte](addr), uint64(len(p))), nil
}

// Get loads the T stored at addr.
func Get[T any](g Getter, addr TypedAddress[T]) (T, error) {
	var v T
	b, err := g.GetRO(addr.Address, SizeOf[T]())
	if err != nil {
		return v, err
	}
	err = decodeFrom(b, &v)
	return v, err
}

// GetN loads n consecutive values starting at addr.
func GetN[T any](g Getter, addr TypedAddress[T], n uint64) ([]T, error) {
	b, err := g.GetRO(addr.Address, scaled[T](n))
	if err != nil {
		return nil, err
	}
	elem := int(SizeOf[T]())
	out := make([]T, n)
	for i := range out {
		if err := decodeFrom(b[i*elem:(i+1)*elem], &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetBytes returns the bytes of e. The result may alias the mapped file and
// must not be modified.
func GetBytes(g Getter, e Extent[byte]) ([]byte, error) {
	return g.GetRO(e.Addr.Address, e.Size)
}

func encodeInto[T any](dst []byte, v T) error {
	if a, ok := any(v).(encoding.BinaryAppender); ok {
		out, err := a.AppendBinary(dst[:0:len(dst)])
		if err != nil {
			return err
		}
		if len(out) != len(dst) {
			return fmt.Errorf("%w: encoded %d bytes into %d", ErrSizeMismatch, len(out), len(dst))
		}
		copy(dst, out)
		return nil
	}
	n, err := binary.Encode(dst, binary.LittleEndian, v)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("%w: encoded %d bytes into %d", ErrSizeMismatch, n, len(dst))
	}
	return nil
}

func decodeFrom[T any](b []byte, v *T) error {
	if u, ok := any(v).(encoding.BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(b)
	}
	_, err := binary.Decode(b, binary.LittleEndian, v)
	return err
}
