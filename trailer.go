package pstore

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/pstore/internal/hash"
)

// IndexKind names one of the index root slots carried by every trailer.
type IndexKind int

// The order of the slots is part of the file format.
const (
	FragmentIndex IndexKind = iota
	NameIndex
	PathIndex
	CompilationIndex
	WriteIndex
	DebugLineHeaderIndex

	// NumIndexKinds is the number of index slots in a trailer.
	NumIndexKinds = 6
)

var indexKindNames = [NumIndexKinds]string{
	"fragment", "name", "path", "compilation", "write", "debug_line_header",
}

func (k IndexKind) String() string {
	if k < 0 || k >= NumIndexKinds {
		return fmt.Sprintf("IndexKind(%d)", int(k))
	}
	return indexKindNames[k]
}

// Valid reports whether k names a trailer slot.
func (k IndexKind) Valid() bool { return k >= 0 && k < NumIndexKinds }

// ParseIndexKind maps a slot name such as "write" to its kind.
func ParseIndexKind(s string) (IndexKind, error) {
	for i, name := range indexKindNames {
		if strings.EqualFold(s, name) {
			return IndexKind(i), nil
		}
	}
	return 0, fmt.Errorf("pstore: unknown index %q", s)
}

// IndexKinds returns every slot in file order.
func IndexKinds() []IndexKind {
	kinds := make([]IndexKind, NumIndexKinds)
	for i := range kinds {
		kinds[i] = IndexKind(i)
	}
	return kinds
}

// IndexRoot is the durable root record of an index. Index implementations
// store one per generation in which they change and publish its address in
// the trailer.
type IndexRoot struct {
	Body    Extent[byte]
	Entries uint64
}

const (
	// TrailerSize is the stored size of a trailer.
	TrailerSize = 112
	// TrailerBodySize is the number of leading trailer bytes covered by the CRC.
	TrailerBodySize = 96

	trailerIndexRecordsOffset = 40
	trailerCRCOffset          = 96
	trailerSignature2Offset   = 104
)

var (
	// TrailerSignature1 opens every trailer.
	TrailerSignature1 = [8]byte{'h', 'P', 'P', 'y', 'f', 'o', 'o', 'T'}
	// TrailerSignature2 closes every trailer.
	TrailerSignature2 = [8]byte{'h', 'P', 'P', 'y', 'T', 'a', 'i', 'l'}
)

// Trailer is the commit record written after each transaction's data.
// Once linked into the chain it is never modified.
type Trailer struct {
	Signature1     [8]byte
	Generation     uint32
	Unused1        uint32
	Size           uint64 // bytes in the transaction, excluding this trailer
	Time           uint64 // milliseconds since the Unix epoch
	PrevGeneration TypedAddress[Trailer]
	IndexRecords   [NumIndexKinds]TypedAddress[IndexRoot]
	Unused2        uint64
	CRC            uint32
	Unused3        uint32
	Signature2     [8]byte
}

// NewTrailer returns a trailer with both signatures set.
func NewTrailer() Trailer {
	return Trailer{Signature1: TrailerSignature1, Signature2: TrailerSignature2}
}

// StoredSize implements Sizer.
func (Trailer) StoredSize() uint64 { return TrailerSize }

// CommitTime returns Time as a time.Time.
func (t Trailer) CommitTime() time.Time {
	return time.UnixMilli(int64(t.Time))
}

// ComputeCRC returns the CRC-32 of the 96 body bytes.
func (t Trailer) ComputeCRC() uint32 {
	var body [TrailerBodySize]byte
	t.appendBody(body[:0])
	return hash.CRC32(body[:])
}

// CRCIsValid reports whether the stored CRC matches the body.
func (t Trailer) CRCIsValid() bool { return t.CRC == t.ComputeCRC() }

// SignatureIsValid reports whether both signatures match.
func (t Trailer) SignatureIsValid() bool {
	return t.Signature1 == TrailerSignature1 && t.Signature2 == TrailerSignature2
}

// IndexRoot returns the root address recorded for kind.
func (t Trailer) IndexRoot(kind IndexKind) TypedAddress[IndexRoot] {
	if !kind.Valid() {
		return NullTypedAddress[IndexRoot]()
	}
	return t.IndexRecords[kind]
}

// firstByte returns the address of the first byte of the transaction this
// trailer closes.
func (t Trailer) firstByte() Address {
	if t.PrevGeneration.IsNull() {
		return LeaderSize
	}
	return t.PrevGeneration.Address.Add(TrailerSize)
}

func (t Trailer) appendBody(b []byte) []byte {
	le := binary.LittleEndian
	b = append(b, t.Signature1[:]...)
	b = le.AppendUint32(b, t.Generation)
	b = le.AppendUint32(b, t.Unused1)
	b = le.AppendUint64(b, t.Size)
	b = le.AppendUint64(b, t.Time)
	b = le.AppendUint64(b, t.PrevGeneration.Absolute())
	for _, r := range t.IndexRecords {
		b = le.AppendUint64(b, r.Absolute())
	}
	return le.AppendUint64(b, t.Unused2)
}

// AppendBinary appends the 112-byte stored form of t.
func (t Trailer) AppendBinary(b []byte) ([]byte, error) {
	b = t.appendBody(b)
	b = binary.LittleEndian.AppendUint32(b, t.CRC)
	b = binary.LittleEndian.AppendUint32(b, t.Unused3)
	return append(b, t.Signature2[:]...), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t Trailer) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, TrailerSize))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *Trailer) UnmarshalBinary(b []byte) error {
	if len(b) < TrailerSize {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrFooterCorrupt, TrailerSize, len(b))
	}
	le := binary.LittleEndian
	copy(t.Signature1[:], b[0:8])
	t.Generation = le.Uint32(b[8:12])
	t.Unused1 = le.Uint32(b[12:16])
	t.Size = le.Uint64(b[16:24])
	t.Time = le.Uint64(b[24:32])
	t.PrevGeneration = MakeTypedAddress[Trailer](Address(le.Uint64(b[32:40])))
	for i := range t.IndexRecords {
		off := trailerIndexRecordsOffset + 8*i
		t.IndexRecords[i] = MakeTypedAddress[IndexRoot](Address(le.Uint64(b[off : off+8])))
	}
	t.Unused2 = le.Uint64(b[88:96])
	t.CRC = le.Uint32(b[trailerCRCOffset:])
	t.Unused3 = le.Uint32(b[100:104])
	copy(t.Signature2[:], b[trailerSignature2Offset:TrailerSize])
	return nil
}

// DecodeTrailer decodes the stored form of a trailer.
func DecodeTrailer(b []byte) (Trailer, error) {
	var t Trailer
	err := t.UnmarshalBinary(b)
	return t, err
}
