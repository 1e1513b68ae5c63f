package pstore

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/pstore/internal/hash"
)

// On-disk layout of the file leader: the header followed by the lock block.
const (
	// HeaderSize is the stored size of the header.
	HeaderSize = 48
	// HeaderBodySize is the number of leading header bytes covered by the CRC.
	HeaderBodySize = 32
	// LockBlockSize is the size of the lock block following the header.
	LockBlockSize = 16
	// LeaderSize is the offset of the first transaction.
	LeaderSize = HeaderSize + LockBlockSize

	// VacuumLockOffset is the file offset anchoring the vacuum range lock.
	VacuumLockOffset = HeaderSize
	// TransactionLockOffset is the file offset anchoring the writer range lock.
	TransactionLockOffset = HeaderSize + 8

	// VersionMajor and VersionMinor identify the file format.
	VersionMajor = 1
	VersionMinor = 0

	headerCRCOffset       = 32
	headerFooterPosOffset = 40

	// Contents of the lock block. They are never read back.
	vacuumLockMagic      uint64 = 0x216b636f4c636156 // "VacLock!"
	transactionLockMagic uint64 = 0x216b636f4c6e7854 // "TxnLock!"
)

var (
	// HeaderSignature1 is the first header word, readable in a hex dump.
	HeaderSignature1 = [4]byte{'p', 'S', 't', 'r'}
)

// HeaderSignature2 is stored little-endian and doubles as a byte order mark.
const HeaderSignature2 uint32 = 0x0507FFFF

// Header is a decoded copy of the file header.
//
// Every field before CRC is written once when the store is created.
// FooterPos is the only field mutated afterwards, and only as the last step
// of a commit; in the mapped file it is accessed atomically.
type Header struct {
	Signature1 [4]byte
	Signature2 uint32
	Version    [2]uint16
	HeaderSize uint32
	ID         UUID
	CRC        uint32
	Unused     uint32
	FooterPos  TypedAddress[Trailer]
}

// NewHeader returns a header for a new store with the given identity.
func NewHeader(id UUID) Header {
	h := Header{
		Signature1: HeaderSignature1,
		Signature2: HeaderSignature2,
		Version:    [2]uint16{VersionMajor, VersionMinor},
		HeaderSize: HeaderSize,
	}
	h.SetID(id)
	return h
}

// StoredSize implements Sizer.
func (Header) StoredSize() uint64 { return HeaderSize }

// SetID sets the store identity and refreshes the CRC. It is only called
// while creating a store.
func (h *Header) SetID(id UUID) {
	h.ID = id
	h.CRC = h.ComputeCRC()
}

// ComputeCRC returns the CRC-32 of the 32 body bytes.
func (h Header) ComputeCRC() uint32 {
	var body [HeaderBodySize]byte
	h.appendBody(body[:0])
	return hash.CRC32(body[:])
}

// SignatureIsValid reports whether both signature words match.
func (h Header) SignatureIsValid() bool {
	return h.Signature1 == HeaderSignature1 && h.Signature2 == HeaderSignature2
}

// IsValid reports whether the signatures match and the CRC is intact.
func (h Header) IsValid() bool {
	return h.SignatureIsValid() && h.CRC == h.ComputeCRC()
}

// Validate explains why a header is unusable.
func (h Header) Validate() error {
	if p := h.problem(); p != "" {
		return fmt.Errorf("%w: %s", ErrHeaderCorrupt, p)
	}
	return nil
}

func (h Header) problem() string {
	switch {
	case !h.SignatureIsValid():
		return "signature mismatch"
	case h.CRC != h.ComputeCRC():
		return fmt.Sprintf("crc mismatch: stored 0x%08x, computed 0x%08x", h.CRC, h.ComputeCRC())
	case h.HeaderSize != HeaderSize:
		return fmt.Sprintf("header size %d", h.HeaderSize)
	case h.Version[0] != VersionMajor:
		return fmt.Sprintf("unsupported version %d.%d", h.Version[0], h.Version[1])
	}
	return ""
}

func (h Header) appendBody(b []byte) []byte {
	b = append(b, h.Signature1[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.Signature2)
	b = binary.LittleEndian.AppendUint16(b, h.Version[0])
	b = binary.LittleEndian.AppendUint16(b, h.Version[1])
	b = binary.LittleEndian.AppendUint32(b, h.HeaderSize)
	return append(b, h.ID[:]...)
}

// AppendBinary appends the 48-byte stored form of h.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = h.appendBody(b)
	b = binary.LittleEndian.AppendUint32(b, h.CRC)
	b = binary.LittleEndian.AppendUint32(b, h.Unused)
	return binary.LittleEndian.AppendUint64(b, h.FooterPos.Absolute()), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrHeaderCorrupt, HeaderSize, len(b))
	}
	le := binary.LittleEndian
	copy(h.Signature1[:], b[0:4])
	h.Signature2 = le.Uint32(b[4:8])
	h.Version = [2]uint16{le.Uint16(b[8:10]), le.Uint16(b[10:12])}
	h.HeaderSize = le.Uint32(b[12:16])
	copy(h.ID[:], b[16:32])
	h.CRC = le.Uint32(b[headerCRCOffset:])
	h.Unused = le.Uint32(b[36:40])
	h.FooterPos = MakeTypedAddress[Trailer](Address(le.Uint64(b[headerFooterPosOffset:])))
	return nil
}

// appendLockBlock appends the 16-byte lock block.
func appendLockBlock(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, vacuumLockMagic)
	return binary.LittleEndian.AppendUint64(b, transactionLockMagic)
}
