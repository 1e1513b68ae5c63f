package pstore

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDStringLength is the length of the canonical text form.
const UUIDStringLength = 36

// UUID is a 16-byte RFC 4122 identifier. It stamps the store header.
type UUID [16]byte

// Variant is the layout family encoded in the high bits of octet 8.
type Variant uint8

const (
	// VariantNCS is the reserved NCS backward-compatible layout (0xxx).
	VariantNCS Variant = iota
	// VariantRFC4122 is the layout defined by RFC 4122 (10xx).
	VariantRFC4122
	// VariantMicrosoft is the reserved Microsoft layout (110x).
	VariantMicrosoft
	// VariantFuture is reserved for future definition (111x).
	VariantFuture
)

func (v Variant) String() string {
	switch v {
	case VariantNCS:
		return "ncs"
	case VariantRFC4122:
		return "rfc4122"
	case VariantMicrosoft:
		return "microsoft"
	default:
		return "future"
	}
}

// NewUUID returns a random (version 4) UUID.
func NewUUID() (UUID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return UUID{}, fmt.Errorf("pstore: generate uuid: %w", err)
	}
	return UUID(u), nil
}

// ParseUUID parses the canonical 8-4-4-4-12 hex form. Any other length,
// a misplaced dash or a non-hex digit is rejected with ErrUUIDParse.
func ParseUUID(s string) (UUID, error) {
	// uuid.Parse also accepts braced and urn: forms.
	if len(s) != UUIDStringLength {
		return UUID{}, fmt.Errorf("%w: %q has length %d", ErrUUIDParse, s, len(s))
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %q: %w", ErrUUIDParse, s, err)
	}
	return UUID(u), nil
}

// String returns the canonical lowercase form.
func (u UUID) String() string { return uuid.UUID(u).String() }

// Version returns the high nibble of octet 6.
func (u UUID) Version() int { return int(u[6] >> 4) }

// Variant decodes the high bits of octet 8.
func (u UUID) Variant() Variant {
	switch b := u[8]; {
	case b&0x80 == 0:
		return VariantNCS
	case b&0xC0 == 0x80:
		return VariantRFC4122
	case b&0xE0 == 0xC0:
		return VariantMicrosoft
	default:
		return VariantFuture
	}
}

// IsNull reports whether all bytes are zero.
func (u UUID) IsNull() bool { return u == UUID{} }

// MarshalText implements encoding.TextMarshaler.
func (u UUID) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UUID) UnmarshalText(b []byte) error {
	v, err := ParseUUID(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
