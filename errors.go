package pstore

import (
	"errors"
	"fmt"
)

var (
	// ErrHeaderCorrupt is returned when the file header signature or CRC does
	// not match. The file is not a store, or was written on a host with the
	// other byte order.
	ErrHeaderCorrupt = errors.New("pstore: header corrupt")
	// ErrFooterCorrupt is returned when a trailer reached through the
	// generation chain fails validation.
	ErrFooterCorrupt = errors.New("pstore: footer corrupt")
	// ErrAddressOutOfRange is returned for addresses that cannot be encoded
	// or that lie beyond the mapped store.
	ErrAddressOutOfRange = errors.New("pstore: address out of range")
	// ErrLockUnavailable is returned by TryBegin and TryLockVacuum when the
	// lock is held elsewhere.
	ErrLockUnavailable = errors.New("pstore: lock unavailable")
	// ErrUUIDParse is returned for malformed UUID text.
	ErrUUIDParse = errors.New("pstore: invalid uuid")

	// ErrClosed is returned when using a closed database.
	ErrClosed = errors.New("pstore: database closed")
	// ErrReadOnly is returned for writes to a database opened read-only.
	ErrReadOnly = errors.New("pstore: database is read-only")
	// ErrTransactionClosed is returned when using a committed or rolled back
	// transaction.
	ErrTransactionClosed = errors.New("pstore: transaction closed")
	// ErrUnknownGeneration is returned by Sync for a generation number that
	// is not in the chain.
	ErrUnknownGeneration = errors.New("pstore: unknown generation")
	// ErrInvalidAlignment is returned for alignments that are not a power of two.
	ErrInvalidAlignment = errors.New("pstore: alignment must be a power of two")
	// ErrSizeMismatch is returned when an archive read or write does not
	// match the size of the destination.
	ErrSizeMismatch = errors.New("pstore: size mismatch")
)

// CorruptionError describes a failed header or trailer check.
//
// It wraps ErrHeaderCorrupt or ErrFooterCorrupt, so callers can use errors.Is.
type CorruptionError struct {
	Path   string
	Pos    Address
	Reason string
	kind   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v: %s at %s in %s", e.kind, e.Reason, e.Pos, e.Path)
}

func (e *CorruptionError) Unwrap() error { return e.kind }

func headerCorrupt(path, reason string) error {
	return &CorruptionError{Path: path, Pos: NullAddress, Reason: reason, kind: ErrHeaderCorrupt}
}

func footerCorrupt(path string, pos Address, reason string) error {
	return &CorruptionError{Path: path, Pos: pos, Reason: reason, kind: ErrFooterCorrupt}
}
