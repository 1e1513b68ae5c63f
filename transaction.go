package pstore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/hupe1980/pstore/internal/storage"
)

// TxState is the lifecycle state of a Transaction.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxCommitting
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// View is a writable window onto freshly allocated store bytes.
type View struct {
	v storage.View
}

// Bytes returns the window. Data written here is the data that is committed.
func (v View) Bytes() []byte { return v.v.Bytes() }

// Addr returns the store address of the first byte.
func (v View) Addr() Address { return Address(v.v.Addr()) }

// Release must be called once writing is done. It copies a view that
// straddles two mapped regions back into the store.
func (v View) Release() error { return v.v.Release() }

// Transaction appends data to the store and publishes it as a new
// generation on Commit.
//
// A Transaction is not safe for concurrent use. It holds the store's writer
// lock from Begin until Commit or Rollback, so callers must always end it:
//
//	tx, err := db.Begin()
//	if err != nil { ... }
//	defer tx.Rollback()
//	...
//	return tx.Commit()
type Transaction struct {
	db     *Database
	state  TxState
	base   snapshot
	first  Address // first byte owned by this transaction
	cursor Address
	roots  [NumIndexKinds]TypedAddress[IndexRoot]
}

// Begin starts a transaction, blocking until the writer lock is free
// in this process and across processes.
func (db *Database) Begin() (*Transaction, error) {
	return db.begin(true)
}

// TryBegin starts a transaction if no other writer is active and returns
// ErrLockUnavailable otherwise.
func (db *Database) TryBegin() (*Transaction, error) {
	return db.begin(false)
}

func (db *Database) begin(wait bool) (tx *Transaction, err error) {
	start := time.Now()
	defer func() {
		db.metrics.RecordBegin(time.Since(start), err)
	}()

	if db.closed.Load() {
		return nil, ErrClosed
	}
	if db.readOnly {
		return nil, ErrReadOnly
	}

	if wait {
		db.writer.Lock()
	} else if !db.writer.TryLock() {
		return nil, ErrLockUnavailable
	}
	if err := lockRange(db.txLock, wait); err != nil {
		db.writer.Unlock()
		return nil, err
	}

	// Another process may have committed since this handle last synced.
	if err := db.SyncHead(); err != nil {
		db.unlockWriter()
		return nil, err
	}

	base := *db.synced.Load()
	first := base.pos.Address.Add(TrailerSize)
	return &Transaction{
		db:     db,
		state:  TxActive,
		base:   base,
		first:  first,
		cursor: first,
		roots:  base.trailer.IndexRecords,
	}, nil
}

func (db *Database) unlockWriter() {
	if err := db.txLock.Unlock(); err != nil {
		db.logger.Error("release transaction lock", "error", err)
	}
	db.writer.Unlock()
}

// State returns the lifecycle state.
func (tx *Transaction) State() TxState { return tx.state }

// BaseGeneration returns the generation the transaction builds on.
func (tx *Transaction) BaseGeneration() uint32 { return tx.base.trailer.Generation }

// Size returns the number of bytes allocated so far.
func (tx *Transaction) Size() uint64 { return tx.cursor.Diff(tx.first) }

func (tx *Transaction) active() error {
	if tx.state != TxActive {
		return fmt.Errorf("%w: %s", ErrTransactionClosed, tx.state)
	}
	if tx.db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Allocate reserves size bytes aligned to align (a power of two; zero means
// one) and returns their address. The bytes are reachable only through this
// transaction until it commits.
func (tx *Transaction) Allocate(size, align uint64) (Address, error) {
	if err := tx.active(); err != nil {
		return NullAddress, err
	}
	return tx.allocate(size, align)
}

func (tx *Transaction) allocate(size, align uint64) (Address, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return NullAddress, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}

	const limit = uint64(MaxAddress) + 1
	start := (tx.cursor.Absolute() + align - 1) &^ (align - 1)
	if start > limit || size > limit-start {
		return NullAddress, fmt.Errorf("%w: %d bytes at %s", ErrAddressOutOfRange, size, Address(start))
	}
	end := start + size
	if err := tx.db.storage.MapBytes(end); err != nil {
		return NullAddress, fmt.Errorf("pstore: grow %s: %w", tx.db.path, err)
	}
	tx.cursor = Address(end)
	return Address(start), nil
}

// AllocRW allocates size bytes and returns a zeroed writable view of them.
func (tx *Transaction) AllocRW(size, align uint64) (Address, View, error) {
	if err := tx.active(); err != nil {
		return NullAddress, View{}, err
	}
	return tx.allocRW(size, align)
}

func (tx *Transaction) allocRW(size, align uint64) (Address, View, error) {
	addr, err := tx.allocate(size, align)
	if err != nil {
		return NullAddress, View{}, err
	}
	v, err := tx.db.storage.GetRW(addr.Absolute(), size, false)
	if err != nil {
		return NullAddress, View{}, err
	}
	if !v.Spanning() {
		// Space left by an abandoned transaction is reused.
		clear(v.Bytes())
	}
	return addr, View{v: v}, nil
}

// AllocRWOf allocates n elements of T aligned for T.
func AllocRWOf[T any](tx *Transaction, n uint64) (TypedAddress[T], View, error) {
	addr, v, err := tx.AllocRW(scaled[T](n), alignOf[T]())
	return MakeTypedAddress[T](addr), v, err
}

func alignOf[T any]() uint64 {
	return uint64(reflect.TypeFor[T]().Align())
}

// GetRO reads size bytes at addr, including bytes this transaction has
// allocated but not yet committed.
func (tx *Transaction) GetRO(addr Address, size uint64) ([]byte, error) {
	if err := tx.active(); err != nil {
		return nil, err
	}
	return tx.db.GetRO(addr, size)
}

// IndexRoot returns the root of kind as seen by this transaction.
func (tx *Transaction) IndexRoot(kind IndexKind) TypedAddress[IndexRoot] {
	if !kind.Valid() {
		return NullTypedAddress[IndexRoot]()
	}
	return tx.roots[kind]
}

// SetIndexRoot records a new root for kind. Slots that are never set keep
// the root of the base generation.
func (tx *Transaction) SetIndexRoot(kind IndexKind, root TypedAddress[IndexRoot]) error {
	if err := tx.active(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("pstore: invalid index kind %d", int(kind))
	}
	tx.roots[kind] = root
	return nil
}

// Commit writes the trailer, makes the transaction durable and publishes it
// by storing the trailer address in the header. A transaction that
// allocated nothing commits without writing a trailer.
func (tx *Transaction) Commit() (err error) {
	if err := tx.active(); err != nil {
		return err
	}
	db := tx.db
	start := time.Now()

	if tx.cursor == tx.first {
		tx.finish(TxCommitted)
		db.metrics.RecordCommit(0, time.Since(start), nil)
		return nil
	}

	tx.state = TxCommitting
	generation := tx.base.trailer.Generation + 1
	var size uint64
	defer func() {
		d := time.Since(start)
		db.metrics.RecordCommit(size, d, err)
		db.logger.LogCommit(context.Background(), generation, size, d, err)
	}()

	pos := tx.cursor.AlignUp(8)
	size = pos.Diff(tx.first)

	t := NewTrailer()
	t.Generation = generation
	t.Size = size
	t.Time = uint64(db.now().UnixMilli())
	t.PrevGeneration = tx.base.pos
	t.IndexRecords = tx.roots
	t.CRC = t.ComputeCRC()

	addr, err := tx.writeTrailer(t)
	if err != nil {
		tx.finish(TxAborted)
		return fmt.Errorf("pstore: commit generation %d: %w", generation, err)
	}
	if addr != pos {
		tx.finish(TxAborted)
		return fmt.Errorf("pstore: commit generation %d: trailer placed at %s, expected %s", generation, addr, pos)
	}

	end := pos.Add(TrailerSize)
	if err := db.storage.Flush(tx.first.Absolute(), end.Absolute()); err != nil {
		tx.finish(TxAborted)
		return fmt.Errorf("pstore: commit generation %d: %w", generation, err)
	}

	head := MakeTypedAddress[Trailer](addr)
	db.storeFooterPos(head)
	db.synced.Store(&snapshot{pos: head, trailer: t})

	if ferr := db.storage.Flush(0, HeaderSize); ferr != nil {
		err = fmt.Errorf("pstore: commit generation %d: flush header: %w", generation, ferr)
	}
	if db.protect {
		if perr := db.storage.Protect(tx.first.Absolute(), end.Absolute()); perr != nil {
			db.logger.Warn("protect committed pages", "generation", generation, "error", perr)
		}
	}
	tx.finish(TxCommitted)
	return err
}

// Rollback abandons the transaction. Its bytes are never linked into the
// chain and the next transaction allocates over them. Rollback after
// Commit returns ErrTransactionClosed and has no effect.
func (tx *Transaction) Rollback() error {
	if err := tx.active(); err != nil {
		return err
	}
	abandoned := tx.Size()
	tx.finish(TxAborted)
	tx.db.metrics.RecordRollback(abandoned)
	tx.db.logger.LogRollback(context.Background(), tx.base.trailer.Generation, abandoned)
	return nil
}

func (tx *Transaction) writeTrailer(t Trailer) (Address, error) {
	addr, v, err := tx.allocRW(TrailerSize, 8)
	if err != nil {
		return NullAddress, err
	}
	if err := encodeInto(v.Bytes(), t); err != nil {
		return NullAddress, err
	}
	return addr, v.Release()
}

func (tx *Transaction) finish(state TxState) {
	tx.state = state
	tx.db.unlockWriter()
}
