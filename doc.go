// Package pstore is an embedded, single-file, memory-mapped persistent
// object store with append-only, crash-recoverable transactions.
//
// # Quick Start
//
//	db, err := pstore.Open("repo.db")
//	if err != nil { ... }
//	defer db.Close()
//
//	tx, err := db.Begin()
//	if err != nil { ... }
//	defer tx.Rollback()
//
//	addr, err := pstore.Put(tx.Writer(), uint64(42))
//	if err != nil { ... }
//	if err := tx.Commit(); err != nil { ... }
//
//	v, err := pstore.Get(db, addr) // 42
//
// # File Layout
//
//	offset 0   : Header            (48 bytes)
//	offset 48  : lock block        (16 bytes, range-lock anchors)
//	offset 64  : transaction 0 payload + Trailer(generation 0)
//	offset ... : transaction 1 payload + Trailer(generation 1)
//
// Every field is stored little-endian at a fixed offset. The header and
// every trailer carry a CRC-32 over their body bytes.
//
// # Addresses
//
// An [Address] is a 64-bit position made of a 16-bit segment and a 22-bit
// offset. Segments are 4 MiB, giving 256 GiB of addressable space. The file
// is mapped in whole segments and mappings never move, so views returned for
// an address remain valid until the store is closed.
//
// # Durability Model
//
// A [Transaction] allocates space after the latest trailer and writes values
// straight into the mapped file. Commit appends a [Trailer] linking back to
// the previous generation, flushes the transaction's bytes, and only then
// stores the trailer address into the header with a single atomic write.
// A crash at any earlier point leaves the previous generation as the head.
//
// # Concurrency
//
// One transaction may be active per store at a time. The writer lock is an
// in-process mutex plus an OS byte-range lock on the lock block, so writers
// in different processes are serialized as well. Readers take no locks:
// they load the published footer position once and follow immutable data.
//
// Corruption is never repaired. A bad header fails [Open] with
// [ErrHeaderCorrupt]; a bad trailer fails the walk that reached it with
// [ErrFooterCorrupt].
package pstore
