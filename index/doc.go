// Package index implements a name table: a sorted map from names to store
// extents whose durable root is published through a trailer index slot.
//
// Tables are copy-on-write. Load decodes the table of a generation into
// memory, mutations stay in memory, and Flush writes a complete new body
// and root record in the active transaction. Earlier generations keep
// pointing at their own, untouched tables.
//
//	tx, _ := db.Begin()
//	defer tx.Rollback()
//	t, _ := index.Load(tx, pstore.WriteIndex)
//	e, _ := blob.Write(tx, data, blob.Zstd)
//	t.Put("main.o", e)
//	t.Flush(tx)
//	tx.Commit()
//
// The body is a sequence of records in strictly ascending name order:
//
//	u32 name length | name | u64 address | u64 size
package index
