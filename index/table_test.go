package index

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pstore"
)

func openStore(t *testing.T) *pstore.Database {
	t.Helper()
	db, err := pstore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func extent(addr, size uint64) pstore.Extent[byte] {
	return pstore.MakeExtent(pstore.MakeTypedAddress[byte](pstore.AddressFrom(addr)), size)
}

func TestTable_InMemory(t *testing.T) {
	tbl := New(pstore.NameIndex)
	assert.Equal(t, pstore.NameIndex, tbl.Kind())
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Dirty())

	require.NoError(t, tbl.Put("b", extent(200, 2)))
	require.NoError(t, tbl.Put("a", extent(100, 1)))
	require.NoError(t, tbl.Put("c", extent(300, 3)))
	require.NoError(t, tbl.Put("b", extent(250, 5)))
	assert.True(t, tbl.Dirty())
	assert.Equal(t, 3, tbl.Len())

	e, ok := tbl.Get("b")
	require.True(t, ok)
	assert.Equal(t, extent(250, 5), e)
	_, ok = tbl.Get("zz")
	assert.False(t, ok)

	var names []string
	for name := range tbl.All() {
		names = append(names, name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	assert.True(t, tbl.Delete("a"))
	assert.False(t, tbl.Delete("a"))
	assert.Equal(t, 2, tbl.Len())

	assert.ErrorIs(t, tbl.Put("", extent(1, 1)), ErrInvalidName)
}

func TestTable_FlushAndLoad(t *testing.T) {
	db := openStore(t)

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	tbl, err := Load(tx, pstore.WriteIndex)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())

	require.NoError(t, tbl.Put("main.o", extent(0x1000, 10)))
	require.NoError(t, tbl.Put("lib.o", extent(0x2000, 20)))
	root, err := tbl.Flush(tx)
	require.NoError(t, err)
	assert.False(t, root.IsNull())
	assert.Equal(t, root, tx.IndexRoot(pstore.WriteIndex))
	assert.False(t, tbl.Dirty())

	// Visible to the transaction before commit.
	pending, err := Load(tx, pstore.WriteIndex)
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Len())
	require.NoError(t, tx.Commit())

	assert.Equal(t, root, db.IndexRoot(pstore.WriteIndex))
	got, err := Load(db, pstore.WriteIndex)
	require.NoError(t, err)
	assert.Equal(t, root, got.Root())
	e, ok := got.Get("lib.o")
	require.True(t, ok)
	assert.Equal(t, extent(0x2000, 20), e)

	other, err := Load(db, pstore.NameIndex)
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())
}

func TestTable_OlderGenerationsAreUntouched(t *testing.T) {
	db := openStore(t)

	write := func(mutate func(*Table)) {
		tx, err := db.Begin()
		require.NoError(t, err)
		defer tx.Rollback()
		tbl, err := Load(tx, pstore.WriteIndex)
		require.NoError(t, err)
		mutate(tbl)
		_, err = tbl.Flush(tx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	write(func(tbl *Table) { require.NoError(t, tbl.Put("x", extent(8, 1))) })
	write(func(tbl *Table) {
		require.NoError(t, tbl.Put("y", extent(16, 2)))
		tbl.Delete("x")
	})

	head, err := Load(db, pstore.WriteIndex)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "y", Value: extent(16, 2)}}, entries(head))

	require.NoError(t, db.Sync(1))
	old, err := Load(db, pstore.WriteIndex)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "x", Value: extent(8, 1)}}, entries(old))
}

func TestTable_FlushWithoutChangesKeepsRoot(t *testing.T) {
	db := openStore(t)
	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	tbl := New(pstore.PathIndex)
	root, err := tbl.Flush(tx)
	require.NoError(t, err)
	assert.True(t, root.IsNull())
	assert.Equal(t, uint64(0), tx.Size())
}

func TestTable_EmptyAfterDelete(t *testing.T) {
	db := openStore(t)
	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	tbl := New(pstore.PathIndex)
	require.NoError(t, tbl.Put("gone", extent(8, 8)))
	tbl.Delete("gone")
	_, err = tbl.Flush(tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := Load(db, pstore.PathIndex)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.False(t, got.Root().IsNull())
}

func TestLoad_InvalidKind(t *testing.T) {
	db := openStore(t)
	_, err := Load(db, pstore.IndexKind(17))
	assert.Error(t, err)
}

func TestDecode_Corrupt(t *testing.T) {
	record := func(name string) []byte {
		b := binary.LittleEndian.AppendUint32(nil, uint32(len(name)))
		b = append(b, name...)
		b, _ = extent(64, 1).AppendBinary(b)
		return b
	}
	valid := append(record("a"), record("b")...)

	got, err := decode(valid, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	tests := []struct {
		name string
		body []byte
		n    uint64
	}{
		{"too many entries", valid, 3},
		{"too few entries", valid, 1},
		{"truncated", valid[:len(valid)-1], 2},
		{"unsorted", append(record("b"), record("a")...), 2},
		{"duplicate", append(record("a"), record("a")...), 2},
		{"long name", binary.LittleEndian.AppendUint32(nil, 1<<30), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(tt.body, tt.n)
			assert.ErrorIs(t, err, ErrCorruptIndex)
		})
	}
}

func entries(tbl *Table) []Entry {
	var out []Entry
	for name, e := range tbl.All() {
		out = append(out, Entry{Name: name, Value: e})
	}
	return out
}
