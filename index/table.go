package index

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/hupe1980/pstore"
)

var (
	// ErrCorruptIndex is returned when a stored table fails to decode.
	ErrCorruptIndex = errors.New("index: corrupt table")
	// ErrInvalidName is returned for empty or oversized names.
	ErrInvalidName = errors.New("index: invalid name")
)

// Source resolves addresses and index roots. *pstore.Database reads the
// generation it is synced to; *pstore.Transaction reads its own roots.
type Source interface {
	pstore.Getter
	IndexRoot(kind pstore.IndexKind) pstore.TypedAddress[pstore.IndexRoot]
}

// Entry is one name in a table.
type Entry struct {
	Name  string
	Value pstore.Extent[byte]
}

// Table is an in-memory copy of a name table. It is not safe for
// concurrent use.
type Table struct {
	kind    pstore.IndexKind
	root    pstore.TypedAddress[pstore.IndexRoot]
	entries []Entry // sorted by Name
	dirty   bool
}

const recordOverhead = 4 + pstore.ExtentSize

// New returns an empty table for kind.
func New(kind pstore.IndexKind) *Table {
	return &Table{kind: kind}
}

// Load reads the table whose root src records for kind. A null root
// yields an empty table.
func Load(src Source, kind pstore.IndexKind) (*Table, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("index: invalid kind %d", int(kind))
	}
	t := New(kind)
	t.root = src.IndexRoot(kind)
	if t.root.IsNull() {
		return t, nil
	}

	root, err := pstore.Get(src, t.root)
	if err != nil {
		return nil, fmt.Errorf("index: load %s root at %s: %w", kind, t.root.Address, err)
	}
	body, err := pstore.GetBytes(src, root.Body)
	if err != nil {
		return nil, fmt.Errorf("index: load %s body: %w", kind, err)
	}
	if t.entries, err = decode(body, root.Entries); err != nil {
		return nil, fmt.Errorf("index: load %s: %w", kind, err)
	}
	return t, nil
}

func decode(b []byte, n uint64) ([]Entry, error) {
	if n > uint64(len(b))/recordOverhead {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrCorruptIndex, n, len(b))
	}
	entries := make([]Entry, 0, n)
	le := binary.LittleEndian
	for i := range n {
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrCorruptIndex, i)
		}
		l := uint64(le.Uint32(b))
		if uint64(len(b)) < 4+l+pstore.ExtentSize {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrCorruptIndex, i)
		}
		name := string(b[4 : 4+l])
		e, err := pstore.DecodeExtent[byte](b[4+l:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
		}
		if k := len(entries); k > 0 && entries[k-1].Name >= name {
			return nil, fmt.Errorf("%w: %q follows %q", ErrCorruptIndex, name, entries[k-1].Name)
		}
		entries = append(entries, Entry{Name: name, Value: e})
		b = b[4+l+pstore.ExtentSize:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptIndex, len(b))
	}
	return entries, nil
}

// Kind returns the trailer slot of the table.
func (t *Table) Kind() pstore.IndexKind { return t.kind }

// Root returns the root record address the table was loaded from or last
// flushed to.
func (t *Table) Root() pstore.TypedAddress[pstore.IndexRoot] { return t.root }

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Dirty reports whether the table changed since it was loaded or flushed.
func (t *Table) Dirty() bool { return t.dirty }

func (t *Table) search(name string) (int, bool) {
	return slices.BinarySearchFunc(t.entries, name, func(e Entry, name string) int {
		return cmp.Compare(e.Name, name)
	})
}

// Get returns the extent stored under name.
func (t *Table) Get(name string) (pstore.Extent[byte], bool) {
	i, ok := t.search(name)
	if !ok {
		return pstore.Extent[byte]{}, false
	}
	return t.entries[i].Value, true
}

// Put sets name to e, replacing any previous value.
func (t *Table) Put(name string, e pstore.Extent[byte]) error {
	if name == "" || uint64(len(name)) > math.MaxUint32 {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(name))
	}
	i, ok := t.search(name)
	if ok {
		t.entries[i].Value = e
	} else {
		t.entries = slices.Insert(t.entries, i, Entry{Name: name, Value: e})
	}
	t.dirty = true
	return nil
}

// Delete removes name and reports whether it was present.
func (t *Table) Delete(name string) bool {
	i, ok := t.search(name)
	if !ok {
		return false
	}
	t.entries = slices.Delete(t.entries, i, i+1)
	t.dirty = true
	return true
}

// All yields the entries in name order.
func (t *Table) All() iter.Seq2[string, pstore.Extent[byte]] {
	return func(yield func(string, pstore.Extent[byte]) bool) {
		for _, e := range t.entries {
			if !yield(e.Name, e.Value) {
				return
			}
		}
	}
}

// Flush writes the table to tx and records the new root in the table's
// trailer slot. A table without changes is not rewritten.
func (t *Table) Flush(tx *pstore.Transaction) (pstore.TypedAddress[pstore.IndexRoot], error) {
	if !t.dirty {
		return t.root, nil
	}

	size := 0
	for _, e := range t.entries {
		size += recordOverhead + len(e.Name)
	}
	body := make([]byte, 0, size)
	for _, e := range t.entries {
		body = binary.LittleEndian.AppendUint32(body, uint32(len(e.Name)))
		body = append(body, e.Name...)
		body, _ = e.Value.AppendBinary(body)
	}

	w := tx.Writer()
	ext, err := w.PutBytes(body)
	if err != nil {
		return pstore.NullTypedAddress[pstore.IndexRoot](), fmt.Errorf("index: flush %s body: %w", t.kind, err)
	}
	root, err := pstore.Put(w, pstore.IndexRoot{Body: ext, Entries: uint64(len(t.entries))})
	if err != nil {
		return pstore.NullTypedAddress[pstore.IndexRoot](), fmt.Errorf("index: flush %s root: %w", t.kind, err)
	}
	if err := tx.SetIndexRoot(t.kind, root); err != nil {
		return pstore.NullTypedAddress[pstore.IndexRoot](), err
	}
	t.root = root
	t.dirty = false
	return root, nil
}
