package storage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/pstore/internal/conv"
	"github.com/hupe1980/pstore/internal/fs"
	"github.com/hupe1980/pstore/internal/mmap"
)

const (
	// SegmentBits is the number of offset bits within a segment.
	SegmentBits = 22
	// SegmentSize is the size of one segment in bytes.
	SegmentSize = 1 << SegmentBits
	// MaxSegments is the number of addressable segments.
	MaxSegments = 1 << 16
	// AddressSpace is the total number of addressable bytes.
	AddressSpace = MaxSegments * SegmentSize

	// DefaultMaxRegionSize caps a single OS mapping.
	DefaultMaxRegionSize = 1 << 30
)

var (
	// ErrOutOfRange is returned for requests beyond the mapped space or the
	// addressable limit.
	ErrOutOfRange = errors.New("storage: address out of range")
	// ErrReadOnly is returned for writable access to a read-only mapper.
	ErrReadOnly = errors.New("storage: mapper is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: mapper is closed")
)

type region struct {
	m          *mmap.Mapping
	start, end uint64
}

func (r *region) slice(addr, size uint64) []byte {
	lo := addr - r.start
	hi := lo + size
	return r.m.Bytes()[lo:hi:hi]
}

// table is replaced wholesale on growth so readers can load it without a lock.
type table struct {
	regions []*region
	sat     []uint32 // segment -> index into regions
}

func (t *table) end() uint64 {
	if len(t.regions) == 0 {
		return 0
	}
	return t.regions[len(t.regions)-1].end
}

// find returns the index of the region containing addr.
func (t *table) find(addr uint64) (int, bool) {
	seg := addr >> SegmentBits
	if seg >= uint64(len(t.sat)) || addr >= t.end() {
		return 0, false
	}
	i := int(t.sat[seg])
	// A segment may start in a clipped region and continue in the next one.
	for addr >= t.regions[i].end {
		i++
	}
	return i, true
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithMaxRegionSize caps a single mapping. The value is rounded up to a
// multiple of SegmentSize.
func WithMaxRegionSize(n uint64) Option {
	return func(m *Mapper) {
		m.maxRegion = max(alignUp(n, SegmentSize), SegmentSize)
	}
}

// Mapper serves views of a store file by address.
//
// Lookups and views may be used concurrently with growth. MapBytes, Flush
// and Protect must be serialized by the caller's writer lock.
type Mapper struct {
	file      fs.File
	writable  bool
	maxRegion uint64

	mu      sync.Mutex // guards growth and retired
	tbl     atomic.Pointer[table]
	retired []*region
	closed  atomic.Bool
}

// New returns a Mapper for file. Nothing is mapped until MapBytes is called.
func New(file fs.File, writable bool, opts ...Option) *Mapper {
	m := &Mapper{
		file:      file,
		writable:  writable,
		maxRegion: DefaultMaxRegionSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tbl.Store(&table{})
	return m
}

// Writable reports whether views may be written.
func (m *Mapper) Writable() bool { return m.writable }

// MappedSize returns the number of bytes currently mapped from address 0.
func (m *Mapper) MappedSize() uint64 {
	return m.tbl.Load().end()
}

// Regions returns the number of live regions.
func (m *Mapper) Regions() int {
	return len(m.tbl.Load().regions)
}

// MapBytes ensures that [0, newSize) is mapped. A writable mapper grows the
// file to the end of every new region before mapping it. A read-only mapper
// maps at most the current file size.
func (m *Mapper) MapBytes(newSize uint64) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if newSize > AddressSpace {
		return fmt.Errorf("%w: %d bytes exceeds the address space", ErrOutOfRange, newSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.tbl.Load()
	if newSize <= old.end() {
		return nil
	}

	fileSize, err := m.fileSize()
	if err != nil {
		return err
	}
	if !m.writable && newSize > fileSize {
		return fmt.Errorf("%w: need %d bytes, file has %d", ErrOutOfRange, newSize, fileSize)
	}

	regions := append([]*region(nil), old.regions...)
	start := old.end()

	// A clipped tail region is superseded by a full one starting at the same
	// address; the old mapping is kept alive for outstanding slices.
	var superseded *region
	if n := len(regions); n > 0 && start%SegmentSize != 0 {
		superseded = regions[n-1]
		regions = regions[:n-1]
		start = superseded.start
	}

	base := len(regions)
	fail := func(err error) error {
		for _, r := range regions[base:] {
			_ = r.m.Close()
		}
		return err
	}

	for start < newSize {
		size := m.regionSize(start, newSize)
		end := start + size
		if m.writable {
			if end > fileSize {
				if err := m.truncate(end); err != nil {
					return fail(err)
				}
				fileSize = end
			}
		} else {
			end = min(end, fileSize)
		}

		r, err := m.mapRegion(start, end)
		if err != nil {
			return fail(err)
		}
		regions = append(regions, r)
		start = end
	}

	if superseded != nil {
		m.retired = append(m.retired, superseded)
	}
	m.tbl.Store(buildTable(regions))
	return nil
}

// regionSize grows geometrically with the mapped size so that the number of
// regions stays logarithmic in the store size.
func (m *Mapper) regionSize(start, need uint64) uint64 {
	size := max(need-start, start)
	size = alignUp(size, SegmentSize)
	return min(max(size, SegmentSize), m.maxRegion, AddressSpace-start)
}

func (m *Mapper) mapRegion(start, end uint64) (*region, error) {
	off, err := conv.Uint64ToInt64(start)
	if err != nil {
		return nil, err
	}
	n, err := conv.Uint64ToInt(end - start)
	if err != nil {
		return nil, err
	}
	mapping, err := mmap.Map(m.file.Fd(), off, n, m.writable)
	if err != nil {
		return nil, fmt.Errorf("storage: map [%d, %d): %w", start, end, err)
	}
	_ = mapping.Advise(mmap.AccessRandom)
	return &region{m: mapping, start: start, end: end}, nil
}

func buildTable(regions []*region) *table {
	t := &table{regions: regions}
	if len(regions) == 0 {
		return t
	}
	segments := (t.end() + SegmentSize - 1) >> SegmentBits
	t.sat = make([]uint32, segments)
	next := uint64(0) // first segment without an owner
	for i, r := range regions {
		last := (r.end - 1) >> SegmentBits
		// The first region touching a segment owns its slot.
		for s := max(r.start>>SegmentBits, next); s <= last; s++ {
			t.sat[s] = uint32(i)
		}
		next = last + 1
	}
	return t
}

func (m *Mapper) fileSize() (uint64, error) {
	fi, err := m.file.Stat()
	if err != nil {
		return 0, err
	}
	return conv.Int64ToUint64(fi.Size())
}

func (m *Mapper) truncate(size uint64) error {
	n, err := conv.Uint64ToInt64(size)
	if err != nil {
		return err
	}
	if err := m.file.Truncate(n); err != nil {
		return fmt.Errorf("storage: grow file to %d: %w", size, err)
	}
	return nil
}

// Direct returns the mapped bytes for [addr, addr+size) if they lie in a
// single region. The slice aliases the file.
func (m *Mapper) Direct(addr, size uint64) ([]byte, bool) {
	if m.closed.Load() {
		return nil, false
	}
	t := m.tbl.Load()
	i, ok := t.find(addr)
	if !ok {
		return nil, false
	}
	r := t.regions[i]
	if addr+size > r.end || addr+size < addr {
		return nil, false
	}
	return r.slice(addr, size), true
}

// GetRO returns the bytes at [addr, addr+size). The result is a direct slice
// of the mapping unless the range straddles a region boundary, in which case
// it is a private copy. Callers must not write to the result.
func (m *Mapper) GetRO(addr, size uint64) ([]byte, error) {
	if err := m.check(addr, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if b, ok := m.Direct(addr, size); ok {
		return b, nil
	}
	n, err := conv.Uint64ToInt(size)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := m.ReadAt(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetRW returns a writable view of [addr, addr+size). When initialized is
// false a spanning view starts zeroed instead of copying the current bytes.
func (m *Mapper) GetRW(addr, size uint64, initialized bool) (View, error) {
	if !m.writable {
		return View{}, ErrReadOnly
	}
	if err := m.check(addr, size); err != nil {
		return View{}, err
	}
	if size == 0 {
		return View{addr: addr}, nil
	}
	if b, ok := m.Direct(addr, size); ok {
		return View{b: b, addr: addr}, nil
	}
	n, err := conv.Uint64ToInt(size)
	if err != nil {
		return View{}, err
	}
	buf := make([]byte, n)
	if initialized {
		if err := m.ReadAt(buf, addr); err != nil {
			return View{}, err
		}
	}
	return View{b: buf, addr: addr, owner: m}, nil
}

// ReadAt copies len(p) bytes starting at addr into p.
func (m *Mapper) ReadAt(p []byte, addr uint64) error {
	return m.each(addr, uint64(len(p)), func(b []byte, at int) {
		copy(p[at:], b)
	})
}

// WriteAt copies p into the mapping starting at addr.
func (m *Mapper) WriteAt(p []byte, addr uint64) error {
	if !m.writable {
		return ErrReadOnly
	}
	return m.each(addr, uint64(len(p)), func(b []byte, at int) {
		copy(b, p[at:])
	})
}

// each calls fn with the direct slice of every region piece covering
// [addr, addr+size) and the position of that piece within the range.
func (m *Mapper) each(addr, size uint64, fn func(b []byte, at int)) error {
	if err := m.check(addr, size); err != nil {
		return err
	}
	t := m.tbl.Load()
	at := 0
	for size > 0 {
		i, ok := t.find(addr)
		if !ok {
			return fmt.Errorf("%w: %d", ErrOutOfRange, addr)
		}
		r := t.regions[i]
		n := min(size, r.end-addr)
		fn(r.slice(addr, n), at)
		addr += n
		size -= n
		at += int(n)
	}
	return nil
}

func (m *Mapper) check(addr, size uint64) error {
	if m.closed.Load() {
		return ErrClosed
	}
	end := addr + size
	if end < addr || end > m.MappedSize() {
		return fmt.Errorf("%w: [%d, %d) beyond mapped size %d", ErrOutOfRange, addr, end, m.MappedSize())
	}
	return nil
}

// Flush makes [from, to) durable: dirty pages are written back with msync
// and the file is synced.
func (m *Mapper) Flush(from, to uint64) error {
	if err := m.check(from, to-from); err != nil {
		return err
	}
	err := m.pieces(from, to, func(r *region, lo, n int) error {
		return r.m.Flush(lo, n)
	})
	if err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("storage: sync: %w", err)
	}
	return nil
}

// Protect makes the whole pages within [from, to) read-only.
func (m *Mapper) Protect(from, to uint64) error {
	if !m.writable {
		return nil
	}
	if err := m.check(from, to-from); err != nil {
		return err
	}
	return m.pieces(from, to, func(r *region, lo, n int) error {
		return r.m.Protect(lo, n)
	})
}

func (m *Mapper) pieces(from, to uint64, fn func(r *region, lo, n int) error) error {
	if to <= from {
		return nil
	}
	for _, r := range m.tbl.Load().regions {
		lo, hi := max(from, r.start), min(to, r.end)
		if lo >= hi {
			continue
		}
		if err := fn(r, int(lo-r.start), int(hi-lo)); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps every region. Slices obtained from the Mapper must not be
// used afterwards.
func (m *Mapper) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, r := range m.tbl.Load().regions {
		errs = append(errs, r.m.Close())
	}
	for _, r := range m.retired {
		errs = append(errs, r.m.Close())
	}
	m.retired = nil
	m.tbl.Store(&table{})
	return errors.Join(errs...)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
