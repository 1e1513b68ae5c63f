package pstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/bits"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hupe1980/pstore/internal/conv"
	"github.com/hupe1980/pstore/internal/flock"
	"github.com/hupe1980/pstore/internal/fs"
	"github.com/hupe1980/pstore/internal/storage"
)

var bigEndianHost = binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x1234

// snapshot is the generation a Database handle currently reads from.
type snapshot struct {
	pos     TypedAddress[Trailer]
	trailer Trailer
}

// GenerationInfo is one entry of the generation chain.
type GenerationInfo struct {
	Pos     TypedAddress[Trailer]
	Trailer Trailer
}

// Database is an open store file.
//
// Readers never lock: they load the published footer position once and
// only follow immutable committed data. At most one Transaction is active
// per store across all handles and processes.
type Database struct {
	path      string
	fs        fs.FileSystem
	readOnly  bool
	protect   bool
	maxRegion uint64
	logger    *Logger
	metrics   MetricsCollector
	now       func() time.Time

	file    fs.File
	storage *storage.Mapper
	header  Header   // fields written at creation
	footer  *uint64  // footer_pos in the mapped header

	writer     sync.Mutex
	txLock     *flock.Range
	vacuumLock *flock.Range
	vacuum     sync.Mutex // in-process side of vacuumLock

	synced atomic.Pointer[snapshot]
	closed atomic.Bool
}

// Open opens the store at path, creating it if it does not exist and the
// store is writable. The header and the most recent trailer are validated
// before Open returns.
func Open(path string, opts ...Option) (*Database, error) {
	db := &Database{
		path:      path,
		fs:        fs.Default,
		protect:   true,
		maxRegion: storage.DefaultMaxRegionSize,
		logger:    NoopLogger(),
		metrics:   NoopMetricsCollector{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = db.logger.WithPath(path)
	ctx := context.Background()

	created := false
	if !db.readOnly {
		var err error
		if created, err = db.createIfMissing(); err != nil {
			db.logger.LogOpen(ctx, true, false, 0, err)
			return nil, err
		}
	}

	if err := db.open(); err != nil {
		db.logger.LogOpen(ctx, created, db.readOnly, 0, err)
		return nil, err
	}

	db.logger.LogOpen(ctx, created, db.readOnly, db.Generation(), nil)
	return db, nil
}

func (db *Database) createIfMissing() (bool, error) {
	_, err := db.fs.Stat(db.path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("pstore: stat %s: %w", db.path, err)
	}
	return true, db.create()
}

// create writes the header, the lock block and the generation 0 trailer to
// a temporary file and renames it into place.
func (db *Database) create() (err error) {
	id, err := NewUUID()
	if err != nil {
		return err
	}
	h := NewHeader(id)
	h.FooterPos = MakeTypedAddress[Trailer](LeaderSize)

	t := NewTrailer()
	t.Time = uint64(db.now().UnixMilli())
	t.CRC = t.ComputeCRC()

	buf := make([]byte, 0, LeaderSize+TrailerSize)
	buf, _ = h.AppendBinary(buf)
	buf = appendLockBlock(buf)
	buf, _ = t.AppendBinary(buf)

	tmp, err := db.fs.CreateTemp(filepath.Dir(db.path), filepath.Base(db.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("pstore: create %s: %w", db.path, err)
	}
	tmpOpen := true
	defer func() {
		if err == nil {
			return
		}
		if tmpOpen {
			_ = tmp.Close()
		}
		_ = db.fs.Remove(tmp.Name())
	}()

	if _, err = tmp.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("pstore: create %s: write: %w", db.path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("pstore: create %s: sync: %w", db.path, err)
	}
	tmpOpen = false
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("pstore: create %s: close: %w", db.path, err)
	}
	if err = db.fs.Rename(tmp.Name(), db.path); err != nil {
		return fmt.Errorf("pstore: create %s: rename: %w", db.path, err)
	}
	return nil
}

func (db *Database) open() error {
	flag := os.O_RDWR
	if db.readOnly {
		flag = os.O_RDONLY
	}
	f, err := db.fs.OpenFile(db.path, flag, 0)
	if err != nil {
		return fmt.Errorf("pstore: open %s: %w", db.path, err)
	}
	db.file = f

	if err := db.load(); err != nil {
		_ = db.release()
		return err
	}
	return nil
}

func (db *Database) load() error {
	var raw [LeaderSize]byte
	if _, err := db.file.ReadAt(raw[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return db.corrupt(headerCorrupt(db.path, "file is shorter than the header"))
		}
		return fmt.Errorf("pstore: read header of %s: %w", db.path, err)
	}

	var h Header
	if err := h.UnmarshalBinary(raw[:]); err != nil {
		return db.corrupt(headerCorrupt(db.path, err.Error()))
	}
	if p := h.problem(); p != "" {
		return db.corrupt(headerCorrupt(db.path, p))
	}
	db.header = h

	db.storage = storage.New(db.file, !db.readOnly, storage.WithMaxRegionSize(db.maxRegion))
	if err := db.storage.MapBytes(LeaderSize); err != nil {
		return fmt.Errorf("pstore: map %s: %w", db.path, err)
	}
	b, ok := db.storage.Direct(headerFooterPosOffset, 8)
	if !ok {
		return fmt.Errorf("pstore: map %s: header is not addressable", db.path)
	}
	db.footer = (*uint64)(unsafe.Pointer(&b[0]))

	fd := db.file.Fd()
	db.txLock = flock.NewRange(fd, TransactionLockOffset, 8)
	db.vacuumLock = flock.NewRange(fd, VacuumLockOffset, 8)

	return db.SyncHead()
}

// Close unmaps the store and closes the file. It must not be called while a
// transaction is active. Close is idempotent.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	err := db.release()
	db.logger.Debug("store closed", "error", err)
	return err
}

func (db *Database) release() error {
	var errs []error
	if db.storage != nil {
		errs = append(errs, db.storage.Close())
	}
	if db.file != nil {
		errs = append(errs, db.file.Close())
	}
	return errors.Join(errs...)
}

func (db *Database) corrupt(err error) error {
	db.metrics.RecordCorruption(err)
	db.logger.LogCorruption(context.Background(), err)
	return err
}

func (db *Database) loadFooterPos() TypedAddress[Trailer] {
	v := atomic.LoadUint64(db.footer)
	if bigEndianHost {
		v = bits.ReverseBytes64(v)
	}
	return MakeTypedAddress[Trailer](Address(v))
}

// storeFooterPos publishes a new head generation.
func (db *Database) storeFooterPos(pos TypedAddress[Trailer]) {
	v := pos.Absolute()
	if bigEndianHost {
		v = bits.ReverseBytes64(v)
	}
	atomic.StoreUint64(db.footer, v)
}

// Path returns the store file path.
func (db *Database) Path() string { return db.path }

// ID returns the store identity written at creation.
func (db *Database) ID() UUID { return db.header.ID }

// ReadOnly reports whether the store was opened with WithReadOnly.
func (db *Database) ReadOnly() bool { return db.readOnly }

// Header returns a copy of the header with the current footer position.
func (db *Database) Header() Header {
	h := db.header
	if !db.closed.Load() {
		h.FooterPos = db.loadFooterPos()
	}
	return h
}

// FooterPos returns the most recently published trailer address.
func (db *Database) FooterPos() TypedAddress[Trailer] {
	if db.closed.Load() {
		return NullTypedAddress[Trailer]()
	}
	return db.loadFooterPos()
}

// Trailer returns the trailer of the generation this handle is synced to.
func (db *Database) Trailer() Trailer {
	if s := db.synced.Load(); s != nil {
		return s.trailer
	}
	return Trailer{}
}

// TrailerPos returns the address of the synced trailer.
func (db *Database) TrailerPos() TypedAddress[Trailer] {
	if s := db.synced.Load(); s != nil {
		return s.pos
	}
	return NullTypedAddress[Trailer]()
}

// Generation returns the synced generation number.
func (db *Database) Generation() uint32 { return db.Trailer().Generation }

// Size returns the logical size of the synced generation: the end of its
// trailer.
func (db *Database) Size() uint64 {
	if s := db.synced.Load(); s != nil {
		return s.pos.Absolute() + TrailerSize
	}
	return 0
}

// IndexRoot returns the root address of kind as of the synced generation.
func (db *Database) IndexRoot(kind IndexKind) TypedAddress[IndexRoot] {
	return db.Trailer().IndexRoot(kind)
}

// SyncHead moves this handle to the most recently published generation,
// mapping any data another writer appended.
func (db *Database) SyncHead() error {
	if db.closed.Load() {
		return ErrClosed
	}
	pos := db.loadFooterPos()
	if s := db.synced.Load(); s != nil && s.pos == pos {
		return nil
	}
	t, err := db.ValidateTrailer(pos)
	if err != nil {
		return err
	}
	db.synced.Store(&snapshot{pos: pos, trailer: t})
	return nil
}

// Sync moves this handle to the given generation by walking the chain
// back from the head.
func (db *Database) Sync(generation uint32) error {
	if db.closed.Load() {
		return ErrClosed
	}
	for g, err := range db.Generations() {
		if err != nil {
			return err
		}
		if g.Trailer.Generation == generation {
			db.synced.Store(&snapshot{pos: g.Pos, trailer: g.Trailer})
			return nil
		}
		if g.Trailer.Generation < generation {
			break
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownGeneration, generation)
}

// Generations walks the chain from the head back to generation 0,
// validating every trailer. A failed check is yielded as an error and ends
// the walk.
func (db *Database) Generations() iter.Seq2[GenerationInfo, error] {
	return func(yield func(GenerationInfo, error) bool) {
		if db.closed.Load() {
			yield(GenerationInfo{}, ErrClosed)
			return
		}
		pos := db.loadFooterPos()
		var newer *Trailer
		for {
			t, err := db.ValidateTrailer(pos)
			if err == nil && newer != nil && t.Generation+1 != newer.Generation {
				reason := fmt.Sprintf("generation %d is followed by %d", t.Generation, newer.Generation)
				err = db.corrupt(footerCorrupt(db.path, pos.Address, reason))
			}
			if err != nil {
				yield(GenerationInfo{}, err)
				return
			}
			if !yield(GenerationInfo{Pos: pos, Trailer: t}, nil) {
				return
			}
			if t.PrevGeneration.IsNull() {
				return
			}
			newer = &t
			pos = t.PrevGeneration
		}
	}
}

// ValidateTrailer loads the trailer at pos and checks its signatures, its
// CRC and its position in the chain. Any failure is reported as
// ErrFooterCorrupt; nothing is repaired.
func (db *Database) ValidateTrailer(pos TypedAddress[Trailer]) (Trailer, error) {
	if db.closed.Load() {
		return Trailer{}, ErrClosed
	}
	t, reason := db.checkTrailer(pos.Address)
	if reason != "" {
		return Trailer{}, db.corrupt(footerCorrupt(db.path, pos.Address, reason))
	}
	return t, nil
}

func (db *Database) checkTrailer(p Address) (Trailer, string) {
	switch {
	case p.IsNull():
		return Trailer{}, "null trailer address"
	case p < LeaderSize:
		return Trailer{}, "trailer overlaps the file leader"
	case p.Absolute()%8 != 0:
		return Trailer{}, "trailer is not 8-byte aligned"
	case p > MaxAddress-TrailerSize+1:
		return Trailer{}, "trailer lies beyond the address space"
	}

	end := p.Add(TrailerSize).Absolute()
	size, err := db.fileSize()
	if err != nil {
		return Trailer{}, err.Error()
	}
	if end > size {
		return Trailer{}, fmt.Sprintf("trailer ends at %d beyond the end of the file (%d)", end, size)
	}
	if err := db.storage.MapBytes(end); err != nil {
		return Trailer{}, err.Error()
	}
	b, err := db.storage.GetRO(p.Absolute(), TrailerSize)
	if err != nil {
		return Trailer{}, err.Error()
	}
	t, err := DecodeTrailer(b)
	if err != nil {
		return Trailer{}, err.Error()
	}

	prev := t.PrevGeneration.Address
	switch {
	case !t.SignatureIsValid():
		return Trailer{}, "signature mismatch"
	case !t.CRCIsValid():
		return Trailer{}, fmt.Sprintf("crc mismatch: stored 0x%08x, computed 0x%08x", t.CRC, t.ComputeCRC())
	case !prev.IsNull() && prev >= p:
		return Trailer{}, fmt.Sprintf("previous generation at %s does not precede the trailer", prev)
	case prev.IsNull() && t.Generation != 0:
		return Trailer{}, fmt.Sprintf("generation %d has no predecessor", t.Generation)
	case !prev.IsNull() && t.Generation == 0:
		return Trailer{}, "generation 0 has a predecessor"
	case t.Size > p.Absolute() || p.Sub(t.Size) != t.firstByte():
		return Trailer{}, fmt.Sprintf("size %d does not match the transaction bounds", t.Size)
	}
	return t, ""
}

func (db *Database) fileSize() (uint64, error) {
	fi, err := db.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("pstore: stat %s: %w", db.path, err)
	}
	return conv.Int64ToUint64(fi.Size())
}

// GetRO returns size bytes at addr. The slice aliases the mapped file when
// the range lies in one region and must not be written to.
func (db *Database) GetRO(addr Address, size uint64) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	b, err := db.storage.GetRO(addr.Absolute(), size)
	if err != nil {
		if errors.Is(err, storage.ErrOutOfRange) {
			return nil, fmt.Errorf("%w: %w", ErrAddressOutOfRange, err)
		}
		return nil, err
	}
	return b, nil
}

// LockVacuum blocks until the vacuum range lock is held and returns the
// function that releases it. Compaction tools hold this lock while they run.
func (db *Database) LockVacuum() (unlock func() error, err error) {
	return db.lockVacuum(true)
}

// TryLockVacuum is LockVacuum without waiting. It returns
// ErrLockUnavailable if the lock is held.
func (db *Database) TryLockVacuum() (unlock func() error, err error) {
	return db.lockVacuum(false)
}

func (db *Database) lockVacuum(wait bool) (func() error, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if wait {
		db.vacuum.Lock()
	} else if !db.vacuum.TryLock() {
		return nil, ErrLockUnavailable
	}
	if err := lockRange(db.vacuumLock, wait); err != nil {
		db.vacuum.Unlock()
		return nil, err
	}
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = db.vacuumLock.Unlock()
			db.vacuum.Unlock()
		})
		return err
	}, nil
}

func lockRange(r *flock.Range, wait bool) error {
	if wait {
		if err := r.Lock(); err != nil {
			return fmt.Errorf("pstore: lock: %w", err)
		}
		return nil
	}
	if err := r.TryLock(); err != nil {
		if errors.Is(err, flock.ErrWouldBlock) {
			return ErrLockUnavailable
		}
		return fmt.Errorf("pstore: lock: %w", err)
	}
	return nil
}
