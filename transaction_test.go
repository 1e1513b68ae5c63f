package pstore

import (
	"bytes"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pstore/internal/fs"
)

func TestCommit_PublishesGeneration(t *testing.T) {
	path := storePath(t)
	at := time.UnixMilli(1_800_000_000_000)
	db := openStore(t, path, WithClock(func() time.Time { return at }))

	tx, err := db.Begin()
	require.NoError(t, err)
	assert.Equal(t, TxActive, tx.State())
	assert.Equal(t, uint32(0), tx.BaseGeneration())

	e, err := tx.Writer().PutBytes([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, Address(LeaderSize+TrailerSize), e.Addr.Address)
	assert.Equal(t, uint64(16), tx.Size())

	// Uncommitted data is visible to the transaction only.
	b, err := tx.GetRO(e.Addr.Address, e.Size)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), b)
	assert.Equal(t, uint32(0), db.Generation())

	require.NoError(t, tx.Commit())
	assert.Equal(t, TxCommitted, tx.State())

	assert.Equal(t, uint32(1), db.Generation())
	tr := db.Trailer()
	assert.Equal(t, uint64(16), tr.Size)
	assert.Equal(t, Address(LeaderSize), tr.PrevGeneration.Address)
	assert.Equal(t, at, tr.CommitTime())
	assert.Equal(t, e.End(), db.TrailerPos().Address)
	assert.Equal(t, db.TrailerPos(), db.FooterPos())
	assert.Equal(t, e.End().Add(TrailerSize).Absolute(), db.Size())

	require.NoError(t, db.Close())

	db = openStore(t, path)
	assert.Equal(t, uint32(1), db.Generation())
	b, err = GetBytes(db, e)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), b)
}

func TestCommit_AlignsTrailer(t *testing.T) {
	db := openStore(t, storePath(t))
	e := commitBytes(t, db, []byte("odd"))

	assert.Equal(t, uint64(8), db.Trailer().Size)
	assert.Equal(t, e.End().AlignUp(8), db.TrailerPos().Address)
	assert.Zero(t, db.TrailerPos().Absolute()%8)
}

func TestCommit_EmptyTransaction(t *testing.T) {
	db := openStore(t, storePath(t))
	before := db.FooterPos()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, uint32(0), db.Generation())
	assert.Equal(t, before, db.FooterPos())
}

func TestRollback_ReusesSpace(t *testing.T) {
	path := storePath(t)
	db := openStore(t, path)

	tx, err := db.Begin()
	require.NoError(t, err)
	addr, v, err := tx.AllocRW(64, 8)
	require.NoError(t, err)
	copy(v.Bytes(), bytes.Repeat([]byte{0xff}, 64))
	require.NoError(t, v.Release())
	require.NoError(t, tx.Rollback())
	assert.Equal(t, TxAborted, tx.State())
	assert.Equal(t, uint32(0), db.Generation())

	tx, err = db.Begin()
	require.NoError(t, err)
	again, v, err := tx.AllocRW(64, 8)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, make([]byte, 64), v.Bytes())
	require.NoError(t, tx.Rollback())

	require.NoError(t, db.Close())
	db = openStore(t, path)
	assert.Equal(t, uint32(0), db.Generation())
}

func TestCommit_FlushFailureKeepsPreviousGeneration(t *testing.T) {
	path := storePath(t)
	fsys := fs.NewFaultyFS(nil)
	mc := &BasicMetricsCollector{}
	db, err := Open(path, WithFileSystem(fsys), WithMetrics(mc))
	require.NoError(t, err)
	commitBytes(t, db, []byte("durable"))
	head := db.FooterPos()

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Writer().PutBytes([]byte("lost"))
	require.NoError(t, err)

	fsys.AddRule("store.db", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	err = tx.Commit()
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, TxAborted, tx.State())
	assert.Equal(t, head, db.FooterPos())
	assert.Equal(t, uint32(1), db.Generation())
	assert.Equal(t, int64(1), mc.GetStats().CommitErrors)

	// The writer lock was released.
	fsys.ClearRules()
	tx, err = db.TryBegin()
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, db.Close())

	db = openStore(t, path)
	assert.Equal(t, uint32(1), db.Generation())
	assert.Equal(t, head, db.FooterPos())
}

func TestOpen_CreateFailureLeavesNoFile(t *testing.T) {
	path := storePath(t)
	fsys := fs.NewFaultyFS(nil)
	fsys.AddRule("store.db", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	_, err := Open(path, WithFileSystem(fsys))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = fs.Default.Stat(path)
	assert.Error(t, err)
	matches, err := filepath.Glob(path + "*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTransaction_Closed(t *testing.T) {
	db := openStore(t, storePath(t))
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Allocate(8, 8)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	_, _, err = tx.AllocRW(8, 8)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Rollback(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.SetIndexRoot(WriteIndex, NullTypedAddress[IndexRoot]()), ErrTransactionClosed)
}

func TestAllocate_Alignment(t *testing.T) {
	db := openStore(t, storePath(t))
	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	a, err := tx.Allocate(1, 1)
	require.NoError(t, err)
	assert.Equal(t, Address(LeaderSize+TrailerSize), a)

	b, err := tx.Allocate(8, 64)
	require.NoError(t, err)
	assert.Zero(t, b.Absolute()%64)
	assert.Greater(t, b, a)

	c, err := tx.Allocate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, b.Add(8), c)

	_, err = tx.Allocate(8, 3)
	assert.ErrorIs(t, err, ErrInvalidAlignment)

	_, err = tx.Allocate(uint64(MaxAddress), 1)
	assert.ErrorIs(t, err, ErrAddressOutOfRange)
}

func TestTryBegin_LockUnavailable(t *testing.T) {
	db := openStore(t, storePath(t))
	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = db.TryBegin()
	assert.ErrorIs(t, err, ErrLockUnavailable)

	require.NoError(t, tx.Rollback())
	tx, err = db.TryBegin()
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func TestTryBegin_SecondHandle(t *testing.T) {
	skipWithoutDescriptorLocks(t)
	path := storePath(t)
	a := openStore(t, path)
	b := openStore(t, path)

	tx, err := a.Begin()
	require.NoError(t, err)
	_, err = tx.Writer().PutBytes([]byte("from a"))
	require.NoError(t, err)

	_, err = b.TryBegin()
	assert.ErrorIs(t, err, ErrLockUnavailable)
	require.NoError(t, tx.Commit())

	// b catches up with a's commit when it begins.
	txb, err := b.TryBegin()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), txb.BaseGeneration())
	eb, err := txb.Writer().PutBytes([]byte("from b"))
	require.NoError(t, err)
	require.NoError(t, txb.Commit())
	assert.Equal(t, uint32(2), b.Generation())

	assert.Equal(t, uint32(1), a.Generation())
	require.NoError(t, a.SyncHead())
	assert.Equal(t, uint32(2), a.Generation())
	got, err := GetBytes(a, eb)
	require.NoError(t, err)
	assert.Equal(t, []byte("from b"), got)
}

func TestBegin_ConcurrentWritersAreSerialized(t *testing.T) {
	db := openStore(t, storePath(t))
	const writers = 8

	gens := make([]uint32, writers)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			tx, err := db.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if _, err := PutN(tx.Writer(), []uint64{uint64(i), uint64(i)}); err != nil {
				return err
			}
			gens[i] = tx.BaseGeneration() + 1
			return tx.Commit()
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(gens, func(a, b int) bool { return gens[a] < gens[b] })
	for i, gen := range gens {
		assert.Equal(t, uint32(i+1), gen)
	}

	var walked []uint32
	for info, err := range db.Generations() {
		require.NoError(t, err)
		walked = append(walked, info.Trailer.Generation)
		if !info.Trailer.PrevGeneration.IsNull() {
			assert.Equal(t, uint64(16), info.Trailer.Size)
		}
	}
	require.Len(t, walked, writers+1)
	for i, gen := range walked {
		assert.Equal(t, uint32(writers-i), gen)
	}
}

func TestCommit_SpanningRegions(t *testing.T) {
	path := storePath(t)
	db := openStore(t, path, WithMaxRegionSize(SegmentSize))

	payload := make([]byte, SegmentSize)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	addr, v, err := tx.AllocRW(uint64(len(payload)), 1)
	require.NoError(t, err)
	assert.Equal(t, Address(LeaderSize+TrailerSize), addr)
	copy(v.Bytes(), payload)
	require.NoError(t, v.Release())
	require.NoError(t, tx.Commit())

	e := MakeExtent(MakeTypedAddress[byte](addr), uint64(len(payload)))
	got, err := GetBytes(db, e)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	require.NoError(t, db.Close())

	db = openStore(t, path, WithMaxRegionSize(SegmentSize), WithReadOnly())
	got, err = GetBytes(db, e)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestIndexRoots_CarryForward(t *testing.T) {
	db := openStore(t, storePath(t))

	tx, err := db.Begin()
	require.NoError(t, err)
	assert.True(t, tx.IndexRoot(WriteIndex).IsNull())
	root, err := Put(tx.Writer(), IndexRoot{Entries: 3})
	require.NoError(t, err)
	require.NoError(t, tx.SetIndexRoot(WriteIndex, root))
	assert.Equal(t, root, tx.IndexRoot(WriteIndex))
	assert.Error(t, tx.SetIndexRoot(IndexKind(NumIndexKinds), root))
	require.NoError(t, tx.Commit())

	assert.Equal(t, root, db.IndexRoot(WriteIndex))
	assert.True(t, db.IndexRoot(NameIndex).IsNull())

	commitBytes(t, db, []byte("unrelated"))
	assert.Equal(t, uint32(2), db.Generation())
	assert.Equal(t, root, db.IndexRoot(WriteIndex))

	got, err := Get(db, db.IndexRoot(WriteIndex))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Entries)
}

func TestMetrics_Basic(t *testing.T) {
	mc := &BasicMetricsCollector{}
	db := openStore(t, storePath(t), WithMetrics(mc))

	commitBytes(t, db, make([]byte, 16))

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Allocate(40, 8)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	held, err := db.Begin()
	require.NoError(t, err)
	_, err = db.TryBegin()
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.NoError(t, held.Rollback())

	s := mc.GetStats()
	assert.Equal(t, int64(4), s.Begins)
	assert.Equal(t, int64(1), s.BeginErrors)
	assert.Equal(t, int64(1), s.Commits)
	assert.Equal(t, int64(0), s.CommitErrors)
	assert.Equal(t, int64(16), s.CommittedBytes)
	assert.Equal(t, int64(2), s.Rollbacks)
	assert.Equal(t, int64(40), s.AbandonedBytes)
	assert.Equal(t, int64(0), s.CorruptionsTotal)
}

func TestTxState_String(t *testing.T) {
	assert.Equal(t, "active", TxActive.String())
	assert.Equal(t, "aborted", TxAborted.String())
	assert.Equal(t, "TxState(42)", TxState(42).String())
}
