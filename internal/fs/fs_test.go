package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	f, err := lfs.CreateTemp(tmp, "store-*.tmp")
	require.NoError(t, err)
	assert.Equal(t, tmp, filepath.Dir(f.Name()))
	assert.NotZero(t, f.Fd())

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("J"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))
	require.NoError(t, f.Sync())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "Jello", string(buf))
	require.NoError(t, f.Close())

	target := filepath.Join(tmp, "store.db")
	require.NoError(t, lfs.Rename(f.Name(), target))

	info, err = lfs.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	g, err := lfs.OpenFile(target, os.O_RDONLY, 0)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	require.NoError(t, lfs.Remove(target))
	_, err = lfs.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_SyncRuleAppliesToOpenFile(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)

	path := filepath.Join(tmp, "store.db")
	f, err := ffs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Sync())
	assert.Equal(t, 1, ffs.Syncs())

	ffs.AddRule("store.db", Fault{FailOnSync: true, FailAfterBytes: -1})
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.Equal(t, 1, ffs.Syncs())

	ffs.ClearRules()
	assert.NoError(t, f.Sync())
	assert.Equal(t, 2, ffs.Syncs())
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	boom := errors.New("disk full")
	ffs.AddRule(".tmp", Fault{FailAfterBytes: 8, Err: boom})

	f, err := ffs.CreateTemp(tmp, "store-*.tmp")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("12345678"))
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("9"), 8)
	assert.ErrorIs(t, err, boom)
}

func TestFaultyFS_TruncateAndClose(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("grow", Fault{FailAfterBytes: -1, FailOnTruncate: true, FailOnClose: true})

	f, err := ffs.OpenFile(filepath.Join(tmp, "grow.db"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Truncate(1<<20), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)
}
