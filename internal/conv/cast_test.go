package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64ToInt(t *testing.T) {
	got, err := Uint64ToInt(4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, got)

	_, err = Uint64ToInt(math.MaxUint64)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUint64ToInt64(t *testing.T) {
	got, err := Uint64ToInt64(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, err = Uint64ToInt64(math.MaxInt64 + 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestInt64ToUint64(t *testing.T) {
	got, err := Int64ToUint64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), got)

	_, err = Int64ToUint64(-1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestIntToUint64(t *testing.T) {
	got, err := IntToUint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	_, err = IntToUint64(-5)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUint64ToUint32(t *testing.T) {
	got, err := Uint64ToUint32(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), got)

	_, err = Uint64ToUint32(math.MaxUint32 + 1)
	assert.ErrorIs(t, err, ErrOverflow)
}
