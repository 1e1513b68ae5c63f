package blob

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pstore"
)

func compressible() []byte {
	return bytes.Repeat([]byte("debug_line header for main.c "), 512)
}

func random(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func TestEncodeDecode(t *testing.T) {
	data := compressible()
	for _, codec := range []Codec{None, LZ4, Zstd} {
		t.Run(codec.String(), func(t *testing.T) {
			enc, err := Encode(data, codec)
			require.NoError(t, err)

			h, err := DecodeHeader(enc)
			require.NoError(t, err)
			assert.Equal(t, codec, h.Codec)
			assert.Equal(t, uint32(len(data)), h.RawLen)
			assert.Equal(t, uint32(len(enc)-HeaderSize), h.StoredLen)
			if codec != None {
				assert.Less(t, len(enc), len(data))
			}

			got, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestEncode_IncompressibleFallsBackToNone(t *testing.T) {
	data := random(4096)
	for _, codec := range []Codec{LZ4, Zstd} {
		enc, err := Encode(data, codec)
		require.NoError(t, err)

		h, err := DecodeHeader(enc)
		require.NoError(t, err)
		assert.Equal(t, None, h.Codec, codec.String())
		assert.Len(t, enc, HeaderSize+len(data))
	}
}

func TestEncode_Empty(t *testing.T) {
	for _, codec := range []Codec{None, LZ4, Zstd} {
		enc, err := Encode(nil, codec)
		require.NoError(t, err)
		assert.Len(t, enc, HeaderSize)

		got, err := Decode(enc)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestEncode_UnknownCodec(t *testing.T) {
	_, err := Encode([]byte("x"), Codec(9))
	assert.Error(t, err)
}

func TestDecode_Corrupt(t *testing.T) {
	enc, err := Encode(compressible(), Zstd)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"magic", func(b []byte) []byte { b[0] = 'x'; return b }},
		{"codec", func(b []byte) []byte { b[4] = 7; return b }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-1] }},
		{"raw length", func(b []byte) []byte { b[8]++; return b }},
		{"payload", func(b []byte) []byte {
			for i := HeaderSize; i < len(b); i++ {
				b[i] = 0xff
			}
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), enc...))
			_, err := Decode(b)
			assert.ErrorIs(t, err, ErrCorruptBlob)
		})
	}
}

func TestDecode_CorruptLZ4(t *testing.T) {
	enc, err := Encode(compressible(), LZ4)
	require.NoError(t, err)
	enc[8]++ // raw length

	_, err = Decode(enc)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := pstore.Open(path)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	data := compressible()
	plain, err := Write(tx, []byte("plain"), None)
	require.NoError(t, err)
	packed, err := Write(tx, data, Zstd)
	require.NoError(t, err)

	// Readable before commit through the transaction.
	got, err := Read(tx, packed)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	require.NoError(t, tx.Commit())

	got, err = Read(db, plain)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)

	h, err := Stat(db, packed)
	require.NoError(t, err)
	assert.Equal(t, Zstd, h.Codec)
	assert.Equal(t, uint32(len(data)), h.RawLen)

	// An extent that does not cover the blob exactly is rejected.
	short := pstore.MakeExtent(packed.Addr, packed.Size-1)
	_, err = Read(db, short)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestParseCodec(t *testing.T) {
	for _, c := range []Codec{None, LZ4, Zstd} {
		got, err := ParseCodec(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCodec("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, got)

	_, err = ParseCodec("gzip")
	assert.Error(t, err)
	assert.Equal(t, "Codec(5)", Codec(5).String())
}
