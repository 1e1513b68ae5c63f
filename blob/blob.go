// Package blob stores byte strings in a store transaction, optionally
// compressed with LZ4 or Zstandard.
//
// A stored blob is a 16-byte block header followed by the payload:
//
//	offset 0  : magic "pBlb"
//	offset 4  : codec (u8) and three zero bytes
//	offset 8  : raw length (u32)
//	offset 12 : stored length (u32)
//	offset 16 : payload
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/pstore"
)

// Codec selects the compression applied to a blob payload.
type Codec uint8

const (
	// None stores the payload as is.
	None Codec = 0
	// LZ4 uses LZ4 block compression (fast, good for hot data).
	LZ4 Codec = 1
	// Zstd uses Zstandard (better ratio, good for cold data).
	Zstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ParseCodec maps "none", "lz4" or "zstd" to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("blob: unknown codec %q", s)
}

// HeaderSize is the size of the block header preceding every payload.
const HeaderSize = 16

var magic = [4]byte{'p', 'B', 'l', 'b'}

var (
	// ErrCorruptBlob is returned when a stored blob fails validation.
	ErrCorruptBlob = errors.New("blob: corrupt")
	// ErrTooLarge is returned for blobs whose length does not fit the header.
	ErrTooLarge = errors.New("blob: too large")
)

// Header is the decoded block header of a stored blob.
type Header struct {
	Codec     Codec
	RawLen    uint32
	StoredLen uint32
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// Encode returns the stored form of data: the block header and the
// payload. If compression does not shrink data by at least a tenth the
// payload is stored uncompressed.
func Encode(data []byte, codec Codec) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	var payload []byte
	switch codec {
	case None:
	case LZ4:
		payload = compressLZ4(data)
	case Zstd:
		payload = compressZstd(data)
	default:
		return nil, fmt.Errorf("blob: unknown codec %d", uint8(codec))
	}

	if len(payload) == 0 || float64(len(payload)) > float64(len(data))*0.9 {
		codec, payload = None, data
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	copy(out[0:4], magic[:])
	out[4] = byte(codec)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(payload)))
	return append(out, payload...), nil
}

func compressLZ4(data []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil || n == 0 {
		return nil // incompressible
	}
	return dst[:n]
}

func compressZstd(data []byte) []byte {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

// DecodeHeader validates the block header at the start of b against the
// length of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptBlob, len(b))
	}
	if [4]byte(b[0:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorruptBlob, b[0:4])
	}
	h := Header{
		Codec:     Codec(b[4]),
		RawLen:    binary.LittleEndian.Uint32(b[8:]),
		StoredLen: binary.LittleEndian.Uint32(b[12:]),
	}
	switch {
	case h.Codec > Zstd:
		return Header{}, fmt.Errorf("%w: unknown codec %d", ErrCorruptBlob, uint8(h.Codec))
	case uint64(h.StoredLen) != uint64(len(b)-HeaderSize):
		return Header{}, fmt.Errorf("%w: stored length %d, have %d", ErrCorruptBlob, h.StoredLen, len(b)-HeaderSize)
	case h.Codec == None && h.RawLen != h.StoredLen:
		return Header{}, fmt.Errorf("%w: raw length %d differs from stored length %d", ErrCorruptBlob, h.RawLen, h.StoredLen)
	}
	return h, nil
}

// Decode returns the raw bytes of a stored blob. For uncompressed blobs the
// result aliases b.
func Decode(b []byte) ([]byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	payload := b[HeaderSize:]

	switch h.Codec {
	case LZ4:
		out := make([]byte, h.RawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorruptBlob, err)
		}
		if uint32(n) != h.RawLen {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptBlob, n, h.RawLen)
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, h.RawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptBlob, err)
		}
		if uint32(len(out)) != h.RawLen {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptBlob, len(out), h.RawLen)
		}
		return out, nil
	default:
		return payload, nil
	}
}

// Write stores data in tx and returns the extent of the stored form.
func Write(tx *pstore.Transaction, data []byte, codec Codec) (pstore.Extent[byte], error) {
	enc, err := Encode(data, codec)
	if err != nil {
		return pstore.Extent[byte]{}, err
	}
	return tx.Writer().PutBytes(enc)
}

// Read loads and decodes the blob stored at e. Uncompressed results alias
// the mapped file and must not be modified.
func Read(g pstore.Getter, e pstore.Extent[byte]) ([]byte, error) {
	b, err := pstore.GetBytes(g, e)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Stat returns the block header of the blob stored at e.
func Stat(g pstore.Getter, e pstore.Extent[byte]) (Header, error) {
	b, err := pstore.GetBytes(g, e)
	if err != nil {
		return Header{}, err
	}
	return DecodeHeader(b)
}
