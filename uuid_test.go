package pstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	const s = "84949cc5-4701-4a84-895b-354c584a981b"

	u, err := ParseUUID(s)
	require.NoError(t, err)
	assert.Equal(t, s, u.String())
	assert.Equal(t, byte(0x84), u[0])
	assert.Equal(t, byte(0x1b), u[15])
	assert.Equal(t, 4, u.Version())
	assert.Equal(t, VariantRFC4122, u.Variant())
	assert.False(t, u.IsNull())

	upper, err := ParseUUID("84949CC5-4701-4A84-895B-354C584A981B")
	require.NoError(t, err)
	assert.Equal(t, u, upper)
}

func TestParseUUID_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "84949cc5-4701-4a84-895b-354c584a981"},
		{"long", "84949cc5-4701-4a84-895b-354c584a981bb"},
		{"braced", "{84949cc5-4701-4a84-895b-354c584a981b}"},
		{"urn", "urn:uuid:84949cc5-4701-4a84-895b-354c584a981b"},
		{"no dashes", "84949cc547014a84895b354c584a981b"},
		{"misplaced dash", "84949cc54-701-4a84-895b-354c584a981b"},
		{"non-hex", "x4949cc5-4701-4a84-895b-354c584a981b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUUID(tt.input)
			assert.ErrorIs(t, err, ErrUUIDParse)
		})
	}
}

func TestNewUUID(t *testing.T) {
	a, err := NewUUID()
	require.NoError(t, err)
	b, err := NewUUID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 4, a.Version())
	assert.Equal(t, VariantRFC4122, a.Variant())
	assert.Len(t, a.String(), UUIDStringLength)
}

func TestUUID_Variant(t *testing.T) {
	tests := []struct {
		octet byte
		want  Variant
	}{
		{0x00, VariantNCS},
		{0x7f, VariantNCS},
		{0x80, VariantRFC4122},
		{0xbf, VariantRFC4122},
		{0xc0, VariantMicrosoft},
		{0xdf, VariantMicrosoft},
		{0xe0, VariantFuture},
		{0xff, VariantFuture},
	}
	for _, tt := range tests {
		var u UUID
		u[8] = tt.octet
		assert.Equal(t, tt.want, u.Variant(), "octet %#x", tt.octet)
	}
	assert.Equal(t, "rfc4122", VariantRFC4122.String())
}

func TestUUID_Text(t *testing.T) {
	u, err := NewUUID()
	require.NoError(t, err)

	text, err := u.MarshalText()
	require.NoError(t, err)

	var got UUID
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, u, got)

	assert.ErrorIs(t, got.UnmarshalText([]byte("nope")), ErrUUIDParse)
	assert.True(t, UUID{}.IsNull())
}
