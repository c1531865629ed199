package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/xpack/internal/format"
)

func TestSignature_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sig     format.Signature
		wantErr error
	}{
		{
			name: "current signature",
			sig:  format.NewSignature(),
		},
		{
			name:    "bad magic",
			sig:     format.Signature{Magic: 0x504B0304, Version: format.Version},
			wantErr: format.ErrFormat,
		},
		{
			name:    "newer version",
			sig:     format.Signature{Magic: format.Magic, Version: 0x000A},
			wantErr: format.ErrVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.sig.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignature_EncodeIsBigEndian(t *testing.T) {
	t.Parallel()

	b := make([]byte, format.SignatureSize)
	format.NewSignature().Encode(b)
	assert.Equal(t, []byte{0x1A, 0x4B, 0x43, 0x41, 0x50, 0x58, 0x5E, 0x1A, 0x00, 0x09}, b)

	got, err := format.DecodeSignature(b)
	require.NoError(t, err)
	assert.Equal(t, format.NewSignature(), got)

	_, err = format.DecodeSignature(b[:4])
	assert.ErrorIs(t, err, format.ErrFormat)
}

func TestHeader_Validate(t *testing.T) {
	t.Parallel()

	valid := func() format.Header {
		return format.Header{
			ArchiveSize:   format.PrefixSize + 100 + 2*format.BlockSize + format.HashSize + 5,
			ContentOffset: format.PrefixSize,
			ContentSize:   100,
			BlockOffset:   format.PrefixSize + 100,
			BlockCount:    2,
			HashOffset:    format.PrefixSize + 100 + 2*format.BlockSize,
			HashCount:     1,
			NameSize:      5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(h *format.Header)
		wantErr bool
	}{
		{name: "valid", mutate: func(h *format.Header) {}},
		{name: "archive too small", mutate: func(h *format.Header) { h.ArchiveSize = 10 }, wantErr: true},
		{name: "block before content", mutate: func(h *format.Header) { h.BlockOffset = 1 }, wantErr: true},
		{name: "hash before block", mutate: func(h *format.Header) { h.HashOffset = h.BlockOffset - 1 }, wantErr: true},
		{name: "regions overflow", mutate: func(h *format.Header) { h.HashCount = 1000 }, wantErr: true},
		{name: "unknown codec", mutate: func(h *format.Header) { h.Reserved[0] = 9 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := valid()
			tt.mutate(&h)
			err := h.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, format.ErrFormat)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHashSlot_NegativeBlockHeadSurvivesEncoding(t *testing.T) {
	t.Parallel()

	slot := format.HashSlot{
		ID:         0xDEADBEEF,
		BlockHead:  format.NilIndex,
		NameLength: 0x0102,
		RefCount:   3,
		Salt:       7,
		Flags:      format.HashConflict,
	}
	b := make([]byte, format.HashSize)
	slot.Encode(b)

	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b[0:4])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, b[8:12])

	got, err := format.DecodeHashSlot(b)
	require.NoError(t, err)
	assert.Equal(t, slot, got)
	assert.True(t, got.IsConflict())
}

func TestBlockDesc_End(t *testing.T) {
	t.Parallel()

	d := format.BlockDesc{Offset: 0xFFFFFFF0, Size: 0x20}
	assert.Equal(t, uint64(0x100000010), d.End())
}

func TestAlignOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int64
	}{
		{0, 0},
		{1, 512},
		{511, 512},
		{512, 512},
		{513, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, format.AlignOffset(tt.in), "AlignOffset(%d)", tt.in)
	}
}

func TestHashName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, format.HashName("assets/a.png", 0), format.HashName("assets/a.png", 0))
	assert.NotEqual(t, format.HashName("assets/a.png", 0), format.HashName("assets/a.png", 1))
	assert.NotEqual(t, format.HashName("assets/a.png", 0), format.HashName("assets/b.png", 0))
}

func TestFlags_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", format.HashFlags(0).String())
	assert.Equal(t, "encrypted|compressed", (format.HashEncrypted | format.HashCompressed).String())
	assert.Equal(t, "unused-content", format.BlockUnusedContent.String())
	assert.True(t, (format.BlockNotStart | format.BlockUnusedContent).Has(format.BlockNotStart))
}

func TestParseCodec(t *testing.T) {
	t.Parallel()

	c, err := format.ParseCodec("zstd")
	require.NoError(t, err)
	assert.Equal(t, format.CodecZstd, c)
	assert.Equal(t, "zstd", c.String())

	c, err = format.ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, format.CodecZlib, c)

	_, err = format.ParseCodec("lz4")
	assert.Error(t, err)
}
