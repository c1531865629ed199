// Package format describes the on-disk layout of an xpack archive: the
// signature, the fixed header, the block and hash record tables, and the
// flags carried by each record. Every multi-byte field is big-endian.
package format

import "fmt"

// Magic identifies a valid archive signature ('\x1A^XPACK\x1A').
const Magic uint64 = 0x1A4B434150585E1A

// Version is the only archive version this package reads and writes.
const Version uint16 = 0x0009

// Alignment is the stride used when searching for a signature inside a
// host file. An archive always starts at a multiple of Alignment.
const Alignment = 0x200

// Record sizes in bytes.
const (
	SignatureSize = 10
	HeaderSize    = 48
	HashSize      = 25
	BlockSize     = 13

	// PrefixSize is where the content arena of an empty archive begins.
	PrefixSize = SignatureSize + HeaderSize
)

// NilIndex terminates a block chain and marks a hash slot with no content.
const NilIndex int32 = -1

// VersionString renders v as "major.minor".
func VersionString(v uint16) string {
	return fmt.Sprintf("%d.%d", (v>>8)&0xff, v&0xff)
}

// AlignOffset rounds off up to the next multiple of Alignment.
func AlignOffset(off int64) int64 {
	if off <= 0 {
		return 0
	}
	return (off + Alignment - 1) / Alignment * Alignment
}

// Codec identifies the compressor used for entries flagged Compressed.
// It is stored in the first reserved byte of the header.
type Codec uint8

const (
	CodecZlib Codec = iota
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecZlib:
		return "zlib"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCodec maps a codec name to its identifier.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zlib", "deflate":
		return CodecZlib, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec: %s", name)
	}
}
