package format

import (
	"encoding/binary"
	"fmt"
)

// Signature opens every archive.
//
// [magic(uint64)][version(uint16)]
type Signature struct {
	Magic   uint64
	Version uint16
}

// NewSignature returns the signature written by this package.
func NewSignature() Signature {
	return Signature{Magic: Magic, Version: Version}
}

// Encode writes s into b, which must hold SignatureSize bytes.
func (s Signature) Encode(b []byte) {
	binary.BigEndian.PutUint64(b[0:8], s.Magic)
	binary.BigEndian.PutUint16(b[8:10], s.Version)
}

// DecodeSignature reads a signature from b.
func DecodeSignature(b []byte) (Signature, error) {
	if len(b) < SignatureSize {
		return Signature{}, fmt.Errorf("%w: short signature: %d bytes", ErrFormat, len(b))
	}
	return Signature{
		Magic:   binary.BigEndian.Uint64(b[0:8]),
		Version: binary.BigEndian.Uint16(b[8:10]),
	}, nil
}

// Validate checks the magic and the version.
func (s Signature) Validate() error {
	if s.Magic != Magic {
		return fmt.Errorf("%w: bad magic: %#016x", ErrFormat, s.Magic)
	}
	if s.Version != Version {
		return fmt.Errorf("%w: bad version: %s, want %s", ErrVersion,
			VersionString(s.Version), VersionString(Version))
	}
	return nil
}

// Header records the size and position of every region. Offsets are
// relative to the archive base.
//
// [archive_size][content_offset][content_size][block_offset][block_count]
// [hash_offset][hash_count][name_size] (uint32 each) [reserved(16)]
type Header struct {
	ArchiveSize   uint32
	ContentOffset uint32
	ContentSize   uint32
	BlockOffset   uint32
	BlockCount    uint32
	HashOffset    uint32
	HashCount     uint32
	NameSize      uint32
	Reserved      [16]byte
}

// Codec returns the content codec recorded in the header.
func (h *Header) Codec() Codec {
	return Codec(h.Reserved[0])
}

// SetCodec records the content codec in the header.
func (h *Header) SetCodec(c Codec) {
	h.Reserved[0] = byte(c)
}

// Encode writes h into b, which must hold HeaderSize bytes.
func (h *Header) Encode(b []byte) {
	be := binary.BigEndian
	be.PutUint32(b[0:4], h.ArchiveSize)
	be.PutUint32(b[4:8], h.ContentOffset)
	be.PutUint32(b[8:12], h.ContentSize)
	be.PutUint32(b[12:16], h.BlockOffset)
	be.PutUint32(b[16:20], h.BlockCount)
	be.PutUint32(b[20:24], h.HashOffset)
	be.PutUint32(b[24:28], h.HashCount)
	be.PutUint32(b[28:32], h.NameSize)
	copy(b[32:48], h.Reserved[:])
}

// DecodeHeader reads a header from b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header: %d bytes", ErrFormat, len(b))
	}
	be := binary.BigEndian
	h := Header{
		ArchiveSize:   be.Uint32(b[0:4]),
		ContentOffset: be.Uint32(b[4:8]),
		ContentSize:   be.Uint32(b[8:12]),
		BlockOffset:   be.Uint32(b[12:16]),
		BlockCount:    be.Uint32(b[16:20]),
		HashOffset:    be.Uint32(b[20:24]),
		HashCount:     be.Uint32(b[24:28]),
		NameSize:      be.Uint32(b[28:32]),
	}
	copy(h.Reserved[:], b[32:48])
	return h, nil
}

// Validate checks that the regions are ordered and fit in ArchiveSize.
func (h *Header) Validate() error {
	if h.ArchiveSize < PrefixSize {
		return fmt.Errorf("%w: archive size %d below minimum %d", ErrFormat, h.ArchiveSize, PrefixSize)
	}
	if h.BlockOffset < h.ContentOffset {
		return fmt.Errorf("%w: block offset %d before content offset %d", ErrFormat, h.BlockOffset, h.ContentOffset)
	}
	if h.HashOffset < h.BlockOffset {
		return fmt.Errorf("%w: hash offset %d before block offset %d", ErrFormat, h.HashOffset, h.BlockOffset)
	}
	regions := uint64(h.BlockCount)*BlockSize + uint64(h.HashCount)*HashSize +
		uint64(h.ContentSize) + uint64(h.NameSize)
	if regions > uint64(h.ArchiveSize) {
		return fmt.Errorf("%w: regions (%d bytes) exceed archive size %d", ErrFormat, regions, h.ArchiveSize)
	}
	if h.Codec() > CodecZstd {
		return fmt.Errorf("%w: unknown codec %d", ErrFormat, h.Reserved[0])
	}
	return nil
}

// HashSlot is one record of the hash index. A live slot describes an
// entry; a conflict slot redirects lookups to H(name, Salt).
//
// [id][crc][block_head][original_size][name_offset] (uint32 each)
// [name_length(uint16)][refcount(uint8)][salt(uint8)][flags(uint8)]
type HashSlot struct {
	ID           uint32
	CRC          uint32
	BlockHead    int32
	OriginalSize uint32
	NameOffset   uint32
	NameLength   uint16
	RefCount     uint8
	Salt         uint8
	Flags        HashFlags
}

// IsConflict reports whether the slot is a conflict marker.
func (s *HashSlot) IsConflict() bool {
	return s.Flags.Has(HashConflict)
}

// Encode writes s into b, which must hold HashSize bytes.
func (s *HashSlot) Encode(b []byte) {
	be := binary.BigEndian
	be.PutUint32(b[0:4], s.ID)
	be.PutUint32(b[4:8], s.CRC)
	be.PutUint32(b[8:12], uint32(s.BlockHead))
	be.PutUint32(b[12:16], s.OriginalSize)
	be.PutUint32(b[16:20], s.NameOffset)
	be.PutUint16(b[20:22], s.NameLength)
	b[22] = s.RefCount
	b[23] = s.Salt
	b[24] = byte(s.Flags)
}

// DecodeHashSlot reads a hash slot from b.
func DecodeHashSlot(b []byte) (HashSlot, error) {
	if len(b) < HashSize {
		return HashSlot{}, fmt.Errorf("%w: short hash record: %d bytes", ErrFormat, len(b))
	}
	be := binary.BigEndian
	return HashSlot{
		ID:           be.Uint32(b[0:4]),
		CRC:          be.Uint32(b[4:8]),
		BlockHead:    int32(be.Uint32(b[8:12])),
		OriginalSize: be.Uint32(b[12:16]),
		NameOffset:   be.Uint32(b[16:20]),
		NameLength:   be.Uint16(b[20:22]),
		RefCount:     b[22],
		Salt:         b[23],
		Flags:        HashFlags(b[24]),
	}, nil
}

// BlockDesc describes one contiguous range of the content arena.
//
// [offset(uint32)][size(uint32)][next(int32)][flags(uint8)]
type BlockDesc struct {
	Offset uint32
	Size   uint32
	Next   int32
	Flags  BlockFlags
}

// End returns the offset just past the described range.
func (d *BlockDesc) End() uint64 {
	return uint64(d.Offset) + uint64(d.Size)
}

// Encode writes d into b, which must hold BlockSize bytes.
func (d *BlockDesc) Encode(b []byte) {
	be := binary.BigEndian
	be.PutUint32(b[0:4], d.Offset)
	be.PutUint32(b[4:8], d.Size)
	be.PutUint32(b[8:12], uint32(d.Next))
	b[12] = byte(d.Flags)
}

// DecodeBlockDesc reads a block descriptor from b.
func DecodeBlockDesc(b []byte) (BlockDesc, error) {
	if len(b) < BlockSize {
		return BlockDesc{}, fmt.Errorf("%w: short block record: %d bytes", ErrFormat, len(b))
	}
	be := binary.BigEndian
	return BlockDesc{
		Offset: be.Uint32(b[0:4]),
		Size:   be.Uint32(b[4:8]),
		Next:   int32(be.Uint32(b[8:12])),
		Flags:  BlockFlags(b[12]),
	}, nil
}
