package archive

import (
	"fmt"
	"math"
	"slices"

	"github.com/ossyrian/xpack/internal/format"
)

// recompute derives the header from the current sizes of the regions. It
// runs after every structural change.
func (c *archiveContext) recompute() error {
	h := &c.header
	blockBytes := uint64(c.blocks.Count()) * format.BlockSize
	hashBytes := uint64(c.hashes.Len()) * format.HashSize
	nameBytes := uint64(c.names.Size())

	contentEnd := uint64(h.ContentOffset) + uint64(h.ContentSize)
	total := contentEnd + blockBytes + hashBytes + nameBytes
	if total > math.MaxUint32 {
		return fmt.Errorf("%w: archive would be %d bytes", format.ErrMemory, total)
	}

	h.BlockCount = uint32(c.blocks.Count())
	h.HashCount = uint32(c.hashes.Len())
	h.NameSize = uint32(nameBytes)
	h.BlockOffset = uint32(contentEnd)
	h.HashOffset = uint32(contentEnd + blockBytes)
	h.ArchiveSize = uint32(total)
	return nil
}

func (c *archiveContext) nameOffset() uint64 {
	return uint64(c.header.HashOffset) + uint64(c.header.HashCount)*format.HashSize
}

// locate scans the stream in aligned strides for a signature and sets the
// base offset to the first match.
func (c *archiveContext) locate() error {
	size, err := c.stream.Size()
	if err != nil {
		return err
	}
	buf := make([]byte, format.SignatureSize)
	for off := int64(0); off+format.SignatureSize <= size; off += format.Alignment {
		if err := c.stream.ReadAt(buf, off); err != nil {
			return err
		}
		sig, err := format.DecodeSignature(buf)
		if err != nil {
			return err
		}
		if sig.Magic != format.Magic {
			continue
		}
		if err := sig.Validate(); err != nil {
			return err
		}
		c.base = off
		c.signature = sig
		if off > 0 {
			c.logger.Warn("archive found inside host file", "offset", off)
		}
		return nil
	}
	return fmt.Errorf("%w: no signature in %d bytes", format.ErrFormat, size)
}

// readRegion reads and decrypts n bytes of metadata at off.
func (c *archiveContext) readRegion(off, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if err := c.stream.ReadAt(b, c.base+int64(off)); err != nil {
		return nil, err
	}
	c.meta.InPlace(b)
	return b, nil
}

// readMetadata loads the header and the three tables that follow the
// content arena. The signature must already be located.
func (c *archiveContext) readMetadata() error {
	size, err := c.stream.Size()
	if err != nil {
		return err
	}

	hb, err := c.readRegion(format.SignatureSize, format.HeaderSize)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	h, err := format.DecodeHeader(hb)
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if h.ContentOffset < format.PrefixSize {
		return fmt.Errorf("%w: content offset %d inside header", format.ErrFormat, h.ContentOffset)
	}
	if c.base+int64(h.ArchiveSize) > size {
		return fmt.Errorf("%w: archive needs %d bytes at %d, stream has %d", format.ErrFormat, h.ArchiveSize, c.base, size)
	}
	c.header = h

	bb, err := c.readRegion(uint64(h.BlockOffset), uint64(h.BlockCount)*format.BlockSize)
	if err != nil {
		return fmt.Errorf("failed to read block table: %w", err)
	}
	descs, err := decodeBlocks(bb, h.BlockCount)
	if err != nil {
		return err
	}
	if err := c.blocks.load(descs); err != nil {
		return err
	}

	sb, err := c.readRegion(uint64(h.HashOffset), uint64(h.HashCount)*format.HashSize)
	if err != nil {
		return fmt.Errorf("failed to read hash table: %w", err)
	}
	slots, err := decodeHashes(sb, h.HashCount)
	if err != nil {
		return err
	}

	nb, err := c.readRegion(c.nameOffset(), uint64(h.NameSize))
	if err != nil {
		return fmt.Errorf("failed to read name blob: %w", err)
	}
	c.names.data = nb

	if err := c.hashes.load(slots); err != nil {
		return err
	}
	return nil
}

// writePrefix writes the signature and the encrypted header.
func (c *archiveContext) writePrefix() error {
	b := make([]byte, format.PrefixSize)
	c.signature.Encode(b[:format.SignatureSize])
	c.header.Encode(b[format.SignatureSize:])
	c.meta.InPlace(b[format.SignatureSize:])
	if err := c.stream.WriteAt(b, c.base); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// writeTables writes the block table, the hash table and the name blob,
// each encrypted on its own.
func (c *archiveContext) writeTables() error {
	regions := []struct {
		name string
		off  uint64
		data []byte
	}{
		{"block table", uint64(c.header.BlockOffset), c.blocks.encode()},
		{"hash table", uint64(c.header.HashOffset), c.hashes.encode()},
		{"name blob", c.nameOffset(), slices.Clone(c.names.data)},
	}
	for _, r := range regions {
		c.meta.InPlace(r.data)
		if err := c.stream.WriteAt(r.data, c.base+int64(r.off)); err != nil {
			return fmt.Errorf("failed to write %s: %w", r.name, err)
		}
	}
	return nil
}
