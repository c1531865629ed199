package archive

import (
	"fmt"
	"slices"

	"github.com/ossyrian/xpack/internal/format"
)

// stagedWrites holds content written since the last flush. Nothing in the
// stream is overwritten until Flush, so a crash loses the staged bytes but
// leaves the last flushed archive intact.
type stagedWrites struct {
	writes []stagedWrite
}

type stagedWrite struct {
	off  uint64
	data []byte
}

func (s *stagedWrites) Add(off uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	s.writes = append(s.writes, stagedWrite{off: off, data: data})
}

func (s *stagedWrites) Len() int {
	return len(s.writes)
}

func (s *stagedWrites) Reset() {
	s.writes = nil
}

// Overlay copies every staged byte that falls in [off, off+len(buf)) into
// buf. Later writes win.
func (s *stagedWrites) Overlay(off uint64, buf []byte) {
	end := off + uint64(len(buf))
	for _, w := range s.writes {
		wend := w.off + uint64(len(w.data))
		lo, hi := max(off, w.off), min(end, wend)
		if lo >= hi {
			continue
		}
		copy(buf[lo-off:hi-off], w.data[lo-w.off:hi-w.off])
	}
}

// readContent reads n content bytes at off. Bytes past the end of the
// stream read as zero before staged writes are applied.
func (c *archiveContext) readContent(off uint64, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	size, err := c.stream.Size()
	if err != nil {
		return nil, err
	}
	abs := c.base + int64(off)
	if abs < size {
		avail := min(int64(n), size-abs)
		if err := c.stream.ReadAt(buf[:avail], abs); err != nil {
			return nil, err
		}
	}
	c.staged.Overlay(off, buf)
	return buf, nil
}

// checkRange verifies that a live descriptor lies inside the content arena.
func (c *archiveContext) checkRange(i int32, d *format.BlockDesc) error {
	if d.Size == 0 {
		return nil
	}
	if uint64(d.Offset) < uint64(c.header.ContentOffset) || d.End() > c.blocks.arenaEnd() {
		return fmt.Errorf("%w: block %d [%d, %d) outside content arena", format.ErrFormat, i, d.Offset, d.End())
	}
	return nil
}

// readChain returns the concatenated bytes of the chain starting at head.
func (c *archiveContext) readChain(head int32) ([]byte, error) {
	chain, err := c.blocks.Chain(head)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, i := range chain {
		d := &c.blocks.descs[i]
		if err := c.checkRange(i, d); err != nil {
			return nil, err
		}
		b, err := c.readContent(uint64(d.Offset), d.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// writeChain stages data across the chain starting at head. The chain
// sizes must sum to len(data).
func (c *archiveContext) writeChain(head int32, data []byte) error {
	chain, err := c.blocks.Chain(head)
	if err != nil {
		return err
	}
	rest := data
	for _, i := range chain {
		d := &c.blocks.descs[i]
		if uint64(d.Size) > uint64(len(rest)) {
			return fmt.Errorf("%w: chain from %d holds more than %d bytes", format.ErrFormat, head, len(data))
		}
		c.staged.Add(uint64(d.Offset), slices.Clone(rest[:d.Size]))
		rest = rest[d.Size:]
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: chain from %d is %d bytes short", format.ErrFormat, head, len(rest))
	}
	return nil
}

// flushContent writes staged content to the stream. Bytes past the end of
// the arena belong to space that was reclaimed after staging and are
// dropped.
func (c *archiveContext) flushContent() error {
	end := c.blocks.arenaEnd()
	for _, w := range c.staged.writes {
		if w.off >= end {
			continue
		}
		data := w.data
		if w.off+uint64(len(data)) > end {
			data = data[:end-w.off]
		}
		if err := c.stream.WriteAt(data, c.base+int64(w.off)); err != nil {
			return fmt.Errorf("failed to write content: %w", err)
		}
	}
	return nil
}
