package archive

import (
	"cmp"
	"fmt"
	"math"

	"github.com/ossyrian/xpack/internal/format"
)

// blockTable is the descriptor table of the content arena together with
// its free pools.
//
// Free byte ranges stay attached to their UnusedContent descriptors and
// are tracked twice: by size for best-fit allocation and by offset for
// tail compaction. Fully free descriptor slots are tracked by index and
// reused lowest first, so trailing slots can be dropped from the table.
type blockTable struct {
	header *format.Header
	descs  []format.BlockDesc

	bySize   *indexSet
	byOffset *indexSet
	free     *indexSet
}

func newBlockTable(header *format.Header) *blockTable {
	t := &blockTable{header: header}
	t.bySize = newIndexSet(func(a, b int32) int {
		da, db := &t.descs[a], &t.descs[b]
		return cmp.Or(cmp.Compare(da.Size, db.Size), cmp.Compare(da.Offset, db.Offset), cmp.Compare(a, b))
	})
	t.byOffset = newIndexSet(func(a, b int32) int {
		da, db := &t.descs[a], &t.descs[b]
		return cmp.Or(cmp.Compare(da.Offset, db.Offset), cmp.Compare(a, b))
	})
	t.free = newIndexSet(cmp.Compare[int32])
	return t
}

// load replaces the table with descs and rebuilds the pools from the
// descriptor flags.
func (t *blockTable) load(descs []format.BlockDesc) error {
	if len(descs) > math.MaxInt32 {
		return fmt.Errorf("%w: too many block descriptors: %d", format.ErrFormat, len(descs))
	}
	t.descs = descs
	t.bySize.Reset()
	t.byOffset.Reset()
	t.free.Reset()

	arenaEnd := t.arenaEnd()
	for i := range t.descs {
		d := &t.descs[i]
		if d.Flags.Has(format.BlockUnusedContent) && d.Flags.Has(format.BlockUnusedBlock) {
			return fmt.Errorf("%w: block %d is both unused content and unused block", format.ErrFormat, i)
		}
		switch {
		case d.Flags.Has(format.BlockUnusedBlock):
			t.free.Insert(int32(i))
		case d.Flags.Has(format.BlockUnusedContent):
			if d.Size == 0 {
				*d = format.BlockDesc{Next: format.NilIndex, Flags: format.BlockUnusedBlock}
				t.free.Insert(int32(i))
				continue
			}
			if uint64(d.Offset) < uint64(t.header.ContentOffset) || d.End() > arenaEnd {
				return fmt.Errorf("%w: free block %d [%d, %d) outside content arena", format.ErrFormat, i, d.Offset, d.End())
			}
			t.bySize.Insert(int32(i))
			t.byOffset.Insert(int32(i))
		}
	}
	return nil
}

func (t *blockTable) arenaEnd() uint64 {
	return uint64(t.header.ContentOffset) + uint64(t.header.ContentSize)
}

// Count returns the number of descriptors, including unused ones.
func (t *blockTable) Count() int {
	return len(t.descs)
}

// UnusedBlocks returns the number of fully free descriptor slots.
func (t *blockTable) UnusedBlocks() int {
	return t.free.Len()
}

// UnusedContent returns the number of free byte ranges awaiting reuse.
func (t *blockTable) UnusedContent() int {
	return t.bySize.Len()
}

// Get returns descriptor i.
func (t *blockTable) Get(i int32) (*format.BlockDesc, error) {
	if i < 0 || int(i) >= len(t.descs) {
		return nil, fmt.Errorf("%w: block index %d out of range [0, %d)", format.ErrFormat, i, len(t.descs))
	}
	return &t.descs[i], nil
}

// Chain returns the descriptor indices of the chain starting at head.
func (t *blockTable) Chain(head int32) ([]int32, error) {
	var chain []int32
	for i := head; i != format.NilIndex; {
		if len(chain) >= len(t.descs) {
			return nil, fmt.Errorf("%w: block chain from %d does not terminate", format.ErrFormat, head)
		}
		d, err := t.Get(i)
		if err != nil {
			return nil, err
		}
		if d.Flags.Has(format.BlockUnusedBlock) || d.Flags.Has(format.BlockUnusedContent) {
			return nil, fmt.Errorf("%w: block chain from %d reaches unused block %d", format.ErrFormat, head, i)
		}
		chain = append(chain, i)
		i = d.Next
	}
	return chain, nil
}

// ChainSize returns the sum of the descriptor sizes along the chain.
func (t *blockTable) ChainSize(head int32) (uint64, error) {
	chain, err := t.Chain(head)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, i := range chain {
		total += uint64(t.descs[i].Size)
	}
	return total, nil
}

// getOrCreate returns a descriptor slot for a new chain member, reusing
// the lowest free slot when there is one.
func (t *blockTable) getOrCreate() (int32, error) {
	if i, ok := t.free.Min(); ok {
		t.free.Remove(i)
		t.descs[i] = format.BlockDesc{Next: format.NilIndex}
		return i, nil
	}
	if len(t.descs) >= math.MaxInt32 {
		return format.NilIndex, fmt.Errorf("%w: block table is full", format.ErrMemory)
	}
	t.descs = append(t.descs, format.BlockDesc{Next: format.NilIndex})
	return int32(len(t.descs) - 1), nil
}

func (t *blockTable) removeContent(i int32) {
	t.bySize.Remove(i)
	t.byOffset.Remove(i)
}

func (t *blockTable) insertContent(i int32) {
	t.bySize.Insert(i)
	t.byOffset.Insert(i)
}

// AllocateChain returns the head of a new chain whose sizes sum to size.
// Free ranges are consumed smallest first; whatever they cannot cover is
// appended to the end of the content arena.
func (t *blockTable) AllocateChain(size uint32) (int32, error) {
	if size == 0 {
		return t.getOrCreate()
	}
	if uint64(t.header.ContentSize)+uint64(size) > math.MaxUint32 {
		return format.NilIndex, fmt.Errorf("%w: content arena cannot grow by %d bytes", format.ErrMemory, size)
	}

	var chain []int32
	remaining := size
	for remaining > 0 {
		i, ok := t.bySize.Min()
		if !ok {
			break
		}
		t.removeContent(i)
		d := &t.descs[i]
		if d.Size > remaining {
			// keep the front, free the rest
			leftOffset, leftSize := d.Offset+remaining, d.Size-remaining
			d.Size = remaining
			j, err := t.getOrCreate()
			if err != nil {
				return format.NilIndex, err
			}
			t.descs[j] = format.BlockDesc{
				Offset: leftOffset,
				Size:   leftSize,
				Next:   format.NilIndex,
				Flags:  format.BlockUnusedContent,
			}
			t.insertContent(j)
		}
		remaining -= t.descs[i].Size
		chain = append(chain, i)
	}

	if remaining > 0 {
		i, err := t.getOrCreate()
		if err != nil {
			return format.NilIndex, err
		}
		t.descs[i].Offset = uint32(t.arenaEnd())
		t.descs[i].Size = remaining
		t.header.ContentSize += remaining
		chain = append(chain, i)
	}

	for n, i := range chain {
		d := &t.descs[i]
		d.Flags = 0
		if n > 0 {
			d.Flags = format.BlockNotStart
		}
		d.Next = format.NilIndex
		if n+1 < len(chain) {
			d.Next = chain[n+1]
		}
	}
	return chain[0], nil
}

// ReleaseChain frees every descriptor of the chain starting at head and
// then reclaims whatever free space has become the tail of the arena and
// of the descriptor table.
func (t *blockTable) ReleaseChain(head int32) error {
	chain, err := t.Chain(head)
	if err != nil {
		return err
	}
	for _, i := range chain {
		d := &t.descs[i]
		d.Next = format.NilIndex
		if d.Size == 0 {
			*d = format.BlockDesc{Next: format.NilIndex, Flags: format.BlockUnusedBlock}
			t.free.Insert(i)
			continue
		}
		d.Flags = format.BlockUnusedContent
		t.insertContent(i)
	}
	t.compact()
	return nil
}

func (t *blockTable) compact() {
	for {
		i, ok := t.byOffset.Max()
		if !ok || t.descs[i].End() != t.arenaEnd() {
			break
		}
		t.removeContent(i)
		t.header.ContentSize -= t.descs[i].Size
		t.descs[i] = format.BlockDesc{Next: format.NilIndex, Flags: format.BlockUnusedBlock}
		t.free.Insert(i)
	}
	for {
		i, ok := t.free.Max()
		if !ok || int(i) != len(t.descs)-1 {
			break
		}
		t.free.Remove(i)
		t.descs = t.descs[:i]
	}
}

func (t *blockTable) encode() []byte {
	b := make([]byte, len(t.descs)*format.BlockSize)
	for i := range t.descs {
		t.descs[i].Encode(b[i*format.BlockSize:])
	}
	return b
}

func decodeBlocks(b []byte, count uint32) ([]format.BlockDesc, error) {
	if uint64(len(b)) < uint64(count)*format.BlockSize {
		return nil, fmt.Errorf("%w: block table holds %d bytes, want %d records", format.ErrFormat, len(b), count)
	}
	descs := make([]format.BlockDesc, count)
	for i := range descs {
		d, err := format.DecodeBlockDesc(b[i*format.BlockSize:])
		if err != nil {
			return nil, err
		}
		descs[i] = d
	}
	return descs, nil
}
