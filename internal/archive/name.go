package archive

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/ossyrian/xpack/internal/format"
)

// nameBlob is the concatenation of every entry name. Slots refer to their
// name by offset and length.
type nameBlob struct {
	data []byte
}

func (n *nameBlob) Size() uint32 {
	return uint32(len(n.data))
}

// Append adds name to the end of the blob and returns its offset.
func (n *nameBlob) Append(name string) (uint32, error) {
	if len(name) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: name is %d bytes, limit is %d", format.ErrMemory, len(name), math.MaxUint16)
	}
	if uint64(len(n.data))+uint64(len(name)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: name blob is full", format.ErrMemory)
	}
	off := uint32(len(n.data))
	n.data = append(n.data, name...)
	return off, nil
}

// Name returns the name stored at [off, off+length).
func (n *nameBlob) Name(off uint32, length uint16) (string, error) {
	end := uint64(off) + uint64(length)
	if end > uint64(len(n.data)) {
		return "", fmt.Errorf("%w: name range [%d, %d) outside blob of %d bytes", format.ErrFormat, off, end, len(n.data))
	}
	return string(n.data[off:end]), nil
}

// SlotName returns the name of a live slot.
func (n *nameBlob) SlotName(s *format.HashSlot) (string, error) {
	return n.Name(s.NameOffset, s.NameLength)
}

// RemoveSafely drops [off, off+length) when it is the tail of the blob.
// Any other range is left in place so that no other offset moves.
func (n *nameBlob) RemoveSafely(off uint32, length uint16) bool {
	if uint64(off) > uint64(len(n.data)) || uint64(off)+uint64(length) < uint64(len(n.data)) {
		return false
	}
	n.data = n.data[:off]
	return true
}

// Rebuild packs the names of slots into a fresh blob, in slot id order,
// and rewrites each slot's offset.
func (n *nameBlob) Rebuild(slots []*format.HashSlot) error {
	slots = slices.Clone(slots)
	slices.SortFunc(slots, func(a, b *format.HashSlot) int {
		return cmp.Compare(a.ID, b.ID)
	})

	var fresh []byte
	offsets := make([]uint32, len(slots))
	for i, s := range slots {
		name, err := n.SlotName(s)
		if err != nil {
			return err
		}
		offsets[i] = uint32(len(fresh))
		fresh = append(fresh, name...)
	}
	for i, s := range slots {
		s.NameOffset = offsets[i]
	}
	n.data = fresh
	return nil
}
