package archive

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ossyrian/xpack/internal/format"
)

// maxHops bounds every walk along a conflict chain. A salt is a byte, so a
// well-formed chain never needs more.
const maxHops = 256

// hashIndex maps name ids to slots. Colliding names are separated by
// conflict slots that send lookups on to H(name, salt).
type hashIndex struct {
	slots map[uint32]*format.HashSlot
	hash  format.HashFunc
	names *nameBlob

	// salt is the last salt handed out.
	salt uint8
}

func newHashIndex(hash format.HashFunc, names *nameBlob) *hashIndex {
	return &hashIndex{
		slots: make(map[uint32]*format.HashSlot),
		hash:  hash,
		names: names,
	}
}

func (h *hashIndex) load(slots []format.HashSlot) error {
	h.slots = make(map[uint32]*format.HashSlot, len(slots))
	h.salt = 0
	for i := range slots {
		s := &slots[i]
		if s.Flags.Has(format.HashUnused) {
			continue
		}
		if _, dup := h.slots[s.ID]; dup {
			return fmt.Errorf("%w: duplicate hash id %#08x", format.ErrFormat, s.ID)
		}
		if s.IsConflict() && s.BlockHead != format.NilIndex {
			return fmt.Errorf("%w: conflict slot %#08x has content", format.ErrFormat, s.ID)
		}
		h.slots[s.ID] = s
		h.salt = max(h.salt, s.Salt)
	}
	return nil
}

func (h *hashIndex) Len() int {
	return len(h.slots)
}

// Get returns the slot with the given id.
func (h *hashIndex) Get(id uint32) (*format.HashSlot, bool) {
	s, ok := h.slots[id]
	return s, ok
}

// IDs returns every slot id in ascending order.
func (h *hashIndex) IDs() []uint32 {
	return slices.Sorted(maps.Keys(h.slots))
}

// Live returns the entry slots, skipping conflict slots, in id order.
func (h *hashIndex) Live() []*format.HashSlot {
	var live []*format.HashSlot
	for _, id := range h.IDs() {
		if s := h.slots[id]; !s.IsConflict() {
			live = append(live, s)
		}
	}
	return live
}

// walk follows the chain for name from seed 0 and returns every slot it
// visits. The last slot is the only one that is not a conflict slot.
func (h *hashIndex) walk(name string) ([]*format.HashSlot, error) {
	var path []*format.HashSlot
	id := h.hash(name, 0)
	for range maxHops {
		s, ok := h.slots[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", format.ErrNotExists, name)
		}
		path = append(path, s)
		if !s.IsConflict() {
			stored, err := h.names.SlotName(s)
			if err != nil {
				return nil, err
			}
			if stored != name {
				return nil, fmt.Errorf("%w: %s", format.ErrNotExists, name)
			}
			return path, nil
		}
		id = h.hash(name, s.Salt)
	}
	return nil, fmt.Errorf("%w: conflict chain for %q exceeds %d hops", format.ErrFormat, name, maxHops)
}

// QueryByName returns the live slot holding name.
func (h *hashIndex) QueryByName(name string) (*format.HashSlot, error) {
	path, err := h.walk(name)
	if err != nil {
		return nil, err
	}
	return path[len(path)-1], nil
}

// Path returns the ids visited when looking up name, whether or not the
// name is present.
func (h *hashIndex) Path(name string) []uint32 {
	var ids []uint32
	id := h.hash(name, 0)
	for range maxHops {
		ids = append(ids, id)
		s, ok := h.slots[id]
		if !ok || !s.IsConflict() {
			break
		}
		id = h.hash(name, s.Salt)
	}
	return ids
}

// ConflictIDs returns the ids of every conflict slot in ascending order.
func (h *hashIndex) ConflictIDs() []uint32 {
	var ids []uint32
	for _, id := range h.IDs() {
		if h.slots[id].IsConflict() {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddNew creates an empty slot for name. A failed insert leaves the index
// as it was.
func (h *hashIndex) AddNew(name string) (*format.HashSlot, error) {
	if _, err := h.QueryByName(name); err == nil {
		return nil, fmt.Errorf("%w: %s", format.ErrAlreadyExists, name)
	} else if !errors.Is(err, format.ErrNotExists) {
		return nil, err
	}
	undo := h.newUndo()
	s, err := h.insertAt(name, 0, 0, undo)
	if err != nil {
		h.rollback(undo)
		return nil, err
	}
	return s, nil
}

// undoLog holds the value each slot had before an insert first touched
// it. A nil value marks a slot the insert created.
type undoLog struct {
	salt  uint8
	saved map[uint32]*format.HashSlot
}

func (h *hashIndex) newUndo() *undoLog {
	return &undoLog{salt: h.salt, saved: make(map[uint32]*format.HashSlot)}
}

func (h *hashIndex) touch(undo *undoLog, id uint32) {
	if _, seen := undo.saved[id]; seen {
		return
	}
	var prior *format.HashSlot
	if s, ok := h.slots[id]; ok {
		v := *s
		prior = &v
	}
	undo.saved[id] = prior
}

func (h *hashIndex) rollback(undo *undoLog) {
	for id, prior := range undo.saved {
		if prior == nil {
			delete(h.slots, id)
			continue
		}
		*h.slots[id] = *prior
	}
	h.salt = undo.salt
}

func (h *hashIndex) insertAt(name string, seed uint8, depth int, undo *undoLog) (*format.HashSlot, error) {
	if depth >= maxHops {
		return nil, fmt.Errorf("%w: conflict chain for %q exceeds %d hops", format.ErrFormat, name, maxHops)
	}

	id := h.hash(name, seed)
	h.touch(undo, id)
	s, ok := h.slots[id]
	if !ok {
		s = &format.HashSlot{ID: id, BlockHead: format.NilIndex}
		h.slots[id] = s
		return s, nil
	}

	if s.IsConflict() {
		s.RefCount++
		return h.insertAt(name, s.Salt, depth+1, undo)
	}

	// s holds another entry; move it down a new salt and leave a
	// conflict slot behind.
	occupant, err := h.names.SlotName(s)
	if err != nil {
		return nil, err
	}
	salt, err := h.nextSalt(id, occupant, name)
	if err != nil {
		return nil, err
	}
	moved, err := h.insertAt(occupant, salt, depth+1, undo)
	if err != nil {
		return nil, err
	}
	movedID := moved.ID
	*moved = *s
	moved.ID = movedID

	*s = format.HashSlot{
		ID:        id,
		BlockHead: format.NilIndex,
		RefCount:  2,
		Salt:      salt,
		Flags:     format.HashConflict,
	}
	return h.insertAt(name, salt, depth+1, undo)
}

// nextSalt advances the salt counter, wrapping from 255 to 1, and skips
// any salt that would hash either name back to id.
func (h *hashIndex) nextSalt(id uint32, a, b string) (uint8, error) {
	for range 255 {
		h.salt++
		if h.salt == 0 {
			h.salt = 1
		}
		if h.hash(a, h.salt) != id && h.hash(b, h.salt) != id {
			return h.salt, nil
		}
	}
	return 0, fmt.Errorf("%w: no salt separates %q from %q", format.ErrFormat, a, b)
}

// RemoveByName drops name from the index.
func (h *hashIndex) RemoveByName(name string) error {
	path, err := h.walk(name)
	if err != nil {
		return err
	}
	h.erase(path)
	return nil
}

// erase releases a path returned by walk. Every conflict slot on it loses
// one reference and is deleted once it has none left to give.
func (h *hashIndex) erase(path []*format.HashSlot) {
	for _, s := range path {
		if s.RefCount <= 1 {
			delete(h.slots, s.ID)
			continue
		}
		s.RefCount--
	}
}

func (h *hashIndex) encode() []byte {
	ids := h.IDs()
	b := make([]byte, len(ids)*format.HashSize)
	for i, id := range ids {
		h.slots[id].Encode(b[i*format.HashSize:])
	}
	return b
}

func decodeHashes(b []byte, count uint32) ([]format.HashSlot, error) {
	if uint64(len(b)) < uint64(count)*format.HashSize {
		return nil, fmt.Errorf("%w: hash table holds %d bytes, want %d records", format.ErrFormat, len(b), count)
	}
	slots := make([]format.HashSlot, count)
	for i := range slots {
		s, err := format.DecodeHashSlot(b[i*format.HashSize:])
		if err != nil {
			return nil, err
		}
		slots[i] = s
	}
	return slots, nil
}
