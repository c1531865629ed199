package archive

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/xpack/internal/format"
)

// collideAll sends every name to id 10 at seed 0 and spreads them by
// their last byte at any other seed.
func collideAll(name string, seed uint8) uint32 {
	if seed == 0 {
		return 10
	}
	return uint32(seed)*100 + uint32(name[len(name)-1])
}

// tableHash returns ids from table, keyed "name/seed", and falls back to
// collideAll's spreading rule.
func tableHash(table map[string]uint32) format.HashFunc {
	return func(name string, seed uint8) uint32 {
		if id, ok := table[fmt.Sprintf("%s/%d", name, seed)]; ok {
			return id
		}
		return uint32(seed)*100 + uint32(name[len(name)-1])
	}
}

func newTestIndex(hash format.HashFunc) *hashIndex {
	return newHashIndex(hash, &nameBlob{})
}

func addName(t *testing.T, h *hashIndex, name string) *format.HashSlot {
	t.Helper()
	off, err := h.names.Append(name)
	require.NoError(t, err)
	s, err := h.AddNew(name)
	require.NoError(t, err)
	s.NameOffset = off
	s.NameLength = uint16(len(name))
	return s
}

func refCount(t *testing.T, h *hashIndex, id uint32) uint8 {
	t.Helper()
	s, ok := h.Get(id)
	require.True(t, ok, "slot %d", id)
	return s.RefCount
}

func TestHashIndex_NoCollision(t *testing.T) {
	t.Parallel()

	h := newTestIndex(format.HashName)
	names := []string{"name1", "name2", "name3", "name4", "name5"}
	for _, name := range names {
		addName(t, h, name)
	}
	assert.Equal(t, len(names), h.Len())
	assert.Empty(t, h.ConflictIDs())

	for _, name := range names {
		s, err := h.QueryByName(name)
		require.NoError(t, err)
		assert.Equal(t, format.HashName(name, 0), s.ID)
	}

	_, err := h.AddNew("name3")
	assert.ErrorIs(t, err, format.ErrAlreadyExists)

	_, err = h.QueryByName("name6")
	assert.ErrorIs(t, err, format.ErrNotExists)
}

func TestHashIndex_ThreeWayCollision(t *testing.T) {
	t.Parallel()

	h := newTestIndex(collideAll)
	names := []string{"n1", "n2", "n3"}
	for _, name := range names {
		addName(t, h, name)
	}

	assert.Equal(t, 4, h.Len())
	assert.Equal(t, []uint32{10}, h.ConflictIDs())
	marker, _ := h.Get(10)
	assert.Equal(t, uint8(3), marker.RefCount)
	assert.Equal(t, uint8(1), marker.Salt)
	assert.Equal(t, format.NilIndex, marker.BlockHead)

	for _, name := range names {
		s, err := h.QueryByName(name)
		require.NoError(t, err)
		stored, err := h.names.SlotName(s)
		require.NoError(t, err)
		assert.Equal(t, name, stored)
		assert.Equal(t, collideAll(name, 1), s.ID)
		assert.Equal(t, []uint32{10, s.ID}, h.Path(name))
	}
}

func TestHashIndex_RemoveInAnyOrder(t *testing.T) {
	t.Parallel()

	orders := [][]string{
		{"n1", "n2", "n3"},
		{"n1", "n3", "n2"},
		{"n2", "n1", "n3"},
		{"n2", "n3", "n1"},
		{"n3", "n1", "n2"},
		{"n3", "n2", "n1"},
	}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			t.Parallel()

			h := newTestIndex(collideAll)
			for _, name := range []string{"n1", "n2", "n3"} {
				addName(t, h, name)
			}

			for i, name := range order {
				require.NoError(t, h.RemoveByName(name))
				_, err := h.QueryByName(name)
				assert.ErrorIs(t, err, format.ErrNotExists)

				left := len(order) - i - 1
				if left == 0 {
					break
				}
				assert.Equal(t, left+1, h.Len())
				assert.Equal(t, uint8(left), refCount(t, h, 10))
				for _, rest := range order[i+1:] {
					_, err := h.QueryByName(rest)
					require.NoError(t, err, rest)
				}
			}

			assert.Zero(t, h.Len())
			_, ok := h.Get(10)
			assert.False(t, ok)
		})
	}
}

func snapshot(h *hashIndex) map[uint32]format.HashSlot {
	out := make(map[uint32]format.HashSlot, h.Len())
	for id, s := range h.slots {
		out[id] = *s
	}
	return out
}

func TestHashIndex_FailedInsertRollsBack(t *testing.T) {
	t.Parallel()

	// a and c share id 11 at every salt, so no salt can separate them
	h := newTestIndex(func(name string, seed uint8) uint32 {
		switch {
		case seed == 0:
			return 10
		case name == "b":
			return 12
		default:
			return 11
		}
	})
	addName(t, h, "a")
	addName(t, h, "b")
	require.Equal(t, uint8(2), refCount(t, h, 10))
	before := snapshot(h)

	_, err := h.AddNew("c")
	require.ErrorIs(t, err, format.ErrFormat)

	assert.Equal(t, before, snapshot(h))
	assert.Equal(t, uint8(1), h.salt)

	require.NoError(t, h.RemoveByName("a"))
	require.NoError(t, h.RemoveByName("b"))
	assert.Zero(t, h.Len())
}

func TestHashIndex_TooDeepInsertRollsBack(t *testing.T) {
	t.Parallel()

	// x and y land on the same id at every seed and can never be separated
	h := newTestIndex(func(_ string, seed uint8) uint32 {
		return 10 + uint32(seed)
	})
	addName(t, h, "x")
	before := snapshot(h)

	_, err := h.AddNew("y")
	require.ErrorIs(t, err, format.ErrFormat)

	assert.Equal(t, before, snapshot(h))
	assert.Zero(t, h.salt)
	assert.Empty(t, h.ConflictIDs())

	_, err = h.QueryByName("x")
	require.NoError(t, err)
	require.NoError(t, h.RemoveByName("x"))
	assert.Zero(t, h.Len())
}

func TestHashIndex_DuplicateInCollision(t *testing.T) {
	t.Parallel()

	h := newTestIndex(collideAll)
	for _, name := range []string{"n1", "n2", "n3"} {
		addName(t, h, name)
	}
	_, err := h.AddNew("n3")
	assert.ErrorIs(t, err, format.ErrAlreadyExists)
	assert.Equal(t, 4, h.Len())
	assert.Equal(t, uint8(3), refCount(t, h, 10))
}

func TestHashIndex_ChainedConflicts(t *testing.T) {
	t.Parallel()

	// a9 and b9 collide at 9; b9 then lands on 7, which c7 wants too
	h := newTestIndex(tableHash(map[string]uint32{
		"a9/0": 9,
		"b9/0": 9,
		"b9/1": 7,
		"c7/0": 7,
	}))
	for _, name := range []string{"a9", "b9", "c7"} {
		addName(t, h, name)
	}

	assert.Equal(t, 5, h.Len())
	assert.Equal(t, []uint32{7, 9}, h.ConflictIDs())
	assert.Equal(t, uint8(2), refCount(t, h, 9))
	assert.Equal(t, uint8(2), refCount(t, h, 7))
	assert.Equal(t, []uint32{9, 7, 257}, h.Path("b9"))

	for _, name := range []string{"a9", "b9", "c7"} {
		s, err := h.QueryByName(name)
		require.NoError(t, err)
		stored, _ := h.names.SlotName(s)
		assert.Equal(t, name, stored)
	}

	require.NoError(t, h.RemoveByName("a9"))
	assert.Equal(t, 4, h.Len())
	assert.Equal(t, uint8(1), refCount(t, h, 9))
	assert.Equal(t, uint8(2), refCount(t, h, 7))

	require.NoError(t, h.RemoveByName("b9"))
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, uint8(1), refCount(t, h, 7))

	require.NoError(t, h.RemoveByName("c7"))
	assert.Zero(t, h.Len())
}

func TestHashIndex_SaltSkipsConflictedID(t *testing.T) {
	t.Parallel()

	// salt 1 would send p straight back to 5
	h := newTestIndex(tableHash(map[string]uint32{
		"p/0": 5,
		"q/0": 5,
		"p/1": 5,
	}))
	addName(t, h, "p")
	addName(t, h, "q")

	marker, ok := h.Get(5)
	require.True(t, ok)
	assert.True(t, marker.IsConflict())
	assert.Equal(t, uint8(2), marker.Salt)

	for _, name := range []string{"p", "q"} {
		_, err := h.QueryByName(name)
		assert.NoError(t, err)
	}
}

func TestHashIndex_SaltWraps(t *testing.T) {
	t.Parallel()

	h := newTestIndex(collideAll)
	h.salt = 255
	addName(t, h, "n1")
	addName(t, h, "n2")

	marker, _ := h.Get(10)
	assert.Equal(t, uint8(1), marker.Salt)
}

func TestHashIndex_LoadSeedsSalt(t *testing.T) {
	t.Parallel()

	h := newTestIndex(collideAll)
	require.NoError(t, h.load([]format.HashSlot{
		{ID: 10, BlockHead: format.NilIndex, RefCount: 2, Salt: 7, Flags: format.HashConflict},
		{ID: 3, BlockHead: format.NilIndex, Flags: format.HashUnused},
	}))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, uint8(7), h.salt)

	salt, err := h.nextSalt(10, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, uint8(8), salt)
}

func TestHashIndex_LoadRejectsBadSlots(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		slots []format.HashSlot
	}{
		{
			name:  "duplicate id",
			slots: []format.HashSlot{{ID: 1, BlockHead: 0}, {ID: 1, BlockHead: 1}},
		},
		{
			name:  "conflict with content",
			slots: []format.HashSlot{{ID: 1, BlockHead: 0, Flags: format.HashConflict}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newTestIndex(collideAll)
			assert.ErrorIs(t, h.load(tt.slots), format.ErrFormat)
		})
	}
}

func TestHashIndex_ChainLoopIsBounded(t *testing.T) {
	t.Parallel()

	h := newTestIndex(func(string, uint8) uint32 { return 1 })
	require.NoError(t, h.load([]format.HashSlot{
		{ID: 1, BlockHead: format.NilIndex, RefCount: 2, Salt: 1, Flags: format.HashConflict},
	}))

	_, err := h.QueryByName("x")
	assert.ErrorIs(t, err, format.ErrFormat)
	assert.Len(t, h.Path("x"), maxHops)
}

func TestHashIndex_EncodeSortedByID(t *testing.T) {
	t.Parallel()

	h := newTestIndex(collideAll)
	for _, name := range []string{"n3", "n1", "n2"} {
		addName(t, h, name)
	}

	slots, err := decodeHashes(h.encode(), uint32(h.Len()))
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1].ID, slots[i].ID)
	}

	reloaded := newHashIndex(collideAll, h.names)
	require.NoError(t, reloaded.load(slots))
	for _, name := range []string{"n1", "n2", "n3"} {
		_, err := reloaded.QueryByName(name)
		assert.NoError(t, err)
	}
}
