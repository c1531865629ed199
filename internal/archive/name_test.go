package archive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/xpack/internal/format"
)

func TestNameBlob_Append(t *testing.T) {
	t.Parallel()

	var n nameBlob
	off, err := n.Append("alpha")
	require.NoError(t, err)
	assert.Zero(t, off)

	off, err = n.Append("beta")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), off)
	assert.Equal(t, uint32(9), n.Size())

	name, err := n.Name(5, 4)
	require.NoError(t, err)
	assert.Equal(t, "beta", name)

	_, err = n.Name(7, 4)
	assert.ErrorIs(t, err, format.ErrFormat)

	_, err = n.Append(strings.Repeat("x", 1<<16))
	assert.ErrorIs(t, err, format.ErrMemory)
}

func TestNameBlob_RemoveSafely(t *testing.T) {
	t.Parallel()

	var n nameBlob
	for _, name := range []string{"one", "two", "three"} {
		_, err := n.Append(name)
		require.NoError(t, err)
	}

	assert.False(t, n.RemoveSafely(3, 3), "middle names stay in place")
	assert.Equal(t, uint32(11), n.Size())

	assert.True(t, n.RemoveSafely(6, 5))
	assert.Equal(t, uint32(6), n.Size())

	// "two" is the tail now
	assert.True(t, n.RemoveSafely(3, 3))
	assert.True(t, n.RemoveSafely(0, 3))
	assert.Zero(t, n.Size())
}

func TestNameBlob_ReverseRemovalEmpties(t *testing.T) {
	t.Parallel()

	var n nameBlob
	type span struct {
		off uint32
		len uint16
	}
	var spans []span
	for _, name := range []string{"a", "bb", "ccc", "dddd"} {
		off, err := n.Append(name)
		require.NoError(t, err)
		spans = append(spans, span{off, uint16(len(name))})
	}

	for i := len(spans) - 1; i >= 0; i-- {
		require.True(t, n.RemoveSafely(spans[i].off, spans[i].len))
		assert.Equal(t, spans[i].off, n.Size())
	}
}

func TestNameBlob_Rebuild(t *testing.T) {
	t.Parallel()

	var n nameBlob
	_, _ = n.Append("stale")
	offA, _ := n.Append("aa")
	_, _ = n.Append("gap")
	offB, _ := n.Append("bbb")

	slots := []*format.HashSlot{
		{ID: 9, NameOffset: offA, NameLength: 2},
		{ID: 3, NameOffset: offB, NameLength: 3},
	}
	require.NoError(t, n.Rebuild(slots))

	assert.Equal(t, "bbbaa", string(n.data))
	assert.Equal(t, uint32(3), slots[0].NameOffset)
	assert.Zero(t, slots[1].NameOffset)

	for i, want := range []string{"aa", "bbb"} {
		got, err := n.SlotName(slots[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
