package archive_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/xpack/internal/archive"
	"github.com/ossyrian/xpack/internal/format"
)

func TestDump(t *testing.T) {
	t.Parallel()

	fs := newTestFs(t)
	p := createArchive(t, fs, "dump.xp", archive.WithHashFunc(collideAll))
	defer p.Close()
	require.NoError(t, p.AddEntry("n1", []byte("first entry"), false, false))
	require.NoError(t, p.AddEntry("n2", []byte("second"), true, false))
	require.NoError(t, p.AddEntry("n3", []byte("third"), false, false))
	require.NoError(t, p.RemoveEntry("n2"))

	dump := func(fn func(*bytes.Buffer) error) string {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, fn(&buf))
		return buf.String()
	}

	out := dump(func(b *bytes.Buffer) error { return p.DumpSignature(b) })
	assert.Contains(t, out, "version=0.9")

	out = dump(func(b *bytes.Buffer) error { return p.DumpHeader(b) })
	assert.Contains(t, out, "content_size")
	assert.Contains(t, out, "zlib")

	out = dump(func(b *bytes.Buffer) error { return p.DumpNames(b) })
	assert.Contains(t, out, "names (6 bytes)")

	out = dump(func(b *bytes.Buffer) error { return p.DumpContent(b, 0, 5) })
	assert.Contains(t, out, "content [0, 5)")
	assert.Contains(t, out, "first")

	out = dump(func(b *bytes.Buffer) error { return p.DumpBlocks(b, false) })
	assert.NotContains(t, out, "unused-content")
	out = dump(func(b *bytes.Buffer) error { return p.DumpBlocks(b, true) })
	assert.Contains(t, out, "unused-content")

	out = dump(func(b *bytes.Buffer) error { return p.DumpUnusedContent(b) })
	assert.Equal(t, 2, strings.Count(out, "\n"))

	out = dump(func(b *bytes.Buffer) error { return p.DumpUnusedBlocks(b) })
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out = dump(func(b *bytes.Buffer) error { return p.DumpChains(b) })
	assert.Contains(t, out, "n1")
	assert.Contains(t, out, "n3")
	assert.NotContains(t, out, "n2")

	out = dump(func(b *bytes.Buffer) error { return p.DumpHashes(b) })
	assert.Contains(t, out, "conflict")

	out = dump(func(b *bytes.Buffer) error { return p.DumpConflicts(b) })
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.Contains(t, out, "0x00000a")

	out = dump(func(b *bytes.Buffer) error { return p.DumpHashByName(b, "n3") })
	assert.Contains(t, out, "n3")

	out = dump(func(b *bytes.Buffer) error { return p.DumpHashPath(b, "n3") })
	assert.Equal(t, 3, strings.Count(out, "\n"))

	info, err := p.Info("n1")
	require.NoError(t, err)
	out = dump(func(b *bytes.Buffer) error { return p.DumpHashByID(b, info.ID) })
	assert.Contains(t, out, "n1")

	out = dump(func(b *bytes.Buffer) error { return p.DumpBlock(b, info.BlockHead) })
	assert.Equal(t, 2, strings.Count(out, "\n"))

	var buf bytes.Buffer
	assert.ErrorIs(t, p.DumpBlock(&buf, 99), format.ErrFormat)
	assert.ErrorIs(t, p.DumpHashByID(&buf, 12345), format.ErrNotExists)
	assert.ErrorIs(t, p.DumpChain(&buf, "n2"), format.ErrNotExists)
	assert.ErrorIs(t, p.DumpContent(&buf, 1<<20, 0), format.ErrFormat)
}
