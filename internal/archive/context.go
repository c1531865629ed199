// Package archive implements the xpack archive engine: the header, the
// block allocator, the hash index and the name blob, and the Package that
// keeps them consistent on top of a byte stream.
package archive

import (
	"log/slog"

	"github.com/ossyrian/xpack/internal/codec"
	"github.com/ossyrian/xpack/internal/format"
	"github.com/ossyrian/xpack/internal/stream"
)

// archiveContext owns everything one open archive needs: the stream, the
// base offset of the archive inside it, the metadata cipher, the name hash
// and the in-memory regions.
type archiveContext struct {
	stream stream.Stream
	logger *slog.Logger

	// base is where the signature starts in the stream. Every offset in
	// the header and the block table is relative to it.
	base int64

	meta *codec.Cipher

	signature format.Signature
	header    format.Header
	blocks    *blockTable
	hashes    *hashIndex
	names     *nameBlob
	staged    *stagedWrites
}

func newContext(s stream.Stream, meta *codec.Cipher, hash format.HashFunc, logger *slog.Logger) *archiveContext {
	ctx := &archiveContext{
		stream:    s,
		logger:    logger,
		meta:      meta,
		signature: format.NewSignature(),
		names:     &nameBlob{},
		staged:    &stagedWrites{},
	}
	ctx.header = emptyHeader()
	ctx.blocks = newBlockTable(&ctx.header)
	ctx.hashes = newHashIndex(hash, ctx.names)
	return ctx
}

func emptyHeader() format.Header {
	return format.Header{
		ArchiveSize:   format.PrefixSize,
		ContentOffset: format.PrefixSize,
		BlockOffset:   format.PrefixSize,
		HashOffset:    format.PrefixSize,
	}
}

// setAlignedOffset places the archive at the first aligned offset at or
// after off.
func (c *archiveContext) setAlignedOffset(off int64) {
	c.base = format.AlignOffset(off)
}
