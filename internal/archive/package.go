package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/ossyrian/xpack/internal/codec"
	"github.com/ossyrian/xpack/internal/format"
	"github.com/ossyrian/xpack/internal/stream"
)

// Version returns the archive format version as "major.minor".
func Version() string {
	return format.VersionString(format.Version)
}

// Package is an open archive. A Package is not safe for concurrent use.
type Package struct {
	ctx     *archiveContext
	content *codec.Cipher
	opts    options
	logger  *slog.Logger

	modified bool
	closed   bool
	lastErr  error
}

// EntryInfo describes one entry as stored in the index.
type EntryInfo struct {
	Name         string
	ID           uint32
	CRC          uint32
	Flags        format.HashFlags
	BlockHead    int32
	StoredSize   uint64
	OriginalSize uint32

	// Path holds the ids visited when looking the name up, ending with ID.
	Path []uint32
}

// Stats summarizes the regions of an archive.
type Stats struct {
	Offset        int64
	ArchiveSize   uint32
	ContentSize   uint32
	Blocks        int
	UnusedBlocks  int
	UnusedContent int
	Hashes        int
	Conflicts     int
	Entries       int
	NameSize      uint32
}

// OpenNew starts an empty archive at path. If path already holds data the
// archive is appended at the next aligned offset and the data before it is
// left untouched.
func OpenNew(path string, opts ...Option) (*Package, error) {
	o := newOptions(opts)
	if o.readOnly {
		return nil, fmt.Errorf("%w: cannot create %s read-only", format.ErrReadOnly, path)
	}
	s, err := stream.Create(o.fs, path)
	if err != nil {
		return nil, err
	}
	p, err := newPackage(s, o, path)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := p.initialize(); err != nil {
		s.Close()
		return nil, err
	}
	p.logger.Info("created archive", "offset", p.ctx.base, "codec", o.codec)
	return p, nil
}

// Open opens the archive at path.
func Open(path string, opts ...Option) (*Package, error) {
	o := newOptions(opts)
	s, err := stream.Open(o.fs, path, o.readOnly)
	if err != nil {
		return nil, err
	}
	p, err := openStream(s, o, path)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

// OpenStream opens the archive held in s. The Package takes ownership of
// s and closes it on Close. A read-only stream yields a read-only Package.
func OpenStream(s stream.Stream, opts ...Option) (*Package, error) {
	o := newOptions(opts)
	o.readOnly = o.readOnly || s.ReadOnly()
	return openStream(s, o, s.Name())
}

func newPackage(s stream.Stream, o options, name string) (*Package, error) {
	meta, err := codec.NewCipher(o.metadataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata key: %w", format.ErrFormat, err)
	}
	content, err := codec.NewCipher(o.contentKey)
	if err != nil {
		return nil, fmt.Errorf("%w: content key: %w", format.ErrFormat, err)
	}
	logger := o.logger.With("archive", name)
	return &Package{
		ctx:     newContext(s, meta, o.hash, logger),
		content: content,
		opts:    o,
		logger:  logger,
	}, nil
}

func (p *Package) initialize() error {
	ctx := p.ctx
	size, err := ctx.stream.Size()
	if err != nil {
		return err
	}
	ctx.setAlignedOffset(size)
	ctx.header.SetCodec(p.opts.codec)
	if err := ctx.recompute(); err != nil {
		return err
	}
	if err := ctx.stream.Resize(ctx.base + format.PrefixSize); err != nil {
		return err
	}
	if err := ctx.writePrefix(); err != nil {
		return err
	}
	p.modified = true
	return nil
}

func openStream(s stream.Stream, o options, name string) (*Package, error) {
	p, err := newPackage(s, o, name)
	if err != nil {
		return nil, err
	}
	if err := p.ctx.locate(); err != nil {
		return nil, err
	}
	if err := p.ctx.readMetadata(); err != nil {
		return nil, err
	}
	p.logger.Info("opened archive",
		"offset", p.ctx.base,
		"entries", p.ctx.hashes.Len()-len(p.ctx.hashes.ConflictIDs()),
		"size", p.ctx.header.ArchiveSize,
		"read_only", o.readOnly,
	)
	return p, nil
}

// record keeps the last failure for LastError.
func (p *Package) record(err *error) {
	if *err != nil {
		p.lastErr = *err
	}
}

// LastError returns the most recent error returned by p.
func (p *Package) LastError() error {
	return p.lastErr
}

func (p *Package) checkOpen() error {
	if p.closed {
		return format.ErrClosed
	}
	return nil
}

func (p *Package) checkWritable() error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.opts.readOnly {
		return format.ErrReadOnly
	}
	return nil
}

// ReadOnly reports whether p rejects changes.
func (p *Package) ReadOnly() bool {
	return p.opts.readOnly
}

// Modified reports whether p has changes that are not yet flushed.
func (p *Package) Modified() bool {
	return p.modified
}

// Offset returns where the archive starts inside its stream.
func (p *Package) Offset() int64 {
	return p.ctx.base
}

// Codec returns the compressor used for compressed entries.
func (p *Package) Codec() format.Codec {
	return p.ctx.header.Codec()
}

// AddEntry stores data under name. The checksum is taken over data; the
// stored bytes are then compressed and encrypted as requested.
func (p *Package) AddEntry(name string, data []byte, encrypt, compress bool) (err error) {
	defer p.record(&err)
	if err := p.checkWritable(); err != nil {
		return err
	}
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: entry %s is %d bytes", format.ErrMemory, name, len(data))
	}

	ctx := p.ctx
	nameOff, err := ctx.names.Append(name)
	if err != nil {
		return err
	}
	slot, err := ctx.hashes.AddNew(name)
	if err != nil {
		ctx.names.RemoveSafely(nameOff, uint16(len(name)))
		return err
	}
	slot.NameOffset = nameOff
	slot.NameLength = uint16(len(name))

	if err := p.store(slot, data, encrypt, compress); err != nil {
		if rbErr := ctx.removeEntry(name); rbErr != nil {
			p.logger.Error("failed to roll back entry", "name", name, "error", rbErr)
		}
		return err
	}
	if err := ctx.recompute(); err != nil {
		return err
	}
	p.modified = true

	p.logger.Debug("added entry",
		"name", name,
		"id", slot.ID,
		"size", len(data),
		"flags", slot.Flags,
		"block_head", slot.BlockHead,
	)
	return nil
}

func (p *Package) store(slot *format.HashSlot, data []byte, encrypt, compress bool) error {
	ctx := p.ctx
	slot.CRC = codec.Checksum(data)
	slot.OriginalSize = uint32(len(data))

	payload := data
	if compress {
		packed, err := codec.Compress(ctx.header.Codec(), payload)
		if err != nil {
			return err
		}
		payload = packed
		slot.Flags |= format.HashCompressed
	}
	if encrypt {
		payload = p.content.Copy(payload)
		slot.Flags |= format.HashEncrypted
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: stored entry is %d bytes", format.ErrMemory, len(payload))
	}

	head, err := ctx.blocks.AllocateChain(uint32(len(payload)))
	if err != nil {
		return err
	}
	slot.BlockHead = head
	return ctx.writeChain(head, payload)
}

// removeEntry releases the content chain, then the name, then the index
// slots of name.
func (c *archiveContext) removeEntry(name string) error {
	path, err := c.hashes.walk(name)
	if err != nil {
		return err
	}
	slot := path[len(path)-1]
	if slot.BlockHead != format.NilIndex {
		if err := c.blocks.ReleaseChain(slot.BlockHead); err != nil {
			return err
		}
	}
	c.names.RemoveSafely(slot.NameOffset, slot.NameLength)
	c.hashes.erase(path)
	return c.recompute()
}

// RemoveEntry deletes name. Removing a missing name returns ErrNotExists
// and changes nothing.
func (p *Package) RemoveEntry(name string) (err error) {
	defer p.record(&err)
	if err := p.checkWritable(); err != nil {
		return err
	}
	if err := p.ctx.removeEntry(name); err != nil {
		return err
	}
	p.modified = true
	p.logger.Debug("removed entry", "name", name)
	return nil
}

// Entry returns the original bytes stored under name.
func (p *Package) Entry(name string) (data []byte, err error) {
	defer p.record(&err)
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	slot, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return nil, err
	}
	if slot.BlockHead == format.NilIndex {
		return nil, fmt.Errorf("%w: entry %s has no content", format.ErrFormat, name)
	}

	data, err = p.ctx.readChain(slot.BlockHead)
	if err != nil {
		return nil, err
	}
	if slot.Flags.Has(format.HashEncrypted) {
		p.content.InPlace(data)
	}
	if slot.Flags.Has(format.HashCompressed) {
		data, err = codec.Decompress(p.ctx.header.Codec(), data, int(slot.OriginalSize))
		if err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
		}
	}
	if p.opts.verifyCRC {
		if uint32(len(data)) != slot.OriginalSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", format.ErrCRC, name, len(data), slot.OriginalSize)
		}
		if sum := codec.Checksum(data); sum != slot.CRC {
			return nil, fmt.Errorf("%w: %s has crc %#08x, want %#08x", format.ErrCRC, name, sum, slot.CRC)
		}
	}
	return data, nil
}

// EntrySize returns the number of bytes name occupies in the content arena.
func (p *Package) EntrySize(name string) (size uint64, err error) {
	defer p.record(&err)
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	slot, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return 0, err
	}
	if slot.BlockHead == format.NilIndex {
		return 0, nil
	}
	return p.ctx.blocks.ChainSize(slot.BlockHead)
}

// UnpackedSize returns the original length of name.
func (p *Package) UnpackedSize(name string) (size uint32, err error) {
	defer p.record(&err)
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	slot, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return 0, err
	}
	return slot.OriginalSize, nil
}

// Exists reports whether name is stored.
func (p *Package) Exists(name string) bool {
	if p.closed {
		return false
	}
	_, err := p.ctx.hashes.QueryByName(name)
	return err == nil
}

// Names returns every entry name in sorted order.
func (p *Package) Names() []string {
	if p.closed {
		return nil
	}
	live := p.ctx.hashes.Live()
	names := make([]string, 0, len(live))
	for _, s := range live {
		name, err := p.ctx.names.SlotName(s)
		if err != nil {
			p.logger.Warn("skipping slot with bad name", "id", s.ID, "error", err)
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Range calls fn for every entry name in sorted order until fn returns
// false.
func (p *Package) Range(fn func(name string) bool) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	for _, name := range p.Names() {
		if !fn(name) {
			break
		}
	}
	return nil
}

// Size returns the archive size recorded in the header.
func (p *Package) Size() uint32 {
	return p.ctx.header.ArchiveSize
}

// Info describes the index state of name.
func (p *Package) Info(name string) (info EntryInfo, err error) {
	defer p.record(&err)
	if err := p.checkOpen(); err != nil {
		return EntryInfo{}, err
	}
	slot, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return EntryInfo{}, err
	}
	info = EntryInfo{
		Name:         name,
		ID:           slot.ID,
		CRC:          slot.CRC,
		Flags:        slot.Flags,
		BlockHead:    slot.BlockHead,
		OriginalSize: slot.OriginalSize,
		Path:         p.ctx.hashes.Path(name),
	}
	if slot.BlockHead != format.NilIndex {
		info.StoredSize, err = p.ctx.blocks.ChainSize(slot.BlockHead)
		if err != nil {
			return EntryInfo{}, err
		}
	}
	return info, nil
}

// Stats returns region counters for the current in-memory state.
func (p *Package) Stats() Stats {
	ctx := p.ctx
	conflicts := len(ctx.hashes.ConflictIDs())
	return Stats{
		Offset:        ctx.base,
		ArchiveSize:   ctx.header.ArchiveSize,
		ContentSize:   ctx.header.ContentSize,
		Blocks:        ctx.blocks.Count(),
		UnusedBlocks:  ctx.blocks.UnusedBlocks(),
		UnusedContent: ctx.blocks.UnusedContent(),
		Hashes:        ctx.hashes.Len(),
		Conflicts:     conflicts,
		Entries:       ctx.hashes.Len() - conflicts,
		NameSize:      ctx.names.Size(),
	}
}

// CompactNames rewrites the name blob without the gaps left by removed
// names.
func (p *Package) CompactNames() (err error) {
	defer p.record(&err)
	if err := p.checkWritable(); err != nil {
		return err
	}
	before := p.ctx.names.Size()
	if err := p.ctx.names.Rebuild(p.ctx.hashes.Live()); err != nil {
		return err
	}
	if err := p.ctx.recompute(); err != nil {
		return err
	}
	p.modified = true
	p.logger.Debug("compacted names", "before", before, "after", p.ctx.names.Size())
	return nil
}

// Flush writes staged content, then the header and the tables, and
// finally truncates the stream to the end of the archive when shrinking
// is enabled.
func (p *Package) Flush() (err error) {
	defer p.record(&err)
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.opts.readOnly {
		return nil
	}

	ctx := p.ctx
	if err := ctx.recompute(); err != nil {
		return err
	}
	if err := ctx.flushContent(); err != nil {
		return err
	}
	if err := ctx.writePrefix(); err != nil {
		return err
	}
	if err := ctx.writeTables(); err != nil {
		return err
	}
	if p.opts.shrink {
		if err := ctx.stream.Resize(ctx.base + int64(ctx.header.ArchiveSize)); err != nil {
			return err
		}
	}
	if err := ctx.stream.Flush(); err != nil {
		return err
	}

	p.logger.Debug("flushed archive",
		"size", ctx.header.ArchiveSize,
		"staged", ctx.staged.Len(),
		"blocks", ctx.header.BlockCount,
		"hashes", ctx.header.HashCount,
	)
	ctx.staged.Reset()
	p.modified = false
	return nil
}

// Close flushes pending changes and releases the stream. Closing twice is
// a no-op.
func (p *Package) Close() (err error) {
	if p.closed {
		return nil
	}
	defer p.record(&err)

	var flushErr error
	if p.modified && !p.opts.readOnly {
		flushErr = p.Flush()
	}
	p.closed = true
	return errors.Join(flushErr, p.ctx.stream.Close())
}
