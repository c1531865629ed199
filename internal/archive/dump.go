package archive

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"

	"github.com/ossyrian/xpack/internal/format"
)

// The Dump methods print the raw state of each region for debugging. The
// output is meant for people and its layout may change.

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (p *Package) DumpSignature(w io.Writer) error {
	s := p.ctx.signature
	_, err := fmt.Fprintf(w, "signature: magic=%#016x version=%s offset=%d\n",
		s.Magic, format.VersionString(s.Version), p.ctx.base)
	return err
}

func (p *Package) DumpHeader(w io.Writer) error {
	h := p.ctx.header
	tw := newTable(w)
	fmt.Fprintf(tw, "archive_size\t%d\n", h.ArchiveSize)
	fmt.Fprintf(tw, "content_offset\t%d\n", h.ContentOffset)
	fmt.Fprintf(tw, "content_size\t%d\n", h.ContentSize)
	fmt.Fprintf(tw, "block_offset\t%d\n", h.BlockOffset)
	fmt.Fprintf(tw, "block_count\t%d\n", h.BlockCount)
	fmt.Fprintf(tw, "hash_offset\t%d\n", h.HashOffset)
	fmt.Fprintf(tw, "hash_count\t%d\n", h.HashCount)
	fmt.Fprintf(tw, "name_size\t%d\n", h.NameSize)
	fmt.Fprintf(tw, "codec\t%s\n", h.Codec())
	return tw.Flush()
}

// DumpNames prints the name blob with the gaps left by removed names
// shown as they are.
func (p *Package) DumpNames(w io.Writer) error {
	_, err := fmt.Fprintf(w, "names (%d bytes):\n%s", p.ctx.names.Size(), hex.Dump(p.ctx.names.data))
	return err
}

// DumpContent prints size bytes of the content arena starting at off,
// both relative to the start of the arena. A zero size runs to the end of
// the arena.
func (p *Package) DumpContent(w io.Writer, off, size uint32) error {
	h := p.ctx.header
	if off > h.ContentSize {
		return fmt.Errorf("%w: offset %d past content size %d", format.ErrFormat, off, h.ContentSize)
	}
	if size == 0 || uint64(off)+uint64(size) > uint64(h.ContentSize) {
		size = h.ContentSize - off
	}
	b, err := p.ctx.readContent(uint64(h.ContentOffset)+uint64(off), size)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "content [%d, %d):\n%s", off, off+size, hex.Dump(b))
	return err
}

func writeBlockRow(tw io.Writer, i int32, d *format.BlockDesc) {
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", i, d.Offset, d.Size, d.Next, d.Flags)
}

func blockTableHeader(tw io.Writer) {
	fmt.Fprintln(tw, "INDEX\tOFFSET\tSIZE\tNEXT\tFLAGS")
}

// DumpBlocks prints the block table. Unused descriptors are included only
// when unused is set.
func (p *Package) DumpBlocks(w io.Writer, unused bool) error {
	tw := newTable(w)
	blockTableHeader(tw)
	for i := range p.ctx.blocks.descs {
		d := &p.ctx.blocks.descs[i]
		if !unused && (d.Flags.Has(format.BlockUnusedBlock) || d.Flags.Has(format.BlockUnusedContent)) {
			continue
		}
		writeBlockRow(tw, int32(i), d)
	}
	return tw.Flush()
}

func (p *Package) DumpBlock(w io.Writer, index int32) error {
	d, err := p.ctx.blocks.Get(index)
	if err != nil {
		return err
	}
	tw := newTable(w)
	blockTableHeader(tw)
	writeBlockRow(tw, index, d)
	return tw.Flush()
}

// DumpChain prints the block chain of name.
func (p *Package) DumpChain(w io.Writer, name string) error {
	slot, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return err
	}
	chain, err := p.ctx.blocks.Chain(slot.BlockHead)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s\n", name, formatChain(chain))
	tw := newTable(w)
	blockTableHeader(tw)
	for _, i := range chain {
		writeBlockRow(tw, i, &p.ctx.blocks.descs[i])
	}
	return tw.Flush()
}

// DumpChains prints the chain of every entry.
func (p *Package) DumpChains(w io.Writer) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSTORED\tCHAIN")
	for _, s := range p.ctx.hashes.Live() {
		name, err := p.ctx.names.SlotName(s)
		if err != nil {
			return err
		}
		chain, err := p.ctx.blocks.Chain(s.BlockHead)
		if err != nil {
			return err
		}
		size, _ := p.ctx.blocks.ChainSize(s.BlockHead)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, size, formatChain(chain))
	}
	return tw.Flush()
}

func formatChain(chain []int32) string {
	return strings.Join(lo.Map(chain, func(i int32, _ int) string {
		return strconv.Itoa(int(i))
	}), " -> ")
}

func (p *Package) DumpUnusedBlocks(w io.Writer) error {
	tw := newTable(w)
	blockTableHeader(tw)
	for _, i := range p.ctx.blocks.free.Items() {
		writeBlockRow(tw, i, &p.ctx.blocks.descs[i])
	}
	return tw.Flush()
}

// DumpUnusedContent prints the free content ranges, smallest first.
func (p *Package) DumpUnusedContent(w io.Writer) error {
	tw := newTable(w)
	blockTableHeader(tw)
	for _, i := range p.ctx.blocks.bySize.Items() {
		writeBlockRow(tw, i, &p.ctx.blocks.descs[i])
	}
	return tw.Flush()
}

func hashTableHeader(tw io.Writer) {
	fmt.Fprintln(tw, "ID\tCRC\tHEAD\tSIZE\tREFC\tSALT\tFLAGS\tNAME")
}

func (p *Package) writeHashRow(tw io.Writer, s *format.HashSlot) {
	name := ""
	if !s.IsConflict() {
		if n, err := p.ctx.names.SlotName(s); err == nil {
			name = n
		} else {
			name = "<bad name>"
		}
	}
	fmt.Fprintf(tw, "%#08x\t%#08x\t%d\t%d\t%d\t%d\t%s\t%s\n",
		s.ID, s.CRC, s.BlockHead, s.OriginalSize, s.RefCount, s.Salt, s.Flags, name)
}

// DumpHashes prints every hash slot in id order.
func (p *Package) DumpHashes(w io.Writer) error {
	tw := newTable(w)
	hashTableHeader(tw)
	for _, id := range p.ctx.hashes.IDs() {
		s, _ := p.ctx.hashes.Get(id)
		p.writeHashRow(tw, s)
	}
	return tw.Flush()
}

func (p *Package) DumpHashByID(w io.Writer, id uint32) error {
	s, ok := p.ctx.hashes.Get(id)
	if !ok {
		return fmt.Errorf("%w: hash id %#08x", format.ErrNotExists, id)
	}
	tw := newTable(w)
	hashTableHeader(tw)
	p.writeHashRow(tw, s)
	return tw.Flush()
}

func (p *Package) DumpHashByName(w io.Writer, name string) error {
	s, err := p.ctx.hashes.QueryByName(name)
	if err != nil {
		return err
	}
	tw := newTable(w)
	hashTableHeader(tw)
	p.writeHashRow(tw, s)
	return tw.Flush()
}

// DumpConflicts prints every conflict slot.
func (p *Package) DumpConflicts(w io.Writer) error {
	tw := newTable(w)
	hashTableHeader(tw)
	for _, id := range p.ctx.hashes.ConflictIDs() {
		s, _ := p.ctx.hashes.Get(id)
		p.writeHashRow(tw, s)
	}
	return tw.Flush()
}

// DumpHashPath prints the slots visited when looking up name.
func (p *Package) DumpHashPath(w io.Writer, name string) error {
	tw := newTable(w)
	hashTableHeader(tw)
	for _, id := range p.ctx.hashes.Path(name) {
		s, ok := p.ctx.hashes.Get(id)
		if !ok {
			fmt.Fprintf(tw, "%#08x\t-\t-\t-\t-\t-\tmissing\t\n", id)
			continue
		}
		p.writeHashRow(tw, s)
	}
	return tw.Flush()
}
