package format

import "strings"

// HashFlags describe the state of a hash index slot.
type HashFlags uint8

const (
	// HashUnused marks an erased slot.
	HashUnused HashFlags = 1 << iota
	// HashConflict marks a slot that redirects lookups through its salt.
	HashConflict
	// HashEncrypted marks entry content run through the content cipher.
	HashEncrypted
	// HashCompressed marks entry content run through the codec.
	HashCompressed
)

// Has reports whether all bits of f are set.
func (h HashFlags) Has(f HashFlags) bool {
	return h&f == f
}

func (h HashFlags) String() string {
	return joinFlags(uint8(h), []string{"unused", "conflict", "encrypted", "compressed"})
}

// BlockFlags describe the state of a block descriptor.
type BlockFlags uint8

const (
	// BlockUnusedContent marks a descriptor whose byte range is free but
	// whose offset and size are kept for reuse.
	BlockUnusedContent BlockFlags = 1 << iota
	// BlockUnusedBlock marks a descriptor slot that is entirely free.
	BlockUnusedBlock
	// BlockNotStart marks a descriptor that is not the head of its chain.
	BlockNotStart
)

// Has reports whether all bits of f are set.
func (b BlockFlags) Has(f BlockFlags) bool {
	return b&f == f
}

func (b BlockFlags) String() string {
	return joinFlags(uint8(b), []string{"unused-content", "unused-block", "not-start"})
}

func joinFlags(v uint8, names []string) string {
	if v == 0 {
		return "-"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
