package archive

import (
	"slices"

	"github.com/ossyrian/xpack/internal/format"
)

// indexSet holds block descriptor indices ordered by cmp. cmp must be a
// total order, so ties are broken by index.
type indexSet struct {
	items []int32
	cmp   func(a, b int32) int
}

func newIndexSet(cmp func(a, b int32) int) *indexSet {
	return &indexSet{cmp: cmp}
}

func (s *indexSet) Len() int {
	return len(s.items)
}

// Insert adds i. Inserting an index already present is a no-op.
func (s *indexSet) Insert(i int32) {
	pos, found := slices.BinarySearchFunc(s.items, i, s.cmp)
	if found {
		return
	}
	s.items = slices.Insert(s.items, pos, i)
}

// Remove deletes i. The sort key of i must not have changed since it was
// inserted.
func (s *indexSet) Remove(i int32) bool {
	pos, found := slices.BinarySearchFunc(s.items, i, s.cmp)
	if !found {
		return false
	}
	s.items = slices.Delete(s.items, pos, pos+1)
	return true
}

func (s *indexSet) Min() (int32, bool) {
	if len(s.items) == 0 {
		return format.NilIndex, false
	}
	return s.items[0], true
}

func (s *indexSet) Max() (int32, bool) {
	if len(s.items) == 0 {
		return format.NilIndex, false
	}
	return s.items[len(s.items)-1], true
}

// Items returns the indices in order. The slice must not be modified.
func (s *indexSet) Items() []int32 {
	return s.items
}

func (s *indexSet) Reset() {
	s.items = s.items[:0]
}
