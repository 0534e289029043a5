package btree

import (
	"fmt"

	"minikvstore/internal/page"
)

// Iterator walks an Index's entries in ascending key order by following
// leaf sibling pointers, holding at most one leaf pinned at a time. No
// page latch is held between calls (see newIteratorFrom).
type Iterator struct {
	t        *Index
	data     []byte
	idx      int
	leafID   uint32
	nextLeaf uint32
	done     bool
}

// Begin starts an iterator at the smallest key in the index.
func (t *Index) Begin() (*Iterator, error) {
	return t.newIteratorFrom(func() (*scratchpad, error) {
		return t.findFirstLeaf()
	}, func(*page.LeafNode) int { return 0 })
}

// BeginAt starts an iterator at the first entry with key >= key.
func (t *Index) BeginAt(key uint64) (*Iterator, error) {
	return t.newIteratorFrom(func() (*scratchpad, error) {
		return t.findLeaf(key, modeRead)
	}, func(leaf *page.LeafNode) int {
		idx, _ := page.LeafSearch(leaf, key, t.cmp)
		return idx
	})
}

func (t *Index) newIteratorFrom(descend func() (*scratchpad, error), startIdx func(*page.LeafNode) int) (*Iterator, error) {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()

	if t.rootPageID == page.InvalidPageID {
		return &Iterator{t: t, done: true}, nil
	}

	sp, err := descend()
	if err != nil {
		return nil, err
	}
	leafHeld := sp.pop()
	leaf := page.AsLeaf(leafHeld.data)

	idx := startIdx(leaf)
	leafSize := int(leaf.Header.Size)
	it := &Iterator{t: t, data: leafHeld.data, leafID: leafHeld.id, nextLeaf: leaf.NextPageID}
	// The iterator does not hold a page latch across Next() calls,
	// matching original_source's index iterator; only the pin persists.
	// This diverges from holding a read latch on the current leaf for the
	// whole time an iterator sits on it: a concurrent writer can take the
	// leaf's write latch and mutate Keys/Values between Valid()/Value()
	// calls on this iterator. Acceptable here because iteration snapshots
	// are documented as non-linearizable; a reader wanting isolation must
	// not interleave Insert/Remove with a live iterator.
	if leafHeld.write {
		leafHeld.latch.Unlock()
	} else {
		leafHeld.latch.RUnlock()
	}
	it.idx = idx
	if idx >= leafSize {
		// Every entry of this leaf is below the start key: the first
		// qualifying entry, if any, is at the front of a following leaf.
		it.idx = leafSize - 1
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (t *Index) findFirstLeaf() (*scratchpad, error) {
	sp := &scratchpad{bpm: t.bpm}
	currentID := t.rootPageID
	for {
		data, err := t.bpm.FetchPage(currentID)
		if err != nil {
			sp.releaseAll(false)
			return nil, fmt.Errorf("btree: fetch page %d: %w", currentID, err)
		}
		latch, err := t.bpm.Latch(currentID)
		if err != nil {
			_ = t.bpm.UnpinPage(currentID, false)
			sp.releaseAll(false)
			return nil, fmt.Errorf("btree: latch page %d: %w", currentID, err)
		}
		latch.RLock()
		hp := &heldPage{id: currentID, data: data, latch: latch, write: false}
		sp.held = append(sp.held, hp)

		if page.GetType(data) == page.Leaf {
			sp.releaseAncestors()
			return sp, nil
		}
		internal := page.AsInternal(data)
		sp.releaseAncestors()
		currentID = uint32(internal.Children[0])
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	if it.done {
		return false
	}
	leaf := page.AsLeaf(it.data)
	return it.idx < int(leaf.Header.Size)
}

// Value returns the key and value at the iterator's current position.
// It panics if Valid() is false.
func (it *Iterator) Value() (key, value uint64) {
	leaf := page.AsLeaf(it.data)
	return leaf.Keys[it.idx], leaf.Values[it.idx]
}

// Next advances the iterator, fetching the next leaf via the sibling
// chain when the current one is exhausted.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.idx++
	leaf := page.AsLeaf(it.data)
	if it.idx < int(leaf.Header.Size) {
		return nil
	}

	if err := it.t.bpm.UnpinPage(it.leafID, false); err != nil {
		return err
	}
	if it.nextLeaf == page.InvalidPageID {
		it.done = true
		it.data = nil
		return nil
	}

	data, err := it.t.bpm.FetchPage(it.nextLeaf)
	if err != nil {
		it.done = true
		return fmt.Errorf("btree: fetch next leaf %d: %w", it.nextLeaf, err)
	}
	next := page.AsLeaf(data)
	it.data = data
	it.leafID = it.nextLeaf
	it.nextLeaf = next.NextPageID
	it.idx = 0
	return nil
}

// Close releases the iterator's currently pinned leaf, if any. It must
// be called once the caller is done iterating, including when stopping
// before reaching the end.
func (it *Iterator) Close() error {
	if it.done || it.data == nil {
		return nil
	}
	it.done = true
	return it.t.bpm.UnpinPage(it.leafID, false)
}
