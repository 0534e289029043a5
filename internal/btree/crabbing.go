package btree

import (
	"fmt"
	"sync"

	"minikvstore/internal/buffer"
	"minikvstore/internal/page"
)

type mode int

const (
	modeRead mode = iota
	modeInsert
	modeDelete
)

// heldPage is one entry of a scratchpad: a page this operation has
// pinned and latched, plus the index at which it was reached as a child
// of its immediate parent (-1 for the root), so a split or merge knows
// exactly where in the parent to act.
type heldPage struct {
	id               uint32
	data             []byte
	latch            *sync.RWMutex
	write            bool
	childIdxInParent int
}

func (h *heldPage) unlock() {
	if h.write {
		h.latch.Unlock()
	} else {
		h.latch.RUnlock()
	}
}

// scratchpad is the per-operation latch stack built by descending from
// the root: every page still pinned and latched because it might yet be
// needed for split/merge propagation back up the tree. The Index's own
// rootLatch, held by the caller for the operation's whole duration, is
// this scratchpad's BEFORE_ROOT entry — it serializes anything that
// could replace the root pointer itself, which a page-level latch on
// the root page's content cannot do since the pointer lives in the
// Index, not on any page.
type scratchpad struct {
	bpm  *buffer.PoolManager
	held []*heldPage
}

func (sp *scratchpad) pop() *heldPage {
	if len(sp.held) == 0 {
		return nil
	}
	last := sp.held[len(sp.held)-1]
	sp.held = sp.held[:len(sp.held)-1]
	return last
}

func (sp *scratchpad) release(h *heldPage, dirty bool) {
	h.unlock()
	_ = sp.bpm.UnpinPage(h.id, dirty)
}

func (sp *scratchpad) releaseAll(dirty bool) {
	for {
		h := sp.pop()
		if h == nil {
			return
		}
		sp.release(h, dirty)
	}
}

// releaseAncestors drops every held page except the one most recently
// appended, called once that page is proven safe for the operation in
// progress: a split or merge can no longer reach past it.
func (sp *scratchpad) releaseAncestors() {
	if len(sp.held) <= 1 {
		return
	}
	keep := sp.held[len(sp.held)-1]
	for _, h := range sp.held[:len(sp.held)-1] {
		sp.release(h, false)
	}
	sp.held = []*heldPage{keep}
}

func isSafeInternal(n *page.InternalNode, m mode) bool {
	switch m {
	case modeInsert:
		return int(n.Header.Size) < int(n.Header.MaxSize)
	case modeDelete:
		return int(n.Header.Size) > int(page.MinSize(n.Header.MaxSize))
	default:
		return true
	}
}

func isSafeLeaf(n *page.LeafNode, m mode) bool {
	switch m {
	case modeInsert:
		return int(n.Header.Size) < int(n.Header.MaxSize)
	case modeDelete:
		return int(n.Header.Size) > int(page.MinSize(n.Header.MaxSize))
	default:
		return true
	}
}

// findLeaf descends from the root to the leaf that should contain key.
// In modeRead it latches hand-over-hand, releasing a parent as soon as
// its child is latched. In modeInsert/modeDelete it keeps write latches
// until a node is proven safe for the operation, at which point every
// ancestor held so far is released since a split or merge can never
// reach back past it. The caller must already hold Index.rootLatch in
// the mode-appropriate direction, and must fully drain the returned
// scratchpad (every entry unlatched and unpinned) before returning.
func (t *Index) findLeaf(key uint64, m mode) (*scratchpad, error) {
	sp := &scratchpad{bpm: t.bpm}
	currentID := t.rootPageID
	childIdx := -1

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
		write := m != modeRead
		if write {
			latch.Lock()
		} else {
			latch.RLock()
		}
		hp := &heldPage{id: currentID, data: data, latch: latch, write: write, childIdxInParent: childIdx}
		sp.held = append(sp.held, hp)

		if page.GetType(data) == page.Leaf {
			if !write || isSafeLeaf(page.AsLeaf(data), m) {
				sp.releaseAncestors()
			}
			return sp, nil
		}

		internal := page.AsInternal(data)
		if !write || isSafeInternal(internal, m) {
			sp.releaseAncestors()
		}

		next := page.InternalSearch(internal, key, t.cmp)
		childIdx = next
		currentID = uint32(internal.Children[next])
	}
}

// fetchSibling pins and write-latches a sibling page for borrow/merge
// rebalancing, which always runs inside an operation that already holds
// the Index's rootLatch, so no further ancestor bookkeeping is needed.
func (t *Index) fetchSibling(id uint32) ([]byte, *sync.RWMutex, error) {
	data, err := t.bpm.FetchPage(id)
	if err != nil {
		return nil, nil, err
	}
	latch, err := t.bpm.Latch(id)
	if err != nil {
		_ = t.bpm.UnpinPage(id, false)
		return nil, nil, err
	}
	latch.Lock()
	return data, latch, nil
}

func (t *Index) releaseSibling(id uint32, latch *sync.RWMutex, dirty bool) {
	latch.Unlock()
	_ = t.bpm.UnpinPage(id, dirty)
}

// releaseSurvivingChild releases a rebalanced child that was not merged
// away: its content changed (a borrow, or it absorbed a sibling), so it
// is unpinned dirty.
func (t *Index) releaseSurvivingChild(childHeld *heldPage) error {
	childHeld.unlock()
	return t.bpm.UnpinPage(childHeld.id, true)
}

// releaseAbsorbedChild releases a child that was just merged into its
// left sibling and must now be deallocated. It must be unpinned before
// DeletePage will accept it.
func (t *Index) releaseAbsorbedChild(childHeld *heldPage) error {
	childHeld.unlock()
	if err := t.bpm.UnpinPage(childHeld.id, false); err != nil {
		return err
	}
	return t.bpm.DeletePage(childHeld.id)
}

// allocateAndLatchNode reserves a fresh page and write-latches it before
// any other operation can observe it, mirroring the pin-then-latch
// ordering findLeaf uses for existing pages.
func (t *Index) allocateAndLatchNode() (uint32, []byte, *sync.RWMutex, error) {
	id, data, err := t.bpm.NewPage()
	if err != nil {
		return 0, nil, nil, err
	}
	latch, err := t.bpm.Latch(id)
	if err != nil {
		_ = t.bpm.UnpinPage(id, false)
		return 0, nil, nil, err
	}
	latch.Lock()
	return id, data, latch, nil
}
