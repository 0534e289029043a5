// Package btree implements a disk-backed, latch-crabbed B+Tree index
// over uint64 keys and values: point lookup, ordered range iteration,
// and insert/delete with split and borrow/merge rebalancing, all pinned
// through a shared buffer.PoolManager.
package btree

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"minikvstore/internal/buffer"
	"minikvstore/internal/page"
)

var ErrKeyNotFound = errors.New("btree: key not found")

// Options configures an Index's key ordering and the operative page
// capacities used to size splits and merges. Leaving LeafMaxSize/
// InternalMaxSize at zero defaults to one less than the hardware page
// capacity; tests set them much lower to exercise splitting without
// needing thousands of keys.
type Options struct {
	Comparator      page.Comparator
	LeafMaxSize     uint32
	InternalMaxSize uint32
}

// fillDefaults reserves one slot of headroom below the hardware array
// capacity: insertIntoLeaf/insertIntoInternal write the overflow entry
// into the packed array before the caller checks Size>MaxSize and
// splits, so MaxSize must never reach the array's true length or that
// write runs out of bounds.
func (o *Options) fillDefaults() {
	if o.Comparator == nil {
		o.Comparator = page.DefaultComparator
	}
	if o.LeafMaxSize == 0 {
		o.LeafMaxSize = page.MaxLeafKeys - 1
	} else if o.LeafMaxSize >= page.MaxLeafKeys {
		o.LeafMaxSize = page.MaxLeafKeys - 1
	}
	if o.InternalMaxSize == 0 {
		o.InternalMaxSize = page.MaxInternalKeys - 1
	} else if o.InternalMaxSize >= page.MaxInternalKeys {
		o.InternalMaxSize = page.MaxInternalKeys - 1
	}
}

// Index is one named B+Tree over bpm's shared page space. rootLatch is
// the operation-wide BEFORE_ROOT sentinel: every Insert/Remove holds it
// for the whole call, since it is the only thing that can change where
// the root pointer itself points; reads and iteration only need to read
// it once at the start of a descent.
type Index struct {
	bpm  *buffer.PoolManager
	name string
	cmp  page.Comparator

	rootLatch  sync.RWMutex
	rootPageID uint32

	leafMaxSize     uint32
	internalMaxSize uint32
}

// CreateIndex registers a brand-new empty named index in bpm's header
// page. It fails if name is already registered.
func CreateIndex(bpm *buffer.PoolManager, name string, opts Options) (*Index, error) {
	opts.fillDefaults()
	records, err := readHeaderRecords(bpm)
	if err != nil {
		return nil, err
	}
	if _, exists := records[name]; exists {
		return nil, fmt.Errorf("btree: index %q already exists", name)
	}

	t := &Index{
		bpm: bpm, name: name, cmp: opts.Comparator,
		rootPageID:      page.InvalidPageID,
		leafMaxSize:     opts.LeafMaxSize,
		internalMaxSize: opts.InternalMaxSize,
	}
	if err := t.persistRoot(); err != nil {
		return nil, err
	}
	log.Printf("btree: created index %q", name)
	return t, nil
}

// OpenIndex loads an existing named index's root page id from bpm's
// header page.
func OpenIndex(bpm *buffer.PoolManager, name string, opts Options) (*Index, error) {
	opts.fillDefaults()
	records, err := readHeaderRecords(bpm)
	if err != nil {
		return nil, err
	}
	rootID, ok := records[name]
	if !ok {
		return nil, fmt.Errorf("btree: index %q not found", name)
	}
	return &Index{
		bpm: bpm, name: name, cmp: opts.Comparator,
		rootPageID:      rootID,
		leafMaxSize:     opts.LeafMaxSize,
		internalMaxSize: opts.InternalMaxSize,
	}, nil
}

// GetRootPageID returns the index's current root page id, or
// page.InvalidPageID if the index is empty.
func (t *Index) GetRootPageID() uint32 {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootPageID
}

// IsEmpty reports whether the index holds no entries.
func (t *Index) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootPageID == page.InvalidPageID
}

// GetValue performs a point lookup, latch-crabbing read-only down to the
// leaf that would contain key.
func (t *Index) GetValue(key uint64) (uint64, error) {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()

	if t.rootPageID == page.InvalidPageID {
		return 0, ErrKeyNotFound
	}
	sp, err := t.findLeaf(key, modeRead)
	if err != nil {
		return 0, err
	}
	leafHeld := sp.pop()
	leaf := page.AsLeaf(leafHeld.data)
	idx, found := page.LeafSearch(leaf, key, t.cmp)
	var value uint64
	if found {
		value = leaf.Values[idx]
	}
	sp.release(leafHeld, false)
	if !found {
		return 0, ErrKeyNotFound
	}
	return value, nil
}

// Insert adds (key, value), overwriting any existing value for key, and
// splits nodes up the path as needed.
func (t *Index) Insert(key, value uint64) error {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()

	if t.rootPageID == page.InvalidPageID {
		return t.insertIntoEmptyTree(key, value)
	}

	sp, err := t.findLeaf(key, modeInsert)
	if err != nil {
		return err
	}

	leafHeld := sp.pop()
	leaf := page.AsLeaf(leafHeld.data)
	if insertIntoLeaf(leaf, key, value, t.cmp) {
		sp.release(leafHeld, true)
		sp.releaseAll(false)
		return nil
	}
	if int(leaf.Header.Size) <= int(leaf.Header.MaxSize) {
		sp.release(leafHeld, true)
		sp.releaseAll(false)
		return nil
	}

	rightID, rightData, rightLatch, err := t.allocateAndLatchNode()
	if err != nil {
		sp.release(leafHeld, true)
		sp.releaseAll(false)
		return fmt.Errorf("btree: allocate split leaf: %w", err)
	}
	right := page.InitLeaf(rightData, rightID, leaf.Header.MaxSize)
	promotedKey := splitLeaf(leaf, right)

	leftChildID := leafHeld.id
	childIdxInParent := leafHeld.childIdxInParent
	sp.release(leafHeld, true)
	rightLatch.Unlock()
	if err := t.bpm.UnpinPage(rightID, true); err != nil {
		sp.releaseAll(false)
		return err
	}

	childKey := promotedKey
	rightChildID := rightID
	for {
		parentHeld := sp.pop()
		if parentHeld == nil {
			newRootID, err := t.createNewRoot(childKey, leftChildID, rightChildID)
			if err != nil {
				return err
			}
			t.rootPageID = newRootID
			return t.persistRoot()
		}

		parent := page.AsInternal(parentHeld.data)
		insertIntoInternal(parent, childIdxInParent, childKey, uint64(rightChildID))
		if int(parent.Header.Size) <= int(parent.Header.MaxSize) {
			sp.release(parentHeld, true)
			return nil
		}

		newRightID, newRightData, newRightLatch, err := t.allocateAndLatchNode()
		if err != nil {
			sp.release(parentHeld, true)
			sp.releaseAll(false)
			return fmt.Errorf("btree: allocate split internal: %w", err)
		}
		newRight := page.InitInternal(newRightData, newRightID, parent.Header.MaxSize)
		promoted := splitInternal(parent, newRight)

		leftChildID = parentHeld.id
		childIdxInParent = parentHeld.childIdxInParent
		sp.release(parentHeld, true)
		newRightLatch.Unlock()
		if err := t.bpm.UnpinPage(newRightID, true); err != nil {
			sp.releaseAll(false)
			return err
		}

		childKey = promoted
		rightChildID = newRightID
	}
}

// Remove deletes key, rebalancing underflowed nodes up the path via
// borrow-from-sibling or merge-with-sibling.
func (t *Index) Remove(key uint64) error {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()

	if t.rootPageID == page.InvalidPageID {
		return ErrKeyNotFound
	}

	sp, err := t.findLeaf(key, modeDelete)
	if err != nil {
		return err
	}

	leafHeld := sp.pop()
	leaf := page.AsLeaf(leafHeld.data)
	if !deleteFromLeaf(leaf, key, t.cmp) {
		sp.release(leafHeld, false)
		sp.releaseAll(false)
		return ErrKeyNotFound
	}

	minSize := page.MinSize(leaf.Header.MaxSize)
	if leafHeld.id == t.rootPageID || int(leaf.Header.Size) >= int(minSize) {
		sp.release(leafHeld, true)
		sp.releaseAll(false)
		return nil
	}

	childHeld := leafHeld
	childIsLeaf := true
	for {
		parentHeld := sp.pop()
		if parentHeld == nil {
			// childHeld is the root: an internal root may legitimately
			// sit below min_size after a merge (root collapse is not
			// implemented, matching original_source).
			childHeld.unlock()
			return t.bpm.UnpinPage(childHeld.id, true)
		}

		parent := page.AsInternal(parentHeld.data)
		var underflow bool
		if childIsLeaf {
			underflow, err = t.rebalanceLeaf(parent, childHeld)
		} else {
			underflow, err = t.rebalanceInternal(parent, childHeld)
		}
		if err != nil {
			sp.release(parentHeld, false)
			sp.releaseAll(false)
			return err
		}
		if !underflow || parentHeld.id == t.rootPageID {
			sp.release(parentHeld, true)
			sp.releaseAll(false)
			return nil
		}
		childHeld = parentHeld
		childIsLeaf = false
	}
}

func (t *Index) insertIntoEmptyTree(key, value uint64) error {
	id, data, latch, err := t.allocateAndLatchNode()
	if err != nil {
		return fmt.Errorf("btree: allocate first leaf: %w", err)
	}
	leaf := page.InitLeaf(data, id, t.leafMaxSize)
	leaf.Header.Size = 1
	leaf.Keys[0] = key
	leaf.Values[0] = value
	latch.Unlock()
	if err := t.bpm.UnpinPage(id, true); err != nil {
		return err
	}
	t.rootPageID = id
	return t.persistRoot()
}

func (t *Index) createNewRoot(promotedKey uint64, leftID, rightID uint32) (uint32, error) {
	id, data, latch, err := t.allocateAndLatchNode()
	if err != nil {
		return 0, fmt.Errorf("btree: allocate new root: %w", err)
	}
	root := page.InitInternal(data, id, t.internalMaxSize)
	root.Header.Size = 1
	root.Keys[0] = promotedKey
	root.Children[0] = uint64(leftID)
	root.Children[1] = uint64(rightID)
	latch.Unlock()
	if err := t.bpm.UnpinPage(id, true); err != nil {
		return 0, err
	}
	log.Printf("btree: %q grew a new root page %d", t.name, id)
	return id, nil
}
