package btree

import (
	"fmt"

	"minikvstore/internal/page"
)

// rebalanceLeaf resolves an underflowed leaf child by borrowing an entry
// from a sibling, or merging with one when neither sibling has spare
// entries to lend. It fully releases childHeld (latch and pin) along
// every path, and reports whether parent itself now needs rebalancing.
func (t *Index) rebalanceLeaf(parent *page.InternalNode, childHeld *heldPage) (parentUnderflow bool, err error) {
	childIdx := childHeld.childIdxInParent
	child := page.AsLeaf(childHeld.data)
	minSize := page.MinSize(child.Header.MaxSize)
	hasLeft := childIdx > 0
	hasRight := childIdx < int(parent.Header.Size)

	if hasLeft {
		leftID := uint32(parent.Children[childIdx-1])
		leftData, leftLatch, ferr := t.fetchSibling(leftID)
		if ferr != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: fetch left sibling %d: %w", leftID, ferr)
		}
		left := page.AsLeaf(leftData)
		if int(left.Header.Size) > int(minSize) {
			borrowLeafFromLeft(parent, childIdx-1, left, child)
			t.releaseSibling(leftID, leftLatch, true)
			return false, t.releaseSurvivingChild(childHeld)
		}
		if !hasRight {
			mergeLeaves(left, child)
			removeInternalEntry(parent, childIdx-1)
			t.releaseSibling(leftID, leftLatch, true)
			underflow := int(parent.Header.Size) < int(page.MinSize(parent.Header.MaxSize))
			return underflow, t.releaseAbsorbedChild(childHeld)
		}
		t.releaseSibling(leftID, leftLatch, false)
	}

	if hasRight {
		rightID := uint32(parent.Children[childIdx+1])
		rightData, rightLatch, ferr := t.fetchSibling(rightID)
		if ferr != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: fetch right sibling %d: %w", rightID, ferr)
		}
		right := page.AsLeaf(rightData)
		if int(right.Header.Size) > int(minSize) {
			borrowLeafFromRight(parent, childIdx, child, right)
			t.releaseSibling(rightID, rightLatch, true)
			return false, t.releaseSurvivingChild(childHeld)
		}
		mergeLeaves(child, right)
		removeInternalEntry(parent, childIdx)
		t.releaseSibling(rightID, rightLatch, true)
		if err := t.bpm.DeletePage(rightID); err != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: delete merged leaf %d: %w", rightID, err)
		}
		underflow := int(parent.Header.Size) < int(page.MinSize(parent.Header.MaxSize))
		return underflow, t.releaseSurvivingChild(childHeld)
	}

	// parent has no other child (a root left with a single child after a
	// merge): the child stays below min_size.
	return false, t.releaseSurvivingChild(childHeld)
}

// rebalanceInternal is rebalanceLeaf's counterpart one level up: the
// same borrow-then-merge policy, over InternalNode arrays, with a parent
// separator key rotated through on every borrow or merge rather than a
// leaf entry copied directly.
func (t *Index) rebalanceInternal(parent *page.InternalNode, childHeld *heldPage) (parentUnderflow bool, err error) {
	childIdx := childHeld.childIdxInParent
	child := page.AsInternal(childHeld.data)
	minSize := page.MinSize(child.Header.MaxSize)
	hasLeft := childIdx > 0
	hasRight := childIdx < int(parent.Header.Size)

	if hasLeft {
		leftID := uint32(parent.Children[childIdx-1])
		leftData, leftLatch, ferr := t.fetchSibling(leftID)
		if ferr != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: fetch left sibling %d: %w", leftID, ferr)
		}
		left := page.AsInternal(leftData)
		if int(left.Header.Size) > int(minSize) {
			borrowInternalFromLeft(parent, childIdx-1, left, child)
			t.releaseSibling(leftID, leftLatch, true)
			return false, t.releaseSurvivingChild(childHeld)
		}
		if !hasRight {
			mergeInternals(parent, childIdx-1, left, child)
			removeInternalEntry(parent, childIdx-1)
			t.releaseSibling(leftID, leftLatch, true)
			underflow := int(parent.Header.Size) < int(page.MinSize(parent.Header.MaxSize))
			return underflow, t.releaseAbsorbedChild(childHeld)
		}
		t.releaseSibling(leftID, leftLatch, false)
	}

	if hasRight {
		rightID := uint32(parent.Children[childIdx+1])
		rightData, rightLatch, ferr := t.fetchSibling(rightID)
		if ferr != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: fetch right sibling %d: %w", rightID, ferr)
		}
		right := page.AsInternal(rightData)
		if int(right.Header.Size) > int(minSize) {
			borrowInternalFromRight(parent, childIdx, child, right)
			t.releaseSibling(rightID, rightLatch, true)
			return false, t.releaseSurvivingChild(childHeld)
		}
		mergeInternals(parent, childIdx, child, right)
		removeInternalEntry(parent, childIdx)
		t.releaseSibling(rightID, rightLatch, true)
		if err := t.bpm.DeletePage(rightID); err != nil {
			_ = t.releaseSurvivingChild(childHeld)
			return false, fmt.Errorf("btree: delete merged internal %d: %w", rightID, err)
		}
		underflow := int(parent.Header.Size) < int(page.MinSize(parent.Header.MaxSize))
		return underflow, t.releaseSurvivingChild(childHeld)
	}

	// parent has no other child (a root left with a single child after a
	// merge): the child stays below min_size.
	return false, t.releaseSurvivingChild(childHeld)
}
