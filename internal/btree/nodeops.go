package btree

import "minikvstore/internal/page"

// insertIntoLeaf inserts (key, value) into a sorted leaf that has room
// for one more entry than its operative max (split happens after, if
// needed). It overwrites the value in place if key is already present
// and reports that case via replaced.
func insertIntoLeaf(n *page.LeafNode, key, value uint64, cmp page.Comparator) (replaced bool) {
	idx, found := page.LeafSearch(n, key, cmp)
	if found {
		n.Values[idx] = value
		return true
	}
	size := int(n.Header.Size)
	copy(n.Keys[idx+1:size+1], n.Keys[idx:size])
	copy(n.Values[idx+1:size+1], n.Values[idx:size])
	n.Keys[idx] = key
	n.Values[idx] = value
	n.Header.Size++
	return false
}

// splitLeaf moves the upper half of left's entries into right (a freshly
// initialized empty leaf) and threads right into left's sibling chain.
// It returns the separator key that must be promoted to the parent: the
// first key now in right.
func splitLeaf(left, right *page.LeafNode) uint64 {
	total := int(left.Header.Size)
	splitPoint := (total + 1) / 2

	rightCount := total - splitPoint
	copy(right.Keys[:rightCount], left.Keys[splitPoint:total])
	copy(right.Values[:rightCount], left.Values[splitPoint:total])
	right.Header.Size = uint32(rightCount)

	for i := splitPoint; i < total; i++ {
		left.Keys[i] = 0
		left.Values[i] = 0
	}
	left.Header.Size = uint32(splitPoint)

	right.NextPageID = left.NextPageID
	left.NextPageID = right.Header.PageID

	return right.Keys[0]
}

// insertIntoInternal inserts a new (separatorKey, rightChild) pair after
// the child at index childIdx, making room for one entry beyond the
// node's operative max (split happens after, if needed).
func insertIntoInternal(n *page.InternalNode, childIdx int, separatorKey, rightChild uint64) {
	size := int(n.Header.Size)
	copy(n.Keys[childIdx+1:size+1], n.Keys[childIdx:size])
	copy(n.Children[childIdx+2:size+2], n.Children[childIdx+1:size+1])
	n.Keys[childIdx] = separatorKey
	n.Children[childIdx+1] = rightChild
	n.Header.Size++
}

// splitInternal moves the upper half of left's keys/children into right
// and returns the key promoted to the parent (removed from both
// children, since an internal separator is not duplicated).
func splitInternal(left, right *page.InternalNode) uint64 {
	total := int(left.Header.Size)
	splitPoint := total / 2
	promoted := left.Keys[splitPoint]

	rightKeyCount := total - splitPoint - 1
	copy(right.Keys[:rightKeyCount], left.Keys[splitPoint+1:total])
	copy(right.Children[:rightKeyCount+1], left.Children[splitPoint+1:total+1])
	right.Header.Size = uint32(rightKeyCount)

	for i := splitPoint; i < total; i++ {
		left.Keys[i] = 0
	}
	for i := splitPoint + 1; i <= total; i++ {
		left.Children[i] = 0
	}
	left.Header.Size = uint32(splitPoint)

	return promoted
}

// deleteFromLeaf removes key from n, reporting whether it was present.
func deleteFromLeaf(n *page.LeafNode, key uint64, cmp page.Comparator) bool {
	idx, found := page.LeafSearch(n, key, cmp)
	if !found {
		return false
	}
	size := int(n.Header.Size)
	copy(n.Keys[idx:size-1], n.Keys[idx+1:size])
	copy(n.Values[idx:size-1], n.Values[idx+1:size])
	n.Keys[size-1] = 0
	n.Values[size-1] = 0
	n.Header.Size--
	return true
}

// removeInternalEntry deletes the separator key at index keyIdx and the
// child pointer immediately to its right (used after a merge absorbs a
// child into its left sibling).
func removeInternalEntry(n *page.InternalNode, keyIdx int) {
	size := int(n.Header.Size)
	copy(n.Keys[keyIdx:size-1], n.Keys[keyIdx+1:size])
	copy(n.Children[keyIdx+1:size], n.Children[keyIdx+2:size+1])
	n.Keys[size-1] = 0
	n.Children[size] = 0
	n.Header.Size--
}

// borrowLeafFromLeft moves left's last entry to the front of node, and
// updates the parent separator at parentKeyIdx to the newly-first key of
// node.
func borrowLeafFromLeft(parent *page.InternalNode, parentKeyIdx int, left, node *page.LeafNode) {
	leftSize := int(left.Header.Size)
	nodeSize := int(node.Header.Size)

	borrowedKey := left.Keys[leftSize-1]
	borrowedValue := left.Values[leftSize-1]
	left.Keys[leftSize-1] = 0
	left.Values[leftSize-1] = 0
	left.Header.Size--

	copy(node.Keys[1:nodeSize+1], node.Keys[:nodeSize])
	copy(node.Values[1:nodeSize+1], node.Values[:nodeSize])
	node.Keys[0] = borrowedKey
	node.Values[0] = borrowedValue
	node.Header.Size++

	parent.Keys[parentKeyIdx] = borrowedKey
}

// borrowLeafFromRight moves right's first entry to the end of node, and
// updates the parent separator at parentKeyIdx to right's new first key.
func borrowLeafFromRight(parent *page.InternalNode, parentKeyIdx int, node, right *page.LeafNode) {
	nodeSize := int(node.Header.Size)
	rightSize := int(right.Header.Size)

	node.Keys[nodeSize] = right.Keys[0]
	node.Values[nodeSize] = right.Values[0]
	node.Header.Size++

	copy(right.Keys[:rightSize-1], right.Keys[1:rightSize])
	copy(right.Values[:rightSize-1], right.Values[1:rightSize])
	right.Keys[rightSize-1] = 0
	right.Values[rightSize-1] = 0
	right.Header.Size--

	parent.Keys[parentKeyIdx] = right.Keys[0]
}

// mergeLeaves appends right's entries onto left and threads left's
// sibling pointer past right. right is left empty, ready to be deleted.
func mergeLeaves(left, right *page.LeafNode) {
	leftSize := int(left.Header.Size)
	rightSize := int(right.Header.Size)
	copy(left.Keys[leftSize:leftSize+rightSize], right.Keys[:rightSize])
	copy(left.Values[leftSize:leftSize+rightSize], right.Values[:rightSize])
	left.Header.Size += right.Header.Size
	left.NextPageID = right.NextPageID
	right.Header.Size = 0
}

// borrowInternalFromLeft rotates left's last child through the parent
// separator into node's front.
func borrowInternalFromLeft(parent *page.InternalNode, parentKeyIdx int, left, node *page.InternalNode) {
	leftSize := int(left.Header.Size)
	nodeSize := int(node.Header.Size)

	separator := parent.Keys[parentKeyIdx]
	movedChild := left.Children[leftSize]
	newSeparator := left.Keys[leftSize-1]

	left.Keys[leftSize-1] = 0
	left.Children[leftSize] = 0
	left.Header.Size--

	copy(node.Keys[1:nodeSize+1], node.Keys[:nodeSize])
	copy(node.Children[1:nodeSize+2], node.Children[:nodeSize+1])
	node.Keys[0] = separator
	node.Children[0] = movedChild
	node.Header.Size++

	parent.Keys[parentKeyIdx] = newSeparator
}

// borrowInternalFromRight rotates right's first child through the parent
// separator into node's end.
func borrowInternalFromRight(parent *page.InternalNode, parentKeyIdx int, node, right *page.InternalNode) {
	nodeSize := int(node.Header.Size)
	rightSize := int(right.Header.Size)

	separator := parent.Keys[parentKeyIdx]
	movedChild := right.Children[0]
	newSeparator := right.Keys[0]

	node.Keys[nodeSize] = separator
	node.Children[nodeSize+1] = movedChild
	node.Header.Size++

	copy(right.Keys[:rightSize-1], right.Keys[1:rightSize])
	copy(right.Children[:rightSize], right.Children[1:rightSize+1])
	right.Keys[rightSize-1] = 0
	right.Children[rightSize] = 0
	right.Header.Size--

	parent.Keys[parentKeyIdx] = newSeparator
}

// mergeInternals pulls the parent separator at parentKeyIdx down between
// left's and right's entries, concatenating right's keys/children onto
// left. right is left empty, ready to be deleted.
func mergeInternals(parent *page.InternalNode, parentKeyIdx int, left, right *page.InternalNode) {
	leftSize := int(left.Header.Size)
	rightSize := int(right.Header.Size)

	left.Keys[leftSize] = parent.Keys[parentKeyIdx]
	copy(left.Keys[leftSize+1:leftSize+1+rightSize], right.Keys[:rightSize])
	copy(left.Children[leftSize+1:leftSize+2+rightSize], right.Children[:rightSize+1])
	left.Header.Size += right.Header.Size + 1
	right.Header.Size = 0
}
