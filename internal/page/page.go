// Package page defines the on-disk/in-frame layout of B+Tree pages: a
// common header plus a typed view (leaf or internal) overlaid on the raw
// bytes of a buffer pool frame. The overlay is only valid while the caller
// holds the frame's content latch.
package page

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Size is the fixed size of every page in bytes.
const Size = 4096

// InvalidPageID is the sentinel for "no page".
const InvalidPageID uint32 = 0

// Type identifies what a page's bytes decode as.
type Type byte

const (
	Unknown  Type = 0
	Leaf     Type = 1
	Internal Type = 2
)

// Header is the common prefix of every B+Tree page. It intentionally has
// no parent_id field: the crabbing scratchpad reconstructs ancestor
// identity during traversal instead of trusting a per-page back-pointer
// that has to be rewritten on every split/merge (see DESIGN.md).
type Header struct {
	PageType Type
	_        [3]byte
	LSN      uint32
	Size     uint32 // current number of entries
	MaxSize  uint32 // operative max entries for this index (<= hardware cap)
	PageID   uint32
	_        uint32 // pad to 8-byte multiple so arrays that follow stay aligned
}

var headerSize = int(unsafe.Sizeof(Header{}))

// MaxLeafKeys and MaxInternalKeys are the hardware capacity of a page: the
// largest number of entries that can physically fit. An index's operative
// max_size (Header.MaxSize) is a runtime parameter that may be much
// smaller, to make splits/merges exercisable in tests.
const (
	leafArrayBytes     = Size - 32 // header(24) + next_page_id(4) + pad(4)
	MaxLeafKeys        = leafArrayBytes / 16
	internalArrayBytes = Size - 24                      // header(24), no trailing fields
	MaxInternalKeys    = (internalArrayBytes - 8) / 16 // -8 for the extra child slot
)

// LeafNode is the typed view of a leaf page: a sorted (key,value) array
// plus the sibling pointer that threads leaves into a left-to-right list.
type LeafNode struct {
	Header     Header
	NextPageID uint32
	_          uint32
	Keys       [MaxLeafKeys]uint64
	Values     [MaxLeafKeys]uint64
}

// InternalNode is the typed view of an internal page: Header.Size is the
// number of keys, and Keys[i] is the real separator between Children[i]
// and Children[i+1], for i in [0, Size) — so a node with Size keys has
// Size+1 live children.
type InternalNode struct {
	Header   Header
	Keys     [MaxInternalKeys]uint64
	Children [MaxInternalKeys + 1]uint64
}

// Comparator orders two keys the way sort.Interface's Less would, but
// returns three-way: negative if a<b, zero if equal, positive if a>b.
type Comparator func(a, b uint64) int

// DefaultComparator orders keys as unsigned integers.
func DefaultComparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func checkLen(buf []byte) {
	if len(buf) < Size {
		panic(fmt.Sprintf("page buffer too small: %d < %d", len(buf), Size))
	}
}

// GetType reads the page type without requiring the caller to know which
// typed view applies yet; it is always the first byte of every page.
func GetType(buf []byte) Type {
	checkLen(buf)
	return Type(buf[0])
}

// AsLeaf overlays buf as a *LeafNode. Caller must hold the page's content
// latch and must have already confirmed GetType(buf) == Leaf.
func AsLeaf(buf []byte) *LeafNode {
	checkLen(buf)
	return (*LeafNode)(unsafe.Pointer(&buf[0]))
}

// AsInternal overlays buf as a *InternalNode.
func AsInternal(buf []byte) *InternalNode {
	checkLen(buf)
	return (*InternalNode)(unsafe.Pointer(&buf[0]))
}

// InitLeaf zeroes buf and formats it as an empty leaf page.
func InitLeaf(buf []byte, pageID uint32, maxSize uint32) *LeafNode {
	checkLen(buf)
	for i := range buf {
		buf[i] = 0
	}
	n := AsLeaf(buf)
	n.Header.PageType = Leaf
	n.Header.PageID = pageID
	n.Header.MaxSize = maxSize
	n.NextPageID = InvalidPageID
	return n
}

// InitInternal zeroes buf and formats it as an empty internal page.
func InitInternal(buf []byte, pageID uint32, maxSize uint32) *InternalNode {
	checkLen(buf)
	for i := range buf {
		buf[i] = 0
	}
	n := AsInternal(buf)
	n.Header.PageType = Internal
	n.Header.PageID = pageID
	n.Header.MaxSize = maxSize
	return n
}

// MinSize returns ceil(maxSize/2), the spec's min_size bound.
func MinSize(maxSize uint32) uint32 {
	return (maxSize + 1) / 2
}

// LeafSearch returns the index of key within node's sorted array, and
// whether it was found. When not found, index is the insertion point.
func LeafSearch(node *LeafNode, key uint64, cmp Comparator) (index int, found bool) {
	n := int(node.Header.Size)
	lo, hi := 0, n-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := cmp(node.Keys[mid], key)
		switch {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid - 1
		default:
			return mid, true
		}
	}
	return lo, false
}

// InternalSearch returns the child-array index to descend into for key:
// one past the last index i with Keys[i] <= key, or 0 if key is less than
// every key (Keys[0..Size) are real separators, per InternalNode's
// doc comment).
func InternalSearch(node *InternalNode, key uint64, cmp Comparator) int {
	n := int(node.Header.Size)
	lo, hi := 0, n-1
	result := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if cmp(node.Keys[mid], key) <= 0 {
			result = mid + 1
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// HeaderByteSize exposes the header's size for wire-format documentation
// and tests; code should prefer the typed views above.
func HeaderByteSize() int { return headerSize }

// EncodeHeaderRecord packs a single (name -> rootPageID) header-page
// record as length-prefixed bytes: see internal/btree's header-page
// reader/writer for the record format this supports.
func EncodeHeaderRecord(name string, rootPageID uint32) []byte {
	out := make([]byte, 2+len(name)+4)
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(name)))
	copy(out[2:2+len(name)], name)
	binary.LittleEndian.PutUint32(out[2+len(name):], rootPageID)
	return out
}
