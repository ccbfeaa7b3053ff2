package ixindex

import (
	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/types"
)

// node is a pinned B+-tree page, decoded against the index's file header.
type node struct {
	hdr   *FileHeader
	frame *bufferpool.Frame
}

func (n *node) pageNo() int32 { return n.frame.ID().PageNo }

func (n *node) isLeaf() bool       { return getI32(n.frame.Data[pageHdrIsLeaf:]) != 0 }
func (n *node) setLeaf(v bool)     { b := int32(0); if v { b = 1 }; putI32(n.frame.Data[pageHdrIsLeaf:], b) }
func (n *node) numKey() int32      { return getI32(n.frame.Data[pageHdrNumKey:]) }
func (n *node) setNumKey(v int32)  { putI32(n.frame.Data[pageHdrNumKey:], v) }
func (n *node) parent() int32      { return getI32(n.frame.Data[pageHdrParent:]) }
func (n *node) setParent(v int32)  { putI32(n.frame.Data[pageHdrParent:], v) }
func (n *node) prevLeaf() int32    { return getI32(n.frame.Data[pageHdrPrevLeaf:]) }
func (n *node) setPrevLeaf(v int32) { putI32(n.frame.Data[pageHdrPrevLeaf:], v) }
func (n *node) nextLeaf() int32    { return getI32(n.frame.Data[pageHdrNextLeaf:]) }
func (n *node) setNextLeaf(v int32) { putI32(n.frame.Data[pageHdrNextLeaf:], v) }

func (n *node) isRoot() bool { return n.pageNo() == n.hdr.RootPage }

func (n *node) maxSize() int32 { return n.hdr.Order }
func (n *node) minSize() int32 { return n.hdr.minSize() }

func (n *node) keysOffset() int { return pageHdrSize }
func (n *node) ridsOffset() int { return pageHdrSize + int(n.hdr.Order)*int(n.hdr.ColTotLen) }

func (n *node) key(i int) []byte {
	off := n.keysOffset() + i*int(n.hdr.ColTotLen)
	return n.frame.Data[off : off+int(n.hdr.ColTotLen)]
}

func (n *node) setKey(i int, key []byte) {
	copy(n.key(i), key)
}

func (n *node) rid(i int) types.Rid {
	off := n.ridsOffset() + i*ridSize
	return types.Rid{PageNo: getI32(n.frame.Data[off:]), SlotNo: getI32(n.frame.Data[off+4:])}
}

func (n *node) setRid(i int, r types.Rid) {
	off := n.ridsOffset() + i*ridSize
	putI32(n.frame.Data[off:], r.PageNo)
	putI32(n.frame.Data[off+4:], r.SlotNo)
}

// valueAt returns the child page number stored in an internal node's i-th
// rid slot (internal_lookup's "value").
func (n *node) valueAt(i int) int32 { return n.rid(i).PageNo }

// lowerBound returns the smallest key index whose key is >= target
// (spec.md §4.2).
func (n *node) lowerBound(target []byte) int {
	l, r := 0, int(n.numKey())
	for l < r {
		mid := (l + r) / 2
		if n.hdr.compareKey(n.key(mid), target) >= 0 {
			r = mid
		} else {
			l = mid + 1
		}
	}
	return l
}

// upperBound returns the smallest key index whose key is > target.
func (n *node) upperBound(target []byte) int {
	l, r := 0, int(n.numKey())
	for l < r {
		mid := (l + r) / 2
		if n.hdr.compareKey(n.key(mid), target) > 0 {
			r = mid
		} else {
			l = mid + 1
		}
	}
	return l
}

// leafLookup returns the Rid stored for key, if present.
func (n *node) leafLookup(key []byte) (types.Rid, bool) {
	idx := n.lowerBound(key)
	if idx < int(n.numKey()) && n.hdr.compareKey(key, n.key(idx)) == 0 {
		return n.rid(idx), true
	}
	return types.Rid{}, false
}

// internalLookup returns the child page holding key: the child identified
// by the largest router key <= key (spec.md §4.2).
func (n *node) internalLookup(key []byte) int32 {
	idx := n.upperBound(key)
	if idx > 0 {
		idx--
	}
	return n.valueAt(idx)
}

// insertPairs shifts [pos, numKey) right by n slots and writes keys[0:n]/
// rids[0:n] starting at pos.
func (n *node) insertPairs(pos int, keys [][]byte, rids []types.Rid) {
	cnt := int(n.numKey())
	add := len(keys)
	for i := cnt - 1; i >= pos; i-- {
		n.setKey(i+add, n.key(i))
		n.setRid(i+add, n.rid(i))
	}
	for j := 0; j < add; j++ {
		n.setKey(pos+j, keys[j])
		n.setRid(pos+j, rids[j])
	}
	n.setNumKey(int32(cnt + add))
}

func (n *node) insertPair(pos int, key []byte, rid types.Rid) {
	n.insertPairs(pos, [][]byte{key}, []types.Rid{rid})
}

// insert places (key, rid) in sorted order, rejecting duplicate keys
// (spec.md §4.2: "Equal keys are not permitted").
func (n *node) insert(key []byte, rid types.Rid) int32 {
	pos := n.lowerBound(key)
	if pos == int(n.numKey()) || n.hdr.compareKey(key, n.key(pos)) != 0 {
		n.insertPair(pos, key, rid)
	}
	return n.numKey()
}

// erasePair removes the key/rid at pos, shifting the tail left.
func (n *node) erasePair(pos int) {
	cnt := int(n.numKey())
	for i := pos; i < cnt-1; i++ {
		n.setKey(i, n.key(i+1))
		n.setRid(i, n.rid(i+1))
	}
	n.setNumKey(int32(cnt - 1))
}

// remove erases key if present, returning the post-removal key count.
func (n *node) remove(key []byte) int32 {
	pos := n.lowerBound(key)
	if pos < int(n.numKey()) && n.hdr.compareKey(key, n.key(pos)) == 0 {
		n.erasePair(pos)
	}
	return n.numKey()
}

// findChild returns the rid index in this (internal) node whose PageNo
// equals child's page number.
func (n *node) findChild(child *node) int {
	for i := 0; i < int(n.numKey()); i++ {
		if n.valueAt(i) == child.pageNo() {
			return i
		}
	}
	return -1
}

// removeAndReturnOnlyChild is used by adjustRoot when an internal root
// shrinks to a single child.
func (n *node) removeAndReturnOnlyChild() int32 {
	return n.valueAt(0)
}

// collect copies out the keys/rids in [from, numKey) so they survive
// subsequent mutation of n's own backing buffer (used by split/coalesce,
// which move a whole tail of entries into a sibling node).
func (n *node) collect(from int) ([][]byte, []types.Rid) {
	cnt := int(n.numKey())
	keys := make([][]byte, 0, cnt-from)
	rids := make([]types.Rid, 0, cnt-from)
	for i := from; i < cnt; i++ {
		k := make([]byte, len(n.key(i)))
		copy(k, n.key(i))
		keys = append(keys, k)
		rids = append(rids, n.rid(i))
	}
	return keys, rids
}
