package ixindex

import (
	"bytes"
	"sync"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
)

// IndexHandle is one open B+-tree file. A single root_latch_-style mutex
// serializes every public operation (spec.md §4.2 Concurrency: "deliberately
// coarse; finer latching is a non-goal").
type IndexHandle struct {
	mu   sync.Mutex
	disk *storage.DiskManager
	pool *bufferpool.Pool
	fd   storage.FD
	hdr  *FileHeader
}

// Create initializes a new, empty index file over cols.
func Create(disk *storage.DiskManager, pool *bufferpool.Pool, name string, cols []types.ColMeta, pageSize int) (*IndexHandle, error) {
	if err := disk.CreateFile(name); err != nil {
		return nil, apperr.Wrap("ixindex.Create", err)
	}
	fd, err := disk.OpenFile(name)
	if err != nil {
		return nil, apperr.Wrap("ixindex.Create", err)
	}
	// Page 0 must exist on disk before the header can be fetched into it.
	hdrFrame, err := pool.NewPage(fd)
	if err != nil {
		return nil, apperr.Wrap("ixindex.Create", err)
	}
	if err := pool.Unpin(hdrFrame.ID(), true); err != nil {
		return nil, apperr.Wrap("ixindex.Create", err)
	}
	specs := buildColSpecs(cols)
	colTotLen := 0
	for _, s := range specs {
		colTotLen += s.length
	}
	hdr := &FileHeader{
		RootPage:  IxNoPage,
		FirstLeaf: IxNoPage,
		LastLeaf:  IxNoPage,
		ColTotLen: int32(colTotLen),
		NumPages:  1,
		Order:     computeOrder(pageSize, colTotLen),
		cols:      specs,
	}
	if err := writeHeader(pool, fd, hdr); err != nil {
		return nil, err
	}
	return &IndexHandle{disk: disk, pool: pool, fd: fd, hdr: hdr}, nil
}

// Open reopens an existing index file.
func Open(disk *storage.DiskManager, pool *bufferpool.Pool, name string) (*IndexHandle, error) {
	fd, err := disk.OpenFile(name)
	if err != nil {
		return nil, apperr.Wrap("ixindex.Open", err)
	}
	hdr, err := readHeader(pool, fd)
	if err != nil {
		return nil, err
	}
	return &IndexHandle{disk: disk, pool: pool, fd: fd, hdr: hdr}, nil
}

func (ih *IndexHandle) FD() storage.FD { return ih.fd }

func (ih *IndexHandle) Close() error {
	if err := writeHeader(ih.pool, ih.fd, ih.hdr); err != nil {
		return err
	}
	if err := ih.pool.FlushPage(headerID(ih.fd)); err != nil {
		return err
	}
	return ih.disk.CloseFile(ih.fd)
}

func (ih *IndexHandle) flushHeader() error { return writeHeader(ih.pool, ih.fd, ih.hdr) }

func (ih *IndexHandle) fetchNode(pageNo int32) (*node, error) {
	f, err := ih.pool.Fetch(bufferpool.PageID{FD: ih.fd, PageNo: pageNo})
	if err != nil {
		return nil, apperr.Wrap("ixindex.fetchNode", err)
	}
	return &node{hdr: ih.hdr, frame: f}, nil
}

func (ih *IndexHandle) unpinNode(n *node, dirty bool) error {
	return ih.pool.Unpin(bufferpool.PageID{FD: ih.fd, PageNo: n.pageNo()}, dirty)
}

func (ih *IndexHandle) createNode() (*node, error) {
	ih.hdr.NumPages++
	f, err := ih.pool.NewPage(ih.fd)
	if err != nil {
		return nil, apperr.Wrap("ixindex.createNode", err)
	}
	for i := range f.Data {
		f.Data[i] = 0
	}
	n := &node{hdr: ih.hdr, frame: f}
	n.setParent(IxNoPage)
	n.setPrevLeaf(IxNoPage)
	n.setNextLeaf(IxNoPage)
	n.setNumKey(0)
	return n, nil
}

// findLeafPage walks from the root to the leaf that would contain key.
func (ih *IndexHandle) findLeafPage(key []byte) (*node, error) {
	n, err := ih.fetchNode(ih.hdr.RootPage)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf() {
		childNo := n.internalLookup(key)
		if err := ih.unpinNode(n, false); err != nil {
			return nil, err
		}
		n, err = ih.fetchNode(childNo)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// GetValue returns the Rid stored under key, if any (spec.md §4.2).
func (ih *IndexHandle) GetValue(key []byte) (types.Rid, bool, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()

	if ih.hdr.RootPage == IxNoPage {
		return types.Rid{}, false, nil
	}
	leaf, err := ih.findLeafPage(key)
	if err != nil {
		return types.Rid{}, false, err
	}
	rid, ok := leaf.leafLookup(key)
	if err := ih.unpinNode(leaf, false); err != nil {
		return types.Rid{}, false, err
	}
	return rid, ok, nil
}

// InsertEntry inserts (key, value), splitting nodes up to the root as
// needed. A duplicate key is a silent no-op (spec.md §4.2). Returns the
// page number of the leaf the key ended up in.
func (ih *IndexHandle) InsertEntry(key []byte, value types.Rid) (int32, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()

	if ih.hdr.RootPage == IxNoPage {
		root, err := ih.createNode()
		if err != nil {
			return 0, err
		}
		root.setLeaf(true)
		ih.hdr.RootPage = root.pageNo()
		ih.hdr.FirstLeaf = root.pageNo()
		ih.hdr.LastLeaf = root.pageNo()
		root.insert(key, value)
		pageNo := root.pageNo()
		if err := ih.unpinNode(root, true); err != nil {
			return 0, err
		}
		return pageNo, ih.flushHeader()
	}

	leaf, err := ih.findLeafPage(key)
	if err != nil {
		return 0, err
	}
	leaf.insert(key, value)
	pageNo := leaf.pageNo()
	if leaf.numKey() == leaf.maxSize() {
		newNode, err := ih.split(leaf)
		if err != nil {
			ih.unpinNode(leaf, true)
			return 0, err
		}
		if err := ih.insertIntoParent(leaf, newNode.key(0), newNode); err != nil {
			ih.unpinNode(newNode, true)
			ih.unpinNode(leaf, true)
			return 0, err
		}
		if ih.hdr.LastLeaf == leaf.pageNo() {
			ih.hdr.LastLeaf = newNode.pageNo()
		}
		if ih.hdr.compareKey(key, newNode.key(0)) >= 0 {
			pageNo = newNode.pageNo()
		}
		if err := ih.unpinNode(newNode, true); err != nil {
			ih.unpinNode(leaf, true)
			return 0, err
		}
	}
	if err := ih.unpinNode(leaf, true); err != nil {
		return 0, err
	}
	return pageNo, ih.flushHeader()
}

// split moves the upper half of n's entries into a fresh right sibling
// (spec.md §4.2 insertion step 1-2). Caller unpins both nodes.
func (ih *IndexHandle) split(n *node) (*node, error) {
	newNode, err := ih.createNode()
	if err != nil {
		return nil, err
	}
	pos := int(n.numKey()) / 2
	newNode.setLeaf(n.isLeaf())
	newNode.setParent(n.parent())

	keys, rids := n.collect(pos)
	newNode.insertPairs(0, keys, rids)
	n.setNumKey(int32(pos))

	if newNode.isLeaf() {
		newNode.setPrevLeaf(n.pageNo())
		newNode.setNextLeaf(n.nextLeaf())
		if n.nextLeaf() != IxNoPage {
			next, err := ih.fetchNode(n.nextLeaf())
			if err != nil {
				return nil, err
			}
			next.setPrevLeaf(newNode.pageNo())
			if err := ih.unpinNode(next, true); err != nil {
				return nil, err
			}
		}
		n.setNextLeaf(newNode.pageNo())
	} else {
		for i := 0; i < int(newNode.numKey()); i++ {
			if err := ih.maintainChild(newNode, i); err != nil {
				return nil, err
			}
		}
	}
	return newNode, nil
}

// insertIntoParent propagates newNode's first key into old's parent,
// creating a new root if old was the root, recursing if the parent itself
// overflows (spec.md §4.2 insertion steps 3-4).
func (ih *IndexHandle) insertIntoParent(old *node, key []byte, newNode *node) error {
	var parent *node
	if old.isRoot() {
		newRoot, err := ih.createNode()
		if err != nil {
			return err
		}
		newRoot.setLeaf(false)
		newRoot.setParent(IxNoPage)
		ih.hdr.RootPage = newRoot.pageNo()
		newRoot.insert(old.key(0), types.Rid{PageNo: old.pageNo(), SlotNo: -1})
		old.setParent(newRoot.pageNo())
		parent = newRoot
	} else {
		p, err := ih.fetchNode(old.parent())
		if err != nil {
			return err
		}
		parent = p
	}

	parent.insert(key, types.Rid{PageNo: newNode.pageNo(), SlotNo: -1})
	newNode.setParent(parent.pageNo())

	if parent.numKey() == parent.maxSize() {
		newNewNode, err := ih.split(parent)
		if err != nil {
			ih.unpinNode(parent, true)
			return err
		}
		if err := ih.insertIntoParent(parent, newNewNode.key(0), newNewNode); err != nil {
			ih.unpinNode(newNewNode, true)
			ih.unpinNode(parent, true)
			return err
		}
		if err := ih.unpinNode(newNewNode, true); err != nil {
			ih.unpinNode(parent, true)
			return err
		}
	}
	return ih.unpinNode(parent, true)
}

// maintainChild re-homes the child at childIdx of an internal node n to
// point its parent back at n. A no-op on leaves.
func (ih *IndexHandle) maintainChild(n *node, childIdx int) error {
	if n.isLeaf() {
		return nil
	}
	child, err := ih.fetchNode(n.valueAt(childIdx))
	if err != nil {
		return err
	}
	child.setParent(n.pageNo())
	return ih.unpinNode(child, true)
}

// maintainParent walks from n upward, copying n's new first key into each
// ancestor's router slot, stopping as soon as an ancestor's router already
// matches (spec.md §4.2 tie-break).
func (ih *IndexHandle) maintainParent(n *node) error {
	curr := n
	ownsCurr := false
	for curr.parent() != IxNoPage {
		parent, err := ih.fetchNode(curr.parent())
		if err != nil {
			return err
		}
		rank := parent.findChild(curr)
		match := rank >= 0 && bytes.Equal(parent.key(rank), curr.key(0))
		if rank >= 0 && !match {
			parent.setKey(rank, curr.key(0))
		}
		if ownsCurr {
			if err := ih.unpinNode(curr, true); err != nil {
				return err
			}
		}
		if match {
			return ih.unpinNode(parent, true)
		}
		curr = parent
		ownsCurr = true
	}
	if ownsCurr {
		return ih.unpinNode(curr, true)
	}
	return nil
}

// eraseLeaf unlinks leaf n from the leaf chain, adjusting first_leaf/
// last_leaf if n was terminal (spec.md §4.2 deletion step 5, I5).
func (ih *IndexHandle) eraseLeaf(n *node) error {
	if n.prevLeaf() != IxNoPage {
		prev, err := ih.fetchNode(n.prevLeaf())
		if err != nil {
			return err
		}
		prev.setNextLeaf(n.nextLeaf())
		if err := ih.unpinNode(prev, true); err != nil {
			return err
		}
	} else {
		ih.hdr.FirstLeaf = n.nextLeaf()
	}
	if n.nextLeaf() != IxNoPage {
		next, err := ih.fetchNode(n.nextLeaf())
		if err != nil {
			return err
		}
		next.setPrevLeaf(n.prevLeaf())
		if err := ih.unpinNode(next, true); err != nil {
			return err
		}
	} else {
		ih.hdr.LastLeaf = n.prevLeaf()
	}
	return nil
}

// redistribute moves one kv pair from neighbor into n to restore n's
// minimum occupancy (spec.md §4.2 deletion step 4).
func (ih *IndexHandle) redistribute(neighbor, n *node, parent *node, index int) error {
	if index == 0 {
		key := append([]byte(nil), neighbor.key(0)...)
		rid := neighbor.rid(0)
		n.insertPair(int(n.numKey()), key, rid)
		neighbor.erasePair(0)
		if err := ih.maintainChild(n, int(n.numKey())-1); err != nil {
			return err
		}
		return ih.maintainParent(neighbor)
	}
	lastIdx := int(neighbor.numKey()) - 1
	key := append([]byte(nil), neighbor.key(lastIdx)...)
	rid := neighbor.rid(lastIdx)
	n.insertPair(0, key, rid)
	neighbor.erasePair(lastIdx)
	if err := ih.maintainChild(n, 0); err != nil {
		return err
	}
	return ih.maintainParent(n)
}

// coalesce merges the right-hand node of the (neighbor, n) pair into the
// left-hand one, recursing on the parent (spec.md §4.2 deletion step 5).
// The caller unpins parent and neighbor; n is left pinned for the caller
// to unpin too (the emptied right-hand page is not reclaimed).
func (ih *IndexHandle) coalesce(neighbor, n *node, parent *node, index int) error {
	left, right := neighbor, n
	if index == 0 {
		left, right = n, neighbor
	}
	if right.pageNo() == ih.hdr.LastLeaf {
		ih.hdr.LastLeaf = left.pageNo()
	}

	pos := int(left.numKey())
	keys, rids := right.collect(0)
	left.insertPairs(pos, keys, rids)
	for i := pos; i < pos+len(keys); i++ {
		if err := ih.maintainChild(left, i); err != nil {
			return err
		}
	}

	if right.isLeaf() {
		if err := ih.eraseLeaf(right); err != nil {
			return err
		}
	}
	ih.hdr.NumPages--

	if idx := parent.findChild(right); idx >= 0 {
		parent.erasePair(idx)
	}
	return ih.coalesceOrRedistribute(parent)
}

// adjustRoot collapses a root that has shrunk below its minimum occupancy
// (spec.md §4.2 deletion step 1).
func (ih *IndexHandle) adjustRoot(n *node) error {
	if n.isLeaf() && n.numKey() == 0 {
		ih.hdr.RootPage = IxNoPage
		return nil
	}
	if !n.isLeaf() && n.numKey() == 1 {
		onlyChild := n.removeAndReturnOnlyChild()
		ih.hdr.RootPage = onlyChild
		newRoot, err := ih.fetchNode(onlyChild)
		if err != nil {
			return err
		}
		newRoot.setParent(IxNoPage)
		if err := ih.unpinNode(newRoot, true); err != nil {
			return err
		}
		ih.hdr.NumPages--
	}
	return nil
}

// coalesceOrRedistribute is invoked after a leaf's key count drops; it
// rebalances up the tree as needed (spec.md §4.2 deletion steps 1-5).
func (ih *IndexHandle) coalesceOrRedistribute(n *node) error {
	if n.isRoot() {
		return ih.adjustRoot(n)
	}
	if n.numKey() >= n.minSize() {
		return ih.maintainParent(n)
	}

	parent, err := ih.fetchNode(n.parent())
	if err != nil {
		return err
	}
	index := parent.findChild(n)

	var neighbor *node
	if index > 0 {
		neighbor, err = ih.fetchNode(parent.valueAt(index - 1))
	} else {
		neighbor, err = ih.fetchNode(parent.valueAt(index + 1))
	}
	if err != nil {
		ih.unpinNode(parent, false)
		return err
	}

	if n.numKey()+neighbor.numKey() >= n.minSize()*2 {
		if err := ih.redistribute(neighbor, n, parent, index); err != nil {
			ih.unpinNode(parent, true)
			ih.unpinNode(neighbor, true)
			return err
		}
		ih.unpinNode(parent, true)
		return ih.unpinNode(neighbor, true)
	}

	if err := ih.coalesce(neighbor, n, parent, index); err != nil {
		ih.unpinNode(parent, true)
		ih.unpinNode(neighbor, true)
		return err
	}
	ih.unpinNode(parent, true)
	return ih.unpinNode(neighbor, true)
}

// DeleteEntry removes key from the tree, rebalancing as needed. Returns
// whether key was present.
func (ih *IndexHandle) DeleteEntry(key []byte) (bool, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()

	if ih.hdr.RootPage == IxNoPage {
		return false, nil
	}
	leaf, err := ih.findLeafPage(key)
	if err != nil {
		return false, err
	}
	before := leaf.numKey()
	after := leaf.remove(key)
	found := after < before

	if found {
		if err := ih.coalesceOrRedistribute(leaf); err != nil {
			ih.unpinNode(leaf, true)
			return false, err
		}
	}
	if err := ih.unpinNode(leaf, found); err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return true, ih.flushHeader()
}

// LowerBound returns the Iid of the first key >= target, or the end
// sentinel if none (spec.md §4.2).
func (ih *IndexHandle) LowerBound(key []byte) (types.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.boundLocked(key, false)
}

// UpperBound returns the Iid of the first key > target, or the end
// sentinel if none.
func (ih *IndexHandle) UpperBound(key []byte) (types.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.boundLocked(key, true)
}

func (ih *IndexHandle) boundLocked(key []byte, upper bool) (types.Iid, error) {
	if ih.hdr.RootPage == IxNoPage {
		return types.Iid{PageNo: IxNoPage, SlotNo: 0}, nil
	}
	n, err := ih.findLeafPage(key)
	if err != nil {
		return types.Iid{}, err
	}
	var idx int
	if upper {
		idx = n.upperBound(key)
	} else {
		idx = n.lowerBound(key)
	}
	var iid types.Iid
	if idx == int(n.numKey()) {
		if next := n.nextLeaf(); next != IxNoPage {
			iid = types.Iid{PageNo: next, SlotNo: 0}
		} else {
			iid, err = ih.leafEndLocked()
		}
	} else {
		iid = types.Iid{PageNo: n.pageNo(), SlotNo: int32(idx)}
	}
	if uerr := ih.unpinNode(n, false); uerr != nil {
		return types.Iid{}, uerr
	}
	return iid, err
}

func (ih *IndexHandle) leafEndLocked() (types.Iid, error) {
	n, err := ih.fetchNode(ih.hdr.LastLeaf)
	if err != nil {
		return types.Iid{}, err
	}
	iid := types.Iid{PageNo: ih.hdr.LastLeaf, SlotNo: n.numKey()}
	return iid, ih.unpinNode(n, false)
}

// LeafBegin returns the Iid of the first entry in the tree.
func (ih *IndexHandle) LeafBegin() types.Iid {
	if ih.hdr.RootPage == IxNoPage {
		return types.Iid{PageNo: IxNoPage, SlotNo: 0}
	}
	return types.Iid{PageNo: ih.hdr.FirstLeaf, SlotNo: 0}
}

// LeafEnd returns the exclusive end-of-scan sentinel.
func (ih *IndexHandle) LeafEnd() (types.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.hdr.RootPage == IxNoPage {
		return types.Iid{PageNo: IxNoPage, SlotNo: 0}, nil
	}
	return ih.leafEndLocked()
}

// GetRid resolves an Iid (a slot within a leaf) to the Rid it stores.
func (ih *IndexHandle) GetRid(iid types.Iid) (types.Rid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	n, err := ih.fetchNode(iid.PageNo)
	if err != nil {
		return types.Rid{}, err
	}
	if iid.SlotNo >= n.numKey() {
		ih.unpinNode(n, false)
		return types.Rid{}, apperr.Wrap("ixindex.GetRid", apperr.ErrIndexEntryNotFound)
	}
	r := n.rid(int(iid.SlotNo))
	return r, ih.unpinNode(n, false)
}

// nextIid advances an Iid by one slot, crossing into the next leaf when the
// current one is exhausted. Used by Scan's iteration step.
func (ih *IndexHandle) nextIid(iid types.Iid) (types.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	n, err := ih.fetchNode(iid.PageNo)
	if err != nil {
		return types.Iid{}, err
	}
	defer ih.unpinNode(n, false)

	if iid.SlotNo+1 < n.numKey() {
		return types.Iid{PageNo: iid.PageNo, SlotNo: iid.SlotNo + 1}, nil
	}
	next := n.nextLeaf()
	if next == IxNoPage {
		return types.Iid{PageNo: iid.PageNo, SlotNo: n.numKey()}, nil
	}
	return types.Iid{PageNo: next, SlotNo: 0}, nil
}
