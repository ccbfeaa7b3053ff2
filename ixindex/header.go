// Package ixindex implements the on-disk B+-tree secondary index of
// spec.md §4.2: composite-key ordered map from byte-concatenated column
// values to Rid, with split/coalesce/redistribute maintaining a
// doubly-linked leaf chain for range scans.
//
// Grounded algorithmically on
// original_source/src/index/ix_index_handle.cpp (lower_bound/upper_bound,
// split/insert_into_parent, coalesce_or_redistribute/redistribute/coalesce,
// adjust_root, maintain_parent/maintain_child); styled on the rmfile
// package's pageView-over-pinned-frame idiom, itself grounded on the
// teacher's record/record.go and innodb_store/store/btree.go structuring.
package ixindex

import (
	"encoding/binary"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
)

// IxNoPage is the B+-tree's null-page sentinel (spec.md §3).
const IxNoPage int32 = -1

const ridSize = 8 // int32 PageNo + int32 SlotNo

const (
	fileHdrRootPage  = 0
	fileHdrFirstLeaf = 4
	fileHdrLastLeaf  = 8
	fileHdrColTotLen = 12
	fileHdrNumPages  = 16
	fileHdrOrder     = 20
	fileHdrNumCols   = 24
	fileHdrColsStart = 28 // each col: int32 type, int32 len
)

const (
	pageHdrIsLeaf        = 0
	pageHdrNumKey        = 4
	pageHdrParent        = 8
	pageHdrPrevLeaf       = 12
	pageHdrNextLeaf      = 16
	pageHdrNextFreePage  = 20
	pageHdrSize          = 24
)

// colSpec is one column's contribution to the composite key layout: its
// semantic type (for ix_compare) and byte width, with its cumulative
// offset within the key computed once at open/create time.
type colSpec struct {
	typ    types.ColType
	length int
	offset int
}

// FileHeader mirrors spec.md §3's B+-tree file header.
type FileHeader struct {
	RootPage  int32
	FirstLeaf int32
	LastLeaf  int32
	ColTotLen int32
	NumPages  int32
	Order     int32 // max_size: max keys per node before a split

	cols []colSpec
}

func (h *FileHeader) minSize() int32 { return h.Order / 2 }

func buildColSpecs(cols []types.ColMeta) []colSpec {
	specs := make([]colSpec, len(cols))
	off := 0
	for i, c := range cols {
		specs[i] = colSpec{typ: c.Type, length: c.Len, offset: off}
		off += c.Len
	}
	return specs
}

// computeOrder derives max_size from page capacity, key width, and Rid
// width (spec.md §4.2: "Order is derived from PAGE_SIZE, key width, and
// sizeof(Rid)").
func computeOrder(pageSize, colTotLen int) int32 {
	usable := pageSize - pageHdrSize
	perEntry := colTotLen + ridSize
	order := usable / perEntry
	if order < 3 {
		order = 3
	}
	return int32(order)
}

func encodeHeader(buf []byte, h *FileHeader) {
	putI32(buf[fileHdrRootPage:], h.RootPage)
	putI32(buf[fileHdrFirstLeaf:], h.FirstLeaf)
	putI32(buf[fileHdrLastLeaf:], h.LastLeaf)
	putI32(buf[fileHdrColTotLen:], h.ColTotLen)
	putI32(buf[fileHdrNumPages:], h.NumPages)
	putI32(buf[fileHdrOrder:], h.Order)
	putI32(buf[fileHdrNumCols:], int32(len(h.cols)))
	off := fileHdrColsStart
	for _, c := range h.cols {
		putI32(buf[off:], int32(c.typ))
		putI32(buf[off+4:], int32(c.length))
		off += 8
	}
}

func decodeHeader(buf []byte) *FileHeader {
	h := &FileHeader{
		RootPage:  getI32(buf[fileHdrRootPage:]),
		FirstLeaf: getI32(buf[fileHdrFirstLeaf:]),
		LastLeaf:  getI32(buf[fileHdrLastLeaf:]),
		ColTotLen: getI32(buf[fileHdrColTotLen:]),
		NumPages:  getI32(buf[fileHdrNumPages:]),
		Order:     getI32(buf[fileHdrOrder:]),
	}
	numCols := int(getI32(buf[fileHdrNumCols:]))
	h.cols = make([]colSpec, numCols)
	off := fileHdrColsStart
	cumOffset := 0
	for i := 0; i < numCols; i++ {
		typ := types.ColType(getI32(buf[off:]))
		length := int(getI32(buf[off+4:]))
		h.cols[i] = colSpec{typ: typ, length: length, offset: cumOffset}
		cumOffset += length
		off += 8
	}
	return h
}

func putI32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func getI32(b []byte) int32    { return int32(binary.LittleEndian.Uint32(b)) }

// compareKey compares a and b as composite keys per h's column layout,
// dispatching each column segment through types.IxCompare (spec.md §4.2).
func (h *FileHeader) compareKey(a, b []byte) int {
	for _, c := range h.cols {
		cmp := types.IxCompare(a[c.offset:], b[c.offset:], c.typ, c.length)
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func headerID(fd storage.FD) bufferpool.PageID { return bufferpool.PageID{FD: fd, PageNo: 0} }

func readHeader(pool *bufferpool.Pool, fd storage.FD) (*FileHeader, error) {
	f, err := pool.Fetch(headerID(fd))
	if err != nil {
		return nil, apperr.Wrap("ixindex.readHeader", err)
	}
	h := decodeHeader(f.Data)
	if err := pool.Unpin(headerID(fd), false); err != nil {
		return nil, err
	}
	return h, nil
}

func writeHeader(pool *bufferpool.Pool, fd storage.FD, h *FileHeader) error {
	f, err := pool.Fetch(headerID(fd))
	if err != nil {
		return apperr.Wrap("ixindex.writeHeader", err)
	}
	encodeHeader(f.Data, h)
	return pool.Unpin(headerID(fd), true)
}
