// Package rmfile implements the clustered heap file manager of spec.md
// §4.1: page-structured slotted storage of fixed-size tuples with a
// singly-linked free-page list threaded through page headers.
//
// Grounded algorithmically on original_source/src/record/rm_file_handle.cpp
// (get_record/insert_record/insert_record(rid)/delete_record/update_record
// and the create_page_handle/release_page_handle free-list bookkeeping);
// styled on the teacher's record/record.go (small struct wrapping raw
// bytes) and manager/page_manager.go (fetch-through-pool page access).
package rmfile

import (
	"encoding/binary"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/logger"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
)

// RmNoPage is the free-list and page-pointer sentinel (spec.md §3).
const RmNoPage int32 = -1

const (
	fileHdrRecordSize         = 0
	fileHdrNumRecordsPerPage  = 4
	fileHdrBitmapSize         = 8
	fileHdrNumPages           = 12
	fileHdrFirstFreePageNo    = 16
	fileHdrEncodedSize        = 20
	pageHdrNumRecords         = 0
	pageHdrNextFreePageNo     = 4
	pageHdrEncodedSize        = 8
)

// FileHandle owns one table's heap file: page 0 holds the file header,
// pages [1, NumPages) hold tuples.
type FileHandle struct {
	disk     *storage.DiskManager
	pool     *bufferpool.Pool
	fd       storage.FD
	pageSize int

	RecordSize        int32
	NumRecordsPerPage int32
	BitmapSize        int32
	NumPages          int32
	FirstFreePageNo   int32
}

func bitmapSizeFor(numRecordsPerPage int) int {
	return (numRecordsPerPage + 7) / 8
}

// recordsPerPage derives the largest slot count that fits pageSize once its
// header, bitmap, and slot array are all accounted for (spec.md §3).
func recordsPerPage(pageSize, recordSize int) int {
	usable := pageSize - pageHdrEncodedSize
	n := (usable * 8) / (1 + recordSize*8)
	for n > 0 && pageHdrEncodedSize+bitmapSizeFor(n)+n*recordSize > pageSize {
		n--
	}
	return n
}

// Create initializes a new heap file named name for tuples of width
// recordSize.
func Create(disk *storage.DiskManager, pool *bufferpool.Pool, name string, recordSize, pageSize int) (*FileHandle, error) {
	if err := disk.CreateFile(name); err != nil {
		return nil, apperr.Wrap("rmfile.Create", err)
	}
	fd, err := disk.OpenFile(name)
	if err != nil {
		return nil, apperr.Wrap("rmfile.Create", err)
	}
	// Page 0 must exist on disk before the header can be fetched into it.
	hdrFrame, err := pool.NewPage(fd)
	if err != nil {
		return nil, apperr.Wrap("rmfile.Create", err)
	}
	if err := pool.Unpin(hdrFrame.ID(), true); err != nil {
		return nil, apperr.Wrap("rmfile.Create", err)
	}

	nrpp := recordsPerPage(pageSize, recordSize)
	fh := &FileHandle{
		disk:              disk,
		pool:              pool,
		fd:                fd,
		pageSize:          pageSize,
		RecordSize:        int32(recordSize),
		NumRecordsPerPage: int32(nrpp),
		BitmapSize:        int32(bitmapSizeFor(nrpp)),
		NumPages:          1, // page 0 is the header page
		FirstFreePageNo:   RmNoPage,
	}
	if err := fh.writeHeader(); err != nil {
		return nil, err
	}
	return fh, nil
}

// Open reopens an existing heap file, reading its header from page 0.
func Open(disk *storage.DiskManager, pool *bufferpool.Pool, name string, pageSize int) (*FileHandle, error) {
	fd, err := disk.OpenFile(name)
	if err != nil {
		return nil, apperr.Wrap("rmfile.Open", err)
	}
	fh := &FileHandle{disk: disk, pool: pool, fd: fd, pageSize: pageSize}
	if err := fh.readHeader(); err != nil {
		return nil, err
	}
	return fh, nil
}

func (fh *FileHandle) headerID() bufferpool.PageID {
	return bufferpool.PageID{FD: fh.fd, PageNo: 0}
}

func (fh *FileHandle) writeHeader() error {
	f, err := fh.pool.Fetch(fh.headerID())
	if err != nil {
		return apperr.Wrap("rmfile.writeHeader", err)
	}
	binary.LittleEndian.PutUint32(f.Data[fileHdrRecordSize:], uint32(fh.RecordSize))
	binary.LittleEndian.PutUint32(f.Data[fileHdrNumRecordsPerPage:], uint32(fh.NumRecordsPerPage))
	binary.LittleEndian.PutUint32(f.Data[fileHdrBitmapSize:], uint32(fh.BitmapSize))
	binary.LittleEndian.PutUint32(f.Data[fileHdrNumPages:], uint32(fh.NumPages))
	putI32(f.Data[fileHdrFirstFreePageNo:], fh.FirstFreePageNo)
	return fh.pool.Unpin(fh.headerID(), true)
}

func (fh *FileHandle) readHeader() error {
	f, err := fh.pool.Fetch(fh.headerID())
	if err != nil {
		return apperr.Wrap("rmfile.readHeader", err)
	}
	fh.RecordSize = int32(binary.LittleEndian.Uint32(f.Data[fileHdrRecordSize:]))
	fh.NumRecordsPerPage = int32(binary.LittleEndian.Uint32(f.Data[fileHdrNumRecordsPerPage:]))
	fh.BitmapSize = int32(binary.LittleEndian.Uint32(f.Data[fileHdrBitmapSize:]))
	fh.NumPages = int32(binary.LittleEndian.Uint32(f.Data[fileHdrNumPages:]))
	fh.FirstFreePageNo = getI32(f.Data[fileHdrFirstFreePageNo:])
	return fh.pool.Unpin(fh.headerID(), false)
}

func putI32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func getI32(b []byte) int32    { return int32(binary.LittleEndian.Uint32(b)) }

// pageView is a decoded window onto one data page's header, bitmap, and
// slot array, backed by the pinned frame's bytes.
type pageView struct {
	frame  *bufferpool.Frame
	bitmap bitmap
}

func (pv *pageView) numRecords() int32     { return getI32(pv.frame.Data[pageHdrNumRecords:]) }
func (pv *pageView) setNumRecords(n int32) { putI32(pv.frame.Data[pageHdrNumRecords:], n) }
func (pv *pageView) nextFree() int32       { return getI32(pv.frame.Data[pageHdrNextFreePageNo:]) }
func (pv *pageView) setNextFree(n int32)   { putI32(pv.frame.Data[pageHdrNextFreePageNo:], n) }

func (pv *pageView) slot(recordSize int, slotNo int32) []byte {
	off := pageHdrEncodedSize + int(pv.bitmap.size()) + int(slotNo)*recordSize
	return pv.frame.Data[off : off+recordSize]
}

func (b bitmap) size() int { return len(b) }

func (fh *FileHandle) view(pageNo int32) (*pageView, error) {
	if pageNo < 1 || pageNo >= fh.NumPages {
		return nil, apperr.Wrap("rmfile.view", apperr.ErrPageNotExist)
	}
	f, err := fh.pool.Fetch(bufferpool.PageID{FD: fh.fd, PageNo: pageNo})
	if err != nil {
		return nil, apperr.Wrap("rmfile.view", err)
	}
	bm := bitmap(f.Data[pageHdrEncodedSize : pageHdrEncodedSize+int(fh.BitmapSize)])
	return &pageView{frame: f, bitmap: bm}, nil
}

func (fh *FileHandle) unpin(pageNo int32, dirty bool) {
	_ = fh.pool.Unpin(bufferpool.PageID{FD: fh.fd, PageNo: pageNo}, dirty)
}

// allocatePage appends a fresh, empty page and pushes it onto the head of
// the free list.
func (fh *FileHandle) allocatePage() (*pageView, int32, error) {
	f, err := fh.pool.NewPage(fh.fd)
	if err != nil {
		return nil, 0, apperr.Wrap("rmfile.allocatePage", err)
	}
	pageNo := f.ID().PageNo
	for i := range f.Data {
		f.Data[i] = 0
	}
	pv := &pageView{frame: f, bitmap: bitmap(f.Data[pageHdrEncodedSize : pageHdrEncodedSize+int(fh.BitmapSize)])}
	pv.setNumRecords(0)
	pv.setNextFree(fh.FirstFreePageNo)

	fh.FirstFreePageNo = pageNo
	if pageNo >= fh.NumPages {
		fh.NumPages = pageNo + 1
	}
	if err := fh.writeHeader(); err != nil {
		return nil, 0, err
	}
	return pv, pageNo, nil
}

// GetRecord fetches the tuple at rid (spec.md §4.1).
func (fh *FileHandle) GetRecord(rid types.Rid) (*types.Record, error) {
	pv, err := fh.view(rid.PageNo)
	if err != nil {
		return nil, err
	}
	defer fh.unpin(rid.PageNo, false)

	if !pv.bitmap.isSet(int(rid.SlotNo)) {
		return nil, apperr.Wrap("rmfile.GetRecord", &apperr.RecordNotFound{PageNo: rid.PageNo, SlotNo: rid.SlotNo})
	}
	rec := types.NewRecord(int(fh.RecordSize))
	copy(rec.Data, pv.slot(int(fh.RecordSize), rid.SlotNo))
	return rec, nil
}

// InsertRecord places data in the head of the free list, allocating a
// fresh page first if the list is empty (spec.md §4.1).
func (fh *FileHandle) InsertRecord(data []byte) (types.Rid, error) {
	var pv *pageView
	var pageNo int32
	var err error

	if fh.FirstFreePageNo == RmNoPage {
		pv, pageNo, err = fh.allocatePage()
	} else {
		pageNo = fh.FirstFreePageNo
		pv, err = fh.view(pageNo)
	}
	if err != nil {
		return types.Rid{}, err
	}
	defer fh.unpin(pageNo, true)

	slotNo := pv.bitmap.firstClear(int(fh.NumRecordsPerPage))
	if slotNo < 0 {
		return types.Rid{}, apperr.Wrap("rmfile.InsertRecord", apperr.ErrInternal)
	}
	pv.bitmap.set(slotNo)
	pv.setNumRecords(pv.numRecords() + 1)
	copy(pv.slot(int(fh.RecordSize), int32(slotNo)), data)

	if pv.numRecords() == fh.NumRecordsPerPage {
		fh.FirstFreePageNo = pv.nextFree()
		if err := fh.writeHeader(); err != nil {
			return types.Rid{}, err
		}
	}

	logger.L.Tracef("rmfile: inserted rid=(%d,%d)", pageNo, slotNo)
	return types.Rid{PageNo: pageNo, SlotNo: int32(slotNo)}, nil
}

// InsertRecordAt restores data at exactly rid, extending the file if rid's
// page does not yet exist. Used by undo of DELETE_TUPLE so the original Rid
// is restored rather than landing wherever InsertRecord happens to pick
// (spec.md §9 open question).
func (fh *FileHandle) InsertRecordAt(rid types.Rid, data []byte) error {
	for fh.NumPages <= rid.PageNo {
		_, pageNo, err := fh.allocatePage()
		if err != nil {
			return err
		}
		fh.unpin(pageNo, true)
	}
	pv, err := fh.view(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(rid.PageNo, true)

	if pv.bitmap.isSet(int(rid.SlotNo)) {
		return apperr.Wrap("rmfile.InsertRecordAt", apperr.ErrInternal)
	}
	pv.bitmap.set(int(rid.SlotNo))
	pv.setNumRecords(pv.numRecords() + 1)
	copy(pv.slot(int(fh.RecordSize), rid.SlotNo), data)

	if pv.numRecords() == fh.NumRecordsPerPage {
		if err := fh.unlinkFromFreeList(rid.PageNo); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecord clears rid's slot, pushing the page onto the free list if it
// was previously full (spec.md §4.1).
func (fh *FileHandle) DeleteRecord(rid types.Rid) error {
	pv, err := fh.view(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(rid.PageNo, true)

	if !pv.bitmap.isSet(int(rid.SlotNo)) {
		return apperr.Wrap("rmfile.DeleteRecord", &apperr.RecordNotFound{PageNo: rid.PageNo, SlotNo: rid.SlotNo})
	}
	wasFull := pv.numRecords() == fh.NumRecordsPerPage
	pv.bitmap.reset(int(rid.SlotNo))
	pv.setNumRecords(pv.numRecords() - 1)

	if wasFull {
		pv.setNextFree(fh.FirstFreePageNo)
		fh.FirstFreePageNo = rid.PageNo
		if err := fh.writeHeader(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRecord overwrites rid's slot in place; tuples are fixed-width, so
// no relocation is ever required (spec.md §4.1).
func (fh *FileHandle) UpdateRecord(rid types.Rid, data []byte) error {
	pv, err := fh.view(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(rid.PageNo, true)

	if !pv.bitmap.isSet(int(rid.SlotNo)) {
		return apperr.Wrap("rmfile.UpdateRecord", &apperr.RecordNotFound{PageNo: rid.PageNo, SlotNo: rid.SlotNo})
	}
	copy(pv.slot(int(fh.RecordSize), rid.SlotNo), data)
	return nil
}

// PageOccupancy reports which slots of pageNo are set, for the table scan
// executor to walk without probing each slot individually.
func (fh *FileHandle) PageOccupancy(pageNo int32) ([]bool, error) {
	pv, err := fh.view(pageNo)
	if err != nil {
		return nil, err
	}
	defer fh.unpin(pageNo, false)

	out := make([]bool, fh.NumRecordsPerPage)
	for i := range out {
		out[i] = pv.bitmap.isSet(i)
	}
	return out, nil
}

// unlinkFromFreeList removes pageNo from the free list wherever it sits.
// InsertRecordAt is the only caller that can need a non-head removal; every
// other path only ever manipulates the head (spec.md §4.1 free-list
// policy).
func (fh *FileHandle) unlinkFromFreeList(pageNo int32) error {
	if fh.FirstFreePageNo == pageNo {
		pv, err := fh.view(pageNo)
		if err != nil {
			return err
		}
		fh.FirstFreePageNo = pv.nextFree()
		fh.unpin(pageNo, false)
		return fh.writeHeader()
	}

	cur := fh.FirstFreePageNo
	for cur != RmNoPage {
		pv, err := fh.view(cur)
		if err != nil {
			return err
		}
		next := pv.nextFree()
		if next == pageNo {
			target, err := fh.view(pageNo)
			if err != nil {
				fh.unpin(cur, false)
				return err
			}
			pv.setNextFree(target.nextFree())
			fh.unpin(pageNo, false)
			fh.unpin(cur, true)
			return nil
		}
		fh.unpin(cur, false)
		cur = next
	}
	return nil
}

// Close flushes the header and releases the file descriptor.
func (fh *FileHandle) Close() error {
	if err := fh.writeHeader(); err != nil {
		return err
	}
	if err := fh.pool.FlushPage(fh.headerID()); err != nil {
		return err
	}
	return fh.disk.CloseFile(fh.fd)
}

// FD exposes the underlying disk-manager file descriptor, needed by callers
// that key table-level and record-level locks by it (the catalog's DDL and
// the mutating executors).
func (fh *FileHandle) FD() storage.FD { return fh.fd }
