package executor

import (
	"github.com/relstore/relstore/rmfile"
	"github.com/relstore/relstore/types"
)

// TableScan walks every occupied slot of a heap file in page/slot order,
// applying conds at each candidate row before yielding it. Grounded on
// rmfile's page-occupancy bitmap (rmfile.FileHandle.PageOccupancy) since
// the retrieval pack's original_source has no seq-scan executor to port;
// the structure mirrors IndexScan's Open/Next split below.
type TableScan struct {
	fh    *rmfile.FileHandle
	cols  []types.ColMeta
	conds []Condition

	pageNo int32
	slotNo int32
	cur    *types.Record
	rid    types.Rid
}

func NewTableScan(fh *rmfile.FileHandle, cols []types.ColMeta, conds []Condition) *TableScan {
	return &TableScan{fh: fh, cols: cols, conds: conds}
}

func (s *TableScan) Open() error {
	s.pageNo = 1
	s.slotNo = 0
	s.cur = nil
	return nil
}

// advance scans forward from the current (pageNo, slotNo) for the next
// occupied slot whose record satisfies conds, setting cur/rid on success.
func (s *TableScan) advance() error {
	for s.pageNo < s.fh.NumPages {
		occ, err := s.fh.PageOccupancy(s.pageNo)
		if err != nil {
			return err
		}
		for s.slotNo < int32(len(occ)) {
			slot := s.slotNo
			s.slotNo++
			if !occ[slot] {
				continue
			}
			rid := types.Rid{PageNo: s.pageNo, SlotNo: slot}
			rec, err := s.fh.GetRecord(rid)
			if err != nil {
				return err
			}
			ok, err := condCheck(rec, s.conds, s.cols)
			if err != nil {
				return err
			}
			if ok {
				s.cur = rec
				s.rid = rid
				return nil
			}
		}
		s.pageNo++
		s.slotNo = 0
	}
	s.cur = nil
	return nil
}

func (s *TableScan) Next() (bool, error) {
	if err := s.advance(); err != nil {
		return false, err
	}
	return s.cur != nil, nil
}

func (s *TableScan) Record() *types.Record    { return s.cur }
func (s *TableScan) Rid() types.Rid           { return s.rid }
func (s *TableScan) Cols() []types.ColMeta    { return s.cols }
func (s *TableScan) TupleLen() int            { return int(s.fh.RecordSize) }
func (s *TableScan) Close() error             { return nil }
