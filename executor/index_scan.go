package executor

import (
	"github.com/relstore/relstore/ixindex"
	"github.com/relstore/relstore/rmfile"
	"github.com/relstore/relstore/types"
)

// IndexScan walks a B+-tree over an equality/range-narrowed bound derived
// from conds and re-checks every candidate against the full predicate
// list, since only the leading index column can narrow the bound
// (spec.md §4.3; grounded on
// original_source/src/execution/executor_index_scan.h's beginTuple,
// including its lhs/rhs swap-for-joins step so a condition written with
// the indexed table on the right still narrows the scan).
type IndexScan struct {
	fh        *rmfile.FileHandle
	ih        *ixindex.IndexHandle
	tabName   string
	indexCols []types.ColMeta
	cols      []types.ColMeta
	conds     []Condition

	scan *ixindex.Scan
	cur  *types.Record
	rid  types.Rid
}

func NewIndexScan(fh *rmfile.FileHandle, ih *ixindex.IndexHandle, tabName string, indexCols []types.ColMeta, cols []types.ColMeta, conds []Condition) *IndexScan {
	return &IndexScan{fh: fh, ih: ih, tabName: tabName, indexCols: indexCols, cols: cols, conds: conds}
}

// swapOp maps an operator to the one that holds when its operands are
// swapped (a < b  <=>  b > a).
func swapOp(op CompOp) CompOp {
	switch op {
	case OpLt:
		return OpGt
	case OpGt:
		return OpLt
	case OpLe:
		return OpGe
	case OpGe:
		return OpLe
	default:
		return op
	}
}

// fedConds normalizes every condition so its lhs refers to tabName,
// swapping operands (and the operator) when a join predicate was written
// the other way around.
func (s *IndexScan) fedConds() []Condition {
	out := make([]Condition, len(s.conds))
	for i, c := range s.conds {
		if c.LhsCol.Tab != s.tabName && !c.IsRhsVal {
			c.LhsCol, c.RhsCol = c.RhsCol, c.LhsCol
			c.Op = swapOp(c.Op)
		}
		out[i] = c
	}
	return out
}

func (s *IndexScan) Open() error {
	conds := s.fedConds()

	lower := s.ih.LeafBegin()
	upper, err := s.ih.LeafEnd()
	if err != nil {
		return err
	}

	// Only the leading index column can narrow the bound: build its key
	// from the first matching value condition and tighten lower/upper
	// per the operator (spec.md §4.3).
	leadCol := s.indexCols[0]
	for _, cond := range conds {
		if !cond.IsRhsVal || cond.Op == OpNe || cond.LhsCol.Col != leadCol.Name {
			continue
		}
		key := cond.RhsVal[:leadCol.Len]
		switch cond.Op {
		case OpEq:
			lower, err = s.ih.LowerBound(key)
			if err != nil {
				return err
			}
			upper, err = s.ih.UpperBound(key)
			if err != nil {
				return err
			}
		case OpLt:
			upper, err = s.ih.LowerBound(key)
			if err != nil {
				return err
			}
		case OpGt:
			lower, err = s.ih.UpperBound(key)
			if err != nil {
				return err
			}
		case OpLe:
			upper, err = s.ih.UpperBound(key)
			if err != nil {
				return err
			}
		case OpGe:
			lower, err = s.ih.LowerBound(key)
			if err != nil {
				return err
			}
		}
		break // only one index column is allowed to narrow the bound
	}

	s.scan = ixindex.NewScan(s.ih, lower, upper)
	s.conds = conds
	s.cur = nil
	return nil
}

// advance searches forward from the scan's current position (inclusive)
// for the next row satisfying conds, stepping the underlying B+-tree scan
// past every inspected entry — including, on success, the one it returns,
// so the next call to advance starts past it.
func (s *IndexScan) advance() error {
	for s.scan.Valid() {
		rid, err := s.scan.Rid()
		if err != nil {
			return err
		}
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
			return s.scan.Next()
		}
		if err := s.scan.Next(); err != nil {
			return err
		}
	}
	s.cur = nil
	return nil
}

func (s *IndexScan) Next() (bool, error) {
	if err := s.advance(); err != nil {
		return false, err
	}
	return s.cur != nil, nil
}

func (s *IndexScan) Record() *types.Record { return s.cur }
func (s *IndexScan) Rid() types.Rid        { return s.rid }
func (s *IndexScan) Cols() []types.ColMeta { return s.cols }
func (s *IndexScan) TupleLen() int         { return int(s.fh.RecordSize) }
func (s *IndexScan) Close() error          { return nil }
