package executor

import "github.com/relstore/relstore/types"

// NestedLoopJoin restarts the right child for every left row and emits
// every combination satisfying conds, lazily re-opening right on the
// first advance into a new left row (spec.md §4.3 "nested-loop join
// (restart-right semantics)"; grounded on
// original_source/src/execution/executor_nestedloop_join.h).
type NestedLoopJoin struct {
	left, right Iterator
	conds       []Condition
	cols        []types.ColMeta
	width       int

	leftOK       bool
	rightOK      bool
	rightStarted bool
	cur          *types.Record
}

func NewNestedLoopJoin(left, right Iterator, conds []Condition) *NestedLoopJoin {
	leftCols := left.Cols()
	rightCols := right.Cols()
	cols := make([]types.ColMeta, 0, len(leftCols)+len(rightCols))
	cols = append(cols, leftCols...)
	for _, c := range rightCols {
		c.Offset += left.TupleLen()
		cols = append(cols, c)
	}
	return &NestedLoopJoin{
		left: left, right: right, conds: conds, cols: cols,
		width: left.TupleLen() + right.TupleLen(),
	}
}

func (j *NestedLoopJoin) Open() error {
	if err := j.left.Open(); err != nil {
		return err
	}
	ok, err := j.left.Next()
	if err != nil {
		return err
	}
	j.leftOK = ok
	j.rightStarted = false
	j.cur = nil
	return nil
}

// advance finds the next (left, right) pair satisfying conds, restarting
// the right child whenever it moves on to a new left row. It leaves the
// right child positioned one row past the pair it returns; the left child
// stays on that pair's left row.
func (j *NestedLoopJoin) advance() error {
	for j.leftOK {
		if !j.rightStarted {
			if err := j.right.Open(); err != nil {
				return err
			}
			ok, err := j.right.Next()
			if err != nil {
				return err
			}
			j.rightOK = ok
			j.rightStarted = true
		}

		for j.rightOK {
			rec := j.combine()
			matched, err := condCheck(rec, j.conds, j.cols)
			if err != nil {
				return err
			}
			ok, err := j.right.Next()
			if err != nil {
				return err
			}
			j.rightOK = ok
			if matched {
				j.cur = rec
				return nil
			}
		}

		ok, err := j.left.Next()
		if err != nil {
			return err
		}
		j.leftOK = ok
		j.rightStarted = false
	}
	j.cur = nil
	return nil
}

func (j *NestedLoopJoin) combine() *types.Record {
	l := j.left.Record()
	r := j.right.Record()
	out := types.NewRecord(j.width)
	copy(out.Data, l.Data)
	copy(out.Data[len(l.Data):], r.Data)
	return out
}

func (j *NestedLoopJoin) Next() (bool, error) {
	if err := j.advance(); err != nil {
		return false, err
	}
	return j.cur != nil, nil
}

func (j *NestedLoopJoin) Record() *types.Record { return j.cur }
func (j *NestedLoopJoin) Rid() types.Rid        { return types.Rid{} }
func (j *NestedLoopJoin) Cols() []types.ColMeta { return j.cols }
func (j *NestedLoopJoin) TupleLen() int         { return j.width }

func (j *NestedLoopJoin) Close() error {
	if err := j.left.Close(); err != nil {
		return err
	}
	return j.right.Close()
}
