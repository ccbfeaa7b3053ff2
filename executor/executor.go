// Package executor implements the pull-based physical operator pipeline
// over the heap and index layers (spec.md §4.3): table scan, index scan,
// projection, nested-loop join, and the insert/update/delete mutation
// sinks that keep heap and index contents consistent and append undo.
//
// Grounded on the teacher's Iterator/Executor split
// (server/innodb/engine/executor.go: Init/Next/GetRow/Close), adapted from
// a channel-driven SQL-executor shape to a synchronous pull iterator
// matching original_source/src/execution/executor_abstract.h's
// beginTuple/nextTuple/is_end/Next contract — expressed with a single
// Next() that returns (ok, err) instead of separate begin/advance/is_end
// methods, which is the idiomatic Go shape for this kind of cursor.
package executor

import (
	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/types"
)

// Iterator is the physical operator contract every node in the pipeline
// implements.
type Iterator interface {
	// Open prepares the iterator to produce its first row.
	Open() error
	// Next advances to the next row. It returns false once the iterator
	// is exhausted; Record/Rid are only valid after a call that returned
	// (true, nil).
	Next() (bool, error)
	// Record returns the current row.
	Record() *types.Record
	// Rid returns the current row's tuple identifier, when meaningful
	// (scans); composite operators return the zero value.
	Rid() types.Rid
	// Cols describes the columns of Record(), in order.
	Cols() []types.ColMeta
	// TupleLen is the byte width of Record().
	TupleLen() int
	// Close releases resources (buffer-pool pins) the iterator holds.
	Close() error
}

// CompOp is a scalar comparison operator used in scan/join predicates.
type CompOp int

const (
	OpEq CompOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
)

// TabCol names a column by its owning table, used to resolve a
// Condition's operands against a row's Cols().
type TabCol struct {
	Tab string
	Col string
}

// Condition is one predicate clause: `lhs_col OP rhs_val` or
// `lhs_col OP rhs_col` (spec.md §4.3 scan/join predicates).
type Condition struct {
	LhsCol   TabCol
	Op       CompOp
	IsRhsVal bool
	RhsVal   []byte
	RhsCol   TabCol
}

func getCol(cols []types.ColMeta, tc TabCol) (*types.ColMeta, error) {
	for i := range cols {
		if cols[i].TabName == tc.Tab && cols[i].Name == tc.Col {
			return &cols[i], nil
		}
	}
	return nil, apperr.Wrap("executor.getCol", apperr.ErrColumnNotFound)
}

func opCompare(op CompOp, cmp int) (bool, error) {
	switch op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGe:
		return cmp >= 0, nil
	default:
		return false, apperr.Wrap("executor.opCompare", apperr.ErrInternal)
	}
}

// condCheck reports whether rec satisfies every condition in conds, whose
// operands are resolved against cols (spec.md §4.3's cond_check, grounded
// on executor_abstract.h's condCheck).
func condCheck(rec *types.Record, conds []Condition, cols []types.ColMeta) (bool, error) {
	for _, cond := range conds {
		lcol, err := getCol(cols, cond.LhsCol)
		if err != nil {
			return false, err
		}
		lval := rec.Data[lcol.Offset : lcol.Offset+lcol.Len]

		var rval []byte
		var typ types.ColType
		if cond.IsRhsVal {
			rval = cond.RhsVal
			typ = lcol.Type
		} else {
			rcol, err := getCol(cols, cond.RhsCol)
			if err != nil {
				return false, err
			}
			if rcol.Len != lcol.Len {
				return false, apperr.Wrap("executor.condCheck", apperr.ErrInternal)
			}
			rval = rec.Data[rcol.Offset : rcol.Offset+rcol.Len]
			typ = rcol.Type
		}

		cmp := types.IxCompare(lval, rval, typ, lcol.Len)
		ok, err := opCompare(cond.Op, cmp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
