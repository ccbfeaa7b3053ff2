package executor

import "github.com/relstore/relstore/types"

// Projection re-projects each row from prev onto a selected, reordered
// subset of columns (spec.md §4.3; grounded on
// original_source/src/execution/executor_projection.h).
type Projection struct {
	prev    Iterator
	cols    []types.ColMeta
	selIdxs []int
	width   int
}

// NewProjection builds a projection over selCols, which must each name a
// column present in prev.Cols().
func NewProjection(prev Iterator, selCols []TabCol) (*Projection, error) {
	prevCols := prev.Cols()
	p := &Projection{prev: prev}
	offset := 0
	for _, sc := range selCols {
		col, err := getCol(prevCols, sc)
		if err != nil {
			return nil, err
		}
		idx := -1
		for i := range prevCols {
			if &prevCols[i] == col {
				idx = i
				break
			}
		}
		p.selIdxs = append(p.selIdxs, idx)
		out := *col
		out.Offset = offset
		offset += out.Len
		p.cols = append(p.cols, out)
	}
	p.width = offset
	return p, nil
}

func (p *Projection) Open() error            { return p.prev.Open() }
func (p *Projection) Next() (bool, error)    { return p.prev.Next() }
func (p *Projection) Cols() []types.ColMeta  { return p.cols }
func (p *Projection) TupleLen() int          { return p.width }
func (p *Projection) Rid() types.Rid         { return p.prev.Rid() }
func (p *Projection) Close() error           { return p.prev.Close() }

func (p *Projection) Record() *types.Record {
	prevRec := p.prev.Record()
	prevCols := p.prev.Cols()
	out := types.NewRecord(p.width)
	for i, col := range p.cols {
		prevCol := prevCols[p.selIdxs[i]]
		copy(out.Data[col.Offset:col.Offset+col.Len], prevRec.Data[prevCol.Offset:prevCol.Offset+prevCol.Len])
	}
	return out
}
