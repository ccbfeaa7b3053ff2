package ixindex

import "github.com/relstore/relstore/types"

// Scan walks a half-open range of leaf entries [lower, upper), following
// next_leaf links (spec.md §4.2 "Range iterator (IxScan)").
type Scan struct {
	ih    *IndexHandle
	cur   types.Iid
	end   types.Iid
}

// NewScan builds a range iterator over [lower, upper).
func NewScan(ih *IndexHandle, lower, upper types.Iid) *Scan {
	return &Scan{ih: ih, cur: lower, end: upper}
}

// Valid reports whether the cursor still points at an in-range entry.
func (s *Scan) Valid() bool {
	if s.cur.PageNo == IxNoPage {
		return false
	}
	return s.cur != s.end
}

// Rid returns the Rid the cursor currently points at.
func (s *Scan) Rid() (types.Rid, error) {
	return s.ih.GetRid(s.cur)
}

// Next advances the cursor by one entry, crossing leaf boundaries as
// needed.
func (s *Scan) Next() error {
	n, err := s.ih.nextIid(s.cur)
	if err != nil {
		return err
	}
	s.cur = n
	return nil
}
