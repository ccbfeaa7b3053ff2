// Package types holds the wire-compatible data model shared by every
// component of the engine: column and table metadata, tuple and index
// identifiers, and the raw-byte key comparator. Grounded on the teacher's
// server/innodb/metadata/column.go shape, generalized to the fixed-width
// binary layout spec.md §3 requires (the teacher's ColumnMeta is variable
// and nullable; ours is not, since heap tuples here are fixed-width).
package types

import (
	"bytes"
	"fmt"
)

// ColType is the set of column types the engine understands.
type ColType int

const (
	TypeInt ColType = iota
	TypeFloat
	TypeString
)

func (t ColType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// ColMeta describes one fixed-width column within a tuple.
type ColMeta struct {
	TabName  string
	Name     string
	Type     ColType
	Len      int // width in bytes
	Offset   int // byte offset within the tuple
	HasIndex bool
}

// TabMeta describes a table: its columns in declared order and the set of
// indexes built over it.
type TabMeta struct {
	Name    string
	Cols    []ColMeta
	Indexes []IndexMeta
}

// TupleLen returns the width of one tuple: the last column's offset plus
// its length (spec.md §3).
func (t *TabMeta) TupleLen() int {
	if len(t.Cols) == 0 {
		return 0
	}
	last := t.Cols[len(t.Cols)-1]
	return last.Offset + last.Len
}

// GetCol looks up a column by name.
func (t *TabMeta) GetCol(name string) (*ColMeta, bool) {
	for i := range t.Cols {
		if t.Cols[i].Name == name {
			return &t.Cols[i], true
		}
	}
	return nil, false
}

// IsIndex reports whether cols (in order) names an existing index and, if
// so, returns it.
func (t *TabMeta) IsIndex(cols []string) (*IndexMeta, bool) {
	for i := range t.Indexes {
		if sameColNames(t.Indexes[i].ColNames(), cols) {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

func sameColNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IndexMeta describes a composite-key B+-tree index over cols, in order.
// Index identity is the ordered sequence of column names (spec.md §3).
type IndexMeta struct {
	TabName   string
	ColNum    int
	ColTotLen int
	Cols      []ColMeta
}

// ColNames returns the ordered column-name identity of the index.
func (im *IndexMeta) ColNames() []string {
	names := make([]string, len(im.Cols))
	for i, c := range im.Cols {
		names[i] = c.Name
	}
	return names
}

// FileName is how the index's on-disk file is named (spec.md §6):
// "<table>_<col1>_<col2>_..._.idx".
func (im *IndexMeta) FileName() string {
	name := im.TabName
	for _, c := range im.Cols {
		name += "_" + c.Name
	}
	return name + "_.idx"
}

// NewIndexMeta builds an IndexMeta from a table's columns, given the
// ordered column names that participate in the index.
func NewIndexMeta(tab *TabMeta, colNames []string) (*IndexMeta, error) {
	cols := make([]ColMeta, 0, len(colNames))
	total := 0
	for _, name := range colNames {
		c, ok := tab.GetCol(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found on table %q", name, tab.Name)
		}
		cols = append(cols, *c)
		total += c.Len
	}
	return &IndexMeta{
		TabName:   tab.Name,
		ColNum:    len(cols),
		ColTotLen: total,
		Cols:      cols,
	}, nil
}

// Rid identifies one tuple's physical slot in its heap file. Slot -1 marks
// an internal B+-tree child pointer rather than a heap reference (spec.md
// §4.2 — "the -1 slot marks the Rid as an internal child pointer").
type Rid struct {
	PageNo int32
	SlotNo int32
}

// IsChildPointer reports whether this Rid is an internal B+-tree child
// pointer rather than a heap tuple location.
func (r Rid) IsChildPointer() bool { return r.SlotNo == -1 }

func (r Rid) String() string { return fmt.Sprintf("(%d,%d)", r.PageNo, r.SlotNo) }

// Iid identifies a position within a B+-tree's leaf sequence.
type Iid struct {
	PageNo int32
	SlotNo int32
}

func (i Iid) String() string { return fmt.Sprintf("(%d,%d)", i.PageNo, i.SlotNo) }

// Record is an opaque fixed-width tuple byte buffer.
type Record struct {
	Data []byte
}

// NewRecord allocates a zeroed record of the given width.
func NewRecord(size int) *Record {
	return &Record{Data: make([]byte, size)}
}

// Clone returns a deep copy, used when a caller must retain a pre-image
// across a mutation (undo logging, spec.md §4.3 "old_image").
func (r *Record) Clone() *Record {
	cp := make([]byte, len(r.Data))
	copy(cp, r.Data)
	return &Record{Data: cp}
}

// IxCompare returns the sign of a-b, comparing len bytes of each per the
// column's semantic type (spec.md §3). Fixed-length binary for numerics,
// blank-padded fixed-width for strings.
func IxCompare(a, b []byte, typ ColType, length int) int {
	switch typ {
	case TypeInt:
		ai := decodeInt(a[:length])
		bi := decodeInt(b[:length])
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case TypeFloat:
		af := decodeFloat(a[:length])
		bf := decodeFloat(b[:length])
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case TypeString:
		return bytes.Compare(a[:length], b[:length])
	default:
		panic(fmt.Sprintf("ix_compare: unknown column type %v", typ))
	}
}
