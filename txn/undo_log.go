package txn

import "github.com/relstore/relstore/types"

// WriteType is the kind of heap mutation a WriteRecord undoes (spec.md
// §4.5). Grounded on the teacher's UndoLogEntry.Type
// (manager/undo_log_manager.go), generalized from a raw byte op code to
// the three mutation kinds this engine actually performs.
type WriteType int

const (
	InsertTuple WriteType = iota
	DeleteTuple
	UpdateTuple
)

// WriteRecord is one entry in a transaction's undo log: enough to reverse
// exactly one heap mutation and its index mirrors (spec.md §4.5 "Abort").
// OldImage carries the pre-image: for InsertTuple it is the image that was
// inserted (so abort can rebuild index keys to delete); for DeleteTuple it
// is the image that was deleted (so abort can re-insert it at the same
// Rid); for UpdateTuple it is the pre-update image (so abort can restore
// it and swap index keys back).
type WriteRecord struct {
	Type     WriteType
	Table    string
	Rid      types.Rid
	OldImage []byte
}
