// Package apperr defines the error vocabulary surfaced by the engine to its
// callers (spec.md §6, §7): sentinel values for user errors, a wrapping type
// that preserves an operation name and the underlying cause, and a distinct
// type for transaction aborts raised out of lock acquisition.
package apperr

import (
	"errors"
	"fmt"
)

// User errors: raised synchronously at the offending operation. They never
// mutate state and never poison the calling transaction (spec.md §7).
var (
	ErrDatabaseExists   = errors.New("database already exists")
	ErrDatabaseNotFound = errors.New("database not found")
	ErrTableExists      = errors.New("table already exists")
	ErrTableNotFound    = errors.New("table not found")
	ErrColumnNotFound   = errors.New("column not found")
	ErrIndexNotFound    = errors.New("index not found")
	ErrIncompatibleType = errors.New("incompatible value type")
	ErrInvalidValueCount = errors.New("value count does not match column count")
	ErrPageNotExist     = errors.New("page does not exist")
	ErrIndexEntryNotFound = errors.New("index entry not found")

	// ErrInternal marks a condition the engine itself should never reach:
	// an unreachable branch in tree balancing, an unexpected field type in
	// a comparison. These are bugs, not user mistakes (spec.md §7).
	ErrInternal = errors.New("internal engine error")
)

// RecordNotFound carries the Rid coordinates of a miss so a caller doesn't
// need to re-derive them (spec.md §6: "RecordNotFound(page_no, slot_no)").
type RecordNotFound struct {
	PageNo int32
	SlotNo int32
}

func (e *RecordNotFound) Error() string {
	return fmt.Sprintf("record not found at page %d slot %d", e.PageNo, e.SlotNo)
}

func (e *RecordNotFound) Is(target error) bool {
	_, ok := target.(*RecordNotFound)
	return ok
}

// AbortReason enumerates why the lock manager aborted a transaction.
type AbortReason string

const (
	ReasonLockOnShrinking    AbortReason = "LOCK_ON_SHRINKING"
	ReasonDeadlockPrevention AbortReason = "DEADLOCK_PREVENTION"
)

// TxnAbort is raised out of lock acquisition (spec.md §4.4, §7). The caller
// must invoke the transaction manager's Abort and propagate failure — the
// engine never swallows one silently.
type TxnAbort struct {
	Reason AbortReason
	TxnID  uint64
}

func (e *TxnAbort) Error() string {
	return fmt.Sprintf("txn %d aborted: %s", e.TxnID, e.Reason)
}

// Op wraps err with the name of the operation that produced it, preserving
// the original error for errors.Is/As. Grounded on the teacher's
// buffer_pool.BufferPoolError{Op, Err} shape.
type Op struct {
	Name string
	Err  error
}

func (e *Op) Error() string {
	if e.Err == nil {
		return e.Name
	}
	return e.Name + ": " + e.Err.Error()
}

func (e *Op) Unwrap() error { return e.Err }

// Wrap annotates err with an operation name. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Op{Name: op, Err: err}
}

func IsNotFound(err error) bool {
	var rnf *RecordNotFound
	return errors.As(err, &rnf) || errors.Is(err, ErrPageNotExist)
}

func IsAbort(err error) bool {
	var a *TxnAbort
	return errors.As(err, &a)
}
