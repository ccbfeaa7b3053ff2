// Package txn implements multi-granularity two-phase locking with deadlock
// prevention and the transaction manager that drives undo on abort
// (spec.md §4.4, §4.5). Structured like the teacher's
// manager.LockManager/TransactionManager pair, but the grant policy is
// rebuilt end to end: the teacher detects deadlocks with a periodic
// wait-graph sweep (manager/lock_manager.go deadlockDetection); this lock
// manager never lets a request wait at all, so there is no graph to sweep
// and no detection goroutine to run.
package txn

import (
	"errors"
	"sync"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
)

// errTerminalTxn is returned when a committed or aborted transaction
// requests a new lock. It is not a TxnAbort: the transaction already
// reached a terminal state, so there is nothing left to abort.
var errTerminalTxn = errors.New("transaction already committed or aborted")

// LockMode is one of the five multi-granularity modes of spec.md §4.4.
type LockMode int

const (
	LockIS LockMode = iota
	LockIX
	LockS
	LockSIX
	LockX
)

// compatible reports whether a request for `req` is compatible with an
// already-granted group mode `held`, per the IS/IX/S/SIX/X matrix.
var compatMatrix = [5][5]bool{
	// rows: held; columns: req  IS     IX     S      SIX    X
	LockIS:  {true, true, true, true, false},
	LockIX:  {true, true, false, false, false},
	LockS:   {true, false, true, false, false},
	LockSIX: {true, false, false, false, false},
	LockX:   {false, false, false, false, false},
}

func compatible(held, req LockMode) bool { return compatMatrix[held][req] }

// lub returns the least upper bound of two granted modes, used to recompute
// a data id's group mode after every grant or release.
func lub(a, b LockMode) LockMode {
	if a == b {
		return a
	}
	// Only a handful of pairings are reachable by upgrade rules; encode
	// the join table directly rather than a generic lattice walk.
	pairs := map[[2]LockMode]LockMode{
		{LockIS, LockIX}: LockIX, {LockIX, LockIS}: LockIX,
		{LockIS, LockS}: LockS, {LockS, LockIS}: LockS,
		{LockIS, LockSIX}: LockSIX, {LockSIX, LockIS}: LockSIX,
		{LockIS, LockX}: LockX, {LockX, LockIS}: LockX,
		{LockIX, LockS}: LockSIX, {LockS, LockIX}: LockSIX,
		{LockIX, LockSIX}: LockSIX, {LockSIX, LockIX}: LockSIX,
		{LockIX, LockX}: LockX, {LockX, LockIX}: LockX,
		{LockS, LockSIX}: LockSIX, {LockSIX, LockS}: LockSIX,
		{LockS, LockX}: LockX, {LockX, LockS}: LockX,
		{LockSIX, LockX}: LockX, {LockX, LockSIX}: LockX,
	}
	if m, ok := pairs[[2]LockMode{a, b}]; ok {
		return m
	}
	return LockX
}

// upgradeAllowed reports whether a transaction already holding `from` may
// upgrade in place to `to` (spec.md §4.4 upgrade rules).
func upgradeAllowed(from, to LockMode) bool {
	if from == to {
		return true
	}
	switch from {
	case LockIS:
		return to == LockS || to == LockIX || to == LockSIX || to == LockX
	case LockIX:
		return to == LockSIX || to == LockX
	case LockS:
		return to == LockSIX || to == LockX
	case LockSIX:
		return to == LockX
	}
	return false
}

// TxnState mirrors the 2PL phase of a transaction, tracked here (rather
// than solely in TransactionManager) because the lock manager must
// consult and mutate it on every acquire/release without a round trip.
type TxnState int

const (
	StateGrowing TxnState = iota
	StateShrinking
	StateCommitted
	StateAborted
)

// DataID identifies a lockable resource: a whole table (PageNo and SlotNo
// both noSlot)
// or one record within a table (spec.md §4.4: "keyed by table fd" /
// "keyed by (table fd, Rid)").
type DataID struct {
	FD  storage.FD
	Rid types.Rid
}

const noSlot = -1

func TableID(fd storage.FD) DataID { return DataID{FD: fd, Rid: types.Rid{PageNo: noSlot, SlotNo: noSlot}} }
func RecordID(fd storage.FD, rid types.Rid) DataID { return DataID{FD: fd, Rid: rid} }

func (d DataID) isTable() bool { return d.Rid.PageNo == noSlot && d.Rid.SlotNo == noSlot }

type lockRequest struct {
	txnID uint64
	mode  LockMode
}

type lockQueue struct {
	requests []lockRequest
	group    LockMode
}

func (q *lockQueue) find(txnID uint64) int {
	for i, r := range q.requests {
		if r.txnID == txnID {
			return i
		}
	}
	return -1
}

func (q *lockQueue) recomputeGroup() {
	if len(q.requests) == 0 {
		return
	}
	mode := q.requests[0].mode
	for _, r := range q.requests[1:] {
		mode = lub(mode, r.mode)
	}
	q.group = mode
}

// txnInfo is the subset of a transaction's bookkeeping the lock manager
// owns directly: its 2PL state and the set of data ids it currently holds.
type txnInfo struct {
	state TxnState
	held  map[DataID]LockMode
}

// LockManager grants and releases locks under a single mutex (spec.md
// §4.4: "A single mutex guards the entire lock table"). There is no
// goroutine, no wait channel, and no wait graph: every acquire either
// grants, upgrades, or aborts the caller synchronously.
type LockManager struct {
	mu    sync.Mutex
	table map[DataID]*lockQueue
	txns  map[uint64]*txnInfo
}

func NewLockManager() *LockManager {
	return &LockManager{
		table: make(map[DataID]*lockQueue),
		txns:  make(map[uint64]*txnInfo),
	}
}

func (lm *LockManager) txnLocked(txnID uint64) *txnInfo {
	t, ok := lm.txns[txnID]
	if !ok {
		t = &txnInfo{state: StateGrowing, held: make(map[DataID]LockMode)}
		lm.txns[txnID] = t
	}
	return t
}

// acquire is the single entry point behind every Lock* method.
func (lm *LockManager) acquire(txnID uint64, id DataID, mode LockMode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	t := lm.txnLocked(txnID)
	switch t.state {
	case StateShrinking:
		return &apperr.TxnAbort{Reason: apperr.ReasonLockOnShrinking, TxnID: txnID}
	case StateAborted, StateCommitted:
		// Terminal transaction states fail silently (spec.md §4.4): the
		// transaction is already gone, so there is nothing further to
		// abort — just refuse the grant.
		return errTerminalTxn
	}
	t.state = StateGrowing

	q, ok := lm.table[id]
	if !ok {
		q = &lockQueue{}
		lm.table[id] = q
	}

	if existing, held := t.held[id]; held {
		if existing == mode || upgradeAllowed(existing, mode) {
			if existing == mode {
				return nil
			}
			if lm.conflictsWithOthers(q, txnID, mode) {
				lm.abortLocked(txnID)
				return &apperr.TxnAbort{Reason: apperr.ReasonDeadlockPrevention, TxnID: txnID}
			}
			idx := q.find(txnID)
			q.requests[idx].mode = mode
			t.held[id] = mode
			q.recomputeGroup()
			return nil
		}
		return &apperr.TxnAbort{Reason: apperr.ReasonDeadlockPrevention, TxnID: txnID}
	}

	if lm.conflictsWithOthers(q, txnID, mode) {
		lm.abortLocked(txnID)
		return &apperr.TxnAbort{Reason: apperr.ReasonDeadlockPrevention, TxnID: txnID}
	}

	q.requests = append(q.requests, lockRequest{txnID: txnID, mode: mode})
	t.held[id] = mode
	q.recomputeGroup()
	return nil
}

// conflictsWithOthers reports whether granting mode to txnID would be
// incompatible with any lock a different transaction currently holds on
// the same data id.
func (lm *LockManager) conflictsWithOthers(q *lockQueue, txnID uint64, mode LockMode) bool {
	for _, r := range q.requests {
		if r.txnID == txnID {
			continue
		}
		if !compatible(r.mode, mode) || !compatible(mode, r.mode) {
			return true
		}
	}
	return false
}

// abortLocked releases every lock the aborting transaction holds and sets
// its state to StateAborted, so any later lock request from it fails with
// errTerminalTxn.
func (lm *LockManager) abortLocked(txnID uint64) {
	t, ok := lm.txns[txnID]
	if !ok {
		return
	}
	for id := range t.held {
		lm.releaseLocked(txnID, id)
	}
	t.state = StateAborted
}

func (lm *LockManager) releaseLocked(txnID uint64, id DataID) {
	q, ok := lm.table[id]
	if !ok {
		return
	}
	idx := q.find(txnID)
	if idx >= 0 {
		q.requests = append(q.requests[:idx], q.requests[idx+1:]...)
	}
	if len(q.requests) == 0 {
		delete(lm.table, id)
	} else {
		q.recomputeGroup()
	}
	if t, ok := lm.txns[txnID]; ok {
		delete(t.held, id)
	}
}

// Unlock releases a single data id and moves the transaction to SHRINKING
// (spec.md §4.4 "Unlock"). Safe to call on an id the txn doesn't hold.
func (lm *LockManager) Unlock(txnID uint64, id DataID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	t := lm.txnLocked(txnID)
	if t.state == StateGrowing {
		t.state = StateShrinking
	}
	lm.releaseLocked(txnID, id)
	return nil
}

// UnlockAll releases every lock the transaction holds, used by Commit and
// Abort (spec.md §4.5) so neither needs to enumerate data ids itself.
func (lm *LockManager) UnlockAll(txnID uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	t, ok := lm.txns[txnID]
	if !ok {
		return
	}
	for id := range t.held {
		lm.releaseLocked(txnID, id)
	}
}

func (lm *LockManager) LockSharedOnRecord(txnID uint64, fd storage.FD, rid types.Rid) error {
	return lm.acquire(txnID, RecordID(fd, rid), LockS)
}

func (lm *LockManager) LockExclusiveOnRecord(txnID uint64, fd storage.FD, rid types.Rid) error {
	return lm.acquire(txnID, RecordID(fd, rid), LockX)
}

func (lm *LockManager) LockSharedOnTable(txnID uint64, fd storage.FD) error {
	return lm.acquire(txnID, TableID(fd), LockS)
}

func (lm *LockManager) LockExclusiveOnTable(txnID uint64, fd storage.FD) error {
	return lm.acquire(txnID, TableID(fd), LockX)
}

func (lm *LockManager) LockISOnTable(txnID uint64, fd storage.FD) error {
	return lm.acquire(txnID, TableID(fd), LockIS)
}

func (lm *LockManager) LockIXOnTable(txnID uint64, fd storage.FD) error {
	return lm.acquire(txnID, TableID(fd), LockIX)
}
