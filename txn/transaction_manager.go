package txn

import (
	"sync"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/catalog"
	"github.com/relstore/relstore/logger"
	"github.com/relstore/relstore/types"
)

// Transaction is the unit of work tracked by TransactionManager (spec.md
// §4.5). Its lock set lives inside LockManager, not here — UnlockAll
// drives release by txn id so Transaction itself only needs the write
// set and its own state.
type Transaction struct {
	ID        uint64
	State     TxnState
	WriteSet  []WriteRecord
}

// TransactionManager holds the next_txn_id counter and the global
// id→Transaction table (spec.md §4.5), plus the catalog and lock manager
// it drives on commit/abort. Grounded on the teacher's
// manager.TransactionManager for the id-allocation/registration shape;
// the MVCC read-view and redo-log machinery there has no counterpart here
// (spec.md's non-goals exclude MVCC and redo recovery).
type TransactionManager struct {
	mu      sync.Mutex
	nextID  uint64
	active  map[uint64]*Transaction
	cat     *catalog.Catalog
	lockMgr *LockManager
}

func NewTransactionManager(cat *catalog.Catalog, lockMgr *LockManager) *TransactionManager {
	return &TransactionManager{
		active:  make(map[uint64]*Transaction),
		cat:     cat,
		lockMgr: lockMgr,
	}
}

// Begin allocates a new transaction id and registers it.
func (tm *TransactionManager) Begin() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.nextID++
	t := &Transaction{ID: tm.nextID, State: StateGrowing}
	tm.active[t.ID] = t
	return t
}

// Get returns a registered transaction, or nil if unknown.
func (tm *TransactionManager) Get(txnID uint64) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.active[txnID]
}

// AppendWrite records one undo entry on txn's write set. Called by the
// insert/update/delete executors immediately after mutating the heap and
// its indexes (spec.md §4.3: "appends an undo record to the transaction").
func (tm *TransactionManager) AppendWrite(txnID uint64, rec WriteRecord) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t, ok := tm.active[txnID]; ok {
		t.WriteSet = append(t.WriteSet, rec)
	}
}

// Commit discards the write set and releases every lock the transaction
// holds (spec.md §4.5 "Commit"). Committing an already-committed
// transaction is a no-op (spec.md §8); the transaction stays registered
// (terminal, not forgotten) so a repeat call can recognize this instead
// of failing with "unknown transaction" — Cleanup reclaims terminal
// transactions once a caller decides they're no longer needed.
func (tm *TransactionManager) Commit(txnID uint64) error {
	tm.mu.Lock()
	t, ok := tm.active[txnID]
	if !ok {
		tm.mu.Unlock()
		return apperr.Wrap("txn.Commit", apperr.ErrInternal)
	}
	if t.State == StateCommitted {
		tm.mu.Unlock()
		return nil
	}
	if t.State == StateAborted {
		tm.mu.Unlock()
		return apperr.Wrap("txn.Commit", apperr.ErrInternal)
	}
	t.WriteSet = nil
	t.State = StateCommitted
	tm.mu.Unlock()

	tm.lockMgr.UnlockAll(txnID)
	tm.lockMgr.mu.Lock()
	tm.lockMgr.txnLocked(txnID).state = StateCommitted
	tm.lockMgr.mu.Unlock()
	return nil
}

// Abort walks the write set in reverse, reversing each heap mutation and
// its index mirrors, then releases every lock (spec.md §4.5 "Abort").
// Aborting an already-aborted transaction is a no-op (spec.md §8).
func (tm *TransactionManager) Abort(txnID uint64) error {
	tm.mu.Lock()
	t, ok := tm.active[txnID]
	if !ok {
		tm.mu.Unlock()
		return apperr.Wrap("txn.Abort", apperr.ErrInternal)
	}
	if t.State == StateAborted {
		tm.mu.Unlock()
		return nil
	}
	if t.State == StateCommitted {
		tm.mu.Unlock()
		return apperr.Wrap("txn.Abort", apperr.ErrInternal)
	}
	writeSet := t.WriteSet
	tm.mu.Unlock()

	for i := len(writeSet) - 1; i >= 0; i-- {
		if err := tm.undoOne(writeSet[i]); err != nil {
			logger.L.Errorf("txn %d: undo failed for %s on %q rid %s: %v", txnID, undoKind(writeSet[i].Type), writeSet[i].Table, writeSet[i].Rid, err)
			return apperr.Wrap("txn.Abort", err)
		}
	}

	tm.mu.Lock()
	t.WriteSet = nil
	t.State = StateAborted
	tm.mu.Unlock()

	tm.lockMgr.UnlockAll(txnID)
	tm.lockMgr.mu.Lock()
	tm.lockMgr.txnLocked(txnID).state = StateAborted
	tm.lockMgr.mu.Unlock()
	return nil
}

// Cleanup discards every transaction that has reached a terminal state
// (COMMITTED or ABORTED). Commit/Abort keep terminal transactions
// registered so a repeat call is recognizable as a no-op rather than an
// unknown-transaction error; Cleanup is how a caller reclaims that
// bookkeeping once it's confident no repeat call is coming (spec.md §5:
// paced by the caller, no background sweep goroutine).
func (tm *TransactionManager) Cleanup() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, t := range tm.active {
		if t.State == StateCommitted || t.State == StateAborted {
			delete(tm.active, id)
		}
	}
}

func undoKind(t WriteType) string {
	switch t {
	case InsertTuple:
		return "insert"
	case DeleteTuple:
		return "delete"
	default:
		return "update"
	}
}

// undoOne reverses a single WriteRecord, mirroring the mutation into every
// index registered on the table (spec.md §4.5).
func (tm *TransactionManager) undoOne(rec WriteRecord) error {
	tab, err := tm.cat.GetTable(rec.Table)
	if err != nil {
		return err
	}
	fh, err := tm.cat.FileHandle(rec.Table)
	if err != nil {
		return err
	}

	switch rec.Type {
	case InsertTuple:
		if err := fh.DeleteRecord(rec.Rid); err != nil {
			return err
		}
		return tm.deleteIndexKeys(tab, rec.OldImage)

	case DeleteTuple:
		if err := fh.InsertRecordAt(rec.Rid, rec.OldImage); err != nil {
			return err
		}
		return tm.insertIndexKeys(tab, rec.OldImage, rec.Rid)

	case UpdateTuple:
		postImage, err := fh.GetRecord(rec.Rid)
		if err != nil {
			return err
		}
		if err := tm.deleteIndexKeys(tab, postImage.Data); err != nil {
			return err
		}
		if err := fh.UpdateRecord(rec.Rid, rec.OldImage); err != nil {
			return err
		}
		return tm.insertIndexKeys(tab, rec.OldImage, rec.Rid)
	}
	return apperr.Wrap("txn.undoOne", apperr.ErrInternal)
}

func (tm *TransactionManager) deleteIndexKeys(tab *types.TabMeta, image []byte) error {
	for _, im := range tab.Indexes {
		ih, err := tm.cat.IndexHandle(tab, im.ColNames())
		if err != nil {
			return err
		}
		if _, err := ih.DeleteEntry(buildIndexKey(image, &im)); err != nil {
			return err
		}
	}
	return nil
}

func (tm *TransactionManager) insertIndexKeys(tab *types.TabMeta, image []byte, rid types.Rid) error {
	for _, im := range tab.Indexes {
		ih, err := tm.cat.IndexHandle(tab, im.ColNames())
		if err != nil {
			return err
		}
		if _, err := ih.InsertEntry(buildIndexKey(image, &im), rid); err != nil {
			return err
		}
	}
	return nil
}

// buildIndexKey concatenates an index's columns out of a tuple image, in
// index-declaration order (spec.md §3: "The key is the byte-concatenation
// of its columns in order").
func buildIndexKey(image []byte, im *types.IndexMeta) []byte {
	key := make([]byte, 0, im.ColTotLen)
	for _, col := range im.Cols {
		key = append(key, image[col.Offset:col.Offset+col.Len]...)
	}
	return key
}
