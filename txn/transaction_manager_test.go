package txn

import (
	"testing"

	"github.com/relstore/relstore/catalog"
	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

func newTestTM(t *testing.T) (*TransactionManager, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir() + "/db"
	require.NoError(t, catalog.CreateDatabase(dir))
	cat, err := catalog.Open(dir, 512, 32)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	cols := []catalog.ColDef{{Name: "id", Type: types.TypeInt, Len: 4}}
	require.NoError(t, cat.CreateTable(0, nil, "t", cols))
	require.NoError(t, cat.CreateIndex(0, nil, "t", []string{"id"}))

	lm := NewLockManager()
	return NewTransactionManager(cat, lm), cat
}

func encInt(v int64) []byte { return types.EncodeInt(v, 4) }

func TestCommitDiscardsWriteSetAndReleasesLocks(t *testing.T) {
	tm, cat := newTestTM(t)
	txn := tm.Begin()

	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	require.NoError(t, tm.lockMgr.LockExclusiveOnTable(txn.ID, fh.FD()))
	rid, err := fh.InsertRecord(encInt(1))
	require.NoError(t, err)
	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	ih, err := cat.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)
	_, err = ih.InsertEntry(encInt(1), rid)
	require.NoError(t, err)
	tm.AppendWrite(txn.ID, WriteRecord{Type: InsertTuple, Table: "t", Rid: rid, OldImage: encInt(1)})

	require.NoError(t, tm.Commit(txn.ID))
	require.Empty(t, tm.Get(txn.ID).WriteSet)
	other := tm.Begin()
	require.NoError(t, tm.lockMgr.LockExclusiveOnTable(other.ID, fh.FD()))

	got, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, encInt(1), got.Data)
}

func TestAbortUndoesInsert(t *testing.T) {
	tm, cat := newTestTM(t)
	txn := tm.Begin()

	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	rid, err := fh.InsertRecord(encInt(7))
	require.NoError(t, err)
	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	ih, err := cat.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)
	_, err = ih.InsertEntry(encInt(7), rid)
	require.NoError(t, err)
	tm.AppendWrite(txn.ID, WriteRecord{Type: InsertTuple, Table: "t", Rid: rid, OldImage: encInt(7)})

	require.NoError(t, tm.Abort(txn.ID))

	_, err = fh.GetRecord(rid)
	require.Error(t, err)
	_, ok, err := ih.GetValue(encInt(7))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAbortUndoesDeleteRestoringOriginalRid(t *testing.T) {
	tm, cat := newTestTM(t)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	ih, err := cat.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)

	rid, err := fh.InsertRecord(encInt(3))
	require.NoError(t, err)
	_, err = ih.InsertEntry(encInt(3), rid)
	require.NoError(t, err)

	txn := tm.Begin()
	oldImage, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.NoError(t, fh.DeleteRecord(rid))
	found, err := ih.DeleteEntry(encInt(3))
	require.NoError(t, err)
	require.True(t, found)
	tm.AppendWrite(txn.ID, WriteRecord{Type: DeleteTuple, Table: "t", Rid: rid, OldImage: oldImage.Data})

	require.NoError(t, tm.Abort(txn.ID))

	got, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, encInt(3), got.Data)
	restored, ok, err := ih.GetValue(encInt(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, restored)
}

func TestCommitIsIdempotentOnCommittedTransaction(t *testing.T) {
	tm, _ := newTestTM(t)
	txn := tm.Begin()
	require.NoError(t, tm.Commit(txn.ID))
	require.NoError(t, tm.Commit(txn.ID))
}

func TestAbortIsNoOpOnAbortedTransaction(t *testing.T) {
	tm, _ := newTestTM(t)
	txn := tm.Begin()
	require.NoError(t, tm.Abort(txn.ID))
	require.NoError(t, tm.Abort(txn.ID))
}

func TestAbortingACommittedTransactionErrors(t *testing.T) {
	tm, _ := newTestTM(t)
	txn := tm.Begin()
	require.NoError(t, tm.Commit(txn.ID))
	require.Error(t, tm.Abort(txn.ID))
}

func TestCleanupReclaimsTerminalTransactionsOnly(t *testing.T) {
	tm, _ := newTestTM(t)
	committed := tm.Begin()
	live := tm.Begin()
	require.NoError(t, tm.Commit(committed.ID))

	tm.Cleanup()

	require.Nil(t, tm.Get(committed.ID))
	require.NotNil(t, tm.Get(live.ID))
}

func TestAbortUndoesUpdateSwappingIndexKeys(t *testing.T) {
	tm, cat := newTestTM(t)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	ih, err := cat.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)

	rid, err := fh.InsertRecord(encInt(10))
	require.NoError(t, err)
	_, err = ih.InsertEntry(encInt(10), rid)
	require.NoError(t, err)

	txn := tm.Begin()
	oldImage, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.NoError(t, fh.UpdateRecord(rid, encInt(20)))
	_, err = ih.DeleteEntry(encInt(10))
	require.NoError(t, err)
	_, err = ih.InsertEntry(encInt(20), rid)
	require.NoError(t, err)
	tm.AppendWrite(txn.ID, WriteRecord{Type: UpdateTuple, Table: "t", Rid: rid, OldImage: oldImage.Data})

	require.NoError(t, tm.Abort(txn.ID))

	got, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, encInt(10), got.Data)
	_, ok, err := ih.GetValue(encInt(20))
	require.NoError(t, err)
	require.False(t, ok)
	restored, ok, err := ih.GetValue(encInt(10))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, restored)
}
