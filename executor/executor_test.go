package executor

import (
	"testing"

	"github.com/relstore/relstore/catalog"
	"github.com/relstore/relstore/txn"
	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func newTestEnv(t *testing.T) (*catalog.Catalog, *txn.TransactionManager, *txn.LockManager) {
	t.Helper()
	dir := t.TempDir() + "/db"
	require.NoError(t, catalog.CreateDatabase(dir))
	cat, err := catalog.Open(dir, testPageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	cols := []catalog.ColDef{
		{Name: "id", Type: types.TypeInt, Len: 4},
		{Name: "name", Type: types.TypeString, Len: 8},
	}
	require.NoError(t, cat.CreateTable(0, nil, "t", cols))
	require.NoError(t, cat.CreateIndex(0, nil, "t", []string{"id"}))

	lm := txn.NewLockManager()
	tm := txn.NewTransactionManager(cat, lm)
	return cat, tm, lm
}

func ival(v int64) []byte { return types.EncodeInt(v, 4) }

func sval(s string) []byte {
	b := make([]byte, 8)
	copy(b, s)
	return b
}

func TestInsertThenTableScanFindsRow(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	_, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(1), sval("alice")})
	require.NoError(t, err)
	require.NoError(t, tm.Commit(txID))

	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)

	scan := NewTableScan(fh, tab.Cols, nil)
	require.NoError(t, scan.Open())
	ok, err := scan.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ival(1), scan.Record().Data[:4])

	ok, err = scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIndexScanEqualityNarrowsToOneRow(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	for i, name := range []string{"alice", "bob", "carol"} {
		_, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(int64(i)), sval(name)})
		require.NoError(t, err)
	}
	require.NoError(t, tm.Commit(txID))

	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	ih, err := cat.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)

	conds := []Condition{{LhsCol: TabCol{Tab: "t", Col: "id"}, Op: OpEq, IsRhsVal: true, RhsVal: ival(1)}}
	scan := NewIndexScan(fh, ih, "t", []types.ColMeta{tab.Cols[0]}, tab.Cols, conds)
	require.NoError(t, scan.Open())
	ok, err := scan.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sval("bob"), scan.Record().Data[4:12])

	ok, err = scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateThenDeleteRoundTrip(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	rid, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(5), sval("dave")})
	require.NoError(t, err)
	require.NoError(t, tm.Commit(txID))

	txID2 := tm.Begin().ID
	require.NoError(t, Update(cat, tm, lm, txID2, "t", []types.Rid{rid}, []SetClause{{Col: "name", Value: sval("eve")}}))
	require.NoError(t, tm.Commit(txID2))

	fh, err := cat.FileHandle("t")
	require.NoError(t, err)
	rec, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, sval("eve"), rec.Data[4:12])

	txID3 := tm.Begin().ID
	require.NoError(t, Delete(cat, tm, lm, txID3, "t", []types.Rid{rid}))
	require.NoError(t, tm.Commit(txID3))

	_, err = fh.GetRecord(rid)
	require.Error(t, err)
}

func TestProjectionSelectsNamedColumn(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	_, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(9), sval("frank")})
	require.NoError(t, err)
	require.NoError(t, tm.Commit(txID))

	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)

	scan := NewTableScan(fh, tab.Cols, nil)
	proj, err := NewProjection(scan, []TabCol{{Tab: "t", Col: "name"}})
	require.NoError(t, err)
	require.NoError(t, proj.Open())
	ok, err := proj.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sval("frank"), proj.Record().Data)
}

func TestInsertRejectsWrongValueCount(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	_, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(1)})
	require.Error(t, err)
}

func TestNestedLoopJoinRestartsRightPerLeftRow(t *testing.T) {
	cat, tm, lm := newTestEnv(t)
	txID := tm.Begin().ID
	for i, name := range []string{"alice", "bob"} {
		_, err := Insert(cat, tm, lm, txID, "t", [][]byte{ival(int64(i)), sval(name)})
		require.NoError(t, err)
	}
	require.NoError(t, tm.Commit(txID))

	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	fh, err := cat.FileHandle("t")
	require.NoError(t, err)

	left := NewTableScan(fh, tab.Cols, nil)
	right := NewTableScan(fh, tab.Cols, nil)
	join := NewNestedLoopJoin(left, right, nil)
	require.NoError(t, join.Open())

	count := 0
	for {
		ok, err := join.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 4, count) // 2 left rows x 2 right rows, full cross product
}
