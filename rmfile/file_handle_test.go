package rmfile

import (
	"testing"

	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

const testPageSize = 256

func newTestFile(t *testing.T, recordSize int) *FileHandle {
	t.Helper()
	dir := t.TempDir()
	dm := storage.NewDiskManager(dir, testPageSize)
	pool := bufferpool.New(dm, testPageSize, 8)
	fh, err := Create(dm, pool, "t.rec", recordSize, testPageSize)
	require.NoError(t, err)
	return fh
}

func rec(recordSize int, fill byte) []byte {
	b := make([]byte, recordSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestInsertGetRoundTrip(t *testing.T) {
	fh := newTestFile(t, 8)
	rid, err := fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)
	require.Equal(t, int32(1), rid.PageNo)
	require.Equal(t, int32(0), rid.SlotNo)

	got, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, rec(8, 'a'), got.Data)
}

func TestInsertFillsPageThenAllocatesNext(t *testing.T) {
	fh := newTestFile(t, 8)
	n := int(fh.NumRecordsPerPage)
	var rids []types.Rid
	for i := 0; i < n; i++ {
		rid, err := fh.InsertRecord(rec(8, byte('a'+i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	// Page 1 is now full; next insert must land on a new page.
	rid, err := fh.InsertRecord(rec(8, 'z'))
	require.NoError(t, err)
	require.Equal(t, int32(2), rid.PageNo)
	require.Equal(t, int32(3), fh.NumPages)
}

func TestDeleteThenReuseViaFreeList(t *testing.T) {
	fh := newTestFile(t, 8)
	n := int(fh.NumRecordsPerPage)
	var rids []types.Rid
	for i := 0; i < n; i++ {
		rid, err := fh.InsertRecord(rec(8, byte('a'+i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, fh.DeleteRecord(rids[2]))

	rid, err := fh.InsertRecord(rec(8, 'x'))
	require.NoError(t, err)
	require.Equal(t, rids[2], rid)
}

func TestDeleteNonExistentErrors(t *testing.T) {
	fh := newTestFile(t, 8)
	rid, err := fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)
	require.NoError(t, fh.DeleteRecord(rid))

	err = fh.DeleteRecord(rid)
	require.Error(t, err)
}

func TestGetRecordPageNotExist(t *testing.T) {
	fh := newTestFile(t, 8)
	_, err := fh.GetRecord(types.Rid{PageNo: 99, SlotNo: 0})
	require.Error(t, err)
}

func TestUpdateRecord(t *testing.T) {
	fh := newTestFile(t, 8)
	rid, err := fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)

	require.NoError(t, fh.UpdateRecord(rid, rec(8, 'b')))
	got, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, rec(8, 'b'), got.Data)
}

func TestInsertRecordAtRestoresRidAndExtendsFile(t *testing.T) {
	fh := newTestFile(t, 8)
	target := types.Rid{PageNo: 5, SlotNo: 2}
	require.NoError(t, fh.InsertRecordAt(target, rec(8, 'q')))
	require.True(t, fh.NumPages > 5)

	got, err := fh.GetRecord(target)
	require.NoError(t, err)
	require.Equal(t, rec(8, 'q'), got.Data)
}

func TestInsertRecordAtOnOccupiedSlotErrors(t *testing.T) {
	fh := newTestFile(t, 8)
	rid, err := fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)

	err = fh.InsertRecordAt(rid, rec(8, 'b'))
	require.Error(t, err)
}

func TestPageOccupancyReflectsInsertsAndDeletes(t *testing.T) {
	fh := newTestFile(t, 8)
	r0, err := fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)
	_, err = fh.InsertRecord(rec(8, 'b'))
	require.NoError(t, err)
	require.NoError(t, fh.DeleteRecord(r0))

	occ, err := fh.PageOccupancy(1)
	require.NoError(t, err)
	require.False(t, occ[0])
	require.True(t, occ[1])
}

func TestCloseAndReopenPreservesHeader(t *testing.T) {
	dir := t.TempDir()
	dm := storage.NewDiskManager(dir, testPageSize)
	pool := bufferpool.New(dm, testPageSize, 8)
	fh, err := Create(dm, pool, "t.rec", 8, testPageSize)
	require.NoError(t, err)
	_, err = fh.InsertRecord(rec(8, 'a'))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	reopened, err := Open(dm, pool, "t.rec", testPageSize)
	require.NoError(t, err)
	require.Equal(t, fh.NumRecordsPerPage, reopened.NumRecordsPerPage)
	require.Equal(t, int32(8), reopened.RecordSize)
}
