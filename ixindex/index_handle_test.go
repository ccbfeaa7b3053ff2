package ixindex

import (
	"testing"

	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

const testPageSize = 256

func newTestIndex(t *testing.T) *IndexHandle {
	t.Helper()
	dir := t.TempDir()
	dm := storage.NewDiskManager(dir, testPageSize)
	pool := bufferpool.New(dm, testPageSize, 64)
	cols := []types.ColMeta{{Name: "a", Type: types.TypeInt, Len: 4}}
	ih, err := Create(dm, pool, "t_a_.idx", cols, testPageSize)
	require.NoError(t, err)
	return ih
}

func key(v int64) []byte { return types.EncodeInt(v, 4) }

func TestInsertGetValueRoundTrip(t *testing.T) {
	ih := newTestIndex(t)
	rid := types.Rid{PageNo: 1, SlotNo: 0}
	_, err := ih.InsertEntry(key(42), rid)
	require.NoError(t, err)

	got, ok, err := ih.GetValue(key(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, got)
}

func TestInsertDuplicateKeyIsNoop(t *testing.T) {
	ih := newTestIndex(t)
	rid1 := types.Rid{PageNo: 1, SlotNo: 0}
	rid2 := types.Rid{PageNo: 2, SlotNo: 0}
	_, err := ih.InsertEntry(key(7), rid1)
	require.NoError(t, err)
	_, err = ih.InsertEntry(key(7), rid2)
	require.NoError(t, err)

	got, ok, err := ih.GetValue(key(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid1, got)
}

func TestSplitOnManyInserts(t *testing.T) {
	ih := newTestIndex(t)
	const n = 200
	for i := int64(0); i < n; i++ {
		_, err := ih.InsertEntry(key(i), types.Rid{PageNo: int32(i) + 1, SlotNo: 0})
		require.NoError(t, err)
	}
	require.True(t, ih.hdr.NumPages > 2, "expected splits to allocate extra nodes")

	for i := int64(0); i < n; i++ {
		got, ok, err := ih.GetValue(key(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int32(i)+1, got.PageNo)
	}
}

func TestScanOrdersKeysAscending(t *testing.T) {
	ih := newTestIndex(t)
	values := []int64{5, 1, 4, 2, 3}
	for _, v := range values {
		_, err := ih.InsertEntry(key(v), types.Rid{PageNo: int32(v), SlotNo: 0})
		require.NoError(t, err)
	}

	lower := ih.LeafBegin()
	upper, err := ih.LeafEnd()
	require.NoError(t, err)

	scan := NewScan(ih, lower, upper)
	var seen []int32
	for scan.Valid() {
		rid, err := scan.Rid()
		require.NoError(t, err)
		seen = append(seen, rid.PageNo)
		require.NoError(t, scan.Next())
	}
	require.Equal(t, []int32{1, 2, 3, 4, 5}, seen)
}

func TestDeleteEntryThenTreeEmpty(t *testing.T) {
	ih := newTestIndex(t)
	const n = 50
	for i := int64(0); i < n; i++ {
		_, err := ih.InsertEntry(key(i), types.Rid{PageNo: int32(i) + 1, SlotNo: 0})
		require.NoError(t, err)
	}
	for i := int64(0); i < n; i++ {
		found, err := ih.DeleteEntry(key(i))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, IxNoPage, ih.hdr.RootPage)
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	ih := newTestIndex(t)
	_, err := ih.InsertEntry(key(1), types.Rid{PageNo: 1, SlotNo: 0})
	require.NoError(t, err)

	found, err := ih.DeleteEntry(key(999))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteTriggersRebalanceAndPreservesRemaining(t *testing.T) {
	ih := newTestIndex(t)
	const n = 100
	for i := int64(0); i < n; i++ {
		_, err := ih.InsertEntry(key(i), types.Rid{PageNo: int32(i) + 1, SlotNo: 0})
		require.NoError(t, err)
	}
	for i := int64(0); i < n; i += 2 {
		found, err := ih.DeleteEntry(key(i))
		require.NoError(t, err)
		require.True(t, found)
	}
	for i := int64(1); i < n; i += 2 {
		got, ok, err := ih.GetValue(key(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int32(i)+1, got.PageNo)
	}
	for i := int64(0); i < n; i += 2 {
		_, ok, err := ih.GetValue(key(i))
		require.NoError(t, err)
		require.False(t, ok)
	}
}
