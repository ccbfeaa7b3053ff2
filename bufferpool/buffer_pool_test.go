package bufferpool

import (
	"testing"

	"github.com/relstore/relstore/storage"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, capacity int) (*Pool, storage.FD) {
	t.Helper()
	dir := t.TempDir()
	dm := storage.NewDiskManager(dir, 64)
	require.NoError(t, dm.CreateFile("t"))
	fd, err := dm.OpenFile("t")
	require.NoError(t, err)
	return New(dm, 64, capacity), fd
}

func TestNewPageFetchRoundTrip(t *testing.T) {
	pool, fd := newTestPool(t, 4)

	f, err := pool.NewPage(fd)
	require.NoError(t, err)
	copy(f.Data, []byte("hello"))
	require.NoError(t, pool.Unpin(f.ID(), true))

	f2, err := pool.Fetch(f.ID())
	require.NoError(t, err)
	require.Equal(t, byte('h'), f2.Data[0])
	require.NoError(t, pool.Unpin(f2.ID(), false))
}

func TestEvictionFlushesDirtyPages(t *testing.T) {
	pool, fd := newTestPool(t, 1)

	f1, err := pool.NewPage(fd)
	require.NoError(t, err)
	copy(f1.Data, []byte("first"))
	require.NoError(t, pool.Unpin(f1.ID(), true))

	// Second page forces eviction of the only frame.
	f2, err := pool.NewPage(fd)
	require.NoError(t, err)
	require.NoError(t, pool.Unpin(f2.ID(), false))

	// Refetching the first page must see the flushed content.
	refetched, err := pool.Fetch(f1.ID())
	require.NoError(t, err)
	require.Equal(t, byte('f'), refetched.Data[0])
	require.NoError(t, pool.Unpin(refetched.ID(), false))
}

func TestFullPoolAllPinnedErrors(t *testing.T) {
	pool, fd := newTestPool(t, 1)
	f, err := pool.NewPage(fd)
	require.NoError(t, err)
	_ = f

	_, err = pool.NewPage(fd)
	require.Error(t, err)
}
