package catalog

import (
	"path/filepath"
	"testing"

	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func newTestDB(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "testdb")
	require.NoError(t, CreateDatabase(dir))
	return dir
}

func TestCreateDatabaseTwiceErrors(t *testing.T) {
	dir := newTestDB(t)
	require.Error(t, CreateDatabase(dir))
}

func TestCreateAndDropTable(t *testing.T) {
	dir := newTestDB(t)
	cat, err := Open(dir, testPageSize, 32)
	require.NoError(t, err)

	cols := []ColDef{{Name: "id", Type: types.TypeInt, Len: 4}, {Name: "name", Type: types.TypeString, Len: 16}}
	require.NoError(t, cat.CreateTable(1, nil, "users", cols))

	tab, err := cat.GetTable("users")
	require.NoError(t, err)
	require.Equal(t, 20, tab.TupleLen())

	require.NoError(t, cat.DropTable(1, nil, "users"))
	_, err = cat.GetTable("users")
	require.Error(t, err)
	require.NoError(t, cat.Close())
}

func TestCreateIndexPersistsAcrossReopen(t *testing.T) {
	dir := newTestDB(t)
	cat, err := Open(dir, testPageSize, 32)
	require.NoError(t, err)

	cols := []ColDef{{Name: "id", Type: types.TypeInt, Len: 4}}
	require.NoError(t, cat.CreateTable(1, nil, "t", cols))
	require.NoError(t, cat.CreateIndex(1, nil, "t", []string{"id"}))
	require.NoError(t, cat.Close())

	reopened, err := Open(dir, testPageSize, 32)
	require.NoError(t, err)
	tab, err := reopened.GetTable("t")
	require.NoError(t, err)
	require.Len(t, tab.Indexes, 1)
	require.True(t, tab.Cols[0].HasIndex)

	ih, err := reopened.IndexHandle(tab, []string{"id"})
	require.NoError(t, err)
	require.NotNil(t, ih)
	require.NoError(t, reopened.Close())
}

func TestDropIndexRemovesFromSchema(t *testing.T) {
	dir := newTestDB(t)
	cat, err := Open(dir, testPageSize, 32)
	require.NoError(t, err)

	cols := []ColDef{{Name: "id", Type: types.TypeInt, Len: 4}}
	require.NoError(t, cat.CreateTable(1, nil, "t", cols))
	require.NoError(t, cat.CreateIndex(1, nil, "t", []string{"id"}))
	require.NoError(t, cat.DropIndex(1, nil, "t", []string{"id"}))

	tab, err := cat.GetTable("t")
	require.NoError(t, err)
	require.Len(t, tab.Indexes, 0)
	require.NoError(t, cat.Close())
}

func TestOpenMissingDatabaseErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testPageSize, 32)
	require.Error(t, err)
}
