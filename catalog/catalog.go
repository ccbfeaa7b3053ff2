// Package catalog owns per-database schema metadata and the open file
// handles for every table's heap file and its indexes (spec.md §4.5
// mentions catalog mutation "only by DDL under a table-exclusive lock";
// spec.md §6 names db.meta's on-disk format).
//
// Grounded on original_source/src/system/sm_manager.cpp for the
// create/drop/open/close sequencing (including the open_db fix noted in
// spec.md §9: the original loads every index and then immediately drops
// it again, which this port does not repeat — Open only loads).
package catalog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/bufferpool"
	"github.com/relstore/relstore/ixindex"
	"github.com/relstore/relstore/logger"
	"github.com/relstore/relstore/rmfile"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
)

const dbMetaFile = "db.meta"
const logFile = "log.log"

// Locker is the narrow slice of the lock manager DDL needs: an exclusive
// table lock held for the duration of the schema change (spec.md §5:
// "Catalog... mutated only by DDL under a table-exclusive lock").
type Locker interface {
	LockExclusiveOnTable(txnID uint64, fd storage.FD) error
}

// ColDef is the caller-supplied shape of one column in a CREATE TABLE;
// Offset is computed by the catalog in column-declaration order.
type ColDef struct {
	Name string
	Type types.ColType
	Len  int
}

// Catalog is one open database: its metadata plus every table's and
// index's open file handle.
type Catalog struct {
	mu       sync.RWMutex
	dir      string
	pageSize int
	disk     *storage.DiskManager
	pool     *bufferpool.Pool

	meta *DbMeta
	fhs  map[string]*rmfile.FileHandle
	ihs  map[string]*ixindex.IndexHandle
}

// CreateDatabase makes a new database directory containing an empty
// db.meta and a reserved (unused) write-ahead log file.
func CreateDatabase(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return apperr.Wrap("catalog.CreateDatabase", apperr.ErrDatabaseExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap("catalog.CreateDatabase", err)
	}
	f, err := os.Create(filepath.Join(dir, dbMetaFile))
	if err != nil {
		return apperr.Wrap("catalog.CreateDatabase", err)
	}
	defer f.Close()
	if err := writeMeta(f, newDbMeta(filepath.Base(dir))); err != nil {
		return apperr.Wrap("catalog.CreateDatabase", err)
	}
	if _, err := os.Create(filepath.Join(dir, logFile)); err != nil {
		return apperr.Wrap("catalog.CreateDatabase", err)
	}
	return nil
}

// DropDatabase removes a database's directory and every file under it.
func DropDatabase(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return apperr.Wrap("catalog.DropDatabase", apperr.ErrDatabaseNotFound)
	}
	return os.RemoveAll(dir)
}

// Open loads db.meta and opens every table's and index's file handle.
// Unlike the original this only loads indexes — it does not immediately
// drop them again (spec.md §9).
func Open(dir string, pageSize, bufferFrames int) (*Catalog, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, apperr.Wrap("catalog.Open", apperr.ErrDatabaseNotFound)
	}
	f, err := os.Open(filepath.Join(dir, dbMetaFile))
	if err != nil {
		return nil, apperr.Wrap("catalog.Open", err)
	}
	meta, err := readMeta(f)
	f.Close()
	if err != nil {
		return nil, apperr.Wrap("catalog.Open", err)
	}

	disk := storage.NewDiskManager(dir, pageSize)
	pool := bufferpool.New(disk, pageSize, bufferFrames)
	cat := &Catalog{
		dir:      dir,
		pageSize: pageSize,
		disk:     disk,
		pool:     pool,
		meta:     meta,
		fhs:      make(map[string]*rmfile.FileHandle),
		ihs:      make(map[string]*ixindex.IndexHandle),
	}

	for name, tab := range meta.Tables {
		fh, err := rmfile.Open(disk, pool, name, pageSize)
		if err != nil {
			return nil, apperr.Wrap("catalog.Open", err)
		}
		cat.fhs[name] = fh

		for _, im := range tab.Indexes {
			ih, err := ixindex.Open(disk, pool, im.FileName())
			if err != nil {
				return nil, apperr.Wrap("catalog.Open", err)
			}
			cat.ihs[im.FileName()] = ih
		}
	}
	return cat, nil
}

// Close flushes the buffer pool, persists db.meta, and closes every open
// file handle.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pool.FlushAll(); err != nil {
		return apperr.Wrap("catalog.Close", err)
	}
	for _, fh := range c.fhs {
		if err := fh.Close(); err != nil {
			return apperr.Wrap("catalog.Close", err)
		}
	}
	for _, ih := range c.ihs {
		if err := ih.Close(); err != nil {
			return apperr.Wrap("catalog.Close", err)
		}
	}
	f, err := os.Create(filepath.Join(c.dir, dbMetaFile))
	if err != nil {
		return apperr.Wrap("catalog.Close", err)
	}
	defer f.Close()
	return writeMeta(f, c.meta)
}

func (c *Catalog) flushMetaLocked() error {
	f, err := os.Create(filepath.Join(c.dir, dbMetaFile))
	if err != nil {
		return apperr.Wrap("catalog.flushMeta", err)
	}
	defer f.Close()
	return writeMeta(f, c.meta)
}

// GetTable returns a table's schema.
func (c *Catalog) GetTable(name string) (*types.TabMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tab, ok := c.meta.Tables[name]
	if !ok {
		return nil, apperr.Wrap("catalog.GetTable", apperr.ErrTableNotFound)
	}
	return tab, nil
}

// FileHandle returns the heap file handle for an open table.
func (c *Catalog) FileHandle(name string) (*rmfile.FileHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fh, ok := c.fhs[name]
	if !ok {
		return nil, apperr.Wrap("catalog.FileHandle", apperr.ErrTableNotFound)
	}
	return fh, nil
}

// IndexHandle returns the B+-tree handle backing tab's index over cols.
func (c *Catalog) IndexHandle(tab *types.TabMeta, cols []string) (*ixindex.IndexHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	im, ok := tab.IsIndex(cols)
	if !ok {
		return nil, apperr.Wrap("catalog.IndexHandle", apperr.ErrIndexNotFound)
	}
	ih, ok := c.ihs[im.FileName()]
	if !ok {
		return nil, apperr.Wrap("catalog.IndexHandle", apperr.ErrIndexNotFound)
	}
	return ih, nil
}

// Pool exposes the shared buffer pool, needed by executors that must pin
// pages the catalog doesn't otherwise expose.
func (c *Catalog) Pool() *bufferpool.Pool { return c.pool }

// CreateTable adds a new table under exclusive lock. Locking is a no-op
// convenience when locker is nil, used by tests that don't exercise 2PL.
func (c *Catalog) CreateTable(txnID uint64, locker Locker, name string, cols []ColDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.meta.Tables[name]; exists {
		return apperr.Wrap("catalog.CreateTable", apperr.ErrTableExists)
	}

	offset := 0
	tabCols := make([]types.ColMeta, len(cols))
	for i, cd := range cols {
		tabCols[i] = types.ColMeta{TabName: name, Name: cd.Name, Type: cd.Type, Len: cd.Len, Offset: offset}
		offset += cd.Len
	}
	tab := &types.TabMeta{Name: name, Cols: tabCols}

	fh, err := rmfile.Create(c.disk, c.pool, name, tab.TupleLen(), c.pageSize)
	if err != nil {
		return apperr.Wrap("catalog.CreateTable", err)
	}
	if locker != nil {
		if err := locker.LockExclusiveOnTable(txnID, fh.FD()); err != nil {
			return err
		}
	}

	c.meta.Tables[name] = tab
	c.fhs[name] = fh
	logger.L.Infof("catalog: created table %q (%d cols, %d bytes/tuple)", name, len(cols), tab.TupleLen())
	return c.flushMetaLocked()
}

// DropTable removes a table, its heap file, and every index built on it.
func (c *Catalog) DropTable(txnID uint64, locker Locker, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tab, ok := c.meta.Tables[name]
	if !ok {
		return apperr.Wrap("catalog.DropTable", apperr.ErrTableNotFound)
	}
	fh := c.fhs[name]
	if locker != nil {
		if err := locker.LockExclusiveOnTable(txnID, fh.FD()); err != nil {
			return err
		}
	}

	for _, im := range tab.Indexes {
		if ih, ok := c.ihs[im.FileName()]; ok {
			ih.Close()
			delete(c.ihs, im.FileName())
		}
		if err := c.disk.DestroyFile(im.FileName()); err != nil {
			return apperr.Wrap("catalog.DropTable", err)
		}
	}

	if err := fh.Close(); err != nil {
		return apperr.Wrap("catalog.DropTable", err)
	}
	if err := c.disk.DestroyFile(name); err != nil {
		return apperr.Wrap("catalog.DropTable", err)
	}
	delete(c.fhs, name)
	delete(c.meta.Tables, name)
	return c.flushMetaLocked()
}

// CreateIndex builds a new B+-tree over colNames and registers it on the
// table's schema.
func (c *Catalog) CreateIndex(txnID uint64, locker Locker, tabName string, colNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tab, ok := c.meta.Tables[tabName]
	if !ok {
		return apperr.Wrap("catalog.CreateIndex", apperr.ErrTableNotFound)
	}
	if _, exists := tab.IsIndex(colNames); exists {
		return nil
	}
	im, err := types.NewIndexMeta(tab, colNames)
	if err != nil {
		return apperr.Wrap("catalog.CreateIndex", err)
	}

	if locker != nil {
		fh := c.fhs[tabName]
		if err := locker.LockExclusiveOnTable(txnID, fh.FD()); err != nil {
			return err
		}
	}

	ih, err := ixindex.Create(c.disk, c.pool, im.FileName(), im.Cols, c.pageSize)
	if err != nil {
		return apperr.Wrap("catalog.CreateIndex", err)
	}
	c.ihs[im.FileName()] = ih
	tab.Indexes = append(tab.Indexes, *im)
	for i := range tab.Cols {
		for _, ic := range im.Cols {
			if tab.Cols[i].Name == ic.Name {
				tab.Cols[i].HasIndex = true
			}
		}
	}
	return c.flushMetaLocked()
}

// DropIndex removes an existing index from a table.
func (c *Catalog) DropIndex(txnID uint64, locker Locker, tabName string, colNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tab, ok := c.meta.Tables[tabName]
	if !ok {
		return apperr.Wrap("catalog.DropIndex", apperr.ErrTableNotFound)
	}
	im, exists := tab.IsIndex(colNames)
	if !exists {
		return apperr.Wrap("catalog.DropIndex", apperr.ErrIndexNotFound)
	}

	if locker != nil {
		fh := c.fhs[tabName]
		if err := locker.LockExclusiveOnTable(txnID, fh.FD()); err != nil {
			return err
		}
	}

	if ih, ok := c.ihs[im.FileName()]; ok {
		ih.Close()
		delete(c.ihs, im.FileName())
	}
	if err := c.disk.DestroyFile(im.FileName()); err != nil {
		return apperr.Wrap("catalog.DropIndex", err)
	}

	kept := tab.Indexes[:0]
	for _, existing := range tab.Indexes {
		if existing.FileName() != im.FileName() {
			kept = append(kept, existing)
		}
	}
	tab.Indexes = kept
	return c.flushMetaLocked()
}
