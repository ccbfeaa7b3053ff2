// Command demo_engine drives the storage engine end to end: it creates a
// database, a table and a secondary index, runs inserts, scans, updates and
// deletes through the executor pipeline, then exercises the deadlock
// prevention path in the lock manager and an abort-driven undo. It is a
// smoke test, not a server (grounded on the teacher's cmd/demo_storage_init
// structure: build a throwaway data dir, run a scripted scenario against
// the real engine, print progress, clean up).
package main

import (
	"fmt"
	"os"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/catalog"
	"github.com/relstore/relstore/conf"
	"github.com/relstore/relstore/executor"
	"github.com/relstore/relstore/logger"
	"github.com/relstore/relstore/txn"
	"github.com/relstore/relstore/types"
)

func main() {
	cfg := conf.Default()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Path: cfg.LogPath}); err != nil {
		fmt.Fprintln(os.Stderr, "log init:", err)
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "relstore-demo-")
	if err != nil {
		logger.L.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)
	cfg.DataDir = dir

	if err := run(cfg); err != nil {
		logger.L.Fatalf("demo failed: %v", err)
	}
	logger.L.Info("demo completed successfully")
}

func run(cfg *conf.Config) error {
	if err := catalog.CreateDatabase(cfg.DataDir); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	cat, err := catalog.Open(cfg.DataDir, cfg.PageSize, cfg.BufferPoolFrames)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	lm := txn.NewLockManager()
	tm := txn.NewTransactionManager(cat, lm)

	logger.L.Info("creating table accounts(id int, name varchar(16), balance int)")
	cols := []catalog.ColDef{
		{Name: "id", Type: types.TypeInt, Len: 4},
		{Name: "name", Type: types.TypeString, Len: 16},
		{Name: "balance", Type: types.TypeInt, Len: 4},
	}
	ddlTxn := tm.Begin().ID
	if err := cat.CreateTable(ddlTxn, lm, "accounts", cols); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if err := cat.CreateIndex(ddlTxn, lm, "accounts", []string{"id"}); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := tm.Commit(ddlTxn); err != nil {
		return fmt.Errorf("commit ddl: %w", err)
	}

	logger.L.Info("inserting three rows")
	insTxn := tm.Begin().ID
	rows := []struct {
		id      int64
		name    string
		balance int64
	}{
		{1, "alice", 100},
		{2, "bob", 50},
		{3, "carol", 75},
	}
	rids := make([]types.Rid, len(rows))
	for i, r := range rows {
		rid, err := executor.Insert(cat, tm, lm, insTxn, "accounts",
			[][]byte{encInt(r.id, 4), encStr(r.name, 16), encInt(r.balance, 4)})
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.name, err)
		}
		rids[i] = rid
	}
	if err := tm.Commit(insTxn); err != nil {
		return fmt.Errorf("commit inserts: %w", err)
	}

	logger.L.Info("table scan over accounts")
	tab, err := cat.GetTable("accounts")
	if err != nil {
		return err
	}
	fh, err := cat.FileHandle("accounts")
	if err != nil {
		return err
	}
	if err := printAll(executor.NewTableScan(fh, tab.Cols, nil)); err != nil {
		return err
	}

	logger.L.Info("index scan for id = 2")
	ih, err := cat.IndexHandle(tab, []string{"id"})
	if err != nil {
		return err
	}
	conds := []executor.Condition{{
		LhsCol: executor.TabCol{Tab: "accounts", Col: "id"}, Op: executor.OpEq,
		IsRhsVal: true, RhsVal: encInt(2, 4),
	}}
	idxScan := executor.NewIndexScan(fh, ih, "accounts", []types.ColMeta{tab.Cols[0]}, tab.Cols, conds)
	if err := printAll(idxScan); err != nil {
		return err
	}

	logger.L.Info("cross join accounts x accounts (restart-right nested loop)")
	left := executor.NewTableScan(fh, tab.Cols, nil)
	right := executor.NewTableScan(fh, tab.Cols, nil)
	join := executor.NewNestedLoopJoin(left, right, nil)
	if err := join.Open(); err != nil {
		return err
	}
	joined := 0
	for {
		ok, err := join.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		joined++
	}
	if err := join.Close(); err != nil {
		return err
	}
	logger.L.Infof("cross join produced %d rows (expected %d)", joined, len(rows)*len(rows))

	logger.L.Info("updating bob's balance then aborting to exercise undo")
	updTxn := tm.Begin().ID
	if err := executor.Update(cat, tm, lm, updTxn, "accounts", []types.Rid{rids[1]},
		[]executor.SetClause{{Col: "balance", Value: encInt(999, 4)}}); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := tm.Abort(updTxn); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	rec, err := fh.GetRecord(rids[1])
	if err != nil {
		return err
	}
	balCol := tab.Cols[2]
	if got := rec.Data[balCol.Offset : balCol.Offset+balCol.Len]; string(got) != string(encInt(50, 4)) {
		return fmt.Errorf("undo did not restore bob's balance, got %v", got)
	}
	logger.L.Info("abort correctly rolled back the update")

	logger.L.Info("exercising deadlock prevention: two transactions contend for the same table lock")
	txA := tm.Begin().ID
	txB := tm.Begin().ID
	if err := lm.LockSharedOnTable(txA, fh.FD()); err != nil {
		return fmt.Errorf("txA shared lock: %w", err)
	}
	err = lm.LockExclusiveOnTable(txB, fh.FD())
	if !apperr.IsAbort(err) {
		return fmt.Errorf("expected txB to abort on conflicting exclusive request, got %v", err)
	}
	logger.L.Infof("txB aborted immediately as expected: %v", err)
	if err := tm.Abort(txB); err != nil {
		return fmt.Errorf("abort txB: %w", err)
	}
	if err := tm.Commit(txA); err != nil {
		return fmt.Errorf("commit txA: %w", err)
	}

	logger.L.Info("deleting carol")
	delTxn := tm.Begin().ID
	if err := executor.Delete(cat, tm, lm, delTxn, "accounts", []types.Rid{rids[2]}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := tm.Commit(delTxn); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	logger.L.Info("final table scan")
	if err := printAll(executor.NewTableScan(fh, tab.Cols, nil)); err != nil {
		return err
	}

	logger.L.Info("verifying commit/abort idempotence on terminal transactions")
	if err := tm.Commit(delTxn); err != nil {
		return fmt.Errorf("repeat commit on terminal transaction should be a no-op: %w", err)
	}
	if err := tm.Abort(txB); err != nil {
		return fmt.Errorf("repeat abort on terminal transaction should be a no-op: %w", err)
	}
	tm.Cleanup()
	logger.L.Info("commit/abort are idempotent on terminal transactions; cleanup reclaimed them")
	return nil
}

func printAll(it executor.Iterator) error {
	if err := it.Open(); err != nil {
		return err
	}
	defer it.Close()
	cols := it.Cols()
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rec := it.Record()
		fields := make([]string, 0, len(cols))
		for _, c := range cols {
			fields = append(fields, fmt.Sprintf("%s=%v", c.Name, rec.Data[c.Offset:c.Offset+c.Len]))
		}
		logger.L.Infof("  %v", fields)
	}
}

func encInt(v int64, width int) []byte { return types.EncodeInt(v, width) }

func encStr(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}
