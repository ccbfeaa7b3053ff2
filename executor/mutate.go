package executor

import (
	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/catalog"
	"github.com/relstore/relstore/txn"
	"github.com/relstore/relstore/types"
)

// SetClause is one `col = value` assignment of an UPDATE (spec.md §4.3;
// grounded on executor_update.h's SetClause).
type SetClause struct {
	Col   string
	Value []byte
}

// Insert builds a tuple from values (in column-declaration order), locks
// the table with intent-exclusive and the new record exclusive, inserts
// it into the heap and every index, and appends an INSERT_TUPLE undo
// record (spec.md §4.3; grounded on
// original_source/src/execution/executor_insert.h).
func Insert(cat *catalog.Catalog, tm *txn.TransactionManager, lm *txn.LockManager, txnID uint64, tabName string, values [][]byte) (types.Rid, error) {
	tab, err := cat.GetTable(tabName)
	if err != nil {
		return types.Rid{}, err
	}
	if len(values) != len(tab.Cols) {
		return types.Rid{}, apperr.Wrap("executor.Insert", apperr.ErrInvalidValueCount)
	}
	fh, err := cat.FileHandle(tabName)
	if err != nil {
		return types.Rid{}, err
	}

	if err := lm.LockIXOnTable(txnID, fh.FD()); err != nil {
		return types.Rid{}, err
	}

	rec := types.NewRecord(tab.TupleLen())
	for i, col := range tab.Cols {
		if len(values[i]) != col.Len {
			return types.Rid{}, apperr.Wrap("executor.Insert", apperr.ErrIncompatibleType)
		}
		copy(rec.Data[col.Offset:col.Offset+col.Len], values[i])
	}

	rid, err := fh.InsertRecord(rec.Data)
	if err != nil {
		return types.Rid{}, err
	}
	if err := lm.LockExclusiveOnRecord(txnID, fh.FD(), rid); err != nil {
		return types.Rid{}, err
	}

	for _, im := range tab.Indexes {
		ih, err := cat.IndexHandle(tab, im.ColNames())
		if err != nil {
			return types.Rid{}, err
		}
		if _, err := ih.InsertEntry(buildKey(rec.Data, im), rid); err != nil {
			return types.Rid{}, err
		}
	}

	tm.AppendWrite(txnID, txn.WriteRecord{Type: txn.InsertTuple, Table: tabName, Rid: rid, OldImage: rec.Data})
	return rid, nil
}

// Update applies setClauses to every rid, deleting and reinserting each
// affected index entry and appending an UPDATE_TUPLE undo record carrying
// the pre-update image (spec.md §4.3; grounded on executor_update.h).
func Update(cat *catalog.Catalog, tm *txn.TransactionManager, lm *txn.LockManager, txnID uint64, tabName string, rids []types.Rid, setClauses []SetClause) error {
	tab, err := cat.GetTable(tabName)
	if err != nil {
		return err
	}
	fh, err := cat.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := lm.LockIXOnTable(txnID, fh.FD()); err != nil {
		return err
	}

	for _, rid := range rids {
		if err := lm.LockExclusiveOnRecord(txnID, fh.FD(), rid); err != nil {
			return err
		}
		old, err := fh.GetRecord(rid)
		if err != nil {
			return err
		}
		preImage := old.Clone().Data

		newData := old.Clone().Data
		for _, sc := range setClauses {
			col, ok := tab.GetCol(sc.Col)
			if !ok {
				return apperr.Wrap("executor.Update", apperr.ErrColumnNotFound)
			}
			copy(newData[col.Offset:col.Offset+col.Len], sc.Value)
		}

		for _, im := range tab.Indexes {
			ih, err := cat.IndexHandle(tab, im.ColNames())
			if err != nil {
				return err
			}
			if _, err := ih.DeleteEntry(buildKey(preImage, im)); err != nil {
				return err
			}
		}

		if err := fh.UpdateRecord(rid, newData); err != nil {
			return err
		}

		for _, im := range tab.Indexes {
			ih, err := cat.IndexHandle(tab, im.ColNames())
			if err != nil {
				return err
			}
			if _, err := ih.InsertEntry(buildKey(newData, im), rid); err != nil {
				return err
			}
		}

		tm.AppendWrite(txnID, txn.WriteRecord{Type: txn.UpdateTuple, Table: tabName, Rid: rid, OldImage: preImage})
	}
	return nil
}

// Delete removes every rid from the heap and its index entries,
// appending a DELETE_TUPLE undo record per row carrying the deleted
// image (spec.md §4.3).
func Delete(cat *catalog.Catalog, tm *txn.TransactionManager, lm *txn.LockManager, txnID uint64, tabName string, rids []types.Rid) error {
	tab, err := cat.GetTable(tabName)
	if err != nil {
		return err
	}
	fh, err := cat.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := lm.LockIXOnTable(txnID, fh.FD()); err != nil {
		return err
	}

	for _, rid := range rids {
		if err := lm.LockExclusiveOnRecord(txnID, fh.FD(), rid); err != nil {
			return err
		}
		old, err := fh.GetRecord(rid)
		if err != nil {
			return err
		}
		image := old.Clone().Data

		for _, im := range tab.Indexes {
			ih, err := cat.IndexHandle(tab, im.ColNames())
			if err != nil {
				return err
			}
			if _, err := ih.DeleteEntry(buildKey(image, im)); err != nil {
				return err
			}
		}

		if err := fh.DeleteRecord(rid); err != nil {
			return err
		}

		tm.AppendWrite(txnID, txn.WriteRecord{Type: txn.DeleteTuple, Table: tabName, Rid: rid, OldImage: image})
	}
	return nil
}

func buildKey(image []byte, im types.IndexMeta) []byte {
	key := make([]byte, 0, im.ColTotLen)
	for _, col := range im.Cols {
		key = append(key, image[col.Offset:col.Offset+col.Len]...)
	}
	return key
}
