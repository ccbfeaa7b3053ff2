package txn

import (
	"testing"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/storage"
	"github.com/relstore/relstore/types"
	"github.com/stretchr/testify/require"
)

func TestSharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockSharedOnTable(1, fd))
	require.NoError(t, lm.LockSharedOnTable(2, fd))
}

func TestExclusiveConflictAbortsIntruder(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockExclusiveOnTable(1, fd))

	err := lm.LockSharedOnTable(2, fd)
	require.Error(t, err)
	var abort *apperr.TxnAbort
	require.ErrorAs(t, err, &abort)
	require.Equal(t, apperr.ReasonDeadlockPrevention, abort.Reason)
	require.Equal(t, uint64(2), abort.TxnID)
}

func TestAbortedIntruderReleasesItsOwnLocks(t *testing.T) {
	lm := NewLockManager()
	var fdA storage.FD = 1
	var fdB storage.FD = 2

	require.NoError(t, lm.LockSharedOnTable(2, fdB))
	require.NoError(t, lm.LockExclusiveOnTable(1, fdA))
	err := lm.LockSharedOnTable(2, fdA)
	require.Error(t, err)

	// txn 2 was aborted by the lock manager, so even its unrelated lock
	// on fdB should have been released.
	require.NoError(t, lm.LockExclusiveOnTable(3, fdB))
}

func TestUnlockTransitionsToShrinkingAndBlocksNewLocks(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	rid := types.Rid{PageNo: 1, SlotNo: 0}
	require.NoError(t, lm.LockSharedOnRecord(1, fd, rid))
	require.NoError(t, lm.Unlock(1, RecordID(fd, rid)))

	err := lm.LockExclusiveOnTable(1, fd)
	require.Error(t, err)
	var abort *apperr.TxnAbort
	require.ErrorAs(t, err, &abort)
	require.Equal(t, apperr.ReasonLockOnShrinking, abort.Reason)
}

func TestUpgradeSharedToExclusiveSucceedsWithoutContention(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockSharedOnTable(1, fd))
	require.NoError(t, lm.LockExclusiveOnTable(1, fd))
}

func TestUpgradeBlockedByOtherHolderAborts(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockSharedOnTable(1, fd))
	require.NoError(t, lm.LockSharedOnTable(2, fd))

	err := lm.LockExclusiveOnTable(1, fd)
	require.Error(t, err)
	var abort *apperr.TxnAbort
	require.ErrorAs(t, err, &abort)
	require.Equal(t, apperr.ReasonDeadlockPrevention, abort.Reason)
}

func TestIntentLocksCompatibleOnSameTable(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockISOnTable(1, fd))
	require.NoError(t, lm.LockIXOnTable(2, fd))
}

func TestRepeatedSameModeLockIsNoop(t *testing.T) {
	lm := NewLockManager()
	var fd storage.FD = 1
	require.NoError(t, lm.LockSharedOnTable(1, fd))
	require.NoError(t, lm.LockSharedOnTable(1, fd))
}
