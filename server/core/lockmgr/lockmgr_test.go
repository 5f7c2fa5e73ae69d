package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wdcore/engine/server/core/coreerr"
)

func testTag(relOID uint32) Tag {
	return Tag{Method: MethodDefault, DBID: 1, RelID: relOID, ObjectOrXid: 0}
}

func TestAcquireReleaseFastPath(t *testing.T) {
	table := NewTable(4)
	tag := testTag(1)

	require.NoError(t, table.Acquire(tag, "t1", Share))
	require.NoError(t, table.Acquire(tag, "t2", Share))
	require.NoError(t, table.Release(tag, "t1", Share))
	require.NoError(t, table.Release(tag, "t2", Share))
}

func TestConflictingModeBlocksUntilRelease(t *testing.T) {
	table := NewTable(4)
	tag := testTag(2)

	require.NoError(t, table.Acquire(tag, "writer", Exclusive))

	var wg sync.WaitGroup
	wg.Add(1)
	granted := make(chan struct{})
	go func() {
		defer wg.Done()
		require.NoError(t, table.Acquire(tag, "reader", Share))
		close(granted)
		table.Release(tag, "reader", Share)
	}()

	select {
	case <-granted:
		t.Fatal("reader should not be granted while writer holds Exclusive")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, table.Release(tag, "writer", Exclusive))
	wg.Wait()
}

func TestUserMethodFailsFastInsteadOfBlocking(t *testing.T) {
	table := NewTable(4)
	tag := Tag{Method: MethodUser, DBID: 1, RelID: 3, ObjectOrXid: 0}

	require.NoError(t, table.Acquire(tag, "t1", Exclusive))
	err := table.Acquire(tag, "t2", Exclusive)
	require.Error(t, err)
	require.True(t, coreerr.Is(err, coreerr.Contention))
}

func TestDeadlockDetected(t *testing.T) {
	table := NewTable(4)
	tagA := testTag(10)
	tagB := testTag(11)

	require.NoError(t, table.Acquire(tagA, "t1", Exclusive))
	require.NoError(t, table.Acquire(tagB, "t2", Exclusive))

	var wg sync.WaitGroup
	wg.Add(1)
	var t1err error
	go func() {
		defer wg.Done()
		t1err = table.Acquire(tagB, "t1", Exclusive)
	}()

	// give t1's waiter a moment to enqueue before t2 reaches for tagA,
	// completing the cycle t2 -> tagA(t1) -> tagB(t2).
	time.Sleep(20 * time.Millisecond)

	err := table.Acquire(tagA, "t2", Exclusive)
	require.Error(t, err, "t2 should detect the cycle and fail rather than block forever")
	require.True(t, coreerr.Is(err, coreerr.Contention))

	require.NoError(t, table.Release(tagB, "t2", Exclusive))
	wg.Wait()
	require.NoError(t, t1err)
	require.NoError(t, table.Release(tagA, "t1", Exclusive))
	require.NoError(t, table.Release(tagB, "t1", Exclusive))
}
