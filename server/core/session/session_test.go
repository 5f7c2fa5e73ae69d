package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMasterLockWriterExcludesReadersAndTransactions(t *testing.T) {
	l := NewMasterLock()

	l.AcquireWriter("w1")

	var wg sync.WaitGroup
	wg.Add(2)
	readerIn := make(chan struct{})
	txnIn := make(chan struct{})

	go func() {
		defer wg.Done()
		l.AcquireReader()
		close(readerIn)
		l.ReleaseReader()
	}()
	go func() {
		defer wg.Done()
		l.AcquireTransaction()
		close(txnIn)
		l.ReleaseTransaction()
	}()

	select {
	case <-readerIn:
		t.Fatal("reader must not proceed while writer holds the master lock")
	case <-txnIn:
		t.Fatal("transaction must not proceed while writer holds the master lock")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, l.ReleaseWriter("w1"))
	wg.Wait()
}

func TestMasterLockQueuedWriterIsNotStarvedByLaterReaders(t *testing.T) {
	l := NewMasterLock()
	l.AcquireReader() // reader 1
	l.AcquireReader() // reader 2

	writerDone := make(chan struct{})
	go func() {
		l.AcquireWriter("w1")
		close(writerDone)
	}()
	time.Sleep(20 * time.Millisecond) // let the writer register as a waiter

	reader3Done := make(chan struct{})
	go func() {
		l.AcquireReader() // reader 3, arrives after the writer is already queued
		close(reader3Done)
	}()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-reader3Done:
		t.Fatal("reader 3 must queue behind the pending writer, not bypass it")
	default:
	}

	l.ReleaseReader() // reader 1
	l.ReleaseReader() // reader 2

	select {
	case <-writerDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("writer never acquired the lock")
	}
	select {
	case <-reader3Done:
		t.Fatal("reader 3 proceeded before the writer released the lock")
	default:
	}

	require.NoError(t, l.ReleaseWriter("w1"))
	select {
	case <-reader3Done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("reader 3 never proceeded after the writer released the lock")
	}
}

func TestMasterLockReadersAndTransactionsCoexist(t *testing.T) {
	l := NewMasterLock()
	l.AcquireReader()
	l.AcquireTransaction()
	l.ReleaseReader()
	l.ReleaseTransaction()
}

func TestEnvCheckForCancelPropagatesFromParent(t *testing.T) {
	parent := NewEnv("parent", 1, 1, nil)
	parent.InTransaction.Store(true)
	child := NewEnv("child", 1, 1, parent)

	require.NoError(t, child.CheckForCancel())

	parent.Cancelled.Store(true)
	require.Error(t, child.CheckForCancel())
}

func TestGetTransactionCommitTypeTakesMax(t *testing.T) {
	env := NewEnv("t1", 1, 1, nil)
	env.SetCommitType(FastSoftCommit)
	require.Equal(t, SyncedCommit, env.GetTransactionCommitType(SoftCommit, SyncedCommit))
	require.Equal(t, FastSoftCommit, env.GetTransactionCommitType(SoftCommit, SoftCommit))
}

func TestSystemCreateEnvEnforcesMaxBackendsAndSingleOwnership(t *testing.T) {
	cfg := testCfg()
	cfg.MaxBackends = 1
	sys, err := Init(cfg, "")
	require.NoError(t, err)
	defer sys.Shutdown()

	_, err = sys.CreateEnv("t1", 1, 1, nil)
	require.NoError(t, err)

	_, err = sys.CreateEnv("t2", 1, 1, nil)
	require.Error(t, err, "max_backends must be enforced")

	_, err = sys.CreateEnv("t1", 1, 1, nil)
	require.Error(t, err, "a thread may not own two environments")
}
