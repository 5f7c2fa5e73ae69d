// Package session implements the per-backend environment and the
// process-wide master lock and System registry that own the buffer
// pool, lock table, transaction status log and file-space manager for
// one running storage core instance.
package session

import (
	"sync"

	"github.com/wdcore/engine/server/core/coreerr"
)

// MasterLock is the process-wide readers/writer/transaction gate: most
// backends only ever take AcquireReader (to read tuples) or
// AcquireTransaction (to run one), while AcquireWriter is reserved for
// operations that must see no concurrent transaction activity at all
// (bringing the system up or down, a relation-level drop). It is a
// direct generalization of the teacher's plain RWMutex latch to the
// three-way reader/writer/transaction distinction the core specification
// calls for.
type MasterLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers       int32
	transactions  int32
	writerWaiters int32 // backends parked in AcquireWriter/Upgrade
	writerHeld    bool
	writerOwner   ThreadID
}

// NewMasterLock returns an unlocked master lock.
func NewMasterLock() *MasterLock {
	l := &MasterLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// AcquireReader blocks while a writer holds the lock or one is queued
// waiting for readers/transactions to drain, then registers one more
// concurrent reader. Yielding to a queued writer prevents a steady stream
// of new readers from starving it out indefinitely.
func (l *MasterLock) AcquireReader() {
	l.mu.Lock()
	for l.writerHeld || l.writerWaiters > 0 {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// ReleaseReader gives up one reader registration.
func (l *MasterLock) ReleaseReader() {
	l.mu.Lock()
	l.readers--
	l.mu.Unlock()
	l.cond.Broadcast()
}

// AcquireTransaction blocks while a writer holds the lock or one is
// queued, then registers one more concurrently running transaction.
// Transactions and readers do not conflict with each other, only with
// AcquireWriter, and both yield to a queued writer the same way.
func (l *MasterLock) AcquireTransaction() {
	l.mu.Lock()
	for l.writerHeld || l.writerWaiters > 0 {
		l.cond.Wait()
	}
	l.transactions++
	l.mu.Unlock()
}

// ReleaseTransaction gives up one transaction registration.
func (l *MasterLock) ReleaseTransaction() {
	l.mu.Lock()
	l.transactions--
	l.mu.Unlock()
	l.cond.Broadcast()
}

// AcquireWriter blocks until no readers, transactions or other writer
// remain registered, then takes exclusive ownership as owner. It
// registers itself as a waiter before blocking so that readers and
// transactions arriving after it stop admitting new work and the
// pending drain actually completes.
func (l *MasterLock) AcquireWriter(owner ThreadID) {
	l.mu.Lock()
	l.writerWaiters++
	for l.writerHeld || l.readers > 0 || l.transactions > 0 {
		l.cond.Wait()
	}
	l.writerWaiters--
	l.writerHeld = true
	l.writerOwner = owner
	l.mu.Unlock()
}

// ReleaseWriter gives up exclusive ownership, waking every blocked
// reader, transaction and writer.
func (l *MasterLock) ReleaseWriter(owner ThreadID) error {
	l.mu.Lock()
	if !l.writerHeld || l.writerOwner != owner {
		l.mu.Unlock()
		return coreerr.New(coreerr.User, "session.MasterLock.ReleaseWriter: not the current owner")
	}
	l.writerHeld = false
	l.writerOwner = ""
	l.mu.Unlock()
	l.cond.Broadcast()
	return nil
}

// Upgrade converts the caller's transaction registration into writer
// ownership, blocking until it is the only transaction and no readers
// remain. Used sparingly — by design, most writer-mode operations are
// requested directly via AcquireWriter instead of upgraded into.
func (l *MasterLock) Upgrade(owner ThreadID) {
	l.mu.Lock()
	l.transactions--
	l.writerWaiters++
	for l.writerHeld || l.readers > 0 || l.transactions > 0 {
		l.cond.Wait()
	}
	l.writerWaiters--
	l.writerHeld = true
	l.writerOwner = owner
	l.mu.Unlock()
}

// Downgrade converts writer ownership back into a transaction
// registration, the inverse of Upgrade.
func (l *MasterLock) Downgrade(owner ThreadID) error {
	l.mu.Lock()
	if !l.writerHeld || l.writerOwner != owner {
		l.mu.Unlock()
		return coreerr.New(coreerr.User, "session.MasterLock.Downgrade: not the current owner")
	}
	l.writerHeld = false
	l.writerOwner = ""
	l.transactions++
	l.mu.Unlock()
	l.cond.Broadcast()
	return nil
}
