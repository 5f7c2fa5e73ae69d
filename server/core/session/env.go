package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wdcore/engine/server/core/coreerr"
)

// ThreadID identifies one backend's goroutine of control, the identity
// the lock manager keys per-session state on.
type ThreadID = string

// CommitType is the durability mode a transaction commits with. The
// constants are ranked in declaration order and GetTransactionCommitType
// takes the highest rank; the rank is not strictly a durability order
// (FastSoftCommit, which does not commit carefully, ranks above
// CarefulCommit).
type CommitType int

const (
	SoftCommit CommitType = iota
	CarefulCommit
	FastSoftCommit
	FastCarefulCommit
	SyncedCommit
)

// Env is one backend's environment: its identity, the database/user it
// connected as, its private variable namespace, and the transaction
// bookkeeping (current xid, commit durability, cancellation) the rest of
// the core consults through it.
type Env struct {
	ID            uuid.UUID
	OwnerThread   ThreadID
	UserID        uint32
	DBID          uint32
	Parent        *Env

	varsMu sync.RWMutex
	vars   map[string]any

	CurrentXid uint64

	systemCommitType CommitType
	userCommitType   CommitType

	Cancelled     atomic.Bool
	InTransaction atomic.Bool
}

// NewEnv returns a fresh environment owned by thread, optionally nested
// under parent (a subtransaction's environment).
func NewEnv(thread ThreadID, userID, dbID uint32, parent *Env) *Env {
	return &Env{
		ID:               uuid.New(),
		OwnerThread:      thread,
		UserID:           userID,
		DBID:             dbID,
		Parent:           parent,
		vars:             make(map[string]any),
		systemCommitType: SoftCommit,
		userCommitType:   SoftCommit,
	}
}

// SetVar and GetVar implement the environment's private variable
// namespace (session-level GUCs), guarded by their own mutex so a
// concurrent reader never blocks behind the env's transaction state.
func (e *Env) SetVar(key string, value any) {
	e.varsMu.Lock()
	defer e.varsMu.Unlock()
	e.vars[key] = value
}

func (e *Env) GetVar(key string) (any, bool) {
	e.varsMu.RLock()
	defer e.varsMu.RUnlock()
	v, ok := e.vars[key]
	return v, ok
}

// CheckForCancel reports whether the calling transaction should abort:
// either this env was directly cancelled, or — for a child (sub-
// transaction) env — its parent was cancelled or is no longer in a
// transaction at all (the parent ended without the child knowing).
func (e *Env) CheckForCancel() error {
	if e.Cancelled.Load() {
		return coreerr.New(coreerr.Contention, "session.Env.CheckForCancel: cancelled")
	}
	if e.Parent != nil {
		if e.Parent.Cancelled.Load() || !e.Parent.InTransaction.Load() {
			return coreerr.New(coreerr.Contention, "session.Env.CheckForCancel: parent cancelled or ended")
		}
	}
	return nil
}

// SetCommitType records the env's own (user-requested) commit durability
// preference; GetTransactionCommitType combines this with the system-wide
// default and any process-level override.
func (e *Env) SetCommitType(ct CommitType) {
	e.userCommitType = ct
}

// GetTransactionCommitType returns the highest-ranked (in CommitType
// declaration order) of the system default, this env's user preference,
// and processDefault; a request never lowers the effective rank.
func (e *Env) GetTransactionCommitType(systemDefault, processDefault CommitType) CommitType {
	max := systemDefault
	if e.userCommitType > max {
		max = e.userCommitType
	}
	if processDefault > max {
		max = processDefault
	}
	return max
}

// IsTransactionCareful reports whether ct implies a careful (fsync'd
// WAL-equivalent ordering point) commit rather than a merely soft one.
func IsTransactionCareful(ct CommitType) bool {
	return ct == CarefulCommit || ct == FastCarefulCommit || ct == SyncedCommit
}

// IsLoggable reports whether ct implies the commit should be durably
// recorded in the transaction status log before being acknowledged,
// rather than recorded as a soft commit pending a later flush.
func IsLoggable(ct CommitType) bool {
	return ct != SoftCommit && ct != FastSoftCommit
}

// IsTransactionFriendly reports whether ct allows batching this commit's
// durability work with other concurrently committing transactions'
// (SyncedCommit defers to a shared fsync point; the Fast* modes do not).
func IsTransactionFriendly(ct CommitType) bool {
	return ct == SyncedCommit || ct == SoftCommit || ct == CarefulCommit
}
