package lockmgr

// xactDBID is a fixed, reserved database id used for the transaction-
// commit lock namespace, keeping xid locks from ever colliding with a
// real relation's tag space (relation ids and xids are drawn from
// disjoint counters in the rest of the core, but the reservation costs
// nothing and removes any doubt).
const xactDBID = 0xFFFFFFFF

func xactTag(xid uint64) Tag {
	return Tag{Method: MethodDefault, DBID: xactDBID, RelID: 0, ObjectOrXid: xid}
}

// XactLockInsert registers that thread is the transaction running as
// xid, by taking an AccessExclusive lock on xid's tag — the one mode that
// conflicts with every other mode in the matrix, including the AccessShare
// a waiter uses below. A later XactLockWait by any other thread blocks
// until this lock is released, which happens when the owning transaction
// ends (commits or aborts) and calls XactLockRelease.
func (t *Table) XactLockInsert(xid uint64, thread ThreadID) error {
	return t.Acquire(xactTag(xid), thread, AccessExclusive)
}

// XactLockRelease releases the lock taken by XactLockInsert, waking
// every thread blocked in XactLockWait for xid.
func (t *Table) XactLockRelease(xid uint64, thread ThreadID) error {
	return t.Release(xactTag(xid), thread, AccessExclusive)
}

// XactLockWait blocks the calling thread until the transaction running
// as xid ends, by requesting and immediately releasing an AccessShare
// lock on the same tag XactLockInsert holds AccessExclusive on.
func (t *Table) XactLockWait(xid uint64, thread ThreadID) error {
	if err := t.Acquire(xactTag(xid), thread, AccessShare); err != nil {
		return err
	}
	return t.Release(xactTag(xid), thread, AccessShare)
}

// LockPage and UnlockPage are thin convenience wrappers that take and
// release a lock of the caller's chosen mode on one page, expressed in
// terms of the relation's own Tag rather than a private page-lock table.
// The heap package does not call them.
func (t *Table) LockPage(dbID, relOID uint32, blockNo uint32, thread ThreadID, mode Mode) error {
	tag := Tag{Method: MethodDefault, DBID: dbID, RelID: relOID, ObjectOrXid: uint64(blockNo)}
	return t.Acquire(tag, thread, mode)
}

func (t *Table) UnlockPage(dbID, relOID uint32, blockNo uint32, thread ThreadID, mode Mode) error {
	tag := Tag{Method: MethodDefault, DBID: dbID, RelID: relOID, ObjectOrXid: uint64(blockNo)}
	return t.Release(tag, thread, mode)
}
