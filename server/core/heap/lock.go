package heap

import (
	"github.com/wdcore/engine/server/core/buffer"
	"github.com/wdcore/engine/server/core/collab"
	"github.com/wdcore/engine/server/core/coreerr"
)

// Snapshot carries the caller's transaction id and wait policy into
// LockTupleForUpdate. cmd is the command-id the visibility oracle needs
// to tell self-updates within the same transaction apart from updates
// made by someone else.
type Snapshot struct {
	Xid    uint64
	Cmd    uint32
	NoWait bool
}

// XactLockWaiter is the narrow seam into the lock manager's
// XactLockWait: block the caller until the transaction holding tupleXmax
// ends. Expressed as an interface so heap tests can use a no-op double
// without depending on lockmgr.
type XactLockWaiter interface {
	XactLockWait(xid uint64) error
}

// LockTupleForUpdate walks the MayBeUpdated/BeingUpdated/Invisible/
// Updated/SelfUpdated/Deleted outcomes from the injected oracle, waiting
// on the updating transaction via waiter when the tuple is BeingUpdated
// and the caller's snapshot permits waiting. It re-runs the visibility
// check after every successful wait, since the blocking transaction's
// outcome (commit or abort) changes what SatisfiesUpdate will report.
func (h *Heap) LockTupleForUpdate(relOID uint32, tid TID, snap Snapshot, oracle collab.VisibilityOracle, waiter XactLockWaiter) (collab.UpdateOutcome, error) {
	rel := h.rel(relOID)

	for {
		d, err := h.pool.Pin(rel, tid.BlockNo, false)
		if err != nil {
			return collab.Invisible, err
		}
		// Write-mode: a caller walking this path intends to update the
		// tuple, so the page is locked exclusive rather than shared, the
		// same way tryPutAt locks a page it is about to mutate.
		d.LockBuffer(buffer.ExclusiveLock)

		if int(tid.ItemNo) >= len(d.Page.Items) {
			d.LockBuffer(buffer.Unlock)
			h.pool.Unpin(d)
			return collab.Invisible, coreerr.New(coreerr.Corruption, "heap.LockTupleForUpdate: item id out of range")
		}
		item := d.Page.Items[tid.ItemNo]
		buf := d.Page.Data[item.Offset : item.Offset+item.Length]
		tup, decodeErr := decodeTuple(buf)
		d.LockBuffer(buffer.Unlock)
		h.pool.Unpin(d)
		if decodeErr != nil {
			return collab.Invisible, decodeErr
		}

		outcome := oracle.SatisfiesUpdate(snap.Xid, tup.Xmin, tup.Xmax, snap.Cmd)

		switch outcome {
		case collab.BeingUpdated:
			if snap.NoWait {
				return collab.BeingUpdated, coreerr.New(coreerr.Contention, "heap.LockTupleForUpdate: tuple locked, nowait")
			}
			if waiter == nil {
				return collab.BeingUpdated, coreerr.New(coreerr.Contention, "heap.LockTupleForUpdate: tuple locked, no waiter configured")
			}
			if err := waiter.XactLockWait(tup.Xmax); err != nil {
				return collab.BeingUpdated, err
			}
			continue
		default:
			return outcome, nil
		}
	}
}
