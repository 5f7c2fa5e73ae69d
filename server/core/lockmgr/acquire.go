package lockmgr

import (
	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/coreerr"
	"github.com/wdcore/engine/server/core/metrics"
)

// Acquire implements the seven-step acquisition protocol: find-or-insert
// the lock entry, find-or-insert the requester's holder record,
// increment its count for mode, test for conflict against every OTHER
// holder's granted modes (a thread's own holds never conflict with
// itself), grant immediately on the fast path, fail fast for advisory
// (MethodUser) locks that would otherwise block, and otherwise enqueue
// FIFO. If that wait would close a deadlock cycle, Acquire returns an
// error without blocking; otherwise it blocks until the lock is granted,
// with no timeout and no cancellation. Deadlock detection runs synchronously, in the calling
// goroutine, immediately after it enqueues — not on a periodic
// background scan — so a cycle is found before any other participant can
// make progress past it.
func (t *Table) Acquire(tag Tag, thread ThreadID, mode Mode) error {
	e := t.entryFor(tag)

	e.mu.Lock()
	counts, ok := e.holders[thread]
	if !ok {
		counts = &[numModes]int32{}
		e.holders[thread] = counts
	}

	needQueue := len(e.queue) > 0
	if !needQueue {
		cm := conflictMask(mode)
		for m := Mode(0); m < numModes; m++ {
			if cm&(1<<uint(m)) == 0 {
				continue
			}
			if e.granted[m]-counts[m] > 0 {
				needQueue = true
				break
			}
		}
	}

	if !needQueue {
		grantLocked(e, counts, mode)
		e.mu.Unlock()
		metrics.LockAcquiresTotal.WithLabelValues(mode.String()).Inc()
		return nil
	}

	if tag.Method == MethodUser {
		e.mu.Unlock()
		return coreerr.New(coreerr.Contention, "lockmgr.Acquire: advisory lock would block")
	}

	w := &waiter{thread: thread, mode: mode, done: make(chan error, 1)}
	e.queue = append(e.queue, w)
	e.waitMask |= 1 << uint(mode)
	e.mu.Unlock()

	metrics.LockWaitsTotal.Inc()

	if t.wouldDeadlock(tag, thread, mode) {
		t.cancelWaiter(tag, w)
		metrics.LockDeadlocksTotal.Inc()
		return coreerr.New(coreerr.Contention, "lockmgr.Acquire: deadlock detected")
	}

	err := <-w.done
	if err == nil {
		metrics.LockAcquiresTotal.WithLabelValues(mode.String()).Inc()
	}
	return err
}

func grantLocked(e *lockEntry, counts *[numModes]int32, mode Mode) {
	e.granted[mode]++
	counts[mode]++
	e.grantMask |= 1 << uint(mode)
}

// cancelWaiter removes w from tag's queue without granting it, used when
// the deadlock detector selects the just-enqueued waiter as the victim.
func (t *Table) cancelWaiter(tag Tag, w *waiter) {
	p := t.partitionFor(tag)
	p.mu.Lock()
	e, ok := p.locks[tag]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.recomputeWaitMask()
	e.mu.Unlock()
}

func (e *lockEntry) recomputeWaitMask() {
	var mask uint16
	for _, w := range e.queue {
		mask |= 1 << uint(w.mode)
	}
	e.waitMask = mask
}

// Release gives up one unit of mode held by thread on tag. When the
// count for mode drops to zero the grant bit clears and the FIFO queue
// is walked from the front, granting every waiter whose mode does not
// conflict with what remains granted — stopping at the first waiter that
// still conflicts, so later-arriving compatible waiters cannot leapfrog
// an earlier, still-blocked one.
func (t *Table) Release(tag Tag, thread ThreadID, mode Mode) error {
	e := t.entryFor(tag)

	e.mu.Lock()
	counts, ok := e.holders[thread]
	if !ok || counts[mode] == 0 {
		e.mu.Unlock()
		return coreerr.New(coreerr.User, "lockmgr.Release: thread does not hold this lock")
	}

	counts[mode]--
	e.granted[mode]--
	if e.granted[mode] == 0 {
		e.grantMask &^= 1 << uint(mode)
	}
	if isZero(counts) {
		delete(e.holders, thread)
	}

	t.walkQueueLocked(e)
	empty := e.grantMask == 0 && len(e.queue) == 0
	e.mu.Unlock()

	if empty {
		t.maybeRemove(tag)
	}
	return nil
}

// ReleaseAll releases every mode thread holds on tag, used at transaction
// end when a session gives up its whole lock footprint on an object in
// one step.
func (t *Table) ReleaseAll(tag Tag, thread ThreadID) error {
	e := t.entryFor(tag)

	e.mu.Lock()
	counts, ok := e.holders[thread]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	for m := Mode(0); m < numModes; m++ {
		if counts[m] == 0 {
			continue
		}
		e.granted[m] -= counts[m]
		if e.granted[m] == 0 {
			e.grantMask &^= 1 << uint(m)
		}
	}
	delete(e.holders, thread)

	t.walkQueueLocked(e)
	empty := e.grantMask == 0 && len(e.queue) == 0
	e.mu.Unlock()

	if empty {
		t.maybeRemove(tag)
	}
	return nil
}

// walkQueueLocked grants the longest compatible prefix of e.queue. e.mu
// must already be held by the caller.
func (t *Table) walkQueueLocked(e *lockEntry) {
	i := 0
	for ; i < len(e.queue); i++ {
		w := e.queue[i]
		cm := conflictMask(w.mode)
		if cm&e.grantMask != 0 {
			break
		}
		counts, ok := e.holders[w.thread]
		if !ok {
			counts = &[numModes]int32{}
			e.holders[w.thread] = counts
		}
		grantLocked(e, counts, w.mode)
		w.done <- nil
	}
	if i > 0 {
		e.queue = e.queue[i:]
		logger.Debugf("lockmgr: granted %d queued waiter(s) on %v", i, e.tag)
	}
	e.recomputeWaitMask()
}

func isZero(counts *[numModes]int32) bool {
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}
