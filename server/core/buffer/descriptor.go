// Package buffer implements the shared buffer pool: a fixed array of
// descriptors pinned and unpinned by concurrent goroutines, backed by a
// free-list eviction policy carried over from the original C
// implementation's two-list, second-chance ("lingering buffer") design.
package buffer

import (
	"sync"
	"time"

	"github.com/wdcore/engine/server/core/page"
)

// Tag identifies the page a buffer descriptor currently holds.
type Tag struct {
	Rel     page.RelID
	BlockNo uint32
}

// Flag bits recorded on a Descriptor.
type Flag uint32

const (
	FlagValid     Flag = 1 << iota // contents reflect the tagged page
	FlagUsed                       // recently referenced; give it a second chance
	FlagFree                       // on a free list, unpinned
	FlagExclusive                  // exclusively locked (content lock, not the descriptor mutex)
	FlagRetired                    // being evicted; new pinners must retry
	FlagReadonly                   // pinned read-only via PinReadonly fast path
	FlagDirty                      // modified since last flush
)

// LockMode is the page content-lock mode requested via LockBuffer. This is
// distinct from lockmgr.Mode, which arbitrates relation/tuple/transaction
// locks; LockMode only arbitrates concurrent access to one buffer's bytes.
type LockMode int

const (
	Unlock LockMode = iota
	Share
	ExclusiveLock
	RefExclusive // share lock that may be upgraded without re-queuing
	ReadExclusive
)

// timedWait performs cond.Wait but guarantees a wakeup after timeout even
// if no Signal/Broadcast occurs, by arming a one-shot timer that broadcasts
// on the same condition variable. cond.L must be held by the caller, as
// required by sync.Cond.Wait. This stands in for the original C code's
// pthread_cond_timedwait, which Go's sync.Cond has no equivalent for.
func timedWait(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	cond.Wait()
	timer.Stop()
}

// Descriptor is one slot of the buffer pool.
type Descriptor struct {
	mu   sync.Mutex
	cond *sync.Cond

	Slot     int32 // this descriptor's fixed index in Pool.descriptors
	Tag      Tag
	RefCount int32
	Flags    Flag
	Bias     int32 // extra second-chance credit for index/hot pages
	FreeNext int32 // index of next descriptor on a free list, -1 if none
	IsIndex  bool  // which free list this descriptor returns to when unpinned

	EWaiting int32 // goroutines waiting for an exclusive content lock
	PWaiting int32 // goroutines waiting merely to pin (retired buffer)

	Page page.Page
}

func newDescriptor() *Descriptor {
	d := &Descriptor{FreeNext: -1}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Descriptor) hasFlag(f Flag) bool { return d.Flags&f != 0 }
func (d *Descriptor) setFlag(f Flag)      { d.Flags |= f }
func (d *Descriptor) clearFlag(f Flag)    { d.Flags &^= f }

// LockBuffer acquires or releases the descriptor's content lock. Exclusive
// content locks are mutually exclusive with every other mode; Share and
// RefExclusive may coexist with other Share/RefExclusive holders.
func (d *Descriptor) LockBuffer(mode LockMode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch mode {
	case Unlock:
		d.clearFlag(FlagExclusive)
		d.cond.Broadcast()
	case ExclusiveLock:
		for d.hasFlag(FlagExclusive) {
			d.EWaiting++
			d.cond.Wait()
			d.EWaiting--
		}
		d.setFlag(FlagExclusive)
	case Share, RefExclusive, ReadExclusive:
		for d.hasFlag(FlagExclusive) {
			d.EWaiting++
			d.cond.Wait()
			d.EWaiting--
		}
	}
}

// pin increments the reference count and marks the descriptor used,
// giving it a second chance against the free-list eviction scan.
func (d *Descriptor) pin() {
	d.mu.Lock()
	d.RefCount++
	d.setFlag(FlagUsed)
	d.mu.Unlock()
}

// unpin decrements the reference count, returning the count after the
// decrement.
func (d *Descriptor) unpin() int32 {
	d.mu.Lock()
	d.RefCount--
	n := d.RefCount
	d.mu.Unlock()
	return n
}
