package buffer

import (
	"sync"
	"time"
)

// freeList is a singly linked list of descriptor indices threaded through
// Descriptor.FreeNext, grounded on the original freelist.c's two-list
// design: a master list serving ordinary relation pages and an optional,
// smaller index-reserved list so heavy sequential heap scans can't starve
// index lookups of buffers.
type freeList struct {
	mu      sync.Mutex
	cond    *sync.Cond
	head    int32 // -1 if empty
	tail    int32
	waiting int32
}

func newFreeList() *freeList {
	fl := &freeList{head: -1, tail: -1}
	fl.cond = sync.NewCond(&fl.mu)
	return fl
}

// push appends idx to the tail of the list. descriptors must hold no lock
// on desc when calling this; it takes the list's own mutex only.
func (fl *freeList) push(idx int32, descriptors []*Descriptor) {
	fl.mu.Lock()
	descriptors[idx].FreeNext = -1
	if fl.tail == -1 {
		fl.head = idx
	} else {
		descriptors[fl.tail].FreeNext = idx
	}
	fl.tail = idx
	fl.mu.Unlock()
	fl.cond.Signal()
}

// pop removes and returns the head index, or -1 if the list is empty.
func (fl *freeList) pop(descriptors []*Descriptor) int32 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	idx := fl.head
	if idx == -1 {
		return -1
	}
	fl.head = descriptors[idx].FreeNext
	if fl.head == -1 {
		fl.tail = -1
	}
	descriptors[idx].FreeNext = -1
	return idx
}

// waitTimeout blocks the caller until something is pushed or timeout
// elapses, whichever comes first.
func (fl *freeList) waitTimeout(timeout time.Duration) {
	fl.mu.Lock()
	fl.waiting++
	timedWait(fl.cond, timeout)
	fl.waiting--
	fl.mu.Unlock()
}

func (fl *freeList) waiterCount() int32 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.waiting
}
