package heap

import (
	"sort"
	"sync"

	"github.com/wdcore/engine/server/core/page"
)

// freeSpaceEntry records the last-observed free space on one block.
type freeSpaceEntry struct {
	blockNo uint32
	free    uint16
}

// FreeSpaceMap is the core's own advisory, in-process
// collab.FreeSpaceDirectory: a sorted-by-free-space slice per relation,
// populated as PutTuple/tryPutAt observe page occupancy. It is advisory
// only — CandidateBlock's answer is re-validated under the page's
// exclusive content lock before anything is written, so a stale entry
// (another backend filled the page first) costs a retry, not correctness.
type FreeSpaceMap struct {
	mu      sync.Mutex
	byRel   map[page.RelID][]freeSpaceEntry
}

// NewFreeSpaceMap returns an empty directory.
func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{byRel: make(map[page.RelID][]freeSpaceEntry)}
}

// CandidateBlock returns the block with the most free space recorded for
// rel, if it has at least need bytes.
func (m *FreeSpaceMap) CandidateBlock(rel page.RelID, need uint16) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byRel[rel]
	if len(entries) == 0 {
		return 0, false
	}
	best := entries[len(entries)-1]
	if best.free < need {
		return 0, false
	}
	return best.blockNo, true
}

// Update records the free space observed on blockNo, keeping the
// relation's slice sorted ascending by free space so CandidateBlock can
// take the best-fit entry from the tail in O(1).
func (m *FreeSpaceMap) Update(rel page.RelID, blockNo uint32, freeBytes uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byRel[rel]
	for i := range entries {
		if entries[i].blockNo == blockNo {
			entries[i].free = freeBytes
			sort.Slice(entries, func(a, b int) bool { return entries[a].free < entries[b].free })
			m.byRel[rel] = entries
			return
		}
	}
	entries = append(entries, freeSpaceEntry{blockNo: blockNo, free: freeBytes})
	sort.Slice(entries, func(a, b int) bool { return entries[a].free < entries[b].free })
	m.byRel[rel] = entries
}

// Forget drops every recorded entry for rel.
func (m *FreeSpaceMap) Forget(rel page.RelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRel, rel)
}
