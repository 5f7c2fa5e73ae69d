// Package collab defines the narrow interfaces the storage core uses to
// reach collaborators that sit outside its scope: the relation catalog,
// the SQL-level visibility rules for update locking, and the free-space
// directory a higher layer may want to override with something smarter
// than the core's own advisory per-relation scan. Nothing in this package
// implements SQL, planning or catalog storage — those are out of scope;
// this is only the seam the core calls through.
package collab

import (
	"github.com/wdcore/engine/server/core/page"
)

// StorageManager is the minimal file-space contract the heap layer needs
// from whatever owns relation storage. page.FileSpaceManager satisfies it
// directly; it is expressed as an interface so heap and buffer tests can
// substitute an in-memory double.
type StorageManager interface {
	ReadBlock(rel page.RelID, blockNo uint32, into *page.Page) error
	WriteBlock(rel page.RelID, blockNo uint32, p *page.Page) error
	Extend(rel page.RelID) (uint32, error)
	Size(rel page.RelID) (uint32, error)
}

// RelationCatalog answers the handful of per-relation facts the heap
// layer needs but does not own: whether oversize tuples may spill to blob
// pages, and the relation's fixed page-special size (always zero for
// ordinary heaps, non-zero for index-like relations reserving trailing
// space). Real catalog storage and DDL are out of scope.
type RelationCatalog interface {
	AllowsBlobTuples(rel page.RelID) bool
	SpecialSpace(rel page.RelID) uint16
}

// UpdateOutcome is the result of a VisibilityOracle.SatisfiesUpdate check,
// mirroring the tuple-visibility states named in spec §5.
type UpdateOutcome int

const (
	MayBeUpdated UpdateOutcome = iota
	BeingUpdated
	Invisible
	Updated
	SelfUpdated
	Deleted
)

// VisibilityOracle is the seam through which the (out-of-scope) MVCC
// snapshot machinery tells the heap layer whether a given tuple version
// may be locked for update by the calling transaction. The heap layer
// itself holds no opinion on snapshots, isolation levels or command IDs;
// it only acts on the outcome.
type VisibilityOracle interface {
	SatisfiesUpdate(xid uint64, tupleXmin, tupleXmax uint64, cmd uint32) UpdateOutcome
}

// FreeSpaceDirectory tracks, per relation, which blocks have at least a
// given amount of free space. The core ships an in-process advisory
// implementation (see heap.FreeSpaceMap); this interface exists so a
// higher layer can substitute a persistent or cluster-wide one without
// the heap layer changing.
type FreeSpaceDirectory interface {
	// CandidateBlock returns a block believed to have at least need bytes
	// free, or ok=false if none is known.
	CandidateBlock(rel page.RelID, need uint16) (blockNo uint32, ok bool)
	// Update records the free space observed on blockNo after an insert
	// or a page-level vacuum of rel.
	Update(rel page.RelID, blockNo uint32, freeBytes uint16)
	// Forget drops all recorded free-space entries for rel, used by
	// DropBuffers-style relation drops.
	Forget(rel page.RelID)
}
