package collab

import (
	"sync"

	"github.com/wdcore/engine/server/core/page"
)

// StaticCatalog is a fixed, in-memory RelationCatalog used by core tests
// and the demo CLI, which have no real catalog layer to ask.
type StaticCatalog struct {
	mu          sync.RWMutex
	allowsBlob  map[uint32]bool
	special     map[uint32]uint16
	defaultBlob bool
}

// NewStaticCatalog returns a catalog where every relation allows blob
// tuples and reserves no special space unless overridden.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		allowsBlob:  make(map[uint32]bool),
		special:     make(map[uint32]uint16),
		defaultBlob: true,
	}
}

func (c *StaticCatalog) SetAllowsBlobTuples(relOID uint32, allow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowsBlob[relOID] = allow
}

func (c *StaticCatalog) SetSpecialSpace(relOID uint32, n uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.special[relOID] = n
}

func (c *StaticCatalog) AllowsBlobTuples(rel page.RelID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.allowsBlob[rel.RelOID]; ok {
		return v
	}
	return c.defaultBlob
}

func (c *StaticCatalog) SpecialSpace(rel page.RelID) uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.special[rel.RelOID]
}

// AlwaysVisible is a VisibilityOracle test double that always reports a
// tuple as available for update, used by heap tests and the demo CLI that
// have no real MVCC snapshot machinery behind them.
type AlwaysVisible struct{}

func (AlwaysVisible) SatisfiesUpdate(xid uint64, tupleXmin, tupleXmax uint64, cmd uint32) UpdateOutcome {
	return MayBeUpdated
}
