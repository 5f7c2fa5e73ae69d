package buffer

import (
	"sync"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/coreerr"
	"github.com/wdcore/engine/server/core/metrics"
	"github.com/wdcore/engine/server/core/page"
)

// Store is the subset of page.FileSpaceManager the pool needs. Expressed
// as an interface so pool tests can substitute an in-memory fake without
// touching a real filesystem.
type Store interface {
	ReadBlock(rel page.RelID, blockNo uint32, into *page.Page) error
	WriteBlock(rel page.RelID, blockNo uint32, p *page.Page) error
	Extend(rel page.RelID) (uint32, error)
}

// Pool is the shared buffer pool: a fixed array of descriptors, a hashed
// index from Tag to descriptor slot, and two free lists (master and an
// optional index reservation) feeding eviction. Grounded on the original
// freelist.c's GetHead/InitiateFlush/RemoveNearestNeighbor trio.
type Pool struct {
	cfg   *conf.Cfg
	store Store

	descriptors []*Descriptor
	masterList  *freeList
	indexList   *freeList // nil when IndexBufferReserve == 0

	hashMu sync.RWMutex
	hash   map[Tag]int32

	flush *flushCoordinator

	mu          sync.Mutex // guards resizing (growPool)
	flushChecks int64
}

// New builds a pool of cfg.TotalPages descriptors, none valid. The first
// IndexBufferReserve*TotalPages of them start on a separate index free
// list instead of the master free list; the rest start on the master list.
func New(cfg *conf.Cfg, store Store) *Pool {
	p := &Pool{
		cfg:         cfg,
		store:       store,
		descriptors: make([]*Descriptor, cfg.TotalPages),
		masterList:  newFreeList(),
		hash:        make(map[Tag]int32, cfg.TotalPages),
	}
	p.flush = newFlushCoordinator(p)

	reserve := int(float64(cfg.TotalPages) * cfg.IndexBufferReserve)
	if reserve > 0 {
		p.indexList = newFreeList()
	}

	for i := range p.descriptors {
		d := newDescriptor()
		d.Slot = int32(i)
		p.descriptors[i] = d
		if p.indexList != nil && i < reserve {
			d.IsIndex = true
			p.indexList.push(int32(i), p.descriptors)
		} else {
			p.masterList.push(int32(i), p.descriptors)
		}
	}

	metrics.BufferPoolSize.Set(float64(cfg.TotalPages))
	return p
}

// listFor returns the free list a page of the given kind should draw from
// and be returned to. isIndex pages prefer the reserved list if one exists.
func (p *Pool) listFor(isIndex bool) (preferred, other *freeList) {
	if isIndex && p.indexList != nil {
		return p.indexList, p.masterList
	}
	return p.masterList, p.indexList
}

// Pin returns the descriptor for tag, reading it from disk on a miss. The
// returned descriptor has RefCount >= 1; callers must call Unpin exactly
// once per Pin.
func (p *Pool) Pin(rel page.RelID, blockNo uint32, isIndex bool) (*Descriptor, error) {
	metrics.BufferPinsTotal.Inc()
	tag := Tag{Rel: rel, BlockNo: blockNo}

	p.hashMu.RLock()
	idx, ok := p.hash[tag]
	p.hashMu.RUnlock()
	if ok {
		d := p.descriptors[idx]
		d.pin()
		if d.hasFlag(FlagValid) && d.Tag == tag {
			metrics.BufferHitsTotal.Inc()
			return d, nil
		}
		// raced with an eviction of the same slot; fall through to a
		// fresh read under its own pin.
		d.unpin()
	}

	d, idx, err := p.getFreeBuffer(isIndex)
	if err != nil {
		return nil, err
	}

	p.hashMu.Lock()
	if existing, ok := p.hash[tag]; ok && p.descriptors[existing].hasFlag(FlagValid) && p.descriptors[existing].Tag == tag {
		// someone else filled it first; use theirs.
		p.hashMu.Unlock()
		d.mu.Lock()
		d.RefCount = 0
		d.mu.Unlock()
		winner := p.descriptors[existing]
		winner.pin()
		p.returnToFreeList(idx)
		return winner, nil
	}
	delete(p.hash, d.Tag)
	p.hash[tag] = idx
	p.hashMu.Unlock()

	if err := p.store.ReadBlock(rel, blockNo, &d.Page); err != nil {
		if !coreerr.Is(err, coreerr.Corruption) {
			d.mu.Lock()
			d.RefCount = 0
			d.mu.Unlock()
			p.hashMu.Lock()
			delete(p.hash, tag)
			p.hashMu.Unlock()
			p.returnToFreeList(idx)
			return nil, err
		}
		logger.Warnf("buffer: pinned corrupt page rel=%v block=%d", rel, blockNo)
	}

	d.mu.Lock()
	d.Tag = tag
	d.IsIndex = isIndex
	d.setFlag(FlagValid)
	d.clearFlag(FlagDirty)
	d.mu.Unlock()

	return d, nil
}

// PinReadonly is a cheap path for read-mostly access patterns (sequential
// scans) that does not contend for the index free list and never marks
// the descriptor dirty; semantically identical to Pin otherwise.
func (p *Pool) PinReadonly(rel page.RelID, blockNo uint32) (*Descriptor, error) {
	d, err := p.Pin(rel, blockNo, false)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.setFlag(FlagReadonly)
	d.mu.Unlock()
	return d, nil
}

// Unpin releases one reference on d. When the reference count reaches
// zero the descriptor is returned to its free list, where it sits
// (carrying its FlagUsed second-chance bit) until getFreeBuffer's
// eviction scan either skips it once more or reclaims it.
func (p *Pool) Unpin(d *Descriptor) {
	if n := d.unpin(); n == 0 {
		p.returnToFreeList(d.Slot)
	}
}

// WriteBuffer marks d dirty; the content must already be locked exclusive
// by the caller via d.LockBuffer(ExclusiveLock).
func (p *Pool) WriteBuffer(d *Descriptor) {
	d.mu.Lock()
	d.setFlag(FlagDirty)
	d.mu.Unlock()
}

// FlushBuffer writes d's contents to disk if dirty and clears the dirty
// flag. Safe to call with only a Share content lock held, since the byte
// contents are not mutated by a flush.
func (p *Pool) FlushBuffer(d *Descriptor) error {
	d.mu.Lock()
	if !d.hasFlag(FlagDirty) {
		d.mu.Unlock()
		return nil
	}
	tag := d.Tag
	pageCopy := d.Page
	d.mu.Unlock()

	if err := p.store.WriteBlock(tag.Rel, tag.BlockNo, &pageCopy); err != nil {
		return err
	}

	d.mu.Lock()
	d.clearFlag(FlagDirty)
	d.mu.Unlock()
	return nil
}

// DropBuffers invalidates every descriptor belonging to dbID, flushing
// dirty ones first. Used when a database is dropped; callers must ensure
// no transaction still holds a pin into dbID.
func (p *Pool) DropBuffers(dbID uint32) error {
	for idx, d := range p.descriptors {
		d.mu.Lock()
		if d.Tag.Rel.DBID != dbID || !d.hasFlag(FlagValid) {
			d.mu.Unlock()
			continue
		}
		dirty := d.hasFlag(FlagDirty)
		tag := d.Tag
		pageCopy := d.Page
		d.mu.Unlock()

		if dirty {
			if err := p.store.WriteBlock(tag.Rel, tag.BlockNo, &pageCopy); err != nil {
				return err
			}
		}

		d.mu.Lock()
		d.clearFlag(FlagValid | FlagDirty | FlagUsed)
		d.mu.Unlock()

		p.hashMu.Lock()
		delete(p.hash, tag)
		p.hashMu.Unlock()
		p.returnToFreeList(int32(idx))
	}
	return nil
}

func (p *Pool) returnToFreeList(idx int32) {
	d := p.descriptors[idx]
	d.mu.Lock()
	d.setFlag(FlagFree)
	isIndex := d.IsIndex
	d.mu.Unlock()

	list := p.masterList
	if isIndex && p.indexList != nil {
		list = p.indexList
	}
	list.push(idx, p.descriptors)
}

// getFreeBuffer implements the GetHead loop: pop a candidate from the
// relation-appropriate free list (falling back to the other list when
// empty), and apply the second-chance checks under the descriptor's own
// guard — a pinned buffer is skipped and the USED bit cleared so it is
// evicted on its next pass; a buffer with remaining Bias credit is
// requeued with the credit decremented; a lingering (recently used)
// buffer is requeued once more with USED cleared; otherwise it is
// reclaimed. If both lists are empty the caller blocks on the preferred
// list's condition variable with a bounded timeout and, on timing out
// repeatedly, asks the flush coordinator to write back dirty buffers to
// make room.
func (p *Pool) getFreeBuffer(isIndex bool) (*Descriptor, int32, error) {
	preferred, other := p.listFor(isIndex)

	for attempt := 0; ; attempt++ {
		idx := preferred.pop(p.descriptors)
		if idx == -1 && other != nil {
			idx = other.pop(p.descriptors)
		}

		if idx == -1 {
			preferred.waitTimeout(p.cfg.BufferWait)
			p.flushChecks++
			if p.flushChecks%4 == 0 {
				if err := p.flush.initiateFlush(); err != nil {
					return nil, 0, err
				}
			}
			if attempt > 0 && attempt%16 == 0 {
				logger.Warnf("buffer: getFreeBuffer still waiting after %d attempts", attempt)
			}
			continue
		}

		d := p.descriptors[idx]
		d.mu.Lock()
		switch {
		case d.RefCount > 0:
			d.clearFlag(FlagUsed)
			d.mu.Unlock()
			continue
		case d.Bias > 0:
			d.Bias--
			d.mu.Unlock()
			preferred.push(idx, p.descriptors)
			continue
		case p.cfg.LingeringBuffers && d.hasFlag(FlagUsed):
			d.clearFlag(FlagUsed)
			d.mu.Unlock()
			preferred.push(idx, p.descriptors)
			continue
		default:
			// freelist.c writes a dirty candidate back before handing it
			// to a new tag; skipping this step would silently drop the
			// last write to whatever block currently occupies the slot.
			if d.hasFlag(FlagDirty) {
				tag := d.Tag
				pageCopy := d.Page
				d.mu.Unlock()
				if err := p.store.WriteBlock(tag.Rel, tag.BlockNo, &pageCopy); err != nil {
					return nil, 0, err
				}
				d.mu.Lock()
			}
			metrics.BufferEvictionsTotal.Inc()
			d.clearFlag(FlagValid | FlagFree | FlagDirty)
			d.RefCount = 1
			d.mu.Unlock()
			return d, idx, nil
		}
	}
}

// removeNearestNeighbor evicts the descriptor holding the block adjacent
// to tag (tag.BlockNo+1) if it is currently unpinned, valid and clean, proactively
// trimming locality-adjacent buffers so a following sequential access
// does not immediately refault. Returns true if a neighbor was evicted.
func (p *Pool) removeNearestNeighbor(tag Tag) bool {
	neighbor := Tag{Rel: tag.Rel, BlockNo: tag.BlockNo + 1}

	p.hashMu.RLock()
	idx, ok := p.hash[neighbor]
	p.hashMu.RUnlock()
	if !ok {
		return false
	}

	d := p.descriptors[idx]
	d.mu.Lock()
	if d.RefCount > 0 || !d.hasFlag(FlagValid) || d.hasFlag(FlagDirty) {
		d.mu.Unlock()
		return false
	}
	d.clearFlag(FlagValid)
	d.mu.Unlock()

	p.hashMu.Lock()
	delete(p.hash, neighbor)
	p.hashMu.Unlock()
	p.returnToFreeList(idx)
	return true
}

// Metrics snapshots pool-wide gauges into the package metrics collectors.
func (p *Pool) Metrics() {
	metrics.BufferWaitersGauge.Set(float64(p.masterList.waiterCount()))
}

// growPool appends n additional descriptors to the pool, all starting on
// the master free list. Used by the flush coordinator when sustained
// flush pressure suggests the pool is undersized (spec §6 buffer_scale).
func (p *Pool) growPool(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := len(p.descriptors)
	for i := 0; i < n; i++ {
		d := newDescriptor()
		d.Slot = int32(start + i)
		p.descriptors = append(p.descriptors, d)
		p.masterList.push(int32(start+i), p.descriptors)
	}
	metrics.BufferPoolSize.Set(float64(len(p.descriptors)))
}

func (p *Pool) poolLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.descriptors)
}
