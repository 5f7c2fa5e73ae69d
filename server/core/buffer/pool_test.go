package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/page"
)

// fakeStore is an in-memory Store double so pool tests don't touch disk.
type fakeStore struct {
	mu    sync.Mutex
	pages map[page.RelID]map[uint32]page.Page
	reads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[page.RelID]map[uint32]page.Page)}
}

func (s *fakeStore) ReadBlock(rel page.RelID, blockNo uint32, into *page.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if blocks, ok := s.pages[rel]; ok {
		if p, ok := blocks[blockNo]; ok {
			*into = p
			return nil
		}
	}
	*into = *page.NewPage()
	return nil
}

func (s *fakeStore) WriteBlock(rel page.RelID, blockNo uint32, p *page.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages[rel] == nil {
		s.pages[rel] = make(map[uint32]page.Page)
	}
	s.pages[rel][blockNo] = *p
	return nil
}

func (s *fakeStore) Extend(rel page.RelID) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint32(len(s.pages[rel]))
	if s.pages[rel] == nil {
		s.pages[rel] = make(map[uint32]page.Page)
	}
	s.pages[rel][n] = *page.NewPage()
	return n, nil
}

func testCfg(totalPages uint32) *conf.Cfg {
	c := conf.NewCfg()
	c.TotalPages = totalPages
	c.BufferWait = 20 * time.Millisecond
	return c
}

func TestPinMissThenHit(t *testing.T) {
	store := newFakeStore()
	pool := New(testCfg(4), store)
	rel := page.RelID{DBID: 1, RelOID: 10}

	d1, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	pool.Unpin(d1)

	d2, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	require.Same(t, d1, d2)
	pool.Unpin(d2)

	require.Equal(t, 1, store.reads)
}

// TestLingeringBufferEviction reproduces the scenario from the core
// specification: with lingering buffers enabled and a 4-descriptor pool,
// accessing p0..p3 then re-accessing p0 before introducing p4 must not
// evict p0 — the second-chance scan only reclaims a buffer nobody has
// touched since its own second chance was spent.
func TestLingeringBufferEviction(t *testing.T) {
	store := newFakeStore()
	cfg := testCfg(4)
	cfg.LingeringBuffers = true
	pool := New(cfg, store)
	rel := page.RelID{DBID: 1, RelOID: 10}

	var held []*Descriptor
	for i := uint32(0); i < 4; i++ {
		d, err := pool.Pin(rel, i, false)
		require.NoError(t, err)
		held = append(held, d)
	}

	d0Again, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	require.Same(t, held[0], d0Again)
	pool.Unpin(d0Again)

	for _, d := range held {
		pool.Unpin(d)
	}

	// p4 needs a free descriptor; p0 was touched most recently among the
	// four and must survive the first eviction sweep.
	d4, err := pool.Pin(rel, 4, false)
	require.NoError(t, err)
	pool.Unpin(d4)

	p0, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	require.True(t, p0.hasFlag(FlagValid))
	pool.Unpin(p0)
}

func TestEvictionFlushesDirtyBuffer(t *testing.T) {
	store := newFakeStore()
	pool := New(testCfg(1), store)
	rel := page.RelID{DBID: 1, RelOID: 10}

	d, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	d.LockBuffer(ExclusiveLock)
	d.Page.Header.Flags = 0xBEEF
	pool.WriteBuffer(d)
	d.LockBuffer(Unlock)
	pool.Unpin(d)

	// The pool has only one descriptor, so pinning a second tag forces
	// the dirty one out through getFreeBuffer's default eviction branch.
	other := page.RelID{DBID: 1, RelOID: 11}
	d2, err := pool.Pin(other, 0, false)
	require.NoError(t, err)
	pool.Unpin(d2)

	store.mu.Lock()
	flushed, ok := store.pages[rel][0]
	store.mu.Unlock()
	require.True(t, ok, "dirty buffer must be written back before its slot is reused")
	require.Equal(t, uint16(0xBEEF), flushed.Header.Flags)
}

func TestDropBuffersFlushesDirty(t *testing.T) {
	store := newFakeStore()
	pool := New(testCfg(2), store)
	rel := page.RelID{DBID: 1, RelOID: 10}

	d, err := pool.Pin(rel, 0, false)
	require.NoError(t, err)
	d.LockBuffer(ExclusiveLock)
	pool.WriteBuffer(d)
	d.LockBuffer(Unlock)
	pool.Unpin(d)

	require.NoError(t, pool.DropBuffers(1))

	store.mu.Lock()
	_, ok := store.pages[rel][0]
	store.mu.Unlock()
	require.True(t, ok, "dirty buffer must be flushed before drop")
}
