package xidstatus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/buffer"
	"github.com/wdcore/engine/server/core/page"
)

// fakeStore is an in-memory buffer.Store double, the same shape buffer's
// own pool tests use, so the log's C1/C2 wiring is exercised without
// touching disk.
type fakeStore struct {
	mu    sync.Mutex
	pages map[page.RelID]map[uint32]page.Page
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[page.RelID]map[uint32]page.Page)}
}

func (s *fakeStore) ReadBlock(rel page.RelID, blockNo uint32, into *page.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store := newFakeStore()
	cfg := conf.NewCfg()
	cfg.TotalPages = 64
	cfg.BufferWait = 20 * time.Millisecond
	pool := buffer.New(cfg, store)
	return New(pool, store, func() bool { return true })
}

func TestSoftCommitThenHardCommit(t *testing.T) {
	log := newTestLog(t)

	xid := uint64(42)
	require.NoError(t, log.SetStatus(xid, InProgress))
	require.Equal(t, InProgress, log.StatusOf(xid))

	require.NoError(t, log.SetStatus(xid, SoftCommit))
	require.Equal(t, SoftCommit, log.StatusOf(xid))

	require.NoError(t, log.SetStatus(xid, Commit))
	require.Equal(t, Commit, log.StatusOf(xid))
}

func TestIllegalTransitionIsSilentNoOp(t *testing.T) {
	log := newTestLog(t)
	xid := uint64(5)

	require.NoError(t, log.SetStatus(xid, Commit))
	require.NoError(t, log.SetStatus(xid, Abort))
	require.Equal(t, Commit, log.StatusOf(xid), "a committed xid must never revert to aborted")
}

func TestDistinctTransactionsDoNotShareBits(t *testing.T) {
	log := newTestLog(t)

	require.NoError(t, log.SetStatus(1, Commit))
	require.NoError(t, log.SetStatus(2, Abort))
	require.NoError(t, log.SetStatus(3, SoftCommit))

	require.Equal(t, Commit, log.StatusOf(1))
	require.Equal(t, Abort, log.StatusOf(2))
	require.Equal(t, SoftCommit, log.StatusOf(3))
}

func TestAdvanceLowWaterMarkTruncatesOldBlocks(t *testing.T) {
	log := newTestLog(t)

	xid := uint64(10)
	require.NoError(t, log.SetStatus(xid, Commit))

	require.NoError(t, log.AdvanceLowWaterMark(uint64(ItemsPerBlock)+1))
	require.Equal(t, Commit, log.StatusOf(xid), "ids below the low water mark are treated as committed")

	err := log.AdvanceLowWaterMark(0)
	require.Error(t, err, "the mark must never move backward")
}

func TestCrossesBlockBoundary(t *testing.T) {
	log := newTestLog(t)

	xid := uint64(ItemsPerBlock + 5)
	require.NoError(t, log.SetStatus(xid, Abort))
	require.Equal(t, Abort, log.StatusOf(xid))
	require.Equal(t, InProgress, log.StatusOf(xid-1))
}

func TestStatusSurvivesEvictionRoundTrip(t *testing.T) {
	// Forces the log's block out of the buffer pool and back in via a
	// real ReadBlock/WriteBlock round trip, exercising the C1/C2 wiring
	// rather than only ever reading back the still-pinned descriptor.
	store := newFakeStore()
	cfg := conf.NewCfg()
	cfg.TotalPages = 1 // a single descriptor forces eviction on every other relation's pin
	cfg.BufferWait = 20 * time.Millisecond
	pool := buffer.New(cfg, store)
	log := New(pool, store, func() bool { return true })

	xid := uint64(7)
	require.NoError(t, log.SetStatus(xid, Commit))

	// Pin an unrelated relation through the same one-descriptor pool,
	// which forces the log's block to be evicted (and, being dirty,
	// flushed to the fake store) before the next StatusOf repins it.
	other := page.RelID{DBID: 99, RelOID: 1}
	_, err := store.Extend(other)
	require.NoError(t, err)
	d, err := pool.Pin(other, 0, false)
	require.NoError(t, err)
	pool.Unpin(d)

	require.Equal(t, Commit, log.StatusOf(xid))
}
