package heap

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/buffer"
	"github.com/wdcore/engine/server/core/collab"
	"github.com/wdcore/engine/server/core/page"
)

type fakeStore struct {
	mu     sync.Mutex
	pages  map[page.RelID]map[uint32]page.Page
	counts map[page.RelID]uint32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pages:  make(map[page.RelID]map[uint32]page.Page),
		counts: make(map[page.RelID]uint32),
	}
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
	n := s.counts[rel]
	s.counts[rel] = n + 1
	if s.pages[rel] == nil {
		s.pages[rel] = make(map[uint32]page.Page)
	}
	s.pages[rel][n] = *page.NewPage()
	return n, nil
}

func (s *fakeStore) Size(rel page.RelID) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[rel], nil
}

func newTestHeap(t *testing.T) *Heap {
	store := newFakeStore()
	cfg := conf.NewCfg()
	cfg.TotalPages = 16
	pool := buffer.New(cfg, store)
	catalog := collab.NewStaticCatalog()
	fsd := NewFreeSpaceMap()
	return New(pool, store, catalog, fsd, 1)
}

func TestPutTupleThenGetTuple(t *testing.T) {
	h := newTestHeap(t)

	tup := &Tuple{Xmin: 7, Data: []byte("hello, storage core")}
	tid, err := h.PutTuple(100, tup)
	require.NoError(t, err)

	got, err := h.GetTuple(100, tid)
	require.NoError(t, err)
	require.Equal(t, tup.Xmin, got.Xmin)
	require.True(t, bytes.Equal(tup.Data, got.Data))
}

func TestPutTupleSpansBlobPages(t *testing.T) {
	h := newTestHeap(t)

	payload := bytes.Repeat([]byte("x"), blobPayloadPerPage*2+100)
	tup := &Tuple{Xmin: 3, Data: payload}
	tid, err := h.PutTuple(200, tup)
	require.NoError(t, err)

	got, err := h.GetTuple(200, tid)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got.Data))
}

func TestGetTupleDetectsInvalidItemID(t *testing.T) {
	h := newTestHeap(t)
	tup := &Tuple{Xmin: 1, Data: []byte("abc")}
	tid, err := h.PutTuple(300, tup)
	require.NoError(t, err)

	bad := tid
	bad.ItemNo += 99
	_, err = h.GetTuple(300, bad)
	require.Error(t, err)
}
