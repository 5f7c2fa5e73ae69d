package heap

import (
	"encoding/binary"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/buffer"
	"github.com/wdcore/engine/server/core/collab"
	"github.com/wdcore/engine/server/core/coreerr"
	"github.com/wdcore/engine/server/core/page"
)

// Extender is the subset of collab.StorageManager the heap layer needs in
// addition to buffer.Pool's Pin-based access: growing a relation by one
// block. buffer.Pool deliberately does not expose this itself — pinning
// an unallocated block is a Heap-layer concern, not a pool-layer one.
type Extender interface {
	Extend(rel page.RelID) (uint32, error)
	Size(rel page.RelID) (uint32, error)
}

// Heap is the tuple-level access method for one database: it turns
// PutTuple/GetTuple calls into buffer pool pins and page-local item
// manipulation, spilling oversize tuples to chained blob pages when the
// catalog allows it.
type Heap struct {
	pool    *buffer.Pool
	store   Extender
	catalog collab.RelationCatalog
	fsd     collab.FreeSpaceDirectory
	dbID    uint32
}

// New builds a Heap over pool for database dbID, consulting catalog for
// per-relation policy and fsd for free-space hints. store provides the
// relation-extension operation the pool itself does not.
func New(pool *buffer.Pool, store Extender, catalog collab.RelationCatalog, fsd collab.FreeSpaceDirectory, dbID uint32) *Heap {
	return &Heap{pool: pool, store: store, catalog: catalog, fsd: fsd, dbID: dbID}
}

func (h *Heap) rel(relOID uint32) page.RelID {
	return page.RelID{DBID: h.dbID, RelOID: relOID}
}

// PutTuple inserts t into relOID, choosing a page via the free-space
// directory (falling back to extending the relation), and returns the
// TID it was stored at. Oversize tuples that the catalog does not permit
// to spill are refused with a User error rather than truncated.
func (h *Heap) PutTuple(relOID uint32, t *Tuple) (TID, error) {
	rel := h.rel(relOID)
	encoded := t.encode()

	if !fitsInline(encoded) {
		if !h.catalog.AllowsBlobTuples(rel) {
			return TID{}, coreerr.New(coreerr.User, "heap.PutTuple: tuple too big for relation")
		}
		return h.putBlobTuple(rel, encoded)
	}

	need := uint16(len(encoded)) + 8
	if blockNo, ok := h.fsd.CandidateBlock(rel, need); ok {
		if tid, err := h.tryPutAt(rel, blockNo, encoded); err == nil {
			return tid, nil
		}
	}

	blockNo, err := h.store.Extend(rel)
	if err != nil {
		return TID{}, err
	}
	return h.tryPutAt(rel, blockNo, encoded)
}

// PutTupleAt inserts t at a caller-chosen block, used when a higher layer
// already knows a page has room (e.g. re-inserting during a page split).
func (h *Heap) PutTupleAt(relOID uint32, blockNo uint32, t *Tuple) (TID, error) {
	return h.tryPutAt(h.rel(relOID), blockNo, t.encode())
}

func (h *Heap) tryPutAt(rel page.RelID, blockNo uint32, encoded []byte) (TID, error) {
	d, err := h.pool.Pin(rel, blockNo, false)
	if err != nil {
		return TID{}, err
	}
	defer h.pool.Unpin(d)

	d.LockBuffer(buffer.ExclusiveLock)
	defer d.LockBuffer(buffer.Unlock)

	p := &d.Page
	need := uint16(len(encoded))
	avail := p.Header.UpperFree - p.Header.LowerFree
	if avail < need+8 {
		h.fsd.Update(rel, blockNo, 0)
		return TID{}, coreerr.New(coreerr.Transient, "heap.tryPutAt: page full")
	}

	newUpper := p.Header.UpperFree - need
	copy(p.Data[newUpper:newUpper+need], encoded)

	itemNo := uint16(len(p.Items))
	p.Items = append(p.Items, page.ItemIDData{
		Offset: newUpper,
		Length: need,
		Flags:  page.LPUsed,
	})
	p.Header.UpperFree = newUpper
	p.Header.LowerFree += 8
	p.Header.ItemCount = uint16(len(p.Items))

	h.pool.WriteBuffer(d)
	h.fsd.Update(rel, blockNo, p.Header.UpperFree-p.Header.LowerFree)

	return TID{BlockNo: blockNo, ItemNo: itemNo}, nil
}

// GetTuple fetches the tuple at tid from relOID using a share pin;
// callers that only read (sequential scans) should prefer this over
// PutTupleAt's exclusive path. An invalid or cleared item pointer is
// reported as a Corruption error rather than silently returning a zero
// tuple.
func (h *Heap) GetTuple(relOID uint32, tid TID) (*Tuple, error) {
	rel := h.rel(relOID)
	d, err := h.pool.PinReadonly(rel, tid.BlockNo)
	if err != nil {
		return nil, err
	}
	defer h.pool.Unpin(d)

	d.LockBuffer(buffer.Share)
	defer d.LockBuffer(buffer.Unlock)

	p := &d.Page
	if int(tid.ItemNo) >= len(p.Items) {
		return nil, coreerr.New(coreerr.Corruption, "heap.GetTuple: item id out of range")
	}
	item := p.Items[tid.ItemNo]
	if item.Flags&page.LPUsed == 0 {
		return nil, coreerr.New(coreerr.Corruption, "heap.GetTuple: invalid item id")
	}

	if item.Flags&page.LPRedirect != 0 {
		return h.getBlobTuple(rel, tid.BlockNo)
	}

	buf := p.Data[item.Offset : item.Offset+item.Length]
	return decodeTuple(buf)
}

// blobDataOffset is the fixed offset within a blob fragment page, right
// after the page's own header, at which the BlobPageHeader and payload
// chunk begin.
const blobDataOffset = 24

func (h *Heap) putBlobTuple(rel page.RelID, encoded []byte) (TID, error) {
	logger.Debugf("heap: spilling %d-byte tuple to blob pages for rel=%v", len(encoded), rel)

	type fragment struct {
		blockNo uint32
		chunk   []byte
	}
	var fragments []fragment
	remaining := encoded
	for len(remaining) > 0 {
		n := len(remaining)
		if n > blobPayloadPerPage {
			n = blobPayloadPerPage
		}
		blockNo, err := h.store.Extend(rel)
		if err != nil {
			return TID{}, err
		}
		fragments = append(fragments, fragment{blockNo: blockNo, chunk: remaining[:n]})
		remaining = remaining[n:]
	}

	for i, frag := range fragments {
		hdr := BlobPageHeader{TotalLength: uint32(len(encoded))}
		if i+1 < len(fragments) {
			hdr.HasNext = true
			hdr.NextBlock = fragments[i+1].blockNo
		}
		if err := h.writeBlobFragment(rel, frag.blockNo, hdr, frag.chunk); err != nil {
			return TID{}, err
		}
	}

	return TID{BlockNo: fragments[0].blockNo, ItemNo: 0}, nil
}

func (h *Heap) writeBlobFragment(rel page.RelID, blockNo uint32, hdr BlobPageHeader, chunk []byte) error {
	d, err := h.pool.Pin(rel, blockNo, false)
	if err != nil {
		return err
	}
	defer h.pool.Unpin(d)
	d.LockBuffer(buffer.ExclusiveLock)
	defer d.LockBuffer(buffer.Unlock)

	p := &d.Page
	binary.LittleEndian.PutUint32(p.Data[blobDataOffset:blobDataOffset+4], hdr.TotalLength)
	binary.LittleEndian.PutUint32(p.Data[blobDataOffset+4:blobDataOffset+8], hdr.NextBlock)
	hasNext := uint32(0)
	if hdr.HasNext {
		hasNext = 1
	}
	binary.LittleEndian.PutUint32(p.Data[blobDataOffset+8:blobDataOffset+12], hasNext)
	copy(p.Data[blobDataOffset+blobHeaderLen:blobDataOffset+blobHeaderLen+len(chunk)], chunk)

	p.Items = []page.ItemIDData{{Offset: 0, Length: uint16(len(chunk)), Flags: page.LPUsed | page.LPRedirect}}
	p.Header.ItemCount = 1
	h.pool.WriteBuffer(d)
	return nil
}

func (h *Heap) getBlobTuple(rel page.RelID, startBlock uint32) (*Tuple, error) {
	var payload []byte
	blockNo := startBlock
	var total uint32

	for {
		d, err := h.pool.PinReadonly(rel, blockNo)
		if err != nil {
			return nil, err
		}
		d.LockBuffer(buffer.Share)

		p := &d.Page
		total = binary.LittleEndian.Uint32(p.Data[blobDataOffset : blobDataOffset+4])
		nextBlock := binary.LittleEndian.Uint32(p.Data[blobDataOffset+4 : blobDataOffset+8])
		hasNext := binary.LittleEndian.Uint32(p.Data[blobDataOffset+8:blobDataOffset+12]) != 0

		if len(p.Items) == 0 {
			d.LockBuffer(buffer.Unlock)
			h.pool.Unpin(d)
			return nil, coreerr.New(coreerr.Corruption, "heap.getBlobTuple: fragment missing item pointer")
		}
		chunkLen := p.Items[0].Length
		chunk := make([]byte, chunkLen)
		copy(chunk, p.Data[blobDataOffset+blobHeaderLen:blobDataOffset+blobHeaderLen+chunkLen])
		payload = append(payload, chunk...)

		d.LockBuffer(buffer.Unlock)
		h.pool.Unpin(d)

		if !hasNext {
			break
		}
		blockNo = nextBlock
	}

	if uint32(len(payload)) != total {
		return nil, coreerr.New(coreerr.Corruption, "heap.getBlobTuple: reassembled length mismatch")
	}
	return decodeTuple(payload)
}
