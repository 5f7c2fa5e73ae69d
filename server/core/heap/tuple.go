// Package heap implements tuple storage on top of the buffer pool and
// page store: inserting and fetching row versions, spanning oversize
// ("blob") tuples across multiple pages, and locking a tuple version for
// update via an injected visibility oracle.
package heap

import (
	"encoding/binary"

	"github.com/wdcore/engine/server/core/coreerr"
	"github.com/wdcore/engine/server/core/page"
)

// TID (tuple id) locates a tuple version by block number and item-pointer
// offset within that block.
type TID struct {
	BlockNo uint32
	ItemNo  uint16
}

// Tuple is a row version as stored on a page: a fixed MVCC header
// followed by an opaque payload. Xmin/Xmax/Cmin/Cmax are populated by the
// caller (the transaction layer is out of scope here); the heap package
// only persists and retrieves them.
type Tuple struct {
	Xmin uint64
	Xmax uint64
	Cmin uint32
	Cmax uint32
	Data []byte
}

const tupleHeaderLen = 24

// blobHeaderLen prefixes every page of a blob's fragment chain with the
// total payload length and the block number of its next fragment (0 and
// no-next-flag when it is the final fragment).
const blobHeaderLen = 12

// BlobPageHeader describes one fragment of an oversize tuple spanning
// multiple pages.
type BlobPageHeader struct {
	TotalLength uint32
	NextBlock   uint32
	HasNext     bool
}

func (t *Tuple) encode() []byte {
	buf := make([]byte, tupleHeaderLen+len(t.Data))
	binary.LittleEndian.PutUint64(buf[0:8], t.Xmin)
	binary.LittleEndian.PutUint64(buf[8:16], t.Xmax)
	binary.LittleEndian.PutUint32(buf[16:20], t.Cmin)
	binary.LittleEndian.PutUint32(buf[20:24], t.Cmax)
	copy(buf[tupleHeaderLen:], t.Data)
	return buf
}

func decodeTuple(buf []byte) (*Tuple, error) {
	if len(buf) < tupleHeaderLen {
		return nil, coreerr.New(coreerr.Corruption, "heap.decodeTuple")
	}
	t := &Tuple{
		Xmin: binary.LittleEndian.Uint64(buf[0:8]),
		Xmax: binary.LittleEndian.Uint64(buf[8:16]),
		Cmin: binary.LittleEndian.Uint32(buf[16:20]),
		Cmax: binary.LittleEndian.Uint32(buf[20:24]),
	}
	t.Data = append([]byte(nil), buf[tupleHeaderLen:]...)
	return t, nil
}

// maxInlineTupleLen is the largest encoded tuple (header + payload) that
// fits on an ordinary page alongside its item pointer, leaving room for
// the page header and trailer checksum.
const maxInlineTupleLen = page.Size - 64

// fitsInline reports whether an encoded tuple can be stored directly on a
// heap page rather than spilling to blob pages.
func fitsInline(encoded []byte) bool {
	return len(encoded) <= maxInlineTupleLen
}

const blobPayloadPerPage = page.Size - 64 - blobHeaderLen
