// Package page implements the on-disk page format and the file-space
// manager that reads and writes fixed-size pages for relation files. It
// corresponds to the page store component of the storage core: a page is
// the unit the buffer pool pins and the unit the heap writes tuples into.
package page

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/wdcore/engine/server/core/coreerr"
)

// Size is the fixed page size in bytes. The buffer pool, heap and page
// store all agree on this constant; session.Init checks conf.Cfg.PageSize
// against it at startup rather than threading it through every call.
const Size = 8192

// headerLen is the length in bytes of PageHeader once serialized.
const headerLen = 24

// trailerLen holds the FNV-1a checksum written at the tail of the page.
const trailerLen = 8

// ItemIDData is one entry of a page's item-pointer directory: the offset
// and length of a stored tuple (or the first fragment of an oversize one).
type ItemIDData struct {
	Offset   uint16
	Length   uint16
	Flags    uint16 // bit 0: LP_USED, bit 1: LP_REDIRECT (item is a blob fragment)
	_padding uint16
}

const (
	LPUsed     uint16 = 1 << 0
	LPRedirect uint16 = 1 << 1
)

// PageHeader is the fixed-size header at the front of every page.
type PageHeader struct {
	LSN        uint64 // ordering token only; no WAL redo in this core
	LowerFree  uint16 // offset of the first free byte after the item array
	UpperFree  uint16 // offset of the first byte of tuple storage
	Special    uint16 // offset of the special space (unused by heap pages)
	ItemCount  uint16
	Flags      uint16
	_reserved  uint16
}

// Page is a single fixed-size page held in memory, either inside a buffer
// pool descriptor's backing array or as a standalone scratch page.
type Page struct {
	Header PageHeader
	Items  []ItemIDData
	Data   [Size]byte
}

// NewPage returns an empty, correctly initialized page ready for inserts.
func NewPage() *Page {
	p := &Page{}
	p.Header.LowerFree = headerLen
	p.Header.UpperFree = Size - trailerLen
	return p
}

// Serialize renders the page to exactly Size bytes, including the item
// directory and a trailing FNV-1a checksum.
func (p *Page) Serialize() []byte {
	buf := make([]byte, Size)

	// Data carries the page's tuple storage at identity offsets (item.Offset
	// points straight into it), so lay it down first and let the header and
	// item directory overwrite their own fixed-offset regions on top of it.
	copy(buf, p.Data[:])

	binary.LittleEndian.PutUint64(buf[0:8], p.Header.LSN)
	binary.LittleEndian.PutUint16(buf[8:10], p.Header.LowerFree)
	binary.LittleEndian.PutUint16(buf[10:12], p.Header.UpperFree)
	binary.LittleEndian.PutUint16(buf[12:14], p.Header.Special)
	binary.LittleEndian.PutUint16(buf[14:16], p.Header.ItemCount)
	binary.LittleEndian.PutUint16(buf[16:18], p.Header.Flags)

	off := headerLen
	for _, item := range p.Items {
		binary.LittleEndian.PutUint16(buf[off:off+2], item.Offset)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], item.Length)
		binary.LittleEndian.PutUint16(buf[off+4:off+6], item.Flags)
		off += 8
	}

	sum := fnv.New64a()
	sum.Write(buf[:Size-trailerLen])
	binary.LittleEndian.PutUint64(buf[Size-trailerLen:Size], sum.Sum64())

	return buf
}

// Deserialize populates p from exactly Size bytes previously produced by
// Serialize, verifying the trailing checksum. A checksum mismatch is
// reported as a Corruption CoreError; the page is still populated so a
// caller that wants to inspect the corrupt contents (diagnostics, repair
// tooling) is not blocked from doing so.
func Deserialize(buf []byte, into *Page) error {
	if len(buf) != Size {
		return coreerr.New(coreerr.Corruption, "page.Deserialize")
	}

	sum := fnv.New64a()
	sum.Write(buf[:Size-trailerLen])
	want := binary.LittleEndian.Uint64(buf[Size-trailerLen : Size])
	got := sum.Sum64()

	into.Header.LSN = binary.LittleEndian.Uint64(buf[0:8])
	into.Header.LowerFree = binary.LittleEndian.Uint16(buf[8:10])
	into.Header.UpperFree = binary.LittleEndian.Uint16(buf[10:12])
	into.Header.Special = binary.LittleEndian.Uint16(buf[12:14])
	into.Header.ItemCount = binary.LittleEndian.Uint16(buf[14:16])
	into.Header.Flags = binary.LittleEndian.Uint16(buf[16:18])

	into.Items = into.Items[:0]
	off := headerLen
	for i := uint16(0); i < into.Header.ItemCount; i++ {
		into.Items = append(into.Items, ItemIDData{
			Offset: binary.LittleEndian.Uint16(buf[off : off+2]),
			Length: binary.LittleEndian.Uint16(buf[off+2 : off+4]),
			Flags:  binary.LittleEndian.Uint16(buf[off+4 : off+6]),
		})
		off += 8
	}

	// Data mirrors Serialize's layout: the header and item directory live in
	// their own fields, not in Data, so the bytes they occupy are zeroed
	// back out rather than left holding their serialized form.
	copy(into.Data[:], buf)
	clear(into.Data[0:headerLen])
	clear(into.Data[headerLen:off])
	clear(into.Data[Size-trailerLen : Size])

	if got != want {
		return coreerr.New(coreerr.Corruption, "page.Deserialize")
	}
	return nil
}
