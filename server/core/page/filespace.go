package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/coreerr"
)

// RelID identifies a relation's file-space within a database.
type RelID struct {
	DBID  uint32
	RelOID uint32
}

func (r RelID) fileName() string {
	return fmt.Sprintf("%d_%d.dat", r.DBID, r.RelOID)
}

// FileSpaceManager owns one *os.File per relation, opened lazily and kept
// open until Unlink or Close. Access to the map of open files is guarded
// by a RWMutex so concurrent Read/Write on distinct relations don't
// serialize on map lookups; the per-file I/O itself is left to the
// operating system's own file-offset semantics (ReadAt/WriteAt), since the
// buffer pool is what serializes concurrent access to a given block.
type FileSpaceManager struct {
	dataDir string

	mu    sync.RWMutex
	files map[RelID]*os.File
}

// NewFileSpaceManager returns a manager rooted at dataDir. The directory
// must already exist; callers create it as part of database bring-up.
func NewFileSpaceManager(dataDir string) *FileSpaceManager {
	return &FileSpaceManager{
		dataDir: dataDir,
		files:   make(map[RelID]*os.File),
	}
}

func (m *FileSpaceManager) open(rel RelID) (*os.File, error) {
	m.mu.RLock()
	f, ok := m.files[rel]
	m.mu.RUnlock()
	if ok {
		return f, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[rel]; ok {
		return f, nil
	}

	path := filepath.Join(m.dataDir, rel.fileName())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Transient, "filespace.open", err)
	}
	m.files[rel] = f
	return f, nil
}

// ReadBlock reads block blockNo of rel into p, validating its checksum.
func (m *FileSpaceManager) ReadBlock(rel RelID, blockNo uint32, into *Page) error {
	f, err := m.open(rel)
	if err != nil {
		return err
	}
	buf := make([]byte, Size)
	if _, err := f.ReadAt(buf, int64(blockNo)*Size); err != nil {
		return coreerr.Wrap(coreerr.Transient, "filespace.ReadBlock", err)
	}
	if err := Deserialize(buf, into); err != nil {
		logger.Errorf("filespace: checksum mismatch rel=%v block=%d: %v", rel, blockNo, err)
		return err
	}
	return nil
}

// WriteBlock writes p to block blockNo of rel. It does not fsync; callers
// that need durability call Flush afterward (the durability modes are
// session.CommitType).
func (m *FileSpaceManager) WriteBlock(rel RelID, blockNo uint32, p *Page) error {
	f, err := m.open(rel)
	if err != nil {
		return err
	}
	buf := p.Serialize()
	if _, err := f.WriteAt(buf, int64(blockNo)*Size); err != nil {
		return coreerr.Wrap(coreerr.Transient, "filespace.WriteBlock", err)
	}
	return nil
}

// Flush fsyncs rel's file. No code path in the core calls it: neither
// commit handling nor the buffer pool's flush coordinator fsyncs.
func (m *FileSpaceManager) Flush(rel RelID) error {
	f, err := m.open(rel)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return coreerr.Wrap(coreerr.Transient, "filespace.Flush", err)
	}
	return nil
}

// Extend grows rel by one block, returning its new block number. The new
// block is zero-initialized as an empty page so the buffer pool can PutTuple
// into it without a prior read.
func (m *FileSpaceManager) Extend(rel RelID) (uint32, error) {
	size, err := m.Size(rel)
	if err != nil {
		return 0, err
	}
	blockNo := size
	empty := NewPage()
	if err := m.WriteBlock(rel, blockNo, empty); err != nil {
		return 0, err
	}
	return blockNo, nil
}

// Size returns the number of blocks currently in rel's file.
func (m *FileSpaceManager) Size(rel RelID) (uint32, error) {
	f, err := m.open(rel)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Transient, "filespace.Size", err)
	}
	return uint32(info.Size() / Size), nil
}

// Unlink closes and removes rel's backing file. Used by DropBuffers-style
// relation drops; callers must ensure no buffer pool descriptor still
// references rel before calling this.
func (m *FileSpaceManager) Unlink(rel RelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[rel]; ok {
		f.Close()
		delete(m.files, rel)
	}
	path := filepath.Join(m.dataDir, rel.fileName())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return coreerr.Wrap(coreerr.Transient, "filespace.Unlink", err)
	}
	return nil
}

// Close closes every open file, used at system shutdown.
func (m *FileSpaceManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for rel, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.files, rel)
	}
	return firstErr
}
