// Package diskio is the disk manager collaborator: it reads and writes
// fixed-size pages to a single backing file, addressed by a stable page_id.
// It is a collaborator per the spec, not part of the storage-engine core —
// the buffer pool is the only caller.
package diskio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"storagecore/page"
)

// Manager owns one database file and serves ReadPage/WritePage by page_id.
// Page ids map directly onto byte offsets (page_id * page.PageSize), matching
// the original_source DiskManager's flat addressing rather than the teacher's
// fileID-encoded global ids (which exist to multiplex several heap/index
// files — out of scope here, this module owns one index file).
type Manager struct {
	mu   sync.Mutex
	file *os.File

	nextPageID int64
}

// Open creates or opens path as the backing file for page storage.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: stat %s: %w", path, err)
	}
	return &Manager{
		file:       f,
		nextPageID: stat.Size() / page.PageSize,
	}, nil
}

// Close closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// AllocatePage reserves and returns the next page id. The caller is
// responsible for eventually writing real content there; the file is
// extended lazily on first WritePage.
func (m *Manager) AllocatePage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	return id
}

// DeallocatePage is a deliberate no-op: reclaiming disk space for a freed
// page id is out of scope for this engine, mirroring
// BufferPoolManagerInstance::DeallocatePage in the original Bustub source,
// whose own comment says the same thing.
func (m *Manager) DeallocatePage(pageID int64) {}

// ReadPage fills buf (which must be page.PageSize bytes) with the contents of
// pageID. Reading a page id at or past EOF returns a zero-filled buffer: a
// freshly allocated page has no bytes on disk until its first flush.
func (m *Manager) ReadPage(pageID int64, buf []byte) error {
	if len(buf) != page.PageSize {
		return fmt.Errorf("diskio: read buffer must be %d bytes, got %d", page.PageSize, len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := pageID * page.PageSize
	n, err := m.file.ReadAt(buf, offset)
	if n == len(buf) {
		return nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("diskio: read page %d: %w", pageID, err)
	}
	// Short read past EOF: zero the remainder, page was never flushed.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage persists buf (page.PageSize bytes) at pageID's offset, extending
// the file as needed.
func (m *Manager) WritePage(pageID int64, buf []byte) error {
	if len(buf) != page.PageSize {
		return fmt.Errorf("diskio: write buffer must be %d bytes, got %d", page.PageSize, len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := pageID * page.PageSize
	if _, err := m.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("diskio: write page %d: %w", pageID, err)
	}
	return nil
}
