// Package diskmgr provides the on-disk page store the buffer pool reads
// through and writes back to. A store is a single file; page 0 is
// reserved as the header page (see internal/btree for its record format).
package diskmgr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"minikvstore/internal/page"
)

// Manager reads and writes fixed-size pages of a single backing file by
// page id, and hands out fresh page ids on request.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextPage uint32
	closed   bool
}

// HeaderPageID is always allocated first and reserved for the
// index-name-to-root-page-id mapping.
const HeaderPageID uint32 = 0

// Open opens (creating if necessary) the backing file at path. If the
// file is empty, page 0 (the header page) is allocated and zeroed so
// callers can always FetchPage(HeaderPageID) on a fresh store.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}
	numPages := uint32(stat.Size() / page.Size)
	m := &Manager{file: f, path: path, nextPage: numPages}
	if numPages == 0 {
		if _, err := m.AllocatePage(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return m, nil
}

// ReadPage reads the page-sized slice at pageID's offset into buf. Any
// part of the page that lies past the current end of file, up to the
// whole page, is zero-padded, matching a page that was never written.
func (m *Manager) ReadPage(pageID uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("diskmgr: %s is closed", m.path)
	}
	if len(buf) < page.Size {
		return fmt.Errorf("diskmgr: read buffer too small: %d", len(buf))
	}
	offset := int64(pageID) * page.Size
	n, err := m.file.ReadAt(buf[:page.Size], offset)
	if err != nil {
		if err != io.EOF {
			return fmt.Errorf("diskmgr: read page %d: %w", pageID, err)
		}
		for i := n; i < page.Size; i++ {
			buf[i] = 0
		}
	}
	return nil
}

// WritePage writes data (must be exactly page.Size bytes) to pageID's
// offset.
func (m *Manager) WritePage(pageID uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("diskmgr: %s is closed", m.path)
	}
	if len(data) != page.Size {
		return fmt.Errorf("diskmgr: write data size %d != page size %d", len(data), page.Size)
	}
	offset := int64(pageID) * page.Size
	if _, err := m.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("diskmgr: write page %d: %w", pageID, err)
	}
	return nil
}

// AllocatePage reserves and returns a new page id, zeroing its on-disk
// slot so a subsequent ReadPage never returns stale data from a prior
// deallocated page.
func (m *Manager) AllocatePage() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("diskmgr: %s is closed", m.path)
	}
	id := m.nextPage
	m.nextPage++
	var zero [page.Size]byte
	offset := int64(id) * page.Size
	if _, err := m.file.WriteAt(zero[:], offset); err != nil {
		return 0, fmt.Errorf("diskmgr: allocate page %d: %w", id, err)
	}
	return id, nil
}

// DeallocatePage does not reclaim disk space; the store has no free
// page list (spec scope: fixed-page allocation, no variable-length
// pages or compaction). It exists so the buffer pool manager has a
// single call site to route through regardless of a future policy
// change.
func (m *Manager) DeallocatePage(pageID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("diskmgr: %s is closed", m.path)
	}
	return nil
}

// Close flushes and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		m.file.Close()
		m.closed = true
		return fmt.Errorf("diskmgr: sync %s: %w", m.path, err)
	}
	err := m.file.Close()
	m.closed = true
	if err != nil {
		return fmt.Errorf("diskmgr: close %s: %w", m.path, err)
	}
	return nil
}
