// Package buffer implements the buffer pool manager: a fixed set of
// in-memory frames, backed by a diskmgr.Manager, that lets callers pin
// pages into memory by page id and unpin them when done, evicting an
// unpinned victim via LRU-K replacement when every frame is in use.
package buffer

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"minikvstore/internal/diskmgr"
	"minikvstore/internal/hashtable"
	"minikvstore/internal/page"
	"minikvstore/internal/replacer"
)

var (
	ErrBufferFull   = errors.New("buffer pool is full and no page could be evicted")
	ErrPageNotFound = errors.New("page not found in buffer pool")
	ErrPagePinned   = errors.New("page is pinned and cannot be deleted")
)

// Option configures a PoolManager at construction time.
type Option func(*config)

type config struct {
	poolSize   int
	replacerK  int
	bucketSize int
}

// WithPoolSize sets the number of frames held in memory.
func WithPoolSize(n int) Option {
	return func(c *config) { c.poolSize = n }
}

// WithReplacerK sets the K in LRU-K: the access count at which a frame
// is promoted out of plain FIFO eviction order.
func WithReplacerK(k int) Option {
	return func(c *config) { c.replacerK = k }
}

// WithPageTableBucketSize sets the extendible hash table's per-bucket
// capacity for the page table.
func WithPageTableBucketSize(n int) Option {
	return func(c *config) { c.bucketSize = n }
}

// frame is one slot of the buffer pool: a content buffer plus the
// bookkeeping the pool manager needs to decide when it can be reused.
// Content is a sync.RWMutex held by B+Tree crabbing as the page's
// read/write latch; the pool manager's own mutex only ever protects
// pool-wide bookkeeping (the page table, free list, replacer), never the
// page bytes themselves.
type frame struct {
	sync.RWMutex
	data     []byte
	pageID   uint32
	pinCount int
	dirty    bool
}

// PoolManager is the buffer pool: NewPage/FetchPage/UnpinPage/FlushPage/
// FlushAllPages/DeletePage, the sole path by which callers touch page
// bytes.
type PoolManager struct {
	mu sync.Mutex

	disk      *diskmgr.Manager
	pageTable *hashtable.Table[uint32, int]
	replacer  *replacer.LRUK

	frames   []*frame
	freeList []int
}

// NewPoolManager creates a pool of frames over disk, all initially free.
func NewPoolManager(disk *diskmgr.Manager, opts ...Option) *PoolManager {
	cfg := config{poolSize: 64, replacerK: 2, bucketSize: 4}
	for _, o := range opts {
		o(&cfg)
	}

	frames := make([]*frame, cfg.poolSize)
	free := make([]int, cfg.poolSize)
	for i := range frames {
		frames[i] = &frame{data: make([]byte, page.Size)}
		free[i] = i
	}

	return &PoolManager{
		disk:      disk,
		pageTable: hashtable.New[uint32, int](cfg.bucketSize),
		replacer:  replacer.New(cfg.poolSize, cfg.replacerK),
		frames:    frames,
		freeList:  free,
	}
}

// reserveFrame finds a frame to hold a page: first from the free list,
// else by evicting a replacer victim. On eviction it removes the
// victim's old page-table mapping before returning, so the caller never
// observes a frame that is simultaneously reachable under two page ids.
func (p *PoolManager) reserveFrame() (int, error) {
	if len(p.freeList) > 0 {
		id := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return id, nil
	}
	frameID, ok := p.replacer.Evict()
	if !ok {
		return 0, ErrBufferFull
	}
	victim := p.frames[frameID]
	if victim.dirty {
		if err := p.disk.WritePage(victim.pageID, victim.data); err != nil {
			return 0, fmt.Errorf("buffer: flush victim frame %d: %w", frameID, err)
		}
		victim.dirty = false
	}
	p.pageTable.Remove(victim.pageID)
	return frameID, nil
}

// NewPage allocates a fresh page on disk and pins it into a frame,
// returning the page id and its zeroed content buffer.
func (p *PoolManager) NewPage() (uint32, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, err := p.reserveFrame()
	if err != nil {
		return 0, nil, err
	}
	pageID, err := p.disk.AllocatePage()
	if err != nil {
		p.freeList = append(p.freeList, frameID)
		return 0, nil, fmt.Errorf("buffer: new page: %w", err)
	}

	f := p.frames[frameID]
	for i := range f.data {
		f.data[i] = 0
	}
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false

	p.pageTable.Insert(pageID, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)

	log.Printf("buffer: new page %d in frame %d", pageID, frameID)
	return pageID, f.data, nil
}

// FetchPage pins pageID into memory, reading it from disk if it is not
// already resident, and returns its content buffer. Every returned
// buffer must eventually be released with UnpinPage.
func (p *PoolManager) FetchPage(pageID uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameID, ok := p.pageTable.Find(pageID); ok {
		f := p.frames[frameID]
		f.pinCount++
		p.replacer.RecordAccess(frameID)
		p.replacer.SetEvictable(frameID, false)
		return f.data, nil
	}

	frameID, err := p.reserveFrame()
	if err != nil {
		return nil, err
	}
	f := p.frames[frameID]
	if err := p.disk.ReadPage(pageID, f.data); err != nil {
		p.freeList = append(p.freeList, frameID)
		return nil, fmt.Errorf("buffer: fetch page %d: %w", pageID, err)
	}
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false

	p.pageTable.Insert(pageID, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)

	return f.data, nil
}

// UnpinPage releases one pin on pageID. isDirty, once set true for a
// page, stays true until the page is next flushed — a later caller
// passing false must not clear a dirty flag another caller already set.
func (p *PoolManager) UnpinPage(pageID uint32, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable.Find(pageID)
	if !ok {
		return fmt.Errorf("buffer: unpin page %d: %w", pageID, ErrPageNotFound)
	}
	f := p.frames[frameID]
	if f.pinCount == 0 {
		return fmt.Errorf("buffer: unpin page %d: already unpinned", pageID)
	}
	if isDirty {
		f.dirty = true
	}
	f.pinCount--
	if f.pinCount == 0 {
		p.replacer.SetEvictable(frameID, true)
	}
	return nil
}

// FlushPage writes pageID's current content to disk regardless of pin
// count, clearing its dirty flag. It never changes pin count or
// residency.
func (p *PoolManager) FlushPage(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	frameID, ok := p.pageTable.Find(pageID)
	if !ok {
		return fmt.Errorf("buffer: flush page %d: %w", pageID, ErrPageNotFound)
	}
	f := p.frames[frameID]
	if err := p.disk.WritePage(pageID, f.data); err != nil {
		return fmt.Errorf("buffer: flush page %d: %w", pageID, err)
	}
	f.dirty = false
	return nil
}

// FlushAllPages flushes every resident page, dirty or not.
func (p *PoolManager) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := make(map[int]bool, len(p.freeList))
	for _, id := range p.freeList {
		free[id] = true
	}
	for i, f := range p.frames {
		if free[i] {
			continue
		}
		if err := p.disk.WritePage(f.pageID, f.data); err != nil {
			return fmt.Errorf("buffer: flush all: page %d: %w", f.pageID, err)
		}
		f.dirty = false
	}
	return nil
}

// DeletePage removes pageID from the buffer pool and deallocates it on
// disk. It refuses to delete a pinned page.
func (p *PoolManager) DeletePage(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable.Find(pageID)
	if !ok {
		return nil
	}
	f := p.frames[frameID]
	if f.pinCount > 0 {
		return fmt.Errorf("buffer: delete page %d: %w", pageID, ErrPagePinned)
	}

	p.pageTable.Remove(pageID)
	p.replacer.Remove(frameID)
	if err := p.disk.DeallocatePage(pageID); err != nil {
		return fmt.Errorf("buffer: delete page %d: %w", pageID, err)
	}

	for i := range f.data {
		f.data[i] = 0
	}
	f.pageID = 0
	f.pinCount = 0
	f.dirty = false
	p.freeList = append(p.freeList, frameID)
	return nil
}

// Latch returns the content latch for pageID's current frame, for the
// B+Tree's latch-crabbing to hold across a page read or write. The page
// must already be pinned by the caller.
func (p *PoolManager) Latch(pageID uint32) (*sync.RWMutex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frameID, ok := p.pageTable.Find(pageID)
	if !ok {
		return nil, fmt.Errorf("buffer: latch page %d: %w", pageID, ErrPageNotFound)
	}
	return &p.frames[frameID].RWMutex, nil
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	PoolSize        int
	ResidentPages   int
	DirtyPages      int
	FreeFrames      int
	EvictableCount  int
	HashGlobalDepth int
	HashNumBuckets  int
}

// Stats reports pool-wide counters for internal/diagnostics.
func (p *PoolManager) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		PoolSize:        len(p.frames),
		FreeFrames:      len(p.freeList),
		EvictableCount:  p.replacer.Size(),
		HashGlobalDepth: p.pageTable.GlobalDepth(),
		HashNumBuckets:  p.pageTable.NumBuckets(),
	}
	s.ResidentPages = len(p.frames) - len(p.freeList)
	for _, f := range p.frames {
		if f.dirty {
			s.DirtyPages++
		}
	}
	return s
}
