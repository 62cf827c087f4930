// Package bufferpool is the buffer pool manager: it brokers a fixed number
// of page frames between disk and clients, guaranteeing at most one
// resident copy per page and correct dirty write-back. Grounded on
// DaemonDB/storage_engine/bufferpool/bufferpool.go (eviction/write-back
// control flow, trace-log style) and original_source's
// buffer_pool_manager_instance.cpp (exact evict-then-displace ordering).
package bufferpool

import (
	"fmt"
	"sync"

	"storagecore/logmgr"
	"storagecore/page"
	"storagecore/pagetable"
	"storagecore/replacer"
)

// DiskManager is the disk I/O collaborator the pool drives.
type DiskManager interface {
	ReadPage(pageID int64, buf []byte) error
	WritePage(pageID int64, buf []byte) error
	AllocatePage() int64
	DeallocatePage(pageID int64)
}

// Pool owns the frame array, the free list, the page table, the replacer,
// and the disk manager. Every exported page operation acquires the pool's
// coarse mutex for its full duration, as spec §5 requires (GetPoolSize
// reads a field fixed at construction and takes no lock).
type Pool struct {
	mu sync.Mutex

	frames   []*page.Page
	freeList []int
	table    *pagetable.Table
	replacer *replacer.LRUK
	disk     DiskManager
	log      logmgr.Manager

	poolSize int

	// Trace gates teacher-style fmt.Printf trace lines (see SPEC_FULL.md
	// §10); default off so tests stay quiet.
	Trace bool
}

// New constructs a pool of poolSize frames, backed by disk and replaced
// with an LRU-K policy of depth k. log may be nil (a logmgr.Noop is used),
// matching the buffer pool's teacher-shaped constructor signature even
// though WAL is out of scope for this engine.
func New(poolSize int, disk DiskManager, k int, log logmgr.Manager) *Pool {
	if log == nil {
		log = logmgr.Noop{}
	}
	frames := make([]*page.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New()
		freeList[i] = i
	}
	return &Pool{
		frames:   frames,
		freeList: freeList,
		table:    pagetable.New(),
		replacer: replacer.New(poolSize, k),
		disk:     disk,
		log:      log,
		poolSize: poolSize,
	}
}

// GetPoolSize returns the number of frames the pool manages.
func (p *Pool) GetPoolSize() int {
	return p.poolSize
}

func (p *Pool) trace(format string, args ...any) {
	if p.Trace {
		fmt.Printf("[bufferpool] "+format+"\n", args...)
	}
}

// findFrame returns a frame id ready for reuse: from the free list if one is
// available, else by evicting from the replacer. If the evicted frame held a
// dirty page, it is written back first and its old mapping removed from the
// page table and replacer. Caller must hold p.mu.
func (p *Pool) findFrame() (int, bool) {
	if len(p.freeList) > 0 {
		frameID := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return frameID, true
	}

	frameID, ok := p.replacer.Evict()
	if !ok {
		return 0, false
	}

	victim := p.frames[frameID]
	if victim.ID != page.InvalidPageID {
		if victim.IsDirty {
			p.trace("EVICT pageID=%d dirty=true, writing back", victim.ID)
			if err := p.disk.WritePage(victim.ID, victim.Data[:]); err != nil {
				// Put the frame back rather than lose track of it; surface
				// failure by refusing to hand out this frame.
				p.trace("EVICT writeback failed for pageID=%d: %v", victim.ID, err)
				p.replacer.RecordAccess(frameID)
				p.replacer.SetEvictable(frameID, true)
				return 0, false
			}
		}
		p.table.Remove(victim.ID)
	}
	victim.ResetMemory()
	return frameID, true
}

// NewPage allocates a fresh page id, pins it into a frame, and returns the
// (now all-zero) page. Fails iff no frame is free and no frame is evictable.
func (p *Pool) NewPage() (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.findFrame()
	if !ok {
		return nil, nil
	}

	pageID := p.disk.AllocatePage()
	frame := p.frames[frameID]
	frame.ID = pageID
	frame.PinCount = 1
	frame.IsDirty = false

	p.table.Insert(pageID, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)

	p.trace("NEW pageID=%d frame=%d", pageID, frameID)
	return frame, nil
}

// FetchPage returns the resident page for pageID, loading it from disk if
// necessary, with its pin count bumped by one.
func (p *Pool) FetchPage(pageID int64) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameID, ok := p.table.Find(pageID); ok {
		frame := p.frames[frameID]
		frame.PinCount++
		p.replacer.RecordAccess(frameID)
		p.replacer.SetEvictable(frameID, false)
		p.trace("HIT pageID=%d frame=%d pin=%d", pageID, frameID, frame.PinCount)
		return frame, nil
	}

	frameID, ok := p.findFrame()
	if !ok {
		return nil, nil
	}

	frame := p.frames[frameID]
	if err := p.disk.ReadPage(pageID, frame.Data[:]); err != nil {
		// Leave the frame free; we never assigned it a page id.
		p.freeList = append(p.freeList, frameID)
		return nil, fmt.Errorf("bufferpool: read page %d: %w", pageID, err)
	}
	frame.ID = pageID
	frame.PinCount = 1
	frame.IsDirty = false

	p.table.Insert(pageID, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)

	p.trace("MISS pageID=%d frame=%d loaded from disk", pageID, frameID)
	return frame, nil
}

// UnpinPage decrements pageID's pin count and ORs in dirtyHint. Returns
// false if pageID is not resident or its pin count is already zero. When the
// pin count reaches zero, the frame becomes evictable.
func (p *Pool) UnpinPage(pageID int64, dirtyHint bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.table.Find(pageID)
	if !ok {
		return false
	}
	frame := p.frames[frameID]
	if frame.PinCount <= 0 {
		return false
	}

	if dirtyHint {
		frame.IsDirty = true
	}
	frame.PinCount--
	if frame.PinCount == 0 {
		p.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage unconditionally writes pageID to disk and clears its dirty flag.
// Returns false if pageID is not resident.
func (p *Pool) FlushPage(pageID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.table.Find(pageID)
	if !ok {
		return false
	}
	frame := p.frames[frameID]
	if err := p.disk.WritePage(frame.ID, frame.Data[:]); err != nil {
		p.trace("FLUSH pageID=%d failed: %v", pageID, err)
		return false
	}
	frame.IsDirty = false
	return true
}

// FlushAll flushes every resident dirty page.
func (p *Pool) FlushAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, frame := range p.frames {
		if frame.ID == page.InvalidPageID || !frame.IsDirty {
			continue
		}
		if err := p.disk.WritePage(frame.ID, frame.Data[:]); err != nil {
			p.trace("FlushAll: pageID=%d failed: %v", frame.ID, err)
			continue
		}
		frame.IsDirty = false
	}
}

// DeletePage removes pageID from the pool, writing it back first if dirty.
// Idempotent: returns true if pageID was never resident. Returns false if
// pageID is still pinned.
func (p *Pool) DeletePage(pageID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.table.Find(pageID)
	if !ok {
		return true
	}
	frame := p.frames[frameID]
	if frame.PinCount > 0 {
		return false
	}
	if frame.IsDirty {
		_ = p.disk.WritePage(frame.ID, frame.Data[:])
	}

	p.table.Remove(pageID)
	p.replacer.Remove(frameID)
	p.disk.DeallocatePage(pageID)
	frame.ResetMemory()
	p.freeList = append(p.freeList, frameID)
	return true
}
