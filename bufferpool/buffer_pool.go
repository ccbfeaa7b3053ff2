// Package bufferpool implements the narrow buffer-pool collaborator
// interface spec.md §1 and §6 name: fetch(page_id) -> pinned frame,
// new_page() -> id, unpin(id, dirty). The replacement policy itself (which
// frame to evict) is explicitly out of scope for the core; this package
// carries the simplest policy that satisfies the contract — clock-hand
// second-chance — rather than the teacher's young/old sublist LRU with
// prefetching and auto-tuning, none of which spec.md calls for.
//
// Grounded on the teacher's server/innodb/buffer_pool/{buffer_pool.go,
// buffer_page.go,buffer_block.go,errors.go}: the mutex-guarded pool struct,
// the page-with-pin-count-and-dirty-flag frame shape, and the
// Op/Err-wrapping error type all carry over; the LRU young/old sublists,
// flush lists, and prefetch manager do not (see DESIGN.md).
package bufferpool

import (
	"sync"

	"github.com/relstore/relstore/apperr"
	"github.com/relstore/relstore/storage"
)

// PageID identifies one page of one file.
type PageID struct {
	FD     storage.FD
	PageNo int32
}

// Frame is a pinned, in-memory copy of one on-disk page.
type Frame struct {
	id       PageID
	Data     []byte
	pinCount int
	dirty    bool
	refBit   bool
}

func (f *Frame) ID() PageID     { return f.id }
func (f *Frame) IsDirty() bool  { return f.dirty }
func (f *Frame) PinCount() int  { return f.pinCount }
func (f *Frame) MarkDirty()     { f.dirty = true }

// Pool is a fixed-capacity set of frames shared by every open file.
type Pool struct {
	mu       sync.Mutex
	disk     *storage.DiskManager
	pageSize int
	capacity int

	frames   []*Frame       // frames[i] may be nil if slot i is free
	index    map[PageID]int // pageID -> frame slot
	clockPos int
}

// New creates a pool of capacity frames, each pageSize bytes, backed by
// disk.
func New(disk *storage.DiskManager, pageSize, capacity int) *Pool {
	return &Pool{
		disk:     disk,
		pageSize: pageSize,
		capacity: capacity,
		frames:   make([]*Frame, capacity),
		index:    make(map[PageID]int),
	}
}

// Fetch returns a pinned frame holding id's page, reading it from disk on
// a miss. Every Fetch must be matched by exactly one Unpin.
func (p *Pool) Fetch(id PageID) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot, ok := p.index[id]; ok {
		f := p.frames[slot]
		f.pinCount++
		f.refBit = true
		return f, nil
	}

	slot, err := p.evictLocked()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, p.pageSize)
	if err := p.disk.ReadPage(id.FD, id.PageNo, buf); err != nil {
		return nil, apperr.Wrap("bufferpool.Fetch", err)
	}
	f := &Frame{id: id, Data: buf, pinCount: 1, refBit: true}
	p.frames[slot] = f
	p.index[id] = slot
	return f, nil
}

// NewPage allocates a fresh page on disk and returns it pinned.
func (p *Pool) NewPage(fd storage.FD) (*Frame, error) {
	p.mu.Lock()
	pageNo, err := p.disk.AllocatePage(fd, p.pageSize)
	p.mu.Unlock()
	if err != nil {
		return nil, apperr.Wrap("bufferpool.NewPage", err)
	}

	id := PageID{FD: fd, PageNo: pageNo}
	buf := make([]byte, p.pageSize)
	if err := p.disk.WritePage(fd, pageNo, buf); err != nil {
		return nil, apperr.Wrap("bufferpool.NewPage", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	slot, err := p.evictLocked()
	if err != nil {
		return nil, err
	}
	f := &Frame{id: id, Data: buf, pinCount: 1, refBit: true, dirty: true}
	p.frames[slot] = f
	p.index[id] = slot
	return f, nil
}

// Unpin releases one pin on id's frame. dirty, if true, sticks — a later
// Unpin(id, false) does not clear a dirty flag set by an earlier caller.
func (p *Pool) Unpin(id PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.index[id]
	if !ok {
		return apperr.Wrap("bufferpool.Unpin", apperr.ErrPageNotExist)
	}
	f := p.frames[slot]
	if f.pinCount > 0 {
		f.pinCount--
	}
	if dirty {
		f.dirty = true
	}
	return nil
}

// FlushPage writes id's frame back to disk if dirty, regardless of pin
// state.
func (p *Pool) FlushPage(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.index[id]
	if !ok {
		return nil
	}
	return p.flushSlotLocked(slot)
}

// FlushAll writes back every dirty frame.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slot, f := range p.frames {
		if f == nil {
			continue
		}
		if err := p.flushSlotLocked(slot); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) flushSlotLocked(slot int) error {
	f := p.frames[slot]
	if f == nil || !f.dirty {
		return nil
	}
	if err := p.disk.WritePage(f.id.FD, f.id.PageNo, f.Data); err != nil {
		return apperr.Wrap("bufferpool.flush", err)
	}
	f.dirty = false
	return nil
}

// evictLocked finds a free or evictable slot. Caller holds p.mu.
func (p *Pool) evictLocked() (int, error) {
	for i, f := range p.frames {
		if f == nil {
			return i, nil
		}
	}

	// Clock (second-chance) sweep over pinCount==0 frames.
	for tries := 0; tries < 2*p.capacity; tries++ {
		slot := p.clockPos
		p.clockPos = (p.clockPos + 1) % p.capacity
		f := p.frames[slot]
		if f == nil {
			return slot, nil
		}
		if f.pinCount > 0 {
			continue
		}
		if f.refBit {
			f.refBit = false
			continue
		}
		if err := p.flushSlotLocked(slot); err != nil {
			return 0, err
		}
		delete(p.index, f.id)
		p.frames[slot] = nil
		return slot, nil
	}
	return 0, apperr.Wrap("bufferpool.evict", errBufferPoolFull)
}
