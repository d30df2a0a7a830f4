// Package memory implements the simulator's frame table and the two
// Allocator implementations spec.md's design notes call for: a
// demand-paging allocator with FIFO or LRU replacement, and a flat
// allocator with no paging at all. Grounded on
// original_source/src/memory/DemandPagingAllocator.cpp,
// FlatMemoryAllocator.h and IMemoryAllocator.h, in the teacher's
// low-level-state style (emu/memory/memory.go: a fixed array plus small
// accessor methods, no internal locking — callers hold the scheduler's
// lock).
package memory

import (
	"errors"
	"sort"

	"github.com/coresim/coresim/internal/backingstore"
	"github.com/coresim/coresim/internal/process"
)

// ErrNoFrames is returned by Allocate when not enough free frames exist
// to seed the process's initial resident set.
var ErrNoFrames = errors.New("not enough free frames")

// ReplacementPolicy selects the page-fault eviction strategy.
type ReplacementPolicy int

const (
	FIFO ReplacementPolicy = iota
	LRU
)

// frameSlot names the (pid, page) pair currently occupying one frame, or
// the FIFO queue entry recording when that pair became resident.
type frameSlot struct {
	pid  string
	page int
}

// Allocator is the capability every memory-management strategy
// implements, per spec.md §9 ("Polymorphic allocator").
type Allocator interface {
	// Allocate admits a process, returning ErrNoFrames if its initial
	// resident set cannot be seeded.
	Allocate(p *process.Process) error
	// Deallocate releases every frame held by a process.
	Deallocate(p *process.Process)
	// Access touches a page at the given simulated tick, returning true
	// on a resident hit and false if a page fault was serviced.
	Access(p *process.Process, page int, tick int64) bool
	// FrameSize is the byte width of one frame/page.
	FrameSize() int
	// TotalFrames is the fixed frame-table size.
	TotalFrames() int
	// FreeFrameCount is the number of currently unassigned frames.
	FreeFrameCount() int
	// PagedInCount and PagedOutCount are cumulative, monotonic since
	// construction.
	PagedInCount() int64
	PagedOutCount() int64
	// ResidentPages and NonResidentPages report per-process counts used
	// by process-smi.
	ResidentPages(pid string) int
	NonResidentPages(pid string) int
}

// DemandPagingAllocator is the simulator's primary allocator: a fixed
// frame table, page tables keyed by pid, and FIFO or LRU replacement.
type DemandPagingAllocator struct {
	frameSize int
	total     int
	policy    ReplacementPolicy

	frames     []frameSlot
	freeFrames []int // kept sorted ascending; pop from the front

	pageTables map[string]map[int]int      // pid -> page -> frame
	procs      map[string]*process.Process // pid -> owning process, while resident+allocated

	fifo []frameSlot              // queue of (pid,page), FIFO only
	lru  map[string]map[int]int64 // pid -> page -> last access tick, LRU only

	store *backingstore.Store

	pagesIn, pagesOut int64
}

// NewDemandPaging builds an allocator over totalMemory bytes split into
// frameSize-byte frames, replacing pages per policy and paging through
// store.
func NewDemandPaging(totalMemory, frameSize int, policy ReplacementPolicy, store *backingstore.Store) *DemandPagingAllocator {
	total := totalMemory / frameSize
	free := make([]int, total)
	for i := range free {
		free[i] = i
	}
	return &DemandPagingAllocator{
		frameSize:  frameSize,
		total:      total,
		policy:     policy,
		frames:     make([]frameSlot, total),
		freeFrames: free,
		pageTables: make(map[string]map[int]int),
		procs:      make(map[string]*process.Process),
		lru:        make(map[string]map[int]int64),
		store:      store,
	}
}

func (a *DemandPagingAllocator) FrameSize() int       { return a.frameSize }
func (a *DemandPagingAllocator) TotalFrames() int     { return a.total }
func (a *DemandPagingAllocator) FreeFrameCount() int  { return len(a.freeFrames) }
func (a *DemandPagingAllocator) PagedInCount() int64  { return a.pagesIn }
func (a *DemandPagingAllocator) PagedOutCount() int64 { return a.pagesOut }

func (a *DemandPagingAllocator) popFreeFrame() int {
	f := a.freeFrames[0]
	a.freeFrames = a.freeFrames[1:]
	return f
}

func (a *DemandPagingAllocator) pushFreeFrame(f int) {
	idx := sort.SearchInts(a.freeFrames, f)
	a.freeFrames = append(a.freeFrames, 0)
	copy(a.freeFrames[idx+1:], a.freeFrames[idx:])
	a.freeFrames[idx] = f
}

func pagesNeeded(memRequired uint32, frameSize int) int {
	return int((memRequired + uint32(frameSize) - 1) / uint32(frameSize))
}

// Allocate seeds min(pagesNeeded, 1) resident pages for p and pages out
// deterministic placeholder content for the rest, per
// DemandPagingAllocator::allocate.
func (a *DemandPagingAllocator) Allocate(p *process.Process) error {
	needed := pagesNeeded(p.MemoryRequired, a.frameSize)
	initial := needed
	if initial > 1 {
		initial = 1
	}

	if len(a.freeFrames) < initial {
		return ErrNoFrames
	}

	pt := make(map[int]int, needed)
	a.pageTables[p.ID] = pt
	a.procs[p.ID] = p

	for page := 0; page < initial; page++ {
		frame := a.popFreeFrame()
		pt[page] = frame
		a.frames[frame] = frameSlot{pid: p.ID, page: page}
		if a.policy == FIFO {
			a.fifo = append(a.fifo, frameSlot{pid: p.ID, page: page})
		} else {
			a.touchLRU(p.ID, page, 0)
		}
	}

	for page := initial; page < needed; page++ {
		placeholder := make([]byte, a.frameSize)
		for i := range placeholder {
			placeholder[i] = byte(0xAA + (page % 10))
		}
		if err := a.store.PageOut(p.ID, page, placeholder); err != nil {
			// Best-effort per spec.md §7: the allocator continues.
			_ = err
		}
		a.pagesOut++
	}

	p.PagesAllocated = needed
	return nil
}

// Deallocate returns every resident frame held by p and purges it from
// the replacement structures, idempotently (spec.md invariant S6).
func (a *DemandPagingAllocator) Deallocate(p *process.Process) {
	pt, ok := a.pageTables[p.ID]
	if !ok {
		return
	}
	for _, frame := range pt {
		a.frames[frame] = frameSlot{}
		a.pushFreeFrame(frame)
	}
	delete(a.pageTables, p.ID)
	delete(a.lru, p.ID)
	delete(a.procs, p.ID)

	if a.policy == FIFO {
		kept := a.fifo[:0]
		for _, e := range a.fifo {
			if e.pid != p.ID {
				kept = append(kept, e)
			}
		}
		a.fifo = kept
	}
	p.PagesAllocated = 0
}

func (a *DemandPagingAllocator) touchLRU(pid string, page int, tick int64) {
	m, ok := a.lru[pid]
	if !ok {
		m = make(map[int]int64)
		a.lru[pid] = m
	}
	m[page] = tick
}

// Access resolves a page touch, servicing a page fault if the page is
// not resident. Grounded on DemandPagingAllocator::accessMemory /
// handlePageFault / evictPage.
func (a *DemandPagingAllocator) Access(p *process.Process, page int, tick int64) bool {
	pt := a.pageTables[p.ID]
	if pt == nil {
		pt = make(map[int]int)
		a.pageTables[p.ID] = pt
	}

	if _, ok := pt[page]; ok {
		if a.policy == LRU {
			a.touchLRU(p.ID, page, tick)
		}
		return true
	}

	a.handleFault(p, page, tick)
	return false
}

func (a *DemandPagingAllocator) handleFault(p *process.Process, page int, tick int64) {
	var frame int
	if len(a.freeFrames) > 0 {
		frame = a.popFreeFrame()
	} else {
		frame = a.evict(tick)
	}

	base := uint32(page) * uint32(a.frameSize/2)
	data := a.store.PageIn(p.ID, page)
	a.pagesIn++
	p.LoadMemPage(base, data)

	a.frames[frame] = frameSlot{pid: p.ID, page: page}
	a.pageTables[p.ID][page] = frame

	if a.policy == FIFO {
		a.fifo = append(a.fifo, frameSlot{pid: p.ID, page: page})
	} else {
		a.touchLRU(p.ID, page, tick)
	}
}

// evict picks a victim per the active policy, pages its contents out and
// returns its now-free frame index.
func (a *DemandPagingAllocator) evict(tick int64) int {
	var victimPid string
	var victimPage int

	switch a.policy {
	case FIFO:
		victim := a.fifo[0]
		a.fifo = a.fifo[1:]
		victimPid, victimPage = victim.pid, victim.page
	default: // LRU
		var oldest int64 = 1<<63 - 1
		for pid, pages := range a.lru {
			for page, t := range pages {
				if t < oldest {
					oldest = t
					victimPid, victimPage = pid, page
				}
			}
		}
		if m, ok := a.lru[victimPid]; ok {
			delete(m, victimPage)
		}
	}

	frame := a.pageTables[victimPid][victimPage]

	base := uint32(victimPage) * uint32(a.frameSize/2)
	words := a.frameSize / 2
	var data []byte
	if victim, ok := a.procs[victimPid]; ok {
		data = victim.MemPage(base, words)
	} else {
		data = make([]byte, a.frameSize)
	}

	if err := a.store.PageOut(victimPid, victimPage, data); err != nil {
		_ = err
	}
	a.pagesOut++

	delete(a.pageTables[victimPid], victimPage)
	a.frames[frame] = frameSlot{}
	return frame
}

// ResidentPages counts frame-table entries currently held by pid.
func (a *DemandPagingAllocator) ResidentPages(pid string) int {
	pt, ok := a.pageTables[pid]
	if !ok {
		return 0
	}
	return len(pt)
}

// NonResidentPages counts pages belonging to pid that are not currently
// resident, derived from its total allocated page count.
func (a *DemandPagingAllocator) NonResidentPages(pid string) int {
	proc, ok := a.procs[pid]
	if !ok {
		return 0
	}
	total := proc.PagesAllocated
	resident := a.ResidentPages(pid)
	if total < resident {
		return 0
	}
	return total - resident
}
