package memory

import (
	"github.com/coresim/coresim/internal/process"
)

// FlatMemoryAllocator is the simulator's second Allocator: a single
// contiguous byte arena with no paging at all, admitted or refused in
// full. Grounded on original_source/src/memory/FlatMemoryAllocator.h.
type FlatMemoryAllocator struct {
	size int
	used []bool // one entry per byte offset, true where occupied

	allocations map[string]flatRange
}

type flatRange struct {
	start int
	size  int
}

// NewFlat builds a flat allocator over exactly size bytes.
func NewFlat(size int) *FlatMemoryAllocator {
	return &FlatMemoryAllocator{
		size:        size,
		used:        make([]bool, size),
		allocations: make(map[string]flatRange),
	}
}

func (a *FlatMemoryAllocator) FrameSize() int       { return a.size }
func (a *FlatMemoryAllocator) TotalFrames() int     { return 1 }
func (a *FlatMemoryAllocator) PagedInCount() int64  { return 0 }
func (a *FlatMemoryAllocator) PagedOutCount() int64 { return 0 }

// FreeFrameCount reports whether any byte of the arena is still free,
// expressed as 1 free "frame" (the whole arena) or 0.
func (a *FlatMemoryAllocator) FreeFrameCount() int {
	if a.largestFree() > 0 {
		return 1
	}
	return 0
}

// canAllocateAt reports whether size contiguous bytes starting at start
// are all free, grounded on FlatMemoryAllocator::canAllocateAt.
func (a *FlatMemoryAllocator) canAllocateAt(start, size int) bool {
	if start+size > a.size {
		return false
	}
	for i := start; i < start+size; i++ {
		if a.used[i] {
			return false
		}
	}
	return true
}

func (a *FlatMemoryAllocator) largestFree() int {
	best, run := 0, 0
	for _, u := range a.used {
		if u {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}

// Allocate scans from offset zero for the first contiguous free run big
// enough to hold p's required memory, refusing if none exists.
func (a *FlatMemoryAllocator) Allocate(p *process.Process) error {
	size := int(p.MemoryRequired)
	for start := 0; start+size <= a.size; start++ {
		if a.canAllocateAt(start, size) {
			for i := start; i < start+size; i++ {
				a.used[i] = true
			}
			a.allocations[p.ID] = flatRange{start: start, size: size}
			p.PagesAllocated = 1
			return nil
		}
	}
	return ErrNoFrames
}

// Deallocate frees p's previously recorded byte range, if any.
func (a *FlatMemoryAllocator) Deallocate(p *process.Process) {
	r, ok := a.allocations[p.ID]
	if !ok {
		return
	}
	for i := r.start; i < r.start+r.size; i++ {
		a.used[i] = false
	}
	delete(a.allocations, p.ID)
	p.PagesAllocated = 0
}

// Access hits whenever p holds an allocation and misses otherwise: a
// flat allocation is either entirely resident or does not exist, so
// there is nothing to page fault on.
func (a *FlatMemoryAllocator) Access(p *process.Process, page int, tick int64) bool {
	_, ok := a.allocations[p.ID]
	return ok
}

// ResidentPages reports 1 if p currently holds an allocation, else 0 —
// the flat allocator has no page granularity.
func (a *FlatMemoryAllocator) ResidentPages(pid string) int {
	if _, ok := a.allocations[pid]; ok {
		return 1
	}
	return 0
}

// NonResidentPages is always zero: a flat allocation never pages out.
func (a *FlatMemoryAllocator) NonResidentPages(pid string) int {
	return 0
}
