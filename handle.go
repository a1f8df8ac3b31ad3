package corevk

import "fmt"

// Handle is a 32-bit index + 32-bit generation opaque reference into a
// HandlePool, generalized from the teacher's string-keyed resource
// maps (core.go: BaseCore.images/vertex_buffers/... map[string]CoreX)
// into the dense, generation-tagged handle of spec.md §3.
type Handle struct {
	index uint32
	gen   uint32
}

// InvalidHandle is the all-ones sentinel (spec.md §3).
var InvalidHandle = Handle{index: ^uint32(0), gen: ^uint32(0)}

// Valid reports whether h is not the sentinel. It does NOT by itself
// prove the handle is still live in any particular pool; use
// HandlePool.Get for that.
func (h Handle) Valid() bool {
	return h != InvalidHandle
}

func (h Handle) String() string {
	if !h.Valid() {
		return "Handle(invalid)"
	}
	return fmt.Sprintf("Handle(%d#%d)", h.index, h.gen)
}

// freeIndexAllocator is a bounded set of u32 indices with LIFO reuse,
// generalized from the teacher's CoreQueue.binded []bool occupancy
// bookkeeping (queue.go) into a standalone allocator usable for any
// fixed-capacity slot array (handle pool slots, bindless descriptor
// slots).
type freeIndexAllocator struct {
	capacity uint32
	free     []uint32 // LIFO stack of free indices
	isFree   []bool   // debug double-free detection
	count    uint32   // indices issued and not yet freed
}

func newFreeIndexAllocator(capacity uint32) *freeIndexAllocator {
	free := make([]uint32, capacity)
	isFree := make([]bool, capacity)
	for i := uint32(0); i < capacity; i++ {
		// Push in descending order so index 0 is allocated first.
		free[capacity-1-i] = i
		isFree[i] = true
	}
	return &freeIndexAllocator{capacity: capacity, free: free, isFree: isFree}
}

// Capacity returns the total number of indices this allocator manages.
func (a *freeIndexAllocator) Capacity() uint32 { return a.capacity }

// Count returns the number of indices currently allocated.
func (a *freeIndexAllocator) Count() uint32 { return a.count }

// Allocate pops a free index. Returns ok=false when exhausted.
func (a *freeIndexAllocator) Allocate() (idx uint32, ok bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	n := len(a.free) - 1
	idx = a.free[n]
	a.free = a.free[:n]
	a.isFree[idx] = false
	a.count++
	return idx, true
}

// Free returns idx to the pool. Panics on out-of-range or double-free
// in every build, not only debug builds (spec.md §4.3: "must detect
// double-free ... in debug builds"); see freeIndexAllocator.FreeChecked
// for a non-panicking form.
func (a *freeIndexAllocator) Free(idx uint32) {
	if err := a.FreeChecked(idx); err != nil {
		panic(err)
	}
}

// FreeChecked is the non-panicking form of Free, returning an error on
// out-of-range or double-free instead of panicking, for call sites
// that must not crash a frame (e.g. deferred-destroy flush).
func (a *freeIndexAllocator) FreeChecked(idx uint32) error {
	if idx >= a.capacity {
		return fmt.Errorf("corevk: free index %d out of range [0,%d)", idx, a.capacity)
	}
	if a.isFree[idx] {
		return fmt.Errorf("corevk: double free of index %d", idx)
	}
	a.isFree[idx] = true
	a.free = append(a.free, idx)
	a.count--
	return nil
}

// poolSlot is the {element, generation, live} triple spec.md §4.3
// calls for.
type poolSlot[T any] struct {
	elem T
	gen  uint32
	live bool
}

// HandlePool stores a parallel array of typed slots behind stable
// (index, generation) handles, generalized from the teacher's
// per-kind `map[string]CoreX` tables (core.go, image.go) into one
// reusable generic container. O(1) allocate/free/validate, as spec.md
// §4.3 requires.
type HandlePool[T any] struct {
	slots    []poolSlot[T]
	freeList []uint32 // LIFO
	liveCnt  uint32
}

// NewHandlePool reserves backing storage for capacity slots; the pool
// itself starts empty (Capacity() == 0) and grows on demand.
func NewHandlePool[T any](capacity int) *HandlePool[T] {
	p := &HandlePool[T]{
		slots:    make([]poolSlot[T], 0, capacity),
		freeList: make([]uint32, 0, capacity),
	}
	return p
}

// Len returns the number of live slots.
func (p *HandlePool[T]) Len() int { return int(p.liveCnt) }

// Capacity returns the number of slots backing the pool (live + dead).
func (p *HandlePool[T]) Capacity() int { return len(p.slots) }

// IsFull reports whether every backing slot is live (spec.md §4.3).
// Since the pool grows on demand this is only ever true transiently,
// right before a grow; callers that pre-size a pool to a hard cap
// should compare against that cap instead.
func (p *HandlePool[T]) IsFull(capacity int) bool {
	return int(p.liveCnt) == capacity
}

// Alloc inserts elem and returns its handle, reusing a free slot (LIFO)
// at the generation Free already bumped it to when one is available,
// or appending a new slot at generation 0 otherwise.
func (p *HandlePool[T]) Alloc(elem T) Handle {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		slot := &p.slots[idx]
		slot.elem = elem
		slot.live = true
		p.liveCnt++
		return Handle{index: idx, gen: slot.gen}
	}
	idx := uint32(len(p.slots))
	p.slots = append(p.slots, poolSlot[T]{elem: elem, gen: 0, live: true})
	p.liveCnt++
	return Handle{index: idx, gen: 0}
}

// Get returns a pointer to the live element behind h, or nil if h is
// stale (freed, or generation mismatch) — spec.md §4.3/§7 "get(h)
// returns null on any subsequent call" after free.
func (p *HandlePool[T]) Get(h Handle) *T {
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return nil
	}
	slot := &p.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return nil
	}
	return &slot.elem
}

// Free invalidates h's slot, bumping its generation so a later Alloc
// reusing the same index produces a handle that compares unequal to h
// (spec.md §8 property 1).
func (p *HandlePool[T]) Free(h Handle) bool {
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return false
	}
	slot := &p.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return false
	}
	var zero T
	slot.elem = zero
	slot.live = false
	slot.gen++
	p.freeList = append(p.freeList, h.index)
	p.liveCnt--
	return true
}

// BumpGeneration increments h's slot generation in place, keeping the
// slot live with its current element, and returns the handle reflecting
// the new generation. Any previously issued Handle at this index
// (including h itself) becomes stale and Get returns nil for it,
// without freeing the index back to the allocator. Used by update_*
// operations (spec.md §3, §4.4) that replace a resource's backing
// object but keep its bindless slots: external code that cached the
// old handle observes the replacement instead of silently reading
// stale data.
func (p *HandlePool[T]) BumpGeneration(h Handle) (Handle, bool) {
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return InvalidHandle, false
	}
	slot := &p.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return InvalidHandle, false
	}
	slot.gen++
	return Handle{index: h.index, gen: slot.gen}, true
}

// Set overwrites the live element behind h in place without touching
// its generation, for callers (FrameBegin's backbuffer patch) that
// intentionally want the same handle to keep comparing equal across
// frames.
func (p *HandlePool[T]) Set(h Handle, elem T) bool {
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return false
	}
	slot := &p.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return false
	}
	slot.elem = elem
	return true
}

// PoolEntry is one (handle, element pointer) pair yielded by Each.
type PoolEntry[T any] struct {
	Handle Handle
	Elem   *T
}

// Each iterates every live slot, in the teacher's "iteration yields
// {handle, element*} for all live slots" order (spec.md §4.3).
func (p *HandlePool[T]) Each(fn func(PoolEntry[T])) {
	for i := range p.slots {
		if !p.slots[i].live {
			continue
		}
		fn(PoolEntry[T]{
			Handle: Handle{index: uint32(i), gen: p.slots[i].gen},
			Elem:   &p.slots[i].elem,
		})
	}
}
