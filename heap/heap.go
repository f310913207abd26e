// Package heap implements Flux's managed heap: a dense, handle-addressed
// store for cons cells and HAMT trie nodes, collected by a stop-the-world
// precise mark-sweep garbage collector with a self-tuning allocation
// threshold (spec.md §4.2).
package heap

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/fluxlang/flux/values"
)

// Default/bound allocation-threshold constants (spec.md §4.2 "Trigger policy").
const (
	DefaultThreshold = 10_000
	MinThreshold     = 1024
	MaxThreshold     = 1_000_000
)

// Handle is a stable 32-bit reference to a heap-allocated object. Handles
// remain valid until the object they name is collected; reusing a handle
// after that is a programming error (spec.md §4.2 "Failure semantics").
type Handle uint32

func (h Handle) String() string { return fmt.Sprintf("gc@%d", uint32(h)) }

// HeapObject is implemented by every value the heap can store: Cons,
// HamtNode, and HamtCollision.
type HeapObject interface {
	isHeapObject()
}

// Cons is a persistent pair (head, tail), the building block of Flux's
// cons-list.
type Cons struct {
	Head, Tail values.Value
}

func (Cons) isHeapObject() {}

// HamtEntryKind tags what a HamtNode's compressed child slot holds.
type HamtEntryKind byte

const (
	HamtEntryLeaf HamtEntryKind = iota
	HamtEntryNode
	HamtEntryCollision
)

// HamtEntry is one compressed child slot of a HamtNode.
type HamtEntry struct {
	Kind HamtEntryKind

	// Populated when Kind == HamtEntryLeaf.
	Key   values.HashKey
	Value values.Value

	// Populated when Kind is HamtEntryNode or HamtEntryCollision.
	Child Handle
}

// HamtNode is an internal HAMT trie node: a 32-bit bitmap of occupied
// slots and a compressed array holding exactly popcount(Bitmap) entries.
type HamtNode struct {
	Bitmap   uint32
	Children []HamtEntry
}

func (HamtNode) isHeapObject() {}

// HamtPair is one key/value pair inside a collision bucket.
type HamtPair struct {
	Key   values.HashKey
	Value values.Value
}

// HamtCollision holds every key that hashed to the same slot all the way
// down to maxDepth.
type HamtCollision struct {
	Hash    uint64
	Entries []HamtPair
}

func (HamtCollision) isHeapObject() {}

type slot struct {
	object HeapObject // nil when free
	marked bool
}

// Heap is the storage and collector for managed heap objects. The zero
// value is not usable; construct with New or WithThreshold.
type Heap struct {
	entries   []slot
	freeList  []uint32
	allocated int // allocations since the last collection

	threshold int
	enabled   bool

	totalCollections int
	totalAllocations int
}

// New creates a heap with GC enabled and the default threshold.
func New() *Heap {
	return &Heap{threshold: DefaultThreshold, enabled: true}
}

// WithThreshold creates a heap with a custom allocation threshold. Unlike
// SetThreshold, this does not clamp to MinThreshold — it is meant for
// tests and CLI overrides that want an exact starting point.
func WithThreshold(threshold int) *Heap {
	return &Heap{threshold: threshold, enabled: true}
}

// SetEnabled turns automatic collection checks on or off.
func (h *Heap) SetEnabled(enabled bool) { h.enabled = enabled }

// Enabled reports whether GC is currently enabled.
func (h *Heap) Enabled() bool { return h.enabled }

// SetThreshold sets the allocation threshold that triggers collection,
// clamped upward to MinThreshold.
func (h *Heap) SetThreshold(threshold int) {
	if threshold < MinThreshold {
		threshold = MinThreshold
	}
	h.threshold = threshold
}

// Threshold returns the current allocation threshold.
func (h *Heap) Threshold() int { return h.threshold }

// ShouldCollect reports whether GC is enabled and the allocation counter
// has reached the threshold. The VM calls this at safe points between
// instructions that can allocate.
func (h *Heap) ShouldCollect() bool {
	return h.enabled && h.allocated >= h.threshold
}

// Alloc stores object in a free slot (reusing one from the free-list
// first) or appends a new one, and returns its stable handle.
func (h *Heap) Alloc(object HeapObject) Handle {
	h.allocated++
	h.totalAllocations++

	if n := len(h.freeList); n > 0 {
		idx := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.entries[idx] = slot{object: object}
		return Handle(idx)
	}
	idx := uint32(len(h.entries))
	h.entries = append(h.entries, slot{object: object})
	return Handle(idx)
}

// Get returns the object a handle names. It panics if the handle is out
// of bounds or points to a freed slot — dereferencing an invalid handle
// is a programming error, not a runtime condition (spec.md §4.2).
func (h *Heap) Get(handle Handle) HeapObject {
	if int(handle) >= len(h.entries) || h.entries[handle].object == nil {
		panic(fmt.Sprintf("heap: invalid or free handle %s", handle))
	}
	return h.entries[handle].object
}

// LiveCount returns the number of currently live heap entries.
func (h *Heap) LiveCount() int {
	live := 0
	for i := range h.entries {
		if h.entries[i].object != nil {
			live++
		}
	}
	return live
}

// FreeListLen returns the number of free slots awaiting reuse.
func (h *Heap) FreeListLen() int { return len(h.freeList) }

// TotalAllocations returns the number of allocations performed over the
// heap's lifetime.
func (h *Heap) TotalAllocations() int { return h.totalAllocations }

// TotalCollections returns the number of completed GC cycles.
func (h *Heap) TotalCollections() int { return h.totalCollections }

// Roots is the set of VM-owned locations the collector must trace
// (spec.md §4.2 "Root set").
type Roots struct {
	// Stack is the live prefix of the value stack, i.e. stack[:sp].
	Stack []values.Value
	// Globals is the full globals vector.
	Globals []values.Value
	// Constants is the full constants pool.
	Constants []values.Value
	// LastPopped is the most recently popped stack value, retained for
	// observation by tests/REPL.
	LastPopped values.Value
	// FrameClosures is every closure belonging to a currently active
	// frame (the caller slices this to frame_index+1 before calling).
	FrameClosures []*values.Closure
}

// Collect runs one stop-the-world mark-sweep cycle: mark everything
// reachable from roots, sweep everything else, and adapt the allocation
// threshold based on how much was collected (spec.md §4.2 "Trigger
// policy").
func (h *Heap) Collect(roots Roots) {
	h.markSlice(roots.Stack)
	h.markSlice(roots.Globals)
	h.markSlice(roots.Constants)
	h.markValue(roots.LastPopped)
	for _, c := range roots.FrameClosures {
		if c == nil {
			continue
		}
		h.markSlice(c.Free)
	}

	liveBefore := h.LiveCount()
	h.sweep()
	liveAfter := h.LiveCount()
	collected := liveBefore - liveAfter
	if collected < 0 {
		collected = 0
	}

	h.totalCollections++
	h.allocated = 0
	h.adaptThreshold(collected, liveBefore)
}

func (h *Heap) markSlice(vs []values.Value) {
	for _, v := range vs {
		h.markValue(v)
	}
}

// workItem is an entry on the explicit mark worklist. Using a worklist
// rather than recursion avoids stack overflow on long cons chains
// (spec.md §4.2 "Mark algorithm").
type workItem struct {
	handle   Handle
	isHandle bool
	value    values.Value
}

func (h *Heap) markValue(root values.Value) {
	worklist := make([]workItem, 0, 16)
	worklist = append(worklist, workItem{value: root})

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if item.isHandle {
			worklist = h.markHandle(item.handle, worklist)
			continue
		}

		switch item.value.Type {
		case values.TypeGc:
			worklist = append(worklist, workItem{handle: Handle(item.value.AsGcHandle()), isHandle: true})
		case values.TypeSome, values.TypeLeft, values.TypeRight, values.TypeReturnValue:
			worklist = append(worklist, workItem{value: item.value.Inner()})
		case values.TypeArray:
			for _, e := range item.value.AsArray().Elements {
				worklist = append(worklist, workItem{value: e})
			}
		case values.TypeClosure:
			for _, f := range item.value.AsClosure().Free {
				worklist = append(worklist, workItem{value: f})
			}
		}
	}
}

func (h *Heap) markHandle(handle Handle, worklist []workItem) []workItem {
	idx := int(handle)
	if idx >= len(h.entries) || h.entries[idx].object == nil {
		return worklist
	}
	if h.entries[idx].marked {
		return worklist
	}
	h.entries[idx].marked = true

	switch obj := h.entries[idx].object.(type) {
	case Cons:
		worklist = append(worklist, workItem{value: obj.Head}, workItem{value: obj.Tail})
	case HamtNode:
		for _, entry := range obj.Children {
			switch entry.Kind {
			case HamtEntryLeaf:
				worklist = append(worklist, workItem{value: entry.Value})
			case HamtEntryNode, HamtEntryCollision:
				worklist = append(worklist, workItem{handle: entry.Child, isHandle: true})
			}
		}
	case HamtCollision:
		for _, e := range obj.Entries {
			worklist = append(worklist, workItem{value: e.Value})
		}
	}
	return worklist
}

func (h *Heap) sweep() {
	for i := range h.entries {
		if h.entries[i].object == nil {
			continue
		}
		if h.entries[i].marked {
			h.entries[i].marked = false
		} else {
			h.entries[i] = slot{}
			h.freeList = append(h.freeList, uint32(i))
		}
	}
}

func (h *Heap) adaptThreshold(collected, liveBefore int) {
	if liveBefore == 0 {
		return
	}
	ratio := float64(collected) / float64(liveBefore)
	switch {
	case ratio < 0.25:
		h.threshold *= 2
		if h.threshold > MaxThreshold {
			h.threshold = MaxThreshold
		}
	case ratio > 0.75:
		h.threshold /= 2
		if h.threshold < MinThreshold {
			h.threshold = MinThreshold
		}
	}
}

// Stats summarizes heap state for diagnostics output. No cmd/fluxvm
// command prints it.
type Stats struct {
	Live             int
	Free             int
	Threshold        int
	TotalAllocations int
	TotalCollections int
}

// Stats snapshots the heap's current counters.
func (h *Heap) Stats() Stats {
	return Stats{
		Live:             h.LiveCount(),
		Free:             h.FreeListLen(),
		Threshold:        h.threshold,
		TotalAllocations: h.totalAllocations,
		TotalCollections: h.totalCollections,
	}
}

// String renders the stats with human-readable counts, e.g.
// "12 live, 3 free, threshold 10,000, 1,204 allocations, 3 collections".
func (s Stats) String() string {
	return fmt.Sprintf(
		"%s live, %s free, threshold %s, %s allocations, %s collections",
		humanize.Comma(int64(s.Live)),
		humanize.Comma(int64(s.Free)),
		humanize.Comma(int64(s.Threshold)),
		humanize.Comma(int64(s.TotalAllocations)),
		humanize.Comma(int64(s.TotalCollections)),
	)
}
