package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlang/flux/values"
)

func TestAllocAndGet(t *testing.T) {
	h := New()
	handle := h.Alloc(Cons{Head: values.NewInteger(1), Tail: values.EmptyList()})

	obj := h.Get(handle)
	cons, ok := obj.(Cons)
	require.True(t, ok)
	assert.Equal(t, int64(1), cons.Head.AsInteger())
	assert.Equal(t, 1, h.LiveCount())
	assert.Equal(t, 1, h.TotalAllocations())
}

func TestGetInvalidHandlePanics(t *testing.T) {
	h := New()
	assert.Panics(t, func() { h.Get(Handle(99)) })
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := New()
	reachable := h.Alloc(Cons{Head: values.NewInteger(1), Tail: values.EmptyList()})
	_ = h.Alloc(Cons{Head: values.NewInteger(2), Tail: values.EmptyList()}) // unreachable

	h.Collect(Roots{Stack: []values.Value{values.NewGc(uint32(reachable))}})

	assert.Equal(t, 1, h.LiveCount())
	assert.Equal(t, 1, h.FreeListLen())
	assert.Equal(t, 1, h.TotalCollections())
}

func TestCollectPreservesReachableChain(t *testing.T) {
	h := New()
	tail := h.Alloc(Cons{Head: values.NewInteger(2), Tail: values.EmptyList()})
	head := h.Alloc(Cons{Head: values.NewInteger(1), Tail: values.NewGc(uint32(tail))})

	h.Collect(Roots{Stack: []values.Value{values.NewGc(uint32(head))}})

	assert.Equal(t, 2, h.LiveCount())
	assert.Equal(t, 0, h.FreeListLen())
}

func TestFreeListIsReused(t *testing.T) {
	h := New()
	a := h.Alloc(Cons{Head: values.NewInteger(1), Tail: values.EmptyList()})
	_ = a
	h.Collect(Roots{}) // nothing reachable, frees slot 0

	require.Equal(t, 1, h.FreeListLen())
	b := h.Alloc(Cons{Head: values.NewInteger(9), Tail: values.EmptyList()})
	assert.Equal(t, Handle(0), b)
	assert.Equal(t, 0, h.FreeListLen())
}

func TestCollectTracesArraysAndClosures(t *testing.T) {
	h := New()
	inner := h.Alloc(Cons{Head: values.NewInteger(42), Tail: values.EmptyList()})
	arr := values.NewArray([]values.Value{values.NewGc(uint32(inner))})
	closure := &values.Closure{Function: &values.Function{}, Free: []values.Value{arr}}

	h.Collect(Roots{FrameClosures: []*values.Closure{closure}})

	assert.Equal(t, 1, h.LiveCount())
}

func TestCollectTracesSomeWrapper(t *testing.T) {
	h := New()
	inner := h.Alloc(Cons{Head: values.NewInteger(7), Tail: values.EmptyList()})
	wrapped := values.NewSome(values.NewGc(uint32(inner)))

	h.Collect(Roots{LastPopped: wrapped})

	assert.Equal(t, 1, h.LiveCount())
}

func TestShouldCollectRespectsThresholdAndEnabled(t *testing.T) {
	h := WithThreshold(MinThreshold)
	for i := 0; i < MinThreshold-1; i++ {
		h.Alloc(Cons{})
	}
	assert.False(t, h.ShouldCollect())
	h.Alloc(Cons{})
	assert.True(t, h.ShouldCollect())

	h.SetEnabled(false)
	assert.False(t, h.ShouldCollect())
}

func TestAdaptThresholdDoublesOnLowCollectionRatio(t *testing.T) {
	h := WithThreshold(1000)
	for i := 0; i < 100; i++ {
		h.Alloc(Cons{})
	}
	// All 100 reachable via globals: collection ratio 0, well under 0.25.
	roots := make([]values.Value, 100)
	for i := range roots {
		roots[i] = values.NewGc(uint32(i))
	}
	h.Collect(Roots{Globals: roots})
	assert.Equal(t, 2000, h.Threshold())
}

func TestAdaptThresholdHalvesOnHighCollectionRatio(t *testing.T) {
	h := WithThreshold(4096)
	for i := 0; i < 100; i++ {
		h.Alloc(Cons{})
	}
	// Nothing kept alive: ratio 1.0, over 0.75.
	h.Collect(Roots{})
	assert.Equal(t, 2048, h.Threshold())
}

func TestAdaptThresholdFloorsAtMinimum(t *testing.T) {
	h := WithThreshold(MinThreshold)
	for i := 0; i < 10; i++ {
		h.Alloc(Cons{})
	}
	h.Collect(Roots{})
	assert.Equal(t, MinThreshold, h.Threshold())
}

func TestAdaptThresholdCapsAtMaximum(t *testing.T) {
	h := WithThreshold(MaxThreshold)
	h.Alloc(Cons{})
	h.Collect(Roots{Globals: []values.Value{values.NewGc(0)}})
	assert.Equal(t, MaxThreshold, h.Threshold())
}

func TestStressManyAllocationsAndCollections(t *testing.T) {
	h := New()
	var survivors []Handle
	for round := 0; round < 50; round++ {
		for i := 0; i < 2000; i++ {
			handle := h.Alloc(Cons{Head: values.NewInteger(int64(i)), Tail: values.EmptyList()})
			if i%10 == 0 {
				survivors = append(survivors, handle)
			}
		}
		roots := make([]values.Value, len(survivors))
		for i, s := range survivors {
			roots[i] = values.NewGc(uint32(s))
		}
		h.Collect(Roots{Globals: roots})
	}
	assert.Equal(t, len(survivors), h.LiveCount())
}

func TestStatsString(t *testing.T) {
	h := New()
	h.Alloc(Cons{})
	stats := h.Stats()
	assert.Contains(t, stats.String(), "live")
	assert.Contains(t, stats.String(), "threshold")
}
