package heap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlang/flux/values"
)

func strKey(s string) values.HashKey {
	k, ok := values.NewString(s).ToHashKey()
	if !ok {
		panic("unreachable")
	}
	return k
}

func intKey(i int64) values.HashKey {
	k, _ := values.NewInteger(i).ToHashKey()
	return k
}

func TestHamtEmptyLookupMisses(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	_, ok := HamtLookup(h, root, strKey("a"))
	assert.False(t, ok)
	assert.Equal(t, 0, HamtLen(h, root))
}

func TestHamtInsertAndLookup(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(1))
	root = HamtInsert(h, root, strKey("b"), values.NewInteger(2))

	v, ok := HamtLookup(h, root, strKey("a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), v.AsInteger())

	v, ok = HamtLookup(h, root, strKey("b"))
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInteger())

	_, ok = HamtLookup(h, root, strKey("c"))
	assert.False(t, ok)
	assert.Equal(t, 2, HamtLen(h, root))
}

func TestHamtInsertIsPersistent(t *testing.T) {
	h := New()
	root1 := HamtEmpty(h)
	root1 = HamtInsert(h, root1, strKey("a"), values.NewInteger(1))
	root2 := HamtInsert(h, root1, strKey("b"), values.NewInteger(2))

	assert.Equal(t, 1, HamtLen(h, root1))
	assert.Equal(t, 2, HamtLen(h, root2))

	_, ok := HamtLookup(h, root1, strKey("b"))
	assert.False(t, ok, "inserting into root2 must not mutate root1")
}

func TestHamtInsertOverwritesExistingKey(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(1))
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(2))

	v, ok := HamtLookup(h, root, strKey("a"))
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInteger())
	assert.Equal(t, 1, HamtLen(h, root))
}

func TestHamtDeleteRemovesKey(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(1))
	root = HamtInsert(h, root, strKey("b"), values.NewInteger(2))

	root2 := HamtDelete(h, root, strKey("a"))
	_, ok := HamtLookup(h, root2, strKey("a"))
	assert.False(t, ok)
	v, ok := HamtLookup(h, root2, strKey("b"))
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInteger())

	// original root is untouched.
	_, ok = HamtLookup(h, root, strKey("a"))
	assert.True(t, ok)
}

func TestHamtDeleteMissingKeyIsNoop(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(1))
	root2 := HamtDelete(h, root, strKey("nope"))
	assert.Equal(t, HamtLen(h, root), HamtLen(h, root2))
}

func TestHamtManyKeysRoundTrip(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	const n = 2000
	for i := 0; i < n; i++ {
		root = HamtInsert(h, root, intKey(int64(i)), values.NewInteger(int64(i*2)))
	}
	assert.Equal(t, n, HamtLen(h, root))
	for i := 0; i < n; i++ {
		v, ok := HamtLookup(h, root, intKey(int64(i)))
		require.True(t, ok, "missing key %d", i)
		assert.Equal(t, int64(i*2), v.AsInteger())
	}
}

func TestHamtManyKeysDeleteAllRoundTrip(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	const n = 500
	for i := 0; i < n; i++ {
		root = HamtInsert(h, root, intKey(int64(i)), values.NewInteger(int64(i)))
	}
	for i := 0; i < n; i++ {
		root = HamtDelete(h, root, intKey(int64(i)))
	}
	assert.Equal(t, 0, HamtLen(h, root))
}

func TestHamtEqualIsOrderIndependent(t *testing.T) {
	h := New()
	a := HamtEmpty(h)
	a = HamtInsert(h, a, strKey("x"), values.NewInteger(1))
	a = HamtInsert(h, a, strKey("y"), values.NewInteger(2))

	b := HamtEmpty(h)
	b = HamtInsert(h, b, strKey("y"), values.NewInteger(2))
	b = HamtInsert(h, b, strKey("x"), values.NewInteger(1))

	assert.True(t, HamtEqual(h, a, b))
}

func TestHamtEqualDetectsDifference(t *testing.T) {
	h := New()
	a := HamtEmpty(h)
	a = HamtInsert(h, a, strKey("x"), values.NewInteger(1))

	b := HamtEmpty(h)
	b = HamtInsert(h, b, strKey("x"), values.NewInteger(2))

	assert.False(t, HamtEqual(h, a, b))
}

func TestHamtIsHamtDistinguishesFromCons(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	cons := h.Alloc(Cons{Head: values.NewInteger(1), Tail: values.EmptyList()})

	assert.True(t, IsHamt(h, root))
	assert.False(t, IsHamt(h, cons))
}

func TestFormatHamt(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	root = HamtInsert(h, root, strKey("a"), values.NewInteger(1))
	root = HamtInsert(h, root, strKey("b"), values.NewInteger(2))

	out := FormatHamt(h, root)
	assert.Equal(t, `{"a": 1, "b": 2}`, out)
}

func TestHamtManyStringKeysRoundTrip(t *testing.T) {
	h := New()
	root := HamtEmpty(h)
	// Distinct string keys, enough that several share a slot at the top
	// level and are pushed down into child nodes; every one must still
	// be found with its own value.
	for i := 0; i < 40; i++ {
		root = HamtInsert(h, root, strKey(fmt.Sprintf("key-%d", i)), values.NewInteger(int64(i)))
	}
	for i := 0; i < 40; i++ {
		v, ok := HamtLookup(h, root, strKey(fmt.Sprintf("key-%d", i)))
		require.True(t, ok)
		assert.Equal(t, int64(i), v.AsInteger())
	}
}

func TestCompressedIndex(t *testing.T) {
	bitmap := uint32(0b10110)
	assert.Equal(t, 0, compressedIndex(bitmap, 1))
	assert.Equal(t, 1, compressedIndex(bitmap, 2))
	assert.Equal(t, 2, compressedIndex(bitmap, 4))
}
