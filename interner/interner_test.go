package interner

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterningReusesSymbolForSameIdentifier(t *testing.T) {
	in := New()
	a := in.Intern("alpha")
	b := in.Intern("alpha")
	c := in.Intern("beta")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "alpha", in.Resolve(a))
	assert.Equal(t, "beta", in.Resolve(c))
}

func TestTryResolveReturnsFalseForInvalidSymbol(t *testing.T) {
	in := New()
	_, ok := in.TryResolve(Symbol(999))
	assert.False(t, ok)
}

func TestResolvePanicsOnInvalidSymbol(t *testing.T) {
	in := New()
	assert.Panics(t, func() { in.Resolve(Symbol(999)) })
}

func TestHandlesUnicodeIdentifiers(t *testing.T) {
	in := New()
	sym1 := in.Intern("α")
	sym2 := in.Intern("β")
	sym3 := in.Intern("你好")
	sym4 := in.Intern("α")

	assert.Equal(t, sym1, sym4)
	assert.NotEqual(t, sym1, sym2)
	assert.Equal(t, "α", in.Resolve(sym1))
	assert.Equal(t, "β", in.Resolve(sym2))
	assert.Equal(t, "你好", in.Resolve(sym3))
}

func TestHandlesEmptyString(t *testing.T) {
	in := New()
	sym1 := in.Intern("")
	sym2 := in.Intern("")

	assert.Equal(t, sym1, sym2)
	assert.Equal(t, "", in.Resolve(sym1))
}

func TestClearRemovesAllEntries(t *testing.T) {
	in := New()
	sym1 := in.Intern("hello")
	sym2 := in.Intern("world")

	in.Clear()

	_, ok1 := in.TryResolve(sym1)
	_, ok2 := in.TryResolve(sym2)
	assert.False(t, ok1)
	assert.False(t, ok2)

	sym3 := in.Intern("new")
	assert.Equal(t, "new", in.Resolve(sym3))
}

func TestWithCapacityPreallocates(t *testing.T) {
	in := WithCapacity(100, 1000)
	assert.Equal(t, 0, in.Len())
}

func TestHandlesHashCollisionsCorrectly(t *testing.T) {
	in := New()
	var strs []string
	for i := 0; i < 100; i++ {
		strs = append(strs, "identifier_"+strconv.Itoa(i))
	}

	var syms []Symbol
	for _, s := range strs {
		syms = append(syms, in.Intern(s))
	}

	for i := range syms {
		for j := i + 1; j < len(syms); j++ {
			assert.NotEqual(t, syms[i], syms[j])
		}
	}
	for i, sym := range syms {
		assert.Equal(t, strs[i], in.Resolve(sym))
	}
	for i, s := range strs {
		assert.Equal(t, syms[i], in.Intern(s))
	}
}

func TestVeryLongString(t *testing.T) {
	in := New()
	long := strings.Repeat("a", 10000)
	sym := in.Intern(long)
	assert.Equal(t, long, in.Resolve(sym))
}

func TestStringsWithSpecialCharacters(t *testing.T) {
	in := New()
	strs := []string{"hello\nworld", "tab\there", "quote\"inside", "slash\\back", "null\x00byte"}
	for _, s := range strs {
		sym := in.Intern(s)
		assert.Equal(t, s, in.Resolve(sym))
	}
}
