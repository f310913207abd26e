// Package interner provides a string interner: unique strings map to
// small integer symbols so closures and debug info can compare names
// by value instead of by string content (spec.md's Function/DebugLoc
// carry names and file paths that repeat across many frames).
package interner

import (
	"fmt"
	"hash/fnv"
)

// Symbol is a cheap-to-copy handle returned by Intern. Symbols are
// dense indices assigned in interning order starting at 0, so the zero
// Symbol names the first interned string and is not a "no symbol"
// sentinel.
type Symbol uint32

func (s Symbol) String() string { return fmt.Sprintf("Symbol(%d)", uint32(s)) }

type entry struct {
	start, end int
}

// Interner stores each unique string once in a single growing buffer
// and hands out Symbols that index into it, avoiding one allocation
// per occurrence of a repeated name.
type Interner struct {
	buckets map[uint64][]Symbol
	entries []entry
	storage []byte
}

// New creates an empty interner.
func New() *Interner {
	return &Interner{buckets: make(map[uint64][]Symbol)}
}

// WithCapacity creates an interner pre-sized for symbolCap unique
// strings backed by a storageBytes-byte buffer.
func WithCapacity(symbolCap, storageBytes int) *Interner {
	return &Interner{
		buckets: make(map[uint64][]Symbol, symbolCap),
		entries: make([]entry, 0, symbolCap),
		storage: make([]byte, 0, storageBytes),
	}
}

// Clear removes every interned string but keeps the underlying
// buffers' capacity, for reuse across many short-lived compilations
// (e.g. a REPL evaluating one line at a time).
func (in *Interner) Clear() {
	for k := range in.buckets {
		delete(in.buckets, k)
	}
	in.entries = in.entries[:0]
	in.storage = in.storage[:0]
}

// Intern returns s's symbol, interning it if this is the first time
// it has been seen.
func (in *Interner) Intern(s string) Symbol {
	h := fnvHash(s)
	for _, candidate := range in.buckets[h] {
		if in.Resolve(candidate) == s {
			return candidate
		}
	}

	sym := Symbol(len(in.entries))
	start := len(in.storage)
	in.storage = append(in.storage, s...)
	end := len(in.storage)

	in.entries = append(in.entries, entry{start: start, end: end})
	in.buckets[h] = append(in.buckets[h], sym)
	return sym
}

// Resolve returns sym's string, panicking if sym was not produced by
// this interner. Prefer TryResolve when sym's validity isn't certain.
func (in *Interner) Resolve(sym Symbol) string {
	s, ok := in.TryResolve(sym)
	if !ok {
		panic(fmt.Sprintf("interner: invalid symbol %s", sym))
	}
	return s
}

// TryResolve returns sym's string and true, or "" and false if sym was
// not produced by this interner (or the interner has since been
// cleared).
func (in *Interner) TryResolve(sym Symbol) (string, bool) {
	i := int(sym)
	if i < 0 || i >= len(in.entries) {
		return "", false
	}
	e := in.entries[i]
	return string(in.storage[e.start:e.end]), true
}

// Len reports how many unique strings are currently interned.
func (in *Interner) Len() int { return len(in.entries) }

// fnvHash is FNV-1a over a string, the same algorithm values.HashKey
// uses to hash map keys.
func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
