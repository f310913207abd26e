package values

import "hash/fnv"

// HashKey is the projection of a hashable Value (Integer, Boolean, or
// String) onto a comparable Go value usable both as a Go map key and as
// the key type stored in heap.HamtNode leaves.
type HashKey struct {
	Kind ValueType
	Int  int64
	Str  string
}

// Hash returns a deterministic 64-bit digest of the key, used by the HAMT
// to select a 5-bit slot per trie level (spec.md §4.2 "HAMT protocol").
// It does not need to resist hash-flooding: HAMTs here are in-process,
// per-VM-instance data structures, never exposed to untrusted hash-DoS
// surfaces.
func (k HashKey) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(k.Kind)})
	switch k.Kind {
	case TypeInteger, TypeBoolean:
		var buf [8]byte
		u := uint64(k.Int)
		for i := 0; i < 8; i++ {
			buf[i] = byte(u >> (8 * i))
		}
		h.Write(buf[:])
	case TypeString:
		h.Write([]byte(k.Str))
	}
	return h.Sum64()
}

// String renders the key the way it appears inside a formatted map, e.g.
// `"a"` for a string key or `1` for an integer key.
func (k HashKey) String() string {
	switch k.Kind {
	case TypeInteger:
		return NewInteger(k.Int).String()
	case TypeBoolean:
		return NewBoolean(k.Int != 0).String()
	case TypeString:
		return NewString(k.Str).String()
	default:
		return "<invalid-key>"
	}
}

// Value reconstructs the original Value this key was projected from.
func (k HashKey) Value() Value {
	switch k.Kind {
	case TypeInteger:
		return NewInteger(k.Int)
	case TypeBoolean:
		return NewBoolean(k.Int != 0)
	case TypeString:
		return NewString(k.Str)
	default:
		return None()
	}
}
