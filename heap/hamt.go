package heap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxlang/flux/values"
)

// HAMT layout constants (spec.md §4.3 "Structure").
const (
	bitsPerLevel = 5
	levelMask    = 1<<bitsPerLevel - 1
	maxDepth     = 13
)

// HamtEmpty allocates and returns a handle to an empty HAMT root.
func HamtEmpty(h *Heap) Handle {
	return h.Alloc(HamtNode{})
}

func slotAtDepth(hash uint64, depth int) uint32 {
	shift := uint(depth * bitsPerLevel)
	return uint32((hash >> shift) & levelMask)
}

// compressedIndex returns the position within a HamtNode.Children slice
// that corresponds to bit slot of the node's bitmap, i.e. the number of
// set bits below slot (popcount of bitmap & (1<<slot - 1)).
func compressedIndex(bitmap uint32, slot uint32) int {
	mask := uint32(1)<<slot - 1
	return popcount(bitmap & mask)
}

func popcount(x uint32) int {
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// HamtLookup returns the value stored under key, if any.
func HamtLookup(h *Heap, root Handle, key values.HashKey) (values.Value, bool) {
	hash := key.Hash()
	node := root
	for depth := 0; depth <= maxDepth; depth++ {
		obj := h.Get(node)
		switch n := obj.(type) {
		case HamtNode:
			slot := slotAtDepth(hash, depth)
			bit := uint32(1) << slot
			if n.Bitmap&bit == 0 {
				return values.Value{}, false
			}
			entry := n.Children[compressedIndex(n.Bitmap, slot)]
			switch entry.Kind {
			case HamtEntryLeaf:
				if entry.Key == key {
					return entry.Value, true
				}
				return values.Value{}, false
			case HamtEntryNode:
				node = entry.Child
				continue
			case HamtEntryCollision:
				return collisionLookup(h, entry.Child, key)
			}
		case HamtCollision:
			return collisionLookup(h, node, key)
		}
	}
	return values.Value{}, false
}

func collisionLookup(h *Heap, handle Handle, key values.HashKey) (values.Value, bool) {
	c := h.Get(handle).(HamtCollision)
	for _, pair := range c.Entries {
		if pair.Key == key {
			return pair.Value, true
		}
	}
	return values.Value{}, false
}

// HamtInsert returns a handle to a new HAMT root reflecting key => value,
// path-copying every node from the root down to the inserted slot and
// leaving the original root (and every node it doesn't touch) intact
// (spec.md §4.3 "Persistence").
func HamtInsert(h *Heap, root Handle, key values.HashKey, value values.Value) Handle {
	return hamtInsertAt(h, root, key, value, key.Hash(), 0)
}

func hamtInsertAt(h *Heap, node Handle, key values.HashKey, value values.Value, hash uint64, depth int) Handle {
	obj := h.Get(node)
	switch n := obj.(type) {
	case HamtCollision:
		return insertIntoCollision(h, n, key, value)
	case HamtNode:
		if depth > maxDepth {
			return h.Alloc(HamtCollision{Hash: hash, Entries: []HamtPair{{Key: key, Value: value}}})
		}
		slot := slotAtDepth(hash, depth)
		bit := uint32(1) << slot
		idx := compressedIndex(n.Bitmap, slot)
		children := append([]HamtEntry(nil), n.Children...)

		if n.Bitmap&bit == 0 {
			entry := HamtEntry{Kind: HamtEntryLeaf, Key: key, Value: value}
			children = insertEntry(children, idx, entry)
			return h.Alloc(HamtNode{Bitmap: n.Bitmap | bit, Children: children})
		}

		existing := children[idx]
		switch existing.Kind {
		case HamtEntryLeaf:
			if existing.Key == key {
				children[idx] = HamtEntry{Kind: HamtEntryLeaf, Key: key, Value: value}
				return h.Alloc(HamtNode{Bitmap: n.Bitmap, Children: children})
			}
			childHandle := splitLeaf(h, existing, key, value, hash, depth+1)
			children[idx] = childHandleEntry(h, childHandle)
			return h.Alloc(HamtNode{Bitmap: n.Bitmap, Children: children})
		case HamtEntryNode:
			newChild := hamtInsertAt(h, existing.Child, key, value, hash, depth+1)
			children[idx] = HamtEntry{Kind: HamtEntryNode, Child: newChild}
			return h.Alloc(HamtNode{Bitmap: n.Bitmap, Children: children})
		case HamtEntryCollision:
			newChild := hamtInsertAt(h, existing.Child, key, value, hash, depth+1)
			children[idx] = childHandleEntry(h, newChild)
			return h.Alloc(HamtNode{Bitmap: n.Bitmap, Children: children})
		}
	}
	panic("heap: corrupt hamt node")
}

func childHandleEntry(h *Heap, handle Handle) HamtEntry {
	if _, ok := h.Get(handle).(HamtCollision); ok {
		return HamtEntry{Kind: HamtEntryCollision, Child: handle}
	}
	return HamtEntry{Kind: HamtEntryNode, Child: handle}
}

// splitLeaf replaces a single leaf entry that collided with a new key by
// growing a fresh subtree (or, past maxDepth, a collision bucket)
// containing both pairs.
func splitLeaf(h *Heap, existing HamtEntry, key values.HashKey, value values.Value, hash uint64, depth int) Handle {
	if depth > maxDepth {
		return h.Alloc(HamtCollision{
			Hash: hash,
			Entries: []HamtPair{
				{Key: existing.Key, Value: existing.Value},
				{Key: key, Value: value},
			},
		})
	}
	existingHash := existing.Key.Hash()
	existingSlot := slotAtDepth(existingHash, depth)
	newSlot := slotAtDepth(hash, depth)

	if existingSlot == newSlot {
		childHandle := splitLeaf(h, existing, key, value, hash, depth+1)
		bit := uint32(1) << newSlot
		return h.Alloc(HamtNode{Bitmap: bit, Children: []HamtEntry{childHandleEntry(h, childHandle)}})
	}

	entries := []HamtEntry{
		{Kind: HamtEntryLeaf, Key: existing.Key, Value: existing.Value},
		{Kind: HamtEntryLeaf, Key: key, Value: value},
	}
	bitmap := uint32(1)<<existingSlot | uint32(1)<<newSlot
	if existingSlot > newSlot {
		entries[0], entries[1] = entries[1], entries[0]
	}
	return h.Alloc(HamtNode{Bitmap: bitmap, Children: entries})
}

func insertIntoCollision(h *Heap, c HamtCollision, key values.HashKey, value values.Value) Handle {
	entries := append([]HamtPair(nil), c.Entries...)
	for i, pair := range entries {
		if pair.Key == key {
			entries[i] = HamtPair{Key: key, Value: value}
			return h.Alloc(HamtCollision{Hash: c.Hash, Entries: entries})
		}
	}
	entries = append(entries, HamtPair{Key: key, Value: value})
	return h.Alloc(HamtCollision{Hash: c.Hash, Entries: entries})
}

func insertEntry(children []HamtEntry, idx int, entry HamtEntry) []HamtEntry {
	children = append(children, HamtEntry{})
	copy(children[idx+1:], children[idx:])
	children[idx] = entry
	return children
}

func removeEntry(children []HamtEntry, idx int) []HamtEntry {
	copy(children[idx:], children[idx+1:])
	return children[:len(children)-1]
}

// HamtDelete returns a handle to a new HAMT root with key removed, or
// root unchanged (same handle) if key was absent.
func HamtDelete(h *Heap, root Handle, key values.HashKey) Handle {
	result, _ := hamtDeleteAt(h, root, key, key.Hash(), 0)
	return result
}

func hamtDeleteAt(h *Heap, node Handle, key values.HashKey, hash uint64, depth int) (Handle, bool) {
	obj := h.Get(node)
	switch n := obj.(type) {
	case HamtCollision:
		entries := make([]HamtPair, 0, len(n.Entries))
		removed := false
		for _, pair := range n.Entries {
			if pair.Key == key {
				removed = true
				continue
			}
			entries = append(entries, pair)
		}
		if !removed {
			return node, false
		}
		return h.Alloc(HamtCollision{Hash: n.Hash, Entries: entries}), true
	case HamtNode:
		slot := slotAtDepth(hash, depth)
		bit := uint32(1) << slot
		if n.Bitmap&bit == 0 {
			return node, false
		}
		idx := compressedIndex(n.Bitmap, slot)
		entry := n.Children[idx]
		switch entry.Kind {
		case HamtEntryLeaf:
			if entry.Key != key {
				return node, false
			}
			children := append([]HamtEntry(nil), n.Children...)
			children = removeEntry(children, idx)
			return h.Alloc(HamtNode{Bitmap: n.Bitmap &^ bit, Children: children}), true
		case HamtEntryNode, HamtEntryCollision:
			newChild, changed := hamtDeleteAt(h, entry.Child, key, hash, depth+1)
			if !changed {
				return node, false
			}
			children := append([]HamtEntry(nil), n.Children...)
			switch grandchild := h.Get(newChild).(type) {
			case HamtNode:
				if len(grandchild.Children) == 1 && grandchild.Children[0].Kind == HamtEntryLeaf {
					children[idx] = grandchild.Children[0]
				} else if len(grandchild.Children) == 0 {
					children = removeEntry(children, idx)
					return h.Alloc(HamtNode{Bitmap: n.Bitmap &^ bit, Children: children}), true
				} else {
					children[idx] = HamtEntry{Kind: HamtEntryNode, Child: newChild}
				}
			default:
				children[idx] = childHandleEntry(h, newChild)
			}
			return h.Alloc(HamtNode{Bitmap: n.Bitmap, Children: children}), true
		}
	}
	return node, false
}

// HamtLen returns the number of key/value pairs reachable from root.
func HamtLen(h *Heap, root Handle) int {
	return len(HamtIter(h, root))
}

// HamtIter collects every key/value pair reachable from root, in an
// unspecified but deterministic-for-a-given-tree order.
func HamtIter(h *Heap, root Handle) []HamtPair {
	var out []HamtPair
	hamtCollect(h, root, &out)
	return out
}

func hamtCollect(h *Heap, node Handle, out *[]HamtPair) {
	switch n := h.Get(node).(type) {
	case HamtNode:
		for _, entry := range n.Children {
			switch entry.Kind {
			case HamtEntryLeaf:
				*out = append(*out, HamtPair{Key: entry.Key, Value: entry.Value})
			case HamtEntryNode, HamtEntryCollision:
				hamtCollect(h, entry.Child, out)
			}
		}
	case HamtCollision:
		*out = append(*out, n.Entries...)
	}
}

// IsHamt reports whether handle names a HamtNode or HamtCollision object.
func IsHamt(h *Heap, handle Handle) bool {
	switch h.Get(handle).(type) {
	case HamtNode, HamtCollision:
		return true
	default:
		return false
	}
}

// HamtEqual compares two HAMTs by their full pair-set, independent of
// trie shape (spec.md §8 "structural equality by pair-set").
func HamtEqual(h *Heap, a, b Handle) bool {
	pairsA := HamtIter(h, a)
	pairsB := HamtIter(h, b)
	if len(pairsA) != len(pairsB) {
		return false
	}
	index := make(map[values.HashKey]values.Value, len(pairsA))
	for _, p := range pairsA {
		index[p.Key] = p.Value
	}
	for _, p := range pairsB {
		v, ok := index[p.Key]
		if !ok || !v.Equal(p.Value) {
			return false
		}
	}
	return true
}

// FormatHamt renders a HAMT as a Flux map literal, e.g. {"a": 1, "b": 2},
// with keys sorted for deterministic output.
func FormatHamt(h *Heap, root Handle) string {
	pairs := HamtIter(h, root)
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Key.String() < pairs[j].Key.String()
	})
	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", p.Key.String(), p.Value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
