package cache

import (
	"crypto/sha256"
	"os"
)

// HashBytes returns the SHA-256 digest of data.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashFile returns the SHA-256 digest of the file at path's current
// content. HashFile(path) always equals HashBytes(contents(path))
// (spec.md §4.3 "Hashing").
func HashFile(path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, err
	}
	return HashBytes(data), nil
}

// HashCacheKey combines a source digest and a compiler/format-version
// digest into the single 32-byte cache key stored in a cache file.
func HashCacheKey(sourceHash, formatHash [32]byte) [32]byte {
	h := sha256.New()
	h.Write(sourceHash[:])
	h.Write(formatHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
