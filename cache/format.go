// Package cache implements the disk-persistent bytecode cache: a file
// format keyed by a content hash of source-plus-inputs, validated
// against per-dependency content hashes before a cached Program is
// trusted (spec.md §4.3).
package cache

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic and the current on-disk format version (spec.md §6 "Cache file
// (on disk)": both are part of the compatibility surface).
const (
	Magic           = "FXBC"
	FormatVersion   = uint16(1)
	CacheKeySize    = 32
	ContentHashSize = 32
)

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeString encodes a UTF-8 string as a u32 big-endian length
// followed by its bytes (spec.md §4.3 "Strings are encoded as...").
func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeFixed(w io.Writer, b []byte, size int) error {
	if len(b) != size {
		return fmt.Errorf("cache: expected %d-byte field, got %d", size, len(b))
	}
	_, err := w.Write(b)
	return err
}

func readFixed(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
