package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/values"
)

// Dependency is one entry of the cache file's dependency table: a
// source path and the content hash it had when the artifact was
// written (spec.md §4.3 "File format").
type Dependency struct {
	Path string
	Hash [32]byte
}

// DependencyStatus is one entry of ReadDepsWithStatus's diagnostic
// report: whether a dependency's on-disk content still matches what
// was recorded at write time.
type DependencyStatus struct {
	Path       string
	StoredHash [32]byte
	StillValid bool
}

// ValidationResult is the outcome of ReadDepsAndValidate.
type ValidationResult struct {
	Program *bytecode.Program
	Stale   []string // paths whose content hash no longer matches
}

func (r ValidationResult) Valid() bool { return r.Program != nil && len(r.Stale) == 0 }

// WriteProgram serializes program to w in the on-disk format described
// in spec.md §4.3: magic, version, cache key, dependency table, body.
func WriteProgram(w io.Writer, cacheKey [32]byte, deps []Dependency, program *bytecode.Program) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return err
	}
	if err := writeU16(w, FormatVersion); err != nil {
		return err
	}
	if err := writeFixed(w, cacheKey[:], CacheKeySize); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(deps))); err != nil {
		return err
	}
	for _, d := range deps {
		if err := writeString(w, d.Path); err != nil {
			return err
		}
		if err := writeFixed(w, d.Hash[:], ContentHashSize); err != nil {
			return err
		}
	}
	return encodeProgram(w, program)
}

// ValidateMagic reads and checks the 4-byte magic prefix.
func ValidateMagic(r io.Reader) error {
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("cache: reading magic: %w", err)
	}
	if string(buf) != Magic {
		return fmt.Errorf("cache: bad magic %q, expected %q", buf, Magic)
	}
	return nil
}

// ValidateFormatVersion reads the u16 format version and checks it
// against expected.
func ValidateFormatVersion(r io.Reader, expected uint16) error {
	version, err := readU16(r)
	if err != nil {
		return fmt.Errorf("cache: reading format version: %w", err)
	}
	if version != expected {
		return fmt.Errorf("cache: format version %d, expected %d", version, expected)
	}
	return nil
}

// ValidateCacheKey reads the 32-byte cache key and compares it to
// expected.
func ValidateCacheKey(r io.Reader, expected [32]byte) error {
	got, err := readFixed(r, CacheKeySize)
	if err != nil {
		return fmt.Errorf("cache: reading cache key: %w", err)
	}
	if !bytes.Equal(got, expected[:]) {
		return fmt.Errorf("cache: cache key mismatch")
	}
	return nil
}

func readDependencyTable(r io.Reader) ([]Dependency, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("cache: reading dependency count: %w", err)
	}
	deps := make([]Dependency, count)
	for i := range deps {
		path, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("cache: reading dependency %d path: %w", i, err)
		}
		hash, err := readFixed(r, ContentHashSize)
		if err != nil {
			return nil, fmt.Errorf("cache: reading dependency %d hash: %w", i, err)
		}
		deps[i] = Dependency{Path: path}
		copy(deps[i].Hash[:], hash)
	}
	return deps, nil
}

// HashDependency is injected so tests and callers can substitute a
// fake filesystem; production callers pass HashFile.
type HashDependency func(path string) ([32]byte, error)

// ReadDepsAndValidate runs the full validation protocol of spec.md
// §4.3: magic, version, cache key, then every dependency's current
// on-disk hash against its stored hash. If every dependency still
// matches, the body is deserialized; otherwise the stale set is
// reported and Program is left nil (fail-fast: the first structural
// mismatch — magic/version/key — aborts immediately without reading
// further).
func ReadDepsAndValidate(r io.Reader, expectedVersion uint16, expectedKey [32]byte, hashDep HashDependency) (ValidationResult, error) {
	if err := ValidateMagic(r); err != nil {
		return ValidationResult{}, err
	}
	if err := ValidateFormatVersion(r, expectedVersion); err != nil {
		return ValidationResult{}, err
	}
	if err := ValidateCacheKey(r, expectedKey); err != nil {
		return ValidationResult{}, err
	}
	deps, err := readDependencyTable(r)
	if err != nil {
		return ValidationResult{}, err
	}

	var stale []string
	for _, d := range deps {
		current, err := hashDep(d.Path)
		if err != nil || current != d.Hash {
			stale = append(stale, d.Path)
		}
	}
	if len(stale) > 0 {
		return ValidationResult{Stale: stale}, nil
	}

	program, err := decodeProgram(r)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("cache: decoding body: %w", err)
	}
	return ValidationResult{Program: program}, nil
}

// ReadDepsWithStatus mirrors ReadDepsAndValidate's dependency pass but
// never short-circuits: it reports every dependency's status so a
// diagnostics caller (e.g. `cache inspect`) can show the full picture
// rather than just the first mismatch (spec.md §4.3 "A companion
// read_deps_with_status...").
func ReadDepsWithStatus(r io.Reader, expectedVersion uint16, expectedKey [32]byte, hashDep HashDependency) ([]DependencyStatus, error) {
	if err := ValidateMagic(r); err != nil {
		return nil, err
	}
	if err := ValidateFormatVersion(r, expectedVersion); err != nil {
		return nil, err
	}
	if err := ValidateCacheKey(r, expectedKey); err != nil {
		return nil, err
	}
	deps, err := readDependencyTable(r)
	if err != nil {
		return nil, err
	}

	statuses := make([]DependencyStatus, len(deps))
	for i, d := range deps {
		current, err := hashDep(d.Path)
		statuses[i] = DependencyStatus{Path: d.Path, StoredHash: d.Hash, StillValid: err == nil && current == d.Hash}
	}
	return statuses, nil
}

// value tags for the serialized constants pool. Only the variants a
// compiled Program can actually hold as a constant are persistable;
// VM-internal sentinels (Uninit, ReturnValue) and live-handle variants
// (Closure, Gc) can never appear there.
const (
	tagInteger byte = iota
	tagFloat
	tagBoolean
	tagString
	tagNone
	tagEmptyList
	tagArray
	tagFunction
)

func encodeValue(w io.Writer, v values.Value) error {
	switch v.Type {
	case values.TypeInteger:
		if _, err := w.Write([]byte{tagInteger}); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.AsInteger())
	case values.TypeFloat:
		if _, err := w.Write([]byte{tagFloat}); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, v.AsFloat())
	case values.TypeBoolean:
		b := byte(0)
		if v.AsBoolean() {
			b = 1
		}
		_, err := w.Write([]byte{tagBoolean, b})
		return err
	case values.TypeString:
		if _, err := w.Write([]byte{tagString}); err != nil {
			return err
		}
		return writeString(w, v.AsString())
	case values.TypeNone:
		_, err := w.Write([]byte{tagNone})
		return err
	case values.TypeEmptyList:
		_, err := w.Write([]byte{tagEmptyList})
		return err
	case values.TypeArray:
		if _, err := w.Write([]byte{tagArray}); err != nil {
			return err
		}
		elems := v.AsArray().Elements
		if err := writeU32(w, uint32(len(elems))); err != nil {
			return err
		}
		for _, e := range elems {
			if err := encodeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	case values.TypeFunction:
		if _, err := w.Write([]byte{tagFunction}); err != nil {
			return err
		}
		return encodeFunction(w, v.AsFunction())
	default:
		return fmt.Errorf("cache: value of type %s is not persistable", v.Type)
	}
}

func decodeValue(r io.Reader) (values.Value, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return values.Value{}, err
	}
	switch tagBuf[0] {
	case tagInteger:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return values.Value{}, err
		}
		return values.NewInteger(i), nil
	case tagFloat:
		var f float64
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return values.Value{}, err
		}
		return values.NewFloat(f), nil
	case tagBoolean:
		b, err := readFixed(r, 1)
		if err != nil {
			return values.Value{}, err
		}
		return values.NewBoolean(b[0] != 0), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return values.Value{}, err
		}
		return values.NewString(s), nil
	case tagNone:
		return values.None(), nil
	case tagEmptyList:
		return values.EmptyList(), nil
	case tagArray:
		n, err := readU32(r)
		if err != nil {
			return values.Value{}, err
		}
		elems := make([]values.Value, n)
		for i := range elems {
			v, err := decodeValue(r)
			if err != nil {
				return values.Value{}, err
			}
			elems[i] = v
		}
		return values.NewArray(elems), nil
	case tagFunction:
		fn, err := decodeFunction(r)
		if err != nil {
			return values.Value{}, err
		}
		return values.NewFunction(fn), nil
	default:
		return values.Value{}, fmt.Errorf("cache: unknown value tag %d", tagBuf[0])
	}
}

func encodeFunction(w io.Writer, fn *values.Function) error {
	if err := writeBytes(w, fn.Instructions); err != nil {
		return err
	}
	if err := writeU32(w, uint32(fn.NumParameters)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(fn.NumLocals)); err != nil {
		return err
	}
	if err := writeString(w, fn.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(fn.DebugOffsets))); err != nil {
		return err
	}
	for i, off := range fn.DebugOffsets {
		if err := writeU32(w, uint32(off)); err != nil {
			return err
		}
		loc := fn.DebugLocs[i]
		if err := writeString(w, loc.File); err != nil {
			return err
		}
		if err := writeU32(w, uint32(loc.Line)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(loc.Column)); err != nil {
			return err
		}
	}
	return nil
}

func decodeFunction(r io.Reader) (*values.Function, error) {
	ins, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	numParams, err := readU32(r)
	if err != nil {
		return nil, err
	}
	numLocals, err := readU32(r)
	if err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	offsets := make([]int, n)
	locs := make([]values.DebugLoc, n)
	for i := range offsets {
		off, err := readU32(r)
		if err != nil {
			return nil, err
		}
		file, err := readString(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		col, err := readU32(r)
		if err != nil {
			return nil, err
		}
		offsets[i] = int(off)
		locs[i] = values.DebugLoc{File: file, Line: int(line), Column: int(col)}
	}
	return &values.Function{
		Instructions:  ins,
		NumParameters: int(numParams),
		NumLocals:     int(numLocals),
		Name:          name,
		DebugOffsets:  offsets,
		DebugLocs:     locs,
	}, nil
}

func encodeProgram(w io.Writer, p *bytecode.Program) error {
	if err := writeBytes(w, p.Instructions); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := encodeValue(w, c); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(p.NumLocals)); err != nil {
		return err
	}
	if err := writeString(w, p.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(p.DebugOffsets))); err != nil {
		return err
	}
	for i, off := range p.DebugOffsets {
		if err := writeU32(w, uint32(off)); err != nil {
			return err
		}
		loc := p.DebugLocs[i]
		if err := writeString(w, loc.File); err != nil {
			return err
		}
		if err := writeU32(w, uint32(loc.Line)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(loc.Column)); err != nil {
			return err
		}
	}
	return nil
}

func decodeProgram(r io.Reader) (*bytecode.Program, error) {
	ins, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	numConsts, err := readU32(r)
	if err != nil {
		return nil, err
	}
	constants := make([]values.Value, numConsts)
	for i := range constants {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		constants[i] = v
	}
	numLocals, err := readU32(r)
	if err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	offsets := make([]int, n)
	locs := make([]values.DebugLoc, n)
	for i := range offsets {
		off, err := readU32(r)
		if err != nil {
			return nil, err
		}
		file, err := readString(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		col, err := readU32(r)
		if err != nil {
			return nil, err
		}
		offsets[i] = int(off)
		locs[i] = values.DebugLoc{File: file, Line: int(line), Column: int(col)}
	}
	return &bytecode.Program{
		Instructions: ins,
		Constants:    constants,
		NumLocals:    int(numLocals),
		Name:         name,
		DebugOffsets: offsets,
		DebugLocs:    locs,
	}, nil
}
