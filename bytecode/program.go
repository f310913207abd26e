// Package bytecode defines Program, the compiled-bytecode artifact that
// sits between the (out of scope) compiler front-end and the VM/cache.
// spec.md §6 describes it only as opaque payload; this package gives it
// the concrete shape the VM, cache, and debug-trace formatting need.
package bytecode

import (
	"github.com/fluxlang/flux/interner"
	"github.com/fluxlang/flux/values"
)

// Program is the unit of compilation the cache persists and the VM
// executes: the top-level ("main") instruction stream, the constant
// pool, and optional debug info for error traces.
type Program struct {
	Instructions []byte
	Constants    []values.Value
	NumLocals    int // local slots reserved for the top-level frame

	Name         string
	DebugOffsets []int
	DebugLocs    []values.DebugLoc
}

// NewProgram builds a Program whose Name and every DebugLoc's File are
// canonicalized through in first. A compiled unit's debug table
// typically has one file path repeated across every instruction offset;
// interning collapses all of those repeats to one backing string
// instead of one allocation per entry.
func NewProgram(in *interner.Interner, name string, instructions []byte, constants []values.Value, numLocals int, debugOffsets []int, debugLocs []values.DebugLoc) *Program {
	return &Program{
		Instructions: instructions,
		Constants:    constants,
		NumLocals:    numLocals,
		Name:         internString(in, name),
		DebugOffsets: debugOffsets,
		DebugLocs:    internDebugLocs(in, debugLocs),
	}
}

// InternFunction runs fn's Name and DebugLocs through in, the same
// canonicalization NewProgram applies to a top-level Program. Use it for
// Function literals built directly as closure constants, which don't go
// through NewProgram.
func InternFunction(in *interner.Interner, fn *values.Function) *values.Function {
	fn.Name = internString(in, fn.Name)
	fn.DebugLocs = internDebugLocs(in, fn.DebugLocs)
	return fn
}

func internString(in *interner.Interner, s string) string {
	return in.Resolve(in.Intern(s))
}

func internDebugLocs(in *interner.Interner, locs []values.DebugLoc) []values.DebugLoc {
	if len(locs) == 0 {
		return locs
	}
	// Resolve each distinct symbol once, so repeated paths share the
	// same string rather than each getting a fresh copy from Resolve.
	resolved := make(map[interner.Symbol]string)
	out := make([]values.DebugLoc, len(locs))
	for i, loc := range locs {
		sym := in.Intern(loc.File)
		s, ok := resolved[sym]
		if !ok {
			s = in.Resolve(sym)
			resolved[sym] = s
		}
		loc.File = s
		out[i] = loc
	}
	return out
}

// MainFunction wraps the program's top-level instructions as a
// zero-parameter Function, matching how the VM treats "main" as an
// ordinary closure with no captures (spec.md §4.1 "Public contract").
func (p *Program) MainFunction() *values.Function {
	return &values.Function{
		Instructions:  p.Instructions,
		NumParameters: 0,
		NumLocals:     p.NumLocals,
		Name:          p.Name,
		DebugOffsets:  p.DebugOffsets,
		DebugLocs:     p.DebugLocs,
	}
}
