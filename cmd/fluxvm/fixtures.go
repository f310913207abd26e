package main

import (
	"fmt"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/interner"
	"github.com/fluxlang/flux/opcodes"
	"github.com/fluxlang/flux/runtime"
	"github.com/fluxlang/flux/values"
)

// Flux's lexer and parser are out of scope for this runtime core, so
// the CLI has nothing to compile. These fixtures are hand-assembled
// *bytecode.Program values standing in for "a compiler's output",
// letting `run`/`repl` exercise the VM without a front end.

// fixtureFile is the one "source path" every fixture's debug locations
// point at. Every fixture is built through the names interner, which
// resolves fixtureFile once per program (or function), so all DebugLocs
// of one program share a single string.
const fixtureFile = "fixtures.flux"

var names = interner.New()

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func fixtureDebugLocs(n int) ([]int, []values.DebugLoc) {
	offsets := make([]int, n)
	locs := make([]values.DebugLoc, n)
	for i := 0; i < n; i++ {
		offsets[i] = i
		locs[i] = values.DebugLoc{File: fixtureFile, Line: i + 1, Column: 1}
	}
	return offsets, locs
}

// arithmeticFixture computes (1 + 2) * 3 and discards the result,
// leaving it as the VM's "last popped" value.
func arithmeticFixture() *bytecode.Program {
	ins := concat(
		opcodes.Make(opcodes.OpConstant, 0), // 1
		opcodes.Make(opcodes.OpConstant, 1), // 2
		opcodes.Make(opcodes.OpAdd),
		opcodes.Make(opcodes.OpConstant, 2), // 3
		opcodes.Make(opcodes.OpMul),
		opcodes.Make(opcodes.OpPop),
	)
	offsets, locs := fixtureDebugLocs(6)
	return bytecode.NewProgram(names, "arithmetic", ins, []values.Value{
		values.NewInteger(1),
		values.NewInteger(2),
		values.NewInteger(3),
	}, 0, offsets, locs)
}

// closureFixture defines a two-argument adder as a closure and calls
// it with 7 and 35.
func closureFixture() *bytecode.Program {
	adder := bytecode.InternFunction(names, &values.Function{
		Name:          "add",
		NumParameters: 2,
		NumLocals:     2,
		Instructions: concat(
			opcodes.Make(opcodes.OpGetLocal, 0),
			opcodes.Make(opcodes.OpGetLocal, 1),
			opcodes.Make(opcodes.OpAdd),
			opcodes.Make(opcodes.OpReturnValue),
		),
		DebugLocs: []values.DebugLoc{{File: fixtureFile, Line: 1, Column: 1}},
	})

	ins := concat(
		opcodes.Make(opcodes.OpClosure, 0, 0), // const 0 (adder), 0 free vars
		opcodes.Make(opcodes.OpConstant, 1),   // 7
		opcodes.Make(opcodes.OpConstant, 2),   // 35
		opcodes.Make(opcodes.OpCall, 2),
		opcodes.Make(opcodes.OpPop),
	)
	offsets, locs := fixtureDebugLocs(5)
	return bytecode.NewProgram(names, "closure", ins, []values.Value{
		values.NewFunction(adder),
		values.NewInteger(7),
		values.NewInteger(35),
	}, 0, offsets, locs)
}

// builtinLenFixture builds a 3-element array and calls the `len`
// builtin on it.
func builtinLenFixture() *bytecode.Program {
	idx, ok := runtime.IndexOf("len")
	if !ok {
		panic("fluxvm: builtin catalogue has no \"len\" entry")
	}

	ins := concat(
		opcodes.Make(opcodes.OpGetBuiltin, int(idx)),
		opcodes.Make(opcodes.OpConstant, 0),
		opcodes.Make(opcodes.OpConstant, 1),
		opcodes.Make(opcodes.OpConstant, 2),
		opcodes.Make(opcodes.OpArray, 3),
		opcodes.Make(opcodes.OpCall, 1),
		opcodes.Make(opcodes.OpPop),
	)
	offsets, locs := fixtureDebugLocs(7)
	return bytecode.NewProgram(names, "builtin_len", ins, []values.Value{
		values.NewInteger(10),
		values.NewInteger(20),
		values.NewInteger(30),
	}, 0, offsets, locs)
}

var fixtureNames = []string{"arithmetic", "closure", "builtin_len"}

func loadFixture(name string) (*bytecode.Program, error) {
	switch name {
	case "arithmetic":
		return arithmeticFixture(), nil
	case "closure":
		return closureFixture(), nil
	case "builtin_len":
		return builtinLenFixture(), nil
	default:
		return nil, fmt.Errorf("unknown fixture %q (known: %v)", name, fixtureNames)
	}
}
