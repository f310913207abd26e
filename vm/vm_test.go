package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/opcodes"
	"github.com/fluxlang/flux/runtime"
	"github.com/fluxlang/flux/values"
)

// concat joins instruction chunks into one stream, the way a real
// compiler's emit buffer would.
func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func runProgram(t *testing.T, program *bytecode.Program) *VM {
	t.Helper()
	machine := New(program)
	err := machine.Run()
	require.NoError(t, err)
	return machine
}

// TestIntegerArithmetic covers spec scenario 1: `1 + 2;` -> Integer(3).
func TestIntegerArithmetic(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(1), values.NewInteger(2)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpAdd),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(3), machine.LastPoppedStackElem().AsInteger())
}

func TestFloatArithmeticPromotion(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(1), values.NewFloat(2.5)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpAdd),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, 3.5, machine.LastPoppedStackElem().AsFloat())
}

func TestStringConcatenation(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewString("foo"), values.NewString("bar")},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpAdd),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, "foobar", machine.LastPoppedStackElem().AsString())
}

func TestDivisionByZero(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(1), values.NewInteger(0)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpDiv),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := New(program)
	err := machine.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestBooleanAndComparison(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(1), values.NewInteger(2)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpGreaterThan),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.False(t, machine.LastPoppedStackElem().AsBoolean())
}

func TestConditionalJump(t *testing.T) {
	// if false { 10 } else { 20 }
	consequence := opcodes.Make(opcodes.OpConstant, 0) // 10
	alt := opcodes.Make(opcodes.OpConstant, 1)         // 20

	falsePush := opcodes.Make(opcodes.OpFalse)
	jntPlaceholder := opcodes.Make(opcodes.OpJumpNotTruthy, 0)
	jmpPlaceholder := opcodes.Make(opcodes.OpJump, 0)

	consequenceStart := len(falsePush) + len(jntPlaceholder)
	altStart := consequenceStart + len(consequence) + len(jmpPlaceholder)
	after := altStart + len(alt)

	jnt := opcodes.Make(opcodes.OpJumpNotTruthy, altStart)
	jmp := opcodes.Make(opcodes.OpJump, after)

	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(10), values.NewInteger(20)},
		Instructions: concat(
			falsePush,
			jnt,
			consequence,
			jmp,
			alt,
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(20), machine.LastPoppedStackElem().AsInteger())
}

func TestGlobalVariables(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(5), values.NewInteger(10)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpSetGlobal, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpSetGlobal, 1),
			opcodes.Make(opcodes.OpGetGlobal, 0),
			opcodes.Make(opcodes.OpGetGlobal, 1),
			opcodes.Make(opcodes.OpAdd),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(15), machine.LastPoppedStackElem().AsInteger())
}

// TestFunctionCall covers spec scenario 2:
// `let f = fun() { 5 + 10; }; f();` -> Integer(15).
func TestFunctionCall(t *testing.T) {
	fnInstructions := concat(
		opcodes.Make(opcodes.OpConstant, 0), // 5
		opcodes.Make(opcodes.OpConstant, 1), // 10
		opcodes.Make(opcodes.OpAdd),
		opcodes.Make(opcodes.OpReturnValue),
	)
	fn := &values.Function{Instructions: fnInstructions, NumParameters: 0, NumLocals: 0, Name: "f"}

	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(5), values.NewInteger(10), values.NewFunction(fn)},
		Instructions: concat(
			opcodes.Make(opcodes.OpClosure, 2, 0),
			opcodes.Make(opcodes.OpCall, 0),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(15), machine.LastPoppedStackElem().AsInteger())
}

// TestClosures covers spec scenario 3: a closure capturing a free
// variable from its enclosing function call.
func TestClosures(t *testing.T) {
	innerInstructions := concat(
		opcodes.Make(opcodes.OpGetFree, 0),
		opcodes.Make(opcodes.OpReturnValue),
	)
	inner := &values.Function{Instructions: innerInstructions, NumParameters: 0, NumLocals: 0}

	outerInstructions := concat(
		opcodes.Make(opcodes.OpGetLocal, 0),
		opcodes.Make(opcodes.OpClosure, 0, 1),
		opcodes.Make(opcodes.OpReturnValue),
	)
	outer := &values.Function{Instructions: outerInstructions, NumParameters: 1, NumLocals: 1, Name: "newClosure"}

	program := &bytecode.Program{
		Constants: []values.Value{values.NewFunction(inner), values.NewFunction(outer), values.NewInteger(99)},
		Instructions: concat(
			opcodes.Make(opcodes.OpClosure, 1, 0), // push newClosure
			opcodes.Make(opcodes.OpSetGlobal, 0),
			opcodes.Make(opcodes.OpGetGlobal, 0),
			opcodes.Make(opcodes.OpConstant, 2), // 99
			opcodes.Make(opcodes.OpCall, 1),
			opcodes.Make(opcodes.OpSetGlobal, 1), // c
			opcodes.Make(opcodes.OpGetGlobal, 1),
			opcodes.Make(opcodes.OpCall, 0),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(99), machine.LastPoppedStackElem().AsInteger())
}

// TestRecursiveFibonacci covers spec scenario 4: fib(10) -> Integer(55).
// fib recurses by reading its own closure back out of global slot 0,
// which is already bound by the time any call happens.
func TestRecursiveFibonacci(t *testing.T) {
	two := opcodes.Make(opcodes.OpConstant, 0)
	one := opcodes.Make(opcodes.OpConstant, 1)

	recurseBlock := concat(
		opcodes.Make(opcodes.OpGetGlobal, 0), // fib
		opcodes.Make(opcodes.OpGetLocal, 0),  // n
		one,                                  // 1
		opcodes.Make(opcodes.OpSub),
		opcodes.Make(opcodes.OpCall, 1),
		opcodes.Make(opcodes.OpGetGlobal, 0), // fib
		opcodes.Make(opcodes.OpGetLocal, 0),  // n
		two,                                  // 2
		opcodes.Make(opcodes.OpSub),
		opcodes.Make(opcodes.OpCall, 1),
		opcodes.Make(opcodes.OpAdd),
		opcodes.Make(opcodes.OpReturnValue),
	)

	baseBlock := concat(
		opcodes.Make(opcodes.OpGetLocal, 0),
		opcodes.Make(opcodes.OpReturnValue),
	)

	condition := concat(
		two,
		opcodes.Make(opcodes.OpGetLocal, 0),
		opcodes.Make(opcodes.OpGreaterThan), // 2 > n, i.e. n < 2
	)
	jnt := opcodes.Make(opcodes.OpJumpNotTruthy, len(condition)+len(opcodes.Make(opcodes.OpJumpNotTruthy, 0))+len(baseBlock))

	fibInstructions := concat(condition, jnt, baseBlock, recurseBlock)
	fib := &values.Function{Instructions: fibInstructions, NumParameters: 1, NumLocals: 1, Name: "fib"}

	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(2), values.NewInteger(1), values.NewFunction(fib), values.NewInteger(10)},
		Instructions: concat(
			opcodes.Make(opcodes.OpClosure, 2, 0),
			opcodes.Make(opcodes.OpSetGlobal, 0),
			opcodes.Make(opcodes.OpGetGlobal, 0),
			opcodes.Make(opcodes.OpConstant, 3), // 10
			opcodes.Make(opcodes.OpCall, 1),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(55), machine.LastPoppedStackElem().AsInteger())
}

// TestArrayIndex covers spec scenario 5.
func TestArrayIndex(t *testing.T) {
	build := func(idx int64) *bytecode.Program {
		return &bytecode.Program{
			Constants: []values.Value{values.NewInteger(1), values.NewInteger(2), values.NewInteger(3), values.NewInteger(idx)},
			Instructions: concat(
				opcodes.Make(opcodes.OpConstant, 0),
				opcodes.Make(opcodes.OpConstant, 1),
				opcodes.Make(opcodes.OpConstant, 2),
				opcodes.Make(opcodes.OpArray, 3),
				opcodes.Make(opcodes.OpConstant, 3),
				opcodes.Make(opcodes.OpIndex),
				opcodes.Make(opcodes.OpPop),
			),
		}
	}

	inBounds := runProgram(t, build(1))
	result := inBounds.LastPoppedStackElem()
	require.Equal(t, values.TypeSome, result.Type)
	assert.Equal(t, int64(2), result.Inner().AsInteger())

	outOfBounds := runProgram(t, build(9))
	assert.Equal(t, values.TypeNone, outOfBounds.LastPoppedStackElem().Type)
}

// TestHashIndex covers spec scenario 6.
func TestHashIndex(t *testing.T) {
	build := func(lookupKey string) *bytecode.Program {
		return &bytecode.Program{
			Constants: []values.Value{values.NewString("a"), values.NewInteger(1), values.NewString(lookupKey)},
			Instructions: concat(
				opcodes.Make(opcodes.OpConstant, 0), // "a"
				opcodes.Make(opcodes.OpConstant, 1), // 1
				opcodes.Make(opcodes.OpHash, 1),
				opcodes.Make(opcodes.OpConstant, 2), // lookup key
				opcodes.Make(opcodes.OpIndex),
				opcodes.Make(opcodes.OpPop),
			),
		}
	}

	hit := runProgram(t, build("a"))
	result := hit.LastPoppedStackElem()
	require.Equal(t, values.TypeSome, result.Type)
	assert.Equal(t, int64(1), result.Inner().AsInteger())

	miss := runProgram(t, build("b"))
	assert.Equal(t, values.TypeNone, miss.LastPoppedStackElem().Type)
}

// TestStackDisciplineAfterCall covers invariant 4: after a call returns
// cleanly, sp accounts for exactly the return value replacing the
// callee slot and its arguments.
func TestStackDisciplineAfterCall(t *testing.T) {
	fnInstructions := concat(
		opcodes.Make(opcodes.OpGetLocal, 0),
		opcodes.Make(opcodes.OpReturnValue),
	)
	fn := &values.Function{Instructions: fnInstructions, NumParameters: 1, NumLocals: 1}

	program := &bytecode.Program{
		Constants: []values.Value{values.NewFunction(fn), values.NewInteger(7)},
		Instructions: concat(
			opcodes.Make(opcodes.OpClosure, 0, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpCall, 1),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := New(program)
	require.NoError(t, machine.Run())
	assert.Equal(t, 0, machine.sp)
	assert.Equal(t, int64(7), machine.LastPoppedStackElem().AsInteger())
}

func TestBuiltinLenOnArray(t *testing.T) {
	idx, ok := runtime.IndexOf("len")
	require.True(t, ok)

	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(1), values.NewInteger(2)},
		Instructions: concat(
			opcodes.Make(opcodes.OpGetBuiltin, int(idx)),
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpConstant, 1),
			opcodes.Make(opcodes.OpArray, 2),
			opcodes.Make(opcodes.OpCall, 1),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := runProgram(t, program)
	assert.Equal(t, int64(2), machine.LastPoppedStackElem().AsInteger())
}

func TestWrongArgCountError(t *testing.T) {
	fn := &values.Function{Instructions: opcodes.Make(opcodes.OpReturn), NumParameters: 2, NumLocals: 2}
	program := &bytecode.Program{
		Constants: []values.Value{values.NewFunction(fn)},
		Instructions: concat(
			opcodes.Make(opcodes.OpClosure, 0, 0),
			opcodes.Make(opcodes.OpCall, 0),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := New(program)
	err := machine.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongArgCount)
}

func TestCallingNonCallableFails(t *testing.T) {
	program := &bytecode.Program{
		Constants: []values.Value{values.NewInteger(5)},
		Instructions: concat(
			opcodes.Make(opcodes.OpConstant, 0),
			opcodes.Make(opcodes.OpCall, 0),
			opcodes.Make(opcodes.OpPop),
		),
	}
	machine := New(program)
	err := machine.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotCallable)
}
