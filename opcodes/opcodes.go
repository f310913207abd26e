// Package opcodes defines the Flux bytecode instruction set: the opcode
// byte values, how many operand bytes each one consumes, and the
// big-endian encode/decode helpers the VM and compiler share.
package opcodes

import "fmt"

// Opcode is a single bytecode instruction tag.
type Opcode byte

// Constants & literals.
const (
	OpConstant Opcode = iota // Constant(u16): push constants[idx]
	OpTrue                   // push Boolean(true)
	OpFalse                  // push Boolean(false)
	OpNull                   // push None (legacy literal name, see spec.md §9 open question)
	OpNone                   // push None

	// Arithmetic & comparison.
	OpAdd         // pop b, a; push a + b
	OpSub         // pop b, a; push a - b
	OpMul         // pop b, a; push a * b
	OpDiv         // pop b, a; push a / b
	OpEqual       // pop b, a; push a == b
	OpNotEqual    // pop b, a; push a != b
	OpGreaterThan // pop b, a; push a > b

	// Unary.
	OpBang  // pop a; push !truthy(a)
	OpMinus // pop a; push -a

	// Control flow.
	OpJump           // Jump(u16): unconditional jump
	OpJumpNotTruthy  // JumpNotTruthy(u16): pop a; jump if falsy

	// Globals.
	OpGetGlobal // GetGlobal(u16)
	OpSetGlobal // SetGlobal(u16)

	// Locals.
	OpGetLocal // GetLocal(u8)
	OpSetLocal // SetLocal(u8)

	// Closures.
	OpClosure        // Closure(u16 const_idx, u8 num_free)
	OpGetFree        // GetFree(u8)
	OpCurrentClosure // push the currently executing closure

	// Calls & returns.
	OpCall        // Call(u8 num_args)
	OpReturnValue // pop return value, restore sp, push it
	OpReturn      // restore sp, push None

	// Containers.
	OpArray // Array(u16 n): build from top n stack values
	OpHash  // Hash(u16 n): build a persistent map from n key/value pairs
	OpIndex // pop index, left; dispatch on left's type

	// Option & coercion.
	OpSome       // wrap top-of-stack in Some
	OpIsSome     // pop a; push Boolean(a is Some)
	OpUnwrapSome // pop Some(v); push v, or error
	OpToString   // pop a; push String(interpolate(a))

	// Builtins.
	OpGetBuiltin // GetBuiltin(u8): push a builtin handle by catalogue index

	// Primitive ops.
	OpPrimOp // PrimOp(u8 op_id, u8 arity): direct primitive call

	// Stack.
	OpPop // discard top of stack
)

var names = [...]string{
	OpConstant:       "OpConstant",
	OpTrue:           "OpTrue",
	OpFalse:          "OpFalse",
	OpNull:           "OpNull",
	OpNone:           "OpNone",
	OpAdd:            "OpAdd",
	OpSub:            "OpSub",
	OpMul:            "OpMul",
	OpDiv:            "OpDiv",
	OpEqual:          "OpEqual",
	OpNotEqual:       "OpNotEqual",
	OpGreaterThan:    "OpGreaterThan",
	OpBang:           "OpBang",
	OpMinus:          "OpMinus",
	OpJump:           "OpJump",
	OpJumpNotTruthy:  "OpJumpNotTruthy",
	OpGetGlobal:      "OpGetGlobal",
	OpSetGlobal:      "OpSetGlobal",
	OpGetLocal:       "OpGetLocal",
	OpSetLocal:       "OpSetLocal",
	OpClosure:        "OpClosure",
	OpGetFree:        "OpGetFree",
	OpCurrentClosure: "OpCurrentClosure",
	OpCall:           "OpCall",
	OpReturnValue:    "OpReturnValue",
	OpReturn:         "OpReturn",
	OpArray:          "OpArray",
	OpHash:           "OpHash",
	OpIndex:          "OpIndex",
	OpSome:           "OpSome",
	OpIsSome:         "OpIsSome",
	OpUnwrapSome:     "OpUnwrapSome",
	OpToString:       "OpToString",
	OpGetBuiltin:     "OpGetBuiltin",
	OpPrimOp:         "OpPrimOp",
	OpPop:            "OpPop",
}

func (op Opcode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return fmt.Sprintf("OpUnknown(%d)", byte(op))
}

// operandWidths maps each opcode to the byte width of each of its
// operands, in order. An opcode absent from the table (or mapped to an
// empty slice) takes no operands.
var operandWidths = map[Opcode][]int{
	OpConstant:      {2},
	OpJump:          {2},
	OpJumpNotTruthy: {2},
	OpGetGlobal:     {2},
	OpSetGlobal:     {2},
	OpGetLocal:      {1},
	OpSetLocal:      {1},
	OpClosure:       {2, 1},
	OpGetFree:       {1},
	OpCall:          {1},
	OpArray:         {2},
	OpHash:          {2},
	OpGetBuiltin:    {1},
	OpPrimOp:        {1, 1},
}

// OperandWidths returns the operand byte widths for op.
func OperandWidths(op Opcode) []int {
	return operandWidths[op]
}

// OperandCount returns the total number of operand bytes following op's
// opcode byte in the instruction stream.
func OperandCount(op Opcode) int {
	total := 0
	for _, w := range operandWidths[op] {
		total += w
	}
	return total
}

// IsKnown reports whether op is a recognized opcode. The VM uses this to
// surface "unknown opcode" per spec.md §7 rather than panicking on
// malformed bytecode.
func IsKnown(op Opcode) bool {
	return int(op) < len(names) && names[op] != ""
}
