package opcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeAndReadOperands(t *testing.T) {
	cases := []struct {
		name     string
		op       Opcode
		operands []int
		widths   int
	}{
		{"constant", OpConstant, []int{65534}, 2},
		{"get local", OpGetLocal, []int{255}, 1},
		{"closure", OpClosure, []int{65535, 255}, 3},
		{"no operands", OpAdd, []int{}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ins := Make(tc.op, tc.operands...)
			assert.Equal(t, Opcode(ins[0]), tc.op)
			assert.Equal(t, tc.widths+1, len(ins))

			operands, n := ReadOperands(tc.op, ins[1:])
			assert.Equal(t, tc.widths, n)
			assert.Equal(t, tc.operands, operands)
		})
	}
}

func TestDisassemble(t *testing.T) {
	ins := concat(
		Make(OpConstant, 1),
		Make(OpConstant, 2),
		Make(OpAdd),
		Make(OpPop),
	)
	out := Disassemble(ins)
	assert.Contains(t, out, "0000 OpConstant 1")
	assert.Contains(t, out, "0003 OpConstant 2")
	assert.Contains(t, out, "0006 OpAdd")
	assert.Contains(t, out, "0007 OpPop")
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(OpAdd))
	assert.False(t, IsKnown(Opcode(250)))
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
