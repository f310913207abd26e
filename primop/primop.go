// Package primop implements the small, fixed table of primitive
// operations backing the VM's PrimOp opcode: direct typed operations
// that skip the generic arithmetic dispatch path (spec.md §4.1
// "Primitive ops").
package primop

import (
	"fmt"

	"github.com/fluxlang/flux/values"
)

// ID identifies a primitive operation.
type ID uint8

const (
	IntAdd ID = iota
	IntSub
	IntMul
	IntDiv
	IntEq
	IntLt
	IntGt
	IntNeg
	FloatAdd
	FloatSub
	FloatMul
	FloatDiv
)

type fn func(args []values.Value) (values.Value, error)

var table = map[ID]struct {
	arity int
	call  fn
}{
	IntAdd:   {2, func(a []values.Value) (values.Value, error) { return values.NewInteger(a[0].AsInteger() + a[1].AsInteger()), nil }},
	IntSub:   {2, func(a []values.Value) (values.Value, error) { return values.NewInteger(a[0].AsInteger() - a[1].AsInteger()), nil }},
	IntMul:   {2, func(a []values.Value) (values.Value, error) { return values.NewInteger(a[0].AsInteger() * a[1].AsInteger()), nil }},
	IntDiv:   {2, intDiv},
	IntEq:    {2, func(a []values.Value) (values.Value, error) { return values.NewBoolean(a[0].AsInteger() == a[1].AsInteger()), nil }},
	IntLt:    {2, func(a []values.Value) (values.Value, error) { return values.NewBoolean(a[0].AsInteger() < a[1].AsInteger()), nil }},
	IntGt:    {2, func(a []values.Value) (values.Value, error) { return values.NewBoolean(a[0].AsInteger() > a[1].AsInteger()), nil }},
	IntNeg:   {1, func(a []values.Value) (values.Value, error) { return values.NewInteger(-a[0].AsInteger()), nil }},
	FloatAdd: {2, func(a []values.Value) (values.Value, error) { return values.NewFloat(a[0].AsFloat() + a[1].AsFloat()), nil }},
	FloatSub: {2, func(a []values.Value) (values.Value, error) { return values.NewFloat(a[0].AsFloat() - a[1].AsFloat()), nil }},
	FloatMul: {2, func(a []values.Value) (values.Value, error) { return values.NewFloat(a[0].AsFloat() * a[1].AsFloat()), nil }},
	FloatDiv: {2, floatDiv},
}

func intDiv(a []values.Value) (values.Value, error) {
	divisor := a[1].AsInteger()
	if divisor == 0 {
		return values.Value{}, fmt.Errorf("division by zero")
	}
	return values.NewInteger(a[0].AsInteger() / divisor), nil
}

func floatDiv(a []values.Value) (values.Value, error) {
	return values.NewFloat(a[0].AsFloat() / a[1].AsFloat()), nil
}

// Call runs primitive id over args, checking that arity matches the
// operand-declared arity the caller passed in.
func Call(id ID, arity int, args []values.Value) (values.Value, error) {
	entry, ok := table[id]
	if !ok {
		return values.Value{}, fmt.Errorf("primop: unknown primitive id %d", id)
	}
	if entry.arity != arity || len(args) != arity {
		return values.Value{}, fmt.Errorf("primop: id %d expects arity %d, got %d (args %d)", id, entry.arity, arity, len(args))
	}
	return entry.call(args)
}
