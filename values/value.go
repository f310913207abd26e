// Package values defines the tagged runtime value union executed by the
// Flux virtual machine: unboxed primitives, reference-counted-by-the-Go-GC
// containers, and stable handles into the managed heap.
package values

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType identifies which variant of the Value union is populated.
type ValueType byte

const (
	// TypeUninit is the internal stack sentinel for slots that have not
	// yet been written. It must never be observable at language level.
	TypeUninit ValueType = iota
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeString
	TypeNone
	TypeEmptyList
	TypeSome
	TypeLeft
	TypeRight
	// TypeReturnValue is a VM-internal wrapper flagging a function return.
	// It must never escape to user-visible storage beyond one call.
	TypeReturnValue
	TypeFunction
	TypeClosure
	TypeBuiltin
	TypeArray
	// TypeGc is a stable handle into the managed heap (cons cells, HAMT
	// nodes). See package heap.
	TypeGc
)

var typeNames = [...]string{
	TypeUninit:      "Uninit",
	TypeInteger:     "Int",
	TypeFloat:       "Float",
	TypeBoolean:     "Bool",
	TypeString:      "String",
	TypeNone:        "None",
	TypeEmptyList:   "List",
	TypeSome:        "Some",
	TypeLeft:        "Left",
	TypeRight:       "Right",
	TypeReturnValue: "ReturnValue",
	TypeFunction:    "Function",
	TypeClosure:     "Closure",
	TypeBuiltin:     "Builtin",
	TypeArray:       "Array",
	TypeGc:          "Gc",
}

// String returns the canonical runtime type label used in diagnostics and
// builtins. These labels are user-visible and expected to remain stable.
func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Value is the runtime value manipulated by the VM stack, globals,
// constants, and closures. Data holds the variant's payload; see the
// New* constructors for what concrete type each ValueType carries.
type Value struct {
	Type ValueType
	Data any
}

// DebugLoc identifies a source position for a function's debug table.
type DebugLoc struct {
	File   string
	Line   int
	Column int
}

// Function is a compiled function descriptor: raw bytecode plus enough
// metadata for the VM to build call frames and error traces.
type Function struct {
	Instructions  []byte
	NumParameters int
	NumLocals     int
	Name          string // empty if anonymous
	// Debug maps an instruction offset to its source location. Index i
	// describes the instruction starting at byte offset DebugOffsets[i].
	DebugOffsets []int
	DebugLocs    []DebugLoc
}

// LocationAt returns the source location covering ip, if debug info was
// compiled in.
func (f *Function) LocationAt(ip int) (DebugLoc, bool) {
	if len(f.DebugOffsets) == 0 {
		return DebugLoc{}, false
	}
	// DebugOffsets is produced in increasing order by the compiler; find
	// the last offset <= ip.
	idx := -1
	for i, off := range f.DebugOffsets {
		if off > ip {
			break
		}
		idx = i
	}
	if idx < 0 {
		return DebugLoc{}, false
	}
	return f.DebugLocs[idx], true
}

// Closure binds a compiled Function to its captured free variables.
type Closure struct {
	Function *Function
	Free     []Value
}

// Array is the backing store for TypeArray. Mutation is copy-on-write:
// builtins that "mutate" an array allocate a new Elements slice rather
// than writing through a shared one.
type Array struct {
	Elements []Value
}

// Constructors. Each wraps its payload in the matching ValueType.

func Uninit() Value                 { return Value{Type: TypeUninit} }
func NewInteger(i int64) Value      { return Value{Type: TypeInteger, Data: i} }
func NewFloat(f float64) Value      { return Value{Type: TypeFloat, Data: f} }
func NewBoolean(b bool) Value       { return Value{Type: TypeBoolean, Data: b} }
func NewString(s string) Value      { return Value{Type: TypeString, Data: s} }
func None() Value                   { return Value{Type: TypeNone} }
func EmptyList() Value              { return Value{Type: TypeEmptyList} }
func NewSome(v Value) Value         { return Value{Type: TypeSome, Data: &v} }
func NewLeft(v Value) Value         { return Value{Type: TypeLeft, Data: &v} }
func NewRight(v Value) Value        { return Value{Type: TypeRight, Data: &v} }
func NewReturnValue(v Value) Value  { return Value{Type: TypeReturnValue, Data: &v} }
func NewFunction(f *Function) Value { return Value{Type: TypeFunction, Data: f} }
func NewClosure(c *Closure) Value   { return Value{Type: TypeClosure, Data: c} }
func NewBuiltin(idx uint8) Value    { return Value{Type: TypeBuiltin, Data: idx} }
func NewArray(elems []Value) Value  { return Value{Type: TypeArray, Data: &Array{Elements: elems}} }

// NewGc wraps a heap handle. The handle's numeric representation is kept
// abstract here (package heap owns Handle); callers pass it as a uint32.
func NewGc(handle uint32) Value { return Value{Type: TypeGc, Data: handle} }

// Inner returns the payload of a Some/Left/Right/ReturnValue wrapper.
// Panics if v is not one of those variants — callers must check Type first.
func (v Value) Inner() Value {
	switch v.Type {
	case TypeSome, TypeLeft, TypeRight, TypeReturnValue:
		return *(v.Data.(*Value))
	default:
		panic(fmt.Sprintf("values: Inner() called on non-wrapper variant %s", v.Type))
	}
}

// AsInteger panics if v is not TypeInteger.
func (v Value) AsInteger() int64 { return v.Data.(int64) }

// AsFloat panics if v is not TypeFloat.
func (v Value) AsFloat() float64 { return v.Data.(float64) }

// AsBoolean panics if v is not TypeBoolean.
func (v Value) AsBoolean() bool { return v.Data.(bool) }

// AsString panics if v is not TypeString.
func (v Value) AsString() string { return v.Data.(string) }

// AsBuiltin panics if v is not TypeBuiltin.
func (v Value) AsBuiltin() uint8 { return v.Data.(uint8) }

// AsArray panics if v is not TypeArray.
func (v Value) AsArray() *Array { return v.Data.(*Array) }

// AsClosure panics if v is not TypeClosure.
func (v Value) AsClosure() *Closure { return v.Data.(*Closure) }

// AsFunction panics if v is not TypeFunction.
func (v Value) AsFunction() *Function { return v.Data.(*Function) }

// AsGcHandle panics if v is not TypeGc.
func (v Value) AsGcHandle() uint32 { return v.Data.(uint32) }

// IsTruthy reports whether v is truthy under Flux semantics.
// Boolean(false), None, EmptyList, and Uninit are falsy; everything else
// is truthy.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case TypeBoolean:
		return v.AsBoolean()
	case TypeNone, TypeEmptyList, TypeUninit:
		return false
	default:
		return true
	}
}

// ToHashKey projects v onto a HashKey for use as a map key. Only Integer,
// Boolean, and String values are hashable; every other variant returns
// ok == false.
func (v Value) ToHashKey() (HashKey, bool) {
	switch v.Type {
	case TypeInteger:
		return HashKey{Kind: TypeInteger, Int: v.AsInteger()}, true
	case TypeBoolean:
		b := int64(0)
		if v.AsBoolean() {
			b = 1
		}
		return HashKey{Kind: TypeBoolean, Int: b}, true
	case TypeString:
		return HashKey{Kind: TypeString, Str: v.AsString()}, true
	default:
		return HashKey{}, false
	}
}

// String renders v for diagnostics/REPL echo (strings are quoted).
func (v Value) String() string {
	switch v.Type {
	case TypeUninit:
		return "<uninit>"
	case TypeInteger:
		return strconv.FormatInt(v.AsInteger(), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.AsBoolean())
	case TypeString:
		return strconv.Quote(v.AsString())
	case TypeNone:
		return "None"
	case TypeEmptyList:
		return "[]"
	case TypeSome:
		return "Some(" + v.Inner().String() + ")"
	case TypeLeft:
		return "Left(" + v.Inner().String() + ")"
	case TypeRight:
		return "Right(" + v.Inner().String() + ")"
	case TypeReturnValue:
		return v.Inner().String()
	case TypeFunction:
		return "<function>"
	case TypeClosure:
		return "<closure>"
	case TypeBuiltin:
		return "<builtin>"
	case TypeArray:
		elems := v.AsArray().Elements
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = e.String()
		}
		return "[|" + strings.Join(parts, ", ") + "|]"
	case TypeGc:
		return fmt.Sprintf("<gc@%d>", v.AsGcHandle())
	default:
		return "<invalid>"
	}
}

// Interpolate renders v the way string interpolation and the ToString
// opcode do: unlike String, strings are unquoted.
func (v Value) Interpolate() string {
	if v.Type == TypeString {
		return v.AsString()
	}
	if v.Type == TypeSome {
		return "Some(" + v.Inner().Interpolate() + ")"
	}
	if v.Type == TypeReturnValue {
		return v.Inner().Interpolate()
	}
	if v.Type == TypeArray {
		elems := v.AsArray().Elements
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = e.Interpolate()
		}
		return "[|" + strings.Join(parts, ", ") + "|]"
	}
	return v.String()
}

// Equal reports structural equality. Values of different Types are
// never equal, so EmptyList, None and a Gc handle all compare unequal
// to each other; the VM's Equal/NotEqual opcodes call Equal directly
// for non-numeric operands without normalizing these sentinels.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeUninit, TypeNone, TypeEmptyList:
		return true
	case TypeInteger:
		return v.AsInteger() == o.AsInteger()
	case TypeFloat:
		return v.AsFloat() == o.AsFloat()
	case TypeBoolean:
		return v.AsBoolean() == o.AsBoolean()
	case TypeString:
		return v.AsString() == o.AsString()
	case TypeSome, TypeLeft, TypeRight, TypeReturnValue:
		return v.Inner().Equal(o.Inner())
	case TypeBuiltin:
		return v.AsBuiltin() == o.AsBuiltin()
	case TypeArray:
		ea, eb := v.AsArray().Elements, o.AsArray().Elements
		if len(ea) != len(eb) {
			return false
		}
		for i := range ea {
			if !ea[i].Equal(eb[i]) {
				return false
			}
		}
		return true
	case TypeGc:
		return v.AsGcHandle() == o.AsGcHandle()
	case TypeFunction:
		return v.Data.(*Function) == o.Data.(*Function)
	case TypeClosure:
		return v.Data.(*Closure) == o.Data.(*Closure)
	default:
		return false
	}
}
