// Package vm implements the Flux bytecode virtual machine: opcode
// dispatch, the value stack, call frames, globals, and the bridge to
// the managed heap and builtin catalogue (spec.md §4.1).
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/fluxlang/flux/bytecode"
	"github.com/fluxlang/flux/heap"
	"github.com/fluxlang/flux/opcodes"
	"github.com/fluxlang/flux/primop"
	"github.com/fluxlang/flux/runtime"
	"github.com/fluxlang/flux/values"
)

// Fixed capacities (spec.md §3.3, §4.1).
const (
	StackSize   = 2048
	GlobalsSize = 65536
	MaxFrames   = 1024
)

// VM executes a compiled Program against a managed heap. The zero value
// is not usable; construct with New.
type VM struct {
	constants []values.Value
	globals   []values.Value

	stack [StackSize]values.Value
	sp    int

	frames     [MaxFrames]*Frame
	frameIndex int

	heap       *heap.Heap
	lastPopped values.Value

	builtins []runtime.Builtin

	trace  bool
	tracer io.Writer
}

// New constructs a VM over program: constants and globals are loaded,
// the stack is empty, and one root frame wraps program's top-level code
// as a zero-capture closure (spec.md §4.1 "Public contract").
func New(program *bytecode.Program) *VM {
	main := &values.Closure{Function: program.MainFunction()}

	vm := &VM{
		constants: program.Constants,
		globals:   make([]values.Value, GlobalsSize),
		heap:      heap.New(),
		builtins:  runtime.Catalogue,
		tracer:    os.Stderr,
	}
	for i := range vm.globals {
		vm.globals[i] = values.None()
	}
	vm.frames[0] = newFrame(main, 0)
	vm.sp = main.Function.NumLocals
	return vm
}

// SetTrace enables or disables per-instruction tracing to the VM's
// tracer (spec.md §6 "CLI" mentions a tracing flag as external, but the
// mechanism it drives lives here).
func (vm *VM) SetTrace(enabled bool) { vm.trace = enabled }

// SetTracer overrides where trace output is written. Defaults to stderr.
func (vm *VM) SetTracer(w io.Writer) { vm.tracer = w }

// Heap exposes the VM's managed heap, e.g. for cache/REPL diagnostics.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// LastPoppedStackElem returns the most recently popped stack value, used
// by tests and the REPL to observe an expression's result.
func (vm *VM) LastPoppedStackElem() values.Value { return vm.lastPopped }

func (vm *VM) currentFrame() *Frame { return vm.frames[vm.frameIndex] }

func (vm *VM) pushFrame(f *Frame) {
	vm.frameIndex++
	vm.frames[vm.frameIndex] = f
}

func (vm *VM) popFrame() *Frame {
	f := vm.frames[vm.frameIndex]
	vm.frames[vm.frameIndex] = nil
	vm.frameIndex--
	return f
}

func (vm *VM) push(v values.Value) error {
	if vm.sp >= StackSize {
		return newError(ErrStackOverflow, "stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() values.Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.lastPopped = v
	return v
}

func (vm *VM) popChecked() (values.Value, error) {
	if vm.sp == 0 {
		return values.Value{}, newError(ErrStackUnderflow, "stack underflow")
	}
	return vm.pop(), nil
}

// Run drives the dispatch loop until the root frame's instruction
// pointer reaches its end, or an opcode produces an error (spec.md
// §4.1 "Public contract").
func (vm *VM) Run() error {
	for {
		frame := vm.currentFrame()
		if frame.IP >= len(frame.instructions()) {
			if vm.frameIndex == 0 {
				return nil
			}
			if err := vm.implicitReturn(); err != nil {
				return vm.wrapError(err)
			}
			continue
		}
		if vm.trace {
			vm.traceInstruction(frame)
		}
		if err := vm.step(); err != nil {
			return vm.wrapError(err)
		}
	}
}

// implicitReturn handles a function whose instruction stream ends
// without an explicit Return/ReturnValue opcode: it behaves as if
// `Return` had been dispatched.
func (vm *VM) implicitReturn() error {
	popped := vm.popFrame()
	vm.sp = popped.BasePointer - 1
	return vm.push(values.None())
}

// step fetches, decodes, and executes exactly one instruction at the
// current frame's instruction pointer.
func (vm *VM) step() error {
	frame := vm.currentFrame()
	ins := frame.instructions()
	op := opcodes.Opcode(ins[frame.IP])

	switch op {
	case opcodes.OpConstant:
		idx := opcodes.ReadUint16(ins, frame.IP+1)
		frame.IP += 3
		return vm.push(vm.constants[idx])

	case opcodes.OpTrue:
		frame.IP++
		return vm.push(values.NewBoolean(true))
	case opcodes.OpFalse:
		frame.IP++
		return vm.push(values.NewBoolean(false))
	case opcodes.OpNull, opcodes.OpNone:
		frame.IP++
		return vm.push(values.None())

	case opcodes.OpAdd, opcodes.OpSub, opcodes.OpMul, opcodes.OpDiv:
		frame.IP++
		return vm.executeBinaryOp(op)
	case opcodes.OpEqual, opcodes.OpNotEqual, opcodes.OpGreaterThan:
		frame.IP++
		return vm.executeComparison(op)

	case opcodes.OpBang:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		return vm.push(values.NewBoolean(!v.IsTruthy()))
	case opcodes.OpMinus:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		switch v.Type {
		case values.TypeInteger:
			return vm.push(values.NewInteger(-v.AsInteger()))
		case values.TypeFloat:
			return vm.push(values.NewFloat(-v.AsFloat()))
		default:
			return newError(ErrTypeMismatch, "unary minus on %s", v.Type)
		}

	case opcodes.OpJump:
		pos := int(opcodes.ReadUint16(ins, frame.IP+1))
		frame.IP = pos
		return nil
	case opcodes.OpJumpNotTruthy:
		pos := int(opcodes.ReadUint16(ins, frame.IP+1))
		frame.IP += 3
		cond, err := vm.popChecked()
		if err != nil {
			return err
		}
		if !cond.IsTruthy() {
			frame.IP = pos
		}
		return nil

	case opcodes.OpGetGlobal:
		idx := opcodes.ReadUint16(ins, frame.IP+1)
		frame.IP += 3
		return vm.push(vm.globals[idx])
	case opcodes.OpSetGlobal:
		idx := opcodes.ReadUint16(ins, frame.IP+1)
		frame.IP += 3
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		vm.globals[idx] = v
		return nil

	case opcodes.OpGetLocal:
		idx := int(opcodes.ReadUint8(ins, frame.IP+1))
		frame.IP += 2
		return vm.push(vm.stack[frame.BasePointer+idx])
	case opcodes.OpSetLocal:
		idx := int(opcodes.ReadUint8(ins, frame.IP+1))
		frame.IP += 2
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		vm.stack[frame.BasePointer+idx] = v
		return nil

	case opcodes.OpClosure:
		constIdx := opcodes.ReadUint16(ins, frame.IP+1)
		numFree := int(opcodes.ReadUint8(ins, frame.IP+3))
		frame.IP += 4
		return vm.executeClosure(constIdx, numFree)
	case opcodes.OpGetFree:
		idx := int(opcodes.ReadUint8(ins, frame.IP+1))
		frame.IP += 2
		return vm.push(frame.Closure.Free[idx])
	case opcodes.OpCurrentClosure:
		frame.IP++
		return vm.push(values.NewClosure(frame.Closure))

	case opcodes.OpCall:
		numArgs := int(opcodes.ReadUint8(ins, frame.IP+1))
		frame.IP += 2
		return vm.executeCall(numArgs)
	case opcodes.OpReturnValue:
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		return vm.executeReturn(v)
	case opcodes.OpReturn:
		return vm.executeReturn(values.None())

	case opcodes.OpArray:
		n := int(opcodes.ReadUint16(ins, frame.IP+1))
		frame.IP += 3
		return vm.executeBuildArray(n)
	case opcodes.OpHash:
		n := int(opcodes.ReadUint16(ins, frame.IP+1))
		frame.IP += 3
		return vm.executeBuildHash(n)
	case opcodes.OpIndex:
		frame.IP++
		return vm.executeIndex()

	case opcodes.OpSome:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		return vm.push(values.NewSome(v))
	case opcodes.OpIsSome:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		return vm.push(values.NewBoolean(v.Type == values.TypeSome))
	case opcodes.OpUnwrapSome:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		if v.Type != values.TypeSome {
			return newError(ErrUnwrapNone, "unwrap of non-Some value %s", v.Type)
		}
		return vm.push(v.Inner())
	case opcodes.OpToString:
		frame.IP++
		v, err := vm.popChecked()
		if err != nil {
			return err
		}
		return vm.push(values.NewString(v.Interpolate()))

	case opcodes.OpGetBuiltin:
		idx := opcodes.ReadUint8(ins, frame.IP+1)
		frame.IP += 2
		if int(idx) >= len(vm.builtins) {
			return newError(ErrNotCallable, "unknown builtin index %d", idx)
		}
		return vm.push(values.NewBuiltin(idx))

	case opcodes.OpPrimOp:
		id := opcodes.ReadUint8(ins, frame.IP+1)
		arity := int(opcodes.ReadUint8(ins, frame.IP+2))
		frame.IP += 3
		return vm.executePrimOp(primop.ID(id), arity)

	case opcodes.OpPop:
		frame.IP++
		_, err := vm.popChecked()
		return err

	default:
		return errUnknownOpcode(op)
	}
}

func (vm *VM) executeBinaryOp(op opcodes.Opcode) error {
	b, err := vm.popChecked()
	if err != nil {
		return err
	}
	a, err := vm.popChecked()
	if err != nil {
		return err
	}

	if a.Type == values.TypeString && b.Type == values.TypeString {
		if op != opcodes.OpAdd {
			return newError(ErrTypeMismatch, "unsupported string operation %s", op)
		}
		return vm.push(values.NewString(a.AsString() + b.AsString()))
	}

	if !isNumeric(a) || !isNumeric(b) {
		return newError(ErrTypeMismatch, "%s on %s and %s", op, a.Type, b.Type)
	}
	if a.Type == values.TypeFloat || b.Type == values.TypeFloat {
		x, y := asFloat(a), asFloat(b)
		switch op {
		case opcodes.OpAdd:
			return vm.push(values.NewFloat(x + y))
		case opcodes.OpSub:
			return vm.push(values.NewFloat(x - y))
		case opcodes.OpMul:
			return vm.push(values.NewFloat(x * y))
		case opcodes.OpDiv:
			return vm.push(values.NewFloat(x / y))
		}
	}
	x, y := a.AsInteger(), b.AsInteger()
	switch op {
	case opcodes.OpAdd:
		return vm.push(values.NewInteger(x + y))
	case opcodes.OpSub:
		return vm.push(values.NewInteger(x - y))
	case opcodes.OpMul:
		return vm.push(values.NewInteger(x * y))
	case opcodes.OpDiv:
		if y == 0 {
			return newError(ErrDivisionByZero, "division by zero")
		}
		return vm.push(values.NewInteger(x / y))
	}
	return errUnknownOpcode(op)
}

func isNumeric(v values.Value) bool {
	return v.Type == values.TypeInteger || v.Type == values.TypeFloat
}

func asFloat(v values.Value) float64 {
	if v.Type == values.TypeFloat {
		return v.AsFloat()
	}
	return float64(v.AsInteger())
}

func (vm *VM) executeComparison(op opcodes.Opcode) error {
	b, err := vm.popChecked()
	if err != nil {
		return err
	}
	a, err := vm.popChecked()
	if err != nil {
		return err
	}

	switch op {
	case opcodes.OpEqual:
		return vm.push(values.NewBoolean(valuesEqual(a, b)))
	case opcodes.OpNotEqual:
		return vm.push(values.NewBoolean(!valuesEqual(a, b)))
	case opcodes.OpGreaterThan:
		gt, err := greaterThan(a, b)
		if err != nil {
			return err
		}
		return vm.push(values.NewBoolean(gt))
	}
	return errUnknownOpcode(op)
}

func valuesEqual(a, b values.Value) bool {
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) == asFloat(b)
	}
	return a.Equal(b)
}

func greaterThan(a, b values.Value) (bool, error) {
	switch {
	case isNumeric(a) && isNumeric(b):
		return asFloat(a) > asFloat(b), nil
	case a.Type == values.TypeString && b.Type == values.TypeString:
		return a.AsString() > b.AsString(), nil
	default:
		return false, newError(ErrTypeMismatch, "comparison between %s and %s", a.Type, b.Type)
	}
}

func (vm *VM) executeClosure(constIdx uint16, numFree int) error {
	constant := vm.constants[constIdx]
	if constant.Type != values.TypeFunction {
		return newError(ErrTypeMismatch, "Closure operand %d is not a Function", constIdx)
	}
	free := make([]values.Value, numFree)
	base := vm.sp - numFree
	copy(free, vm.stack[base:vm.sp])
	vm.sp = base

	closure := &values.Closure{Function: constant.AsFunction(), Free: free}
	return vm.push(values.NewClosure(closure))
}

// executeCall dispatches Call(n): see spec.md §4.1 "Call dispatch".
func (vm *VM) executeCall(numArgs int) error {
	calleeIdx := vm.sp - 1 - numArgs
	if calleeIdx < 0 {
		return newError(ErrStackUnderflow, "stack underflow computing call target")
	}
	callee := vm.stack[calleeIdx]

	switch callee.Type {
	case values.TypeClosure:
		closure := callee.AsClosure()
		if numArgs != closure.Function.NumParameters {
			return newError(ErrWrongArgCount, "%s: expected %d argument(s), got %d",
				displayName(closure.Function.Name), closure.Function.NumParameters, numArgs)
		}
		if vm.frameIndex+1 >= MaxFrames {
			return newError(ErrFrameOverflow, "call stack depth exceeded")
		}
		frame := newFrame(closure, vm.sp-numArgs)
		vm.pushFrame(frame)
		vm.sp = frame.BasePointer + closure.Function.NumLocals
		return nil

	case values.TypeBuiltin:
		idx := callee.AsBuiltin()
		if int(idx) >= len(vm.builtins) {
			return newError(ErrNotCallable, "unknown builtin index %d", idx)
		}
		args := make([]values.Value, numArgs)
		copy(args, vm.stack[vm.sp-numArgs:vm.sp])
		vm.sp = calleeIdx
		result, err := vm.builtins[idx].Fn(vm, args)
		if err != nil {
			return err
		}
		if err := vm.push(result); err != nil {
			return err
		}
		vm.maybeCollect()
		return nil

	default:
		return newError(ErrNotCallable, "attempted to call a %s value", callee.Type)
	}
}

func displayName(name string) string {
	if name == "" {
		return "<anonymous>"
	}
	return name
}

// executeReturn implements ReturnValue/Return: restore sp to the base
// pointer minus the callee slot, pop the frame, push the result.
func (vm *VM) executeReturn(result values.Value) error {
	frame := vm.popFrame()
	vm.sp = frame.BasePointer - 1
	return vm.push(result)
}

func (vm *VM) executeBuildArray(n int) error {
	if vm.sp < n {
		return newError(ErrStackUnderflow, "stack underflow building array")
	}
	elems := make([]values.Value, n)
	copy(elems, vm.stack[vm.sp-n:vm.sp])
	vm.sp -= n
	return vm.push(values.NewArray(elems))
}

func (vm *VM) executeBuildHash(n int) error {
	if vm.sp < n*2 {
		return newError(ErrStackUnderflow, "stack underflow building hash")
	}
	start := vm.sp - n*2
	root := heap.HamtEmpty(vm.heap)
	for i := start; i < vm.sp; i += 2 {
		key, value := vm.stack[i], vm.stack[i+1]
		hashKey, ok := key.ToHashKey()
		if !ok {
			return newError(ErrUnhashableKey, "value of type %s cannot be used as a map key", key.Type)
		}
		root = heap.HamtInsert(vm.heap, root, hashKey, value)
	}
	vm.sp = start
	if err := vm.push(values.NewGc(uint32(root))); err != nil {
		return err
	}
	vm.maybeCollect()
	return nil
}

func (vm *VM) executeIndex() error {
	index, err := vm.popChecked()
	if err != nil {
		return err
	}
	left, err := vm.popChecked()
	if err != nil {
		return err
	}

	switch left.Type {
	case values.TypeArray:
		if index.Type != values.TypeInteger {
			return newError(ErrTypeMismatch, "array index must be an Integer, got %s", index.Type)
		}
		elems := left.AsArray().Elements
		i := index.AsInteger()
		if i < 0 || int(i) >= len(elems) {
			return vm.push(values.None())
		}
		return vm.push(values.NewSome(elems[i]))

	case values.TypeGc:
		handle := heap.Handle(left.AsGcHandle())
		if !heap.IsHamt(vm.heap, handle) {
			return newError(ErrNotIndexable, "value is not indexable")
		}
		key, ok := index.ToHashKey()
		if !ok {
			return newError(ErrUnhashableKey, "value of type %s cannot be used as a map key", index.Type)
		}
		v, found := heap.HamtLookup(vm.heap, handle, key)
		if !found {
			return vm.push(values.None())
		}
		return vm.push(values.NewSome(v))

	default:
		return newError(ErrNotIndexable, "value of type %s is not indexable", left.Type)
	}
}

func (vm *VM) executePrimOp(id primop.ID, arity int) error {
	if vm.sp < arity {
		return newError(ErrStackUnderflow, "stack underflow in primop")
	}
	args := make([]values.Value, arity)
	copy(args, vm.stack[vm.sp-arity:vm.sp])
	vm.sp -= arity
	result, err := primop.Call(id, arity, args)
	if err != nil {
		return newError(ErrTypeMismatch, "%v", err)
	}
	return vm.push(result)
}

// maybeCollect checks the heap's adaptive threshold and runs a
// collection if due (spec.md §4.2 "Trigger policy").
func (vm *VM) maybeCollect() {
	if !vm.heap.ShouldCollect() {
		return
	}
	vm.heap.Collect(vm.roots())
}

func (vm *VM) roots() heap.Roots {
	closures := make([]*values.Closure, 0, vm.frameIndex+1)
	for i := 0; i <= vm.frameIndex; i++ {
		if f := vm.frames[i]; f != nil {
			closures = append(closures, f.Closure)
		}
	}
	return heap.Roots{
		Stack:         vm.stack[:vm.sp],
		Globals:       vm.globals,
		Constants:     vm.constants,
		LastPopped:    vm.lastPopped,
		FrameClosures: closures,
	}
}

// InvokeValue implements runtime.RuntimeContext: it lets builtins like
// map/filter/fold call back into a Flux closure or another builtin
// (spec.md §4.4).
func (vm *VM) InvokeValue(callee values.Value, args []values.Value) (values.Value, error) {
	switch callee.Type {
	case values.TypeBuiltin:
		idx := callee.AsBuiltin()
		if int(idx) >= len(vm.builtins) {
			return values.Value{}, newError(ErrNotCallable, "unknown builtin index %d", idx)
		}
		return vm.builtins[idx].Fn(vm, args)
	case values.TypeClosure:
		return vm.callClosureSync(callee.AsClosure(), args)
	default:
		return values.Value{}, newError(ErrNotCallable, "value of type %s is not callable", callee.Type)
	}
}

// GCHeap implements runtime.RuntimeContext.
func (vm *VM) GCHeap() *heap.Heap { return vm.heap }

// GCHeapMut implements runtime.RuntimeContext.
func (vm *VM) GCHeapMut() *heap.Heap { return vm.heap }

// callClosureSync runs closure(args) to completion on the VM's own
// stack and frame array, re-entering the step loop until control
// returns to the caller's depth. Used by InvokeValue, i.e. by builtins
// calling back into Flux code.
func (vm *VM) callClosureSync(closure *values.Closure, args []values.Value) (values.Value, error) {
	if len(args) != closure.Function.NumParameters {
		return values.Value{}, newError(ErrWrongArgCount, "%s: expected %d argument(s), got %d",
			displayName(closure.Function.Name), closure.Function.NumParameters, len(args))
	}
	if vm.frameIndex+1 >= MaxFrames {
		return values.Value{}, newError(ErrFrameOverflow, "call stack depth exceeded")
	}

	// Occupy a callee slot below the arguments, as a Call opcode would,
	// so executeReturn's sp = BasePointer-1 lands back on the caller's sp.
	if err := vm.push(values.NewClosure(closure)); err != nil {
		return values.Value{}, err
	}
	base := vm.sp
	for _, a := range args {
		if err := vm.push(a); err != nil {
			return values.Value{}, err
		}
	}
	targetDepth := vm.frameIndex
	frame := newFrame(closure, base)
	vm.pushFrame(frame)
	vm.sp = base + closure.Function.NumLocals

	for vm.frameIndex > targetDepth {
		f := vm.currentFrame()
		if f.IP >= len(f.instructions()) {
			if err := vm.implicitReturn(); err != nil {
				return values.Value{}, err
			}
			continue
		}
		if err := vm.step(); err != nil {
			return values.Value{}, err
		}
	}
	return vm.pop(), nil
}

// wrapError attaches a frame-by-frame trace to err, deepest frame first
// (spec.md §4.1 "Error & trace").
func (vm *VM) wrapError(err error) error {
	vmErr, ok := err.(*VMError)
	if !ok {
		vmErr = newError(err, "%s", err.Error())
	}
	if vmErr.Frames != nil {
		return vmErr
	}
	frames := make([]TraceFrame, 0, vm.frameIndex+1)
	for i := vm.frameIndex; i >= 0; i-- {
		f := vm.frames[i]
		if f == nil {
			continue
		}
		tf := TraceFrame{Name: f.Closure.Function.Name}
		if loc, ok := f.Closure.Function.LocationAt(f.IP); ok {
			tf.File, tf.Line, tf.Col, tf.HasLoc = loc.File, loc.Line, loc.Column, true
		}
		frames = append(frames, tf)
	}
	vmErr.Frames = frames
	return vmErr
}

func (vm *VM) traceInstruction(frame *Frame) {
	ins := frame.instructions()
	op := opcodes.Opcode(ins[frame.IP])
	operands, _ := opcodes.ReadOperands(op, ins[frame.IP+1:])
	fmt.Fprintf(vm.tracer, "[frame %d ip %04d sp %d] %s %v\n", vm.frameIndex, frame.IP, vm.sp, op, operands)
}
