package vm

import "github.com/fluxlang/flux/values"

// Frame is a call activation: a closure reference, the instruction
// pointer into the closure's function, and a base pointer into the
// value stack where the frame's locals begin (spec.md §3.3).
//
// Unlike the teacher's CallFrame, this is not guarded by a mutex: the
// VM is single-threaded by design (spec.md §5), so a mutex here would
// only add overhead with nothing to protect against.
type Frame struct {
	Closure     *values.Closure
	IP          int
	BasePointer int
}

func newFrame(closure *values.Closure, basePointer int) *Frame {
	return &Frame{Closure: closure, BasePointer: basePointer}
}

func (f *Frame) instructions() []byte {
	return f.Closure.Function.Instructions
}
