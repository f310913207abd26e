// Package runtime defines the abstract capability surface ("runtime
// context") that builtins and any future JIT-emitted code use to reach
// the managed heap and the VM's call-dispatch path, without depending on
// the concrete VM type (spec.md §4.4).
package runtime

import (
	"github.com/fluxlang/flux/heap"
	"github.com/fluxlang/flux/values"
)

// RuntimeContext is implemented by the VM. It is the sole coupling point
// between the VM and the external builtin catalogue.
type RuntimeContext interface {
	// InvokeValue invokes any callable (builtin or closure) with the
	// given arguments, performing the same argument-count checking as a
	// Call opcode.
	InvokeValue(callee values.Value, args []values.Value) (values.Value, error)
	// GCHeap returns a read-only view of the managed heap, for
	// inspection/formatting builtins.
	GCHeap() *heap.Heap
	// GCHeapMut returns the managed heap for allocation or mutation.
	GCHeapMut() *heap.Heap
}

// BuiltinFunc is the ABI every catalogue entry implements (spec.md §6
// "Builtin ABI").
type BuiltinFunc func(ctx RuntimeContext, args []values.Value) (values.Value, error)

// Builtin names and describes one catalogue entry.
type Builtin struct {
	Name string
	Fn   BuiltinFunc
}
