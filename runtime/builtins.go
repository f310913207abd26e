package runtime

import (
	"fmt"
	"time"

	"github.com/fluxlang/flux/heap"
	"github.com/fluxlang/flux/values"
)

// Catalogue is the static builtin-function table. A Builtin opcode's
// operand is an index into this slice (spec.md §3.1 "Builtin(u8)").
var Catalogue = []Builtin{
	{Name: "len", Fn: builtinLen},
	{Name: "cons", Fn: builtinCons},
	{Name: "head", Fn: builtinHead},
	{Name: "tail", Fn: builtinTail},
	{Name: "map", Fn: builtinMap},
	{Name: "filter", Fn: builtinFilter},
	{Name: "fold", Fn: builtinFold},
	{Name: "time", Fn: builtinTime},
	{Name: "assert_throws", Fn: builtinAssertThrows},
}

// IndexOf returns the catalogue index of name, or false if unknown. Used
// by the (out-of-scope) compiler's name resolution and by tests that
// build OpGetBuiltin instructions directly.
func IndexOf(name string) (uint8, bool) {
	for i, b := range Catalogue {
		if b.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

func arityError(name string, want, got int) error {
	return fmt.Errorf("%s: expected %d argument(s), got %d", name, want, got)
}

func typeError(name, expected string, got values.Value) error {
	return fmt.Errorf("%s: expected %s, got %s", name, expected, got.Type)
}

func builtinLen(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, arityError("len", 1, len(args))
	}
	switch args[0].Type {
	case values.TypeString:
		return values.NewInteger(int64(len(args[0].AsString()))), nil
	case values.TypeArray:
		return values.NewInteger(int64(len(args[0].AsArray().Elements))), nil
	case values.TypeEmptyList:
		return values.NewInteger(0), nil
	case values.TypeGc:
		n, err := consListLen(ctx.GCHeap(), args[0])
		if err != nil {
			return values.Value{}, err
		}
		return values.NewInteger(int64(n)), nil
	default:
		return values.Value{}, typeError("len", "String, Array, or list", args[0])
	}
}

func consListLen(h *heap.Heap, v values.Value) (int, error) {
	n := 0
	for {
		if v.Type == values.TypeEmptyList {
			return n, nil
		}
		if v.Type != values.TypeGc {
			return 0, fmt.Errorf("len: improper list tail %s", v.Type)
		}
		cons, ok := h.Get(heap.Handle(v.AsGcHandle())).(heap.Cons)
		if !ok {
			return 0, fmt.Errorf("len: non-cons heap object")
		}
		n++
		v = cons.Tail
	}
}

func builtinCons(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 2 {
		return values.Value{}, arityError("cons", 2, len(args))
	}
	handle := ctx.GCHeapMut().Alloc(heap.Cons{Head: args[0], Tail: args[1]})
	return values.NewGc(uint32(handle)), nil
}

func builtinHead(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, arityError("head", 1, len(args))
	}
	cons, err := asCons(ctx.GCHeap(), args[0], "head")
	if err != nil {
		return values.Value{}, err
	}
	return cons.Head, nil
}

func builtinTail(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, arityError("tail", 1, len(args))
	}
	cons, err := asCons(ctx.GCHeap(), args[0], "tail")
	if err != nil {
		return values.Value{}, err
	}
	return cons.Tail, nil
}

func asCons(h *heap.Heap, v values.Value, name string) (heap.Cons, error) {
	if v.Type != values.TypeGc {
		return heap.Cons{}, typeError(name, "a cons cell", v)
	}
	cons, ok := h.Get(heap.Handle(v.AsGcHandle())).(heap.Cons)
	if !ok {
		return heap.Cons{}, typeError(name, "a cons cell", v)
	}
	return cons, nil
}

func builtinMap(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 2 {
		return values.Value{}, arityError("map", 2, len(args))
	}
	fn, list := args[0], args[1]
	var elems []values.Value
	err := walkConsList(ctx.GCHeap(), list, func(v values.Value) error {
		mapped, err := ctx.InvokeValue(fn, []values.Value{v})
		if err != nil {
			return err
		}
		elems = append(elems, mapped)
		return nil
	})
	if err != nil {
		return values.Value{}, err
	}
	return buildConsList(ctx.GCHeapMut(), elems), nil
}

func builtinFilter(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 2 {
		return values.Value{}, arityError("filter", 2, len(args))
	}
	fn, list := args[0], args[1]
	var elems []values.Value
	err := walkConsList(ctx.GCHeap(), list, func(v values.Value) error {
		keep, err := ctx.InvokeValue(fn, []values.Value{v})
		if err != nil {
			return err
		}
		if keep.IsTruthy() {
			elems = append(elems, v)
		}
		return nil
	})
	if err != nil {
		return values.Value{}, err
	}
	return buildConsList(ctx.GCHeapMut(), elems), nil
}

func builtinFold(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 3 {
		return values.Value{}, arityError("fold", 3, len(args))
	}
	fn, acc, list := args[0], args[1], args[2]
	err := walkConsList(ctx.GCHeap(), list, func(v values.Value) error {
		next, err := ctx.InvokeValue(fn, []values.Value{acc, v})
		if err != nil {
			return err
		}
		acc = next
		return nil
	})
	if err != nil {
		return values.Value{}, err
	}
	return acc, nil
}

func walkConsList(h *heap.Heap, v values.Value, fn func(values.Value) error) error {
	for {
		if v.Type == values.TypeEmptyList {
			return nil
		}
		cons, err := asCons(h, v, "list traversal")
		if err != nil {
			return err
		}
		if err := fn(cons.Head); err != nil {
			return err
		}
		v = cons.Tail
	}
}

func buildConsList(h *heap.Heap, elems []values.Value) values.Value {
	list := values.EmptyList()
	for i := len(elems) - 1; i >= 0; i-- {
		handle := h.Alloc(heap.Cons{Head: elems[i], Tail: list})
		list = values.NewGc(uint32(handle))
	}
	return list
}

func builtinTime(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 0 {
		return values.Value{}, arityError("time", 0, len(args))
	}
	return values.NewInteger(time.Now().UnixMilli()), nil
}

func builtinAssertThrows(ctx RuntimeContext, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, arityError("assert_throws", 1, len(args))
	}
	_, err := ctx.InvokeValue(args[0], nil)
	return values.NewBoolean(err != nil), nil
}
