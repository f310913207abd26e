package vm

import (
	"errors"
	"fmt"

	"github.com/fluxlang/flux/opcodes"
)

// Sentinel errors, one per failure taxonomy entry in spec.md §7. Callers
// use errors.Is against these rather than matching message text.
var (
	// Arity/type.
	ErrWrongArgCount     = errors.New("wrong number of arguments")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNotIndexable      = errors.New("value is not indexable")
	ErrUnhashableKey     = errors.New("value cannot be used as a map key")

	// Runtime domain.
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnwrapNone     = errors.New("unwrap of None")

	// VM integrity.
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrNotCallable    = errors.New("value is not callable")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrFrameOverflow  = errors.New("call stack depth exceeded")
)

// VMError wraps a sentinel error with a formatted message and, once Run
// has attached it, the list of active frames, so a frame-by-frame trace
// can be rendered without every call site building one by hand.
type VMError struct {
	Type   error
	Msg    string
	Frames []TraceFrame
}

// TraceFrame is one line of a formatted stack trace (spec.md §4.1 "Error
// & trace"): a function name plus its source location, if debug info
// was compiled in.
type TraceFrame struct {
	Name string
	File string
	Line int
	Col  int
	HasLoc bool
}

func (e *VMError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Type.Error()
}

func (e *VMError) Unwrap() error { return e.Type }

func (e *VMError) Is(target error) bool { return errors.Is(e.Type, target) }

// newError builds a VMError carrying a formatted message, without a
// trace — Run attaches the trace once the error propagates out of the
// dispatch loop.
func newError(base error, format string, args ...any) *VMError {
	return &VMError{Type: base, Msg: fmt.Sprintf(format, args...)}
}

func errUnknownOpcode(op opcodes.Opcode) *VMError {
	return newError(ErrUnknownOpcode, "unknown opcode %s", op)
}

// FormatTrace renders the error message followed by one "  at <name>
// (<file>:<line>:<col>)" line per frame, deepest first, matching
// spec.md §7 "User-visible behavior".
func (e *VMError) FormatTrace() string {
	out := e.Error()
	for _, f := range e.Frames {
		name := f.Name
		if name == "" {
			name = "<anonymous>"
		}
		if f.HasLoc {
			out += fmt.Sprintf("\n  at %s (%s:%d:%d)", name, f.File, f.Line, f.Col)
		} else {
			out += fmt.Sprintf("\n  at %s (<unknown location>)", name)
		}
	}
	return out
}
