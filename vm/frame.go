package vm

import (
	"github.com/dr8co/wisp/code"
	"github.com/dr8co/wisp/object"
)

// Frame is one activation of a closure on the call stack. Unlike a
// stack-addressed locals scheme, a Frame owns its locals directly: they are
// sized once at call time and never overlap with the operand stack, so
// Unpack/Swap/Copy juggling on the operand stack can never clobber a local.
type Frame struct {
	// cl is the closure being executed: its CompiledFunction supplies the
	// instruction stream, and its Free cells back LoadFree/StoreFree.
	cl *object.Closure

	// ip is the index of the instruction last fetched in this frame's
	// Instructions. The dispatch loop increments it before decoding, so it
	// starts at -1.
	ip int

	// locals holds this frame's local slots, pre-sized to cl.Fn.NumLocals
	// and Nil-filled. Call arguments are copied into the first NumParameters
	// slots; LoadFast/StoreFast index directly into this slice.
	locals []object.Object

	// basePointer records the operand-stack depth at the moment this frame
	// was pushed. It plays no part in addressing locals: execReturn uses it
	// to restore the operand stack when the frame returns. Exception
	// handlers do not use it; each records its own stack depth at
	// PushExcept time.
	basePointer int
}

// NewFrame creates a frame for cl, called with basePointer operand-stack
// depth. Locals are pre-sized to the function's local count; args (already
// truncated/padded by the caller) are copied into the leading slots.
func NewFrame(cl *object.Closure, basePointer int, args []object.Object) *Frame {
	locals := make([]object.Object, cl.Fn.NumLocals)
	for i := range locals {
		locals[i] = object.NilValue
	}
	copy(locals, args)
	return &Frame{cl: cl, ip: -1, locals: locals, basePointer: basePointer}
}

// Instructions returns the bytecode of the closure running in this frame.
func (f *Frame) Instructions() code.Instructions {
	return f.cl.Fn.Instructions
}
