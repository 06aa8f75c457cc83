// Package vm executes compiled wisp bytecode.
//
// The VM is a register-free, operand-stack machine: every opcode's inputs
// come off the top of a single stack and its result (if any) goes back on
// top. Each call frame owns its own locals array (see [Frame]) rather than
// addressing locals through the operand stack, so container-building
// opcodes like Unpack, Swap, and Copy can never disturb a local variable's
// storage.
//
// Internal runtime failures - a type mismatch, division by zero, an
// out-of-range index - are not reported as a bare Go error that unwinds the
// whole run. They are raised through the same handler-stack mechanism as an
// explicit throw, so a surrounding try/catch can observe and recover from
// them. Only a handful of conditions (stack or call-frame exhaustion) are
// fatal and always abort the run; see [Error].
package vm

import (
	"fmt"
	"math"

	"github.com/dr8co/wisp/code"
	"github.com/dr8co/wisp/compiler"
	"github.com/dr8co/wisp/object"
)

const (
	// StackSize is the maximum depth of the operand stack, shared by every
	// frame.
	StackSize = 2048

	// GlobalsSize is the fixed size of the globals array. The compiler
	// never reports how many globals a program defines, so the VM just
	// allocates a generous, REPL-friendly upper bound once.
	GlobalsSize = 1 << 16

	// MaxFrames bounds call depth (including recursion).
	MaxFrames = 1024
)

// Error is a failure that escaped every handler on the stack - either an
// uncaught throw, or a fatal condition like frame/stack exhaustion that
// never goes through the handler mechanism at all.
type Error struct {
	Message string
	Pos     object.Position
	HasPos  bool
}

func (e *Error) Error() string {
	if e.HasPos {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Message)
	}
	return e.Message
}

// handler is one entry of the VM's exception-handler stack, pushed by
// PushExcept and popped by PopExcept. The offsets are absolute instruction
// slots within the frame that pushed it.
type handler struct {
	frameIndex    int
	stackDepth    int
	catchOffset   int
	finallyOffset int
}

// VM runs one compiled program to completion.
type VM struct {
	constants []object.Object
	globals   []object.Object

	stack []object.Object
	sp    int // stack[sp-1] is the top of the stack; stack[sp] is the next free slot.

	frames      []*Frame
	framesIndex int

	handlers []handler

	// pending holds an error raised while unwinding to a finally clause
	// with no catch of its own. EndFinally re-raises it once the finally
	// block finishes, unless the block itself threw or returned first.
	pending object.Object

	// pendingSaves is a stack of pending values shadowed by nested
	// try/finally statements. PushExcept pushes the current pending value
	// here and clears it whenever the try it's guarding has a finally, so a
	// finally nested inside another finally's body never sees or re-raises
	// an outer, still in-flight pending error. The matching EndFinally pops
	// and restores it once its own finally completes without a pending
	// error of its own.
	pendingSaves []object.Object

	// lastPos is the source position of the most recent internal runtime
	// error, attached to the terminal [Error] if it escapes every handler.
	lastPos     object.Position
	haveLastPos bool
}

// New creates a VM for bytecode with a fresh globals array.
func New(bytecode *compiler.Bytecode) *VM {
	return NewWithGlobalsStore(bytecode, make([]object.Object, GlobalsSize))
}

// NewWithGlobalsStore creates a VM that shares globals with a previous run,
// for a REPL that must see bindings made on earlier lines.
func NewWithGlobalsStore(bytecode *compiler.Bytecode, globals []object.Object) *VM {
	mainFn := &object.CompiledFunction{Name: "<module>", Instructions: bytecode.Instructions}
	mainClosure := &object.Closure{Fn: mainFn}
	mainFrame := NewFrame(mainClosure, 0, nil)

	frames := make([]*Frame, MaxFrames)
	frames[0] = mainFrame

	machine := &VM{
		constants:   bytecode.Constants,
		globals:     globals,
		stack:       make([]object.Object, StackSize),
		frames:      frames,
		framesIndex: 1,
	}
	object.SetCallable(machine.CallValue)
	return machine
}

func (vm *VM) currentFrame() *Frame {
	return vm.frames[vm.framesIndex-1]
}

func (vm *VM) pushFrame(f *Frame) {
	vm.frames[vm.framesIndex] = f
	vm.framesIndex++
}

func (vm *VM) popFrame() *Frame {
	vm.framesIndex--
	return vm.frames[vm.framesIndex]
}

// LastPoppedStackItem returns the program's result: the value on top of the
// operand stack once Run returns. The compiler leaves the final top-level
// expression statement's value there (or Nil when the program does not end
// in one). It returns Nil if the stack is empty.
func (vm *VM) LastPoppedStackItem() object.Object {
	if vm.sp == 0 {
		return object.NilValue
	}
	return vm.stack[vm.sp-1]
}

func (vm *VM) push(obj object.Object) error {
	if vm.sp >= StackSize {
		return vm.fatal("stack overflow")
	}
	vm.stack[vm.sp] = obj
	vm.sp++
	return nil
}

func (vm *VM) pop() object.Object {
	obj := vm.stack[vm.sp-1]
	vm.sp--
	return obj
}

// Run executes the program from its first instruction to its last, or until
// an unrecovered error or explicit throw aborts it.
func (vm *VM) Run() error {
	return vm.run(0)
}

// run executes frames until the frame stack depth drops to stopDepth, or
// (when stopDepth is 0) the outermost frame's instructions are exhausted.
// CallValue uses a non-zero stopDepth to drive a single nested call to
// completion and no further.
func (vm *VM) run(stopDepth int) error {
	for {
		frame := vm.currentFrame()
		ins := frame.Instructions()

		if frame.ip >= len(ins)-1 {
			if vm.framesIndex == stopDepth+1 {
				return nil
			}
			return vm.fatal("instruction stream exhausted without return")
		}

		frame.ip++
		op := code.Opcode(ins[frame.ip])

		if err := vm.execute(op, frame, ins); err != nil {
			return err
		}

		if vm.framesIndex <= stopDepth {
			return nil
		}
	}
}

func (vm *VM) operand(ins code.Instructions, frame *Frame, n int) int {
	return int(ins[frame.ip+1+n])
}

//nolint:gocyclo // one opcode per case mirrors the instruction set directly.
func (vm *VM) execute(op code.Opcode, frame *Frame, ins code.Instructions) error {
	switch op {
	case code.Nop:
		// no-op

	case code.Halt:
		frame.ip = len(ins) - 1

	case code.LoadConst:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		c := vm.constants[idx]
		if fn, ok := c.(*object.CompiledFunction); ok {
			return vm.push(&object.Closure{Fn: fn})
		}
		return vm.push(c)

	case code.LoadFast:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		if cell, ok := frame.locals[idx].(*object.Cell); ok {
			return vm.push(cell.Value)
		}
		return vm.push(frame.locals[idx])

	case code.StoreFast:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		if cell, ok := frame.locals[idx].(*object.Cell); ok {
			cell.Value = vm.stack[vm.sp-1]
		} else {
			frame.locals[idx] = vm.stack[vm.sp-1]
		}

	case code.LoadGlobal:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		v := vm.globals[idx]
		if v == nil {
			v = object.NilValue
		}
		return vm.push(v)

	case code.StoreGlobal:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		vm.globals[idx] = vm.stack[vm.sp-1]

	case code.LoadFree:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.push(frame.cl.Free[idx].Value)

	case code.StoreFree:
		idx := vm.operand(ins, frame, 0)
		frame.ip += 1
		frame.cl.Free[idx].Value = vm.stack[vm.sp-1]

	case code.LoadAttr:
		name, _ := vm.constants[vm.operand(ins, frame, 0)].(*object.String)
		frame.ip += 1
		return vm.execLoadAttr(name.Value, false)

	case code.LoadAttrOrNil:
		name, _ := vm.constants[vm.operand(ins, frame, 0)].(*object.String)
		frame.ip += 1
		return vm.execLoadAttr(name.Value, true)

	case code.StoreAttr:
		name, _ := vm.constants[vm.operand(ins, frame, 0)].(*object.String)
		frame.ip += 1
		return vm.execStoreAttr(name.Value)

	case code.BinaryOp:
		kind := code.BinOp(vm.operand(ins, frame, 0))
		frame.ip += 1
		return vm.execBinaryOp(kind)

	case code.CompareOp:
		kind := code.CmpOp(vm.operand(ins, frame, 0))
		frame.ip += 1
		return vm.execCompareOp(kind)

	case code.UnaryNegative:
		return vm.execUnaryNegative()

	case code.UnaryNot:
		v := vm.pop()
		return vm.push(object.NativeBool(!object.Truthy(v)))

	case code.BuildList:
		n := vm.operand(ins, frame, 0)
		frame.ip += 1
		elems := make([]object.Object, n)
		copy(elems, vm.stack[vm.sp-n:vm.sp])
		vm.sp -= n
		return vm.push(&object.List{Elements: elems})

	case code.BuildMap:
		n := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.execBuildMap(n)

	case code.BuildString:
		n := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.execBuildString(n)

	case code.ListAppend:
		frame.ip += 1 // operand always 0; unused
		v := vm.pop()
		l, ok := vm.stack[vm.sp-1].(*object.List)
		if !ok {
			return vm.raise(frame, "cannot append to a non-list")
		}
		l.Elements = append(l.Elements, v)

	case code.ListExtend:
		frame.ip += 1
		v := vm.pop()
		other, ok := v.(*object.List)
		if !ok {
			return vm.raise(frame, "cannot spread a non-list into a list literal")
		}
		l, ok := vm.stack[vm.sp-1].(*object.List)
		if !ok {
			return vm.raise(frame, "cannot append to a non-list")
		}
		l.Elements = append(l.Elements, other.Elements...)

	case code.MapMerge:
		frame.ip += 1
		return vm.execMapMerge()

	case code.MapSet:
		frame.ip += 1
		return vm.execMapSet()

	case code.BinarySubscr:
		return vm.execBinarySubscr(frame)

	case code.StoreSubscr:
		return vm.execStoreSubscr(frame)

	case code.ContainsOp:
		frame.ip += 1 // operand always 0; unused
		return vm.execContainsOp(frame)

	case code.Length:
		return vm.execLength(frame)

	case code.Slice:
		return vm.execSlice(frame)

	case code.Unpack:
		n := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.execUnpack(frame, n)

	case code.Swap:
		depth := vm.operand(ins, frame, 0)
		frame.ip += 1
		vm.stack[vm.sp-1], vm.stack[vm.sp-1-depth] = vm.stack[vm.sp-1-depth], vm.stack[vm.sp-1]

	case code.Copy:
		depth := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.push(vm.stack[vm.sp-1-depth])

	case code.PopTop:
		vm.pop()

	case code.NilConst:
		return vm.push(object.NilValue)

	case code.False:
		return vm.push(object.FalseValue)

	case code.True:
		return vm.push(object.TrueValue)

	case code.JumpForward:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after + offset - 1

	case code.JumpBackward:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after - offset - 1

	case code.PopJumpForwardIfFalse:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after - 1
		if !object.Truthy(vm.pop()) {
			frame.ip = after + offset - 1
		}

	case code.PopJumpForwardIfTrue:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after - 1
		if object.Truthy(vm.pop()) {
			frame.ip = after + offset - 1
		}

	case code.PopJumpForwardIfNil:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after - 1
		if _, isNil := vm.pop().(*object.Nil); isNil {
			frame.ip = after + offset - 1
		}

	case code.PopJumpForwardIfNotNil:
		offset := vm.operand(ins, frame, 0)
		after := frame.ip + 1 + 1
		frame.ip = after - 1
		if v := vm.pop(); !isNil(v) {
			if err := vm.push(v); err != nil {
				return err
			}
			frame.ip = after + offset - 1
		}

	case code.Call:
		numArgs := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.execCall(numArgs)

	case code.CallSpread:
		numArgs := vm.operand(ins, frame, 0)
		frame.ip += 1
		return vm.execCallSpread(numArgs)

	case code.ReturnValue:
		return vm.execReturn()

	case code.LoadClosure:
		constIdx := vm.operand(ins, frame, 0)
		numFree := vm.operand(ins, frame, 1)
		frame.ip += 2
		return vm.execLoadClosure(constIdx, numFree)

	case code.MakeCell:
		idx := vm.operand(ins, frame, 0)
		depth := vm.operand(ins, frame, 1)
		frame.ip += 2
		return vm.execMakeCell(frame, idx, depth)

	case code.PushExcept:
		catchOffset := vm.operand(ins, frame, 0)
		finallyOffset := vm.operand(ins, frame, 1)
		frame.ip += 2
		if finallyOffset != code.NoHandler {
			vm.pendingSaves = append(vm.pendingSaves, vm.pending)
			vm.pending = nil
		}
		vm.handlers = append(vm.handlers, handler{
			frameIndex:    vm.framesIndex,
			stackDepth:    vm.sp,
			catchOffset:   catchOffset,
			finallyOffset: finallyOffset,
		})

	case code.PopExcept:
		if len(vm.handlers) > 0 {
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		}

	case code.Throw:
		v := vm.pop()
		errObj, ok := v.(*object.Error)
		if !ok {
			errObj = &object.Error{Message: v.Inspect()}
		}
		if frame.ip >= 0 && frame.ip < len(frame.cl.Fn.Locations) {
			vm.lastPos = frame.cl.Fn.Locations[frame.ip]
			vm.haveLastPos = true
		} else {
			vm.haveLastPos = false
		}
		return vm.raiseObject(errObj)

	case code.EndFinally:
		var saved object.Object
		if n := len(vm.pendingSaves); n > 0 {
			saved = vm.pendingSaves[n-1]
			vm.pendingSaves = vm.pendingSaves[:n-1]
		}
		if vm.pending != nil {
			errObj := vm.pending
			vm.pending = nil
			return vm.raiseObject(errObj)
		}
		vm.pending = saved

	default:
		return vm.fatal(fmt.Sprintf("unknown opcode %d", op))
	}
	return nil
}

func isNil(obj object.Object) bool {
	_, ok := obj.(*object.Nil)
	return ok
}

// fatal builds a terminal, unrecoverable VM error: it bypasses the
// handler stack entirely, since conditions like stack/frame exhaustion are
// never catchable.
func (vm *VM) fatal(msg string) error {
	return &Error{Message: msg}
}

// raise reports msg as a runtime error at frame's current instruction,
// routing it through the handler stack exactly like an explicit throw. The
// frame's source position is remembered so it can be attached to the
// terminal error if nothing catches it.
func (vm *VM) raise(frame *Frame, msg string) error {
	if frame.ip >= 0 && frame.ip < len(frame.cl.Fn.Locations) {
		vm.lastPos = frame.cl.Fn.Locations[frame.ip]
		vm.haveLastPos = true
	} else {
		vm.haveLastPos = false
	}
	return vm.raiseObject(&object.Error{Message: msg})
}

// raiseObject drives errObj through the handler stack: it pops handlers one
// at a time, truncating the frame and operand stacks to each handler's
// recorded depth, until one accepts the error (jumping to its catch or
// finally clause) or none remain, in which case errObj escapes as a
// terminal [Error].
func (vm *VM) raiseObject(errObj object.Object) error {
	for len(vm.handlers) > 0 {
		h := vm.handlers[len(vm.handlers)-1]
		vm.handlers = vm.handlers[:len(vm.handlers)-1]

		vm.framesIndex = h.frameIndex
		vm.sp = h.stackDepth
		target := vm.currentFrame()

		if h.catchOffset != code.NoHandler {
			if err := vm.push(errObj); err != nil {
				return err
			}
			target.ip = h.catchOffset - 1
			return nil
		}
		if h.finallyOffset != code.NoHandler {
			vm.pending = errObj
			target.ip = h.finallyOffset - 1
			return nil
		}
		// Neither clause present: this handler was informational only
		// (shouldn't occur given how compileTry emits PushExcept), keep
		// unwinding to the next one.
	}

	msg := errObj.Inspect()
	if e, ok := errObj.(*object.Error); ok {
		msg = e.Message
	}
	if vm.haveLastPos {
		return &Error{Message: msg, Pos: vm.lastPos, HasPos: true}
	}
	return &Error{Message: msg}
}

func (vm *VM) execLoadAttr(name string, orNil bool) error {
	receiver := vm.pop()
	if orNil && isNil(receiver) {
		return vm.push(object.NilValue)
	}
	// A built-in method takes precedence over a same-named map key: a map
	// literal like {"len": 99} still exposes the len() method, not its
	// "len" entry.
	if method := object.LookupMethod(receiver, name); method != nil {
		return vm.push(method)
	}
	if m, ok := receiver.(*object.Map); ok {
		if v, found, err := m.Get(&object.String{Value: name}); err == nil && found {
			return vm.push(v)
		}
	}
	if orNil {
		return vm.push(object.NilValue)
	}
	return vm.raiseObject(&object.Error{Message: fmt.Sprintf("undefined attribute %q on %s", name, receiver.Type())})
}

func (vm *VM) execStoreAttr(name string) error {
	value := vm.pop()
	receiver := vm.stack[vm.sp-1]
	m, ok := receiver.(*object.Map)
	if !ok {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("cannot set attribute %q on %s", name, receiver.Type())})
	}
	if err := m.Set(&object.String{Value: name}, value); err != nil {
		return vm.raiseObject(&object.Error{Message: err.Error()})
	}
	vm.stack[vm.sp-1] = value
	return nil
}

func (vm *VM) execBuildMap(numPairs int) error {
	m := object.NewMap(numPairs)
	pairs := make([][2]object.Object, numPairs)
	for i := numPairs - 1; i >= 0; i-- {
		v := vm.pop()
		k := vm.pop()
		pairs[i] = [2]object.Object{k, v}
	}
	for _, p := range pairs {
		if err := m.Set(p[0], p[1]); err != nil {
			return vm.raiseObject(&object.Error{Message: err.Error()})
		}
	}
	return vm.push(m)
}

func (vm *VM) execBuildString(n int) error {
	parts := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		v := vm.pop()
		if s, ok := v.(*object.String); ok {
			parts[i] = s.Value
		} else {
			parts[i] = v.Inspect()
		}
	}
	out := ""
	for _, p := range parts {
		out += p
	}
	return vm.push(&object.String{Value: out})
}

func (vm *VM) execMapMerge() error {
	src, ok := vm.pop().(*object.Map)
	if !ok {
		return vm.raiseObject(&object.Error{Message: "cannot merge a non-map"})
	}
	dst, ok := vm.stack[vm.sp-1].(*object.Map)
	if !ok {
		return vm.raiseObject(&object.Error{Message: "cannot merge into a non-map"})
	}
	err := src.Each(func(k, v object.Object) error {
		return dst.Set(k, v)
	})
	if err != nil {
		return vm.raiseObject(&object.Error{Message: err.Error()})
	}
	return nil
}

func (vm *VM) execMapSet() error {
	value := vm.pop()
	key := vm.pop()
	m, ok := vm.stack[vm.sp-1].(*object.Map)
	if !ok {
		return vm.raiseObject(&object.Error{Message: "cannot set a key on a non-map"})
	}
	if err := m.Set(key, value); err != nil {
		return vm.raiseObject(&object.Error{Message: err.Error()})
	}
	return nil
}

func (vm *VM) execBinarySubscr(frame *Frame) error {
	index := vm.pop()
	left := vm.pop()
	switch container := left.(type) {
	case *object.List:
		idx, ok := index.(*object.Int)
		if !ok {
			return vm.raise(frame, "list index must be an int")
		}
		i, err := normalizeIndex(idx.Value, len(container.Elements))
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		return vm.push(container.Elements[i])
	case *object.Map:
		v, found, err := container.Get(index)
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		if !found {
			return vm.push(object.NilValue)
		}
		return vm.push(v)
	case *object.String:
		idx, ok := index.(*object.Int)
		if !ok {
			return vm.raise(frame, "string index must be an int")
		}
		runes := []rune(container.Value)
		i, err := normalizeIndex(idx.Value, len(runes))
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		return vm.push(&object.String{Value: string(runes[i])})
	default:
		return vm.raise(frame, fmt.Sprintf("%s is not subscriptable", left.Type()))
	}
}

func (vm *VM) execStoreSubscr(frame *Frame) error {
	value := vm.pop()
	index := vm.pop()
	left := vm.stack[vm.sp-1]
	switch container := left.(type) {
	case *object.List:
		idx, ok := index.(*object.Int)
		if !ok {
			return vm.raise(frame, "list index must be an int")
		}
		i, err := normalizeIndex(idx.Value, len(container.Elements))
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		container.Elements[i] = value
	case *object.Map:
		if err := container.Set(index, value); err != nil {
			return vm.raise(frame, err.Error())
		}
	default:
		return vm.raise(frame, fmt.Sprintf("%s does not support item assignment", left.Type()))
	}
	vm.stack[vm.sp-1] = value
	return nil
}

func (vm *VM) execContainsOp(frame *Frame) error {
	container := vm.pop()
	needle := vm.pop()
	var found bool
	switch c := container.(type) {
	case *object.List:
		for _, e := range c.Elements {
			if object.Equal(e, needle) {
				found = true
				break
			}
		}
	case *object.Map:
		var err error
		found, err = c.Has(needle)
		if err != nil {
			return vm.raise(frame, err.Error())
		}
	case *object.String:
		sub, ok := needle.(*object.String)
		if !ok {
			return vm.raise(frame, "'in' requires a string operand on a string container")
		}
		found = containsSubstring(c.Value, sub.Value)
	default:
		return vm.raise(frame, fmt.Sprintf("%s is not a container", container.Type()))
	}
	return vm.push(object.NativeBool(found))
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func (vm *VM) execLength(frame *Frame) error {
	v := vm.pop()
	n, err := lengthOf(v)
	if err != nil {
		return vm.raise(frame, err.Error())
	}
	return vm.push(&object.Int{Value: int64(n)})
}

func lengthOf(v object.Object) (int, error) {
	switch c := v.(type) {
	case *object.String:
		return len([]rune(c.Value)), nil
	case *object.List:
		return len(c.Elements), nil
	case *object.Map:
		return c.Len(), nil
	default:
		return 0, fmt.Errorf("%s has no length", v.Type())
	}
}

func (vm *VM) execSlice(frame *Frame) error {
	high := vm.pop()
	low := vm.pop()
	obj := vm.pop()
	switch c := obj.(type) {
	case *object.List:
		start, end, err := sliceBounds(low, high, len(c.Elements))
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		out := make([]object.Object, end-start)
		copy(out, c.Elements[start:end])
		return vm.push(&object.List{Elements: out})
	case *object.String:
		runes := []rune(c.Value)
		start, end, err := sliceBounds(low, high, len(runes))
		if err != nil {
			return vm.raise(frame, err.Error())
		}
		return vm.push(&object.String{Value: string(runes[start:end])})
	default:
		return vm.raise(frame, fmt.Sprintf("%s is not sliceable", obj.Type()))
	}
}

func sliceBounds(low, high object.Object, length int) (int, int, error) {
	start := 0
	end := length
	if !isNil(low) {
		idx, ok := low.(*object.Int)
		if !ok {
			return 0, 0, fmt.Errorf("slice bound must be an int")
		}
		start = clampIndex(idx.Value, length)
	}
	if !isNil(high) {
		idx, ok := high.(*object.Int)
		if !ok {
			return 0, 0, fmt.Errorf("slice bound must be an int")
		}
		end = clampIndex(idx.Value, length)
	}
	if end < start {
		end = start
	}
	return start, end, nil
}

func clampIndex(i int64, length int) int {
	if i < 0 {
		i += int64(length)
	}
	if i < 0 {
		return 0
	}
	if i > int64(length) {
		return length
	}
	return int(i)
}

func normalizeIndex(i int64, length int) (int, error) {
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, fmt.Errorf("index out of range")
	}
	return int(i), nil
}

func (vm *VM) execUnpack(frame *Frame, n int) error {
	v := vm.pop()
	list, ok := v.(*object.List)
	if !ok {
		return vm.raise(frame, "cannot unpack a non-list")
	}
	if len(list.Elements) < n {
		return vm.raise(frame, fmt.Sprintf("not enough values to unpack: need %d, have %d", n, len(list.Elements)))
	}
	for i := n - 1; i >= 0; i-- {
		if err := vm.push(list.Elements[i]); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) execUnaryNegative() error {
	v := vm.pop()
	switch n := v.(type) {
	case *object.Int:
		return vm.push(&object.Int{Value: -n.Value})
	case *object.Float:
		return vm.push(&object.Float{Value: -n.Value})
	default:
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("cannot negate %s", v.Type())})
	}
}

func (vm *VM) execBinaryOp(kind code.BinOp) error {
	right := vm.pop()
	left := vm.pop()

	switch kind {
	case code.OpAdd:
		return vm.execAdd(left, right)
	case code.OpSub, code.OpMul:
		return vm.execArith(kind, left, right)
	case code.OpDiv:
		return vm.execDiv(left, right)
	case code.OpMod:
		return vm.execMod(left, right)
	case code.OpPower:
		return vm.execPower(left, right)
	case code.OpAnd:
		return vm.push(object.NativeBool(object.Truthy(left) && object.Truthy(right)))
	case code.OpOr:
		return vm.push(object.NativeBool(object.Truthy(left) || object.Truthy(right)))
	case code.OpNullishCoalesce:
		if isNil(left) {
			return vm.push(right)
		}
		return vm.push(left)
	case code.OpXor, code.OpLShift, code.OpRShift, code.OpBitwiseAnd, code.OpBitwiseOr:
		return vm.execBitwise(kind, left, right)
	default:
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported binary operation %s", kind)})
	}
}

func (vm *VM) execAdd(left, right object.Object) error {
	if ls, ok := left.(*object.String); ok {
		// A caught Error appends its message, so "caught:" + e reads naturally.
		if re, ok := right.(*object.Error); ok {
			return vm.push(&object.String{Value: ls.Value + re.Message})
		}
		rs, ok := right.(*object.String)
		if !ok {
			return vm.raiseObject(&object.Error{Message: fmt.Sprintf("cannot add %s and %s", left.Type(), right.Type())})
		}
		return vm.push(&object.String{Value: ls.Value + rs.Value})
	}
	if ll, ok := left.(*object.List); ok {
		rl, ok := right.(*object.List)
		if !ok {
			return vm.raiseObject(&object.Error{Message: fmt.Sprintf("cannot add %s and %s", left.Type(), right.Type())})
		}
		out := make([]object.Object, 0, len(ll.Elements)+len(rl.Elements))
		out = append(out, ll.Elements...)
		out = append(out, rl.Elements...)
		return vm.push(&object.List{Elements: out})
	}
	return vm.execArith(code.OpAdd, left, right)
}

func (vm *VM) execArith(kind code.BinOp, left, right object.Object) error {
	if kind == code.OpMul {
		if s, n, ok := stringRepeat(left, right); ok {
			if n < 0 {
				n = 0
			}
			result := ""
			for i := 0; i < n; i++ {
				result += s
			}
			return vm.push(&object.String{Value: result})
		}
	}
	li, lIsInt := left.(*object.Int)
	ri, rIsInt := right.(*object.Int)
	if lIsInt && rIsInt {
		var v int64
		switch kind {
		case code.OpAdd:
			v = li.Value + ri.Value
		case code.OpSub:
			v = li.Value - ri.Value
		case code.OpMul:
			v = li.Value * ri.Value
		}
		return vm.push(&object.Int{Value: v})
	}
	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported operand types for %s: %s and %s", kind, left.Type(), right.Type())})
	}
	var v float64
	switch kind {
	case code.OpAdd:
		v = lf + rf
	case code.OpSub:
		v = lf - rf
	case code.OpMul:
		v = lf * rf
	}
	return vm.push(&object.Float{Value: v})
}

func stringRepeat(left, right object.Object) (string, int, bool) {
	if s, ok := left.(*object.String); ok {
		if n, ok := right.(*object.Int); ok {
			return s.Value, int(n.Value), true
		}
	}
	if s, ok := right.(*object.String); ok {
		if n, ok := left.(*object.Int); ok {
			return s.Value, int(n.Value), true
		}
	}
	return "", 0, false
}

func asFloat(obj object.Object) (float64, bool) {
	switch v := obj.(type) {
	case *object.Int:
		return float64(v.Value), true
	case *object.Float:
		return v.Value, true
	default:
		return 0, false
	}
}

// execDiv always produces a Float, even for two Ints.
func (vm *VM) execDiv(left, right object.Object) error {
	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported operand types for Div: %s and %s", left.Type(), right.Type())})
	}
	if rf == 0 {
		return vm.raiseObject(&object.Error{Message: "division by zero"})
	}
	return vm.push(&object.Float{Value: lf / rf})
}

func (vm *VM) execMod(left, right object.Object) error {
	li, lIsInt := left.(*object.Int)
	ri, rIsInt := right.(*object.Int)
	if lIsInt && rIsInt {
		if ri.Value == 0 {
			return vm.raiseObject(&object.Error{Message: "modulo by zero"})
		}
		return vm.push(&object.Int{Value: li.Value % ri.Value})
	}
	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported operand types for Mod: %s and %s", left.Type(), right.Type())})
	}
	if rf == 0 {
		return vm.raiseObject(&object.Error{Message: "modulo by zero"})
	}
	return vm.push(&object.Float{Value: math.Mod(lf, rf)})
}

// execPower keeps an Int base raised to an Int exponent as an Int
// (truncated); any Float operand promotes the whole operation to Float.
// This is the opposite promotion rule from division.
func (vm *VM) execPower(left, right object.Object) error {
	li, lIsInt := left.(*object.Int)
	ri, rIsInt := right.(*object.Int)
	if lIsInt && rIsInt {
		return vm.push(&object.Int{Value: int64(math.Pow(float64(li.Value), float64(ri.Value)))})
	}
	lf, lOk := asFloat(left)
	rf, rOk := asFloat(right)
	if !lOk || !rOk {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported operand types for Power: %s and %s", left.Type(), right.Type())})
	}
	return vm.push(&object.Float{Value: math.Pow(lf, rf)})
}

func (vm *VM) execBitwise(kind code.BinOp, left, right object.Object) error {
	li, lOk := left.(*object.Int)
	ri, rOk := right.(*object.Int)
	if !lOk || !rOk {
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("unsupported operand types for %s: %s and %s", kind, left.Type(), right.Type())})
	}
	var v int64
	switch kind {
	case code.OpXor:
		v = li.Value ^ ri.Value
	case code.OpLShift:
		v = li.Value << uint64(ri.Value)
	case code.OpRShift:
		v = li.Value >> uint64(ri.Value)
	case code.OpBitwiseAnd:
		v = li.Value & ri.Value
	case code.OpBitwiseOr:
		v = li.Value | ri.Value
	}
	return vm.push(&object.Int{Value: v})
}

func (vm *VM) execCompareOp(kind code.CmpOp) error {
	right := vm.pop()
	left := vm.pop()

	switch kind {
	case code.CmpEq:
		return vm.push(object.NativeBool(object.Equal(left, right)))
	case code.CmpNe:
		return vm.push(object.NativeBool(!object.Equal(left, right)))
	}

	cmp, err := object.Compare(left, right)
	if err != nil {
		return vm.raiseObject(&object.Error{Message: err.Error()})
	}
	var result bool
	switch kind {
	case code.CmpLt:
		result = cmp < 0
	case code.CmpLe:
		result = cmp <= 0
	case code.CmpGt:
		result = cmp > 0
	case code.CmpGe:
		result = cmp >= 0
	}
	return vm.push(object.NativeBool(result))
}

// execCall dispatches a call to whatever is numArgs+1 slots below the top
// of the stack: a Closure gets a new frame, a Builtin runs synchronously.
// Arity is lenient for Closures: missing parameters are Nil, excess
// arguments are dropped.
func (vm *VM) execCall(numArgs int) error {
	callee := vm.stack[vm.sp-1-numArgs]
	switch fn := callee.(type) {
	case *object.Closure:
		return vm.callClosure(fn, numArgs)
	case *object.Builtin:
		return vm.callBuiltin(fn, numArgs)
	default:
		return vm.raiseObject(&object.Error{Message: fmt.Sprintf("%s is not callable", callee.Type())})
	}
}

// execCallSpread flattens every List argument into the argument list before
// dispatching exactly like execCall.
func (vm *VM) execCallSpread(numArgs int) error {
	raw := make([]object.Object, numArgs)
	copy(raw, vm.stack[vm.sp-numArgs:vm.sp])
	callee := vm.stack[vm.sp-1-numArgs]

	var flat []object.Object
	for _, a := range raw {
		if l, ok := a.(*object.List); ok {
			flat = append(flat, l.Elements...)
		} else {
			flat = append(flat, a)
		}
	}

	vm.sp = vm.sp - numArgs - 1
	if err := vm.push(callee); err != nil {
		return err
	}
	for _, v := range flat {
		if err := vm.push(v); err != nil {
			return err
		}
	}
	return vm.execCall(len(flat))
}

func (vm *VM) callClosure(fn *object.Closure, numArgs int) error {
	if vm.framesIndex >= MaxFrames {
		return vm.fatal("call stack overflow")
	}
	numParams := fn.Fn.NumParameters
	args := make([]object.Object, numParams)
	for i := 0; i < numParams; i++ {
		if i < numArgs {
			args[i] = vm.stack[vm.sp-numArgs+i]
		} else {
			args[i] = object.NilValue
		}
	}
	basePointer := vm.sp - numArgs - 1
	vm.sp = basePointer
	vm.pushFrame(NewFrame(fn, basePointer, args))
	return nil
}

func (vm *VM) callBuiltin(fn *object.Builtin, numArgs int) error {
	args := make([]object.Object, numArgs)
	copy(args, vm.stack[vm.sp-numArgs:vm.sp])
	result, err := fn.Fn(args...)
	vm.sp = vm.sp - numArgs - 1
	if err != nil {
		return vm.raiseObject(&object.Error{Message: err.Error()})
	}
	if result == nil {
		result = object.NilValue
	}
	return vm.push(result)
}

func (vm *VM) execReturn() error {
	returned := vm.pop()
	frame := vm.popFrame()
	vm.sp = frame.basePointer
	return vm.push(returned)
}

func (vm *VM) execLoadClosure(constIdx, numFree int) error {
	fn, ok := vm.constants[constIdx].(*object.CompiledFunction)
	if !ok {
		return vm.fatal(fmt.Sprintf("constant %d is not a compiled function", constIdx))
	}
	free := make([]*object.Cell, numFree)
	for i := numFree - 1; i >= 0; i-- {
		cell, ok := vm.pop().(*object.Cell)
		if !ok {
			return vm.fatal("LoadClosure expected a cell on the stack")
		}
		free[i] = cell
	}
	return vm.push(&object.Closure{Fn: fn, Free: free})
}

// execMakeCell implements the two shapes MakeCell's depth operand selects.
// depth 0 boxes the current frame's local at index into a cell the first
// time it is captured, replacing the plain value in frame.locals with the
// cell itself; LoadFast/StoreFast transparently unwrap/write through a
// boxed local, so the enclosing frame and every inner closure that closes
// over it keep sharing that one cell for the rest of the frame's life. If
// the local was already boxed by an earlier closure literal, that same
// cell is reused rather than creating a second one. depth > 0 instead
// propagates the current frame's own upvalue cell at index unchanged, so a
// value captured two or more function levels deep keeps sharing the same
// cell as the outer closures that captured it.
func (vm *VM) execMakeCell(frame *Frame, index, depth int) error {
	if depth == 0 {
		cell, ok := frame.locals[index].(*object.Cell)
		if !ok {
			cell = &object.Cell{Value: frame.locals[index]}
			frame.locals[index] = cell
		}
		return vm.push(cell)
	}
	return vm.push(frame.cl.Free[index])
}

// CallValue invokes fn (a Closure or Builtin) with args, running any nested
// frame to completion, and returns its result. This is the hook wired into
// [object.SetCallable] for higher-order builtins like list.map, and the
// host embedding's "call a language value" entry point.
func (vm *VM) CallValue(fn object.Object, args ...object.Object) (object.Object, error) {
	if vm.sp+len(args)+1 > StackSize {
		return nil, vm.fatal("stack overflow")
	}
	if err := vm.push(fn); err != nil {
		return nil, err
	}
	for _, a := range args {
		if err := vm.push(a); err != nil {
			return nil, err
		}
	}

	stopDepth := vm.framesIndex
	if err := vm.execCall(len(args)); err != nil {
		return nil, err
	}
	if vm.framesIndex > stopDepth {
		if err := vm.run(stopDepth); err != nil {
			return nil, err
		}
	}
	return vm.pop(), nil
}
