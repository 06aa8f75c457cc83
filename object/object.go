// Package object defines the runtime value system for the wisp programming
// language.
//
// Every value flowing through the compiler's constant pool and the virtual
// machine's stack implements [Object]. The variants are: [Nil], [Bool],
// [Int], [Float], [String], [List], [Map], [Closure], [Builtin], [Cell],
// [Iterator], [Error], and [CompiledFunction] (compile-time only — the VM
// always wraps it in a Closure before it reaches the stack).
//
// Equality, truthiness, and ordering are defined here because they are
// value-system concerns shared by the VM's comparison opcodes and by
// builtins like sorted/min/max.
package object

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dr8co/wisp/code"
)

// Type identifies which variant of [Object] a value is.
type Type string

//nolint:revive
const (
	NIL_OBJ      Type = "NIL"
	BOOL_OBJ     Type = "BOOL"
	INT_OBJ      Type = "INT"
	FLOAT_OBJ    Type = "FLOAT"
	STRING_OBJ   Type = "STRING"
	LIST_OBJ     Type = "LIST"
	MAP_OBJ      Type = "MAP"
	CLOSURE_OBJ  Type = "CLOSURE"
	BUILTIN_OBJ  Type = "BUILTIN"
	CELL_OBJ     Type = "CELL"
	ITERATOR_OBJ Type = "ITERATOR"
	ERROR_OBJ    Type = "ERROR"

	COMPILED_FUNCTION_OBJ Type = "COMPILED_FUNCTION"
)

// Object is the interface implemented by every wisp runtime value.
type Object interface {
	// Type reports which variant this value is.
	Type() Type

	// Inspect renders the value the way the `print` builtin and the REPL
	// display it.
	Inspect() string
}

// Nil is the language's unit value. There is exactly one shared instance,
// [NilValue].
type Nil struct{}

func (n *Nil) Type() Type      { return NIL_OBJ }
func (n *Nil) Inspect() string { return "nil" }

// NilValue is the singleton Nil instance.
var NilValue = &Nil{}

// Bool is a boolean value. There are exactly two shared instances, [TrueValue]
// and [FalseValue].
type Bool struct{ Value bool }

func (b *Bool) Type() Type      { return BOOL_OBJ }
func (b *Bool) Inspect() string { return strconv.FormatBool(b.Value) }

var (
	TrueValue  = &Bool{Value: true}
	FalseValue = &Bool{Value: false}
)

// NativeBool returns the shared True or False instance for v.
func NativeBool(v bool) *Bool {
	if v {
		return TrueValue
	}
	return FalseValue
}

// Int is a 64-bit signed integer value.
type Int struct{ Value int64 }

func (i *Int) Type() Type      { return INT_OBJ }
func (i *Int) Inspect() string { return strconv.FormatInt(i.Value, 10) }

// Float is a 64-bit IEEE-754 floating point value.
type Float struct{ Value float64 }

func (f *Float) Type() Type      { return FLOAT_OBJ }
func (f *Float) Inspect() string { return strconv.FormatFloat(f.Value, 'g', -1, 64) }

// String is immutable UTF-8 text, shared by reference. Methods that appear
// to "modify" a string return a new one.
type String struct {
	Value string
}

func (s *String) Type() Type      { return STRING_OBJ }
func (s *String) Inspect() string { return s.Value }

// List is an ordered, mutable sequence of values, shared by reference.
type List struct {
	Elements []Object
}

func (l *List) Type() Type { return LIST_OBJ }
func (l *List) Inspect() string {
	parts := make([]string, len(l.Elements))
	for i, e := range l.Elements {
		parts[i] = e.Inspect()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Error carries a message. It is distinguishable from String so that
// `catch e` can tell a caught failure from an ordinary string value.
type Error struct {
	Message string
}

func (e *Error) Type() Type      { return ERROR_OBJ }
func (e *Error) Inspect() string { return "error: " + e.Message }

// CompiledFunction is a compile-time code unit: opcodes, constants, names,
// and the local/global bookkeeping the compiler produced for one function
// body (or the top-level module). The VM never executes a bare
// CompiledFunction — LoadConst and LoadClosure always wrap it in a
// [Closure] before it reaches the operand stack.
type CompiledFunction struct {
	Name string

	Instructions code.Instructions
	Constants    []Object

	NumLocals     int
	NumParameters int

	// Locations holds one source position per slot in Instructions, so a
	// runtime error can report the line/column of the opcode or operand
	// that raised it.
	Locations []Position

	// Handlers is the exception-handler table: each entry names the
	// instruction-slot range of one try region and the slot to jump to
	// for its catch/finally clauses.
	Handlers []ExceptionHandler
}

func (c *CompiledFunction) Type() Type      { return COMPILED_FUNCTION_OBJ }
func (c *CompiledFunction) Inspect() string { return fmt.Sprintf("CompiledFunction[%s]", c.Name) }

// Position is a 1-indexed source line and column.
type Position struct {
	Line   int
	Column int
}

// ExceptionHandler is one compiled try region: the instruction-slot span it
// covers, and the slot offsets of its catch and finally clauses
// (code.NoHandler if absent).
type ExceptionHandler struct {
	TryStart, TryEnd int
	CatchOffset      int
	FinallyOffset    int
}

// Closure is a compiled function bundled with the upvalue cells it
// captured at creation time.
type Closure struct {
	Fn   *CompiledFunction
	Free []*Cell
}

func (c *Closure) Type() Type      { return CLOSURE_OBJ }
func (c *Closure) Inspect() string { return fmt.Sprintf("Closure[%s]", c.Fn.Name) }

// BuiltinFunction is the signature native code must implement to be called
// from wisp as a Builtin value.
type BuiltinFunction func(args ...Object) (Object, error)

// Builtin is an opaque handle to native code plus its display name. Bound
// methods (e.g. the value produced by `list.append`) are represented as a
// Builtin that has already closed over its receiver.
type Builtin struct {
	Name string
	Fn   BuiltinFunction
}

func (b *Builtin) Type() Type      { return BUILTIN_OBJ }
func (b *Builtin) Inspect() string { return "builtin " + b.Name }

// Cell is a mutable, reference-counted single-slot box used solely for
// upvalue capture. It is not constructible at the language level: the
// compiler emits MakeCell only around a variable some nested function
// closes over, and the VM is the only code that ever creates one.
type Cell struct {
	Value Object
}

func (c *Cell) Type() Type      { return CELL_OBJ }
func (c *Cell) Inspect() string { return "cell(" + c.Value.Inspect() + ")" }

// Iterator is a cursor over a finite ordered sequence of values, produced
// by the `iter` builtin or by a for-loop's implicit call to it.
type Iterator struct {
	items []Object
	pos   int
}

// NewIterator creates an Iterator over items, in order.
func NewIterator(items []Object) *Iterator {
	return &Iterator{items: items}
}

func (it *Iterator) Type() Type      { return ITERATOR_OBJ }
func (it *Iterator) Inspect() string { return "iterator" }

// Next returns the next value and true, or Nil and false if exhausted.
func (it *Iterator) Next() (Object, bool) {
	if it.pos >= len(it.items) {
		return NilValue, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

// Remaining reports how many items are left to yield.
func (it *Iterator) Remaining() int {
	if it.pos >= len(it.items) {
		return 0
	}
	return len(it.items) - it.pos
}

// Hashable reports whether obj is admissible as a [Map] key: Nil, Bool,
// Int, Float, and String.
func Hashable(obj Object) bool {
	switch obj.(type) {
	case *Nil, *Bool, *Int, *Float, *String:
		return true
	default:
		return false
	}
}

// mapKey is the comparable key type Map actually stores its entries under.
// Int and Float are kept as separate kinds here deliberately: this mirrors
// the reference VM bucketing map keys by kind before comparing, and avoids
// the hashing pitfalls (NaN, -0.0) a single unified numeric key would
// invite. It does mean a Map key of Int(1) and Float(1.0) are distinct
// entries even though Int(1) == Float(1.0) under [Equal].
type mapKey struct {
	kind Type
	b    bool
	i    int64
	f    float64
	s    string
}

func keyFor(obj Object) (mapKey, error) {
	switch v := obj.(type) {
	case *Nil:
		return mapKey{kind: NIL_OBJ}, nil
	case *Bool:
		return mapKey{kind: BOOL_OBJ, b: v.Value}, nil
	case *Int:
		return mapKey{kind: INT_OBJ, i: v.Value}, nil
	case *Float:
		return mapKey{kind: FLOAT_OBJ, f: v.Value}, nil
	case *String:
		return mapKey{kind: STRING_OBJ, s: v.Value}, nil
	default:
		return mapKey{}, fmt.Errorf("unhashable type: %s", obj.Type())
	}
}

// Equal reports whether a and b compare equal under the language's
// cross-kind numeric equality rule (Int/Float compare by numeric value;
// every other pair compares only within its own kind).
func Equal(a, b Object) bool {
	switch av := a.(type) {
	case *Nil:
		_, ok := b.(*Nil)
		return ok
	case *Bool:
		bv, ok := b.(*Bool)
		return ok && av.Value == bv.Value
	case *Int:
		switch bv := b.(type) {
		case *Int:
			return av.Value == bv.Value
		case *Float:
			return float64(av.Value) == bv.Value
		}
		return false
	case *Float:
		switch bv := b.(type) {
		case *Float:
			return av.Value == bv.Value
		case *Int:
			return av.Value == float64(bv.Value)
		}
		return false
	case *String:
		bv, ok := b.(*String)
		return ok && av.Value == bv.Value
	case *Error:
		bv, ok := b.(*Error)
		return ok && av.Message == bv.Message
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *Map:
		bv, ok := b.(*Map)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.order {
			entry, _ := av.getByKey(k)
			otherEntry, present := bv.getByKey(k)
			if !present || !Equal(entry.Value, otherEntry.Value) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Truthy implements the language's truthiness rule: Nil, false, 0, 0.0, "",
// [], and {} are falsy; every other value is truthy.
func Truthy(obj Object) bool {
	switch v := obj.(type) {
	case *Nil:
		return false
	case *Bool:
		return v.Value
	case *Int:
		return v.Value != 0
	case *Float:
		return v.Value != 0
	case *String:
		return v.Value != ""
	case *List:
		return len(v.Elements) != 0
	case *Map:
		return v.Len() != 0
	default:
		return true
	}
}

// Compare orders a and b, returning -1, 0, or 1. Ordering is defined only
// between two numbers (mixed Int/Float allowed), two strings, or two
// equal-kind orderables; err is non-nil for any other pairing.
func Compare(a, b Object) (int, error) {
	switch av := a.(type) {
	case *Int:
		switch bv := b.(type) {
		case *Int:
			return cmpInt64(av.Value, bv.Value), nil
		case *Float:
			return cmpFloat64(float64(av.Value), bv.Value), nil
		}
	case *Float:
		switch bv := b.(type) {
		case *Float:
			return cmpFloat64(av.Value, bv.Value), nil
		case *Int:
			return cmpFloat64(av.Value, float64(bv.Value)), nil
		}
	case *String:
		if bv, ok := b.(*String); ok {
			return strings.Compare(av.Value, bv.Value), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s and %s", a.Type(), b.Type())
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	default:
		if math.IsNaN(a) {
			return 1
		}
		return -1
	}
}
