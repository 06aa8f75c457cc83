package object

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Builtins is the table of host-provided global functions the VM wires into
// scope at startup. The name may be remapped by an embedder, but the
// behavior of each entry must match this reference implementation.
var Builtins = []struct {
	Name    string
	Builtin *Builtin
}{
	{"print", &Builtin{Name: "print", Fn: builtinPrint}},
	{"len", &Builtin{Name: "len", Fn: builtinLen}},
	{"type", &Builtin{Name: "type", Fn: builtinType}},
	{"string", &Builtin{Name: "string", Fn: builtinString}},
	{"int", &Builtin{Name: "int", Fn: builtinInt}},
	{"float", &Builtin{Name: "float", Fn: builtinFloat}},
	{"bool", &Builtin{Name: "bool", Fn: builtinBool}},
	{"list", &Builtin{Name: "list", Fn: builtinList}},
	{"iter", &Builtin{Name: "iter", Fn: builtinIter}},
	{"range", &Builtin{Name: "range", Fn: builtinRange}},
	{"error", &Builtin{Name: "error", Fn: builtinError}},
	{"assert", &Builtin{Name: "assert", Fn: builtinAssert}},
	{"keys", &Builtin{Name: "keys", Fn: builtinKeys}},
	{"values", &Builtin{Name: "values", Fn: builtinValues}},
	{"sorted", &Builtin{Name: "sorted", Fn: builtinSorted}},
	{"reversed", &Builtin{Name: "reversed", Fn: builtinReversed}},
	{"min", &Builtin{Name: "min", Fn: builtinMin}},
	{"max", &Builtin{Name: "max", Fn: builtinMax}},
	{"sum", &Builtin{Name: "sum", Fn: builtinSum}},
	{"abs", &Builtin{Name: "abs", Fn: builtinAbs}},
	{"round", &Builtin{Name: "round", Fn: builtinRound}},
	{"floor", &Builtin{Name: "floor", Fn: builtinFloor}},
	{"ceil", &Builtin{Name: "ceil", Fn: builtinCeil}},
}

func wrongArgs(name string, got int, want string) error {
	return fmt.Errorf("%s: wrong number of arguments, got=%d want=%s", name, got, want)
}

func typeError(name string, arg Object) error {
	return fmt.Errorf("%s: unsupported argument type %s", name, arg.Type())
}

func builtinPrint(args ...Object) (Object, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Inspect()
	}
	fmt.Println(strings.Join(parts, " "))
	return NilValue, nil
}

func builtinLen(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("len", len(args), "1")
	}
	switch v := args[0].(type) {
	case *String:
		return &Int{Value: int64(len(v.Value))}, nil
	case *List:
		return &Int{Value: int64(len(v.Elements))}, nil
	case *Map:
		return &Int{Value: int64(v.Len())}, nil
	default:
		return nil, typeError("len", args[0])
	}
}

func builtinType(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("type", len(args), "1")
	}
	return &String{Value: strings.ToLower(string(args[0].Type()))}, nil
}

func builtinString(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("string", len(args), "1")
	}
	if s, ok := args[0].(*String); ok {
		return s, nil
	}
	return &String{Value: args[0].Inspect()}, nil
}

func builtinInt(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("int", len(args), "1")
	}
	switch v := args[0].(type) {
	case *Int:
		return v, nil
	case *Float:
		return &Int{Value: int64(v.Value)}, nil
	case *String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Value), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("int: cannot parse %q", v.Value)
		}
		return &Int{Value: n}, nil
	case *Bool:
		if v.Value {
			return &Int{Value: 1}, nil
		}
		return &Int{Value: 0}, nil
	default:
		return nil, typeError("int", args[0])
	}
}

func builtinFloat(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("float", len(args), "1")
	}
	switch v := args[0].(type) {
	case *Float:
		return v, nil
	case *Int:
		return &Float{Value: float64(v.Value)}, nil
	case *String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("float: cannot parse %q", v.Value)
		}
		return &Float{Value: f}, nil
	default:
		return nil, typeError("float", args[0])
	}
}

func builtinBool(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("bool", len(args), "1")
	}
	return NativeBool(Truthy(args[0])), nil
}

func builtinList(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("list", len(args), "1")
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, err
	}
	return &List{Elements: items}, nil
}

func toSlice(obj Object) ([]Object, error) {
	switch v := obj.(type) {
	case *List:
		out := make([]Object, len(v.Elements))
		copy(out, v.Elements)
		return out, nil
	case *String:
		runes := []rune(v.Value)
		out := make([]Object, len(runes))
		for i, r := range runes {
			out[i] = &String{Value: string(r)}
		}
		return out, nil
	case *Iterator:
		var out []Object
		for {
			val, ok := v.Next()
			if !ok {
				break
			}
			out = append(out, val)
		}
		return out, nil
	case *Map:
		return v.Keys(), nil
	default:
		return nil, typeError("list", obj)
	}
}

func builtinIter(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("iter", len(args), "1")
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, err
	}
	return NewIterator(items), nil
}

func builtinRange(args ...Object) (Object, error) {
	var start, stop, step int64 = 0, 0, 1
	switch len(args) {
	case 1:
		n, ok := args[0].(*Int)
		if !ok {
			return nil, typeError("range", args[0])
		}
		stop = n.Value
	case 2, 3:
		a, ok1 := args[0].(*Int)
		b, ok2 := args[1].(*Int)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("range: start/stop must be Int")
		}
		start, stop = a.Value, b.Value
		if len(args) == 3 {
			s, ok := args[2].(*Int)
			if !ok {
				return nil, fmt.Errorf("range: step must be Int")
			}
			if s.Value == 0 {
				return nil, fmt.Errorf("range: step must not be zero")
			}
			step = s.Value
		}
	default:
		return nil, wrongArgs("range", len(args), "1, 2, or 3")
	}

	var out []Object
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, &Int{Value: i})
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, &Int{Value: i})
		}
	}
	return &List{Elements: out}, nil
}

func builtinError(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("error", len(args), "1")
	}
	if e, ok := args[0].(*Error); ok {
		return e, nil
	}
	return &Error{Message: args[0].Inspect()}, nil
}

func builtinAssert(args ...Object) (Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, wrongArgs("assert", len(args), "1 or 2")
	}
	if Truthy(args[0]) {
		return NilValue, nil
	}
	msg := "assertion failed"
	if len(args) == 2 {
		msg = args[1].Inspect()
	}
	return nil, fmt.Errorf("%s", msg)
}

func builtinKeys(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("keys", len(args), "1")
	}
	m, ok := args[0].(*Map)
	if !ok {
		return nil, typeError("keys", args[0])
	}
	return &List{Elements: m.Keys()}, nil
}

func builtinValues(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("values", len(args), "1")
	}
	m, ok := args[0].(*Map)
	if !ok {
		return nil, typeError("values", args[0])
	}
	return &List{Elements: m.Values()}, nil
}

// sortedBy sorts items with an optional key-function. If keyFn is nil, the
// items are compared directly.
func sortedBy(items []Object, keyFn func(Object) (Object, error)) ([]Object, error) {
	out := make([]Object, len(items))
	copy(out, items)

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		a, b := out[i], out[j]
		if keyFn != nil {
			var err error
			a, err = keyFn(out[i])
			if err != nil {
				sortErr = err
				return false
			}
			b, err = keyFn(out[j])
			if err != nil {
				sortErr = err
				return false
			}
		}
		c, err := Compare(a, b)
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	return out, sortErr
}

// sortedByCallable is set by the vm package at startup, so this package can
// invoke a wisp closure as a sort key-function without importing the vm
// package (which imports object, so the reverse import would cycle).
var sortedByCallable func(fn Object, args ...Object) (Object, error)

// SetCallable installs the VM's "call this value with these arguments"
// hook, used by sorted/reduce-like builtins that accept a wisp function
// argument.
func SetCallable(call func(fn Object, args ...Object) (Object, error)) {
	sortedByCallable = call
}

func builtinSorted(args ...Object) (Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, wrongArgs("sorted", len(args), "1 or 2")
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, err
	}
	var keyFn func(Object) (Object, error)
	if len(args) == 2 {
		fn := args[1]
		keyFn = func(v Object) (Object, error) {
			if sortedByCallable == nil {
				return nil, fmt.Errorf("sorted: key function not supported in this context")
			}
			return sortedByCallable(fn, v)
		}
	}
	out, err := sortedBy(items, keyFn)
	if err != nil {
		return nil, err
	}
	return &List{Elements: out}, nil
}

func builtinReversed(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("reversed", len(args), "1")
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, err
	}
	out := make([]Object, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	return &List{Elements: out}, nil
}

func builtinMin(args ...Object) (Object, error) {
	items, err := variadicOrSingle("min", args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("min: empty sequence")
	}
	best := items[0]
	for _, v := range items[1:] {
		c, err := Compare(v, best)
		if err != nil {
			return nil, err
		}
		if c < 0 {
			best = v
		}
	}
	return best, nil
}

func builtinMax(args ...Object) (Object, error) {
	items, err := variadicOrSingle("max", args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("max: empty sequence")
	}
	best := items[0]
	for _, v := range items[1:] {
		c, err := Compare(v, best)
		if err != nil {
			return nil, err
		}
		if c > 0 {
			best = v
		}
	}
	return best, nil
}

func variadicOrSingle(name string, args []Object) ([]Object, error) {
	if len(args) == 1 {
		if l, ok := args[0].(*List); ok {
			return l.Elements, nil
		}
	}
	if len(args) == 0 {
		return nil, wrongArgs(name, 0, "1 or more")
	}
	return args, nil
}

func builtinSum(args ...Object) (Object, error) {
	items, err := variadicOrSingle("sum", args)
	if err != nil {
		return nil, err
	}
	var intTotal int64
	var floatTotal float64
	isFloat := false
	for _, v := range items {
		switch n := v.(type) {
		case *Int:
			if isFloat {
				floatTotal += float64(n.Value)
			} else {
				intTotal += n.Value
			}
		case *Float:
			if !isFloat {
				floatTotal = float64(intTotal)
				isFloat = true
			}
			floatTotal += n.Value
		default:
			return nil, typeError("sum", v)
		}
	}
	if isFloat {
		return &Float{Value: floatTotal}, nil
	}
	return &Int{Value: intTotal}, nil
}

func builtinAbs(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("abs", len(args), "1")
	}
	switch v := args[0].(type) {
	case *Int:
		if v.Value < 0 {
			return &Int{Value: -v.Value}, nil
		}
		return v, nil
	case *Float:
		return &Float{Value: math.Abs(v.Value)}, nil
	default:
		return nil, typeError("abs", args[0])
	}
}

func builtinRound(args ...Object) (Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, wrongArgs("round", len(args), "1 or 2")
	}
	f, err := asFloat("round", args[0])
	if err != nil {
		return nil, err
	}
	precision := 0
	if len(args) == 2 {
		p, ok := args[1].(*Int)
		if !ok {
			return nil, fmt.Errorf("round: precision must be Int")
		}
		precision = int(p.Value)
	}
	scale := math.Pow(10, float64(precision))
	rounded := math.Round(f*scale) / scale
	if precision <= 0 {
		return &Int{Value: int64(rounded)}, nil
	}
	return &Float{Value: rounded}, nil
}

func builtinFloor(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("floor", len(args), "1")
	}
	f, err := asFloat("floor", args[0])
	if err != nil {
		return nil, err
	}
	return &Int{Value: int64(math.Floor(f))}, nil
}

func builtinCeil(args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("ceil", len(args), "1")
	}
	f, err := asFloat("ceil", args[0])
	if err != nil {
		return nil, err
	}
	return &Int{Value: int64(math.Ceil(f))}, nil
}

func asFloat(name string, obj Object) (float64, error) {
	switch v := obj.(type) {
	case *Int:
		return float64(v.Value), nil
	case *Float:
		return v.Value, nil
	default:
		return 0, typeError(name, obj)
	}
}
