package object

import (
	"fmt"
	"strings"
)

// LookupMethod returns a bound Builtin for name on receiver, or nil if the
// receiver's kind has no such method. LoadAttr consults this table before
// it looks at Map keys, so a method wins over a same-named key.
func LookupMethod(receiver Object, name string) *Builtin {
	switch receiver.(type) {
	case *String:
		if fn, ok := stringMethods[name]; ok {
			return &Builtin{Name: name, Fn: bind(receiver, fn)}
		}
	case *List:
		if fn, ok := listMethods[name]; ok {
			return &Builtin{Name: name, Fn: bind(receiver, fn)}
		}
	case *Map:
		if fn, ok := mapMethods[name]; ok {
			return &Builtin{Name: name, Fn: bind(receiver, fn)}
		}
	case *Iterator:
		if fn, ok := iteratorMethods[name]; ok {
			return &Builtin{Name: name, Fn: bind(receiver, fn)}
		}
	}
	return nil
}

type methodFunc func(receiver Object, args ...Object) (Object, error)

func bind(receiver Object, fn methodFunc) BuiltinFunction {
	return func(args ...Object) (Object, error) {
		return fn(receiver, args...)
	}
}

var stringMethods = map[string]methodFunc{
	"len":      func(r Object, _ ...Object) (Object, error) { return builtinLen(r) },
	"upper":    func(r Object, _ ...Object) (Object, error) { return &String{Value: strings.ToUpper(r.(*String).Value)}, nil },
	"lower":    func(r Object, _ ...Object) (Object, error) { return &String{Value: strings.ToLower(r.(*String).Value)}, nil },
	"trim":     func(r Object, _ ...Object) (Object, error) { return &String{Value: strings.TrimSpace(r.(*String).Value)}, nil },
	"split":    stringSplit,
	"contains": stringContains,
}

func stringSplit(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("split", len(args), "1")
	}
	sep, ok := args[0].(*String)
	if !ok {
		return nil, typeError("split", args[0])
	}
	parts := strings.Split(r.(*String).Value, sep.Value)
	elems := make([]Object, len(parts))
	for i, p := range parts {
		elems[i] = &String{Value: p}
	}
	return &List{Elements: elems}, nil
}

func stringContains(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("contains", len(args), "1")
	}
	sub, ok := args[0].(*String)
	if !ok {
		return nil, typeError("contains", args[0])
	}
	return NativeBool(strings.Contains(r.(*String).Value, sub.Value)), nil
}

var listMethods = map[string]methodFunc{
	"len":      func(r Object, _ ...Object) (Object, error) { return builtinLen(r) },
	"append":   listAppend,
	"pop":      listPop,
	"map":      listMap,
	"filter":   listFilter,
	"reduce":   listReduce,
	"each":     listEach,
	"join":     listJoin,
	"reverse":  listReverse,
	"sort":     listSort,
	"contains": listContains,
	"index":    listIndex,
}

func listAppend(r Object, args ...Object) (Object, error) {
	l := r.(*List)
	l.Elements = append(l.Elements, args...)
	return l, nil
}

func listPop(r Object, _ ...Object) (Object, error) {
	l := r.(*List)
	if len(l.Elements) == 0 {
		return nil, fmt.Errorf("pop: list is empty")
	}
	last := l.Elements[len(l.Elements)-1]
	l.Elements = l.Elements[:len(l.Elements)-1]
	return last, nil
}

func listMap(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("map", len(args), "1")
	}
	if sortedByCallable == nil {
		return nil, fmt.Errorf("map: calling into functions is not supported in this context")
	}
	l := r.(*List)
	out := make([]Object, len(l.Elements))
	for i, v := range l.Elements {
		res, err := sortedByCallable(args[0], v)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return &List{Elements: out}, nil
}

func listFilter(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("filter", len(args), "1")
	}
	if sortedByCallable == nil {
		return nil, fmt.Errorf("filter: calling into functions is not supported in this context")
	}
	l := r.(*List)
	var out []Object
	for _, v := range l.Elements {
		res, err := sortedByCallable(args[0], v)
		if err != nil {
			return nil, err
		}
		if Truthy(res) {
			out = append(out, v)
		}
	}
	return &List{Elements: out}, nil
}

func listReduce(r Object, args ...Object) (Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, wrongArgs("reduce", len(args), "1 or 2")
	}
	if sortedByCallable == nil {
		return nil, fmt.Errorf("reduce: calling into functions is not supported in this context")
	}
	l := r.(*List)
	elems := l.Elements
	var acc Object
	if len(args) == 2 {
		acc = args[1]
	} else {
		if len(elems) == 0 {
			return nil, fmt.Errorf("reduce: empty list with no initial value")
		}
		acc = elems[0]
		elems = elems[1:]
	}
	for _, v := range elems {
		res, err := sortedByCallable(args[0], acc, v)
		if err != nil {
			return nil, err
		}
		acc = res
	}
	return acc, nil
}

func listEach(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("each", len(args), "1")
	}
	if sortedByCallable == nil {
		return nil, fmt.Errorf("each: calling into functions is not supported in this context")
	}
	l := r.(*List)
	for i, v := range l.Elements {
		if _, err := sortedByCallable(args[0], v, &Int{Value: int64(i)}); err != nil {
			return nil, err
		}
	}
	return NilValue, nil
}

func listJoin(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("join", len(args), "1")
	}
	sep, ok := args[0].(*String)
	if !ok {
		return nil, typeError("join", args[0])
	}
	l := r.(*List)
	parts := make([]string, len(l.Elements))
	for i, v := range l.Elements {
		if s, ok := v.(*String); ok {
			parts[i] = s.Value
		} else {
			parts[i] = v.Inspect()
		}
	}
	return &String{Value: strings.Join(parts, sep.Value)}, nil
}

func listReverse(r Object, _ ...Object) (Object, error) {
	l := r.(*List)
	out := make([]Object, len(l.Elements))
	for i, v := range l.Elements {
		out[len(l.Elements)-1-i] = v
	}
	return &List{Elements: out}, nil
}

func listSort(r Object, _ ...Object) (Object, error) {
	l := r.(*List)
	out, err := sortedBy(l.Elements, nil)
	if err != nil {
		return nil, err
	}
	return &List{Elements: out}, nil
}

func listContains(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("contains", len(args), "1")
	}
	l := r.(*List)
	for _, v := range l.Elements {
		if Equal(v, args[0]) {
			return TrueValue, nil
		}
	}
	return FalseValue, nil
}

func listIndex(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("index", len(args), "1")
	}
	l := r.(*List)
	for i, v := range l.Elements {
		if Equal(v, args[0]) {
			return &Int{Value: int64(i)}, nil
		}
	}
	return NilValue, nil
}

var mapMethods = map[string]methodFunc{
	"len":     func(r Object, _ ...Object) (Object, error) { return builtinLen(r) },
	"keys":    func(r Object, _ ...Object) (Object, error) { return &List{Elements: r.(*Map).Keys()}, nil },
	"values":  func(r Object, _ ...Object) (Object, error) { return &List{Elements: r.(*Map).Values()}, nil },
	"entries": mapEntries,
	"get":     mapGet,
	"set":     mapSet,
	"delete":  mapDeleteMethod,
	"has":     mapHas,
	"each":    mapEach,
}

func mapEntries(r Object, _ ...Object) (Object, error) {
	m := r.(*Map)
	pairs := m.Entries()
	out := make([]Object, len(pairs))
	for i, p := range pairs {
		out[i] = &List{Elements: []Object{p[0], p[1]}}
	}
	return &List{Elements: out}, nil
}

func mapGet(r Object, args ...Object) (Object, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, wrongArgs("get", len(args), "1 or 2")
	}
	m := r.(*Map)
	v, ok, err := m.Get(args[0])
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return NilValue, nil
}

func mapSet(r Object, args ...Object) (Object, error) {
	if len(args) != 2 {
		return nil, wrongArgs("set", len(args), "2")
	}
	m := r.(*Map)
	if err := m.Set(args[0], args[1]); err != nil {
		return nil, err
	}
	return m, nil
}

func mapDeleteMethod(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("delete", len(args), "1")
	}
	m := r.(*Map)
	ok, err := m.Delete(args[0])
	if err != nil {
		return nil, err
	}
	return NativeBool(ok), nil
}

func mapHas(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("has", len(args), "1")
	}
	m := r.(*Map)
	ok, err := m.Has(args[0])
	if err != nil {
		return nil, err
	}
	return NativeBool(ok), nil
}

// iteratorMethods backs the for-loop lowering: the compiler has no
// dedicated advance opcode, so it drives exhaustion purely through
// LoadAttr/Call against these two methods.
var iteratorMethods = map[string]methodFunc{
	"next":      iteratorNext,
	"remaining": func(r Object, _ ...Object) (Object, error) { return &Int{Value: int64(r.(*Iterator).Remaining())}, nil },
}

func iteratorNext(r Object, _ ...Object) (Object, error) {
	v, ok := r.(*Iterator).Next()
	if !ok {
		return NilValue, nil
	}
	return v, nil
}

func mapEach(r Object, args ...Object) (Object, error) {
	if len(args) != 1 {
		return nil, wrongArgs("each", len(args), "1")
	}
	if sortedByCallable == nil {
		return nil, fmt.Errorf("each: calling into functions is not supported in this context")
	}
	m := r.(*Map)
	return NilValue, m.Each(func(k, v Object) error {
		_, err := sortedByCallable(args[0], k, v)
		return err
	})
}
