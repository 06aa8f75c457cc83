package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dr8co/wisp/compiler"
	"github.com/dr8co/wisp/lexer"
	"github.com/dr8co/wisp/object"
	"github.com/dr8co/wisp/parser"
)

// run compiles and executes input, returning the program's result value.
func run(t *testing.T, input string) object.Object {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	require.Empty(t, p.Errors(), "parser errors for %q: %v", input, p.Errors())

	comp := compiler.New()
	require.NoError(t, comp.Compile(program), "compile error for %q", input)

	machine := New(comp.Bytecode())
	require.NoError(t, machine.Run(), "vm error for %q", input)

	return machine.LastPoppedStackItem()
}

// runErr compiles and executes input, asserting it fails at runtime, and
// returns the error.
func runErr(t *testing.T, input string) error {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	require.Empty(t, p.Errors(), "parser errors for %q: %v", input, p.Errors())

	comp := compiler.New()
	require.NoError(t, comp.Compile(program), "compile error for %q", input)

	machine := New(comp.Bytecode())
	err := machine.Run()
	require.Error(t, err, "expected a vm error for %q", input)
	return err
}

func testInt(t *testing.T, obj object.Object, want int64) {
	t.Helper()
	i, ok := obj.(*object.Int)
	require.True(t, ok, "expected *object.Int, got %T (%+v)", obj, obj)
	require.Equal(t, want, i.Value)
}

func testFloat(t *testing.T, obj object.Object, want float64) {
	t.Helper()
	f, ok := obj.(*object.Float)
	require.True(t, ok, "expected *object.Float, got %T (%+v)", obj, obj)
	require.InDelta(t, want, f.Value, 1e-9)
}

func testStr(t *testing.T, obj object.Object, want string) {
	t.Helper()
	s, ok := obj.(*object.String)
	require.True(t, ok, "expected *object.String, got %T (%+v)", obj, obj)
	require.Equal(t, want, s.Value)
}

func TestArithmeticCoercion(t *testing.T) {
	testInt(t, run(t, "1 + 2"), 3)
	testInt(t, run(t, "10 - 3 * 2"), 4)
	testFloat(t, run(t, "1 + 2.5"), 3.5)
	testFloat(t, run(t, "1.5 * 2"), 3.0)

	// Division always promotes to Float, even Int/Int.
	testFloat(t, run(t, "10 / 4"), 2.5)
	testFloat(t, run(t, "10 / 5"), 2.0)

	// Power on Int/Int stays Int (truncated), the opposite promotion rule.
	testInt(t, run(t, "2 ** 10"), 1024)
	testFloat(t, run(t, "2.0 ** 3"), 8.0)

	testInt(t, run(t, "7 % 3"), 1)

	_ = runErr(t, "1 / 0")
	_ = runErr(t, "1 % 0")
}

func TestStringAndListOps(t *testing.T) {
	str, ok := run(t, `"foo" + "bar"`).(*object.String)
	require.True(t, ok)
	require.Equal(t, "foobar", str.Value)

	str, ok = run(t, `"ab" * 3`).(*object.String)
	require.True(t, ok)
	require.Equal(t, "ababab", str.Value)

	list, ok := run(t, "[1, 2] + [3]").(*object.List)
	require.True(t, ok)
	require.Len(t, list.Elements, 3)
	testInt(t, list.Elements[2], 3)
}

func TestSubscriptAndSlice(t *testing.T) {
	testInt(t, run(t, "[10, 20, 30][1]"), 20)
	testInt(t, run(t, "[10, 20, 30][-1]"), 30)
	_ = runErr(t, "[10, 20, 30][5]")

	list, ok := run(t, "[1, 2, 3, 4, 5][1:4]").(*object.List)
	require.True(t, ok)
	require.Len(t, list.Elements, 3)
	testInt(t, list.Elements[0], 2)
	testInt(t, list.Elements[2], 4)

	str, ok := run(t, `"hello"[1:4]`).(*object.String)
	require.True(t, ok)
	require.Equal(t, "ell", str.Value)
}

func TestUnpackAssignment(t *testing.T) {
	testInt(t, run(t, "let [a, b] = [1, 2]; a"), 1)
	testInt(t, run(t, "let [a, b] = [1, 2]; b"), 2)
}

func TestClosuresAndUpvalues(t *testing.T) {
	result := run(t, `
		let makeCounter = function() {
			let count = 0;
			return function() {
				count = count + 1;
				return count;
			};
		};
		let counter = makeCounter();
		counter();
		counter();
		counter();
	`)
	testInt(t, result, 3)
}

func TestNestedClosureCapture(t *testing.T) {
	result := run(t, `
		let outer = function() {
			let x = 10;
			let middle = function() {
				let inner = function() {
					return x;
				};
				return inner();
			};
			return middle();
		};
		outer();
	`)
	testInt(t, result, 10)
}

func TestRecursiveFunction(t *testing.T) {
	result := run(t, `
		let fib = function(n) {
			if (n < 2) {
				return n;
			}
			return fib(n - 1) + fib(n - 2);
		};
		fib(10);
	`)
	testInt(t, result, 55)
}

func TestCallArityLeniency(t *testing.T) {
	// missing args default to nil rather than raising
	testInt(t, run(t, `
		let add = function(a, b) { return a; };
		add(5);
	`), 5)

	// excess args are ignored
	testInt(t, run(t, `
		let first = function(a) { return a; };
		first(1, 2, 3);
	`), 1)
}

func TestTryCatchFinally(t *testing.T) {
	result := run(t, `
		let out = 0;
		try {
			throw "boom";
		} catch e {
			out = 1;
		} finally {
			out = out + 10;
		}
		out;
	`)
	testInt(t, result, 11)
}

func TestTryFinallyReRaisesWhenUncaught(t *testing.T) {
	err := runErr(t, `
		let out = 0;
		try {
			throw "boom";
		} finally {
			out = 1;
		}
		out;
	`)
	require.Contains(t, err.Error(), "boom")
}

func TestNestedTryHandlers(t *testing.T) {
	result := run(t, `
		let log = [];
		try {
			try {
				throw "inner";
			} catch e {
				log = log + ["caught-inner:" + e];
				throw "rethrown";
			}
		} catch e {
			log = log + ["caught-outer:" + e];
		}
		log;
	`)
	list, ok := result.(*object.List)
	require.True(t, ok)
	require.Len(t, list.Elements, 2)
}

func TestUncaughtErrorIsTerminal(t *testing.T) {
	err := runErr(t, `throw "no handler for this";`)
	require.Contains(t, err.Error(), "no handler for this")
}

func TestForAndWhileLoops(t *testing.T) {
	result := run(t, `
		let sum = 0;
		for x in [1, 2, 3, 4] {
			sum = sum + x;
		}
		sum;
	`)
	testInt(t, result, 10)

	result = run(t, `
		let i = 0;
		let sum = 0;
		while i < 5 {
			sum = sum + i;
			i = i + 1;
		}
		sum;
	`)
	testInt(t, result, 10)
}

func TestCallValueReentrancy(t *testing.T) {
	result := run(t, `
		let doubled = [1, 2, 3].map(function(x) { return x * 2; });
		doubled;
	`)
	list, ok := result.(*object.List)
	require.True(t, ok)
	require.Len(t, list.Elements, 3)
	testInt(t, list.Elements[0], 2)
	testInt(t, list.Elements[1], 4)
	testInt(t, list.Elements[2], 6)
}

func TestObjectDestructureWithDefault(t *testing.T) {
	testInt(t, run(t, `let { a, b = 10 } = { "a": 1 }; a + b`), 11)
}

func TestNestedFinallyDoesNotReRaiseOuterPending(t *testing.T) {
	result := run(t, `
		let log = [];
		try {
			try {
				throw "A";
			} finally {
				try {
					log = log + ["inner-try"];
				} finally {
					log = log + ["inner-finally"];
				}
				log = log + ["after"];
			}
		} catch e {
			log = log + ["caught:" + e];
		}
		log;
	`)
	list, ok := result.(*object.List)
	require.True(t, ok)
	require.Len(t, list.Elements, 4)
	testStr(t, list.Elements[0], "inner-try")
	testStr(t, list.Elements[1], "inner-finally")
	testStr(t, list.Elements[2], "after")
	testStr(t, list.Elements[3], "caught:A")
}

func TestOptionalChainingAndNullish(t *testing.T) {
	result := run(t, `
		let m = nil;
		m?.missing;
	`)
	_, isNil := result.(*object.Nil)
	require.True(t, isNil)

	testInt(t, run(t, "nil ?? 42"), 42)
	testInt(t, run(t, "7 ?? 42"), 7)
}
