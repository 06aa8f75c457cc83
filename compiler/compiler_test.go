package compiler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr8co/wisp/ast"
	"github.com/dr8co/wisp/code"
	"github.com/dr8co/wisp/lexer"
	"github.com/dr8co/wisp/object"
	"github.com/dr8co/wisp/parser"
)

// compilerTestCase describes one compile-and-compare scenario.
// expectedInstructions is a function of the constant pool's builtin-seeded
// base index, since every compiler starts with object.Builtins already
// occupying the low indices of the constant pool.
type compilerTestCase struct {
	name                 string
	input                string
	expectedConstants    []interface{}
	expectedInstructions func(base int) []code.Instructions
}

func TestIntegerArithmetic(t *testing.T) {
	runCompilerTests(t, []compilerTestCase{
		{
			name:              "addition keeps the trailing expression value",
			input:             "1 + 2",
			expectedConstants: []interface{}{int64(1), int64(2)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.LoadConst, base),
					code.Make(code.LoadConst, base+1),
					code.Make(code.BinaryOp, int(code.OpAdd)),
				}
			},
		},
		{
			name:              "a discarded statement pops, the trailing one does not",
			input:             "1; 2",
			expectedConstants: []interface{}{int64(1), int64(2)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.LoadConst, base),
					code.Make(code.PopTop),
					code.Make(code.LoadConst, base+1),
				}
			},
		},
		{
			name:              "comparison uses CompareOp, not a dedicated opcode",
			input:             "1 < 2",
			expectedConstants: []interface{}{int64(1), int64(2)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.LoadConst, base),
					code.Make(code.LoadConst, base+1),
					code.Make(code.CompareOp, int(code.CmpLt)),
				}
			},
		},
	})
}

func TestBooleanAndNilLiterals(t *testing.T) {
	runCompilerTests(t, []compilerTestCase{
		{
			name:              "true",
			input:             "true",
			expectedConstants: []interface{}{},
			expectedInstructions: func(int) []code.Instructions {
				return []code.Instructions{code.Make(code.True)}
			},
		},
		{
			name:              "nil",
			input:             "nil",
			expectedConstants: []interface{}{},
			expectedInstructions: func(int) []code.Instructions {
				return []code.Instructions{code.Make(code.NilConst)}
			},
		},
		{
			name:              "an empty program yields nil",
			input:             "",
			expectedConstants: []interface{}{},
			expectedInstructions: func(int) []code.Instructions {
				return []code.Instructions{code.Make(code.NilConst)}
			},
		},
	})
}

func TestShortCircuitOperators(t *testing.T) {
	runCompilerTests(t, []compilerTestCase{
		{
			name:              "&& yields a literal bool on the short-circuited path",
			input:             "true && false",
			expectedConstants: []interface{}{},
			expectedInstructions: func(int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.True),
					code.Make(code.PopJumpForwardIfFalse, 3),
					code.Make(code.False),
					code.Make(code.JumpForward, 1),
					code.Make(code.False),
				}
			},
		},
		{
			name:              "?? skips the right operand when the left is non-nil",
			input:             "1 ?? 2",
			expectedConstants: []interface{}{int64(1), int64(2)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.LoadConst, base),
					code.Make(code.PopJumpForwardIfNotNil, 2),
					code.Make(code.LoadConst, base+1),
				}
			},
		},
	})
}

func TestGlobalLetStatements(t *testing.T) {
	runCompilerTests(t, []compilerTestCase{
		{
			name:              "a let binding stores and discards, the reference after reloads",
			input:             "let x = 1; x",
			expectedConstants: []interface{}{int64(1)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.LoadConst, base),
					code.Make(code.StoreGlobal, 0),
					code.Make(code.PopTop),
					code.Make(code.LoadGlobal, 0),
				}
			},
		},
		{
			name:              "assigning to a const binding is a compile error",
			input:             "const x = 1; x = 2",
			expectedInstructions: nil,
		},
	})
}

func TestIfExpression(t *testing.T) {
	runCompilerTests(t, []compilerTestCase{
		{
			name:              "if without else yields nil on the false branch",
			input:             "if (true) { 10 }",
			expectedConstants: []interface{}{int64(10)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.True),
					code.Make(code.PopJumpForwardIfFalse, 4),
					code.Make(code.LoadConst, base),
					code.Make(code.JumpForward, 1),
					code.Make(code.NilConst),
				}
			},
		},
		{
			name:              "if/else",
			input:             "if (true) { 10 } else { 20 }",
			expectedConstants: []interface{}{int64(10), int64(20)},
			expectedInstructions: func(base int) []code.Instructions {
				return []code.Instructions{
					code.Make(code.True),
					code.Make(code.PopJumpForwardIfFalse, 4),
					code.Make(code.LoadConst, base),
					code.Make(code.JumpForward, 2),
					code.Make(code.LoadConst, base+1),
				}
			},
		},
	})
}

func TestWhileLoop(t *testing.T) {
	input := `
	while (true) {
		break
	}
	`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	ins := compiler.Bytecode().Instructions
	require.Contains(t, ins.String(), "JumpBackward")
	require.Contains(t, ins.String(), "PopJumpForwardIfFalse")
}

func TestForLoopDrivesIteratorMethods(t *testing.T) {
	input := `for x in [1, 2, 3] { x }`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "Call 1") // the normalizing call to iter()
	assert.Contains(t, dis, "Call 0") // next()/remaining() take no args
	assert.Contains(t, dis, "JumpBackward")
}

func TestSwitchExpression(t *testing.T) {
	input := `
	switch (1) {
		case 1: { "one" }
		case 2, 3: { "two-or-three" }
		default: { "other" }
	}
	`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "CompareOp 2") // CmpEq == 2
	assert.Contains(t, dis, "PopTop")
}

func TestMatchExpressionWithGuardAndWildcard(t *testing.T) {
	input := `
	let x = 5;
	match x {
		1 if x > 0 => "positive one",
		0 => "zero",
		_ => "other",
	}
	`
	program := parseProgram(t, input)

	compiler := New()
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "CompareOp 2")
}

func TestFunctionLiteralNoFreeVariables(t *testing.T) {
	input := `function() { return 1 + 2 }`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	bc := compiler.Bytecode()
	require.Len(t, bc.Instructions, 2) // a bare LoadConst referencing the function
	fn, ok := bc.Constants[len(bc.Constants)-1].(*object.CompiledFunction)
	require.True(t, ok)
	assert.Equal(t, 0, fn.NumParameters)

	require.Len(t, fn.Instructions, 7)
	assert.Equal(t, code.LoadConst, code.Opcode(fn.Instructions[0]))
	assert.Equal(t, code.LoadConst, code.Opcode(fn.Instructions[2]))
	assert.Equal(t, code.BinaryOp, code.Opcode(fn.Instructions[4]))
	assert.Equal(t, uint16(code.OpAdd), fn.Instructions[5])
	assert.Equal(t, code.ReturnValue, code.Opcode(fn.Instructions[6]))
}

func TestClosureCapturesFreeVariable(t *testing.T) {
	input := `
	let makeAdder = function(a) {
		return function(b) { return a + b }
	}
	`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	// The inner function is added to the pool first, so makeAdder is last;
	// its body is where the captured `a` is boxed and the closure built.
	bc := compiler.Bytecode()
	makeAdder, ok := bc.Constants[len(bc.Constants)-1].(*object.CompiledFunction)
	require.True(t, ok)
	dis := makeAdder.Instructions.String()
	assert.Contains(t, dis, "MakeCell")
	assert.Contains(t, dis, "LoadClosure")
}

func TestRecursiveTopLevelFunctionIsHoisted(t *testing.T) {
	input := `
	let fib = function(n) {
		if (n < 2) { return n }
		return fib(n - 1) + fib(n - 2)
	}
	`
	compiler := New()
	program := parseProgram(t, input)
	// a successful compile proves fib resolved inside its own body; an
	// undefined-variable error would fail this before reaching the assert.
	require.NoError(t, compiler.Compile(program))
}

func TestMemberAssignment(t *testing.T) {
	input := `let m = {}; m.x = 1`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))
	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "StoreAttr")
	assert.NotContains(t, dis, "Swap")
}

func TestCompoundIndexAssignment(t *testing.T) {
	input := `let a = [1, 2, 3]; a[0] += 10`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))
	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "BinarySubscr")
	assert.Contains(t, dis, "StoreSubscr")
	assert.Contains(t, dis, "Copy 1")
}

func TestPostfixIncrementOnIdentifier(t *testing.T) {
	input := `let x = 1; x++`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))
	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "StoreGlobal")
	assert.Contains(t, dis, "Copy 0")
}

func TestTryCatchFinally(t *testing.T) {
	input := `
	try {
		throw "boom"
	} catch e {
		e
	} finally {
		1
	}
	`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "PushExcept")
	assert.Contains(t, dis, "PopExcept")
	assert.Contains(t, dis, "EndFinally")
}

func TestArrayLiteralWithSpread(t *testing.T) {
	input := `[1, ...[2, 3], 4]`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "ListAppend")
	assert.Contains(t, dis, "ListExtend")
}

func TestSpreadCallArgument(t *testing.T) {
	input := `let f = function(a, b) { return a }; let args = [1, 2]; f(...args)`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "CallSpread")
}

func TestDestructuringWithDefault(t *testing.T) {
	input := `let {x, y: renamed = 5} = {"x": 1}`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "LoadAttrOrNil")
	assert.Contains(t, dis, "PopJumpForwardIfNotNil")
}

func TestOptionalChaining(t *testing.T) {
	input := `let m = {}; m?.x`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	dis := compiler.Bytecode().Instructions.String()
	assert.Contains(t, dis, "LoadAttrOrNil")
}

func TestBuiltinLoadsFromConstantPool(t *testing.T) {
	input := `len([1, 2, 3])`
	compiler := New()
	program := parseProgram(t, input)
	require.NoError(t, compiler.Compile(program))

	sym, ok := compiler.symbolTable.Resolve("len")
	require.True(t, ok)
	assert.Equal(t, BuiltinScope, sym.Scope)

	bc := compiler.Bytecode()
	_, ok = bc.Constants[sym.Index].(*object.Builtin)
	assert.True(t, ok, "BuiltinScope's index must address a *object.Builtin constant")
}

// --- helpers -----------------------------------------------------------

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	require.Empty(t, p.Errors(), "parser errors for input %q: %v", input, p.Errors())
	return program
}

func runCompilerTests(t *testing.T, tests []compilerTestCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := parseProgram(t, tt.input)
			compiler := New()
			err := compiler.Compile(program)

			if tt.expectedInstructions == nil {
				assert.Error(t, err, "expected a compile error for %q", tt.input)
				return
			}
			require.NoError(t, err)

			bc := compiler.Bytecode()
			base := len(bc.Constants) - len(tt.expectedConstants)
			require.NoError(t, testInstructions(tt.expectedInstructions(base), bc.Instructions))
			require.NoError(t, testConstants(tt.expectedConstants, bc.Constants))
		})
	}
}

func concatInstructions(s []code.Instructions) code.Instructions {
	var out code.Instructions
	for _, ins := range s {
		out = append(out, ins...)
	}
	return out
}

func testInstructions(expected []code.Instructions, actual code.Instructions) error {
	concatted := concatInstructions(expected)
	if len(actual) != len(concatted) {
		return fmt.Errorf("wrong instruction length.\nwant=%q\ngot =%q", concatted, actual)
	}
	for i, ins := range concatted {
		if actual[i] != ins {
			return fmt.Errorf("wrong slot at %d.\nwant=%q\ngot =%q", i, concatted, actual)
		}
	}
	return nil
}

func testConstants(expected []interface{}, actual []object.Object) error {
	// The constant pool is seeded with every builtin before user constants
	// are ever added, so expected values are checked as a tail slice.
	if len(expected) == 0 {
		return nil
	}
	if len(actual) < len(expected) {
		return fmt.Errorf("not enough constants: want at least %d, got %d", len(expected), len(actual))
	}
	got := actual[len(actual)-len(expected):]
	for i, exp := range expected {
		switch exp := exp.(type) {
		case int64:
			v, ok := got[i].(*object.Int)
			if !ok {
				return fmt.Errorf("constant %d is not an Int, got %T", i, got[i])
			}
			if v.Value != exp {
				return fmt.Errorf("constant %d: want %d, got %d", i, exp, v.Value)
			}
		case string:
			v, ok := got[i].(*object.String)
			if !ok {
				return fmt.Errorf("constant %d is not a String, got %T", i, got[i])
			}
			if v.Value != exp {
				return fmt.Errorf("constant %d: want %q, got %q", i, exp, v.Value)
			}
		default:
			return fmt.Errorf("unsupported expected-constant type %T", exp)
		}
	}
	return nil
}
