package parser

import (
	"fmt"
	"testing"

	"github.com/dr8co/wisp/ast"
	"github.com/dr8co/wisp/lexer"
)

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	l := lexer.New(input)
	p := New(l)
	program := p.ParseProgram()
	checkParserErrors(t, p)
	return program
}

func checkParserErrors(t *testing.T, p *Parser) {
	t.Helper()
	errs := p.Errors()
	if len(errs) == 0 {
		return
	}
	t.Errorf("parser had %d errors", len(errs))
	for _, msg := range errs {
		t.Errorf("parser error: %s", msg)
	}
	t.FailNow()
}

func TestLetStatements(t *testing.T) {
	program := parseProgram(t, "let x = 5; let y = 10; const z = 838383;")
	if len(program.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(program.Statements))
	}

	tests := []struct {
		wantConst bool
		wantName  string
	}{
		{false, "x"},
		{false, "y"},
		{true, "z"},
	}
	for i, tt := range tests {
		stmt, ok := program.Statements[i].(*ast.LetStatement)
		if !ok {
			t.Fatalf("statement %d is not *ast.LetStatement, got %T", i, program.Statements[i])
		}
		if stmt.Const != tt.wantConst {
			t.Errorf("statement %d: expected Const=%v, got %v", i, tt.wantConst, stmt.Const)
		}
		if len(stmt.Names) != 1 || stmt.Names[0].Value != tt.wantName {
			t.Errorf("statement %d: expected name %q, got %v", i, tt.wantName, stmt.Names)
		}
	}
}

func TestMultiBindingLet(t *testing.T) {
	program := parseProgram(t, "let a, b = pair();")
	stmt := program.Statements[0].(*ast.LetStatement)
	if len(stmt.Names) != 2 || stmt.Names[0].Value != "a" || stmt.Names[1].Value != "b" {
		t.Fatalf("expected names [a b], got %v", stmt.Names)
	}
}

func TestObjectDestructure(t *testing.T) {
	program := parseProgram(t, "let { a, b: alias = 1 } = obj;")
	stmt := program.Statements[0].(*ast.LetStatement)
	if stmt.ObjectPat == nil {
		t.Fatalf("expected ObjectPat to be set")
	}
	if len(stmt.ObjectPat.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(stmt.ObjectPat.Fields))
	}
	f0, f1 := stmt.ObjectPat.Fields[0], stmt.ObjectPat.Fields[1]
	if f0.Key != "a" || f0.Alias.Value != "a" {
		t.Errorf("field 0 mismatch: %+v", f0)
	}
	if f1.Key != "b" || f1.Alias.Value != "alias" || f1.Default == nil {
		t.Errorf("field 1 mismatch: %+v", f1)
	}
}

func TestArrayDestructure(t *testing.T) {
	program := parseProgram(t, "let [a, b] = pair;")
	stmt := program.Statements[0].(*ast.LetStatement)
	if stmt.ArrayPat == nil || len(stmt.ArrayPat.Elements) != 2 {
		t.Fatalf("expected array pattern with 2 elements, got %+v", stmt.ArrayPat)
	}
}

func TestReturnStatements(t *testing.T) {
	program := parseProgram(t, "return 5; return true; return;")
	if len(program.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(program.Statements))
	}
	for _, s := range program.Statements {
		if _, ok := s.(*ast.ReturnStatement); !ok {
			t.Errorf("expected *ast.ReturnStatement, got %T", s)
		}
	}
}

func TestThrowAndTryCatchFinally(t *testing.T) {
	input := `
try {
	throw "boom";
} catch e {
	print(e);
} finally {
	cleanup();
}`
	program := parseProgram(t, input)
	stmt, ok := program.Statements[0].(*ast.TryStatement)
	if !ok {
		t.Fatalf("expected *ast.TryStatement, got %T", program.Statements[0])
	}
	if stmt.CatchVar == nil || stmt.CatchVar.Value != "e" {
		t.Fatalf("expected catch var e, got %v", stmt.CatchVar)
	}
	if stmt.CatchBlock == nil || stmt.FinallyBlock == nil {
		t.Fatalf("expected both catch and finally blocks")
	}
	if _, ok := stmt.Block.Statements[0].(*ast.ThrowStatement); !ok {
		t.Fatalf("expected throw statement inside try block")
	}
}

func TestForAndWhile(t *testing.T) {
	program := parseProgram(t, "for x in items { print(x); } while (x < 10) { x += 1; }")
	if _, ok := program.Statements[0].(*ast.ForStatement); !ok {
		t.Fatalf("expected *ast.ForStatement, got %T", program.Statements[0])
	}
	if _, ok := program.Statements[1].(*ast.WhileStatement); !ok {
		t.Fatalf("expected *ast.WhileStatement, got %T", program.Statements[1])
	}
}

func TestOperatorPrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"-a * b", "((-a) * b)"},
		{"!-a", "(!(-a))"},
		{"a + b + c", "((a + b) + c)"},
		{"a + b - c", "((a + b) - c)"},
		{"a * b * c", "((a * b) * c)"},
		{"a + b / c", "(a + (b / c))"},
		{"a ** b ** c", "(a ** (b ** c))"},
		{"3 + 4; -5 * 5", "(3 + 4)((-5) * 5)"},
		{"5 < 4 != 3 > 4", "((5 < 4) != (3 > 4))"},
		{"1 + (2 + 3) + 4", "((1 + (2 + 3)) + 4)"},
		{"a && b || c", "((a && b) || c)"},
		{"a ?? b ?? c", "((a ?? b) ?? c)"},
	}
	for _, tt := range tests {
		program := parseProgram(t, tt.input)
		got := program.String()
		if got != tt.expected {
			t.Errorf("input %q: expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestPipeRewrite(t *testing.T) {
	program := parseProgram(t, "data | filter(pred) | map(fn);")
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expression.(*ast.CallExpression)
	if !ok {
		t.Fatalf("expected outer expression to be a call, got %T", stmt.Expression)
	}
	fnIdent, ok := outer.Function.(*ast.Identifier)
	if !ok || fnIdent.Value != "map" {
		t.Fatalf("expected outer call to be map(...), got %v", outer.Function)
	}
	if len(outer.Arguments) != 2 {
		t.Fatalf("expected 2 arguments after pipe rewrite, got %d", len(outer.Arguments))
	}
	inner, ok := outer.Arguments[0].(*ast.CallExpression)
	if !ok {
		t.Fatalf("expected first argument to be the filter(...) call, got %T", outer.Arguments[0])
	}
	innerFn := inner.Function.(*ast.Identifier)
	if innerFn.Value != "filter" {
		t.Fatalf("expected inner call to be filter(...), got %s", innerFn.Value)
	}
	if len(inner.Arguments) != 2 {
		t.Fatalf("expected 2 arguments on filter call, got %d", len(inner.Arguments))
	}
}

func TestBitwiseOrStaysOrWhenNotFollowedByCall(t *testing.T) {
	program := parseProgram(t, "a | b;")
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	infix, ok := stmt.Expression.(*ast.InfixExpression)
	if !ok {
		t.Fatalf("expected plain infix expression, got %T", stmt.Expression)
	}
	if infix.Operator != "|" {
		t.Fatalf("expected operator |, got %s", infix.Operator)
	}
}

func TestMemberAndOptionalChaining(t *testing.T) {
	program := parseProgram(t, "a.b?.c;")
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expression.(*ast.MemberExpression)
	if !ok || !outer.Optional || outer.Name != "c" {
		t.Fatalf("expected optional member c, got %+v", stmt.Expression)
	}
	inner, ok := outer.Left.(*ast.MemberExpression)
	if !ok || inner.Optional || inner.Name != "b" {
		t.Fatalf("expected non-optional member b, got %+v", outer.Left)
	}
}

func TestIndexAndSlice(t *testing.T) {
	tests := []struct {
		input    string
		wantType string
	}{
		{"a[0];", "index"},
		{"a[1:3];", "slice"},
		{"a[:3];", "slice"},
		{"a[1:];", "slice"},
	}
	for _, tt := range tests {
		program := parseProgram(t, tt.input)
		stmt := program.Statements[0].(*ast.ExpressionStatement)
		switch tt.wantType {
		case "index":
			if _, ok := stmt.Expression.(*ast.IndexExpression); !ok {
				t.Errorf("input %q: expected IndexExpression, got %T", tt.input, stmt.Expression)
			}
		case "slice":
			if _, ok := stmt.Expression.(*ast.SliceExpression); !ok {
				t.Errorf("input %q: expected SliceExpression, got %T", tt.input, stmt.Expression)
			}
		}
	}
}

func TestAssignAndCompoundAssign(t *testing.T) {
	tests := []string{"x = 1;", "x += 1;", "x -= 1;", "x *= 2;", "x /= 2;"}
	for _, input := range tests {
		program := parseProgram(t, input)
		stmt := program.Statements[0].(*ast.ExpressionStatement)
		if _, ok := stmt.Expression.(*ast.AssignExpression); !ok {
			t.Errorf("input %q: expected AssignExpression, got %T", input, stmt.Expression)
		}
	}
}

func TestPostfixIncrementDecrement(t *testing.T) {
	program := parseProgram(t, "x++; y--;")
	for i, op := range []string{"++", "--"} {
		stmt := program.Statements[i].(*ast.ExpressionStatement)
		pe, ok := stmt.Expression.(*ast.PostfixExpression)
		if !ok || pe.Operator != op {
			t.Errorf("statement %d: expected postfix %s, got %+v", i, op, stmt.Expression)
		}
	}
}

func TestSpreadInCallAndArray(t *testing.T) {
	program := parseProgram(t, "f(a, ...rest); [1, ...more, 3];")
	call := program.Statements[0].(*ast.ExpressionStatement).Expression.(*ast.CallExpression)
	if _, ok := call.Arguments[1].(*ast.SpreadExpression); !ok {
		t.Fatalf("expected spread argument, got %T", call.Arguments[1])
	}
	arr := program.Statements[1].(*ast.ExpressionStatement).Expression.(*ast.ArrayLiteral)
	if _, ok := arr.Elements[1].(*ast.SpreadExpression); !ok {
		t.Fatalf("expected spread element, got %T", arr.Elements[1])
	}
}

func TestIfElseIfChain(t *testing.T) {
	input := `if (a) { 1 } else if (b) { 2 } else { 3 }`
	program := parseProgram(t, input)
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expression.(*ast.IfExpression)
	if !ok {
		t.Fatalf("expected IfExpression, got %T", stmt.Expression)
	}
	if outer.Alternative == nil || len(outer.Alternative.Statements) != 1 {
		t.Fatalf("expected alternative block with nested if, got %+v", outer.Alternative)
	}
}

func TestSwitchExpression(t *testing.T) {
	input := `switch (x) { case 1: { a() } case 2, 3: { b() } default: { c() } }`
	program := parseProgram(t, input)
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	sw, ok := stmt.Expression.(*ast.SwitchExpression)
	if !ok {
		t.Fatalf("expected SwitchExpression, got %T", stmt.Expression)
	}
	if len(sw.Cases) != 3 {
		t.Fatalf("expected 3 cases (incl. default), got %d", len(sw.Cases))
	}
	if sw.DefaultAt != 2 {
		t.Fatalf("expected default at index 2, got %d", sw.DefaultAt)
	}
	if len(sw.Cases[1].Values) != 2 {
		t.Fatalf("expected case 2 to have 2 values, got %d", len(sw.Cases[1].Values))
	}
}

func TestMatchExpression(t *testing.T) {
	input := `match x {
		0 => "zero",
		n if n < 0 => "negative",
		_ => "other",
	}`
	program := parseProgram(t, input)
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	m, ok := stmt.Expression.(*ast.MatchExpression)
	if !ok {
		t.Fatalf("expected MatchExpression, got %T", stmt.Expression)
	}
	if len(m.Arms) != 3 {
		t.Fatalf("expected 3 arms, got %d", len(m.Arms))
	}
	if m.Arms[1].Guard == nil {
		t.Fatalf("expected guard on second arm")
	}
	if m.Arms[2].Pattern != nil {
		t.Fatalf("expected wildcard pattern (nil) on last arm, got %v", m.Arms[2].Pattern)
	}
}

func TestFunctionLiteralNamedFromLet(t *testing.T) {
	program := parseProgram(t, "let add = function(a, b) { return a + b; };")
	stmt := program.Statements[0].(*ast.LetStatement)
	fn := stmt.Value.(*ast.FunctionLiteral)
	if fn.Name != "add" {
		t.Fatalf("expected function named add, got %q", fn.Name)
	}
	if len(fn.Parameters) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Parameters))
	}
}

func TestTemplateStringDecomposition(t *testing.T) {
	program := parseProgram(t, "`hello ${name}, sum is ${1 + 2}`;")
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	tpl, ok := stmt.Expression.(*ast.TemplateStringLiteral)
	if !ok {
		t.Fatalf("expected TemplateStringLiteral, got %T", stmt.Expression)
	}
	if len(tpl.Parts) != 4 {
		t.Fatalf("expected 4 parts, got %d: %+v", len(tpl.Parts), tpl.Parts)
	}
	if tpl.Parts[0].IsExpr || tpl.Parts[0].Text != "hello " {
		t.Errorf("part 0 mismatch: %+v", tpl.Parts[0])
	}
	if !tpl.Parts[1].IsExpr {
		t.Errorf("part 1 should be an expression part")
	}
	if !tpl.Parts[3].IsExpr {
		t.Errorf("part 3 should be an expression part")
	}
}

func TestMapLiteralPreservesOrder(t *testing.T) {
	program := parseProgram(t, `{"b": 1, "a": 2, "c": 3};`)
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	m := stmt.Expression.(*ast.MapLiteral)
	want := []string{"b", "a", "c"}
	for i, w := range want {
		key := m.Pairs[i].Key.(*ast.StringLiteral).Value
		if key != w {
			t.Errorf("pair %d: expected key %q, got %q", i, w, key)
		}
	}
}

func TestParserErrorsReported(t *testing.T) {
	l := lexer.New("let x 5;")
	p := New(l)
	p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Fatalf("expected parser errors for malformed let statement")
	}
}

func ExampleParser_ParseProgram() {
	l := lexer.New("1 + 2 * 3")
	p := New(l)
	program := p.ParseProgram()
	fmt.Println(program.String())
	// Output: (1 + (2 * 3))
}
