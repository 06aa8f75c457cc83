// Package compiler lowers a wisp [ast.Node] tree into the bytecode described
// by package code.
//
// Compilation runs in two passes over a [ast.Program]. Pass one scans the
// top-level statements and pre-registers the name of every
// `let f = function(...) {...}` binding, so that sibling top-level
// functions can call each other regardless of textual order. Pass two is
// the ordinary recursive walk that emits instructions.
//
// The compiler is stack-based: every expression, once compiled, leaves
// exactly one value on the operand stack. Statements are net-zero: an
// [ast.ExpressionStatement] pops the value its expression produced, except
// that the program's final top-level expression statement keeps its value on
// the stack as the program's result.
// A handful of opcodes (StoreFast, StoreGlobal, StoreFree, StoreAttr,
// StoreSubscr) push back the value they just stored, so an assignment
// reads naturally as a value-producing expression; callers that only want
// the side effect (a `let`, a destructuring binding) pop it explicitly.
package compiler

import (
	"fmt"

	"github.com/dr8co/wisp/ast"
	"github.com/dr8co/wisp/code"
	"github.com/dr8co/wisp/object"
	"github.com/dr8co/wisp/token"
)

// Compiler walks an AST and accumulates bytecode, constants, and symbol
// bindings for one compilation unit (a whole program, or a REPL line
// compiled against carried-over state).
type Compiler struct {
	constants []object.Object

	symbolTable *SymbolTable

	scopes     []CompilationScope
	scopeIndex int

	// hoisted holds the pass-1 bindings for top-level named function lets,
	// keyed by name, consumed (deleted) the first time pass 2 reaches the
	// matching LetStatement. Only ever populated while compiling a
	// top-level Program; nested scopes never consult it.
	hoisted map[string]Symbol

	// loops is a stack of the enclosing for/while loops, so break/continue
	// know where to jump.
	loops []*loopContext

	// curPos is the source position of the AST node currently being
	// compiled, recorded alongside every slot emit appends.
	curPos object.Position
}

// Bytecode is the compiled output for one unit: its instructions and the
// constant pool they index into.
type Bytecode struct {
	Instructions code.Instructions
	Constants    []object.Object
}

// EmittedInstruction records an instruction's opcode and its starting slot,
// so the compiler can later recognize or rewrite it.
type EmittedInstruction struct {
	Opcode   code.Opcode
	Position int
}

// loopContext tracks the jump targets live inside one enclosing loop.
type loopContext struct {
	// continueTarget is the absolute slot `continue` jumps backward to.
	continueTarget int
	// breakJumps collects the positions of forward-jump placeholders
	// emitted by `break`, patched to the loop's exit once it finishes
	// compiling.
	breakJumps []int
}

// CompilationScope holds one function body's worth of in-progress
// bytecode: its own instruction stream, source-location table, exception
// handler table, and the bookkeeping [Compiler.emit] needs to recognize a
// trailing PopTop.
type CompilationScope struct {
	instructions code.Instructions
	locations    []object.Position
	handlers     []object.ExceptionHandler

	lastInstruction     EmittedInstruction
	previousInstruction EmittedInstruction
}

func newCompilationScope() CompilationScope {
	return CompilationScope{instructions: code.Instructions{}}
}

// New creates a compiler for a fresh program: an empty constant pool and a
// root symbol table pre-loaded with every entry of [object.Builtins].
//
// This opcode set has no dedicated "load builtin" instruction, so builtins
// are threaded through the ordinary constant pool: each is added as a
// *object.Builtin constant, and BuiltinScope's Symbol.Index is that
// constant's pool index rather than a separate builtin-table slot.
func New() *Compiler {
	c := &Compiler{
		symbolTable: NewSymbolTable(),
		scopes:      []CompilationScope{newCompilationScope()},
	}
	for _, b := range object.Builtins {
		idx := c.addConstant(b.Builtin)
		c.symbolTable.DefineBuiltin(idx, b.Name)
	}
	return c
}

// NewWithState creates a compiler that continues compiling against a
// previously-built symbol table and constant pool, for a REPL that
// compiles one line at a time without losing earlier bindings.
func NewWithState(s *SymbolTable, constants []object.Object) *Compiler {
	return &Compiler{
		symbolTable: s,
		constants:   constants,
		scopes:      []CompilationScope{newCompilationScope()},
	}
}

// Compile walks node, emitting bytecode into the current scope.
func (c *Compiler) Compile(node ast.Node) error {
	if pos, ok := nodePos(node); ok {
		c.curPos = pos
	}

	switch node := node.(type) {
	case *ast.Program:
		return c.compileProgram(node)

	case *ast.ExpressionStatement:
		if err := c.Compile(node.Expression); err != nil {
			return err
		}
		c.emit(code.PopTop)
		return nil

	case *ast.BlockStatement:
		for _, s := range node.Statements {
			if err := c.Compile(s); err != nil {
				return err
			}
		}
		return nil

	case *ast.LetStatement:
		return c.compileLet(node)

	case *ast.ReturnStatement:
		if node.ReturnValue != nil {
			if err := c.Compile(node.ReturnValue); err != nil {
				return err
			}
		} else {
			c.emit(code.NilConst)
		}
		c.emit(code.ReturnValue)
		return nil

	case *ast.BreakStatement:
		if len(c.loops) == 0 {
			return fmt.Errorf("break outside of a loop")
		}
		lc := c.loops[len(c.loops)-1]
		lc.breakJumps = append(lc.breakJumps, c.emit(code.JumpForward, 9999))
		return nil

	case *ast.ContinueStatement:
		if len(c.loops) == 0 {
			return fmt.Errorf("continue outside of a loop")
		}
		c.emitJumpBackward(c.loops[len(c.loops)-1].continueTarget)
		return nil

	case *ast.ThrowStatement:
		if err := c.Compile(node.Value); err != nil {
			return err
		}
		c.emit(code.Throw)
		return nil

	case *ast.TryStatement:
		return c.compileTry(node)

	case *ast.ForStatement:
		return c.compileFor(node)

	case *ast.WhileStatement:
		return c.compileWhile(node)

	case *ast.Identifier:
		sym, ok := c.symbolTable.Resolve(node.Value)
		if !ok {
			return fmt.Errorf("undefined variable %q", node.Value)
		}
		return c.loadSymbol(sym)

	case *ast.IntegerLiteral:
		c.emit(code.LoadConst, c.addConstant(&object.Int{Value: node.Value}))
		return nil

	case *ast.FloatLiteral:
		c.emit(code.LoadConst, c.addConstant(&object.Float{Value: node.Value}))
		return nil

	case *ast.StringLiteral:
		c.emit(code.LoadConst, c.addConstant(&object.String{Value: node.Value}))
		return nil

	case *ast.TemplateStringLiteral:
		for _, part := range node.Parts {
			if part.IsExpr {
				if err := c.Compile(part.Expr); err != nil {
					return err
				}
				continue
			}
			c.emit(code.LoadConst, c.addConstant(&object.String{Value: part.Text}))
		}
		c.emit(code.BuildString, len(node.Parts))
		return nil

	case *ast.Boolean:
		if node.Value {
			c.emit(code.True)
		} else {
			c.emit(code.False)
		}
		return nil

	case *ast.NilLiteral:
		c.emit(code.NilConst)
		return nil

	case *ast.PrefixExpression:
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		switch node.Operator {
		case "-":
			c.emit(code.UnaryNegative)
		case "!":
			c.emit(code.UnaryNot)
		default:
			return fmt.Errorf("unknown prefix operator %q", node.Operator)
		}
		return nil

	case *ast.PostfixExpression:
		return c.compilePostfix(node)

	case *ast.InfixExpression:
		return c.compileInfix(node)

	case *ast.AssignExpression:
		return c.compileAssign(node)

	case *ast.IfExpression:
		return c.compileIf(node)

	case *ast.SwitchExpression:
		return c.compileSwitch(node)

	case *ast.MatchExpression:
		return c.compileMatch(node)

	case *ast.FunctionLiteral:
		return c.compileFunctionLiteral(node)

	case *ast.SpreadExpression:
		return c.Compile(node.Value)

	case *ast.CallExpression:
		return c.compileCall(node)

	case *ast.MemberExpression:
		return c.compileMemberRead(node)

	case *ast.ArrayLiteral:
		return c.compileArrayLiteral(node)

	case *ast.IndexExpression:
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		if err := c.Compile(node.Index); err != nil {
			return err
		}
		c.emit(code.BinarySubscr)
		return nil

	case *ast.SliceExpression:
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		if node.Low != nil {
			if err := c.Compile(node.Low); err != nil {
				return err
			}
		} else {
			c.emit(code.NilConst)
		}
		if node.High != nil {
			if err := c.Compile(node.High); err != nil {
				return err
			}
		} else {
			c.emit(code.NilConst)
		}
		c.emit(code.Slice)
		return nil

	case *ast.MapLiteral:
		for _, p := range node.Pairs {
			if err := c.Compile(p.Key); err != nil {
				return err
			}
			if err := c.Compile(p.Value); err != nil {
				return err
			}
		}
		c.emit(code.BuildMap, len(node.Pairs))
		return nil
	}

	return fmt.Errorf("compile: unhandled node type %T", node)
}

func (c *Compiler) compileProgram(node *ast.Program) error {
	c.hoistTopLevel(node.Statements)
	defer func() { c.hoisted = nil }()

	for _, s := range node.Statements {
		if err := c.Compile(s); err != nil {
			return err
		}
	}

	if n := len(node.Statements); n > 0 {
		if _, ok := node.Statements[n-1].(*ast.ExpressionStatement); ok {
			if c.lastInstructionIs(code.PopTop) {
				c.removeLastPop()
			}
			return nil
		}
	}
	c.emit(code.NilConst)
	return nil
}

// hoistTopLevel pre-registers every top-level `let name = function(...) {}`
// binding so sibling statements can reference it before its textual
// definition, enabling forward and mutual recursion between top-level
// functions.
func (c *Compiler) hoistTopLevel(stmts []ast.Statement) {
	c.hoisted = make(map[string]Symbol)
	for _, s := range stmts {
		ls, ok := s.(*ast.LetStatement)
		if !ok || len(ls.Names) != 1 {
			continue
		}
		if _, ok := ls.Value.(*ast.FunctionLiteral); !ok {
			continue
		}
		name := ls.Names[0].Value
		if ls.Const {
			c.hoisted[name] = c.symbolTable.DefineConst(name)
		} else {
			c.hoisted[name] = c.symbolTable.Define(name)
		}
	}
}

// compileLet lowers a `let`/`const` statement: a single binding, a
// multi-binding (`let a, b = expr`), or an object/array destructure.
func (c *Compiler) compileLet(node *ast.LetStatement) error {
	switch {
	case node.ObjectPat != nil:
		return c.compileObjectDestructure(node)
	case node.ArrayPat != nil:
		return c.compileArrayDestructure(node)
	default:
		return c.compileSimpleLet(node)
	}
}

func (c *Compiler) compileSimpleLet(node *ast.LetStatement) error {
	if len(node.Names) == 1 {
		name := node.Names[0].Value

		var sym Symbol
		var hoisted bool
		if c.symbolTable.Outer == nil {
			sym, hoisted = c.hoisted[name]
		}
		if hoisted {
			delete(c.hoisted, name)
		} else if node.Const {
			sym = c.symbolTable.DefineConst(name)
		} else {
			sym = c.symbolTable.Define(name)
		}

		if err := c.Compile(node.Value); err != nil {
			return err
		}
		return c.storeSymbolDiscard(sym)
	}

	if err := c.Compile(node.Value); err != nil {
		return err
	}
	c.emit(code.Unpack, len(node.Names))

	// Unpack leaves the first destination's item on top, so storing in
	// that order drains the stack correctly.
	syms := make([]Symbol, len(node.Names))
	for i, n := range node.Names {
		if node.Const {
			syms[i] = c.symbolTable.DefineConst(n.Value)
		} else {
			syms[i] = c.symbolTable.Define(n.Value)
		}
	}
	for _, sym := range syms {
		if err := c.storeSymbolDiscard(sym); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileObjectDestructure(node *ast.LetStatement) error {
	if err := c.Compile(node.Value); err != nil {
		return err
	}
	for _, f := range node.ObjectPat.Fields {
		c.emit(code.Copy, 0)
		c.emit(code.LoadAttrOrNil, c.addConstant(&object.String{Value: f.Key}))

		if f.Default != nil {
			// On Nil the jump has already popped the value and falls
			// through, so the default takes its place on the stack.
			jmp := c.emit(code.PopJumpForwardIfNotNil, 9999)
			if err := c.Compile(f.Default); err != nil {
				return err
			}
			c.patchForwardJump(jmp)
		}

		var sym Symbol
		if node.Const {
			sym = c.symbolTable.DefineConst(f.Alias.Value)
		} else {
			sym = c.symbolTable.Define(f.Alias.Value)
		}
		if err := c.storeSymbolDiscard(sym); err != nil {
			return err
		}
	}
	c.emit(code.PopTop)
	return nil
}

func (c *Compiler) compileArrayDestructure(node *ast.LetStatement) error {
	if err := c.Compile(node.Value); err != nil {
		return err
	}
	for i, el := range node.ArrayPat.Elements {
		c.emit(code.Copy, 0)
		c.emit(code.LoadConst, c.addConstant(&object.Int{Value: int64(i)}))
		c.emit(code.BinarySubscr)

		var sym Symbol
		if node.Const {
			sym = c.symbolTable.DefineConst(el.Value)
		} else {
			sym = c.symbolTable.Define(el.Value)
		}
		if err := c.storeSymbolDiscard(sym); err != nil {
			return err
		}
	}
	c.emit(code.PopTop)
	return nil
}

// compileIf lowers an if-expression: both arms compile as a
// block-as-expression (their trailing PopTop, if any, is stripped), and a
// missing else leaves Nil.
func (c *Compiler) compileIf(node *ast.IfExpression) error {
	if err := c.Compile(node.Condition); err != nil {
		return err
	}
	elseJmp := c.emit(code.PopJumpForwardIfFalse, 9999)

	if err := c.Compile(node.Consequence); err != nil {
		return err
	}
	if c.lastInstructionIs(code.PopTop) {
		c.removeLastPop()
	}
	endJmp := c.emit(code.JumpForward, 9999)

	c.patchForwardJump(elseJmp)
	if node.Alternative != nil {
		if err := c.Compile(node.Alternative); err != nil {
			return err
		}
		if c.lastInstructionIs(code.PopTop) {
			c.removeLastPop()
		}
	} else {
		c.emit(code.NilConst)
	}
	c.patchForwardJump(endJmp)
	return nil
}

// compileSwitch lowers a switch-expression: the scrutinee is evaluated
// once and kept on the stack for the duration, compared against each
// case's values with CompareOp-Eq, and discarded the moment a case (or the
// default) is about to run.
func (c *Compiler) compileSwitch(node *ast.SwitchExpression) error {
	if err := c.Compile(node.Subject); err != nil {
		return err
	}

	var endJumps []int
	nextCaseJmp := -1

	for i, cs := range node.Cases {
		if nextCaseJmp >= 0 {
			c.patchForwardJump(nextCaseJmp)
			nextCaseJmp = -1
		}

		if i == node.DefaultAt {
			c.emit(code.PopTop)
			if err := c.Compile(cs.Body); err != nil {
				return err
			}
			if c.lastInstructionIs(code.PopTop) {
				c.removeLastPop()
			}
			endJumps = append(endJumps, c.emit(code.JumpForward, 9999))
			continue
		}

		var bodyJumps []int
		for j, v := range cs.Values {
			c.emit(code.Copy, 0)
			if err := c.Compile(v); err != nil {
				return err
			}
			c.emit(code.CompareOp, int(code.CmpEq))
			if j == len(cs.Values)-1 {
				nextCaseJmp = c.emit(code.PopJumpForwardIfFalse, 9999)
			} else {
				bodyJumps = append(bodyJumps, c.emit(code.PopJumpForwardIfTrue, 9999))
			}
		}
		for _, p := range bodyJumps {
			c.patchForwardJump(p)
		}

		c.emit(code.PopTop)
		if err := c.Compile(cs.Body); err != nil {
			return err
		}
		if c.lastInstructionIs(code.PopTop) {
			c.removeLastPop()
		}
		endJumps = append(endJumps, c.emit(code.JumpForward, 9999))
	}

	if nextCaseJmp >= 0 {
		c.patchForwardJump(nextCaseJmp)
	}
	if node.DefaultAt == -1 {
		c.emit(code.PopTop)
		c.emit(code.NilConst)
	}
	for _, p := range endJumps {
		c.patchForwardJump(p)
	}
	return nil
}

// compileMatch lowers a match-expression: a wildcard arm (nil Pattern)
// skips the pattern comparison; an arm's guard is a second, independent
// check that falls through to the next arm (preserving the subject) on
// failure, exactly as a failed pattern comparison would.
func (c *Compiler) compileMatch(node *ast.MatchExpression) error {
	if err := c.Compile(node.Subject); err != nil {
		return err
	}

	var endJumps []int
	var pendingNext []int

	for _, arm := range node.Arms {
		for _, p := range pendingNext {
			c.patchForwardJump(p)
		}
		pendingNext = nil

		if arm.Pattern != nil {
			c.emit(code.Copy, 0)
			if err := c.Compile(arm.Pattern); err != nil {
				return err
			}
			c.emit(code.CompareOp, int(code.CmpEq))
			pendingNext = append(pendingNext, c.emit(code.PopJumpForwardIfFalse, 9999))
		}

		if arm.Guard != nil {
			if err := c.Compile(arm.Guard); err != nil {
				return err
			}
			pendingNext = append(pendingNext, c.emit(code.PopJumpForwardIfFalse, 9999))
		}

		c.emit(code.PopTop)
		if err := c.Compile(arm.Result); err != nil {
			return err
		}
		endJumps = append(endJumps, c.emit(code.JumpForward, 9999))
	}

	for _, p := range pendingNext {
		c.patchForwardJump(p)
	}
	// No arm matched: discard the subject and yield Nil. Reachable only
	// when the match has no trailing wildcard arm.
	c.emit(code.PopTop)
	c.emit(code.NilConst)

	for _, p := range endJumps {
		c.patchForwardJump(p)
	}
	return nil
}

// compileWhile lowers `while (cond) { body }`.
func (c *Compiler) compileWhile(node *ast.WhileStatement) error {
	condPos := len(c.currentInstructions())
	lc := &loopContext{continueTarget: condPos}
	c.loops = append(c.loops, lc)

	if err := c.Compile(node.Condition); err != nil {
		return err
	}
	exitJmp := c.emit(code.PopJumpForwardIfFalse, 9999)

	if err := c.Compile(node.Body); err != nil {
		return err
	}
	c.emitJumpBackward(condPos)

	c.patchForwardJump(exitJmp)
	for _, p := range lc.breakJumps {
		c.patchForwardJump(p)
	}
	c.loops = c.loops[:len(c.loops)-1]
	return nil
}

// compileFor lowers `for x in iterable { body }`. There is no dedicated
// iterator-advance opcode: the loop drives object.Iterator's "remaining"
// and "next" methods through ordinary LoadAttr/Call, after normalizing the
// iterable with the "iter" builtin.
func (c *Compiler) compileFor(node *ast.ForStatement) error {
	iterSym, ok := c.symbolTable.Resolve("iter")
	if !ok {
		return fmt.Errorf("internal: builtin %q not defined", "iter")
	}
	if err := c.loadSymbol(iterSym); err != nil {
		return err
	}
	if err := c.Compile(node.Iterable); err != nil {
		return err
	}
	c.emit(code.Call, 1)

	loopVar := c.symbolTable.Define(node.Var.Value)

	topPos := len(c.currentInstructions())
	lc := &loopContext{continueTarget: topPos}
	c.loops = append(c.loops, lc)

	c.emit(code.Copy, 0)
	c.emit(code.LoadAttr, c.addConstant(&object.String{Value: "remaining"}))
	c.emit(code.Call, 0)
	c.emit(code.LoadConst, c.addConstant(&object.Int{Value: 0}))
	c.emit(code.CompareOp, int(code.CmpGt))
	exitJmp := c.emit(code.PopJumpForwardIfFalse, 9999)

	c.emit(code.Copy, 0)
	c.emit(code.LoadAttr, c.addConstant(&object.String{Value: "next"}))
	c.emit(code.Call, 0)
	if err := c.storeSymbolDiscard(loopVar); err != nil {
		return err
	}

	if err := c.Compile(node.Body); err != nil {
		return err
	}
	c.emitJumpBackward(topPos)

	c.patchForwardJump(exitJmp)
	for _, p := range lc.breakJumps {
		c.patchForwardJump(p)
	}
	c.emit(code.PopTop) // discard the iterator
	c.loops = c.loops[:len(c.loops)-1]
	return nil
}

// compileTry lowers try/catch/finally. The finally region, when present,
// is the single landing point for normal completion of the try body *and*
// normal completion of the catch body; EndFinally re-raises whatever the
// unwinder left pending.
func (c *Compiler) compileTry(node *ast.TryStatement) error {
	pushPos := c.emit(code.PushExcept, 9999, 9999)
	tryStart := len(c.currentInstructions())

	if err := c.Compile(node.Block); err != nil {
		return err
	}
	c.emit(code.PopExcept)
	normalJmp := c.emit(code.JumpForward, 9999)
	tryEnd := len(c.currentInstructions())

	catchOffset := code.NoHandler
	catchEndJmp := -1
	if node.CatchBlock != nil {
		catchOffset = len(c.currentInstructions())
		if node.CatchVar != nil {
			sym := c.symbolTable.Define(node.CatchVar.Value)
			if err := c.storeSymbolDiscard(sym); err != nil {
				return err
			}
		} else {
			c.emit(code.PopTop)
		}
		if err := c.Compile(node.CatchBlock); err != nil {
			return err
		}
		catchEndJmp = c.emit(code.JumpForward, 9999)
	}

	finallyOffset := code.NoHandler
	if node.FinallyBlock != nil {
		finallyOffset = len(c.currentInstructions())
	}

	c.patchForwardJump(normalJmp)
	if catchEndJmp >= 0 {
		c.patchForwardJump(catchEndJmp)
	}

	if node.FinallyBlock != nil {
		if err := c.Compile(node.FinallyBlock); err != nil {
			return err
		}
		c.emit(code.EndFinally)
	}

	c.changeOperands(pushPos, catchOffset, finallyOffset)
	c.scopes[c.scopeIndex].handlers = append(c.scopes[c.scopeIndex].handlers, object.ExceptionHandler{
		TryStart:      tryStart,
		TryEnd:        tryEnd,
		CatchOffset:   catchOffset,
		FinallyOffset: finallyOffset,
	})
	return nil
}

// compileCall lowers a call expression. Method calls (`obj.method(args)`)
// need no special handling here: MemberExpression already compiles to a
// bound callable (see [Compiler.compileMemberRead] and
// object.LookupMethod), so an ordinary call against that value is correct.
// This departs from attaching the receiver as an explicit first argument;
// see the design notes for the reasoning.
func (c *Compiler) compileCall(node *ast.CallExpression) error {
	if err := c.Compile(node.Function); err != nil {
		return err
	}
	hasSpread := false
	for _, a := range node.Arguments {
		if err := c.Compile(a); err != nil {
			return err
		}
		if _, ok := a.(*ast.SpreadExpression); ok {
			hasSpread = true
		}
	}
	if hasSpread {
		c.emit(code.CallSpread, len(node.Arguments))
	} else {
		c.emit(code.Call, len(node.Arguments))
	}
	return nil
}

// compileMemberRead lowers `a.b` / `a?.b`. The optional form uses the
// dedicated LoadAttrOrNil opcode, which short-circuits to Nil itself when
// the receiver is Nil instead of attempting (and failing) the lookup.
func (c *Compiler) compileMemberRead(node *ast.MemberExpression) error {
	if err := c.Compile(node.Left); err != nil {
		return err
	}
	nameIdx := c.addConstant(&object.String{Value: node.Name})
	if node.Optional {
		c.emit(code.LoadAttrOrNil, nameIdx)
	} else {
		c.emit(code.LoadAttr, nameIdx)
	}
	return nil
}

func (c *Compiler) compileArrayLiteral(node *ast.ArrayLiteral) error {
	hasSpread := false
	for _, el := range node.Elements {
		if _, ok := el.(*ast.SpreadExpression); ok {
			hasSpread = true
			break
		}
	}
	if !hasSpread {
		for _, el := range node.Elements {
			if err := c.Compile(el); err != nil {
				return err
			}
		}
		c.emit(code.BuildList, len(node.Elements))
		return nil
	}

	c.emit(code.BuildList, 0)
	for _, el := range node.Elements {
		if sp, ok := el.(*ast.SpreadExpression); ok {
			if err := c.Compile(sp.Value); err != nil {
				return err
			}
			c.emit(code.ListExtend, 0)
			continue
		}
		if err := c.Compile(el); err != nil {
			return err
		}
		c.emit(code.ListAppend, 0)
	}
	return nil
}

// compileInfix lowers a binary-operator expression. `&&`, `||`, and `??`
// short-circuit via jumps rather than BinaryOp; `in` uses the dedicated
// ContainsOp; everything else maps onto BinaryOp/CompareOp.
func (c *Compiler) compileInfix(node *ast.InfixExpression) error {
	switch node.Operator {
	case "&&":
		return c.compileAnd(node.Left, node.Right)
	case "||":
		return c.compileOr(node.Left, node.Right)
	case "??":
		return c.compileNullish(node.Left, node.Right)
	case "in":
		if err := c.Compile(node.Left); err != nil {
			return err
		}
		if err := c.Compile(node.Right); err != nil {
			return err
		}
		c.emit(code.ContainsOp, 0)
		return nil
	}

	if err := c.Compile(node.Left); err != nil {
		return err
	}
	if err := c.Compile(node.Right); err != nil {
		return err
	}
	if binOp, ok := binOpFor(node.Operator); ok {
		c.emit(code.BinaryOp, int(binOp))
		return nil
	}
	if cmpOp, ok := cmpOpFor(node.Operator); ok {
		c.emit(code.CompareOp, int(cmpOp))
		return nil
	}
	return fmt.Errorf("unknown infix operator %q", node.Operator)
}

// compileAnd/compileOr push a boolean literal on the short-circuited path
// and the right operand's own value otherwise, per the language's
// short-circuit semantics (these do not pass through the left operand's
// own value the way a value-passthrough `&&`/`||` would).
func (c *Compiler) compileAnd(left, right ast.Expression) error {
	if err := c.Compile(left); err != nil {
		return err
	}
	falseJmp := c.emit(code.PopJumpForwardIfFalse, 9999)
	if err := c.Compile(right); err != nil {
		return err
	}
	endJmp := c.emit(code.JumpForward, 9999)
	c.patchForwardJump(falseJmp)
	c.emit(code.False)
	c.patchForwardJump(endJmp)
	return nil
}

func (c *Compiler) compileOr(left, right ast.Expression) error {
	if err := c.Compile(left); err != nil {
		return err
	}
	trueJmp := c.emit(code.PopJumpForwardIfTrue, 9999)
	if err := c.Compile(right); err != nil {
		return err
	}
	endJmp := c.emit(code.JumpForward, 9999)
	c.patchForwardJump(trueJmp)
	c.emit(code.True)
	c.patchForwardJump(endJmp)
	return nil
}

func (c *Compiler) compileNullish(left, right ast.Expression) error {
	if err := c.Compile(left); err != nil {
		return err
	}
	notNilJmp := c.emit(code.PopJumpForwardIfNotNil, 9999)
	if err := c.Compile(right); err != nil {
		return err
	}
	c.patchForwardJump(notNilJmp)
	return nil
}

func (c *Compiler) compileAssign(node *ast.AssignExpression) error {
	switch target := node.Target.(type) {
	case *ast.Identifier:
		return c.compileIdentAssign(target, node.Operator, node.Value)
	case *ast.MemberExpression:
		return c.compileMemberAssign(target, node.Operator, node.Value)
	case *ast.IndexExpression:
		return c.compileIndexAssign(target, node.Operator, node.Value)
	default:
		return fmt.Errorf("invalid assignment target %s", node.Target.String())
	}
}

func (c *Compiler) compileIdentAssign(target *ast.Identifier, op string, value ast.Expression) error {
	sym, ok := c.symbolTable.Resolve(target.Value)
	if !ok {
		return fmt.Errorf("undefined variable %q", target.Value)
	}
	if sym.Const {
		return fmt.Errorf("cannot assign to const %q", target.Value)
	}

	if op == "=" {
		if err := c.Compile(value); err != nil {
			return err
		}
	} else {
		if err := c.loadSymbol(sym); err != nil {
			return err
		}
		if err := c.Compile(value); err != nil {
			return err
		}
		binOp, err := compoundBinOp(op)
		if err != nil {
			return err
		}
		c.emit(code.BinaryOp, int(binOp))
	}
	return c.storeSymbol(sym)
}

// compileMemberAssign lowers `a.b = v` / `a.b += v`. StoreAttr's pop order
// (value on top, receiver below) matches the natural left-to-right
// evaluation order exactly, so neither form needs a Swap.
func (c *Compiler) compileMemberAssign(target *ast.MemberExpression, op string, value ast.Expression) error {
	if err := c.Compile(target.Left); err != nil {
		return err
	}
	nameIdx := c.addConstant(&object.String{Value: target.Name})

	if op == "=" {
		if err := c.Compile(value); err != nil {
			return err
		}
	} else {
		c.emit(code.Copy, 0)
		c.emit(code.LoadAttr, nameIdx)
		if err := c.Compile(value); err != nil {
			return err
		}
		binOp, err := compoundBinOp(op)
		if err != nil {
			return err
		}
		c.emit(code.BinaryOp, int(binOp))
	}
	c.emit(code.StoreAttr, nameIdx)
	return nil
}

// compileIndexAssign lowers `a[i] = v` / `a[i] += v`. The compound form
// needs two duplicates (receiver, then index) to read the current value
// without disturbing the pair StoreSubscr expects underneath the new one.
func (c *Compiler) compileIndexAssign(target *ast.IndexExpression, op string, value ast.Expression) error {
	if err := c.Compile(target.Left); err != nil {
		return err
	}
	if err := c.Compile(target.Index); err != nil {
		return err
	}

	if op == "=" {
		if err := c.Compile(value); err != nil {
			return err
		}
	} else {
		c.emit(code.Copy, 1)
		c.emit(code.Copy, 1)
		c.emit(code.BinarySubscr)
		if err := c.Compile(value); err != nil {
			return err
		}
		binOp, err := compoundBinOp(op)
		if err != nil {
			return err
		}
		c.emit(code.BinaryOp, int(binOp))
	}
	c.emit(code.StoreSubscr)
	return nil
}

// compilePostfix lowers `x++`/`x--`. The expression's value is the operand
// *before* the operator applies. For an identifier target this reads and
// writes it exactly once; for member/index targets it re-evaluates the
// receiver (and, for index, the subscript) a second time by delegating to
// the compound-assignment lowering, which is only observably different
// from a single evaluation when that sub-expression has side effects.
func (c *Compiler) compilePostfix(node *ast.PostfixExpression) error {
	op := "+="
	if node.Operator == "--" {
		op = "-="
	}

	switch target := node.Left.(type) {
	case *ast.Identifier:
		sym, ok := c.symbolTable.Resolve(target.Value)
		if !ok {
			return fmt.Errorf("undefined variable %q", target.Value)
		}
		if sym.Const {
			return fmt.Errorf("cannot assign to const %q", target.Value)
		}
		if err := c.loadSymbol(sym); err != nil {
			return err
		}
		c.emit(code.Copy, 0)
		c.emit(code.LoadConst, c.addConstant(&object.Int{Value: 1}))
		binOp, _ := compoundBinOp(op)
		c.emit(code.BinaryOp, int(binOp))
		if err := c.storeSymbol(sym); err != nil {
			return err
		}
		c.emit(code.PopTop)
		return nil

	case *ast.MemberExpression:
		if err := c.Compile(target); err != nil {
			return err
		}
		if err := c.compileMemberAssign(target, op, oneLiteral()); err != nil {
			return err
		}
		c.emit(code.PopTop)
		return nil

	case *ast.IndexExpression:
		if err := c.Compile(target); err != nil {
			return err
		}
		if err := c.compileIndexAssign(target, op, oneLiteral()); err != nil {
			return err
		}
		c.emit(code.PopTop)
		return nil

	default:
		return fmt.Errorf("invalid postfix target %s", node.Left.String())
	}
}

func oneLiteral() ast.Expression { return &ast.IntegerLiteral{Value: 1} }

func compoundBinOp(op string) (code.BinOp, error) {
	switch op {
	case "+=":
		return code.OpAdd, nil
	case "-=":
		return code.OpSub, nil
	case "*=":
		return code.OpMul, nil
	case "/=":
		return code.OpDiv, nil
	}
	return 0, fmt.Errorf("unknown assignment operator %q", op)
}

func binOpFor(op string) (code.BinOp, bool) {
	switch op {
	case "+":
		return code.OpAdd, true
	case "-":
		return code.OpSub, true
	case "*":
		return code.OpMul, true
	case "/":
		return code.OpDiv, true
	case "%":
		return code.OpMod, true
	case "**":
		return code.OpPower, true
	case "&":
		return code.OpBitwiseAnd, true
	case "|":
		return code.OpBitwiseOr, true
	case "^":
		return code.OpXor, true
	case "<<":
		return code.OpLShift, true
	case ">>":
		return code.OpRShift, true
	}
	return 0, false
}

func cmpOpFor(op string) (code.CmpOp, bool) {
	switch op {
	case "<":
		return code.CmpLt, true
	case "<=":
		return code.CmpLe, true
	case ">":
		return code.CmpGt, true
	case ">=":
		return code.CmpGe, true
	case "==":
		return code.CmpEq, true
	case "!=":
		return code.CmpNe, true
	}
	return 0, false
}

// compileFunctionLiteral emits a function body as a child code unit. A
// function with no captured variables is pushed as a bare constant (the
// VM wraps it as a closure with no upvalues on load); one with captures
// wraps each upvalue in a MakeCell and consumes them with LoadClosure.
func (c *Compiler) compileFunctionLiteral(node *ast.FunctionLiteral) error {
	c.enterScope()

	for _, p := range node.Parameters {
		c.symbolTable.Define(p.Value)
	}

	if err := c.Compile(node.Body); err != nil {
		return err
	}
	if c.lastInstructionIs(code.PopTop) {
		c.replaceLastPopWithReturn()
	}
	if !c.lastInstructionIs(code.ReturnValue) {
		c.emit(code.NilConst)
		c.emit(code.ReturnValue)
	}

	freeSymbols := c.symbolTable.FreeSymbols
	numLocals := c.symbolTable.numDefinitions
	instructions, locations, handlers := c.leaveScope()

	fn := &object.CompiledFunction{
		Name:          node.Name,
		Instructions:  instructions,
		NumLocals:     numLocals,
		NumParameters: len(node.Parameters),
		Locations:     locations,
		Handlers:      handlers,
	}
	constIdx := c.addConstant(fn)

	if len(freeSymbols) == 0 {
		c.emit(code.LoadConst, constIdx)
		return nil
	}

	for _, s := range freeSymbols {
		switch s.Scope {
		case LocalScope:
			c.emit(code.MakeCell, s.Index, 0)
		case FreeScope:
			c.emit(code.MakeCell, s.Index, 1)
		default:
			return fmt.Errorf("cannot capture %s binding %q as an upvalue", s.Scope, s.Name)
		}
	}
	c.emit(code.LoadClosure, constIdx, len(freeSymbols))
	return nil
}

// storeSymbol emits the scope-appropriate store opcode, leaving the
// stored value on the stack (every Store* opcode pushes back what it
// stored).
func (c *Compiler) storeSymbol(s Symbol) error {
	switch s.Scope {
	case GlobalScope:
		c.emit(code.StoreGlobal, s.Index)
	case LocalScope:
		c.emit(code.StoreFast, s.Index)
	case FreeScope:
		c.emit(code.StoreFree, s.Index)
	default:
		return fmt.Errorf("cannot assign to a %s binding", s.Scope)
	}
	return nil
}

// storeSymbolDiscard stores and then pops the self-returned value, for the
// statement contexts (let, destructuring bindings) that only want the
// side effect.
func (c *Compiler) storeSymbolDiscard(s Symbol) error {
	if err := c.storeSymbol(s); err != nil {
		return err
	}
	c.emit(code.PopTop)
	return nil
}

// loadSymbol emits the scope-appropriate load opcode.
func (c *Compiler) loadSymbol(s Symbol) error {
	switch s.Scope {
	case GlobalScope:
		c.emit(code.LoadGlobal, s.Index)
	case LocalScope:
		c.emit(code.LoadFast, s.Index)
	case BuiltinScope:
		c.emit(code.LoadConst, s.Index)
	case FreeScope:
		c.emit(code.LoadFree, s.Index)
	default:
		return fmt.Errorf("cannot load a %s binding", s.Scope)
	}
	return nil
}

// addConstant returns the index of obj in the constant pool, appending it
// first unless an equal Int or String constant is already there. Every
// other kind, Float included, gets a fresh slot.
func (c *Compiler) addConstant(obj object.Object) int {
	for i, existing := range c.constants {
		switch v := obj.(type) {
		case *object.Int:
			if e, ok := existing.(*object.Int); ok && e.Value == v.Value {
				return i
			}
		case *object.String:
			if e, ok := existing.(*object.String); ok && e.Value == v.Value {
				return i
			}
		}
	}
	c.constants = append(c.constants, obj)
	return len(c.constants) - 1
}

// emit encodes op/operands, appends it to the current scope, and records
// curPos for every slot it occupies.
func (c *Compiler) emit(op code.Opcode, operands ...int) int {
	ins := code.Make(op, operands...)
	pos := c.addInstruction(ins)
	locs := c.scopes[c.scopeIndex].locations
	for range ins {
		locs = append(locs, c.curPos)
	}
	c.scopes[c.scopeIndex].locations = locs
	c.setLastInstruction(op, pos)
	return pos
}

func (c *Compiler) setLastInstruction(op code.Opcode, pos int) {
	previous := c.scopes[c.scopeIndex].lastInstruction
	c.scopes[c.scopeIndex].previousInstruction = previous
	c.scopes[c.scopeIndex].lastInstruction = EmittedInstruction{Opcode: op, Position: pos}
}

func (c *Compiler) addInstruction(ins code.Instructions) int {
	pos := len(c.currentInstructions())
	c.scopes[c.scopeIndex].instructions = append(c.currentInstructions(), ins...)
	return pos
}

// Bytecode returns the compiled instructions and constant pool for the
// current (outermost, after compiling a whole program) scope.
func (c *Compiler) Bytecode() *Bytecode {
	return &Bytecode{
		Instructions: c.currentInstructions(),
		Constants:    c.constants,
	}
}

func (c *Compiler) lastInstructionIs(op code.Opcode) bool {
	if len(c.currentInstructions()) == 0 {
		return false
	}
	return c.scopes[c.scopeIndex].lastInstruction.Opcode == op
}

func (c *Compiler) removeLastPop() {
	last := c.scopes[c.scopeIndex].lastInstruction
	previous := c.scopes[c.scopeIndex].previousInstruction

	c.scopes[c.scopeIndex].instructions = c.currentInstructions()[:last.Position]
	c.scopes[c.scopeIndex].locations = c.scopes[c.scopeIndex].locations[:last.Position]
	c.scopes[c.scopeIndex].lastInstruction = previous
}

func (c *Compiler) replaceInstruction(pos int, newInstruction code.Instructions) {
	ins := c.currentInstructions()
	for i := 0; i < len(newInstruction); i++ {
		ins[pos+i] = newInstruction[i]
	}
}

func (c *Compiler) changeOperand(opPos int, operand int) {
	op := code.Opcode(c.currentInstructions()[opPos])
	c.replaceInstruction(opPos, code.Make(op, operand))
}

func (c *Compiler) changeOperands(opPos int, operands ...int) {
	op := code.Opcode(c.currentInstructions()[opPos])
	c.replaceInstruction(opPos, code.Make(op, operands...))
}

// patchForwardJump rewrites the operand of the JumpForward/
// PopJumpForward* instruction at pos so it lands on the current tail of
// the instruction stream.
func (c *Compiler) patchForwardJump(pos int) {
	op := code.Opcode(c.currentInstructions()[pos])
	afterInstr := pos + code.SlotWidth(op)
	target := len(c.currentInstructions())
	c.changeOperand(pos, target-afterInstr)
}

// emitJumpBackward emits a JumpBackward to targetPos, an already-emitted
// position earlier in the current scope's instructions.
func (c *Compiler) emitJumpBackward(targetPos int) int {
	pos := c.emit(code.JumpBackward, 9999)
	afterInstr := pos + code.SlotWidth(code.JumpBackward)
	c.changeOperand(pos, afterInstr-targetPos)
	return pos
}

func (c *Compiler) currentInstructions() code.Instructions {
	return c.scopes[c.scopeIndex].instructions
}

func (c *Compiler) enterScope() {
	c.scopes = append(c.scopes, newCompilationScope())
	c.scopeIndex++
	c.symbolTable = NewEnclosedSymbolTable(c.symbolTable)
}

func (c *Compiler) leaveScope() (code.Instructions, []object.Position, []object.ExceptionHandler) {
	scope := c.scopes[c.scopeIndex]
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.scopeIndex--
	c.symbolTable = c.symbolTable.Outer
	return scope.instructions, scope.locations, scope.handlers
}

func (c *Compiler) replaceLastPopWithReturn() {
	lastPos := c.scopes[c.scopeIndex].lastInstruction.Position
	c.replaceInstruction(lastPos, code.Make(code.ReturnValue))
	c.scopes[c.scopeIndex].lastInstruction.Opcode = code.ReturnValue
}

// nodePos extracts the source position of node's token, for the handful
// of node kinds that carry one. Nodes with no Token field of their own
// (Program, the destructuring-pattern types) report false, leaving curPos
// at whatever it was last set to.
func nodePos(node ast.Node) (object.Position, bool) {
	var tok token.Token
	switch n := node.(type) {
	case *ast.Identifier:
		tok = n.Token
	case *ast.LetStatement:
		tok = n.Token
	case *ast.ReturnStatement:
		tok = n.Token
	case *ast.BreakStatement:
		tok = n.Token
	case *ast.ContinueStatement:
		tok = n.Token
	case *ast.ThrowStatement:
		tok = n.Token
	case *ast.TryStatement:
		tok = n.Token
	case *ast.ForStatement:
		tok = n.Token
	case *ast.WhileStatement:
		tok = n.Token
	case *ast.ExpressionStatement:
		tok = n.Token
	case *ast.BlockStatement:
		tok = n.Token
	case *ast.IntegerLiteral:
		tok = n.Token
	case *ast.FloatLiteral:
		tok = n.Token
	case *ast.StringLiteral:
		tok = n.Token
	case *ast.TemplateStringLiteral:
		tok = n.Token
	case *ast.Boolean:
		tok = n.Token
	case *ast.NilLiteral:
		tok = n.Token
	case *ast.PrefixExpression:
		tok = n.Token
	case *ast.PostfixExpression:
		tok = n.Token
	case *ast.InfixExpression:
		tok = n.Token
	case *ast.AssignExpression:
		tok = n.Token
	case *ast.IfExpression:
		tok = n.Token
	case *ast.SwitchExpression:
		tok = n.Token
	case *ast.MatchExpression:
		tok = n.Token
	case *ast.FunctionLiteral:
		tok = n.Token
	case *ast.SpreadExpression:
		tok = n.Token
	case *ast.CallExpression:
		tok = n.Token
	case *ast.MemberExpression:
		tok = n.Token
	case *ast.ArrayLiteral:
		tok = n.Token
	case *ast.IndexExpression:
		tok = n.Token
	case *ast.SliceExpression:
		tok = n.Token
	case *ast.MapLiteral:
		tok = n.Token
	default:
		return object.Position{}, false
	}
	return object.Position{Line: tok.Line, Column: tok.Column}, true
}
