// Package parser implements the syntactic analyzer for the wisp programming
// language.
//
// The parser takes a stream of tokens from the lexer and constructs an
// abstract syntax tree (AST) that represents the structure of the program.
// It implements a recursive-descent parser with Pratt parsing (precedence
// climbing) for expressions.
//
// Key features:
//   - Top-down parsing of statements and expressions
//   - Precedence-based expression parsing, including a postfix table for
//     `++`/`--`
//   - Error reporting with source positions
//   - Support for every construct in the language surface: let/const
//     (including multi-binding and object/array destructuring), if, switch,
//     match, try/catch/finally, throw, for/while, spread, pipe, optional
//     chaining and template strings
//
// The main entry point is [New], which creates a new [Parser], and
// [Parser.ParseProgram], which parses a complete wisp program and returns an
// AST.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dr8co/wisp/ast"
	"github.com/dr8co/wisp/lexer"
	"github.com/dr8co/wisp/token"
)

// Operator precedence levels, lowest to highest.
const (
	_ int = iota
	Lowest
	AssignPrec  // = += -= *= /=
	NullishPrec // ??
	OrPrec      // ||
	AndPrec     // &&
	BitOrPrec   // | (also pipe)
	BitXorPrec
	BitAndPrec
	EqualsPrec // == !=
	InPrec     // in
	CompPrec   // < <= > >=
	ShiftPrec  // << >>
	SumPrec    // + -
	ProductPrec
	PowerPrec
	PrefixPrec // -x !x not x
	PostfixPrec
	CallPrec // f(x), a.b, a[b]
)

var precedences = map[token.Type]int{
	token.Assign:         AssignPrec,
	token.PlusAssign:     AssignPrec,
	token.MinusAssign:    AssignPrec,
	token.AsteriskAssign: AssignPrec,
	token.SlashAssign:    AssignPrec,
	token.Nullish:        NullishPrec,
	token.Or:             OrPrec,
	token.And:            AndPrec,
	token.BitOr:          BitOrPrec,
	token.BitXor:         BitXorPrec,
	token.BitAnd:         BitAndPrec,
	token.Eq:             EqualsPrec,
	token.NotEq:          EqualsPrec,
	token.In:             InPrec,
	token.Lt:             CompPrec,
	token.Lte:            CompPrec,
	token.Gt:             CompPrec,
	token.Gte:            CompPrec,
	token.LShift:         ShiftPrec,
	token.RShift:         ShiftPrec,
	token.Plus:           SumPrec,
	token.Minus:          SumPrec,
	token.Slash:          ProductPrec,
	token.Asterisk:       ProductPrec,
	token.Percent:        ProductPrec,
	token.Power:          PowerPrec,
	token.Increment:      PostfixPrec,
	token.Decrement:      PostfixPrec,
	token.Lparen:         CallPrec,
	token.Lbracket:       CallPrec,
	token.Dot:            CallPrec,
	token.OptionalDot:    CallPrec,
}

type (
	prefixParseFn  func() ast.Expression
	infixParseFn   func(ast.Expression) ast.Expression
	postfixParseFn func(ast.Expression) ast.Expression
)

// Parser turns a token stream into an [ast.Program].
type Parser struct {
	l      *lexer.Lexer
	errors []string

	currentToken token.Token
	peekToken    token.Token

	prefixParseFns  map[token.Type]prefixParseFn
	infixParseFns   map[token.Type]infixParseFn
	postfixParseFns map[token.Type]postfixParseFn
}

// New creates a new Parser reading from l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, errors: []string{}}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.Ident, p.parseIdentifier)
	p.registerPrefix(token.Int, p.parseIntegerLiteral)
	p.registerPrefix(token.Float, p.parseFloatLiteral)
	p.registerPrefix(token.Bang, p.parsePrefixExpression)
	p.registerPrefix(token.Not, p.parsePrefixExpression)
	p.registerPrefix(token.Minus, p.parsePrefixExpression)
	p.registerPrefix(token.True, p.parseBoolean)
	p.registerPrefix(token.False, p.parseBoolean)
	p.registerPrefix(token.Nil, p.parseNilLiteral)
	p.registerPrefix(token.Lparen, p.parseGroupedExpression)
	p.registerPrefix(token.If, p.parseIfExpression)
	p.registerPrefix(token.Switch, p.parseSwitchExpression)
	p.registerPrefix(token.Match, p.parseMatchExpression)
	p.registerPrefix(token.Function, p.parseFunctionLiteral)
	p.registerPrefix(token.String, p.parseStringLiteral)
	p.registerPrefix(token.TemplateString, p.parseTemplateStringLiteral)
	p.registerPrefix(token.Lbracket, p.parseArrayLiteral)
	p.registerPrefix(token.Lbrace, p.parseMapLiteral)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	for _, t := range []token.Type{
		token.Plus, token.Minus, token.Slash, token.Asterisk, token.Percent, token.Power,
		token.Eq, token.NotEq, token.Lt, token.Lte, token.Gt, token.Gte,
		token.And, token.Or, token.Nullish, token.BitAnd, token.BitXor,
		token.LShift, token.RShift, token.In,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.BitOr, p.parseBitOrOrPipe)
	p.registerInfix(token.Lparen, p.parseCallExpression)
	p.registerInfix(token.Lbracket, p.parseIndexOrSliceExpression)
	p.registerInfix(token.Dot, p.parseMemberExpression)
	p.registerInfix(token.OptionalDot, p.parseMemberExpression)
	for _, t := range []token.Type{
		token.Assign, token.PlusAssign, token.MinusAssign, token.AsteriskAssign, token.SlashAssign,
	} {
		p.registerInfix(t, p.parseAssignExpression)
	}

	p.postfixParseFns = make(map[token.Type]postfixParseFn)
	p.postfixParseFns[token.Increment] = p.parsePostfixExpression
	p.postfixParseFns[token.Decrement] = p.parsePostfixExpression

	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn)   { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)     { p.infixParseFns[t] = fn }

// Errors returns the syntax errors accumulated while parsing.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) errorf(tok token.Token, format string, args ...any) {
	msg := fmt.Sprintf("line %d column %d: ", tok.Line, tok.Column) + fmt.Sprintf(format, args...)
	p.errors = append(p.errors, msg)
}

func (p *Parser) peekError(t token.Type) {
	p.errorf(p.peekToken, "expected next token to be %s, got %s instead", t, p.peekToken.Type)
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return Lowest
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.currentToken.Type]; ok {
		return pr
	}
	return Lowest
}

func (p *Parser) nextToken() {
	p.currentToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) currentTokenIs(t token.Type) bool { return p.currentToken.Type == t }
func (p *Parser) peekTokenIs(t token.Type) bool    { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// ParseProgram parses a complete wisp program and returns its AST.
//
// Check [Parser.Errors] afterward to see if any parse errors occurred.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{Statements: []ast.Statement{}}

	for !p.currentTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}
	return program
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.currentToken.Type {
	case token.Let:
		return p.parseLetStatement(false)
	case token.Const:
		return p.parseLetStatement(true)
	case token.Return:
		return p.parseReturnStatement()
	case token.Throw:
		return p.parseThrowStatement()
	case token.Try:
		return p.parseTryStatement()
	case token.For:
		return p.parseForStatement()
	case token.While:
		return p.parseWhileStatement()
	case token.Break:
		return &ast.BreakStatement{Token: p.currentToken}
	case token.Continue:
		return &ast.ContinueStatement{Token: p.currentToken}
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseLetStatement(isConst bool) *ast.LetStatement {
	stmt := &ast.LetStatement{Token: p.currentToken, Const: isConst}

	switch {
	case p.peekTokenIs(token.Lbrace):
		p.nextToken()
		stmt.ObjectPat = p.parseObjectPattern()
	case p.peekTokenIs(token.Lbracket):
		p.nextToken()
		stmt.ArrayPat = p.parseArrayPattern()
	default:
		if !p.expectPeek(token.Ident) {
			return nil
		}
		names := []*ast.Identifier{{Token: p.currentToken, Value: p.currentToken.Literal}}
		for p.peekTokenIs(token.Comma) {
			p.nextToken()
			if !p.expectPeek(token.Ident) {
				return nil
			}
			names = append(names, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})
		}
		stmt.Names = names
	}

	if !p.expectPeek(token.Assign) {
		return nil
	}
	p.nextToken()
	stmt.Value = p.parseExpression(Lowest)

	if fl, ok := stmt.Value.(*ast.FunctionLiteral); ok && len(stmt.Names) == 1 {
		fl.Name = stmt.Names[0].Value
	}

	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseObjectPattern() *ast.ObjectPattern {
	pat := &ast.ObjectPattern{}
	for !p.peekTokenIs(token.Rbrace) {
		if !p.expectPeek(token.Ident) {
			return nil
		}
		key := p.currentToken.Literal
		alias := &ast.Identifier{Token: p.currentToken, Value: key}

		if p.peekTokenIs(token.Colon) {
			p.nextToken()
			if !p.expectPeek(token.Ident) {
				return nil
			}
			alias = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
		}

		var def ast.Expression
		if p.peekTokenIs(token.Assign) {
			p.nextToken()
			p.nextToken()
			def = p.parseExpression(Lowest)
		}

		pat.Fields = append(pat.Fields, ast.ObjectPatternField{Key: key, Alias: alias, Default: def})

		if p.peekTokenIs(token.Comma) {
			p.nextToken()
		} else {
			break
		}
	}
	if !p.expectPeek(token.Rbrace) {
		return nil
	}
	return pat
}

func (p *Parser) parseArrayPattern() *ast.ArrayPattern {
	pat := &ast.ArrayPattern{}
	for !p.peekTokenIs(token.Rbracket) {
		if !p.expectPeek(token.Ident) {
			return nil
		}
		pat.Elements = append(pat.Elements, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})
		if p.peekTokenIs(token.Comma) {
			p.nextToken()
		} else {
			break
		}
	}
	if !p.expectPeek(token.Rbracket) {
		return nil
	}
	return pat
}

func (p *Parser) parseReturnStatement() *ast.ReturnStatement {
	stmt := &ast.ReturnStatement{Token: p.currentToken}
	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
		return stmt
	}
	if p.peekTokenIs(token.Rbrace) || p.peekTokenIs(token.EOF) {
		return stmt
	}
	p.nextToken()
	stmt.ReturnValue = p.parseExpression(Lowest)
	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseThrowStatement() *ast.ThrowStatement {
	stmt := &ast.ThrowStatement{Token: p.currentToken}
	p.nextToken()
	stmt.Value = p.parseExpression(Lowest)
	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseTryStatement() *ast.TryStatement {
	stmt := &ast.TryStatement{Token: p.currentToken}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Block = p.parseBlockStatement()

	if p.peekTokenIs(token.Catch) {
		p.nextToken()
		if p.peekTokenIs(token.Ident) {
			p.nextToken()
			stmt.CatchVar = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
		}
		if !p.expectPeek(token.Lbrace) {
			return nil
		}
		stmt.CatchBlock = p.parseBlockStatement()
	}

	if p.peekTokenIs(token.Finally) {
		p.nextToken()
		if !p.expectPeek(token.Lbrace) {
			return nil
		}
		stmt.FinallyBlock = p.parseBlockStatement()
	}

	if stmt.CatchBlock == nil && stmt.FinallyBlock == nil {
		p.errorf(stmt.Token, "try must have a catch and/or finally clause")
	}
	return stmt
}

func (p *Parser) parseForStatement() *ast.ForStatement {
	stmt := &ast.ForStatement{Token: p.currentToken}
	if !p.expectPeek(token.Ident) {
		return nil
	}
	stmt.Var = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
	if !p.expectPeek(token.In) {
		return nil
	}
	p.nextToken()
	stmt.Iterable = p.parseExpression(Lowest)
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

func (p *Parser) parseWhileStatement() *ast.WhileStatement {
	stmt := &ast.WhileStatement{Token: p.currentToken}
	p.nextToken()
	stmt.Condition = p.parseExpression(Lowest)
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

func (p *Parser) parseExpressionStatement() *ast.ExpressionStatement {
	stmt := &ast.ExpressionStatement{Token: p.currentToken}
	stmt.Expression = p.parseExpression(Lowest)
	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.currentToken.Type]
	if prefix == nil {
		p.errorf(p.currentToken, "no prefix parse function for %s found", p.currentToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.Semicolon) && precedence < p.peekPrecedence() {
		if postfix, ok := p.postfixParseFns[p.peekToken.Type]; ok {
			p.nextToken()
			left = postfix(left)
			continue
		}
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	lit := &ast.IntegerLiteral{Token: p.currentToken}
	text := p.currentToken.Literal
	value, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		p.errorf(p.currentToken, "could not parse %q as integer", text)
		return nil
	}
	lit.Value = value
	return lit
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	lit := &ast.FloatLiteral{Token: p.currentToken}
	value, err := strconv.ParseFloat(p.currentToken.Literal, 64)
	if err != nil {
		p.errorf(p.currentToken, "could not parse %q as float", p.currentToken.Literal)
		return nil
	}
	lit.Value = value
	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.currentToken, Value: p.currentToken.Literal}
}

// parseTemplateStringLiteral splits a raw `${...}` template literal into
// text/expression parts, recursively parsing each interpolated expression
// with its own lexer/parser pair.
func (p *Parser) parseTemplateStringLiteral() ast.Expression {
	tok := p.currentToken
	raw := tok.Literal
	lit := &ast.TemplateStringLiteral{Token: tok}

	for len(raw) > 0 {
		idx := strings.Index(raw, "${")
		if idx == -1 {
			lit.Parts = append(lit.Parts, ast.TemplatePart{Text: raw})
			break
		}
		if idx > 0 {
			lit.Parts = append(lit.Parts, ast.TemplatePart{Text: raw[:idx]})
		}
		rest := raw[idx+2:]
		depth := 1
		end := -1
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end != -1 {
				break
			}
		}
		if end == -1 {
			p.errorf(tok, "unterminated template interpolation")
			break
		}
		exprSrc := rest[:end]
		subLexer := lexer.New(exprSrc)
		subParser := New(subLexer)
		expr := subParser.parseExpression(Lowest)
		if len(subParser.Errors()) > 0 {
			p.errors = append(p.errors, subParser.Errors()...)
		}
		lit.Parts = append(lit.Parts, ast.TemplatePart{IsExpr: true, Expr: expr})
		raw = rest[end+1:]
	}
	return lit
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.currentToken, Value: p.currentTokenIs(token.True)}
}

func (p *Parser) parseNilLiteral() ast.Expression {
	return &ast.NilLiteral{Token: p.currentToken}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.PrefixExpression{Token: p.currentToken, Operator: p.currentToken.Literal}
	if p.currentTokenIs(token.Not) {
		expr.Operator = "!"
	}
	p.nextToken()
	expr.Right = p.parseExpression(PrefixPrec)
	return expr
}

func (p *Parser) parsePostfixExpression(left ast.Expression) ast.Expression {
	return &ast.PostfixExpression{Token: p.currentToken, Operator: p.currentToken.Literal, Left: left}
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expr := &ast.InfixExpression{Token: p.currentToken, Operator: p.currentToken.Literal, Left: left}
	precedence := p.curPrecedence()
	p.nextToken()
	if expr.Operator == "**" {
		// right-associative: parse the RHS at one level below its own
		// precedence so a ** b ** c groups as a ** (b ** c).
		expr.Right = p.parseExpression(PowerPrec - 1)
	} else {
		expr.Right = p.parseExpression(precedence)
	}
	return expr
}

// parseBitOrOrPipe implements the pipe rewrite spec.md describes: `a | b(c)`
// compiles as a call to `b` with `a` prepended to its argument list. If the
// right-hand side does not parse as a call expression, `|` is ordinary
// bitwise-or.
func (p *Parser) parseBitOrOrPipe(left ast.Expression) ast.Expression {
	tok := p.currentToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)

	if call, ok := right.(*ast.CallExpression); ok {
		call.Arguments = append([]ast.Expression{left}, call.Arguments...)
		return call
	}
	return &ast.InfixExpression{Token: tok, Operator: "|", Left: left, Right: right}
}

func (p *Parser) parseAssignExpression(left ast.Expression) ast.Expression {
	expr := &ast.AssignExpression{Token: p.currentToken, Operator: p.currentToken.Literal, Target: left}
	p.nextToken()
	expr.Value = p.parseExpression(AssignPrec - 1)
	return expr
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	exp := p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	return exp
}

func (p *Parser) parseIfExpression() ast.Expression {
	expr := &ast.IfExpression{Token: p.currentToken}
	if !p.expectPeek(token.Lparen) {
		return nil
	}
	p.nextToken()
	expr.Condition = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	expr.Consequence = p.parseBlockStatement()

	if p.peekTokenIs(token.Else) {
		p.nextToken()
		if p.peekTokenIs(token.If) {
			p.nextToken()
			nested := p.parseIfExpression()
			expr.Alternative = &ast.BlockStatement{
				Token:      p.currentToken,
				Statements: []ast.Statement{&ast.ExpressionStatement{Token: p.currentToken, Expression: nested}},
			}
			return expr
		}
		if !p.expectPeek(token.Lbrace) {
			return nil
		}
		expr.Alternative = p.parseBlockStatement()
	}
	return expr
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.currentToken, Statements: []ast.Statement{}}
	p.nextToken()
	for !p.currentTokenIs(token.Rbrace) && !p.currentTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseSwitchExpression() ast.Expression {
	expr := &ast.SwitchExpression{Token: p.currentToken, DefaultAt: -1}
	if !p.expectPeek(token.Lparen) {
		return nil
	}
	p.nextToken()
	expr.Subject = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	p.nextToken()

	for !p.currentTokenIs(token.Rbrace) && !p.currentTokenIs(token.EOF) {
		var c ast.SwitchCase
		if p.currentTokenIs(token.Case) {
			p.nextToken()
			c.Values = append(c.Values, p.parseExpression(Lowest))
			for p.peekTokenIs(token.Comma) {
				p.nextToken()
				p.nextToken()
				c.Values = append(c.Values, p.parseExpression(Lowest))
			}
		} else if p.currentTokenIs(token.Default) {
			expr.DefaultAt = len(expr.Cases)
		} else {
			p.errorf(p.currentToken, "expected case or default, got %s", p.currentToken.Type)
			return nil
		}
		if !p.expectPeek(token.Colon) {
			return nil
		}
		if !p.expectPeek(token.Lbrace) {
			return nil
		}
		c.Body = p.parseBlockStatement()
		expr.Cases = append(expr.Cases, c)
		p.nextToken()
	}
	return expr
}

func (p *Parser) parseMatchExpression() ast.Expression {
	expr := &ast.MatchExpression{Token: p.currentToken}
	p.nextToken()
	expr.Subject = p.parseExpression(Lowest)
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	p.nextToken()

	for !p.currentTokenIs(token.Rbrace) && !p.currentTokenIs(token.EOF) {
		var arm ast.MatchArm
		if p.currentTokenIs(token.Ident) && p.currentToken.Literal == "_" {
			arm.Pattern = nil
		} else {
			arm.Pattern = p.parseExpression(Lowest)
		}
		if p.peekTokenIs(token.If) {
			p.nextToken()
			p.nextToken()
			arm.Guard = p.parseExpression(Lowest)
		}
		if !p.expectPeek(token.Arrow) {
			return nil
		}
		p.nextToken()
		arm.Result = p.parseExpression(Lowest)
		expr.Arms = append(expr.Arms, arm)

		if p.peekTokenIs(token.Comma) {
			p.nextToken()
		}
		p.nextToken()
	}
	return expr
}

func (p *Parser) parseFunctionLiteral() ast.Expression {
	lit := &ast.FunctionLiteral{Token: p.currentToken}
	if !p.expectPeek(token.Lparen) {
		return nil
	}
	lit.Parameters = p.parseFunctionParameters()
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	lit.Body = p.parseBlockStatement()
	return lit
}

func (p *Parser) parseFunctionParameters() []*ast.Identifier {
	var identifiers []*ast.Identifier
	if p.peekTokenIs(token.Rparen) {
		p.nextToken()
		return identifiers
	}
	p.nextToken()
	identifiers = append(identifiers, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})
	for p.peekTokenIs(token.Comma) {
		p.nextToken()
		p.nextToken()
		identifiers = append(identifiers, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})
	}
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	return identifiers
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	expr := &ast.CallExpression{Token: p.currentToken, Function: function}
	expr.Arguments = p.parseExpressionList(token.Rparen)
	return expr
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	arr := &ast.ArrayLiteral{Token: p.currentToken}
	arr.Elements = p.parseExpressionList(token.Rbracket)
	return arr
}

// parseExpressionList parses a comma-separated list of expressions up to
// (and consuming) end. Elements starting with `...` are wrapped in an
// [ast.SpreadExpression].
func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression
	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseListElement())
	for p.peekTokenIs(token.Comma) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseListElement())
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseListElement() ast.Expression {
	if p.currentTokenIs(token.Ellipsis) {
		tok := p.currentToken
		p.nextToken()
		return &ast.SpreadExpression{Token: tok, Value: p.parseExpression(Lowest)}
	}
	return p.parseExpression(Lowest)
}

// parseIndexOrSliceExpression parses `left[index]` or `left[low:high]`,
// where low and/or high may be omitted on either side of the colon.
func (p *Parser) parseIndexOrSliceExpression(left ast.Expression) ast.Expression {
	tok := p.currentToken

	if p.peekTokenIs(token.Colon) {
		p.nextToken()
		return p.finishSlice(tok, left, nil)
	}

	p.nextToken()
	first := p.parseExpression(Lowest)

	if p.peekTokenIs(token.Colon) {
		p.nextToken()
		return p.finishSlice(tok, left, first)
	}

	if !p.expectPeek(token.Rbracket) {
		return nil
	}
	return &ast.IndexExpression{Token: tok, Left: left, Index: first}
}

func (p *Parser) finishSlice(tok token.Token, left ast.Expression, low ast.Expression) ast.Expression {
	se := &ast.SliceExpression{Token: tok, Left: left, Low: low}
	if p.peekTokenIs(token.Rbracket) {
		p.nextToken()
		return se
	}
	p.nextToken()
	se.High = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rbracket) {
		return nil
	}
	return se
}

func (p *Parser) parseMemberExpression(left ast.Expression) ast.Expression {
	tok := p.currentToken
	optional := tok.Type == token.OptionalDot
	if !p.expectPeek(token.Ident) {
		return nil
	}
	return &ast.MemberExpression{Token: tok, Left: left, Name: p.currentToken.Literal, Optional: optional}
}

func (p *Parser) parseMapLiteral() ast.Expression {
	m := &ast.MapLiteral{Token: p.currentToken}

	for !p.peekTokenIs(token.Rbrace) {
		p.nextToken()
		key := p.parseExpression(Lowest)
		if !p.expectPeek(token.Colon) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(Lowest)
		m.Pairs = append(m.Pairs, ast.MapPair{Key: key, Value: value})
		if !p.peekTokenIs(token.Rbrace) && !p.expectPeek(token.Comma) {
			return nil
		}
	}
	if !p.expectPeek(token.Rbrace) {
		return nil
	}
	return m
}
