package lexer

import (
	"testing"

	"github.com/dr8co/wisp/token"
)

func TestNextTokenBasic(t *testing.T) {
	input := `let five = 5;
let ten = 10.5;
let add = function(x, y) {
  x + y;
};
let result = add(five, ten);
!-/*5;
5 < 10 > 5;

if (5 < 10) {
	return true;
} else {
	return false;
}

10 == 10;
10 != 9;
"foobar"
"foo bar"
[1, 2];
{"foo": "bar"}
0x1A 0b101 017
a ?. b
a ?? b
x += 1
x++
a |> b
...rest
`

	tests := []struct {
		expectedType    token.Type
		expectedLiteral string
	}{
		{token.Let, "let"},
		{token.Ident, "five"},
		{token.Assign, "="},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Let, "let"},
		{token.Ident, "ten"},
		{token.Assign, "="},
		{token.Float, "10.5"},
		{token.Semicolon, ";"},
		{token.Let, "let"},
		{token.Ident, "add"},
		{token.Assign, "="},
		{token.Function, "function"},
		{token.Lparen, "("},
		{token.Ident, "x"},
		{token.Comma, ","},
		{token.Ident, "y"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Ident, "x"},
		{token.Plus, "+"},
		{token.Ident, "y"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Semicolon, ";"},
		{token.Let, "let"},
		{token.Ident, "result"},
		{token.Assign, "="},
		{token.Ident, "add"},
		{token.Lparen, "("},
		{token.Ident, "five"},
		{token.Comma, ","},
		{token.Ident, "ten"},
		{token.Rparen, ")"},
		{token.Semicolon, ";"},
		{token.Bang, "!"},
		{token.Minus, "-"},
		{token.Slash, "/"},
		{token.Asterisk, "*"},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Int, "5"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Gt, ">"},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.If, "if"},
		{token.Lparen, "("},
		{token.Int, "5"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Return, "return"},
		{token.True, "true"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Else, "else"},
		{token.Lbrace, "{"},
		{token.Return, "return"},
		{token.False, "false"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Int, "10"},
		{token.Eq, "=="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Int, "10"},
		{token.NotEq, "!="},
		{token.Int, "9"},
		{token.Semicolon, ";"},
		{token.String, "foobar"},
		{token.String, "foo bar"},
		{token.Lbracket, "["},
		{token.Int, "1"},
		{token.Comma, ","},
		{token.Int, "2"},
		{token.Rbracket, "]"},
		{token.Semicolon, ";"},
		{token.Lbrace, "{"},
		{token.String, "foo"},
		{token.Colon, ":"},
		{token.String, "bar"},
		{token.Rbrace, "}"},
		{token.Int, "0x1A"},
		{token.Int, "0b101"},
		{token.Int, "017"},
		{token.Ident, "a"},
		{token.OptionalDot, "?."},
		{token.Ident, "b"},
		{token.Ident, "a"},
		{token.Nullish, "??"},
		{token.Ident, "b"},
		{token.Ident, "x"},
		{token.PlusAssign, "+="},
		{token.Int, "1"},
		{token.Ident, "x"},
		{token.Increment, "++"},
		{token.Ident, "a"},
		{token.PipeOp, "|>"},
		{token.Ident, "b"},
		{token.Ellipsis, "..."},
		{token.Ident, "rest"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (literal %q)",
				i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"a\nb\t\"c\" \x41 B"`)
	tok := l.NextToken()
	if tok.Type != token.String {
		t.Fatalf("expected string token, got %s", tok.Type)
	}
	want := "a\nb\t\"c\" A B"
	if tok.Literal != want {
		t.Fatalf("expected %q, got %q", want, tok.Literal)
	}
}

func TestTemplateString(t *testing.T) {
	l := New("`hello ${name}, you are ${age + 1}`")
	tok := l.NextToken()
	if tok.Type != token.TemplateString {
		t.Fatalf("expected template string token, got %s", tok.Type)
	}
	want := "hello ${name}, you are ${age + 1}"
	if tok.Literal != want {
		t.Fatalf("expected %q, got %q", want, tok.Literal)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != token.Illegal {
		t.Fatalf("expected illegal token, got %s", tok.Type)
	}
}

func TestLineAndColumnTracking(t *testing.T) {
	l := New("let a = 1\nlet b = 2")
	var lastOfFirstLine, b token.Token
	for {
		tok := l.NextToken()
		if tok.Type == token.EOF {
			break
		}
		if tok.Line == 1 {
			lastOfFirstLine = tok
		}
		if tok.Literal == "b" {
			b = tok
		}
	}
	if lastOfFirstLine.Line != 1 {
		t.Fatalf("expected token on line 1, got line %d", lastOfFirstLine.Line)
	}
	if b.Line != 2 || b.Column != 5 {
		t.Fatalf("expected b at line 2 column 5, got line %d column %d", b.Line, b.Column)
	}
}
