package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineResolveGlobal(t *testing.T) {
	global := NewSymbolTable()
	a := global.Define("a")
	b := global.DefineConst("b")

	assert.Equal(t, Symbol{Name: "a", Scope: GlobalScope, Index: 0}, a)
	assert.Equal(t, Symbol{Name: "b", Scope: GlobalScope, Index: 1, Const: true}, b)

	resolved, ok := global.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, a, resolved)
}

func TestResolveLocal(t *testing.T) {
	global := NewSymbolTable()
	global.Define("a")

	local := NewEnclosedSymbolTable(global)
	local.Define("b")
	local.Define("c")

	sym, ok := local.Resolve("b")
	require.True(t, ok)
	assert.Equal(t, LocalScope, sym.Scope)
	assert.Equal(t, 0, sym.Index)

	sym, ok = local.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, GlobalScope, sym.Scope)
}

func TestResolveFree(t *testing.T) {
	global := NewSymbolTable()
	global.Define("a")

	outer := NewEnclosedSymbolTable(global)
	outer.Define("b")

	inner := NewEnclosedSymbolTable(outer)
	inner.Define("c")

	symB, ok := inner.Resolve("b")
	require.True(t, ok)
	assert.Equal(t, FreeScope, symB.Scope)
	assert.Equal(t, 0, symB.Index)

	symA, ok := inner.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, GlobalScope, symA.Scope)

	require.Len(t, inner.FreeSymbols, 1)
	assert.Equal(t, "b", inner.FreeSymbols[0].Name)
}

func TestResolveFreeDeduplicates(t *testing.T) {
	global := NewSymbolTable()
	outer := NewEnclosedSymbolTable(global)
	outer.Define("x")

	inner := NewEnclosedSymbolTable(outer)
	first, ok := inner.Resolve("x")
	require.True(t, ok)
	second, ok := inner.Resolve("x")
	require.True(t, ok)

	assert.Equal(t, first.Index, second.Index)
	assert.Len(t, inner.FreeSymbols, 1)
}

func TestResolveBuiltin(t *testing.T) {
	global := NewSymbolTable()
	global.DefineBuiltin(0, "len")

	local := NewEnclosedSymbolTable(global)
	nested := NewEnclosedSymbolTable(local)

	sym, ok := nested.Resolve("len")
	require.True(t, ok)
	assert.Equal(t, BuiltinScope, sym.Scope)
	// a Builtin reference never gets promoted to Free, even across
	// several function boundaries.
	assert.Empty(t, nested.FreeSymbols)
}

func TestDefineFunctionName(t *testing.T) {
	global := NewSymbolTable()
	global.DefineFunctionName("fib")
	sym, ok := global.Resolve("fib")
	require.True(t, ok)
	assert.Equal(t, FunctionScope, sym.Scope)
}

func TestResolveUnknownFails(t *testing.T) {
	global := NewSymbolTable()
	_, ok := global.Resolve("missing")
	assert.False(t, ok)
}
