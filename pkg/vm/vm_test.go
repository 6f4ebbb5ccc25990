package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/miniscript/pkg/value"
)

func run(t *testing.T, src string) *VM {
	t.Helper()
	m := New(Config{})
	err := m.Interpret(src)
	require.NoError(t, err)
	return m
}

func global(t *testing.T, m *VM, name string) value.Value {
	t.Helper()
	v, ok := m.globals.Get(value.Obj(m.InternString(name)))
	require.True(t, ok, "global %q was never set", name)
	return v
}

func TestArithmetic(t *testing.T) {
	m := run(t, "x = 1 + 2 * 3\n")
	v := global(t, m, "x")
	assert.True(t, v.IsNum())
	assert.Equal(t, float64(7), v.AsNum())
}

func TestGlobalAssignmentAndReassignment(t *testing.T) {
	m := run(t, "x = 3\nx = x + 4\n")
	assert.Equal(t, float64(7), global(t, m, "x").AsNum())
}

func TestWhileLoopTerminates(t *testing.T) {
	m := run(t, "x = 0\nwhile x < 3\nx = x + 1\nend while\n")
	assert.Equal(t, float64(3), global(t, m, "x").AsNum())
}

func TestIfElseIfElseChain(t *testing.T) {
	m := run(t, "n = 2\ny = 0\nif n == 1 then\ny = 10\nelse if n == 2 then\ny = 20\nelse\ny = 30\nend if\n")
	assert.Equal(t, float64(20), global(t, m, "y").AsNum())
}

func TestIfElseIfElseChainFallsToElse(t *testing.T) {
	m := run(t, "n = 9\ny = 0\nif n == 1 then\ny = 10\nelse if n == 2 then\ny = 20\nelse\ny = 30\nend if\n")
	assert.Equal(t, float64(30), global(t, m, "y").AsNum())
}

func TestAddressSigilBindsWithoutCalling(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("f = function\nreturn 7\nend function\n@f\n")
	require.NoError(t, err)
	fv := global(t, m, "f")
	assert.True(t, fv.IsFunction())
	assert.Equal(t, 0, m.stackTop, "binding with @f must not leave anything on the stack")
}

func TestBareIdentifierCallsAndDiscardsResult(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("f = function\nreturn 7\nend function\nf\n")
	require.NoError(t, err)
	assert.Equal(t, 0, m.stackTop, "top-level call's result is popped by the implicit expression-statement discard")
}

func TestCallWithArgumentsWithinArity(t *testing.T) {
	// This core's function literals declare no parameter list (arity is
	// always 0), so a zero-arg call is the only one that succeeds.
	m := New(Config{})
	err := m.Interpret("f = function\nreturn 1\nend function\nx = f()\n")
	require.NoError(t, err)
	assert.Equal(t, float64(1), global(t, m, "x").AsNum())
}

func TestArityMismatchIsRuntimeError(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("f = function\nreturn 1\nend function\nf(1, 2)\n")
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Contains(t, rerr.Message, "arguments")
}

func TestReadingNonFunctionVariableAutoInvokesWithoutError(t *testing.T) {
	// A bare read of a non-function variable must not be treated as a
	// failed call: INVOKE_AUTO only calls when the value is actually a
	// Function, and otherwise passes the value through untouched.
	m := run(t, "x = 3\nx = x + 4\n")
	assert.Equal(t, float64(7), global(t, m, "x").AsNum())
	assert.Equal(t, 0, m.stackTop, "no value should be left stranded on the stack")
}

func TestReassignmentDoesNotLeakStackSlots(t *testing.T) {
	m := run(t, "x = 1\nx = 2\nx = 3\nx = 4\n")
	assert.Equal(t, float64(4), global(t, m, "x").AsNum())
	assert.Equal(t, 0, m.stackTop, "SET_GLOBAL must pop its operand, not merely peek it")
}

func TestCallingNonFunctionIsRuntimeError(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("x = 5\nx()\n")
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Contains(t, rerr.Message, "non-function")
}

func TestTypeMismatchAddIsRuntimeError(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("x = 1 + \"abc\"\n")
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "Types must be the same.", rerr.Message)
}

func TestComparisonTypeMismatchIsRuntimeError(t *testing.T) {
	m := New(Config{})
	err := m.Interpret("x = 1 < \"abc\"\n")
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "Types must be equal.", rerr.Message)
}

func TestStringComparisonIsLexicographic(t *testing.T) {
	m := run(t, "x = \"abc\" < \"abd\"\n")
	assert.Equal(t, float64(1), global(t, m, "x").AsNum())
}

func TestAndOrNotClampToUnitInterval(t *testing.T) {
	m := run(t, "a = 1 and 1\nb = 0 or 0\nc = not 0\n")
	assert.Equal(t, float64(1), global(t, m, "a").AsNum())
	assert.Equal(t, float64(0), global(t, m, "b").AsNum())
	assert.Equal(t, float64(1), global(t, m, "c").AsNum())
}

func TestNegateIsClampedNotArithmeticNegation(t *testing.T) {
	// A '-' immediately followed by a digit lexes as part of a single
	// NUMBER literal, not a NEGATE opcode, so "-5" alone is just the
	// constant -5. Forcing the scanner to emit a standalone MINUS token
	// (space, or here a parenthesized operand) routes through unary()
	// and NEGATE, which applies the same clamp01(|x|) fuzzy-boolean
	// treatment as NOT/AND/OR rather than arithmetic sign flip:
	// -(5) becomes -absClamp01(5) = -1.
	m := run(t, "x = -(5)\n")
	assert.Equal(t, float64(-1), global(t, m, "x").AsNum())
}

func TestNegativeNumberLiteralIsNotClamped(t *testing.T) {
	m := run(t, "x = -5\n")
	assert.Equal(t, float64(-5), global(t, m, "x").AsNum())
}

func TestInternStringReturnsSameObjectAcrossCalls(t *testing.T) {
	m := New(Config{})
	a := m.InternString("hello")
	b := m.InternString("hello")
	assert.Same(t, a, b)
}

func TestFreeReturnsNilWhenAccountingBalances(t *testing.T) {
	m := run(t, "x = 1 + 2\n")
	assert.NoError(t, m.Free())
	assert.Equal(t, 0, m.BytesUsed())
}

func TestScopeDoesNotLeakLocalsToGlobalsTable(t *testing.T) {
	m := run(t, "x = 0\nwhile x < 1\nlocal = 5\nx = x + 1\nend while\n")
	_, ok := m.globals.Get(value.Obj(m.InternString("local")))
	assert.False(t, ok, "a while-scoped local must never be visible as a global")
}
