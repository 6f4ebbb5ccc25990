package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/miniscript/pkg/opcode"
	"github.com/kristofer/miniscript/pkg/value"
)

// fakeInterner is a minimal Interner good enough for compiler tests:
// it interns strings by content (like the real VM) without any of the
// VM's runtime state.
type fakeInterner struct {
	strings map[string]*value.Object
}

func newFakeInterner() *fakeInterner {
	return &fakeInterner{strings: make(map[string]*value.Object)}
}

func (f *fakeInterner) InternString(s string) *value.Object {
	if obj, ok := f.strings[s]; ok {
		return obj
	}
	obj := value.NewStringObject(s)
	f.strings[s] = obj
	return obj
}

func (f *fakeInterner) NewFunction(fn *value.Function) *value.Object {
	return &value.Object{Type: value.ObjFunction, Fn: fn}
}

func compile(t *testing.T, src string) *value.Function {
	t.Helper()
	fn, err := Compile(src, newFakeInterner())
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func TestCompileArithmeticEmitsConstAdd(t *testing.T) {
	fn := compile(t, "1 + 2\n")
	bytes := fn.Code.Bytes

	require.GreaterOrEqual(t, len(bytes), 5)
	assert.Equal(t, opcode.Const, opcode.Op(bytes[0]))
	assert.Equal(t, opcode.Const, opcode.Op(bytes[2]))
	assert.Equal(t, opcode.Add, opcode.Op(bytes[4]))
	assert.Equal(t, opcode.Op(bytes[len(bytes)-2]), opcode.Null)
	assert.Equal(t, opcode.Op(bytes[len(bytes)-1]), opcode.Return)
}

func TestCompileGlobalAssignmentAndRead(t *testing.T) {
	fn := compile(t, "x = 3\nx = x + 4\n")
	bytes := fn.Code.Bytes

	var setGlobals, getGlobals int
	for _, b := range bytes {
		switch opcode.Op(b) {
		case opcode.SetGlobal:
			setGlobals++
		case opcode.GetGlobal:
			getGlobals++
		}
	}
	assert.Equal(t, 2, setGlobals, "expected two SET_GLOBAL for two assignments")
	assert.GreaterOrEqual(t, getGlobals, 1, "expected at least one GET_GLOBAL reading x")
}

func TestCompileWhileEmitsOneLoop(t *testing.T) {
	fn := compile(t, "x = 0\nwhile x < 3\nx = x + 1\nend while\n")
	loops := countOp(fn.Code.Bytes, opcode.Loop)
	assert.Equal(t, 1, loops, "expected exactly one LOOP instruction")
}

func TestCompileIfEmitsOneJumpIfFalseAndOneJump(t *testing.T) {
	fn := compile(t, "if 1 then\ny = 2\nend if\n")
	assert.Equal(t, 1, countOp(fn.Code.Bytes, opcode.JumpIfFalse))
	assert.Equal(t, 1, countOp(fn.Code.Bytes, opcode.Jump))
}

func TestCompileIfElseEmitsTwoJumps(t *testing.T) {
	fn := compile(t, "if 1 then\ny = 2\nelse\ny = 3\nend if\n")
	assert.Equal(t, 1, countOp(fn.Code.Bytes, opcode.JumpIfFalse))
	assert.Equal(t, 1, countOp(fn.Code.Bytes, opcode.Jump))
}

func TestCompileScopeDisciplinePopsLocals(t *testing.T) {
	fn := compile(t, "while 1\nx = 1\nend while\n")
	// Entering the while body's scope declares local x; leaving it
	// must emit a POP for it in addition to the loop condition's own
	// POPs.
	assert.GreaterOrEqual(t, countOp(fn.Code.Bytes, opcode.Pop), 2)
}

func TestCompileAddressSigilSuppressesInvokeEntirely(t *testing.T) {
	fn := compile(t, "f = function\nreturn 7\nend function\n@f\n")
	assert.Equal(t, 0, countOp(fn.Code.Bytes, opcode.Invoke),
		"@f suppresses the explicit invoke")
	assert.Equal(t, 0, countOp(fn.Code.Bytes, opcode.InvokeAuto),
		"@f suppresses the implicit invoke too")
}

func TestCompileBareIdentifierEmitsInvokeAuto(t *testing.T) {
	fn := compile(t, "x = 3\ny = x\n")
	assert.Equal(t, 0, countOp(fn.Code.Bytes, opcode.Invoke),
		"a bare read with no '(' must never emit the explicit-call opcode")
	assert.GreaterOrEqual(t, countOp(fn.Code.Bytes, opcode.InvokeAuto), 1,
		"reading x on the right-hand side of 'y = x' goes through the auto-invoke opcode")
}

func TestCompileCallWithArguments(t *testing.T) {
	fn := compile(t, "f(1, 2, 3)\n")
	// last INVOKE operand should be argc=3
	bytes := fn.Code.Bytes
	found := false
	for i := 0; i+1 < len(bytes); i++ {
		if opcode.Op(bytes[i]) == opcode.Invoke {
			assert.Equal(t, byte(3), bytes[i+1])
			found = true
		}
	}
	assert.True(t, found, "expected an INVOKE instruction")
}

func TestCompileExplicitZeroArgCallEmitsInvokeNotAuto(t *testing.T) {
	fn := compile(t, "f()\n")
	assert.Equal(t, 1, countOp(fn.Code.Bytes, opcode.Invoke),
		"f() is an explicit call even with zero arguments")
	assert.Equal(t, 0, countOp(fn.Code.Bytes, opcode.InvokeAuto))
}

func TestCompileErrorOnBadSyntax(t *testing.T) {
	_, err := Compile("1 +\n", newFakeInterner())
	require.Error(t, err)
	list, ok := err.(ErrorList)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, "Expected an expression")
}

func TestCompileErrorsDoNotCascade(t *testing.T) {
	// Two malformed lines: panic mode should swallow the second error
	// in the same statement but still recover at the newline for the
	// next one — this module purposefully resynchronizes per
	// statement, so both independently-erroring lines get reported.
	_, err := Compile("1 +\nif then\nend if\n", newFakeInterner())
	require.Error(t, err)
	list, ok := err.(ErrorList)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(list), 1)
}

func countOp(bytes []byte, op opcode.Op) int {
	n := 0
	i := 0
	for i < len(bytes) {
		b := opcode.Op(bytes[i])
		if b == op {
			n++
		}
		i += operandWidth(b) + 1
	}
	return n
}

// operandWidth mirrors the VM/disassembler's notion of instruction
// length so this test-only scanner can walk the byte stream without
// misreading an operand byte as an opcode.
func operandWidth(op opcode.Op) int {
	switch op {
	case opcode.Const, opcode.GetGlobal, opcode.SetGlobal, opcode.GetLocal, opcode.SetLocal, opcode.Invoke:
		return 1
	case opcode.Jump, opcode.JumpIfFalse, opcode.Loop:
		return 2
	default:
		return 0
	}
}
