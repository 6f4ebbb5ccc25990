// Package opcode defines the bytecode instruction set shared by the
// compiler, the virtual machine, and the disassembler. Keeping it as
// its own small, dependency-free package lets all three import it
// without creating a cycle between the compiler and the VM.
package opcode

// Op identifies one bytecode instruction. Most instructions are a
// single byte; CONST, GET/SET_GLOBAL, GET/SET_LOCAL, and INVOKE carry
// a one-byte operand, jumps carry a two-byte big-endian operand.
// INVOKE_AUTO is always an implicit zero-argument call and carries no
// operand at all.
type Op byte

const (
	Const Op = iota
	Null
	True
	False

	Add
	Sub
	Mul
	Div
	Mod
	Pow

	Negate
	Not
	And
	Or

	Equal
	NotEqual
	Greater
	Less
	GreaterEqual
	LessEqual

	GetGlobal
	SetGlobal
	GetLocal
	SetLocal

	Invoke
	// InvokeAuto is the implicit call a bare identifier read compiles
	// to (no '(' followed it). Unlike INVOKE, a non-function value
	// under INVOKE_AUTO is not an error: it is left on the stack as
	// the ordinary result of reading that variable. Only a Function
	// value is actually called. This is what lets `x = x + 4` read a
	// plain number through the same "every bare name auto-invokes"
	// rule that lets a bare `f` call a function.
	InvokeAuto

	Jump
	JumpIfFalse
	Loop

	Pop
	Return
)

var names = [...]string{
	Const:        "CONST",
	Null:         "NULL",
	True:         "TRUE",
	False:        "FALSE",
	Add:          "ADD",
	Sub:          "SUB",
	Mul:          "MUL",
	Div:          "DIV",
	Mod:          "MOD",
	Pow:          "POW",
	Negate:       "NEGATE",
	Not:          "NOT",
	And:          "AND",
	Or:           "OR",
	Equal:        "EQUAL",
	NotEqual:     "NOT_EQUAL",
	Greater:      "GREATER",
	Less:         "LESS",
	GreaterEqual: "GEQ",
	LessEqual:    "LEQ",
	GetGlobal:    "GET_GLOBAL",
	SetGlobal:    "SET_GLOBAL",
	GetLocal:     "GET_LOCAL",
	SetLocal:     "SET_LOCAL",
	Invoke:       "INVOKE",
	InvokeAuto:   "INVOKE_AUTO",
	Jump:         "JUMP",
	JumpIfFalse:  "JUMP_IF_FALSE",
	Loop:         "LOOP",
	Pop:          "POP",
	Return:       "RETURN",
}

// String renders the opcode's mnemonic, as used by the disassembler.
func (o Op) String() string {
	if int(o) < len(names) && names[o] != "" {
		return names[o]
	}
	return "UNKNOWN_OP"
}
