// Package debug implements the bytecode disassembler: a single pass
// over a Chunk that renders one line per instruction in the format
// the reference implementation's ms_debug.c produces, adapted for
// this module's opcode set and operand widths.
//
// The instruction-at-a-time shape (read one opcode, dispatch on it to
// decide how many operand bytes follow and how to render them) is
// ported from this module's own earlier interactive debugger —
// ShowCurrentInstruction / formatInstructionOperand — stripped of its
// breakpoint and step-mode machinery, which this core's debug flag
// does not need (it only ever disassembles a finished chunk, never
// pauses a running one).
package debug

import (
	"fmt"
	"io"

	"github.com/kristofer/miniscript/pkg/opcode"
	"github.com/kristofer/miniscript/pkg/value"
)

// Chunk disassembles every instruction in c to w, one per line,
// labelled with name (the function's name, or "<script>").
func Chunk(w io.Writer, c *value.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	offset := 0
	for offset < len(c.Bytes) {
		offset = Instruction(w, c, offset)
	}
}

// Instruction disassembles the single instruction at offset and
// returns the offset of the next one.
func Instruction(w io.Writer, c *value.Chunk, offset int) int {
	op := opcode.Op(c.Bytes[offset])
	fmt.Fprintf(w, "%04d | ", offset)

	switch op {
	case opcode.Const:
		return constantInstruction(w, op, c, offset)
	case opcode.GetGlobal, opcode.SetGlobal:
		return constantInstruction(w, op, c, offset)
	case opcode.GetLocal, opcode.SetLocal, opcode.Invoke:
		return byteInstruction(w, op, c, offset)
	case opcode.Jump:
		return jumpInstruction(w, op, c, offset, 1)
	case opcode.JumpIfFalse:
		return jumpInstruction(w, op, c, offset, 1)
	case opcode.Loop:
		return jumpInstruction(w, op, c, offset, -1)
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, op opcode.Op, c *value.Chunk, offset int) int {
	idx := c.Bytes[offset+1]
	fmt.Fprintf(w, "%-14s %4d '%s'\n", op, idx, c.Constants[idx])
	return offset + 2
}

func byteInstruction(w io.Writer, op opcode.Op, c *value.Chunk, offset int) int {
	slot := c.Bytes[offset+1]
	fmt.Fprintf(w, "%-14s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, op opcode.Op, c *value.Chunk, offset int, sign int) int {
	hi, lo := c.Bytes[offset+1], c.Bytes[offset+2]
	dist := int(hi)<<8 | int(lo)
	target := offset + 3 + sign*dist
	fmt.Fprintf(w, "%-14s %4d -> %d\n", op, dist, target)
	return offset + 3
}
