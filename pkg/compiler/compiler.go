// Package compiler implements the single-pass compiler: a Pratt
// parser that emits bytecode directly as it parses, with no
// intermediate AST. It owns the scope-record stack for the function
// currently being compiled and resolves every identifier against it
// before falling back to a global.
//
// The algorithm is ported from the reference implementation's
// ms_compiler.c (Record/Local/ParsePrecedence/ParseRule, emit
// helpers, resolveLocal, panic-mode error recovery); the surrounding
// Go idiom — New()-style constructors, exported error types, doc
// comments — follows this module's own lineage.
package compiler

import (
	"strconv"

	"github.com/kristofer/miniscript/pkg/opcode"
	"github.com/kristofer/miniscript/pkg/scanner"
	"github.com/kristofer/miniscript/pkg/value"
)

// Interner is the two capabilities the compiler needs from its host
// VM: turning decoded string literal text into the canonical
// (interned) heap object for it, and registering a freshly built
// Function object into the VM's intrusive object list so teardown
// byte-accounting (§3.1) sees it. The VM satisfies this interface;
// the compiler package itself never imports pkg/vm, avoiding a cycle.
type Interner interface {
	InternString(s string) *value.Object
	NewFunction(fn *value.Function) *value.Object
}

const maxLocals = 256
const maxConstants = 256

type functionType int

const (
	typeFunction functionType = iota
	typeScript
)

type local struct {
	name  string
	depth int
}

// record is the compile-time scope record: one per currently
// compiling function, chained to its enclosing function's record.
// Slot 0 is reserved for the callee itself (empty name), matching the
// runtime call-frame layout.
type record struct {
	enclosing  *record
	function   *value.Function
	typ        functionType
	locals     [maxLocals]local
	localCount int
	scopeDepth int
}

func newRecord(enclosing *record, typ functionType) *record {
	r := &record{enclosing: enclosing, typ: typ, function: &value.Function{}}
	// Slot 0: the callee itself, never addressable by name.
	r.locals[0] = local{name: "", depth: 0}
	r.localCount = 1
	return r
}

// Compiler drives one top-to-bottom pass over a token stream,
// emitting bytecode for the top-level script and any nested
// `function ... end function` bodies encountered inline.
type Compiler struct {
	scanner  *scanner.Scanner
	interner Interner

	previous scanner.Token
	current  scanner.Token

	rec *record

	hadError  bool
	panicMode bool
	errs      ErrorList
}

// Compile parses and compiles src into a top-level Function (arity 0,
// empty name). Returns the function and a nil error on success, or a
// nil function and a non-nil ErrorList if any compile error fired —
// the pass always runs to completion first (no cascading abort).
func Compile(src string, interner Interner) (*value.Function, error) {
	c := &Compiler{scanner: scanner.New(src), interner: interner}
	c.rec = newRecord(nil, typeScript)

	c.advance()
	c.skipNewlines()
	for !c.check(scanner.EOF) {
		c.statement()
		c.skipNewlines()
	}

	fn := c.endCompiler()
	if c.hadError {
		return nil, c.errs
	}
	return fn, nil
}

// --- token stream plumbing ---

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.NextToken()
		if c.current.Type != scanner.Error {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(t scanner.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t scanner.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t scanner.TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) skipNewlines() {
	for c.check(scanner.Newline) {
		c.advance()
	}
}

// --- error reporting (panic-mode) ---

func (c *Compiler) errorAtCurrent(message string) { c.errorAt(c.current, message) }
func (c *Compiler) error(message string)          { c.errorAt(c.previous, message) }

func (c *Compiler) errorAt(tok scanner.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	c.errs = append(c.errs, &CompileError{Message: message, Line: tok.Line})
}

// synchronize resumes compilation at the next newline or at a keyword
// that starts a new statement, swallowing everything in between.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != scanner.EOF {
		if c.previous.Type == scanner.Newline {
			return
		}
		switch c.current.Type {
		case scanner.KwIf, scanner.KwWhile, scanner.KwFor, scanner.KwFunction, scanner.KwReturn:
			return
		}
		c.advance()
	}
}

// --- emission primitives ---

func (c *Compiler) chunk() *value.Chunk { return &c.rec.function.Code }

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op opcode.Op) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(op opcode.Op, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

// emitJump writes op followed by a two-byte placeholder, returning
// the placeholder's offset for a later patchJump.
func (c *Compiler) emitJump(op opcode.Op) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Bytes) - 2
}

// patchJump backfills the jump placeholder at offset with the
// distance from just after it to the current end of the chunk.
func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Bytes) - offset - 2
	if jump > 0xffff {
		c.error("Too much jump to code over")
		return
	}
	c.chunk().Bytes[offset] = byte(jump >> 8)
	c.chunk().Bytes[offset+1] = byte(jump)
}

// emitLoop emits a backward LOOP instruction to start.
func (c *Compiler) emitLoop(start int) {
	c.emitOp(opcode.Loop)
	jump := len(c.chunk().Bytes) - start + 2
	if jump > 0xffff {
		c.error("Loop body too large")
		return
	}
	c.emitByte(byte(jump >> 8))
	c.emitByte(byte(jump))
}

func (c *Compiler) emitReturn() {
	c.emitOp(opcode.Null)
	c.emitOp(opcode.Return)
}

// makeConstant adds v to the current function's constant pool,
// failing if the one-byte index space (256 slots) is exhausted.
func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx >= maxConstants {
		c.error("Too many constants in one chunk")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitBytes(opcode.Const, c.makeConstant(v))
}

// endCompiler closes out the current record: emits the implicit
// NULL RETURN tail, pops to the enclosing record, and returns the
// function object that was being built.
func (c *Compiler) endCompiler() *value.Function {
	c.emitReturn()
	fn := c.rec.function
	c.rec = c.rec.enclosing
	return fn
}

// --- scopes ---

func (c *Compiler) beginScope() { c.rec.scopeDepth++ }

// endScope pops the current scope, emitting one POP per local that
// lived only at the closing depth (Testable Property 3).
func (c *Compiler) endScope() {
	c.rec.scopeDepth--
	for c.rec.localCount > 0 && c.rec.locals[c.rec.localCount-1].depth > c.rec.scopeDepth {
		c.emitOp(opcode.Pop)
		c.rec.localCount--
	}
}

// addLocal declares a new local in the current scope.
func (c *Compiler) addLocal(name string) {
	if c.rec.localCount >= maxLocals {
		c.error("Too many local variables in one block")
		return
	}
	c.rec.locals[c.rec.localCount] = local{name: name, depth: c.rec.scopeDepth}
	c.rec.localCount++
}

// resolution results for an identifier lookup.
const (
	resolveUndefined = -2
	resolveGlobal    = -1
)

// resolveLocal scans the current record's locals top-down for name.
// Returns a local slot index, resolveGlobal if name is a previously
// seen identifier constant (a "known global"), or resolveUndefined.
func (c *Compiler) resolveLocal(name string) int {
	for i := c.rec.localCount - 1; i >= 0; i-- {
		if c.rec.locals[i].name == name {
			return i
		}
	}
	for _, k := range c.chunk().Constants {
		if k.IsString() && k.AsString() == name {
			return resolveGlobal
		}
	}
	return resolveUndefined
}

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(value.Obj(c.interner.InternString(name)))
}

// --- expressions ---

func (c *Compiler) expression() { c.parsePrecedence(PrecFunction) }

// parsePrecedence is the canonical Pratt loop: run the prefix rule for
// the token just consumed, then keep folding in infix rules whose
// precedence is at least as strong as the floor passed in.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expected an expression")
		return
	}
	prefix(c)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c)
	}
}

func (c *Compiler) grouping() {
	c.expression()
	c.consume(scanner.RParen, "Expected ')' after expression")
}

func (c *Compiler) number() {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal")
		return
	}
	c.emitConstant(value.Num(n))
}

func (c *Compiler) string() {
	obj := c.interner.InternString(c.previous.Lexeme)
	c.emitConstant(value.Obj(obj))
}

func (c *Compiler) literal() {
	switch c.previous.Type {
	case scanner.KwTrue:
		c.emitOp(opcode.True)
	case scanner.KwFalse:
		c.emitOp(opcode.False)
	case scanner.KwNull:
		c.emitOp(opcode.Null)
	}
}

// variable compiles a bare identifier: resolve, emit the matching GET,
// then emit a call. Whether that call is allowed to silently pass
// through a non-function value depends on whether '(' followed the
// name:
//
//   - No '(' at all: this is an implicit auto-invoke read (every bare
//     name "calls" by the language's own rule, but reading a plain
//     variable like `x` in `x + 4` must not error just because x
//     isn't a function) — emits INVOKE_AUTO, which calls a Function
//     value and otherwise leaves the GET's result untouched.
//   - '(' present, even with zero arguments (`f()`): this is an
//     explicit call site (§4.2.1 of the expanded spec) and must error
//     on a non-function callee — emits INVOKE argc.
func (c *Compiler) variable() {
	name := c.previous.Lexeme
	c.emitLoadFor(name)

	if !c.match(scanner.LParen) {
		c.emitOp(opcode.InvokeAuto)
		return
	}

	argc := 0
	if !c.check(scanner.RParen) {
		for {
			c.expression()
			argc++
			if argc > 0xff {
				c.error("Too many arguments")
				break
			}
			if !c.match(scanner.Comma) {
				break
			}
		}
	}
	c.consume(scanner.RParen, "Expected ')' after arguments")
	c.emitBytes(opcode.Invoke, byte(argc))
}

// addressedVariable compiles `@name`: resolves and emits the GET, but
// suppresses the implicit invoke — used to bind a function value
// without calling it (end-to-end scenario: `@f` binds, `f` calls).
func (c *Compiler) addressedVariable() {
	c.consume(scanner.Ident, "Expected identifier after '@'")
	c.emitLoadFor(c.previous.Lexeme)
}

func (c *Compiler) emitLoadFor(name string) {
	slot := c.resolveLocal(name)
	if slot >= 0 {
		c.emitBytes(opcode.GetLocal, byte(slot))
		return
	}
	c.emitBytes(opcode.GetGlobal, c.identifierConstant(name))
}

func binaryOp(t scanner.TokenType) opcode.Op {
	switch t {
	case scanner.Plus:
		return opcode.Add
	case scanner.Minus:
		return opcode.Sub
	case scanner.Star:
		return opcode.Mul
	case scanner.Slash:
		return opcode.Div
	case scanner.Percent:
		return opcode.Mod
	case scanner.Caret:
		return opcode.Pow
	case scanner.NotEq:
		return opcode.NotEqual
	case scanner.Equal:
		return opcode.Equal
	case scanner.Less:
		return opcode.Less
	case scanner.Greater:
		return opcode.Greater
	case scanner.LessEq:
		return opcode.LessEqual
	case scanner.GreaterEq:
		return opcode.GreaterEqual
	case scanner.KwAnd:
		return opcode.And
	case scanner.KwOr:
		return opcode.Or
	}
	return 0
}

// binary compiles a left operand already on the stack followed by the
// just-consumed operator's right operand. '^' is the only
// right-associative operator: it recurses at its own precedence
// instead of precedence+1.
func (c *Compiler) binary() {
	opTok := c.previous.Type
	rule := getRule(opTok)
	next := rule.precedence + 1
	if opTok == scanner.Caret {
		next = rule.precedence
	}
	c.parsePrecedence(next)
	c.emitOp(binaryOp(opTok))
}

func (c *Compiler) unary() {
	opTok := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opTok {
	case scanner.Minus:
		c.emitOp(opcode.Negate)
	case scanner.KwNot:
		c.emitOp(opcode.Not)
	}
}

// function compiles a `function ... end function` literal as a
// prefix expression: opens a nested record, compiles its body as a
// block, closes it, and emits a CONST pushing the built function.
func (c *Compiler) function() {
	c.rec = newRecord(c.rec, typeFunction)
	c.beginScope()
	c.consume(scanner.Newline, "Expected newline after 'function'")
	c.block(scanner.EndFunction)
	c.consume(scanner.EndFunction, "Expected 'end function'")
	fn := c.endCompiler()
	c.emitConstant(value.Obj(c.interner.NewFunction(fn)))
}

// block compiles statements until EOF or any of terminators is seen,
// inside its own lexical scope.
func (c *Compiler) block(terminators ...scanner.TokenType) {
	c.beginScope()
	c.skipNewlines()
	for !c.check(scanner.EOF) && !c.atAny(terminators) {
		c.statement()
		c.skipNewlines()
	}
	c.endScope()
}

func (c *Compiler) atAny(types []scanner.TokenType) bool {
	for _, t := range types {
		if c.check(t) {
			return true
		}
	}
	return false
}

// --- statements ---

func (c *Compiler) statement() {
	if c.isStatementKeyword(c.current.Type) {
		switch c.current.Type {
		case scanner.KwIf:
			c.advance()
			c.ifStatement()
		case scanner.KwWhile:
			c.advance()
			c.whileStatement()
		case scanner.KwReturn:
			c.advance()
			c.returnStatement()
		default:
			c.errorAtCurrent("Unexpected keyword")
			c.advance()
		}
	} else {
		c.assignment()
	}
	if c.panicMode {
		c.synchronize()
	}
}

// isStatementKeyword tests whether the current token is a keyword
// other than not/true/false (those three are expression prefixes, not
// statement dispatchers).
func (c *Compiler) isStatementKeyword(t scanner.TokenType) bool {
	switch t {
	case scanner.KwIf, scanner.KwWhile, scanner.KwFor, scanner.KwFunction,
		scanner.KwAnd, scanner.KwOr, scanner.KwNull, scanner.KwThen, scanner.KwElse,
		scanner.KwElseIf, scanner.KwIn, scanner.KwIsa, scanner.KwNew, scanner.KwReturn,
		scanner.KwLocals, scanner.KwRepeat:
		return true
	}
	return false
}

// assignment compiles `ID = expr NEWLINE`. At function top level
// (scopeDepth == 0) this always targets a global; inside a nested
// scope it targets an existing local/global if the name resolves, or
// declares a brand new local otherwise. A bare identifier not
// followed by '=' is rewound and re-parsed as an expression statement
// (e.g. a bare call `f` or `f()`).
func (c *Compiler) assignment() {
	if c.current.Type == scanner.Ident {
		savedScanner := *c.scanner
		savedCurrent := c.current
		name := c.current.Lexeme
		c.advance()
		if c.check(scanner.Assign) {
			c.advance()
			c.expression()
			c.consumeStatementEnd()
			c.storeInto(name)
			return
		}
		*c.scanner = savedScanner
		c.current = savedCurrent
	}

	c.expressionStatement()
}

func (c *Compiler) storeInto(name string) {
	if c.rec.scopeDepth == 0 {
		c.emitBytes(opcode.SetGlobal, c.identifierConstant(name))
		return
	}
	switch slot := c.resolveLocal(name); {
	case slot >= 0:
		c.emitBytes(opcode.SetLocal, byte(slot))
	case slot == resolveGlobal:
		c.emitBytes(opcode.SetGlobal, c.identifierConstant(name))
	default:
		c.addLocal(name)
	}
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consumeStatementEnd()
	c.emitOp(opcode.Pop)
}

func (c *Compiler) consumeStatementEnd() {
	if c.check(scanner.EOF) {
		return
	}
	c.consume(scanner.Newline, "Expected newline after statement")
}

// ifStatement implements the symmetric else/else-if chain (expansion
// of Design Notes Open Question (a)): the straight-line `if ... end
// if` shape is the degenerate case with no else branch.
func (c *Compiler) ifStatement() {
	c.expression()
	c.consume(scanner.KwThen, "Expected 'then' after condition")
	c.consume(scanner.Newline, "Expected newline after 'then'")

	thenJump := c.emitJump(opcode.JumpIfFalse)
	c.emitOp(opcode.Pop)
	c.block(scanner.EndIf, scanner.KwElse, scanner.KwElseIf)

	endJump := c.emitJump(opcode.Jump)
	c.patchJump(thenJump)
	c.emitOp(opcode.Pop)

	switch {
	case c.match(scanner.KwElseIf):
		c.ifStatement()
	case c.match(scanner.KwElse):
		c.consume(scanner.Newline, "Expected newline after 'else'")
		c.block(scanner.EndIf)
		c.consume(scanner.EndIf, "Expected 'end if'")
	default:
		c.consume(scanner.EndIf, "Expected 'end if'")
	}

	c.patchJump(endJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Bytes)
	c.expression()
	c.consume(scanner.Newline, "Expected newline after condition")

	exitJump := c.emitJump(opcode.JumpIfFalse)
	c.emitOp(opcode.Pop)
	c.block(scanner.EndWhile)
	c.consume(scanner.EndWhile, "Expected 'end while'")
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(opcode.Pop)
}

func (c *Compiler) returnStatement() {
	if c.check(scanner.Newline) || c.check(scanner.EOF) {
		c.emitReturn()
		return
	}
	c.expression()
	c.consumeStatementEnd()
	c.emitOp(opcode.Return)
}
