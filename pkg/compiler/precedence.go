package compiler

import "github.com/kristofer/miniscript/pkg/scanner"

// Precedence orders binding strength for the Pratt parser, low to
// high. Several levels
// (Isa, New, Address, Map, List, Quantity) exist for a grammar this
// core's instruction set does not yet exercise (maps/lists/method
// dispatch are explicit non-goals) — kept so the precedence ladder
// itself, and any later rule that needs a slot on it, match the
// reference shape rather than a trimmed-down one.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecFunction
	PrecOr
	PrecAnd
	PrecNot
	PrecIsa
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecNew
	PrecAddress
	PrecPower
	PrecCall
	PrecMap
	PrecList
	PrecQuantity
	PrecAtom
)

type parseFn func(c *Compiler)

// parseRule is the {prefix?, infix?, precedence} triple the Pratt
// loop looks up per token kind.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[scanner.TokenType]parseRule

func init() {
	rules = map[scanner.TokenType]parseRule{
		scanner.LParen:    {prefix: (*Compiler).grouping},
		scanner.Number:    {prefix: (*Compiler).number},
		scanner.String:    {prefix: (*Compiler).string},
		scanner.Ident:     {prefix: (*Compiler).variable},
		scanner.KwTrue:    {prefix: (*Compiler).literal},
		scanner.KwFalse:   {prefix: (*Compiler).literal},
		scanner.KwNull:    {prefix: (*Compiler).literal},
		scanner.Minus:     {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: PrecTerm},
		scanner.KwNot:     {prefix: (*Compiler).unary},
		scanner.Plus:      {infix: (*Compiler).binary, precedence: PrecTerm},
		scanner.Star:      {infix: (*Compiler).binary, precedence: PrecFactor},
		scanner.Slash:     {infix: (*Compiler).binary, precedence: PrecFactor},
		scanner.Percent:   {infix: (*Compiler).binary, precedence: PrecFactor},
		scanner.Caret:     {infix: (*Compiler).binary, precedence: PrecPower},
		scanner.Equal:     {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.NotEq:     {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.Less:      {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.Greater:   {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.LessEq:    {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.GreaterEq: {infix: (*Compiler).binary, precedence: PrecComparison},
		scanner.KwAnd:     {infix: (*Compiler).binary, precedence: PrecAnd},
		scanner.KwOr:      {infix: (*Compiler).binary, precedence: PrecOr},
		scanner.KwFunction: {prefix: (*Compiler).function},
		scanner.At:         {prefix: (*Compiler).addressedVariable, precedence: PrecAddress},
	}
}

func getRule(t scanner.TokenType) parseRule {
	return rules[t]
}
