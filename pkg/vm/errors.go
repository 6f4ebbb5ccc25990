package vm

import "fmt"

// RuntimeError is a single abort-the-dispatch-loop runtime failure:
// a type mismatch in a binary op, negation of a non-number, stack
// overflow, frame overflow, an arity mismatch on a call, or a call of
// a non-callable. Stack underflow is not checked: pop does no bounds
// test of its own. The VM does not unwind a trace into the
// embedder (§7: "the embedder observes only the result code") — the
// line is simply the executing frame's line table entry at the byte
// immediately before ip.
type RuntimeError struct {
	Message string
	Line    int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("Runtime Error: %s [line %d]", e.Message, e.Line)
}

func newRuntimeError(message string, line int) *RuntimeError {
	return &RuntimeError{Message: message, Line: line}
}
