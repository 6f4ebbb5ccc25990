package compiler

import "fmt"

// CompileError is one diagnostic produced while compiling a single
// statement. The compiler keeps going after one fires (panic-mode
// resynchronization, not a hard stop), so a single Compile call can
// accumulate several.
type CompileError struct {
	Message string
	Line    int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("Compiler Error: %s [line %d]", e.Message, e.Line)
}

// ErrorList aggregates every CompileError collected during one
// Compile call. A non-empty ErrorList is what interpret_string
// reports back as COMPILE_ERROR.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	s := ""
	for i, e := range l {
		if i > 0 {
			s += "; "
		}
		s += e.Error()
	}
	return s
}
