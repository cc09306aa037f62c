package diag

import (
	"errors"
	"fmt"
)

// SyntaxError is a recognized language-syntax failure. It is reported as a
// single diagnostic without a stack trace and never invalidates the program.
type SyntaxError struct {
	File   string
	Line   int
	Column int
	Msg    string
	Code   int
	Cause  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax Error at %s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Cause }

// Diagnostic converts the error into its single error diagnostic.
func (e *SyntaxError) Diagnostic() Diagnostic {
	code := e.Code
	if code == 0 {
		code = CodeSyntax
	}
	return Diagnostic{Category: CategoryError, Code: code, Message: e.Msg}.At(e.File, e.Line, e.Column)
}

// AsSyntaxError reports whether err is (or wraps) a SyntaxError.
func AsSyntaxError(err error) (*SyntaxError, bool) {
	var se *SyntaxError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
