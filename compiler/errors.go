package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Compile-time error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies compile-time failures: lexical, syntactic, and
// semantic. Compilation is fail-fast; the first error aborts the pipeline
// and no bytecode is produced.
type ErrorKind int

const (
	// Lexical
	ErrIndentation ErrorKind = iota
	ErrInterpolationSyntax

	// Syntax
	ErrParse

	// Semantic
	ErrUndefinedVariable
	ErrShadowing
	ErrDuplicateDeclaration
	ErrReadOnlyAssignment
	ErrTypeMismatch
	ErrPreludeStatement
)

var errorKindNames = map[ErrorKind]string{
	ErrIndentation:          "indentation error",
	ErrInterpolationSyntax:  "interpolation syntax error",
	ErrParse:                "parse error",
	ErrUndefinedVariable:    "undefined variable",
	ErrShadowing:            "shadowing error",
	ErrDuplicateDeclaration: "duplicate declaration",
	ErrReadOnlyAssignment:   "read-only assignment",
	ErrTypeMismatch:         "type mismatch",
	ErrPreludeStatement:     "prelude statement error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a compile-time error with a position.
type Error struct {
	Kind    ErrorKind
	Message string
	Pos     Position
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d, column %d: %s: %s", e.Pos.Line, e.Pos.Column, e.Kind, e.Message)
}

// errorAt constructs an Error at a position.
func errorAt(kind ErrorKind, pos Position, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Pos: pos}
}
