package compiler

import "fmt"

// ErrorKind tags a CompileError so callers can switch on the failure
// class without parsing the message.
type ErrorKind string

const (
	ErrUnsupported          ErrorKind = "unsupported"
	ErrLimitExceeded        ErrorKind = "limit_exceeded"
	ErrDuplicateDeclaration ErrorKind = "duplicate_declaration"
	ErrIllegalBreakContinue ErrorKind = "illegal_break_continue"
	ErrAwaitOutsideAsync    ErrorKind = "await_outside_async"
	ErrYieldOutsideGenerator ErrorKind = "yield_outside_generator"
	ErrInvalidAssignment    ErrorKind = "invalid_assignment"
	ErrUnsupportedClass     ErrorKind = "unsupported_class"
)

// CompileError is the engine's one compile-time error type. Unsupported
// AST shapes surface as ErrUnsupported; every other kind is a named limit
// or scoping violation.
type CompileError struct {
	Kind    ErrorKind
	Message string
}

func (e *CompileError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func errf(kind ErrorKind, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func unimplemented(what string) *CompileError {
	return errf(ErrUnsupported, "unsupported construct: %s", what)
}
