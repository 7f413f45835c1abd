// Package errors provides the structured error type used by the loader,
// linker, and runtime.
//
// Parser diagnostics are deliberately not represented here: parsing
// records ast.ErrorRecord values and continues. Errors in this package
// are the fatal kind — a failed load, a missing import, a verification
// rejection, a runtime trap.
package errors

import (
	"strings"
)

// Phase indicates where in processing the error occurred.
type Phase string

const (
	PhaseParse   Phase = "parse"   // text front-end
	PhaseCompile Phase = "compile" // AST lowering
	PhaseLink    Phase = "link"    // import resolution
	PhaseLoad    Phase = "load"    // backend instantiation
	PhaseRuntime Phase = "runtime" // guest execution
)

// Kind categorizes the error.
type Kind string

const (
	KindTypeMismatch  Kind = "type_mismatch"
	KindMissingImport Kind = "missing_import"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindVerification  Kind = "verification"
	KindTrap          Kind = "trap"
)

// Error is the structured error type used throughout the runtime.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates a structured error.
func New(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap creates a structured error with a cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Cause: cause, Detail: detail}
}

// ParseFailed reports an unrecoverable front-end failure (the parser's
// recorded diagnostics are in the detail).
func ParseFailed(detail string) *Error {
	return New(PhaseParse, KindInvalidInput, detail)
}

// CompileFailed reports a lowering failure.
func CompileFailed(cause error) *Error {
	return Wrap(PhaseCompile, KindVerification, cause, "lower module")
}

// MissingImport reports an import that no registered intrinsic satisfies.
// The detail names the import and its full signature.
func MissingImport(detail string) *Error {
	return New(PhaseLink, KindMissingImport, detail)
}

// Load reports a backend instantiation failure.
func Load(detail string, cause error) *Error {
	return Wrap(PhaseLoad, KindVerification, cause, detail)
}

// NotFound reports a lookup miss (typically an export name).
func NotFound(phase Phase, detail string) *Error {
	return New(phase, KindNotFound, detail)
}

// InvalidInput reports input the caller should fix.
func InvalidInput(phase Phase, detail string) *Error {
	return New(phase, KindInvalidInput, detail)
}

// Trap reports a runtime trap propagated out of a guest call.
func Trap(cause error, detail string) *Error {
	return Wrap(PhaseRuntime, KindTrap, cause, detail)
}

// OutOfBounds reports a guest pointer outside the committed sandbox.
func OutOfBounds(detail string) *Error {
	return New(PhaseRuntime, KindOutOfBounds, detail)
}
