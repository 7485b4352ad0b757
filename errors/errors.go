package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in the worker lifecycle the error occurred
type Phase string

const (
	PhaseCompile   Phase = "compile"   // module compilation
	PhaseLoad      Phase = "load"      // binding module + memory in a worker
	PhaseSpawn     Phase = "spawn"     // creating a worker context
	PhaseHandshake Phase = "handshake" // init/ready exchange
	PhaseRun       Phase = "run"       // blocking worker loop and jobs
	PhaseProtocol  Phase = "protocol"  // message port operations
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidData   Kind = "invalid_data"
	KindNotFound      Kind = "not_found"
	KindUnsupported   Kind = "unsupported"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindInstantiation Kind = "instantiation"
	KindForeign       Kind = "foreign"
	KindClosed        Kind = "closed"
	KindPanic         Kind = "panic"
	KindTrap          Kind = "trap"
	KindExited        Kind = "exited"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Worker int // 0 when not tied to a worker
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Worker > 0 {
		b.WriteString(" (worker ")
		b.WriteString(strconv.Itoa(e.Worker))
		b.WriteByte(')')
	}

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

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Worker sets the worker id
func (b *Builder) Worker(id int) *Builder {
	b.err.Worker = id
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// AbortError is raised by a guest that aborts with a message, the
// equivalent of wasm-bindgen's throw_str. It is unrecoverable for the
// worker that raised it.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	return e.Message
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates a linear memory bounds error
func OutOfBounds(offset, length, size uint32) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access [%d, +%d) out of bounds (size %d)", offset, length, size),
		Value:  offset,
	}
}

// Foreign creates an error for a module or memory owned by another engine
func Foreign(what string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindForeign,
		Detail: fmt.Sprintf("%s belongs to a different engine", what),
	}
}

// Closed creates an error for operations on a closed object
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Recovered converts a value recovered from a panic into an error.
// Errors are returned unchanged so errors.As keeps working on them.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindPanic,
		Detail: fmt.Sprint(v),
		Value:  v,
	}
}

// Describe renders a failure as the string carried by a panic message.
// The result is never empty.
func Describe(err error) string {
	if err == nil {
		return "Error: unknown failure"
	}

	var abort *AbortError
	if stderrors.As(err, &abort) {
		return "Error: " + abort.Message
	}

	var e *Error
	if stderrors.As(err, &e) && e.Kind == KindPanic && e.Cause == nil && e.Detail != "" {
		return "Error: " + e.Detail
	}

	msg := err.Error()
	if msg == "" {
		return "Error"
	}
	return "Error: " + msg
}
