package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode   Phase = "encode"   // Go to tagged value
	PhaseDecode   Phase = "decode"   // tagged value to Go
	PhaseInvoke   Phase = "invoke"   // native function call
	PhaseCallback Phase = "callback" // host callback invoked by the runtime
	PhaseRegistry Phase = "registry" // global function registry
	PhaseLoad     Phase = "load"     // module loading
	PhaseRelease  Phase = "release"  // handle release
	PhaseConfig   Phase = "config"   // configuration validation
)

// Kind categorizes the error
type Kind string

const (
	KindFunctionNotFound Kind = "function_not_found"
	KindTypeMismatch     Kind = "type_mismatch"
	KindUnsupported      Kind = "unsupported_type"
	KindNativeCall       Kind = "native_call_failed"
	KindDuplicateName    Kind = "duplicate_name"
	KindNullHandle       Kind = "null_handle"
	KindInvalidInput     Kind = "invalid_input"
	KindClosed           Kind = "closed"
)

// Sentinels for errors.Is checks that only care about the kind.
var (
	ErrFunctionNotFound = &Error{Kind: KindFunctionNotFound}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrUnsupportedType  = &Error{Kind: KindUnsupported}
	ErrNativeCall       = &Error{Kind: KindNativeCall}
	ErrDuplicateName    = &Error{Kind: KindDuplicateName}
	ErrNullHandle       = &Error{Kind: KindNullHandle}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Name     string // function or module name
	GoType   string
	Expected string // expected type code
	Actual   string // actual type code
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Name != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", e.Name))
	}

	hasTypes := e.GoType != "" || e.Expected != "" || e.Actual != ""
	if hasTypes {
		b.WriteString(": ")
		var parts []string
		if e.GoType != "" {
			parts = append(parts, "Go type "+e.GoType)
		}
		if e.Expected != "" {
			parts = append(parts, "expected "+e.Expected)
		}
		if e.Actual != "" {
			parts = append(parts, "actual "+e.Actual)
		}
		b.WriteString(strings.Join(parts, ", "))
	}

	if e.Detail != "" {
		if hasTypes {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
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

// Name sets the function or module name
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Expected sets the expected type code
func (b *Builder) Expected(t string) *Builder {
	b.err.Expected = t
	return b
}

// Actual sets the actual type code
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
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

// Convenience constructors for common error patterns

// FunctionNotFound creates an error for a missing callee.
// An empty name means no function was attached.
func FunctionNotFound(phase Phase, name string) *Error {
	e := &Error{
		Phase: phase,
		Kind:  KindFunctionNotFound,
		Name:  name,
	}
	if name == "" {
		e.Detail = "no function attached"
	}
	return e
}

// TypeMismatch creates a tag mismatch error
func TypeMismatch(phase Phase, expected, actual fmt.Stringer) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Expected: expected.String(),
		Actual:   actual.String(),
	}
}

// UnsupportedType creates an error for a Go value with no tagging rule
func UnsupportedType(phase Phase, v any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		GoType: fmt.Sprintf("%T", v),
		Value:  v,
	}
}

// NativeCallFailed creates an error from a non-zero native status.
// msg is the runtime's last error message.
func NativeCallFailed(phase Phase, op string, status int32, msg string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNativeCall,
		Name:   op,
		Value:  status,
		Detail: msg,
	}
}

// DuplicateName creates a registration collision error
func DuplicateName(name string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDuplicateName,
		Name:   name,
		Detail: "global function already registered",
	}
}

// NullHandle creates an error for a null reference where one was required
func NullHandle(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullHandle,
		Detail: fmt.Sprintf("%s is null", what),
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

// Closed creates an error for operations on a closed runtime
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
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
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Message returns the native message carried by a NativeCallFailed error,
// or err.Error() for anything else.
func Message(err error) string {
	if e, ok := err.(*Error); ok && e.Kind == KindNativeCall && e.Detail != "" {
		return e.Detail
	}
	return err.Error()
}
