// Package errors provides structured error types for the packedfunc library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes the function name, Go type, expected and actual type
// codes, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		Expected("int").
//		Actual("str").
//		Detail("argument 2").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FunctionNotFound(errors.PhaseRegistry, "mysum")
//	err := errors.NativeCallFailed(errors.PhaseInvoke, "FuncCall", status, msg)
//
// All errors implement the standard error interface and support errors.Is/As.
// Kind-only sentinels such as ErrFunctionNotFound match errors of any phase:
//
//	if errors.Is(err, errors.ErrFunctionNotFound) { ... }
package errors
