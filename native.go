package packedfunc

import (
	"runtime"
	"unsafe"
)

// Handle is an opaque reference owned by the native runtime.
// The zero Handle is the null reference.
type Handle uintptr

// Payload is the fixed-width value slot of the calling convention.
// Bits carries integers, float bits, handles, packed dtype/device values and the
// length of string/byte data. Ptr carries the data pointer of string and byte
// kinds, which keeps borrowed Go memory reachable for the duration of a call.
type Payload struct {
	Ptr  unsafe.Pointer
	Bits uint64
}

// CFunc is the native-callable shape of a host function. The runtime invokes it
// with borrowed argument buffers, an opaque return slot for CFuncSetReturn and
// the resource value given at creation. Zero means success; a non-zero return
// means the last error holds the failure message.
type CFunc func(args []Payload, codes []TypeCode, ret Handle, resource uintptr) int32

// Finalizer is invoked once when the runtime discards a function created from a CFunc.
type Finalizer func(resource uintptr)

// Runtime is the boundary of a native packed-function runtime.
// Every operation returns a status code: zero on success, non-zero on failure
// with the message available from GetLastError.
type Runtime interface {
	// GetLastError returns the last error message. It may be kept per OS
	// thread; use Check to pair it with the failing call.
	GetLastError() string

	// SetLastError replaces the last error message.
	SetLastError(msg string)

	// FuncCall invokes fn with len(values) positional arguments.
	// values and codes must have the same length.
	FuncCall(fn Handle, values []Payload, codes []TypeCode, ret *Payload, retCode *TypeCode) int32

	// FuncFree releases a function reference.
	FuncFree(fn Handle) int32

	// FuncGetGlobal stores the registry's handle for name into out,
	// or the null handle when no such function exists.
	FuncGetGlobal(name string, out *Handle) int32

	// FuncListGlobalNames stores the names of all registered global functions into out.
	FuncListGlobalNames(out *[]string) int32

	// FuncRegisterGlobal inserts fn into the global registry under name.
	// Without override an existing name is an error.
	FuncRegisterGlobal(name string, fn Handle, override bool) int32

	// FuncCreateFromCFunc wraps a host callback as a native function.
	FuncCreateFromCFunc(fn CFunc, resource uintptr, fin Finalizer, out *Handle) int32

	// CFuncSetReturn stores the result of a host callback into the return slot ret.
	CFuncSetReturn(ret Handle, values []Payload, codes []TypeCode) int32

	// CbArgToReturn converts an argument-position handle received by a host
	// callback into a return-position (owned) reference.
	CbArgToReturn(v *Payload, code TypeCode) int32

	// ModGetFunction resolves name inside mod, optionally searching imported modules.
	// out is the null handle when the function does not exist.
	ModGetFunction(mod Handle, name string, queryImports bool, out *Handle) int32

	// ModImport makes dep visible to lookups on mod.
	ModImport(mod, dep Handle) int32

	// ModFree releases a module reference.
	ModFree(mod Handle) int32

	// ArrayFree releases an array reference.
	ArrayFree(arr Handle) int32

	// NodeFree releases a node reference.
	NodeFree(node Handle) int32

	// Synchronize waits for the pending work of dev's default stream.
	Synchronize(dev Device) int32

	// Version returns the runtime version string.
	Version() string
}

// Check runs op with the goroutine locked to its OS thread and returns the
// last error of a failed call. Runtimes may keep the last error per thread,
// so the status and the message must be read on the same thread.
func Check(rt Runtime, op func() int32) (status int32, msg string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if status = op(); status != 0 {
		msg = rt.GetLastError()
	}
	return status, msg
}
