// Package engine provides an in-process packed-function runtime.
//
// Local implements the packedfunc.Runtime boundary in pure Go, so the
// binding layer can run without a native library. It keeps functions,
// modules, arrays and nodes in a reference-counted handle table and
// mirrors the status-code and last-error conventions of a C runtime.
//
// # Global Registry
//
// The registry holds its own reference to every registered function.
// FuncGetGlobal returns that handle without adding a reference; callers
// must not free it.
//
// # Builtin Functions
//
//	runtime.GetDeviceAttr           (device_type, device_id, attr) -> value
//	runtime.RuntimeEnabled          (target) -> int
//	runtime.ndarray.Empty           (dtype, device, dims...) -> array
//	runtime.module.loadfile_wasm    (path) -> module
//	runtime.module.loadbinary_wasm  (bytes) -> module
//
// # WebAssembly Modules
//
// WasmLoader compiles modules with wazero. Each exported function becomes a
// module function: i32 and i64 parameters take Int or UInt arguments, f32
// and f64 take Float. A function returns null or its single result.
// Modules importing WASI preview1 get the wazero implementation.
//
// # Lifetimes
//
// A function is borrowed for the duration of FuncCall. Freeing its last
// reference during the call, for example from inside a callback, defers
// the drop and its finalizer until the call returns. Functions resolved
// from a module keep the module alive.
//
// # Thread Safety
//
// Local is safe for concurrent use. Calls into one wasm instance are
// serialized. The last error is shared by all goroutines.
package engine
