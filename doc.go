// Package packedfunc provides Go bindings for runtimes that expose packed functions.
//
// A packed function is a native callable invoked through a tagged-value calling
// convention instead of a typed signature: the caller hands over a buffer of
// payloads, a parallel buffer of type codes and a count, and gets back a single
// tagged result plus a status code. This library implements the host side of that
// convention for Go, in both directions: calling native functions, and exposing Go
// closures as packed functions the native side can call.
//
// # Architecture Overview
//
//	packedfunc/          Root package with the wire model and the Runtime boundary
//	├── value/           Tagged values, borrowed arguments and owning results
//	├── packed/          Functions, invocation builder, callback registration, modules
//	├── engine/          In-process Runtime implementation and wasm module loader
//	│   └── capi/        cgo Runtime implementation (build tag "tvm")
//	├── resource/        Ref-counted handle table used by the in-process runtime
//	├── errors/          Structured error types
//	└── cmd/pfrun/       Command line runner
//
// # Quick Start
//
// Register a Go closure and call it back through the native registry:
//
//	local, err := engine.NewLocal(nil)
//	if err != nil {
//	    return err
//	}
//	rt := packed.New(local)
//
//	err = rt.Register("mysum", func(args []value.ArgValue) (value.RetValue, error) {
//	    var sum int64
//	    for _, a := range args {
//	        v, err := a.Int()
//	        if err != nil {
//	            return value.RetValue{}, err
//	        }
//	        sum += v
//	    }
//	    return value.ReturnOf(sum)
//	}, false)
//
//	fn, err := rt.GetFunction("mysum")
//	ret, err := packed.NewBuilder(fn).
//	    PushArgs(value.Int(10), value.Int(20), value.Int(30)).
//	    Invoke()
//	sum, _ := ret.Int() // 60
//
// # Handle Ownership
//
// Function, module, array and node handles returned by the native side are owned
// by exactly one Go value. Functions resolved from the global registry are never
// released individually; clones never release. Call Release when done with an
// owning handle; leaked owners are released once by a GC cleanup.
//
// # Thread Safety
//
// Invocations are synchronous and take no locks of their own. Concurrent calls on
// independent functions are safe as far as the native runtime allows them.
package packedfunc
