// Package packed is the Go binding layer over a packed-function runtime.
//
// A Runtime wraps any packedfunc.Runtime implementation (the in-process
// engine.Local, or the TVM C API behind the tvm build tag) and provides:
//
//   - Function: a handle to a packed function, with explicit ownership.
//     Global functions belong to the registry and are never freed; functions
//     created from Go closures or resolved from modules are freed once by
//     Release or by a GC cleanup.
//   - Builder: assembles the arguments of one call, with an optional
//     trailing output slot, and decodes the result.
//   - Register and ConvertFunc: expose Go closures as packed functions
//     through a single trampoline.
//   - Module and Array: owning handles to loaded modules and runtime arrays.
//
// Quick start:
//
//	local, _ := engine.NewLocal(nil)
//	rt := packed.New(local)
//
//	rt.Register("mysum", func(args []value.ArgValue) (value.RetValue, error) {
//		var sum int64
//		for _, a := range args {
//			v, err := a.Int()
//			if err != nil {
//				return value.RetValue{}, err
//			}
//			sum += v
//		}
//		return value.Return(value.Int(sum)), nil
//	}, false)
//
//	fn, _ := rt.GetFunction("mysum")
//	ret, _ := fn.Call(10, 20, 30) // int(60)
package packed
