package packed

import (
	"runtime"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// Function is a handle to a packed function.
//
// Functions resolved from the global registry are never released: the
// registry owns them. Functions created from closures or resolved from a
// module own one reference, freed by Release or, failing that, by a GC
// cleanup. Clones share the original's handle but never release it.
type Function struct {
	rt      *Runtime
	ref     *ref
	cleanup runtime.Cleanup
	name    string
	global  bool
	cloned  bool
}

func (r *Runtime) globalFunction(name string, h packedfunc.Handle) *Function {
	return &Function{
		rt:     r,
		ref:    newRef(r.native, packedfunc.FuncHandle, h),
		name:   name,
		global: true,
	}
}

func (r *Runtime) ownedFunction(name string, h packedfunc.Handle) *Function {
	f := &Function{
		rt:   r,
		ref:  newRef(r.native, packedfunc.FuncHandle, h),
		name: name,
	}
	f.cleanup = track(f, f.ref)
	return f
}

// AsFunction takes ownership of a function returned by a call.
// A non-owning result yields a non-owning Function.
func (r *Runtime) AsFunction(ret value.RetValue) (*Function, error) {
	if ret.Code() != packedfunc.FuncHandle {
		return nil, errors.TypeMismatch(errors.PhaseDecode, packedfunc.FuncHandle, ret.Code())
	}
	h, owned := ret.Take()
	if h == 0 {
		return nil, errors.NullHandle(errors.PhaseDecode, "function")
	}
	if !owned {
		return &Function{rt: r, ref: newRef(r.native, packedfunc.FuncHandle, h), cloned: true}, nil
	}
	return r.ownedFunction("", h), nil
}

// Handle returns the native handle.
func (f *Function) Handle() packedfunc.Handle { return f.ref.handle }

// Name returns the registry or module name, if known.
func (f *Function) Name() string { return f.name }

// IsGlobal reports whether the registry owns the handle.
func (f *Function) IsGlobal() bool { return f.global }

// IsCloned reports whether f is a non-owning clone.
func (f *Function) IsCloned() bool { return f.cloned }

// IsReleased reports whether the shared handle has been released.
func (f *Function) IsReleased() bool { return f.ref.released.Load() }

// Value tags the function as an argument.
func (f *Function) Value() value.ArgValue {
	return value.Handle(packedfunc.FuncHandle, f.ref.handle)
}

// Clone returns a non-owning handle to the same function. It is valid
// while the original is.
func (f *Function) Clone() *Function {
	return &Function{
		rt:     f.rt,
		ref:    f.ref,
		name:   f.name,
		global: f.global,
		cloned: true,
	}
}

// Call invokes f with args tagged by value.From.
func (f *Function) Call(args ...any) (value.RetValue, error) {
	return Call(f, args...)
}

// Release frees the handle if f owns it. It is safe to call more than once.
func (f *Function) Release() error {
	if f.global || f.cloned {
		return nil
	}
	f.cleanup.Stop()
	return f.ref.release()
}

// ToRet moves f's reference into a return value, for closures returning a
// function they created. Global functions and clones return a non-owning
// value. f must not be used afterwards.
func (f *Function) ToRet() value.RetValue {
	if f.global || f.cloned || !f.ref.released.CompareAndSwap(false, true) {
		return value.Return(f.Value())
	}
	f.cleanup.Stop()
	return value.Owned(f.rt.native, packedfunc.Payload{Bits: uint64(f.ref.handle)}, packedfunc.FuncHandle)
}
