package packed

import (
	"fmt"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/resource"
	"github.com/wippyai/packedfunc/value"
)

// closureTypeID tags boxed closures in the session table.
const closureTypeID = 1

// Func is a Go closure callable as a packed function.
//
// Arguments are borrowed and valid only until the closure returns. Return
// value.Void() for a null result.
type Func func(args []value.ArgValue) (value.RetValue, error)

// ConvertFunc wraps fn as an owning packed function.
func (r *Runtime) ConvertFunc(fn Func) (*Function, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil closure")
	}

	box := r.closures.Insert(closureTypeID, fn)
	if box == 0 {
		return nil, errors.Closed(errors.PhaseCallback, "session")
	}

	var h packedfunc.Handle
	st, msg := packedfunc.Check(r.native, func() int32 {
		return r.native.FuncCreateFromCFunc(r.trampoline, uintptr(box), r.finalize, &h)
	})
	if st != 0 {
		r.closures.Remove(box)
		return nil, errors.NativeCallFailed(errors.PhaseCallback, "FuncCreateFromCFunc", st, msg)
	}
	return r.ownedFunction("", h), nil
}

// Register exposes fn as a global function. Without override an existing
// name fails with a DuplicateName error; with override fn replaces it.
func (r *Runtime) Register(name string, fn Func, override bool) error {
	if !override {
		var h packedfunc.Handle
		if st := r.native.FuncGetGlobal(name, &h); st == 0 && h != 0 {
			return errors.DuplicateName(name)
		}
	}

	f, err := r.ConvertFunc(fn)
	if err != nil {
		return err
	}
	f.name = name
	defer f.Release()

	return r.RegisterFunction(name, f, override)
}

// RegisterFunction exposes an existing function under a global name. The
// registry keeps its own reference; f is still owned by the caller.
func (r *Runtime) RegisterFunction(name string, f *Function, override bool) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "empty function name")
	}
	if f == nil || f.IsReleased() {
		return errors.NullHandle(errors.PhaseRegistry, "function")
	}

	st, msg := packedfunc.Check(r.native, func() int32 {
		return r.native.FuncRegisterGlobal(name, f.ref.handle, override)
	})
	if st != 0 {
		if !override {
			var h packedfunc.Handle
			if r.native.FuncGetGlobal(name, &h) == 0 && h != 0 {
				return errors.New(errors.PhaseRegistry, errors.KindDuplicateName).Name(name).Detail("%s", msg).Build()
			}
		}
		return errors.NativeCallFailed(errors.PhaseRegistry, "FuncRegisterGlobal", st, msg)
	}

	r.remember(name)
	Logger().Debug("registered global function", zap.String("name", name), zap.Bool("override", override))
	return nil
}

// trampoline is the single native entry point for every converted closure.
// res is the closure's handle in the session table.
func (r *Runtime) trampoline(args []packedfunc.Payload, codes []packedfunc.TypeCode, ret packedfunc.Handle, res uintptr) (status int32) {
	v, ok := r.closures.GetTyped(resource.Handle(res), closureTypeID)
	if !ok {
		r.native.SetLastError(fmt.Sprintf("packed function closure %d not found", res))
		return -1
	}
	fn := v.(Func)

	defer func() {
		if p := recover(); p != nil {
			Logger().Error("packed function callback panicked", zap.Any("panic", p))
			r.native.SetLastError(fmt.Sprintf("panic in packed function callback: %v", p))
			status = -1
		}
	}()

	// references produced by CbArgToReturn belong to this call
	var converted []value.RetValue
	defer func() {
		for _, c := range converted {
			if err := c.Release(); err != nil {
				Logger().Warn("release of callback argument failed", zap.Error(err))
			}
		}
	}()

	argv := make([]value.ArgValue, len(args))
	for i := range args {
		p, code := args[i], codes[i]
		if code.IsObject() {
			if st := r.native.CbArgToReturn(&p, code); st != 0 {
				return st
			}
			converted = append(converted, value.Owned(r.native, p, code))
		}
		argv[i] = value.Raw(p, code)
	}

	out, err := fn(argv)
	if err != nil {
		r.native.SetLastError(errors.Message(err))
		return -1
	}
	defer func() {
		if err := out.Release(); err != nil {
			Logger().Warn("release of callback result failed", zap.Error(err))
		}
	}()

	return r.native.CFuncSetReturn(ret, []packedfunc.Payload{out.Payload()}, []packedfunc.TypeCode{out.Code()})
}

// finalize drops the boxed closure once the native function is gone.
func (r *Runtime) finalize(res uintptr) {
	r.closures.Remove(resource.Handle(res))
}
