package packed

import (
	"runtime"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// Array is an owning handle to an n-dimensional array allocated by the
// runtime. Shape, element type and device are kept on the Go side.
type Array struct {
	rt      *Runtime
	ref     *ref
	cleanup runtime.Cleanup
	shape   []int64
	dtype   packedfunc.DataType
	dev     packedfunc.Device
}

// EmptyArray allocates an uninitialized array through runtime.ndarray.Empty.
func (r *Runtime) EmptyArray(shape []int64, dtype packedfunc.DataType, dev packedfunc.Device) (*Array, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, errors.InvalidInput(errors.PhaseEncode, "negative array dimension")
		}
	}

	fn, err := r.GetFunction("runtime.ndarray.Empty")
	if err != nil {
		return nil, err
	}
	b := NewBuilder(fn).PushArgs(value.DType(dtype), value.Dev(dev))
	for _, d := range shape {
		b.PushArg(value.Int(d))
	}
	ret, err := b.Invoke()
	if err != nil {
		return nil, err
	}

	a, err := r.AsArray(ret)
	if err != nil {
		ret.Release()
		return nil, err
	}
	a.shape = append([]int64(nil), shape...)
	a.dtype = dtype
	a.dev = dev
	return a, nil
}

// AsArray takes ownership of an array returned by a call.
func (r *Runtime) AsArray(ret value.RetValue) (*Array, error) {
	code := ret.Code()
	if code != packedfunc.ArrayHandle && code != packedfunc.NDArrayContainer {
		return nil, errors.TypeMismatch(errors.PhaseDecode, packedfunc.ArrayHandle, code)
	}
	h, owned := ret.Take()
	if h == 0 {
		return nil, errors.NullHandle(errors.PhaseDecode, "array")
	}
	a := &Array{rt: r, ref: newRef(r.native, packedfunc.ArrayHandle, h)}
	if owned {
		a.cleanup = track(a, a.ref)
	} else {
		a.ref.released.Store(true)
	}
	return a, nil
}

// Handle returns the native handle.
func (a *Array) Handle() packedfunc.Handle { return a.ref.handle }

// Shape returns the dimensions.
func (a *Array) Shape() []int64 { return append([]int64(nil), a.shape...) }

// DataType returns the element type.
func (a *Array) DataType() packedfunc.DataType { return a.dtype }

// Device returns the device holding the data.
func (a *Array) Device() packedfunc.Device { return a.dev }

// Len returns the number of elements.
func (a *Array) Len() int64 {
	n := int64(1)
	for _, d := range a.shape {
		n *= d
	}
	return n
}

// Value tags the array as an argument.
func (a *Array) Value() value.ArgValue {
	return value.Handle(packedfunc.ArrayHandle, a.ref.handle)
}

// Release frees the array once.
func (a *Array) Release() error {
	a.cleanup.Stop()
	return a.ref.release()
}
