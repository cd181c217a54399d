package value

import (
	"math"
	"unsafe"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
)

// Signed is the set of signed integer types tagged as Int.
type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is the set of unsigned integer types tagged as UInt.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Floating is the set of floating point types tagged as Float.
type Floating interface {
	~float32 | ~float64
}

// ArgValue is a borrowed tagged value passed as a call argument.
// It never releases anything.
type ArgValue struct {
	TaggedValue
}

// Handler is implemented by host wrappers of native objects, such as
// functions, modules and arrays, so they can be passed as arguments.
type Handler interface {
	Value() ArgValue
}

func arg(code packedfunc.TypeCode, bits uint64) ArgValue {
	return ArgValue{TaggedValue{code: code, payload: packedfunc.Payload{Bits: bits}}}
}

// Raw builds an argument from a payload and code received from the runtime.
func Raw(p packedfunc.Payload, code packedfunc.TypeCode) ArgValue {
	return ArgValue{TaggedValue{code: code, payload: p}}
}

// Int tags a signed integer.
func Int[T Signed](v T) ArgValue {
	return arg(packedfunc.Int, uint64(int64(v)))
}

// Uint tags an unsigned integer.
func Uint[T Unsigned](v T) ArgValue {
	return arg(packedfunc.UInt, uint64(v))
}

// Float tags a floating point number.
func Float[T Floating](v T) ArgValue {
	return arg(packedfunc.Float, math.Float64bits(float64(v)))
}

// Bool tags a boolean as Int 0 or 1.
func Bool(b bool) ArgValue {
	if b {
		return arg(packedfunc.Int, 1)
	}
	return arg(packedfunc.Int, 0)
}

// String tags a string without copying it.
func String(s string) ArgValue {
	return ArgValue{TaggedValue{
		code:    packedfunc.Str,
		payload: packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.StringData(s)), Bits: uint64(len(s))},
	}}
}

// Bytes tags a byte slice without copying it.
func Bytes(b []byte) ArgValue {
	return ArgValue{TaggedValue{
		code:    packedfunc.Bytes,
		payload: packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.SliceData(b)), Bits: uint64(len(b))},
	}}
}

// Null returns the null value.
func Null() ArgValue {
	return arg(packedfunc.Null, 0)
}

// Handle tags a native handle with code.
func Handle(code packedfunc.TypeCode, h packedfunc.Handle) ArgValue {
	return arg(code, uint64(h))
}

// DType tags a data type descriptor.
func DType(dt packedfunc.DataType) ArgValue {
	return arg(packedfunc.DataTypeCode, dt.Pack())
}

// Dev tags a device descriptor.
func Dev(d packedfunc.Device) ArgValue {
	return arg(packedfunc.DeviceCode, d.Pack())
}

// From tags a Go value by its dynamic type.
func From(v any) (ArgValue, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case ArgValue:
		return x, nil
	case RetValue:
		return x.Arg(), nil
	case Handler:
		return x.Value(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return Uint(x), nil
	case uint8:
		return Uint(x), nil
	case uint16:
		return Uint(x), nil
	case uint32:
		return Uint(x), nil
	case uint64:
		return Uint(x), nil
	case uintptr:
		return Uint(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case packedfunc.DataType:
		return DType(x), nil
	case packedfunc.Device:
		return Dev(x), nil
	}
	return ArgValue{}, errors.UnsupportedType(errors.PhaseEncode, v)
}

// MustFrom is like From but panics on unsupported types.
func MustFrom(v any) ArgValue {
	a, err := From(v)
	if err != nil {
		panic(err)
	}
	return a
}
