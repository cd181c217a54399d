package value

import (
	"fmt"
	"math"
	"unsafe"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
)

// Origin records who produced a value and therefore who owns its handle.
type Origin uint8

const (
	// OriginArg marks a borrowed value built by the caller.
	OriginArg Origin = iota
	// OriginReturn marks a value produced by a native call.
	OriginReturn
)

func (o Origin) String() string {
	if o == OriginReturn {
		return "return"
	}
	return "arg"
}

// TaggedValue is a payload paired with its type code.
type TaggedValue struct {
	payload packedfunc.Payload
	code    packedfunc.TypeCode
	origin  Origin
}

// Code returns the type code.
func (v TaggedValue) Code() packedfunc.TypeCode { return v.code }

// Payload returns the raw payload.
func (v TaggedValue) Payload() packedfunc.Payload { return v.payload }

// Origin returns where the value came from.
func (v TaggedValue) Origin() Origin { return v.origin }

// IsNull reports whether the value is the null value.
func (v TaggedValue) IsNull() bool { return v.code == packedfunc.Null }

func (v TaggedValue) expect(code packedfunc.TypeCode) error {
	if v.code != code {
		return errors.TypeMismatch(errors.PhaseDecode, code, v.code)
	}
	return nil
}

// Int returns the payload of an Int value.
func (v TaggedValue) Int() (int64, error) {
	if err := v.expect(packedfunc.Int); err != nil {
		return 0, err
	}
	return int64(v.payload.Bits), nil
}

// Uint returns the payload of a UInt value.
func (v TaggedValue) Uint() (uint64, error) {
	if err := v.expect(packedfunc.UInt); err != nil {
		return 0, err
	}
	return v.payload.Bits, nil
}

// Float returns the payload of a Float value.
func (v TaggedValue) Float() (float64, error) {
	if err := v.expect(packedfunc.Float); err != nil {
		return 0, err
	}
	return math.Float64frombits(v.payload.Bits), nil
}

// Bool returns an Int value interpreted as a boolean.
func (v TaggedValue) Bool() (bool, error) {
	if err := v.expect(packedfunc.Int); err != nil {
		return false, err
	}
	return v.payload.Bits != 0, nil
}

// Str returns the payload of a Str value. The result aliases the
// original memory.
func (v TaggedValue) Str() (string, error) {
	if err := v.expect(packedfunc.Str); err != nil {
		return "", err
	}
	if v.payload.Bits == 0 || v.payload.Ptr == nil {
		return "", nil
	}
	return unsafe.String((*byte)(v.payload.Ptr), int(v.payload.Bits)), nil
}

// Bytes returns the payload of a Bytes value. The result aliases the
// original memory.
func (v TaggedValue) Bytes() ([]byte, error) {
	if err := v.expect(packedfunc.Bytes); err != nil {
		return nil, err
	}
	if v.payload.Bits == 0 || v.payload.Ptr == nil {
		return []byte{}, nil
	}
	return unsafe.Slice((*byte)(v.payload.Ptr), int(v.payload.Bits)), nil
}

// Handle returns the handle of a value tagged with code.
func (v TaggedValue) Handle(code packedfunc.TypeCode) (packedfunc.Handle, error) {
	if !code.IsHandle() {
		return 0, errors.InvalidInput(errors.PhaseDecode, fmt.Sprintf("%s is not a handle type code", code))
	}
	if err := v.expect(code); err != nil {
		return 0, err
	}
	return packedfunc.Handle(v.payload.Bits), nil
}

// DataType returns the payload of a DataTypeCode value.
func (v TaggedValue) DataType() (packedfunc.DataType, error) {
	if err := v.expect(packedfunc.DataTypeCode); err != nil {
		return packedfunc.DataType{}, err
	}
	return packedfunc.UnpackDataType(v.payload.Bits), nil
}

// Device returns the payload of a DeviceCode value.
func (v TaggedValue) Device() (packedfunc.Device, error) {
	if err := v.expect(packedfunc.DeviceCode); err != nil {
		return packedfunc.Device{}, err
	}
	return packedfunc.UnpackDevice(v.payload.Bits), nil
}

// String formats the value for diagnostics.
func (v TaggedValue) String() string {
	switch v.code {
	case packedfunc.Int:
		return fmt.Sprintf("int(%d)", int64(v.payload.Bits))
	case packedfunc.UInt:
		return fmt.Sprintf("uint(%d)", v.payload.Bits)
	case packedfunc.Float:
		return fmt.Sprintf("float(%g)", math.Float64frombits(v.payload.Bits))
	case packedfunc.Null:
		return "null"
	case packedfunc.Str:
		s, _ := v.Str()
		return fmt.Sprintf("str(%q)", s)
	case packedfunc.Bytes:
		return fmt.Sprintf("bytes(len=%d)", v.payload.Bits)
	case packedfunc.DataTypeCode:
		return "dtype(" + packedfunc.UnpackDataType(v.payload.Bits).String() + ")"
	case packedfunc.DeviceCode:
		return "device(" + packedfunc.UnpackDevice(v.payload.Bits).String() + ")"
	}
	return fmt.Sprintf("%s(%#x)", v.code, v.payload.Bits)
}
