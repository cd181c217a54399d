package packedfunc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeCode_String(t *testing.T) {
	tests := []struct {
		code TypeCode
		want string
	}{
		{Int, "int"},
		{FuncHandle, "func_handle"},
		{Bytes, "bytes"},
		{TypeCode(99), "typecode(99)"},
		{TypeCode(-1), "typecode(-1)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
}

func TestTypeCode_Classes(t *testing.T) {
	for _, c := range []TypeCode{NodeHandle, FuncHandle, ModuleHandle} {
		assert.True(t, c.IsObject(), "%s is an object", c)
		assert.True(t, c.IsHandle(), "%s is a handle", c)
	}
	assert.False(t, ArrayHandle.IsObject(), "array handles are not converted by CbArgToReturn")
	assert.True(t, ArrayHandle.IsHandle())
	for _, c := range []TypeCode{Int, UInt, Float, Str, Bytes, Null, DataTypeCode, DeviceCode} {
		assert.False(t, c.IsHandle(), "%s is not a handle", c)
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
		str  string
	}{
		{"float32", DataType{KindFloat, 32, 1}, "float32"},
		{"float", DataType{KindFloat, 32, 1}, "float32"},
		{"int8x4", DataType{KindInt, 8, 4}, "int8x4"},
		{"uint16", DataType{KindUInt, 16, 1}, "uint16"},
		{"bool", DataType{KindUInt, 1, 1}, "bool"},
		{"handle", DataType{KindHandle, 64, 1}, "handle64"},
	}
	for _, tt := range tests {
		got, err := ParseDataType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.str, got.String())
		assert.Equal(t, got, UnpackDataType(got.Pack()), "pack round trip of %q", tt.in)
	}

	for _, bad := range []string{"", "complex64", "int0", "floatx", "int8x0", "int999"} {
		_, err := ParseDataType(bad)
		assert.Error(t, err, bad)
	}
}

func TestDevice(t *testing.T) {
	for name, want := range map[string]DeviceType{"cpu": CPU, "llvm": CPU, "CUDA": GPU, "cl": OpenCL, "rocm": ROCM} {
		got, err := ParseDeviceType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseDeviceType("tpu")
	assert.Error(t, err)

	for _, d := range []Device{CPUDevice(0), GPUDevice(3), {Type: ExtDev, ID: -1}} {
		assert.Equal(t, d, UnpackDevice(d.Pack()))
	}
	assert.Equal(t, "gpu(1)", GPUDevice(1).String())
}
