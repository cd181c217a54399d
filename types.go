package packedfunc

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeCode identifies the kind of value carried by a Payload.
// The numeric values are fixed by the native calling convention.
type TypeCode int32

const (
	Int TypeCode = iota
	UInt
	Float
	OpaqueHandle
	Null
	DataTypeCode
	DeviceCode
	ArrayHandle
	NodeHandle
	ModuleHandle
	FuncHandle
	Str
	Bytes
	NDArrayContainer
)

var typeCodeNames = [...]string{
	Int:              "int",
	UInt:             "uint",
	Float:            "float",
	OpaqueHandle:     "handle",
	Null:             "null",
	DataTypeCode:     "dtype",
	DeviceCode:       "device",
	ArrayHandle:      "array_handle",
	NodeHandle:       "node_handle",
	ModuleHandle:     "module_handle",
	FuncHandle:       "func_handle",
	Str:              "str",
	Bytes:            "bytes",
	NDArrayContainer: "ndarray_container",
}

func (c TypeCode) String() string {
	if c >= 0 && int(c) < len(typeCodeNames) {
		return typeCodeNames[c]
	}
	return "typecode(" + strconv.Itoa(int(c)) + ")"
}

// IsHandle reports whether the code carries a runtime handle in Payload.Bits.
func (c TypeCode) IsHandle() bool {
	switch c {
	case OpaqueHandle, ArrayHandle, NodeHandle, ModuleHandle, FuncHandle, NDArrayContainer:
		return true
	}
	return false
}

// IsObject reports whether handles of this code are reference counted by the
// runtime and therefore need CbArgToReturn when received by a host callback.
func (c TypeCode) IsObject() bool {
	return c == NodeHandle || c == FuncHandle || c == ModuleHandle
}

// DataTypeKind is the element class of a DataType.
type DataTypeKind uint8

const (
	KindInt DataTypeKind = iota
	KindUInt
	KindFloat
	KindHandle
)

// DataType describes an element type: class, bit width and vector lanes.
type DataType struct {
	Kind  DataTypeKind
	Bits  uint8
	Lanes uint16
}

// Pack encodes the data type into payload bits.
func (t DataType) Pack() uint64 {
	return uint64(t.Kind) | uint64(t.Bits)<<8 | uint64(t.Lanes)<<16
}

// UnpackDataType is the inverse of DataType.Pack.
func UnpackDataType(bits uint64) DataType {
	return DataType{
		Kind:  DataTypeKind(bits & 0xff),
		Bits:  uint8(bits >> 8),
		Lanes: uint16(bits >> 16),
	}
}

func (t DataType) String() string {
	var prefix string
	switch t.Kind {
	case KindInt:
		prefix = "int"
	case KindUInt:
		if t.Bits == 1 && t.Lanes == 1 {
			return "bool"
		}
		prefix = "uint"
	case KindFloat:
		prefix = "float"
	case KindHandle:
		prefix = "handle"
	default:
		prefix = "kind" + strconv.Itoa(int(t.Kind))
	}
	s := prefix + strconv.Itoa(int(t.Bits))
	if t.Lanes > 1 {
		s += "x" + strconv.Itoa(int(t.Lanes))
	}
	return s
}

// ParseDataType parses names such as "float32", "int8x4", "bool" or "float"
// (a bare class defaults to 32 bits, "handle" to 64).
func ParseDataType(s string) (DataType, error) {
	if s == "bool" {
		return DataType{Kind: KindUInt, Bits: 1, Lanes: 1}, nil
	}

	t := DataType{Lanes: 1}
	rest := s
	switch {
	case strings.HasPrefix(rest, "uint"):
		t.Kind, t.Bits, rest = KindUInt, 32, rest[4:]
	case strings.HasPrefix(rest, "int"):
		t.Kind, t.Bits, rest = KindInt, 32, rest[3:]
	case strings.HasPrefix(rest, "float"):
		t.Kind, t.Bits, rest = KindFloat, 32, rest[5:]
	case strings.HasPrefix(rest, "handle"):
		t.Kind, t.Bits, rest = KindHandle, 64, rest[6:]
	default:
		return DataType{}, fmt.Errorf("unknown data type %q", s)
	}

	bits, lanes, hasLanes := strings.Cut(rest, "x")
	if bits != "" {
		n, err := strconv.ParseUint(bits, 10, 8)
		if err != nil || n == 0 {
			return DataType{}, fmt.Errorf("invalid bit width in data type %q", s)
		}
		t.Bits = uint8(n)
	}
	if hasLanes {
		n, err := strconv.ParseUint(lanes, 10, 16)
		if err != nil || n == 0 {
			return DataType{}, fmt.Errorf("invalid lanes in data type %q", s)
		}
		t.Lanes = uint16(n)
	}
	return t, nil
}

// DeviceType identifies a device class.
type DeviceType int32

const (
	CPU       DeviceType = 1
	GPU       DeviceType = 2
	CPUPinned DeviceType = 3
	OpenCL    DeviceType = 4
	Vulkan    DeviceType = 7
	Metal     DeviceType = 8
	VPI       DeviceType = 9
	ROCM      DeviceType = 10
	ExtDev    DeviceType = 12
)

var deviceNames = map[string]DeviceType{
	"cpu":        CPU,
	"llvm":       CPU,
	"stackvm":    CPU,
	"gpu":        GPU,
	"cuda":       GPU,
	"nvptx":      GPU,
	"cpu_pinned": CPUPinned,
	"cl":         OpenCL,
	"opencl":     OpenCL,
	"vulkan":     Vulkan,
	"metal":      Metal,
	"vpi":        VPI,
	"rocm":       ROCM,
	"ext_dev":    ExtDev,
}

// ParseDeviceType maps a target or device name to its device type.
func ParseDeviceType(name string) (DeviceType, error) {
	if t, ok := deviceNames[strings.ToLower(name)]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unsupported device %q", name)
}

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	case CPUPinned:
		return "cpu_pinned"
	case OpenCL:
		return "opencl"
	case Vulkan:
		return "vulkan"
	case Metal:
		return "metal"
	case VPI:
		return "vpi"
	case ROCM:
		return "rocm"
	case ExtDev:
		return "ext_dev"
	}
	return "device(" + strconv.Itoa(int(t)) + ")"
}

// Device is a device type plus ordinal.
type Device struct {
	Type DeviceType
	ID   int32
}

// CPUDevice returns the CPU device with the given ordinal.
func CPUDevice(id int32) Device { return Device{Type: CPU, ID: id} }

// GPUDevice returns the GPU device with the given ordinal.
func GPUDevice(id int32) Device { return Device{Type: GPU, ID: id} }

// Pack encodes the device into payload bits.
func (d Device) Pack() uint64 {
	return uint64(uint32(d.Type)) | uint64(uint32(d.ID))<<32
}

// UnpackDevice is the inverse of Device.Pack.
func UnpackDevice(bits uint64) Device {
	return Device{Type: DeviceType(int32(uint32(bits))), ID: int32(uint32(bits >> 32))}
}

func (d Device) String() string {
	return d.Type.String() + "(" + strconv.Itoa(int(d.ID)) + ")"
}

// DeviceAttr selects a device attribute for runtime.GetDeviceAttr.
type DeviceAttr int32

const (
	AttrExist DeviceAttr = iota
	AttrMaxThreadsPerBlock
	AttrWarpSize
	AttrMaxSharedMemoryPerBlock
	AttrComputeVersion
	AttrDeviceName
	AttrMaxClockRate
	AttrMultiProcessorCount
	AttrMaxThreadDimensions
)
