package engine

import (
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"unsafe"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
)

// maxArrayBytes bounds allocations made by runtime.ndarray.Empty.
const maxArrayBytes = 1 << 31

func (l *Local) registerBuiltins() {
	l.registerBuiltin("runtime.GetDeviceAttr", getDeviceAttr)
	l.registerBuiltin("runtime.RuntimeEnabled", runtimeEnabled)
	l.registerBuiltin("runtime.ndarray.Empty", l.ndarrayEmpty)
	l.registerBuiltin("runtime.module.loadfile_wasm", l.loadFileWasm)
	l.registerBuiltin("runtime.module.loadbinary_wasm", l.loadBinaryWasm)
}

func argInt(args []packedfunc.Payload, codes []packedfunc.TypeCode, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch codes[i] {
	case packedfunc.Int, packedfunc.UInt:
		return int64(args[i].Bits), nil
	}
	return 0, fmt.Errorf("argument %d: expected int, got %s", i, codes[i])
}

func argStr(args []packedfunc.Payload, codes []packedfunc.TypeCode, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	if codes[i] != packedfunc.Str {
		return "", fmt.Errorf("argument %d: expected str, got %s", i, codes[i])
	}
	return unsafe.String((*byte)(args[i].Ptr), int(args[i].Bits)), nil
}

func argBytes(args []packedfunc.Payload, codes []packedfunc.TypeCode, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	if codes[i] != packedfunc.Bytes {
		return nil, fmt.Errorf("argument %d: expected bytes, got %s", i, codes[i])
	}
	return unsafe.Slice((*byte)(args[i].Ptr), int(args[i].Bits)), nil
}

func intResult(v int64) (packedfunc.Payload, packedfunc.TypeCode, error) {
	return packedfunc.Payload{Bits: uint64(v)}, packedfunc.Int, nil
}

func strResult(s string) (packedfunc.Payload, packedfunc.TypeCode, error) {
	return packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.StringData(s)), Bits: uint64(len(s))}, packedfunc.Str, nil
}

func nullResult() (packedfunc.Payload, packedfunc.TypeCode, error) {
	return packedfunc.Payload{}, packedfunc.Null, nil
}

// getDeviceAttr implements runtime.GetDeviceAttr(device_type, device_id, attr).
// Only the CPU device exists; unsupported attributes return null.
func getDeviceAttr(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
	devType, err := argInt(args, codes, 0)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	if _, err := argInt(args, codes, 1); err != nil {
		return packedfunc.Payload{}, 0, err
	}
	attr, err := argInt(args, codes, 2)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}

	cpu := packedfunc.DeviceType(devType) == packedfunc.CPU
	switch packedfunc.DeviceAttr(attr) {
	case packedfunc.AttrExist:
		if cpu {
			return intResult(1)
		}
		return intResult(0)
	case packedfunc.AttrWarpSize, packedfunc.AttrMaxThreadsPerBlock:
		if cpu {
			return intResult(1)
		}
	case packedfunc.AttrMultiProcessorCount:
		if cpu {
			return intResult(int64(goruntime.NumCPU()))
		}
	case packedfunc.AttrDeviceName:
		if cpu {
			return strResult(goruntime.GOARCH)
		}
	}
	return nullResult()
}

// runtimeEnabled implements runtime.RuntimeEnabled(target).
func runtimeEnabled(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
	target, err := argStr(args, codes, 0)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	kind := target
	if fields := strings.Fields(target); len(fields) > 0 {
		kind = fields[0]
	}
	switch strings.ToLower(kind) {
	case "cpu", "llvm", "stackvm", "c", "wasm":
		return intResult(1)
	}
	return intResult(0)
}

// ndarrayEmpty implements runtime.ndarray.Empty(dtype, device, dims...).
func (l *Local) ndarrayEmpty(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
	if len(args) < 2 || codes[0] != packedfunc.DataTypeCode || codes[1] != packedfunc.DeviceCode {
		return packedfunc.Payload{}, 0, fmt.Errorf("runtime.ndarray.Empty: expected (dtype, device, dims...)")
	}
	dtype := packedfunc.UnpackDataType(args[0].Bits)
	dev := packedfunc.UnpackDevice(args[1].Bits)
	if dev.Type != packedfunc.CPU {
		return packedfunc.Payload{}, 0, fmt.Errorf("runtime.ndarray.Empty: device %s is not available", dev)
	}
	if dtype.Bits == 0 || dtype.Lanes == 0 {
		return packedfunc.Payload{}, 0, fmt.Errorf("runtime.ndarray.Empty: invalid dtype %s", dtype)
	}

	elemBytes := (int64(dtype.Bits)*int64(dtype.Lanes) + 7) / 8
	size := elemBytes
	shape := make([]int64, 0, len(args)-2)
	for i := 2; i < len(args); i++ {
		d, err := argInt(args, codes, i)
		if err != nil {
			return packedfunc.Payload{}, 0, err
		}
		if d < 0 {
			return packedfunc.Payload{}, 0, fmt.Errorf("runtime.ndarray.Empty: negative dimension %d", d)
		}
		if d > 0 && size > maxArrayBytes/d {
			return packedfunc.Payload{}, 0, fmt.Errorf("runtime.ndarray.Empty: array exceeds %d bytes", maxArrayBytes)
		}
		size *= d
		shape = append(shape, d)
	}

	arr := &ndarray{
		data:  make([]byte, size),
		shape: shape,
		dtype: dtype,
		dev:   dev,
	}
	h := l.table.Insert(typeArray, arr)
	if h == 0 {
		return packedfunc.Payload{}, 0, fmt.Errorf("runtime closed")
	}
	return packedfunc.Payload{Bits: uint64(h)}, packedfunc.ArrayHandle, nil
}

// ArrayShape returns the shape of an array allocated by this runtime.
func (l *Local) ArrayShape(h packedfunc.Handle) ([]int64, bool) {
	_, v, ok := l.lookup(h, typeArray)
	if !ok {
		return nil, false
	}
	return append([]int64(nil), v.(*ndarray).shape...), true
}

func (l *Local) loadFileWasm(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
	path, err := argStr(args, codes, 0)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return packedfunc.Payload{}, 0, fmt.Errorf("load %s: %w", path, err)
	}
	return l.loadWasm(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), data)
}

func (l *Local) loadBinaryWasm(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
	data, err := argBytes(args, codes, 0)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	return l.loadWasm("module", data)
}

func (l *Local) loadWasm(name string, data []byte) (packedfunc.Payload, packedfunc.TypeCode, error) {
	loader, err := l.wasmLoader()
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	mod, err := loader.Load(l.ctx, name, data)
	if err != nil {
		return packedfunc.Payload{}, 0, err
	}
	h := l.NewModule(mod.Name(), mod.Funcs(l.ctx), func() error { return mod.Close(l.ctx) })
	if h == 0 {
		mod.Close(l.ctx)
		return packedfunc.Payload{}, 0, fmt.Errorf("runtime closed")
	}
	l.log.Debug("wasm module loaded", zap.String("module", mod.Name()), zap.Int("exports", len(mod.exports)))
	return packedfunc.Payload{Bits: uint64(h)}, packedfunc.ModuleHandle, nil
}

func (l *Local) wasmLoader() (*WasmLoader, error) {
	l.wasmOnce.Do(func() {
		l.wasm, l.wasmErr = NewWasmLoader(l.ctx, &l.cfg)
	})
	return l.wasm, l.wasmErr
}
