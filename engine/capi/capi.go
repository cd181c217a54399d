//go:build tvm && cgo

package capi

/*
#cgo LDFLAGS: -ltvm_runtime
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <tvm/runtime/c_runtime_api.h>

int pf_create(uintptr_t res, TVMFunctionHandle* out);
TVMByteArray* pf_byte_array(const char* data, size_t size);
const char* pf_version(void);
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	packedfunc "github.com/wippyai/packedfunc"
)

// Runtime is the TVM C runtime behind the packedfunc.Runtime boundary.
// The last error is thread-local in TVM; packedfunc.Check reads it on the
// OS thread of the failing call.
type Runtime struct{}

var _ packedfunc.Runtime = Runtime{}

// New returns the process-wide TVM runtime.
func New() Runtime { return Runtime{} }

func (Runtime) GetLastError() string {
	return C.GoString(C.TVMGetLastError())
}

func (Runtime) SetLastError(msg string) {
	cs := C.CString(msg)
	defer C.free(unsafe.Pointer(cs))
	C.TVMAPISetLastError(cs)
}

// cArgs holds the C buffers of one call and the C memory they reference.
type cArgs struct {
	values []C.TVMValue
	codes  []C.int
	allocs []unsafe.Pointer
}

func newCArgs(values []packedfunc.Payload, codes []packedfunc.TypeCode) *cArgs {
	a := &cArgs{
		values: make([]C.TVMValue, len(values)),
		codes:  make([]C.int, len(codes)),
	}
	for i := range values {
		a.codes[i] = C.int(codes[i])
		a.set(i, values[i], codes[i])
	}
	return a
}

func (a *cArgs) set(i int, p packedfunc.Payload, code packedfunc.TypeCode) {
	slot := (*uint64)(unsafe.Pointer(&a.values[i]))
	switch code {
	case packedfunc.Str:
		cs := C.malloc(C.size_t(p.Bits + 1))
		buf := unsafe.Slice((*byte)(cs), int(p.Bits)+1)
		copy(buf, unsafe.Slice((*byte)(p.Ptr), int(p.Bits)))
		buf[p.Bits] = 0
		a.allocs = append(a.allocs, cs)
		*slot = uint64(uintptr(cs))
	case packedfunc.Bytes:
		data := C.CBytes(unsafe.Slice((*byte)(p.Ptr), int(p.Bits)))
		arr := C.pf_byte_array((*C.char)(data), C.size_t(p.Bits))
		a.allocs = append(a.allocs, data, unsafe.Pointer(arr))
		*slot = uint64(uintptr(unsafe.Pointer(arr)))
	default:
		*slot = p.Bits
	}
}

func (a *cArgs) valuesPtr() *C.TVMValue {
	if len(a.values) == 0 {
		return nil
	}
	return &a.values[0]
}

func (a *cArgs) codesPtr() *C.int {
	if len(a.codes) == 0 {
		return nil
	}
	return &a.codes[0]
}

func (a *cArgs) free() {
	for _, p := range a.allocs {
		C.free(p)
	}
	a.allocs = nil
}

// goPayload converts a C value. Strings and bytes are copied when copyData
// is set and borrowed otherwise.
func goPayload(v *C.TVMValue, code packedfunc.TypeCode, copyData bool) packedfunc.Payload {
	bits := *(*uint64)(unsafe.Pointer(v))
	switch code {
	case packedfunc.Str:
		cs := (*C.char)(unsafe.Pointer(uintptr(bits)))
		if cs == nil {
			return packedfunc.Payload{}
		}
		n := int(C.strlen(cs))
		if copyData {
			s := C.GoStringN(cs, C.int(n))
			return packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.StringData(s)), Bits: uint64(n)}
		}
		return packedfunc.Payload{Ptr: unsafe.Pointer(cs), Bits: uint64(n)}
	case packedfunc.Bytes:
		arr := (*C.TVMByteArray)(unsafe.Pointer(uintptr(bits)))
		if arr == nil {
			return packedfunc.Payload{}
		}
		if copyData {
			b := C.GoBytes(unsafe.Pointer(arr.data), C.int(arr.size))
			return packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.SliceData(b)), Bits: uint64(len(b))}
		}
		return packedfunc.Payload{Ptr: unsafe.Pointer(arr.data), Bits: uint64(arr.size)}
	}
	return packedfunc.Payload{Bits: bits}
}

func handle(h packedfunc.Handle) unsafe.Pointer {
	return unsafe.Pointer(uintptr(h))
}

func (Runtime) FuncCall(fn packedfunc.Handle, values []packedfunc.Payload, codes []packedfunc.TypeCode, ret *packedfunc.Payload, retCode *packedfunc.TypeCode) int32 {
	if len(values) != len(codes) {
		return fail("FuncCall: values and type codes differ in length")
	}
	args := newCArgs(values, codes)
	defer args.free()

	var out C.TVMValue
	var outCode C.int
	st := C.TVMFuncCall(C.TVMFunctionHandle(handle(fn)), args.valuesPtr(), args.codesPtr(), C.int(len(values)), &out, &outCode)
	if st != 0 {
		return int32(st)
	}
	*retCode = packedfunc.TypeCode(outCode)
	*ret = goPayload(&out, *retCode, true)
	return 0
}

func (Runtime) FuncFree(fn packedfunc.Handle) int32 {
	return int32(C.TVMFuncFree(C.TVMFunctionHandle(handle(fn))))
}

func (Runtime) FuncGetGlobal(name string, out *packedfunc.Handle) int32 {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))

	var h C.TVMFunctionHandle
	if st := C.TVMFuncGetGlobal(cs, &h); st != 0 {
		return int32(st)
	}
	*out = packedfunc.Handle(uintptr(unsafe.Pointer(h)))
	return 0
}

func (Runtime) FuncListGlobalNames(out *[]string) int32 {
	var n C.int
	var names **C.char
	if st := C.TVMFuncListGlobalNames(&n, &names); st != 0 {
		return int32(st)
	}
	list := make([]string, int(n))
	for i, cs := range unsafe.Slice(names, int(n)) {
		list[i] = C.GoString(cs)
	}
	*out = list
	return 0
}

func (Runtime) FuncRegisterGlobal(name string, fn packedfunc.Handle, override bool) int32 {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	return int32(C.TVMFuncRegisterGlobal(cs, C.TVMFunctionHandle(handle(fn)), boolInt(override)))
}

// callback is what the C resource handle of a created function refers to.
type callback struct {
	fn  packedfunc.CFunc
	fin packedfunc.Finalizer
	res uintptr
}

func (Runtime) FuncCreateFromCFunc(fn packedfunc.CFunc, res uintptr, fin packedfunc.Finalizer, out *packedfunc.Handle) int32 {
	if fn == nil {
		return fail("FuncCreateFromCFunc: nil callback")
	}
	ch := cgo.NewHandle(&callback{fn: fn, fin: fin, res: res})

	var h C.TVMFunctionHandle
	if st := C.pf_create(C.uintptr_t(ch), &h); st != 0 {
		ch.Delete()
		return int32(st)
	}
	*out = packedfunc.Handle(uintptr(unsafe.Pointer(h)))
	return 0
}

//export pfCallback
func pfCallback(args *C.TVMValue, codes *C.int, n C.int, ret C.TVMRetValueHandle, res C.uintptr_t) C.int {
	cb := cgo.Handle(res).Value().(*callback)

	cvals := unsafe.Slice(args, int(n))
	ccodes := unsafe.Slice(codes, int(n))
	values := make([]packedfunc.Payload, n)
	tcodes := make([]packedfunc.TypeCode, n)
	for i := range values {
		tcodes[i] = packedfunc.TypeCode(ccodes[i])
		values[i] = goPayload(&cvals[i], tcodes[i], false)
	}
	return C.int(cb.fn(values, tcodes, packedfunc.Handle(uintptr(unsafe.Pointer(ret))), cb.res))
}

//export pfFinalize
func pfFinalize(res C.uintptr_t) {
	h := cgo.Handle(res)
	cb := h.Value().(*callback)
	h.Delete()
	if cb.fin != nil {
		cb.fin(cb.res)
	}
}

func (Runtime) CFuncSetReturn(ret packedfunc.Handle, values []packedfunc.Payload, codes []packedfunc.TypeCode) int32 {
	if len(values) != len(codes) {
		return fail("CFuncSetReturn: values and type codes differ in length")
	}
	args := newCArgs(values, codes)
	defer args.free()
	return int32(C.TVMCFuncSetReturn(C.TVMRetValueHandle(handle(ret)), args.valuesPtr(), args.codesPtr(), C.int(len(values))))
}

func (Runtime) CbArgToReturn(v *packedfunc.Payload, code packedfunc.TypeCode) int32 {
	var cv C.TVMValue
	*(*uint64)(unsafe.Pointer(&cv)) = v.Bits
	ccode := C.int(code)
	if st := C.TVMCbArgToReturn(&cv, &ccode); st != 0 {
		return int32(st)
	}
	v.Bits = *(*uint64)(unsafe.Pointer(&cv))
	return 0
}

func (Runtime) ModGetFunction(mod packedfunc.Handle, name string, queryImports bool, out *packedfunc.Handle) int32 {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))

	var h C.TVMFunctionHandle
	if st := C.TVMModGetFunction(C.TVMModuleHandle(handle(mod)), cs, boolInt(queryImports), &h); st != 0 {
		return int32(st)
	}
	*out = packedfunc.Handle(uintptr(unsafe.Pointer(h)))
	return 0
}

func (Runtime) ModImport(mod, dep packedfunc.Handle) int32 {
	return int32(C.TVMModImport(C.TVMModuleHandle(handle(mod)), C.TVMModuleHandle(handle(dep))))
}

func (Runtime) ModFree(mod packedfunc.Handle) int32 {
	return int32(C.TVMModFree(C.TVMModuleHandle(handle(mod))))
}

func (Runtime) ArrayFree(arr packedfunc.Handle) int32 {
	return int32(C.TVMArrayFree(C.TVMArrayHandle(handle(arr))))
}

func (Runtime) NodeFree(node packedfunc.Handle) int32 {
	return int32(C.TVMObjectFree(C.TVMObjectHandle(handle(node))))
}

func (Runtime) Synchronize(dev packedfunc.Device) int32 {
	return int32(C.TVMSynchronize(C.int(dev.Type), C.int(dev.ID), nil))
}

func (Runtime) Version() string {
	return C.GoString(C.pf_version())
}

func fail(msg string) int32 {
	Runtime{}.SetLastError(msg)
	return -1
}

func boolInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
