package engine

import (
	"context"
	"math"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	packedfunc "github.com/wippyai/packedfunc"
)

func loadWasm(t *testing.T, l *Local, file string) packedfunc.Handle {
	t.Helper()
	loader := global(t, l, "runtime.module.loadfile_wasm")
	ret, code := call(t, l, loader, []packedfunc.Payload{strArg("testdata/" + file)}, []packedfunc.TypeCode{packedfunc.Str})
	require.Equal(t, packedfunc.ModuleHandle, code)
	return packedfunc.Handle(ret.Bits)
}

func modFunc(t *testing.T, l *Local, mod packedfunc.Handle, name string) packedfunc.Handle {
	t.Helper()
	var fn packedfunc.Handle
	require.Zero(t, l.ModGetFunction(mod, name, false, &fn), l.GetLastError())
	require.NotZero(t, fn, "function %q not found", name)
	return fn
}

func TestWasm_LoadFile(t *testing.T) {
	l := newLocal(t)
	mod := loadWasm(t, l, "arith.wasm")
	defer l.ModFree(mod)

	main := modFunc(t, l, mod, "__tvm_main__")
	defer l.FuncFree(main)

	ret, code := call(t, l, main, []packedfunc.Payload{intArg(40), intArg(2)}, []packedfunc.TypeCode{packedfunc.Int, packedfunc.Int})
	assert.Equal(t, packedfunc.Int, code)
	assert.Equal(t, int64(42), int64(ret.Bits))

	mul := modFunc(t, l, mod, "mul")
	defer l.FuncFree(mul)

	args := []packedfunc.Payload{{Bits: math.Float64bits(2.5)}, {Bits: math.Float64bits(4)}}
	ret, code = call(t, l, mul, args, []packedfunc.TypeCode{packedfunc.Float, packedfunc.Float})
	assert.Equal(t, packedfunc.Float, code)
	assert.Equal(t, 10.0, math.Float64frombits(ret.Bits))

	var missing packedfunc.Handle
	l.ModGetFunction(mod, "nope", false, &missing)
	assert.Zero(t, missing, "unknown export resolves to null")
}

func TestWasm_LoadBinary(t *testing.T) {
	l := newLocal(t)

	data, err := os.ReadFile("testdata/small.wasm")
	require.NoError(t, err)
	loader := global(t, l, "runtime.module.loadbinary_wasm")
	arg := packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.SliceData(data)), Bits: uint64(len(data))}
	ret, code := call(t, l, loader, []packedfunc.Payload{arg}, []packedfunc.TypeCode{packedfunc.Bytes})
	require.Equal(t, packedfunc.ModuleHandle, code)
	mod := packedfunc.Handle(ret.Bits)
	defer l.ModFree(mod)

	sub := modFunc(t, l, mod, "sub")
	defer l.FuncFree(sub)

	// i32 results are sign-extended
	ret, code = call(t, l, sub, []packedfunc.Payload{intArg(3), intArg(10)}, []packedfunc.TypeCode{packedfunc.Int, packedfunc.Int})
	assert.Equal(t, packedfunc.Int, code)
	assert.Equal(t, int64(-7), int64(ret.Bits))

	noop := modFunc(t, l, mod, "noop")
	defer l.FuncFree(noop)
	_, code = call(t, l, noop, nil, nil)
	assert.Equal(t, packedfunc.Null, code)
}

func TestWasm_ArgumentErrors(t *testing.T) {
	l := newLocal(t)
	mod := loadWasm(t, l, "arith.wasm")
	defer l.ModFree(mod)

	mul := modFunc(t, l, mod, "mul")
	defer l.FuncFree(mul)

	var ret packedfunc.Payload
	var code packedfunc.TypeCode

	require.NotZero(t, l.FuncCall(mul, []packedfunc.Payload{{}}, []packedfunc.TypeCode{packedfunc.Float}, &ret, &code))
	assert.Contains(t, l.GetLastError(), "expected 2 arguments")

	args := []packedfunc.Payload{strArg("x"), {Bits: math.Float64bits(2)}}
	require.NotZero(t, l.FuncCall(mul, args, []packedfunc.TypeCode{packedfunc.Str, packedfunc.Float}, &ret, &code))
	assert.Contains(t, l.GetLastError(), "expected float, got str")
}

func TestWasm_IntWidenedToFloat(t *testing.T) {
	l := newLocal(t)
	mod := loadWasm(t, l, "arith.wasm")
	defer l.ModFree(mod)

	mul := modFunc(t, l, mod, "mul")
	defer l.FuncFree(mul)

	ret, code := call(t, l, mul, []packedfunc.Payload{{Bits: math.Float64bits(2.5)}, intArg(4)},
		[]packedfunc.TypeCode{packedfunc.Float, packedfunc.Int})
	require.Equal(t, packedfunc.Float, code)
	assert.Equal(t, 10.0, math.Float64frombits(ret.Bits))

	ret, _ = call(t, l, mul, []packedfunc.Payload{intArg(-3), {Bits: 2}},
		[]packedfunc.TypeCode{packedfunc.Int, packedfunc.UInt})
	assert.Equal(t, -6.0, math.Float64frombits(ret.Bits))
}

func TestWasm_TrailingOutputSlot(t *testing.T) {
	l := newLocal(t)
	mod := loadWasm(t, l, "arith.wasm")
	defer l.ModFree(mod)

	mul := modFunc(t, l, mod, "mul")
	defer l.FuncFree(mul)
	main := modFunc(t, l, mod, "__tvm_main__")
	defer l.FuncFree(main)

	args := []packedfunc.Payload{{Bits: math.Float64bits(2.5)}, {Bits: math.Float64bits(4)}, {}}
	ret, code := call(t, l, mul, args, []packedfunc.TypeCode{packedfunc.Float, packedfunc.Float, packedfunc.Float})
	require.Equal(t, packedfunc.Float, code)
	assert.Equal(t, 10.0, math.Float64frombits(ret.Bits))

	ret, code = call(t, l, main, []packedfunc.Payload{intArg(40), intArg(2), {}},
		[]packedfunc.TypeCode{packedfunc.Int, packedfunc.Int, packedfunc.Int})
	require.Equal(t, packedfunc.Int, code)
	assert.Equal(t, int64(42), int64(ret.Bits))

	// a slot whose code cannot hold the result is an extra argument
	var r packedfunc.Payload
	var c packedfunc.TypeCode
	require.NotZero(t, l.FuncCall(mul, args, []packedfunc.TypeCode{packedfunc.Float, packedfunc.Float, packedfunc.Int}, &r, &c))
	assert.Contains(t, l.GetLastError(), "expected 2 arguments, got 3")
}

func TestWasm_InvalidModule(t *testing.T) {
	l := newLocal(t)
	loader := global(t, l, "runtime.module.loadbinary_wasm")

	junk := []byte("not wasm")
	arg := packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.SliceData(junk)), Bits: uint64(len(junk))}
	var ret packedfunc.Payload
	var code packedfunc.TypeCode
	require.NotZero(t, l.FuncCall(loader, []packedfunc.Payload{arg}, []packedfunc.TypeCode{packedfunc.Bytes}, &ret, &code))
	assert.Contains(t, l.GetLastError(), "compile failed")

	fileLoader := global(t, l, "runtime.module.loadfile_wasm")
	assert.NotZero(t, l.FuncCall(fileLoader, []packedfunc.Payload{strArg("testdata/missing.wasm")}, []packedfunc.TypeCode{packedfunc.Str}, &ret, &code))
}

func TestWasm_LoadTwice(t *testing.T) {
	l := newLocal(t)
	a := loadWasm(t, l, "arith.wasm")
	b := loadWasm(t, l, "arith.wasm")
	defer l.ModFree(a)
	defer l.ModFree(b)

	assert.NotEqual(t, a, b)
}

func TestWasmLoader_CompilationCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	data, err := os.ReadFile("testdata/arith.wasm")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w, err := NewWasmLoader(ctx, &Config{CompilationCacheDir: dir, MemoryLimitPages: 16})
		require.NoError(t, err)
		m, err := w.Load(ctx, "arith", data)
		require.NoError(t, err)
		assert.Equal(t, "arith", m.Name())
		assert.Contains(t, m.Funcs(ctx), "__tvm_main__")
		require.NoError(t, w.Close(ctx))
	}
}
