package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	packedfunc "github.com/wippyai/packedfunc"
)

const wasiModuleName = "wasi_snapshot_preview1"

// WasmLoader compiles WebAssembly modules and exposes their exported
// functions as packed functions.
type WasmLoader struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	wasiMu   sync.Mutex
	seq      atomic.Uint64
	wasiDone atomic.Bool
}

// NewWasmLoader creates a loader with its own wazero runtime.
func NewWasmLoader(ctx context.Context, cfg *Config) (*WasmLoader, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	w := &WasmLoader{}

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CompilationCacheDir != "" {
			cache, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
			if err != nil {
				return nil, fmt.Errorf("compilation cache: %w", err)
			}
			w.cache = cache
			runtimeCfg = runtimeCfg.WithCompilationCache(cache)
		}
	}

	w.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return w, nil
}

// Close closes the runtime and every module loaded through it.
func (w *WasmLoader) Close(ctx context.Context) error {
	err := w.runtime.Close(ctx)
	if w.cache != nil {
		if cerr := w.cache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// initWASI instantiates WASI preview1 once per runtime.
func (w *WasmLoader) initWASI(ctx context.Context) error {
	if w.wasiDone.Load() {
		return nil
	}

	w.wasiMu.Lock()
	defer w.wasiMu.Unlock()

	if w.wasiDone.Load() {
		return nil
	}
	if w.runtime.Module(wasiModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, w.runtime); err != nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}
	w.wasiDone.Store(true)
	return nil
}

// Load compiles and instantiates a module. Each instance gets a unique name,
// so the same binary can be loaded more than once.
func (w *WasmLoader) Load(ctx context.Context, name string, wasm []byte) (*WasmModule, error) {
	compiled, err := w.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	for _, imp := range compiled.ImportedFunctions() {
		if mod, _, _ := imp.Import(); mod == wasiModuleName {
			if err := w.initWASI(ctx); err != nil {
				compiled.Close(ctx)
				return nil, err
			}
			break
		}
	}

	instName := fmt.Sprintf("%s#%d", name, w.seq.Add(1))
	modCfg := wazero.NewModuleConfig().
		WithName(instName).
		WithStartFunctions("_initialize")

	inst, err := w.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}

	m := &WasmModule{
		name:     name,
		compiled: compiled,
		instance: inst,
		exports:  make(map[string]api.Function),
	}
	for export := range compiled.ExportedFunctions() {
		if fn := inst.ExportedFunction(export); fn != nil {
			m.exports[export] = fn
		}
	}
	return m, nil
}

// WasmModule is an instantiated wasm module.
// Calls into the instance are serialized.
type WasmModule struct {
	compiled wazero.CompiledModule
	instance api.Module
	exports  map[string]api.Function
	name     string
	callMu   sync.Mutex
}

// Name returns the module name given to Load.
func (m *WasmModule) Name() string {
	return m.name
}

// Funcs returns a packed function per exported function.
func (m *WasmModule) Funcs(ctx context.Context) map[string]HostFunc {
	funcs := make(map[string]HostFunc, len(m.exports))
	for name, fn := range m.exports {
		funcs[name] = m.wrap(ctx, name, fn)
	}
	return funcs
}

func (m *WasmModule) wrap(ctx context.Context, name string, fn api.Function) HostFunc {
	def := fn.Definition()
	params := def.ParamTypes()
	results := def.ResultTypes()

	return func(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
		// a trailing output slot is accepted when its code fits the result
		if len(args) == len(params)+1 && slotFits(results, codes[len(params)]) {
			args, codes = args[:len(params)], codes[:len(params)]
		}
		if len(args) != len(params) {
			return packedfunc.Payload{}, 0, fmt.Errorf("%s.%s: expected %d arguments, got %d", m.name, name, len(params), len(args))
		}
		if len(results) > 1 {
			return packedfunc.Payload{}, 0, fmt.Errorf("%s.%s: %d results are not supported", m.name, name, len(results))
		}

		stack := make([]uint64, max(len(params), len(results)))
		for i, t := range params {
			v, err := lowerArg(t, args[i], codes[i])
			if err != nil {
				return packedfunc.Payload{}, 0, fmt.Errorf("%s.%s: argument %d: %w", m.name, name, i, err)
			}
			stack[i] = v
		}

		m.callMu.Lock()
		err := fn.CallWithStack(ctx, stack)
		m.callMu.Unlock()
		if err != nil {
			return packedfunc.Payload{}, 0, fmt.Errorf("%s.%s: %w", m.name, name, err)
		}

		if len(results) == 0 {
			return packedfunc.Payload{}, packedfunc.Null, nil
		}
		p, code := liftResult(results[0], stack[0])
		return p, code, nil
	}
}

// slotFits reports whether an output slot tagged code can receive the
// result of a function returning results.
func slotFits(results []api.ValueType, code packedfunc.TypeCode) bool {
	if code == packedfunc.Null {
		return len(results) <= 1
	}
	if len(results) != 1 {
		return false
	}
	switch results[0] {
	case api.ValueTypeI32, api.ValueTypeI64:
		return code == packedfunc.Int || code == packedfunc.UInt
	case api.ValueTypeF32, api.ValueTypeF64:
		return code == packedfunc.Float
	}
	return false
}

// toFloat widens an Int or UInt argument for a float parameter.
func toFloat(p packedfunc.Payload, code packedfunc.TypeCode) (float64, error) {
	switch code {
	case packedfunc.Float:
		return math.Float64frombits(p.Bits), nil
	case packedfunc.Int:
		return float64(int64(p.Bits)), nil
	case packedfunc.UInt:
		return float64(p.Bits), nil
	}
	return 0, fmt.Errorf("expected float, got %s", code)
}

// lowerArg converts a tagged argument to a core wasm value. Integers are
// widened for float parameters.
func lowerArg(t api.ValueType, p packedfunc.Payload, code packedfunc.TypeCode) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		if code != packedfunc.Int && code != packedfunc.UInt {
			return 0, fmt.Errorf("expected int for i32, got %s", code)
		}
		return api.EncodeI32(int32(p.Bits)), nil
	case api.ValueTypeI64:
		if code != packedfunc.Int && code != packedfunc.UInt {
			return 0, fmt.Errorf("expected int for i64, got %s", code)
		}
		return p.Bits, nil
	case api.ValueTypeF32:
		f, err := toFloat(p, code)
		if err != nil {
			return 0, fmt.Errorf("f32: %w", err)
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, err := toFloat(p, code)
		if err != nil {
			return 0, fmt.Errorf("f64: %w", err)
		}
		return api.EncodeF64(f), nil
	}
	return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
}

// liftResult converts a core wasm result to a tagged value.
func liftResult(t api.ValueType, v uint64) (packedfunc.Payload, packedfunc.TypeCode) {
	switch t {
	case api.ValueTypeI32:
		return packedfunc.Payload{Bits: uint64(int64(api.DecodeI32(v)))}, packedfunc.Int
	case api.ValueTypeF32:
		return packedfunc.Payload{Bits: math.Float64bits(float64(api.DecodeF32(v)))}, packedfunc.Float
	case api.ValueTypeF64:
		return packedfunc.Payload{Bits: v}, packedfunc.Float
	case api.ValueTypeI64:
		return packedfunc.Payload{Bits: v}, packedfunc.Int
	}
	return packedfunc.Payload{Bits: v}, packedfunc.OpaqueHandle
}

// Close closes the instance and its compiled module.
func (m *WasmModule) Close(ctx context.Context) error {
	err := m.instance.Close(ctx)
	if cerr := m.compiled.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
