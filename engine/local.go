package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/resource"
)

// errCallbackFailed reports a host callback failure whose message is
// already stored as the last error.
var errCallbackFailed = errors.New("callback failed")

// Local is an in-process packed-function runtime. It keeps every function,
// module, array and node in a reference-counted handle table and implements
// the packedfunc.Runtime boundary on top of it.
type Local struct {
	ctx     context.Context
	log     *zap.Logger
	table   *resource.UnifiedTable
	globals map[string]resource.Handle
	wasm    *WasmLoader
	wasmErr error
	lastErr string
	cfg     Config

	objects   *objectCounter
	globalsMu sync.RWMutex
	lastErrMu sync.Mutex
	wasmOnce  sync.Once

	calls     atomic.Int64
	funcFree  atomic.Int64
	modFree   atomic.Int64
	arrayFree atomic.Int64
	nodeFree  atomic.Int64
}

var _ packedfunc.Runtime = (*Local)(nil)

// Version is reported by Local.Version.
const Version = "0.1.0"

// Stats is a snapshot of runtime counters. The Free counters count
// successful boundary calls; Created and Dropped count table objects,
// including drops caused by the runtime itself.
type Stats struct {
	Created   ObjectCounts
	Dropped   ObjectCounts
	Calls     int64
	FuncFree  int64
	ModFree   int64
	ArrayFree int64
	NodeFree  int64
	Live      int
}

// NewLocal creates a runtime with the builtin global functions registered.
// A nil config uses defaults.
func NewLocal(cfg *Config) (*Local, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	log := c.Logger
	if log == nil {
		log = Logger()
	}

	l := &Local{
		ctx:     context.Background(),
		log:     log,
		cfg:     c,
		table:   resource.NewTable(),
		globals: make(map[string]resource.Handle),
		objects: &objectCounter{},
	}
	l.table.Subscribe(l.objects)
	l.registerBuiltins()
	return l, nil
}

// Close drops every object and shuts down the wasm loader.
func (l *Local) Close(ctx context.Context) error {
	l.globalsMu.Lock()
	l.globals = make(map[string]resource.Handle)
	l.globalsMu.Unlock()

	l.table.Clear()
	l.table.Unsubscribe(l.objects)
	err := l.table.Close()

	if l.wasm != nil {
		if cerr := l.wasm.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Stats returns a snapshot of the call and release counters.
func (l *Local) Stats() Stats {
	return Stats{
		Created:   l.objects.snapshot(resource.EventCreated),
		Dropped:   l.objects.snapshot(resource.EventDropped),
		Calls:     l.calls.Load(),
		FuncFree:  l.funcFree.Load(),
		ModFree:   l.modFree.Load(),
		ArrayFree: l.arrayFree.Load(),
		NodeFree:  l.nodeFree.Load(),
		Live:      l.table.Len(),
	}
}

// GetLastError returns the last error message.
func (l *Local) GetLastError() string {
	l.lastErrMu.Lock()
	defer l.lastErrMu.Unlock()
	return l.lastErr
}

// SetLastError replaces the last error message.
func (l *Local) SetLastError(msg string) {
	l.lastErrMu.Lock()
	l.lastErr = msg
	l.lastErrMu.Unlock()
}

func (l *Local) fail(format string, args ...any) int32 {
	msg := fmt.Sprintf(format, args...)
	l.SetLastError(msg)
	l.log.Debug("runtime call failed", zap.String("error", msg))
	return -1
}

func toHandle(h resource.Handle) packedfunc.Handle {
	return packedfunc.Handle(h)
}

// lookup resolves h to a live table handle holding an object of typeID.
func (l *Local) lookup(h packedfunc.Handle, typeID uint32) (resource.Handle, any, bool) {
	if h == 0 || uint64(h) > math.MaxUint32 {
		return 0, nil, false
	}
	rh := resource.Handle(h)
	v, ok := l.table.GetTyped(rh, typeID)
	return rh, v, ok
}

// FuncCall invokes fn. The function stays alive until the call returns even
// if its last reference is freed by the callee.
func (l *Local) FuncCall(fn packedfunc.Handle, values []packedfunc.Payload, codes []packedfunc.TypeCode, ret *packedfunc.Payload, retCode *packedfunc.TypeCode) int32 {
	if len(values) != len(codes) {
		return l.fail("FuncCall: %d values with %d type codes", len(values), len(codes))
	}
	if len(values) > l.cfg.maxArgs() {
		return l.fail("FuncCall: %d arguments exceed the limit of %d", len(values), l.cfg.maxArgs())
	}

	rh, v, ok := l.lookup(fn, typeFunc)
	if !ok || !l.table.Borrow(rh) {
		return l.fail("FuncCall: invalid function handle %#x", uintptr(fn))
	}
	defer l.table.ReturnBorrow(rh)

	l.calls.Add(1)
	f := v.(*function)

	p, code, err := l.invoke(f, values, codes)
	if err != nil {
		if err != errCallbackFailed {
			l.SetLastError(err.Error())
		}
		return -1
	}

	*ret = p
	*retCode = code
	return 0
}

func (l *Local) invoke(f *function, values []packedfunc.Payload, codes []packedfunc.TypeCode) (p packedfunc.Payload, code packedfunc.TypeCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("function panicked", zap.String("function", f.name), zap.Any("panic", r))
			err = fmt.Errorf("%s: panic: %v", f.name, r)
		}
	}()
	return f.call(values, codes)
}

// FuncFree drops a function reference.
func (l *Local) FuncFree(fn packedfunc.Handle) int32 {
	return l.free(fn, typeFunc, "FuncFree", &l.funcFree)
}

// ModFree drops a module reference.
func (l *Local) ModFree(mod packedfunc.Handle) int32 {
	return l.free(mod, typeModule, "ModFree", &l.modFree)
}

// ArrayFree drops an array reference.
func (l *Local) ArrayFree(arr packedfunc.Handle) int32 {
	return l.free(arr, typeArray, "ArrayFree", &l.arrayFree)
}

// NodeFree drops a node reference.
func (l *Local) NodeFree(n packedfunc.Handle) int32 {
	return l.free(n, typeNode, "NodeFree", &l.nodeFree)
}

func (l *Local) free(h packedfunc.Handle, typeID uint32, op string, counter *atomic.Int64) int32 {
	rh, _, ok := l.lookup(h, typeID)
	if !ok {
		return l.fail("%s: invalid handle %#x", op, uintptr(h))
	}
	counter.Add(1)
	l.table.Release(rh)
	return 0
}

// release drops one reference to a freeable payload.
func (l *Local) release(p packedfunc.Payload, code packedfunc.TypeCode) {
	if !freeable(code) || p.Bits == 0 {
		return
	}
	switch code {
	case packedfunc.FuncHandle:
		l.FuncFree(packedfunc.Handle(p.Bits))
	case packedfunc.ModuleHandle:
		l.ModFree(packedfunc.Handle(p.Bits))
	case packedfunc.NodeHandle:
		l.NodeFree(packedfunc.Handle(p.Bits))
	default:
		l.ArrayFree(packedfunc.Handle(p.Bits))
	}
}

// retain adds a reference to a freeable payload.
func (l *Local) retain(p packedfunc.Payload, code packedfunc.TypeCode) bool {
	if !freeable(code) || p.Bits == 0 {
		return true
	}
	rh, _, ok := l.lookup(packedfunc.Handle(p.Bits), typeIDOf(code))
	return ok && l.table.Retain(rh)
}

// FuncCreateFromCFunc wraps a host callback. fin runs once when the last
// reference is dropped and no call is in flight.
func (l *Local) FuncCreateFromCFunc(fn packedfunc.CFunc, res uintptr, fin packedfunc.Finalizer, out *packedfunc.Handle) int32 {
	if fn == nil {
		return l.fail("FuncCreateFromCFunc: nil callback")
	}
	f := &function{
		name: "callback",
		call: l.callback(fn, res),
	}
	if fin != nil {
		f.release = func() { fin(res) }
	}
	h := l.table.Insert(typeFunc, f)
	if h == 0 {
		return l.fail("FuncCreateFromCFunc: runtime closed")
	}
	*out = toHandle(h)
	return 0
}

func (l *Local) callback(fn packedfunc.CFunc, res uintptr) HostFunc {
	return func(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error) {
		slot := &retSlot{code: packedfunc.Null}
		h := l.table.Insert(typeRetSlot, slot)
		if h == 0 {
			return packedfunc.Payload{}, 0, errors.New("runtime closed")
		}
		status := fn(args, codes, toHandle(h), res)
		l.table.Remove(h)

		if status != 0 {
			if slot.set {
				l.release(slot.value, slot.code)
			}
			return packedfunc.Payload{}, 0, errCallbackFailed
		}
		return slot.value, slot.code, nil
	}
}

// CFuncSetReturn stores a callback result. Handles are retained and string
// data is copied, so the slot outlives the callback's own values.
func (l *Local) CFuncSetReturn(ret packedfunc.Handle, values []packedfunc.Payload, codes []packedfunc.TypeCode) int32 {
	if len(values) != 1 || len(codes) != 1 {
		return l.fail("CFuncSetReturn: expected 1 return value, got %d", len(values))
	}
	_, v, ok := l.lookup(ret, typeRetSlot)
	if !ok {
		return l.fail("CFuncSetReturn: invalid return slot %#x", uintptr(ret))
	}
	slot := v.(*retSlot)

	p, code := values[0], codes[0]
	switch code {
	case packedfunc.Str:
		s := strings.Clone(unsafe.String((*byte)(p.Ptr), int(p.Bits)))
		p = packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.StringData(s)), Bits: uint64(len(s))}
	case packedfunc.Bytes:
		b := bytes.Clone(unsafe.Slice((*byte)(p.Ptr), int(p.Bits)))
		p = packedfunc.Payload{Ptr: unsafe.Pointer(unsafe.SliceData(b)), Bits: uint64(len(b))}
	default:
		if !l.retain(p, code) {
			return l.fail("CFuncSetReturn: invalid %s %#x", code, p.Bits)
		}
	}

	if slot.set {
		l.release(slot.value, slot.code)
	}
	slot.value, slot.code, slot.set = p, code, true
	return 0
}

// CbArgToReturn converts a borrowed callback argument into an owned
// reference. Only node, function and module handles are affected.
func (l *Local) CbArgToReturn(v *packedfunc.Payload, code packedfunc.TypeCode) int32 {
	if !code.IsObject() {
		return 0
	}
	if !l.retain(*v, code) {
		return l.fail("CbArgToReturn: invalid %s %#x", code, v.Bits)
	}
	return 0
}

// NewNode stores v as a runtime node and returns an owned handle.
func (l *Local) NewNode(v any) packedfunc.Handle {
	return toHandle(l.table.Insert(typeNode, &node{value: v}))
}

// NodeValue returns the value stored in a node.
func (l *Local) NodeValue(h packedfunc.Handle) (any, bool) {
	_, v, ok := l.lookup(h, typeNode)
	if !ok {
		return nil, false
	}
	return v.(*node).value, true
}

// NewModule stores a module built from host functions and returns an owned
// handle. closeFn, if set, runs once when the module is dropped.
func (l *Local) NewModule(name string, funcs map[string]HostFunc, closeFn func() error) packedfunc.Handle {
	m := &module{
		l:     l,
		name:  name,
		funcs: maps.Clone(funcs),
		close: closeFn,
	}
	return toHandle(l.table.Insert(typeModule, m))
}

// ModGetFunction resolves name in mod, then in its imports when queryImports
// is set. A missing function yields the null handle. The result owns a
// reference to the module defining it.
func (l *Local) ModGetFunction(mod packedfunc.Handle, name string, queryImports bool, out *packedfunc.Handle) int32 {
	rh, v, ok := l.lookup(mod, typeModule)
	if !ok {
		return l.fail("ModGetFunction: invalid module handle %#x", uintptr(mod))
	}

	owner, m, call := l.findFunc(rh, v.(*module), name, queryImports, map[resource.Handle]bool{})
	if call == nil {
		*out = 0
		return 0
	}

	l.table.Retain(owner)
	f := &function{
		name:    m.name + "." + name,
		call:    call,
		release: func() { l.table.Release(owner) },
	}
	h := l.table.Insert(typeFunc, f)
	if h == 0 {
		l.table.Release(owner)
		return l.fail("ModGetFunction: runtime closed")
	}
	*out = toHandle(h)
	return 0
}

// ModFuncNames returns the sorted names of the functions mod defines,
// excluding its imports.
func (l *Local) ModFuncNames(mod packedfunc.Handle) ([]string, bool) {
	_, v, ok := l.lookup(mod, typeModule)
	if !ok {
		return nil, false
	}
	m := v.(*module)
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.funcs)), true
}

func (l *Local) findFunc(rh resource.Handle, m *module, name string, queryImports bool, seen map[resource.Handle]bool) (resource.Handle, *module, HostFunc) {
	if call := m.lookup(name); call != nil {
		return rh, m, call
	}
	if !queryImports {
		return 0, nil, nil
	}
	seen[rh] = true
	for _, dep := range m.importList() {
		if seen[dep] {
			continue
		}
		v, ok := l.table.GetTyped(dep, typeModule)
		if !ok {
			continue
		}
		if owner, dm, call := l.findFunc(dep, v.(*module), name, true, seen); call != nil {
			return owner, dm, call
		}
	}
	return 0, nil, nil
}

// ModImport makes dep reachable from mod's function lookups.
// mod keeps a reference to dep.
func (l *Local) ModImport(mod, dep packedfunc.Handle) int32 {
	_, v, ok := l.lookup(mod, typeModule)
	if !ok {
		return l.fail("ModImport: invalid module handle %#x", uintptr(mod))
	}
	depH, _, ok := l.lookup(dep, typeModule)
	if !ok {
		return l.fail("ModImport: invalid dependency handle %#x", uintptr(dep))
	}
	if mod == dep {
		return l.fail("ModImport: module cannot import itself")
	}

	l.table.Retain(depH)
	m := v.(*module)
	m.mu.Lock()
	m.imports = append(m.imports, depH)
	m.mu.Unlock()
	return 0
}

// FuncRegisterGlobal stores fn under name. The registry keeps its own
// reference, so the caller may free fn afterwards.
func (l *Local) FuncRegisterGlobal(name string, fn packedfunc.Handle, override bool) int32 {
	if name == "" {
		return l.fail("FuncRegisterGlobal: empty name")
	}
	rh, _, ok := l.lookup(fn, typeFunc)
	if !ok {
		return l.fail("FuncRegisterGlobal: invalid function handle %#x", uintptr(fn))
	}

	l.globalsMu.Lock()
	old, exists := l.globals[name]
	if exists && !override {
		l.globalsMu.Unlock()
		return l.fail("Global PackedFunc %s is already registered", name)
	}
	l.table.Retain(rh)
	l.globals[name] = rh
	l.globalsMu.Unlock()

	if exists {
		l.table.Release(old)
	}
	l.log.Debug("global function registered", zap.String("name", name), zap.Bool("override", exists))
	return 0
}

// FuncGetGlobal returns the registry's handle for name without adding a
// reference. The handle must not be freed.
func (l *Local) FuncGetGlobal(name string, out *packedfunc.Handle) int32 {
	l.globalsMu.RLock()
	rh := l.globals[name]
	l.globalsMu.RUnlock()
	*out = toHandle(rh)
	return 0
}

// FuncListGlobalNames returns the sorted registered names.
func (l *Local) FuncListGlobalNames(out *[]string) int32 {
	l.globalsMu.RLock()
	names := slices.Sorted(maps.Keys(l.globals))
	l.globalsMu.RUnlock()
	*out = names
	return 0
}

// Synchronize waits for dev's pending work. The CPU runs synchronously, so
// only its existence is checked.
func (l *Local) Synchronize(dev packedfunc.Device) int32 {
	if dev.Type != packedfunc.CPU {
		return l.fail("Synchronize: device %s is not available", dev)
	}
	return 0
}

// Version returns the runtime version.
func (l *Local) Version() string {
	return Version
}

// registerBuiltin adds a global function owned by the registry alone.
func (l *Local) registerBuiltin(name string, call HostFunc) {
	h := l.table.Insert(typeFunc, &function{name: name, call: call})
	l.globalsMu.Lock()
	l.globals[name] = h
	l.globalsMu.Unlock()
}
