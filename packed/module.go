package packed

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// EntryFunc is the name of a module's entry function.
const EntryFunc = "__tvm_main__"

// Module is an owning handle to a loaded module.
type Module struct {
	rt       *Runtime
	ref      *ref
	entry    *Function
	cleanup  runtime.Cleanup
	name     string
	entryMu  sync.Mutex
	borrowed bool
}

// AsModule takes ownership of a module returned by a call.
func (r *Runtime) AsModule(ret value.RetValue) (*Module, error) {
	if ret.Code() != packedfunc.ModuleHandle {
		return nil, errors.TypeMismatch(errors.PhaseDecode, packedfunc.ModuleHandle, ret.Code())
	}
	h, owned := ret.Take()
	if h == 0 {
		return nil, errors.NullHandle(errors.PhaseDecode, "module")
	}
	m := &Module{rt: r, ref: newRef(r.native, packedfunc.ModuleHandle, h)}
	if owned {
		m.cleanup = track(m, m.ref)
	} else {
		m.borrowed = true
	}
	return m, nil
}

// LoadModule loads a module file through the global loader for its
// extension, runtime.module.loadfile_<ext>.
func (r *Runtime) LoadModule(path string) (*Module, error) {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		return nil, errors.Load("cannot determine module format of "+path, nil)
	}

	loader, err := r.GetFunction("runtime.module.loadfile_" + format)
	if err != nil {
		return nil, errors.Load("no loader for format "+format, err)
	}
	ret, err := NewBuilder(loader).PushArg(value.String(path)).Invoke()
	if err != nil {
		return nil, errors.Load("load "+path, err)
	}

	m, err := r.AsModule(ret)
	if err != nil {
		ret.Release()
		return nil, err
	}
	m.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m, nil
}

// LoadModuleBinary loads a module image through runtime.module.loadbinary_<format>.
func (r *Runtime) LoadModuleBinary(format string, data []byte) (*Module, error) {
	loader, err := r.GetFunction("runtime.module.loadbinary_" + format)
	if err != nil {
		return nil, errors.Load("no loader for format "+format, err)
	}
	ret, err := NewBuilder(loader).PushArg(value.Bytes(data)).Invoke()
	if err != nil {
		return nil, errors.Load("load "+format+" binary", err)
	}

	m, err := r.AsModule(ret)
	if err != nil {
		ret.Release()
		return nil, err
	}
	return m, nil
}

// Handle returns the native handle.
func (m *Module) Handle() packedfunc.Handle { return m.ref.handle }

// Name returns the name the module was loaded under, if known.
func (m *Module) Name() string { return m.name }

// Value tags the module as an argument.
func (m *Module) Value() value.ArgValue {
	return value.Handle(packedfunc.ModuleHandle, m.ref.handle)
}

// GetFunction resolves name in the module, and in its imports when
// queryImports is set. The result owns its handle.
func (m *Module) GetFunction(name string, queryImports bool) (*Function, error) {
	if !m.borrowed && m.ref.released.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "module "+m.name)
	}
	native := m.rt.native
	var h packedfunc.Handle
	st, msg := packedfunc.Check(native, func() int32 {
		return native.ModGetFunction(m.ref.handle, name, queryImports, &h)
	})
	if st != 0 {
		return nil, errors.NativeCallFailed(errors.PhaseLoad, "ModGetFunction", st, msg)
	}
	if h == 0 {
		return nil, errors.FunctionNotFound(errors.PhaseLoad, name)
	}
	return m.rt.ownedFunction(name, h), nil
}

// Entry returns the module's entry function. The lookup is cached; the
// result is a clone valid while the module is.
func (m *Module) Entry() (*Function, error) {
	m.entryMu.Lock()
	defer m.entryMu.Unlock()

	if m.entry == nil {
		f, err := m.GetFunction(EntryFunc, false)
		if err != nil {
			return nil, err
		}
		m.entry = f
	}
	return m.entry.Clone(), nil
}

// Import makes dep's functions reachable through m with queryImports.
func (m *Module) Import(dep *Module) error {
	native := m.rt.native
	st, msg := packedfunc.Check(native, func() int32 { return native.ModImport(m.ref.handle, dep.ref.handle) })
	if st != 0 {
		return errors.NativeCallFailed(errors.PhaseLoad, "ModImport", st, msg)
	}
	return nil
}

// Enabled reports whether the runtime supports target, such as "llvm" or "cuda".
func (m *Module) Enabled(target string) (bool, error) {
	return m.rt.RuntimeEnabled(target)
}

// Release frees the cached entry function and the module handle.
func (m *Module) Release() error {
	m.entryMu.Lock()
	entry := m.entry
	m.entry = nil
	m.entryMu.Unlock()

	var err error
	if entry != nil {
		err = entry.Release()
	}
	if m.borrowed {
		return err
	}
	m.cleanup.Stop()
	if rerr := m.ref.release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// RuntimeEnabled reports whether the runtime supports target.
func (r *Runtime) RuntimeEnabled(target string) (bool, error) {
	fn, err := r.GetFunction("runtime.RuntimeEnabled")
	if err != nil {
		return false, err
	}
	ret, err := NewBuilder(fn).PushArg(value.String(target)).Invoke()
	if err != nil {
		return false, err
	}
	defer ret.Release()
	if ret.IsNull() {
		return false, nil
	}
	return ret.Bool()
}
