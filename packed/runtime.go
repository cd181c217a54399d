package packed

import (
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/resource"
)

// Runtime binds Go code to a native packed-function runtime.
type Runtime struct {
	native   packedfunc.Runtime
	closures *resource.UnifiedTable
	names    map[string]struct{}
	namesMu  sync.Mutex
	once     sync.Once
}

// New creates a session over native.
func New(native packedfunc.Runtime) *Runtime {
	return &Runtime{
		native:   native,
		closures: resource.NewTable(),
	}
}

// Native returns the underlying runtime boundary.
func (r *Runtime) Native() packedfunc.Runtime {
	return r.native
}

// loadNames fills the global name cache from the registry once.
func (r *Runtime) loadNames() {
	r.once.Do(func() {
		var names []string
		st, msg := packedfunc.Check(r.native, func() int32 { return r.native.FuncListGlobalNames(&names) })
		if st != 0 {
			Logger().Warn("list global functions failed", zap.String("error", msg))
		}

		r.namesMu.Lock()
		r.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			r.names[n] = struct{}{}
		}
		r.namesMu.Unlock()
	})
}

func (r *Runtime) remember(name string) {
	r.loadNames()
	r.namesMu.Lock()
	r.names[name] = struct{}{}
	r.namesMu.Unlock()
}

// ListGlobalNames returns the sorted names of the global functions known
// to this session.
func (r *Runtime) ListGlobalNames() []string {
	r.loadNames()
	r.namesMu.Lock()
	defer r.namesMu.Unlock()
	return slices.Sorted(maps.Keys(r.names))
}

// GetFunction resolves a global function. The result is owned by the
// registry and Release on it is a no-op. It stays valid until the name is
// overridden.
//
// The handle is looked up in the registry on every call, so an override
// made by another session is seen at once. Names missing from the cache
// are added when found.
func (r *Runtime) GetFunction(name string) (*Function, error) {
	r.loadNames()

	var h packedfunc.Handle
	st, msg := packedfunc.Check(r.native, func() int32 { return r.native.FuncGetGlobal(name, &h) })
	if st != 0 {
		return nil, errors.NativeCallFailed(errors.PhaseRegistry, "FuncGetGlobal", st, msg)
	}
	if h == 0 {
		return nil, errors.FunctionNotFound(errors.PhaseRegistry, name)
	}

	r.namesMu.Lock()
	_, cached := r.names[name]
	if !cached {
		r.names[name] = struct{}{}
	}
	r.namesMu.Unlock()
	if !cached {
		Logger().Debug("global function resolved outside name cache", zap.String("name", name))
	}

	return r.globalFunction(name, h), nil
}

// Close drops the closures still boxed by this session. Functions created
// from them must not be called afterwards.
func (r *Runtime) Close() error {
	return r.closures.Close()
}
