package packed

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// ref is the release state shared by an owning wrapper, its clones and its
// GC cleanup. The handle is freed at most once.
type ref struct {
	native   packedfunc.Runtime
	free     func(packedfunc.Handle) int32
	op       string
	handle   packedfunc.Handle
	released atomic.Bool
}

func newRef(native packedfunc.Runtime, code packedfunc.TypeCode, h packedfunc.Handle) *ref {
	r := &ref{native: native, handle: h}
	r.op, r.free = value.FreeOp(native, code)
	return r
}

func (r *ref) release() error {
	if !r.released.CompareAndSwap(false, true) {
		return nil
	}
	st, msg := packedfunc.Check(r.native, func() int32 { return r.free(r.handle) })
	if st != 0 {
		return errors.NativeCallFailed(errors.PhaseRelease, r.op, st, msg)
	}
	return nil
}

func releaseLeaked(r *ref) {
	if r.released.Load() {
		return
	}
	Logger().Debug("releasing leaked handle", zap.String("op", r.op), zap.Uintptr("handle", uintptr(r.handle)))
	if err := r.release(); err != nil {
		Logger().Warn("leaked handle release failed", zap.Error(err))
	}
}

// track registers a cleanup that frees r when obj becomes unreachable
// without an explicit release.
func track[T any](obj *T, r *ref) runtime.Cleanup {
	return runtime.AddCleanup(obj, releaseLeaked, r)
}
