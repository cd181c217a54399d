package value

import (
	"runtime"
	"sync/atomic"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
)

// RetValue is a tagged value returned from a call. A RetValue decoded from
// a native call owns one reference to its function, module, array or node
// handle. Copies share the ownership state, so the reference is freed once.
//
// The reference should be released or taken. One still held when the last
// copy becomes unreachable is freed by a GC cleanup.
type RetValue struct {
	TaggedValue
	rt  packedfunc.Runtime
	own *ownership
}

// ownership is shared by the copies of an owning RetValue. held is
// separate so the cleanup can read it after ownership is collected.
type ownership struct {
	held *atomic.Bool
}

type dropped struct {
	rt   packedfunc.Runtime
	held *atomic.Bool
	h    packedfunc.Handle
	code packedfunc.TypeCode
}

func freeDropped(d dropped) {
	if d.held.CompareAndSwap(true, false) {
		_, free := FreeOp(d.rt, d.code)
		free(d.h)
	}
}

// Owned wraps a payload returned by rt. Handle payloads of a freeable kind
// become owned by the result.
func Owned(rt packedfunc.Runtime, p packedfunc.Payload, code packedfunc.TypeCode) RetValue {
	r := RetValue{
		TaggedValue: TaggedValue{code: code, payload: p, origin: OriginReturn},
		rt:          rt,
	}
	if freeable(code) && p.Bits != 0 {
		held := new(atomic.Bool)
		held.Store(true)
		r.own = &ownership{held: held}
		runtime.AddCleanup(r.own, freeDropped, dropped{rt: rt, held: held, h: packedfunc.Handle(p.Bits), code: code})
	}
	return r
}

// Return wraps a host argument as a non-owning return value.
func Return(a ArgValue) RetValue {
	return RetValue{TaggedValue: a.TaggedValue}
}

// ReturnOf tags v with From and wraps it as a non-owning return value.
func ReturnOf(v any) (RetValue, error) {
	a, err := From(v)
	if err != nil {
		return RetValue{}, err
	}
	return Return(a), nil
}

// Void is the null return value.
func Void() RetValue {
	return Return(Null())
}

// FreeOp returns the boundary operation that frees a handle tagged code,
// and its name.
func FreeOp(rt packedfunc.Runtime, code packedfunc.TypeCode) (string, func(packedfunc.Handle) int32) {
	switch code {
	case packedfunc.FuncHandle:
		return "FuncFree", rt.FuncFree
	case packedfunc.ModuleHandle:
		return "ModFree", rt.ModFree
	case packedfunc.NodeHandle:
		return "NodeFree", rt.NodeFree
	}
	return "ArrayFree", rt.ArrayFree
}

func freeable(code packedfunc.TypeCode) bool {
	switch code {
	case packedfunc.FuncHandle, packedfunc.ModuleHandle, packedfunc.NodeHandle,
		packedfunc.ArrayHandle, packedfunc.NDArrayContainer:
		return true
	}
	return false
}

// Arg returns a borrowed view usable as an argument. The view does not
// extend the lifetime of an owned handle.
func (r RetValue) Arg() ArgValue {
	t := r.TaggedValue
	t.origin = OriginArg
	return ArgValue{t}
}

// Owning reports whether the value still holds a reference.
func (r RetValue) Owning() bool {
	return r.own != nil && r.own.held.Load()
}

// Take transfers the held reference to the caller. It returns false when
// the value owns nothing, in which case the caller must not free h.
func (r RetValue) Take() (h packedfunc.Handle, ok bool) {
	h = packedfunc.Handle(r.payload.Bits)
	if r.own == nil {
		return h, false
	}
	return h, r.own.held.CompareAndSwap(true, false)
}

// Release frees the held reference. It is a no-op for values that own
// nothing or were already released or taken.
func (r RetValue) Release() error {
	h, ok := r.Take()
	if !ok {
		return nil
	}

	op, free := FreeOp(r.rt, r.code)
	status, msg := packedfunc.Check(r.rt, func() int32 { return free(h) })
	if status != 0 {
		return errors.NativeCallFailed(errors.PhaseRelease, op, status, msg)
	}
	return nil
}
