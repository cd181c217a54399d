package packed

import (
	"fmt"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// Builder accumulates the arguments of a single packed call.
//
// Arguments are passed in insertion order. An output slot, if set, is
// appended as one extra trailing argument. The payload buffers are rebuilt
// on every Invoke, so a Builder may be invoked repeatedly.
type Builder struct {
	fn        *Function
	err       error
	args      []value.ArgValue
	output    value.ArgValue
	hasOutput bool
}

// NewBuilder starts a call of fn. fn may be nil and set later.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

// WithFunction sets the callee.
func (b *Builder) WithFunction(fn *Function) *Builder {
	b.fn = fn
	return b
}

// PushArg appends an argument.
func (b *Builder) PushArg(v value.ArgValue) *Builder {
	b.args = append(b.args, v)
	return b
}

// PushArgs appends arguments in order.
func (b *Builder) PushArgs(vs ...value.ArgValue) *Builder {
	b.args = append(b.args, vs...)
	return b
}

// Push tags v with value.From and appends it. A conversion error is
// returned by Invoke.
func (b *Builder) Push(v any) *Builder {
	a, err := value.From(v)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	return b.PushArg(a)
}

// SetOutput sets the output slot, replacing any earlier one.
func (b *Builder) SetOutput(v value.ArgValue) *Builder {
	b.output = v
	b.hasOutput = true
	return b
}

// Args returns a copy of the pushed arguments.
func (b *Builder) Args() []value.ArgValue {
	return append([]value.ArgValue(nil), b.args...)
}

// Output returns the output slot.
func (b *Builder) Output() (value.ArgValue, bool) {
	return b.output, b.hasOutput
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	c := *b
	c.args = b.Args()
	return &c
}

// buffers serializes the arguments and the output slot into parallel
// payload and code buffers.
func (b *Builder) buffers() ([]packedfunc.Payload, []packedfunc.TypeCode) {
	n := len(b.args)
	if b.hasOutput {
		n++
	}
	values := make([]packedfunc.Payload, 0, n)
	codes := make([]packedfunc.TypeCode, 0, n)
	for _, a := range b.args {
		values = append(values, a.Payload())
		codes = append(codes, a.Code())
	}
	if b.hasOutput {
		values = append(values, b.output.Payload())
		codes = append(codes, b.output.Code())
	}
	return values, codes
}

// Invoke performs the call and returns its result. A handle result is
// owned by the returned value and should be released or taken; a result
// dropped while still owning is freed when the GC collects it.
//
// With an output slot set, a non-null result whose type code differs from
// the slot's is released and reported as a type mismatch.
func (b *Builder) Invoke() (value.RetValue, error) {
	if b.err != nil {
		return value.RetValue{}, b.err
	}
	if b.fn == nil {
		return value.RetValue{}, errors.FunctionNotFound(errors.PhaseInvoke, "")
	}
	if b.fn.IsReleased() {
		return value.RetValue{}, errors.Closed(errors.PhaseInvoke, fmt.Sprintf("function %q", b.fn.name))
	}

	values, codes := b.buffers()
	if len(values) != len(codes) {
		panic(fmt.Sprintf("packed: %d payloads with %d type codes", len(values), len(codes)))
	}

	native := b.fn.rt.native
	var (
		ret  packedfunc.Payload
		code packedfunc.TypeCode
	)
	st, msg := packedfunc.Check(native, func() int32 {
		return native.FuncCall(b.fn.ref.handle, values, codes, &ret, &code)
	})
	if st != 0 {
		return value.RetValue{}, errors.NativeCallFailed(errors.PhaseInvoke, b.fn.name, st, msg)
	}

	result := value.Owned(native, ret, code)
	if b.hasOutput && code != packedfunc.Null && code != b.output.Code() {
		if err := result.Release(); err != nil {
			Logger().Warn("release of mismatched result failed", zap.Error(err))
		}
		return value.RetValue{}, errors.TypeMismatch(errors.PhaseDecode, b.output.Code(), code)
	}
	return result, nil
}

// Call invokes fn with args tagged by value.From.
func Call(fn *Function, args ...any) (value.RetValue, error) {
	b := NewBuilder(fn)
	for _, a := range args {
		b.Push(a)
	}
	return b.Invoke()
}
