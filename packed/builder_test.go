package packed

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

func TestBuilder_BufferOrder(t *testing.T) {
	rt, rec := newRecorded(t)

	fn, err := rt.ConvertFunc(argCount)
	require.NoError(t, err)
	defer fn.Release()

	ret, err := NewBuilder(fn).
		PushArg(value.Int(7)).
		PushArg(value.String("x")).
		PushArg(value.Float(1.5)).
		SetOutput(value.Int(0)).
		Invoke()
	require.NoError(t, err)

	n, err := ret.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.Equal(t, []packedfunc.TypeCode{packedfunc.Int, packedfunc.Str, packedfunc.Float, packedfunc.Int}, rec.lastCodes())
	assert.Equal(t, uint64(7), rec.lastValues()[0].Bits)
	assert.Equal(t, uint64(1), rec.lastValues()[1].Bits)
}

func TestBuilder_NoOutputSlot(t *testing.T) {
	rt, rec := newRecorded(t)

	fn, err := rt.ConvertFunc(argCount)
	require.NoError(t, err)
	defer fn.Release()

	_, err = NewBuilder(fn).PushArgs(value.Int(1), value.Int(2)).Invoke()
	require.NoError(t, err)
	assert.Len(t, rec.lastCodes(), 2)
}

func TestBuilder_Reinvoke(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	defer fn.Release()

	b := NewBuilder(fn).PushArgs(value.Int(1), value.Int(2))
	for range 3 {
		ret, err := b.Invoke()
		require.NoError(t, err)
		v, _ := ret.Int()
		assert.Equal(t, int64(3), v)
	}
}

func TestBuilder_OutputMismatch(t *testing.T) {
	rt, local := newRuntime(t)

	inner, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	defer inner.Release()

	returnsFunc, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.Return(inner.Value()), nil
	})
	require.NoError(t, err)
	defer returnsFunc.Release()

	before := local.Stats()
	_, err = NewBuilder(returnsFunc).SetOutput(value.Int(0)).Invoke()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTypeMismatch))

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "int", e.Expected)
	assert.Equal(t, "func_handle", e.Actual)

	// the reference added for the result was dropped
	after := local.Stats()
	assert.Equal(t, before.FuncFree+1, after.FuncFree)
	assert.Equal(t, before.Live, after.Live)
}

func TestBuilder_NullResultMatchesAnyOutput(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.Void(), nil
	})
	require.NoError(t, err)
	defer fn.Release()

	ret, err := NewBuilder(fn).SetOutput(value.Float(0.0)).Invoke()
	require.NoError(t, err)
	assert.True(t, ret.IsNull())
}

func TestBuilder_NoFunction(t *testing.T) {
	_, err := NewBuilder(nil).PushArg(value.Int(1)).Invoke()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFunctionNotFound))
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseInvoke, Kind: errors.KindFunctionNotFound}))
}

func TestBuilder_ReleasedFunction(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	require.NoError(t, fn.Release())

	_, err = NewBuilder(fn).Invoke()
	require.Error(t, err)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindClosed, e.Kind)
}

func TestBuilder_DeferredPushError(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.GetFunction("runtime.RuntimeEnabled")
	require.NoError(t, err)

	b := NewBuilder(fn).Push(struct{}{}).Push("llvm").Push(map[int]int{})
	assert.Len(t, b.Args(), 1)

	_, err = b.Invoke()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedType))

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "struct {}", e.GoType)
}

func TestBuilder_NativeFailure(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.GetFunction("runtime.RuntimeEnabled")
	require.NoError(t, err)

	_, err = NewBuilder(fn).PushArg(value.Int(1)).Invoke()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNativeCall))

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "runtime.RuntimeEnabled", e.Name)
	assert.Contains(t, e.Detail, "expected str")
}

func TestBuilder_Clone(t *testing.T) {
	b := NewBuilder(nil).PushArg(value.Int(1))
	c := b.Clone().PushArg(value.Int(2)).SetOutput(value.Null())

	assert.Len(t, b.Args(), 1)
	assert.Len(t, c.Args(), 2)

	_, ok := b.Output()
	assert.False(t, ok)
	out, ok := c.Output()
	assert.True(t, ok)
	assert.True(t, out.IsNull())
}

func TestBuilder_WithFunction(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.GetFunction("runtime.RuntimeEnabled")
	require.NoError(t, err)

	ret, err := NewBuilder(nil).PushArg(value.String("llvm")).WithFunction(fn).Invoke()
	require.NoError(t, err)
	ok, err := ret.Bool()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCall(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	defer fn.Release()

	ret, err := fn.Call(1, int8(2), int64(3))
	require.NoError(t, err)
	v, _ := ret.Int()
	assert.Equal(t, int64(6), v)

	// unsigned values are tagged UInt and rejected by the closure
	_, err = Call(fn, 1, uint16(3))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNativeCall))
	assert.Contains(t, err.Error(), "type_mismatch")
}
