package packed

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

func TestRegister_Sum(t *testing.T) {
	rt, _ := newRuntime(t)

	require.NoError(t, rt.Register("mysum", sum, false))

	fn, err := rt.GetFunction("mysum")
	require.NoError(t, err)
	assert.True(t, fn.IsGlobal())
	assert.Equal(t, "mysum", fn.Name())

	ret, err := fn.Call(10, 20, 30)
	require.NoError(t, err)
	v, err := ret.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(60), v)
	assert.Contains(t, rt.ListGlobalNames(), "mysum")
}

func TestRegister_Duplicate(t *testing.T) {
	rt, _ := newRuntime(t)

	require.NoError(t, rt.Register("dup", constant(1), false))

	err := rt.Register("dup", constant(2), false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateName))

	fn, err := rt.GetFunction("dup")
	require.NoError(t, err)
	ret, err := fn.Call()
	require.NoError(t, err)
	v, _ := ret.Int()
	assert.Equal(t, int64(1), v, "failed registration must not replace the function")
}

func TestRegister_Override(t *testing.T) {
	rt, local := newRuntime(t)

	require.NoError(t, rt.Register("answer", constant(1), false))

	fn, err := rt.GetFunction("answer")
	require.NoError(t, err)
	ret, err := fn.Call()
	require.NoError(t, err)
	v, _ := ret.Int()
	assert.Equal(t, int64(1), v)

	live := local.Stats().Live
	require.NoError(t, rt.Register("answer", constant(42), true))
	assert.Equal(t, live, local.Stats().Live, "the replaced function must be dropped")

	fn, err = rt.GetFunction("answer")
	require.NoError(t, err)
	ret, err = fn.Call()
	require.NoError(t, err)
	v, _ = ret.Int()
	assert.Equal(t, int64(42), v)
}

func TestRegisterFunction_NativeDuplicate(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	defer fn.Release()

	err = rt.RegisterFunction("runtime.RuntimeEnabled", fn, false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateName))
	assert.Contains(t, err.Error(), "Global PackedFunc runtime.RuntimeEnabled is already registered")
}

func TestRegisterFunction_Invalid(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)

	err = rt.RegisterFunction("", fn, false)
	assert.True(t, stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}))

	require.NoError(t, fn.Release())
	err = rt.RegisterFunction("released", fn, false)
	assert.True(t, stderrors.Is(err, errors.ErrNullHandle))

	err = rt.RegisterFunction("nil", nil, false)
	assert.True(t, stderrors.Is(err, errors.ErrNullHandle))
}

func TestRegisterFunction_KeepsCallerReference(t *testing.T) {
	rt, local := newRuntime(t)

	fn, err := rt.ConvertFunc(constant("kept"))
	require.NoError(t, err)
	require.NoError(t, rt.RegisterFunction("kept", fn, false))
	require.NoError(t, fn.Release())

	g, err := rt.GetFunction("kept")
	require.NoError(t, err)
	ret, err := g.Call()
	require.NoError(t, err)
	s, err := ret.Str()
	require.NoError(t, err)
	assert.Equal(t, "kept", s)
	assert.Equal(t, int64(1), local.Stats().FuncFree)
}

func TestConvertFunc_Nil(t *testing.T) {
	rt, _ := newRuntime(t)

	_, err := rt.ConvertFunc(nil)
	assert.True(t, stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}))
}

func TestCallback_Error(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.RetValue{}, fmt.Errorf("disk on fire")
	})
	require.NoError(t, err)
	defer fn.Release()

	_, err = fn.Call()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNativeCall))

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "disk on fire", e.Detail)
}

func TestCallback_NestedErrorMessage(t *testing.T) {
	rt, _ := newRuntime(t)

	inner, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.RetValue{}, fmt.Errorf("inner failure")
	})
	require.NoError(t, err)
	defer inner.Release()

	outer, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return inner.Call()
	})
	require.NoError(t, err)
	defer outer.Release()

	_, err = outer.Call()
	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "inner failure", e.Detail)
}

func TestCallback_Panic(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		panic("boom")
	})
	require.NoError(t, err)
	defer fn.Release()

	_, err = fn.Call()
	require.Error(t, err)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindNativeCall, e.Kind)
	assert.Contains(t, e.Detail, "panic")
	assert.Contains(t, e.Detail, "boom")
}

func TestCallback_ArgumentsBorrowed(t *testing.T) {
	rt, _ := newRuntime(t)

	var got []string
	fn, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
		for _, a := range args {
			assert.Equal(t, value.OriginArg, a.Origin())
			got = append(got, a.String())
		}
		return value.Void(), nil
	})
	require.NoError(t, err)
	defer fn.Release()

	ret, err := fn.Call(int64(-3), "x", 2.5, nil)
	require.NoError(t, err)
	assert.True(t, ret.IsNull())
	assert.Equal(t, []string{"int(-3)", `str("x")`, "float(2.5)", "null"}, got)
}

func TestCallback_ReturnsString(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
		s, err := args[0].Str()
		if err != nil {
			return value.RetValue{}, err
		}
		return value.Return(value.String(s + "!")), nil
	})
	require.NoError(t, err)
	defer fn.Release()

	ret, err := fn.Call("hi")
	require.NoError(t, err)
	s, err := ret.Str()
	require.NoError(t, err)
	assert.Equal(t, "hi!", s)
}

func TestCallback_FunctionArgument(t *testing.T) {
	rt, local := newRuntime(t)

	double, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
		v, err := args[0].Int()
		if err != nil {
			return value.RetValue{}, err
		}
		return value.Return(value.Int(2 * v)), nil
	})
	require.NoError(t, err)
	defer double.Release()

	apply, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
		f, err := rt.AsFunction(value.Return(args[0]))
		if err != nil {
			return value.RetValue{}, err
		}
		assert.True(t, f.IsCloned())
		return f.Call(args[1])
	})
	require.NoError(t, err)
	defer apply.Release()

	before := local.Stats()
	ret, err := apply.Call(double, 21)
	require.NoError(t, err)
	v, _ := ret.Int()
	assert.Equal(t, int64(42), v)

	// the reference taken for the function argument is dropped after the call
	after := local.Stats()
	assert.Equal(t, before.FuncFree+1, after.FuncFree)
	assert.Equal(t, before.Live, after.Live)
}

func TestCallback_ReturnsFunction(t *testing.T) {
	rt, local := newRuntime(t)

	require.NoError(t, rt.Register("make_adder", func(args []value.ArgValue) (value.RetValue, error) {
		n, err := args[0].Int()
		if err != nil {
			return value.RetValue{}, err
		}
		adder, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
			v, err := args[0].Int()
			if err != nil {
				return value.RetValue{}, err
			}
			return value.Return(value.Int(v + n)), nil
		})
		if err != nil {
			return value.RetValue{}, err
		}
		return adder.ToRet(), nil
	}, false))

	makeAdder, err := rt.GetFunction("make_adder")
	require.NoError(t, err)

	live := local.Stats().Live
	ret, err := makeAdder.Call(5)
	require.NoError(t, err)
	assert.True(t, ret.Owning())

	add5, err := rt.AsFunction(ret)
	require.NoError(t, err)
	assert.False(t, ret.Owning(), "AsFunction takes the reference")

	out, err := add5.Call(10)
	require.NoError(t, err)
	v, _ := out.Int()
	assert.Equal(t, int64(15), v)

	require.NoError(t, add5.Release())
	assert.Equal(t, live, local.Stats().Live)
	assert.Equal(t, 1, rt.closures.Len(), "only make_adder stays boxed")
}

func TestCallback_Concurrent(t *testing.T) {
	rt, _ := newRuntime(t)
	require.NoError(t, rt.Register("mysum", sum, false))

	fn, err := rt.GetFunction("mysum")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ret, err := fn.Call(i, i)
			if err != nil {
				errs <- err
				return
			}
			if v, _ := ret.Int(); v != int64(2*i) {
				errs <- fmt.Errorf("got %d, want %d", v, 2*i)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCallback_ClosedSession(t *testing.T) {
	rt, _ := newRuntime(t)

	fn, err := rt.ConvertFunc(sum)
	require.NoError(t, err)
	defer fn.Release()

	require.NoError(t, rt.Close())

	_, err = fn.Call(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closure")

	_, err = rt.ConvertFunc(sum)
	assert.Equal(t, errors.KindClosed, err.(*errors.Error).Kind)
}
