//go:build tvm && cgo

package capi

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/packed"
	"github.com/wippyai/packedfunc/value"
)

func TestCallbackRoundTrip(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := packed.New(New())
	defer rt.Close()

	require.NoError(t, rt.Register("packedfunc.test.mysum", func(args []value.ArgValue) (value.RetValue, error) {
		var sum int64
		for _, a := range args {
			v, err := a.Int()
			if err != nil {
				return value.RetValue{}, err
			}
			sum += v
		}
		return value.Return(value.Int(sum)), nil
	}, true))

	fn, err := rt.GetFunction("packedfunc.test.mysum")
	require.NoError(t, err)
	ret, err := fn.Call(10, 20, 30)
	require.NoError(t, err)
	v, err := ret.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(60), v)
}

func TestCallbackStrings(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := packed.New(New())
	defer rt.Close()

	fn, err := rt.ConvertFunc(func(args []value.ArgValue) (value.RetValue, error) {
		s, err := args[0].Str()
		if err != nil {
			return value.RetValue{}, err
		}
		return value.Return(value.String(s + s)), nil
	})
	require.NoError(t, err)
	defer fn.Release()

	ret, err := fn.Call("ab")
	require.NoError(t, err)
	s, err := ret.Str()
	require.NoError(t, err)
	assert.Equal(t, "abab", s)
}

func TestCallbackError(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := packed.New(New())
	defer rt.Close()

	fn, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.RetValue{}, fmt.Errorf("callback refused")
	})
	require.NoError(t, err)
	defer fn.Release()

	_, err = fn.Call()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback refused")
}

func TestListGlobalNames(t *testing.T) {
	rt := packed.New(New())
	defer rt.Close()

	assert.Contains(t, rt.ListGlobalNames(), "runtime.RuntimeEnabled")
}

func TestSyncAndVersion(t *testing.T) {
	rt := packed.New(New())
	defer rt.Close()

	require.NoError(t, rt.Sync(packedfunc.Device{Type: packedfunc.CPU}))
	assert.NotEmpty(t, rt.Version())
}

func TestErrorMessageWithoutThreadLock(t *testing.T) {
	rt := packed.New(New())
	defer rt.Close()

	fn, err := rt.ConvertFunc(func([]value.ArgValue) (value.RetValue, error) {
		return value.RetValue{}, fmt.Errorf("unpinned failure")
	})
	require.NoError(t, err)
	defer fn.Release()

	for range 50 {
		_, err = fn.Call()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unpinned failure")
		runtime.Gosched()
	}
}
