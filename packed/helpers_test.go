package packed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/engine"
	"github.com/wippyai/packedfunc/value"
)

// recorder captures the buffers passed to FuncCall.
type recorder struct {
	*engine.Local

	mu     sync.Mutex
	values [][]packedfunc.Payload
	codes  [][]packedfunc.TypeCode
}

func (r *recorder) FuncCall(fn packedfunc.Handle, values []packedfunc.Payload, codes []packedfunc.TypeCode, ret *packedfunc.Payload, retCode *packedfunc.TypeCode) int32 {
	r.mu.Lock()
	r.values = append(r.values, append([]packedfunc.Payload(nil), values...))
	r.codes = append(r.codes, append([]packedfunc.TypeCode(nil), codes...))
	r.mu.Unlock()
	return r.Local.FuncCall(fn, values, codes, ret, retCode)
}

func (r *recorder) lastCodes() []packedfunc.TypeCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[len(r.codes)-1]
}

func (r *recorder) lastValues() []packedfunc.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[len(r.values)-1]
}

func newLocal(t *testing.T) *engine.Local {
	t.Helper()
	l, err := engine.NewLocal(nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close(context.Background()) })
	return l
}

func newRuntime(t *testing.T) (*Runtime, *engine.Local) {
	t.Helper()
	l := newLocal(t)
	rt := New(l)
	t.Cleanup(func() { rt.Close() })
	return rt, l
}

func newRecorded(t *testing.T) (*Runtime, *recorder) {
	t.Helper()
	rec := &recorder{Local: newLocal(t)}
	rt := New(rec)
	t.Cleanup(func() { rt.Close() })
	return rt, rec
}

func sum(args []value.ArgValue) (value.RetValue, error) {
	var total int64
	for _, a := range args {
		v, err := a.Int()
		if err != nil {
			return value.RetValue{}, err
		}
		total += v
	}
	return value.Return(value.Int(total)), nil
}

// constant returns a closure that always returns v.
func constant(v any) Func {
	return func([]value.ArgValue) (value.RetValue, error) {
		return value.ReturnOf(v)
	}
}

// argCount returns the number of arguments it received.
func argCount(args []value.ArgValue) (value.RetValue, error) {
	return value.Return(value.Int(len(args))), nil
}
