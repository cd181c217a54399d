package main

import (
	"fmt"
	"strconv"
	"strings"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// parseArg tags a command-line argument. A "kind:" prefix selects the tag
// explicitly, e.g. "uint:7", "str:42", "dtype:float32", "dev:gpu:1".
// Without a prefix integers become Int, other numbers Float, "null" Null
// and anything else Str.
func parseArg(s string) (value.ArgValue, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return inferArg(s), nil
	}

	switch kind {
	case "int":
		v, err := strconv.ParseInt(rest, 0, 64)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.Int(v), nil
	case "uint":
		v, err := strconv.ParseUint(rest, 0, 64)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.Uint(v), nil
	case "float":
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.Float(v), nil
	case "bool":
		v, err := strconv.ParseBool(rest)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.Bool(v), nil
	case "str":
		return value.String(rest), nil
	case "bytes":
		return value.Bytes([]byte(rest)), nil
	case "dtype":
		dt, err := packedfunc.ParseDataType(rest)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.DType(dt), nil
	case "dev":
		dev, err := parseDevice(rest)
		if err != nil {
			return value.ArgValue{}, badArg(s, err)
		}
		return value.Dev(dev), nil
	}
	return inferArg(s), nil
}

func inferArg(s string) value.ArgValue {
	if s == "null" {
		return value.Null()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(v)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(v)
	}
	return value.String(s)
}

// parseDevice parses "cpu", "gpu:1" and the like.
func parseDevice(s string) (packedfunc.Device, error) {
	name, id, hasID := strings.Cut(s, ":")
	t, err := packedfunc.ParseDeviceType(name)
	if err != nil {
		return packedfunc.Device{}, err
	}
	dev := packedfunc.Device{Type: t}
	if hasID {
		n, err := strconv.ParseInt(id, 10, 32)
		if err != nil || n < 0 {
			return packedfunc.Device{}, fmt.Errorf("invalid device ordinal %q", id)
		}
		dev.ID = int32(n)
	}
	return dev, nil
}

func parseArgs(ss []string) ([]value.ArgValue, error) {
	args := make([]value.ArgValue, 0, len(ss))
	for _, s := range ss {
		a, err := parseArg(s)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func badArg(s string, err error) error {
	return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
		Value(s).
		Cause(err).
		Detail("bad argument %q", s).
		Build()
}
