package packed

import (
	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/errors"
	"github.com/wippyai/packedfunc/value"
)

// DeviceAttr queries a device attribute through runtime.GetDeviceAttr.
// Attributes the device does not report come back as null.
func (r *Runtime) DeviceAttr(dev packedfunc.Device, attr packedfunc.DeviceAttr) (value.RetValue, error) {
	fn, err := r.GetFunction("runtime.GetDeviceAttr")
	if err != nil {
		return value.RetValue{}, err
	}
	return NewBuilder(fn).
		PushArgs(value.Int(int32(dev.Type)), value.Int(dev.ID), value.Int(int32(attr))).
		Invoke()
}

// DeviceExists reports whether dev is present.
func (r *Runtime) DeviceExists(dev packedfunc.Device) (bool, error) {
	ret, err := r.DeviceAttr(dev, packedfunc.AttrExist)
	if err != nil {
		return false, err
	}
	if ret.IsNull() {
		return false, nil
	}
	return ret.Bool()
}

// Sync waits until the work queued on dev's default stream is done.
func (r *Runtime) Sync(dev packedfunc.Device) error {
	st, msg := packedfunc.Check(r.native, func() int32 { return r.native.Synchronize(dev) })
	if st != 0 {
		return errors.NativeCallFailed(errors.PhaseInvoke, "Synchronize", st, msg)
	}
	return nil
}

// Version returns the native runtime's version string.
func (r *Runtime) Version() string {
	return r.native.Version()
}
