// Package value implements tagged values exchanged with a packed-function runtime.
//
// Every value is a fixed-width payload paired with its type code. Accessors
// check the code before reading the payload, so a payload is never read
// under the wrong interpretation.
//
// # Arguments
//
// ArgValue is a borrowed value. Strings and byte slices are passed without
// copying: the payload points at the Go memory of the original value, which
// must stay unmodified until the call returns.
//
//	args := []value.ArgValue{
//	    value.Int(10),
//	    value.Float(2.5),
//	    value.String("name"),
//	}
//
// From maps an arbitrary Go value at run time:
//
//	v, err := value.From(x) // errors.ErrUnsupportedType for unknown types
//
// # Return Values
//
// RetValue is produced by a native call. When it carries a function,
// module, array or node handle it owns one reference and must be released:
//
//	ret, err := builder.Invoke()
//	if err != nil {
//	    return err
//	}
//	defer ret.Release()
//
// Take transfers the reference to a longer-lived wrapper. Return values built
// on the host side with Return or ReturnOf own nothing.
package value
