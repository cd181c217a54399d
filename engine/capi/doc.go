// Package capi implements packedfunc.Runtime on top of the TVM C runtime
// API (libtvm_runtime).
//
// The package is only built with the tvm build tag and cgo:
//
//	CGO_CFLAGS="-I$TVM_HOME/include -I$TVM_HOME/3rdparty/dlpack/include" \
//	CGO_LDFLAGS="-L$TVM_HOME/build" \
//	go build -tags tvm ./...
//
// String and byte arguments are copied to C memory for the duration of a
// call; string and byte results are copied to Go memory. Handles are passed
// through unchanged in Payload.Bits.
package capi
