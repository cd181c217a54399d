// Package resource provides reference-counted handle tables.
//
// A table maps small integer handles to Go values. It backs the native
// object store of the local engine and the boxed closures referenced by
// callback trampolines.
//
// # Handle Table
//
//	table := resource.NewTable()
//
//	// Insert a value with one reference
//	handle := table.Insert(typeID, myValue)
//
//	// Add and drop references
//	table.Retain(handle)
//	table.Release(handle)
//
// Handle 0 is never issued. Slots of dropped values are reused under a new
// generation, so a stale handle fails lookups instead of reaching the
// slot's next value.
//
// # Type Safety
//
// Each stored value carries a type ID chosen by the caller, and lookups
// check it:
//
//	const funcTypeID = 1
//	const moduleTypeID = 2
//
//	value, ok := table.GetTyped(h, funcTypeID)
//
// # Borrows
//
// Borrow pins a handle for the duration of a call. Releasing the last
// reference of a borrowed handle hides it from lookups, and the value is
// dropped when the final borrow is returned:
//
//	if table.Borrow(h) {
//	    defer table.ReturnBorrow(h)
//	    // use value
//	}
//
// # Droppers
//
// Values implementing Dropper have Drop called exactly once, on the
// goroutine that released the last reference or returned the last borrow.
//
// # Observers
//
// Observers receive lifecycle events:
//
//	table.Subscribe(obs)
//	defer table.Unsubscribe(obs)
package resource
