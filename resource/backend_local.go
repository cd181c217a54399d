package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("resource backend closed")
	ErrFull   = errors.New("resource backend full")
)

// A handle is a slot index plus one in the low bits and the slot's
// generation in the high bits. Freeing a slot bumps its generation, so a
// stale handle never resolves to the slot's next value.
const (
	indexBits = 20
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(32-indexBits) - 1
)

func makeHandle(idx int, gen uint32) Handle {
	return Handle(gen<<indexBits | uint32(idx+1))
}

func slotIndex(h Handle) int {
	return int(h&indexMask) - 1
}

// LocalBackend is an in-memory, reference-counted resource backend with
// borrow tracking.
type LocalBackend struct {
	entries  []entry
	freeList []int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value       any
	typeID      uint32
	refs        uint32
	borrowCount uint32
	gen         uint32
	pendingDrop bool
	valid       bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]int, 0, 16),
	}
}

// Create stores a value with a single reference and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	e := entry{
		typeID: typeID,
		value:  value,
		refs:   1,
		valid:  true,
	}

	if len(b.freeList) > 0 {
		idx := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		e.gen = b.entries[idx].gen
		b.entries[idx] = e
		return makeHandle(idx, e.gen), nil
	}

	if len(b.entries) >= indexMask {
		return 0, ErrFull
	}
	b.entries = append(b.entries, e)
	return makeHandle(len(b.entries)-1, 0), nil
}

// slot returns the entry handle refers to if its generation matches, live
// or not. Caller holds b.mu.
func (b *LocalBackend) slot(handle Handle) *entry {
	idx := slotIndex(handle)
	if idx < 0 || idx >= len(b.entries) {
		return nil
	}
	e := &b.entries[idx]
	if e.gen != uint32(handle)>>indexBits {
		return nil
	}
	return e
}

// lookup returns the live entry for handle. Caller holds b.mu.
func (b *LocalBackend) lookup(handle Handle) *entry {
	e := b.slot(handle)
	if e == nil || !e.valid || e.pendingDrop {
		return nil
	}
	return e
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// Retain adds a reference to a live handle.
func (b *LocalBackend) Retain(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return false
	}
	e.refs++
	return true
}

// Release removes one reference. The resource is dropped with the last
// reference, or deferred until outstanding borrows are returned.
func (b *LocalBackend) Release(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}

	e.refs--
	if e.refs > 0 {
		return nil, false
	}
	if e.borrowCount > 0 {
		e.pendingDrop = true
		return nil, false
	}
	return b.free(handle), true
}

// Drop removes a resource regardless of its reference count.
// Returns (nil, false) if handle is invalid or has outstanding borrows.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.borrowCount > 0 {
		return nil, false
	}
	return b.free(handle), true
}

// free invalidates the entry and recycles its slot under the next
// generation. Caller holds b.mu.
func (b *LocalBackend) free(handle Handle) any {
	idx := slotIndex(handle)
	e := &b.entries[idx]
	value := e.value
	*e = entry{gen: (e.gen + 1) & genMask}
	b.freeList = append(b.freeList, idx)
	return value
}

// Close releases all resources. Values implementing Dropper are dropped
// after the backend lock is released.
func (b *LocalBackend) Close() error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var droppers []Dropper
	for i := range b.entries {
		if b.entries[i].valid {
			if d, ok := b.entries[i].value.(Dropper); ok {
				droppers = append(droppers, d)
			}
		}
	}

	b.entries = nil
	b.freeList = nil
	b.mu.Unlock()

	for _, d := range droppers {
		d.Drop()
	}
	return nil
}

// Borrow increments the borrow count for a handle.
func (b *LocalBackend) Borrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return false
	}
	e.borrowCount++
	return true
}

// ReturnBorrow decrements the borrow count for a handle and completes a
// drop deferred by Release once the last borrow is returned.
func (b *LocalBackend) ReturnBorrow(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.slot(handle)
	if e == nil || !e.valid || e.borrowCount == 0 {
		return nil, false
	}

	e.borrowCount--
	if e.borrowCount == 0 && e.pendingDrop {
		return b.free(handle), true
	}
	return nil, false
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.typeID, true
}

// borrowedTypeID returns the type ID of a handle that may be pending drop.
func (b *LocalBackend) borrowedTypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.slot(handle)
	if e == nil || !e.valid {
		return 0, false
	}
	return e.typeID, true
}

// Len returns the number of active resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid && !e.pendingDrop {
			count++
		}
	}
	return count
}

// Each iterates over all active resources.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid && !e.pendingDrop {
			if !fn(makeHandle(i, e.gen), e.typeID, e.value) {
				break
			}
		}
	}
}
