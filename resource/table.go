package resource

import (
	"sync"
)

// UnifiedTable is a typed handle table over a LocalBackend. Observers
// receive every lifecycle event.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new unified table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value with one reference and returns its handle.
func (t *UnifiedTable) Insert(typeID uint32, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return handle
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *UnifiedTable) GetTyped(handle Handle, typeID uint32) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Retain adds a reference.
func (t *UnifiedTable) Retain(handle Handle) bool {
	typeID, _ := t.backend.TypeID(handle)
	if !t.backend.Retain(handle) {
		return false
	}
	t.notify(Event{Type: EventRetained, Handle: handle, TypeID: typeID})
	return true
}

// Release removes a reference. With the last reference the value is dropped
// and its Dropper, if any, runs on the calling goroutine.
func (t *UnifiedTable) Release(handle Handle) bool {
	typeID, ok := t.backend.TypeID(handle)
	if !ok {
		return false
	}
	value, dropped := t.backend.Release(handle)
	t.notify(Event{Type: EventReleased, Handle: handle, TypeID: typeID})
	if dropped {
		t.dropped(handle, typeID, value)
	}
	return true
}

// Remove drops a resource regardless of its reference count.
func (t *UnifiedTable) Remove(handle Handle) (any, bool) {
	typeID, _ := t.backend.TypeID(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}
	t.dropped(handle, typeID, value)
	return value, true
}

// Borrow marks a handle as in use. A handle released while borrowed is
// dropped when the last borrow is returned.
func (t *UnifiedTable) Borrow(handle Handle) bool {
	typeID, _ := t.backend.TypeID(handle)
	if !t.backend.Borrow(handle) {
		return false
	}
	t.notify(Event{Type: EventBorrowed, Handle: handle, TypeID: typeID})
	return true
}

// ReturnBorrow ends a borrow started by Borrow.
func (t *UnifiedTable) ReturnBorrow(handle Handle) {
	typeID, _ := t.backend.borrowedTypeID(handle)
	value, dropped := t.backend.ReturnBorrow(handle)
	t.notify(Event{Type: EventBorrowReturned, Handle: handle, TypeID: typeID})
	if dropped {
		t.dropped(handle, typeID, value)
	}
}

func (t *UnifiedTable) dropped(handle Handle, typeID uint32, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of active resources.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Clear drops all resources.
func (t *UnifiedTable) Clear() {
	// Collect handles first to avoid holding lock during Remove
	var handles []Handle
	t.backend.Each(func(h Handle, typeID uint32, value any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all resources and stops accepting operations.
func (t *UnifiedTable) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
