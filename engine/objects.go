package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	packedfunc "github.com/wippyai/packedfunc"
	"github.com/wippyai/packedfunc/resource"
)

// Table type IDs of runtime objects.
const (
	typeFunc uint32 = iota + 1
	typeModule
	typeArray
	typeNode
	typeRetSlot
)

// HostFunc is a function implemented inside the runtime. A handle result
// transfers one reference to the caller.
type HostFunc func(args []packedfunc.Payload, codes []packedfunc.TypeCode) (packedfunc.Payload, packedfunc.TypeCode, error)

type function struct {
	call    HostFunc
	release func()
	name    string
}

func (f *function) Drop() {
	if f.release != nil {
		f.release()
	}
}

type module struct {
	l       *Local
	funcs   map[string]HostFunc
	close   func() error
	name    string
	imports []resource.Handle
	mu      sync.Mutex
}

func (m *module) lookup(name string) HostFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.funcs[name]
}

func (m *module) importList() []resource.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resource.Handle(nil), m.imports...)
}

func (m *module) Drop() {
	m.mu.Lock()
	imports := m.imports
	m.imports = nil
	m.mu.Unlock()

	for _, h := range imports {
		m.l.table.Release(h)
	}
	if m.close != nil {
		if err := m.close(); err != nil {
			m.l.log.Warn("module close failed", zap.String("module", m.name), zap.Error(err))
		}
	}
}

type ndarray struct {
	data  []byte
	shape []int64
	dtype packedfunc.DataType
	dev   packedfunc.Device
}

type node struct {
	value any
}

func (n *node) Drop() {
	if d, ok := n.value.(resource.Dropper); ok {
		d.Drop()
	}
}

// retSlot receives the result of a host callback through CFuncSetReturn.
type retSlot struct {
	value packedfunc.Payload
	code  packedfunc.TypeCode
	set   bool
}

func freeable(code packedfunc.TypeCode) bool {
	switch code {
	case packedfunc.FuncHandle, packedfunc.ModuleHandle, packedfunc.NodeHandle,
		packedfunc.ArrayHandle, packedfunc.NDArrayContainer:
		return true
	}
	return false
}

func typeIDOf(code packedfunc.TypeCode) uint32 {
	switch code {
	case packedfunc.FuncHandle:
		return typeFunc
	case packedfunc.ModuleHandle:
		return typeModule
	case packedfunc.NodeHandle:
		return typeNode
	case packedfunc.ArrayHandle, packedfunc.NDArrayContainer:
		return typeArray
	}
	return 0
}

// ObjectCounts counts table objects by kind.
type ObjectCounts struct {
	Funcs   int64
	Modules int64
	Arrays  int64
	Nodes   int64
}

// objectCounter observes the object table and counts creations and drops
// per type ID.
type objectCounter struct {
	created [typeRetSlot + 1]atomic.Int64
	dropped [typeRetSlot + 1]atomic.Int64
}

func (c *objectCounter) OnResourceEvent(e resource.Event) {
	if int(e.TypeID) >= len(c.created) {
		return
	}
	switch e.Type {
	case resource.EventCreated:
		c.created[e.TypeID].Add(1)
	case resource.EventDropped:
		c.dropped[e.TypeID].Add(1)
	}
}

func (c *objectCounter) snapshot(typ resource.EventType) ObjectCounts {
	counts := &c.created
	if typ == resource.EventDropped {
		counts = &c.dropped
	}
	return ObjectCounts{
		Funcs:   counts[typeFunc].Load(),
		Modules: counts[typeModule].Load(),
		Arrays:  counts[typeArray].Load(),
		Nodes:   counts[typeNode].Load(),
	}
}
