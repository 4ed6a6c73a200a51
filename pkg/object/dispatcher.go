package object

import (
	"sync"
	"sync/atomic"
)

// ObjectType tags the concrete variant behind a Dispatcher. Handle lookups
// compare against it once, so call sites never type-switch.
type ObjectType uint32

const (
	TypeNone ObjectType = iota
	TypeResource
	TypeInterrupt
	TypeVmObject
)

// String returns the type name.
func (t ObjectType) String() string {
	switch t {
	case TypeResource:
		return "resource"
	case TypeInterrupt:
		return "interrupt"
	case TypeVmObject:
		return "vmo"
	}
	return "none"
}

// Dispatcher is a reference-counted kernel object reachable through handles.
type Dispatcher interface {
	// Type returns the variant tag.
	Type() ObjectType
	// KOID returns the kernel-wide object id.
	KOID() uint64

	// AddRef takes a strong reference.
	AddRef()
	// Release drops a strong reference. The last release destroys the object.
	Release()

	// IncHandles and DecHandles track how many handles name the object.
	// Dropping to zero handles runs the on-zero-handles hook even while
	// transient references are still held.
	IncHandles()
	DecHandles()
}

var koidCounter atomic.Uint64

// NextKOID returns a fresh kernel object id. Ids start at 1024 and are never reused.
func NextKOID() uint64 {
	return koidCounter.Add(1) + 1023
}

// Base implements the reference-counting half of Dispatcher. Concrete
// dispatchers embed it and call Init with their destroy hook.
type Base struct {
	koid      uint64
	refs      atomic.Int32
	onZero    func()
	destroyed sync.Once

	handles       atomic.Int32
	onZeroHandles func()
	closed        sync.Once
}

// Init assigns a KOID and sets the reference count to one, owned by the
// creator. onZero runs exactly once when the count drops to zero.
func (b *Base) Init(onZero func()) {
	b.koid = NextKOID()
	b.onZero = onZero
	b.refs.Store(1)
}

// KOID returns the kernel object id.
func (b *Base) KOID() uint64 {
	return b.koid
}

// AddRef takes a strong reference.
func (b *Base) AddRef() {
	if b.refs.Add(1) <= 1 {
		panic("object: AddRef on destroyed object")
	}
}

// Release drops a strong reference.
func (b *Base) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("object: reference count underflow")
	}
	if n == 0 && b.onZero != nil {
		b.destroyed.Do(b.onZero)
	}
}

// OnZeroHandles sets a hook run once when the last handle is closed.
// It must be set before the object is installed in a handle table.
func (b *Base) OnZeroHandles(fn func()) {
	b.onZeroHandles = fn
}

// IncHandles records a new handle naming the object.
func (b *Base) IncHandles() {
	b.handles.Add(1)
}

// DecHandles records a closed handle.
func (b *Base) DecHandles() {
	if b.handles.Add(-1) == 0 && b.onZeroHandles != nil {
		b.closed.Do(b.onZeroHandles)
	}
}

// HandleCount returns the number of handles naming the object.
func (b *Base) HandleCount() int32 {
	return b.handles.Load()
}

// RefCount returns the current strong count. For diagnostics only.
func (b *Base) RefCount() int32 {
	return b.refs.Load()
}
