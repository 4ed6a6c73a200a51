// Package vm provides VM objects backed by physical memory, either pages the
// kernel allocates contiguously or a raw physical range named by the caller.
package vm

import (
	"fmt"
	"sync"

	"ddk/pkg/object"
	"ddk/pkg/pmm"
	"ddk/pkg/status"
)

// Backing identifies where a VM object's memory comes from.
type Backing int

const (
	// BackingContiguous objects own physically contiguous kernel pages.
	BackingContiguous Backing = iota
	// BackingPhysical objects wrap a caller-named physical range they do not own.
	BackingPhysical
)

// String returns the backing name.
func (b Backing) String() string {
	if b == BackingPhysical {
		return "physical"
	}
	return "contiguous"
}

// VM object errors.
var (
	ErrZeroSize     = fmt.Errorf("%w: zero size", status.ErrInvalidArgs)
	ErrSizeOverflow = fmt.Errorf("%w: size overflows address space", status.ErrInvalidArgs)
	ErrAlignment    = fmt.Errorf("%w: bad alignment", status.ErrInvalidArgs)
	ErrOffset       = fmt.Errorf("%w: offset outside object", status.ErrOutOfRange)
	ErrUnmanaged    = fmt.Errorf("%w: physical objects are not kernel memory", status.ErrNotSupported)
)

// Memory gives access to the bytes of allocated physical pages.
type Memory interface {
	Bytes(p pmm.Paddr, n int) ([]byte, error)
}

// Object is a VM object. Its size and physical layout never change after
// creation.
type Object struct {
	backing Backing
	size    uint64
	base    pmm.Paddr
	pages   []pmm.Paddr

	alloc pmm.Allocator
	mem   Memory

	mu       sync.Mutex
	released bool
}

// Backing returns the backing variant.
func (o *Object) Backing() Backing {
	return o.backing
}

// Size returns the size in bytes, always a whole number of pages.
func (o *Object) Size() uint64 {
	return o.size
}

// PhysicalBase returns the first physical address of the object.
func (o *Object) PhysicalBase() pmm.Paddr {
	return o.base
}

// CommittedPages returns the number of pages the object owns. Physical
// objects own none.
func (o *Object) CommittedPages() int {
	return len(o.pages)
}

// Pages returns a copy of the committed page addresses.
func (o *Object) Pages() []pmm.Paddr {
	return append([]pmm.Paddr(nil), o.pages...)
}

// PhysAddr translates an offset within the object to a physical address.
func (o *Object) PhysAddr(offset uint64) (pmm.Paddr, error) {
	if offset >= o.size {
		return 0, ErrOffset
	}
	return o.base.After(offset), nil
}

func (o *Object) bytes(off int64, n int) ([]byte, error) {
	if o.backing != BackingContiguous || o.mem == nil {
		return nil, ErrUnmanaged
	}
	if off < 0 || uint64(off)+uint64(n) > o.size {
		return nil, ErrOffset
	}
	return o.mem.Bytes(o.base.After(uint64(off)), n)
}

// ReadAt reads object contents. Only contiguous objects are readable.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	b, err := o.bytes(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// WriteAt writes object contents. Only contiguous objects are writable.
func (o *Object) WriteAt(p []byte, off int64) (int, error) {
	b, err := o.bytes(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(b, p), nil
}

// release returns owned pages to the allocator.
func (o *Object) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return
	}
	o.released = true
	if o.alloc != nil && len(o.pages) > 0 {
		o.alloc.Free(o.pages)
	}
}

// Dispatcher exposes a VM object through handles.
type Dispatcher struct {
	object.Base
	vmo *Object
}

// DefaultRights is granted to the creator of a VM object.
const DefaultRights = object.DefaultRights | object.RightMap

// NewDispatcher wraps vmo. The caller owns the returned reference; the
// object's pages are released when the dispatcher is destroyed.
func NewDispatcher(vmo *Object) (*Dispatcher, object.Rights) {
	d := &Dispatcher{vmo: vmo}
	d.Init(vmo.release)
	return d, DefaultRights
}

// Type returns object.TypeVmObject.
func (d *Dispatcher) Type() object.ObjectType {
	return object.TypeVmObject
}

// VMO returns the wrapped object.
func (d *Dispatcher) VMO() *Object {
	return d.vmo
}
