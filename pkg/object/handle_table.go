package object

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"ddk/pkg/status"
)

// Handle is a process-local token naming a kernel object.
type Handle uint32

// HandleInvalid never names an object.
const HandleInvalid Handle = 0

// Handle table errors.
var (
	// ErrTableClosed is returned by Add after the owning process exited.
	ErrTableClosed = errors.New("handle table closed")
	// ErrTooManyHandles is returned when the table reached its limit.
	ErrTooManyHandles = fmt.Errorf("%w: handle table full", status.ErrNoMemory)
	// ErrRightsDenied is returned when a handle lacks a required right.
	ErrRightsDenied = fmt.Errorf("%w: handle lacks required rights", status.ErrAccessDenied)
)

type entry struct {
	dispatcher Dispatcher
	rights     Rights
}

// HandleTable maps one process's handle values to objects. Every entry owns
// one strong reference to its dispatcher.
type HandleTable struct {
	// MaxHandles limits the number of live handles. Zero means unlimited.
	MaxHandles int

	mu      sync.Mutex
	entries map[Handle]entry
	salt    uint32
	seq     uint32
	closed  bool
}

// NewHandleTable creates an empty table. Values are salted per table so two
// processes do not see the same numbering.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		entries: make(map[Handle]entry),
		salt:    rand.Uint32() &^ 1,
	}
}

// Add installs a handle for d with the given rights. The table takes its own
// reference; the caller keeps the one it holds and must release it.
func (t *HandleTable) Add(d Dispatcher, rights Rights) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return HandleInvalid, ErrTableClosed
	}
	if t.MaxHandles > 0 && len(t.entries) >= t.MaxHandles {
		t.mu.Unlock()
		return HandleInvalid, ErrTooManyHandles
	}

	var h Handle
	for {
		t.seq++
		h = Handle(t.salt ^ (t.seq<<1 | 1))
		if _, used := t.entries[h]; !used {
			break
		}
	}
	d.AddRef()
	t.entries[h] = entry{dispatcher: d, rights: rights}
	d.IncHandles()
	t.mu.Unlock()
	return h, nil
}

// Ref is a transient strong reference obtained from Get. Release must be
// called on every path once the caller is done with the object.
type Ref struct {
	Dispatcher Dispatcher
	Rights     Rights
}

// Release drops the transient reference.
func (r Ref) Release() {
	if r.Dispatcher != nil {
		r.Dispatcher.Release()
	}
}

// Get resolves h. The object must be of type want (TypeNone accepts any) and
// the handle must carry every right in rights.
func (t *HandleTable) Get(h Handle, want ObjectType, rights Rights) (Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return Ref{}, status.ErrBadHandle
	}
	if want != TypeNone && e.dispatcher.Type() != want {
		return Ref{}, status.ErrWrongType
	}
	if !e.rights.Has(rights) {
		return Ref{}, ErrRightsDenied
	}
	e.dispatcher.AddRef()
	return Ref{Dispatcher: e.dispatcher, Rights: e.rights}, nil
}

// Lookup resolves h to a concrete dispatcher type. The returned release
// function is never nil and must be called once.
func Lookup[T Dispatcher](t *HandleTable, h Handle, want ObjectType, rights Rights) (T, func(), error) {
	var zero T
	ref, err := t.Get(h, want, rights)
	if err != nil {
		return zero, func() {}, err
	}
	d, ok := ref.Dispatcher.(T)
	if !ok {
		ref.Release()
		return zero, func() {}, status.ErrWrongType
	}
	return d, ref.Release, nil
}

// Remove closes h and drops the table's reference.
func (t *HandleTable) Remove(h Handle) error {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return status.ErrBadHandle
	}
	delete(t.entries, h)
	t.mu.Unlock()

	e.dispatcher.DecHandles()
	e.dispatcher.Release()
	return nil
}

// Close releases every handle. Later Adds fail with ErrTableClosed.
func (t *HandleTable) Close() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[Handle]entry)
	t.closed = true
	t.mu.Unlock()

	for _, e := range entries {
		e.dispatcher.DecHandles()
		e.dispatcher.Release()
	}
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// HandleInfo describes one live handle.
type HandleInfo struct {
	Handle Handle
	Type   ObjectType
	KOID   uint64
	Rights Rights
}

// Snapshot lists live handles ordered by value.
func (t *HandleTable) Snapshot() []HandleInfo {
	t.mu.Lock()
	infos := make([]HandleInfo, 0, len(t.entries))
	for h, e := range t.entries {
		infos = append(infos, HandleInfo{
			Handle: h,
			Type:   e.dispatcher.Type(),
			KOID:   e.dispatcher.KOID(),
			Rights: e.rights,
		})
	}
	t.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}

// Dump renders the table for debugging.
func (t *HandleTable) Dump() string {
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableMethods: true}
	return cfg.Sdump(t.Snapshot())
}
