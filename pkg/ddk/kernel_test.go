package ddk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"ddk/pkg/display"
	"ddk/pkg/interrupt"
	"ddk/pkg/object"
	"ddk/pkg/platform"
	"ddk/pkg/pmm"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/status"
	"ddk/pkg/vm"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	m    *Machine
	th   *process.Thread
	root object.Handle
}

func newFixture(t *testing.T, boot platform.BootInfo) *fixture {
	t.Helper()
	if boot.Arch == "" {
		boot.Arch = platform.ArchAMD64
	}
	m, err := NewMachine(platform.Config{Boot: boot, RamBase: 0x100000, RamPages: 64}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })

	th, err := m.Spawn("driver")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	root, err := m.GrantRoot(th.Process)
	if err != nil {
		t.Fatalf("GrantRoot() error = %v", err)
	}
	return &fixture{m: m, th: th, root: root}
}

func (f *fixture) grant(t *testing.T, kind resource.Kind, base, size uint64) object.Handle {
	t.Helper()
	h, err := f.m.GrantRange(f.th.Process, kind, base, size, 0)
	if err != nil {
		t.Fatalf("GrantRange(%s) error = %v", kind, err)
	}
	return h
}

func (f *fixture) interrupt(t *testing.T) object.Handle {
	t.Helper()
	h, err := f.m.InterruptCreate(f.th, f.root, 0)
	if err != nil {
		t.Fatalf("InterruptCreate() error = %v", err)
	}
	return h
}

type waitResult struct {
	slots uint64
	err   error
}

func (f *fixture) waitAsync(ctx context.Context, h object.Handle) <-chan waitResult {
	ch := make(chan waitResult, 1)
	go func() {
		slots, err := f.m.InterruptWait(ctx, f.th, h)
		ch <- waitResult{slots, err}
	}()
	return ch
}

func (f *fixture) waitForWaiter(t *testing.T, h object.Handle) {
	t.Helper()
	d, release, err := lookupInterrupt(f.th, h, object.RightNone)
	if err != nil {
		t.Fatalf("lookup error = %v", err)
	}
	defer release()
	deadline := time.Now().Add(waitTimeout)
	for d.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no waiter blocked")
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("wait did not return")
	}
	return waitResult{}
}

// TestInterruptRoundTrip tests create, bind, signal and a non-blocking
// timestamped wait through the entry operations.
func TestInterruptRoundTrip(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)

	if err := f.m.InterruptBind(f.th, h, 0, f.root, 33, 0); err != nil {
		t.Fatalf("InterruptBind() error = %v", err)
	}
	if err := f.m.InterruptSignal(f.th, h, 0, 5555); err != nil {
		t.Fatalf("InterruptSignal() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	slot, ts, err := f.m.InterruptWaitWithTimestamp(ctx, f.th, h)
	if err != nil {
		t.Fatalf("InterruptWaitWithTimestamp() error = %v", err)
	}
	if slot != 0 || ts != 5555 {
		t.Errorf("InterruptWaitWithTimestamp() = (%d, %d), want (0, 5555)", slot, ts)
	}

	if err := f.m.InterruptComplete(f.th, h); err != nil {
		t.Errorf("InterruptComplete() error = %v", err)
	}
	if err := f.m.InterruptUnbind(f.th, h, 0); err != nil {
		t.Errorf("InterruptUnbind() error = %v", err)
	}
	if err := f.m.InterruptUnbind(f.th, h, 0); !errors.Is(err, status.ErrNotBound) {
		t.Errorf("second InterruptUnbind() error = %v, want ErrNotBound", err)
	}
	if err := f.m.InterruptSignal(f.th, h, 0, 1); !errors.Is(err, status.ErrNotBound) {
		t.Errorf("InterruptSignal() on unbound slot error = %v, want ErrNotBound", err)
	}
}

// TestInterruptHardwareFire tests that a controller fire is timestamped by
// the kernel clock and delivered to a blocked waiter.
func TestInterruptHardwareFire(t *testing.T) {
	ctrl := interrupt.NewSoftController()
	k := New(Config{
		Controller: ctrl,
		Clock:      func() int64 { return 42 },
		Logger:     log.New(io.Discard, "", 0),
	})
	pm := process.NewProcessManager()
	p, _ := pm.CreateProcess(nil)
	th, _ := pm.CreateThread(p)
	root, _ := k.GrantRoot(p)

	h, err := k.InterruptCreate(th, root, 0)
	if err != nil {
		t.Fatalf("InterruptCreate() error = %v", err)
	}
	if err := k.InterruptBind(th, h, 3, root, 40, uint32(interrupt.ModeLevel)); err != nil {
		t.Fatalf("InterruptBind() error = %v", err)
	}
	if mode, ok := ctrl.Registered(40); !ok || mode != interrupt.ModeLevel {
		t.Fatalf("Registered(40) = %v, %v", mode, ok)
	}

	type result struct {
		slot uint32
		ts   int64
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		slot, ts, err := k.InterruptWaitWithTimestamp(context.Background(), th, h)
		ch <- result{slot, ts, err}
	}()

	deadline := time.Now().Add(waitTimeout)
	for {
		d, release, _ := lookupInterrupt(th, h, object.RightNone)
		n := d.Waiters()
		release()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no waiter blocked")
		}
		time.Sleep(time.Millisecond)
	}
	if !ctrl.Fire(40) {
		t.Fatal("Fire(40) found no handler")
	}

	select {
	case r := <-ch:
		if r.err != nil || r.slot != 3 || r.ts != 42 {
			t.Errorf("wait = (%d, %d, %v), want (3, 42, nil)", r.slot, r.ts, r.err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("wait did not return")
	}
}

// TestInterruptCreateArgs tests option and resource checks.
func TestInterruptCreateArgs(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	mmio := f.grant(t, resource.KindMMIO, 0xfd000000, 0x1000)
	irq := f.grant(t, resource.KindIRQ, 32, 8)
	before := f.th.Handles().Len()

	tests := []struct {
		name    string
		hrsrc   object.Handle
		options uint32
		want    error
	}{
		{"options", f.root, 1, status.ErrInvalidArgs},
		{"bad handle", object.Handle(0x7777), 0, status.ErrBadHandle},
		{"wrong kind", mmio, 0, status.ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := f.m.InterruptCreate(f.th, tt.hrsrc, tt.options)
			if !errors.Is(err, tt.want) {
				t.Errorf("InterruptCreate() error = %v, want %v", err, tt.want)
			}
			if h != object.HandleInvalid {
				t.Errorf("InterruptCreate() handle = %#x on failure", h)
			}
			if f.th.Handles().Len() != before {
				t.Errorf("handle count = %d, want %d", f.th.Handles().Len(), before)
			}
		})
	}

	if _, err := f.m.InterruptCreate(f.th, irq, 0); err != nil {
		t.Errorf("InterruptCreate() with IRQ resource error = %v", err)
	}
}

// TestInterruptCreateNotAResource tests that a non-resource handle is a
// permission failure.
func TestInterruptCreateNotAResource(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	other := f.interrupt(t)

	_, err := f.m.InterruptCreate(f.th, other, 0)
	if !errors.Is(err, status.ErrAccessDenied) || !errors.Is(err, status.ErrWrongType) {
		t.Errorf("InterruptCreate() error = %v, want ErrAccessDenied wrapping ErrWrongType", err)
	}
	if status.Code(err) != status.ErrCodeAccess {
		t.Errorf("Code() = %v, want %v", status.Code(err), status.ErrCodeAccess)
	}
}

// TestInterruptBindRanged tests IRQ resources covering vectors.
func TestInterruptBindRanged(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	irq := f.grant(t, resource.KindIRQ, 32, 8)
	h := f.interrupt(t)

	if err := f.m.InterruptBind(f.th, h, 0, irq, 39, 0); err != nil {
		t.Errorf("InterruptBind(39) error = %v", err)
	}
	err := f.m.InterruptBind(f.th, h, 1, irq, 40, 0)
	if !errors.Is(err, status.ErrAccessDenied) || !errors.Is(err, status.ErrOutOfRange) {
		t.Errorf("InterruptBind(40) error = %v, want ErrAccessDenied wrapping ErrOutOfRange", err)
	}
	if _, ok := f.m.Controller.Registered(40); ok {
		t.Error("vector 40 registered after denied bind")
	}
}

// TestInterruptBindConflicts tests rebind semantics.
func TestInterruptBindConflicts(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	a := f.interrupt(t)
	b := f.interrupt(t)

	if err := f.m.InterruptBind(f.th, a, 0, f.root, 50, 0); err != nil {
		t.Fatalf("InterruptBind() error = %v", err)
	}
	if err := f.m.InterruptBind(f.th, a, 0, f.root, 50, 0); err != nil {
		t.Errorf("identical rebind error = %v, want nil", err)
	}
	if err := f.m.InterruptBind(f.th, a, 0, f.root, 51, 0); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("rebind to new vector error = %v, want ErrInvalidArgs", err)
	}
	if err := f.m.InterruptBind(f.th, b, 0, f.root, 50, 0); !errors.Is(err, status.ErrAlreadyBound) {
		t.Errorf("bind of claimed vector error = %v, want ErrAlreadyBound", err)
	}
	if err := f.m.InterruptBind(f.th, a, interrupt.MaxSlots, f.root, 52, 0); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("bind of slot %d error = %v, want ErrInvalidArgs", interrupt.MaxSlots, err)
	}
	if err := f.m.InterruptBind(f.th, f.root, 0, f.root, 52, 0); !errors.Is(err, status.ErrWrongType) {
		t.Errorf("bind on resource handle error = %v, want ErrWrongType", err)
	}
}

// TestInterruptUnbindWakesWaiter tests that a blocked wait is cancelled by
// a concurrent unbind.
func TestInterruptUnbindWakesWaiter(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)
	f.m.InterruptBind(f.th, h, 0, f.root, 33, 0)

	ch := f.waitAsync(context.Background(), h)
	f.waitForWaiter(t, h)

	if err := f.m.InterruptUnbind(f.th, h, 0); err != nil {
		t.Fatalf("InterruptUnbind() error = %v", err)
	}
	r := receive(t, ch)
	if !errors.Is(r.err, status.ErrCanceled) {
		t.Errorf("InterruptWait() error = %v, want ErrCanceled", r.err)
	}
	if status.Code(r.err) != status.ErrCodeCanceled {
		t.Errorf("Code() = %v, want ERR_CANCELED", status.Code(r.err))
	}
}

// TestInterruptCloseCancelsWaiter tests that closing the last handle destroys
// the object even while a wait holds a transient reference.
func TestInterruptCloseCancelsWaiter(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)
	f.m.InterruptBind(f.th, h, 0, f.root, 33, 0)

	ch := f.waitAsync(context.Background(), h)
	f.waitForWaiter(t, h)

	if err := f.th.Handles().Remove(h); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	r := receive(t, ch)
	if !errors.Is(r.err, interrupt.ErrDestroyed) {
		t.Errorf("InterruptWait() error = %v, want ErrDestroyed", r.err)
	}
	if _, ok := f.m.Controller.Registered(33); ok {
		t.Error("vector 33 still registered after destroy")
	}
	if _, err := f.m.InterruptWait(context.Background(), f.th, h); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("InterruptWait() on closed handle error = %v, want ErrBadHandle", err)
	}
}

// TestProcessExitCancelsWaiter tests that exit closes the table and wakes
// waiters in other goroutines.
func TestProcessExitCancelsWaiter(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)
	f.m.InterruptBind(f.th, h, 0, f.root, 33, 0)

	ch := f.waitAsync(context.Background(), h)
	f.waitForWaiter(t, h)

	if err := f.m.Processes.Exit(f.th.Process.PID, 0); err != nil {
		t.Fatalf("Exit() error = %v", err)
	}
	if r := receive(t, ch); !errors.Is(r.err, status.ErrCanceled) {
		t.Errorf("InterruptWait() error = %v, want ErrCanceled", r.err)
	}
	if _, ok := f.m.Controller.Registered(33); ok {
		t.Error("vector 33 still registered after exit")
	}
}

// TestInterruptWaitContext tests that context cancellation ends a wait.
func TestInterruptWaitContext(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)
	f.m.InterruptBind(f.th, h, 0, f.root, 33, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.m.InterruptWait(ctx, f.th, h)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("InterruptWait() error = %v, want DeadlineExceeded", err)
	}
	if status.Code(err) != status.ErrCodeTimedOut {
		t.Errorf("Code() = %v, want ERR_TIMED_OUT", status.Code(err))
	}
}

// TestInterruptRights tests that handle rights gate interrupt operations.
func TestInterruptRights(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	d, _ := interrupt.New(f.m.Controller, nil)
	h, err := f.th.Handles().Add(d, object.RightRead)
	d.Release()
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := f.m.InterruptBind(f.th, h, 0, f.root, 33, 0); !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("InterruptBind() without write error = %v, want ErrAccessDenied", err)
	}
	if err := f.m.InterruptSignal(f.th, h, 0, 1); !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("InterruptSignal() without write error = %v, want ErrAccessDenied", err)
	}
	if f.m.Controller.Calls() != 0 {
		t.Errorf("Controller.Calls() = %d, want 0", f.m.Controller.Calls())
	}
}

func TestInterruptComplete(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	vmo, err := f.m.VmoCreatePhysical(f.th, f.root, 0xfd000000, pmm.PageSize)
	if err != nil {
		t.Fatalf("VmoCreatePhysical() error = %v", err)
	}
	if err := f.m.InterruptComplete(f.th, vmo); !errors.Is(err, status.ErrWrongType) {
		t.Errorf("InterruptComplete(vmo) error = %v, want ErrWrongType", err)
	}
	if err := f.m.InterruptComplete(f.th, object.HandleInvalid); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("InterruptComplete(invalid) error = %v, want ErrBadHandle", err)
	}
}

// TestHandleUniqueness tests that created handles are pairwise distinct.
func TestHandleUniqueness(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	seen := make(map[object.Handle]bool)
	for i := 0; i < 200; i++ {
		h := f.interrupt(t)
		if h == object.HandleInvalid || seen[h] {
			t.Fatalf("handle %d = %#x is invalid or duplicate", i, h)
		}
		seen[h] = true
	}
}

// TestVmoCreateContiguous tests eager commit and page contiguity.
func TestVmoCreateContiguous(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	free := f.m.Arena.Stats().Free

	h, err := f.m.VmoCreateContiguous(f.th, f.root, 3*pmm.PageSize, pmm.PageShift)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	vmo, release, err := LookupVmo(f.th, h, object.RightMap)
	if err != nil {
		t.Fatalf("LookupVmo() error = %v", err)
	}
	pages := vmo.Pages()
	release()

	if len(pages) != 3 {
		t.Fatalf("committed pages = %d, want 3\n%s", len(pages), spew.Sdump(pages))
	}
	for i := 1; i < len(pages); i++ {
		if pages[i] != pages[i-1].After(pmm.PageSize) {
			t.Errorf("pages[%d] = %#x, not contiguous with %#x", i, pages[i], pages[i-1])
		}
	}
	if got := f.m.Arena.Stats().Free; got != free-3 {
		t.Errorf("arena free = %d, want %d", got, free-3)
	}

	// closing the only handle returns the pages
	f.th.Handles().Remove(h)
	if got := f.m.Arena.Stats().Free; got != free {
		t.Errorf("arena free after close = %d, want %d", got, free)
	}
}

// TestVmoCreateContiguousArgs tests argument checks and the out-of-memory
// path.
func TestVmoCreateContiguousArgs(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	before := f.th.Handles().Len()

	tests := []struct {
		name  string
		size  uint64
		align uint32
		want  error
	}{
		{"zero size", 0, 0, status.ErrInvalidArgs},
		{"align below page", pmm.PageSize, pmm.PageShift - 1, status.ErrInvalidArgs},
		{"align 64", pmm.PageSize, 64, status.ErrInvalidArgs},
		{"larger than ram", 65 * pmm.PageSize, 0, status.ErrNoMemory},
		{"size overflow", ^uint64(0), 0, status.ErrInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.VmoCreateContiguous(f.th, f.root, tt.size, tt.align)
			if !errors.Is(err, tt.want) {
				t.Errorf("VmoCreateContiguous() error = %v, want %v", err, tt.want)
			}
			if f.th.Handles().Len() != before {
				t.Errorf("handle count = %d, want %d", f.th.Handles().Len(), before)
			}
		})
	}
	if got := f.m.Arena.Stats().Free; got != 64 {
		t.Errorf("arena free = %d, want 64", got)
	}

	// unaligned sizes round up
	h, err := f.m.VmoCreateContiguous(f.th, f.root, pmm.PageSize+1, 0)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	vmo, release, _ := LookupVmo(f.th, h, object.RightNone)
	defer release()
	if vmo.Size() != 2*pmm.PageSize {
		t.Errorf("Size() = %#x, want %#x", vmo.Size(), 2*pmm.PageSize)
	}
}

// TestVmoCreatePhysical tests that physical objects never allocate and may
// alias.
func TestVmoCreatePhysical(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	mmio := f.grant(t, resource.KindMMIO, 0xfd000000, 0x10000)

	a, err := f.m.VmoCreatePhysical(f.th, mmio, 0xfd000000, 0x2000)
	if err != nil {
		t.Fatalf("VmoCreatePhysical() error = %v", err)
	}
	b, err := f.m.VmoCreatePhysical(f.th, f.root, 0xfd000000, 0x2000)
	if err != nil {
		t.Fatalf("aliasing VmoCreatePhysical() error = %v", err)
	}
	if a == b {
		t.Error("aliasing objects share a handle")
	}
	if f.m.Pages.Allocs() != 0 {
		t.Errorf("Allocs() = %d, want 0", f.m.Pages.Allocs())
	}

	vmo, release, _ := LookupVmo(f.th, a, object.RightNone)
	if vmo.Backing() != vm.BackingPhysical || vmo.PhysicalBase() != 0xfd000000 {
		t.Errorf("vmo = %v at %#x", vmo.Backing(), vmo.PhysicalBase())
	}
	release()

	f.th.Handles().Remove(a)
	f.th.Handles().Remove(b)
	if f.m.Pages.Frees() != 0 {
		t.Errorf("Frees() = %d, want 0", f.m.Pages.Frees())
	}

	_, err = f.m.VmoCreatePhysical(f.th, mmio, 0xfd00f000, 0x2000)
	if !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("VmoCreatePhysical() past grant error = %v, want ErrAccessDenied", err)
	}
	if _, err := f.m.VmoCreatePhysical(f.th, f.root, 0xfd000010, 0x1000); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("unaligned VmoCreatePhysical() error = %v, want ErrInvalidArgs", err)
	}
	if _, err := f.m.VmoCreatePhysical(f.th, f.root, 0xfd000000, 0); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("empty VmoCreatePhysical() error = %v, want ErrInvalidArgs", err)
	}
}

// TestVmoCreatePhysicalRoundedRange tests that the page-rounded range is
// what the MMIO grant must cover.
func TestVmoCreatePhysicalRoundedRange(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	half := f.grant(t, resource.KindMMIO, 0xfe000000, 0x800)
	page := f.grant(t, resource.KindMMIO, 0xfe100000, pmm.PageSize)

	handles := f.th.Handles().Len()
	_, err := f.m.VmoCreatePhysical(f.th, half, 0xfe000000, 0x800)
	if !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("VmoCreatePhysical() within half-page grant error = %v, want ErrAccessDenied", err)
	}
	if got := f.th.Handles().Len(); got != handles {
		t.Errorf("handles = %d, want %d", got, handles)
	}

	h, err := f.m.VmoCreatePhysical(f.th, page, 0xfe100000, 0x800)
	if err != nil {
		t.Fatalf("VmoCreatePhysical() error = %v", err)
	}
	vmo, release, _ := LookupVmo(f.th, h, object.RightNone)
	defer release()
	if vmo.PhysicalBase() != 0xfe100000 || vmo.Size() != pmm.PageSize {
		t.Errorf("vmo = [%#x, +%#x), want [0xfe100000, +0x1000)", vmo.PhysicalBase(), vmo.Size())
	}
}

// TestFramebufferVmoOutlivesHandle tests that closing the last handle to the
// framebuffer object does not return its pages while the display uses them.
func TestFramebufferVmoOutlivesHandle(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h, err := f.m.VmoCreateContiguous(f.th, f.root, pmm.PageSize, 0)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	fb, release, _ := LookupVmo(f.th, h, object.RightWrite)
	fb.WriteAt([]byte("console"), 0)
	release()

	if err := f.m.SetFramebufferVmo(f.th, f.root, h, pmm.PageSize, display.FormatRGBx888, 32, 32, 32); err != nil {
		t.Fatalf("SetFramebufferVmo() error = %v", err)
	}
	free := f.m.Arena.Stats().Free
	if err := f.th.Handles().Remove(h); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := f.m.Arena.Stats().Free; got != free {
		t.Fatalf("arena free = %d after closing the handle, want %d", got, free)
	}

	other, err := f.m.Spawn("other")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	otherRoot, _ := f.m.GrantRoot(other.Process)
	oh, err := f.m.VmoCreateContiguous(other, otherRoot, pmm.PageSize, 0)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	ovmo, orelease, _ := LookupVmo(other, oh, object.RightWrite)
	defer orelease()
	ovmo.WriteAt([]byte("secret!"), 0)

	shown := f.m.Display.Vmo()
	if ovmo.PhysicalBase() == shown.PhysicalBase() {
		t.Fatalf("new object reuses displayed pages at %#x", shown.PhysicalBase())
	}
	got := make([]byte, 7)
	shown.ReadAt(got, 0)
	if string(got) != "console" {
		t.Errorf("displayed contents = %q, want %q", got, "console")
	}

	// pointing the display elsewhere drops the last reference
	f.m.Display.SetFramebuffer(0xfd000000, pmm.PageSize)
	// one page back from the display, one still held by the other process
	if got := f.m.Arena.Stats().Free; got != free {
		t.Errorf("arena free = %d after replacing the framebuffer, want %d", got, free)
	}
}

// TestValidationPrecedesEffect tests that a denied call creates no handle,
// binds no vector, commits no page and reaches no driver.
func TestValidationPrecedesEffect(t *testing.T) {
	f := newFixture(t, platform.BootInfo{
		Arch:        platform.ArchAMD64,
		Framebuffer: &platform.FramebufferInfo{Base: 0xfd000000},
	})
	// set up targets with the root resource
	irqObj := f.interrupt(t)
	vmoObj, err := f.m.VmoCreateContiguous(f.th, f.root, pmm.PageSize, 0)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	f.th.Process.AddressSpace.Map(0x10000, 0xfd000000, pmm.PageSize)

	// an MMIO grant that covers nothing the calls ask for
	denied := f.grant(t, resource.KindMMIO, 0x1000, 0x1000)

	calls := []struct {
		name string
		call func() error
	}{
		{"interrupt_create", func() error {
			_, err := f.m.InterruptCreate(f.th, denied, 0)
			return err
		}},
		{"interrupt_bind", func() error {
			return f.m.InterruptBind(f.th, irqObj, 0, denied, 33, 0)
		}},
		{"vmo_create_contiguous", func() error {
			_, err := f.m.VmoCreateContiguous(f.th, denied, pmm.PageSize, 0)
			return err
		}},
		{"vmo_create_physical", func() error {
			_, err := f.m.VmoCreatePhysical(f.th, denied, 0xfd000000, pmm.PageSize)
			return err
		}},
		{"set_framebuffer", func() error {
			return f.m.SetFramebuffer(f.th, denied, 0x10000, pmm.PageSize, display.FormatRGBx888, 32, 32, 32)
		}},
		{"set_framebuffer_vmo", func() error {
			return f.m.SetFramebufferVmo(f.th, denied, vmoObj, pmm.PageSize, display.FormatRGBx888, 32, 32, 32)
		}},
		{"mmap_device_io", func() error {
			return f.m.MmapDeviceIo(f.th, denied, 0x3f8, 8)
		}},
		{"acpi_uefi_rsdp", func() error {
			_, err := f.m.AcpiUefiRsdp(f.th, denied)
			return err
		}},
	}

	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			handles := f.th.Handles().Len()
			allocs := f.m.Pages.Allocs()
			ctrl := f.m.Controller.Calls()
			disp := f.m.Display.Calls()

			err := c.call()
			if !errors.Is(err, status.ErrAccessDenied) {
				t.Fatalf("error = %v, want ErrAccessDenied", err)
			}
			if got := f.th.Handles().Len(); got != handles {
				t.Errorf("handles = %d, want %d", got, handles)
			}
			if got := f.m.Pages.Allocs(); got != allocs {
				t.Errorf("Allocs() = %d, want %d", got, allocs)
			}
			if got := f.m.Controller.Calls(); got != ctrl {
				t.Errorf("Controller.Calls() = %d, want %d", got, ctrl)
			}
			if got := f.m.Display.Calls(); got != disp {
				t.Errorf("Display.Calls() = %d, want %d", got, disp)
			}
			if got := f.th.IoBitmap.Count(); got != 0 {
				t.Errorf("IoBitmap.Count() = %d, want 0", got)
			}
		})
	}

	d, release, _ := lookupInterrupt(f.th, irqObj, object.RightNone)
	defer release()
	if st, _, _ := d.SlotState(0); st != interrupt.StateIdle {
		t.Errorf("slot 0 state = %v, want idle", st)
	}
}

// TestRevocation tests that closing a resource handle denies later calls.
func TestRevocation(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	if _, err := f.m.VmoCreateContiguous(f.th, f.root, pmm.PageSize, 0); err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}
	if err := f.th.Handles().Remove(f.root); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := f.m.VmoCreateContiguous(f.th, f.root, pmm.PageSize, 0); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("VmoCreateContiguous() after revoke error = %v, want ErrBadHandle", err)
	}
	if f.m.Pages.Allocs() != 1 {
		t.Errorf("Allocs() = %d, want 1", f.m.Pages.Allocs())
	}
}

// TestCrossProcess tests that handles are not visible to other processes.
func TestCrossProcess(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	h := f.interrupt(t)

	other, err := f.m.Spawn("other")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if err := f.m.InterruptSignal(other, h, 0, 1); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("InterruptSignal() from other process error = %v, want ErrBadHandle", err)
	}
	if _, err := f.m.VmoCreateContiguous(other, f.root, pmm.PageSize, 0); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("VmoCreateContiguous() with foreign root error = %v, want ErrBadHandle", err)
	}
}

func TestBootloaderFbGetInfo(t *testing.T) {
	fb := &platform.FramebufferInfo{Base: 0xfd000000, Format: display.FormatRGBx888, Width: 1024, Height: 768, Stride: 1024}
	tests := []struct {
		name string
		boot platform.BootInfo
		want error
	}{
		{"x86", platform.BootInfo{Arch: platform.ArchAMD64, Framebuffer: fb}, nil},
		{"x86 without fb", platform.BootInfo{Arch: platform.ArchAMD64}, status.ErrInvalidArgs},
		{"x86 zero base", platform.BootInfo{Arch: platform.Arch386, Framebuffer: &platform.FramebufferInfo{}}, status.ErrInvalidArgs},
		{"arm64", platform.BootInfo{Arch: platform.ArchARM64, Framebuffer: fb}, status.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.boot)
			info, err := f.m.BootloaderFbGetInfo(f.th)
			if !errors.Is(err, tt.want) {
				t.Fatalf("BootloaderFbGetInfo() error = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			want := display.Info{Format: fb.Format, Width: fb.Width, Height: fb.Height, Stride: fb.Stride}
			if info != want {
				t.Errorf("BootloaderFbGetInfo() = %+v, want %+v", info, want)
			}
		})
	}
}

func TestSetFramebuffer(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	if err := f.th.Process.AddressSpace.Map(0x20000, 0xfd000000, 0x300000); err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	err := f.m.SetFramebuffer(f.th, f.root, 0x20000, 0x300000, display.FormatRGBx888, 1024, 768, 1024)
	if err != nil {
		t.Fatalf("SetFramebuffer() error = %v", err)
	}
	if p, n := f.m.Display.Framebuffer(); p != 0xfd000000 || n != 0x300000 {
		t.Errorf("Framebuffer() = %#x, %#x", p, n)
	}
	want := display.Info{Format: display.FormatRGBx888, Width: 1024, Height: 768, Stride: 1024, Flags: display.FlagHWFramebuffer}
	if got := f.m.Display.Info(); got != want {
		t.Errorf("Info() = %+v, want %+v", got, want)
	}

	calls := f.m.Display.Calls()
	err = f.m.SetFramebuffer(f.th, f.root, 0x900000, 0x1000, display.FormatRGBx888, 8, 8, 8)
	if !errors.Is(err, ErrUnmappedAddress) {
		t.Errorf("SetFramebuffer() unmapped error = %v, want ErrUnmappedAddress", err)
	}
	if f.m.Display.Calls() != calls {
		t.Error("display reached for an unmapped address")
	}
}

func TestSetFramebufferVmo(t *testing.T) {
	f := newFixture(t, platform.BootInfo{})
	info := display.Info{Format: display.FormatRGBx888, Width: 64, Height: 16, Stride: 64}
	h, err := f.m.VmoCreateContiguous(f.th, f.root, info.Size(), 0)
	if err != nil {
		t.Fatalf("VmoCreateContiguous() error = %v", err)
	}

	err = f.m.SetFramebufferVmo(f.th, f.root, h, uint32(info.Size()), info.Format, info.Width, info.Height, info.Stride)
	if err != nil {
		t.Fatalf("SetFramebufferVmo() error = %v", err)
	}
	vmo, release, _ := LookupVmo(f.th, h, object.RightNone)
	defer release()
	if f.m.Display.Vmo() != vmo {
		t.Error("display not pointed at the vmo")
	}
	if f.m.Display.Info().Flags != display.FlagHWFramebuffer {
		t.Errorf("Flags = %v, want FlagHWFramebuffer", f.m.Display.Info().Flags)
	}

	irq := f.interrupt(t)
	if err := f.m.SetFramebufferVmo(f.th, f.root, irq, 0, 0, 0, 0, 0); !errors.Is(err, status.ErrWrongType) {
		t.Errorf("SetFramebufferVmo(interrupt) error = %v, want ErrWrongType", err)
	}
	if err := f.m.SetFramebufferVmo(f.th, f.root, object.Handle(0x5555), 0, 0, 0, 0, 0); !errors.Is(err, status.ErrBadHandle) {
		t.Errorf("SetFramebufferVmo(bad) error = %v, want ErrBadHandle", err)
	}

	f.m.Display.VmoErr = status.ErrNotSupported
	calls := f.m.Display.Calls()
	if err := f.m.SetFramebufferVmo(f.th, f.root, h, 0, 0, 0, 0, 0); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("SetFramebufferVmo() driver error = %v, want ErrNotSupported", err)
	}
	// no display info after a driver failure
	if f.m.Display.Calls() != calls+1 {
		t.Errorf("Display.Calls() = %d, want %d", f.m.Display.Calls(), calls+1)
	}
}

func TestMmapDeviceIo(t *testing.T) {
	f := newFixture(t, platform.BootInfo{Arch: platform.ArchAMD64})
	ports := f.grant(t, resource.KindIOPort, 0x3f8, 8)

	if err := f.m.MmapDeviceIo(f.th, f.root, 0x60, 1); err != nil {
		t.Fatalf("MmapDeviceIo(root) error = %v", err)
	}
	if err := f.m.MmapDeviceIo(f.th, ports, 0x3f8, 8); err != nil {
		t.Fatalf("MmapDeviceIo(ranged) error = %v", err)
	}
	if !f.th.IoBitmap.Enabled(0x60) || !f.th.IoBitmap.Enabled(0x3ff) {
		t.Error("granted ports not enabled")
	}
	if err := f.m.MmapDeviceIo(f.th, ports, 0x3f8, 9); !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("MmapDeviceIo() past grant error = %v, want ErrAccessDenied", err)
	}
	if f.th.IoBitmap.Enabled(0x400) {
		t.Error("port 0x400 enabled after denied grant")
	}
	if err := f.m.MmapDeviceIo(f.th, f.root, 0xffff, 2); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("MmapDeviceIo() past 0xffff error = %v, want ErrInvalidArgs", err)
	}

	// other threads of the process are unaffected
	other, _ := f.m.Processes.CreateThread(f.th.Process)
	if other.IoBitmap.Enabled(0x60) {
		t.Error("IO bitmap grant leaked to another thread")
	}
}

func TestMmapDeviceIoNotX86(t *testing.T) {
	f := newFixture(t, platform.BootInfo{Arch: platform.ArchARM64})
	if err := f.m.MmapDeviceIo(f.th, f.root, 0x60, 1); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("MmapDeviceIo() error = %v, want ErrNotSupported", err)
	}
	// the architecture check comes before validation
	if err := f.m.MmapDeviceIo(f.th, object.HandleInvalid, 0x60, 1); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("MmapDeviceIo(invalid) error = %v, want ErrNotSupported", err)
	}
}

func TestAcpiUefiRsdp(t *testing.T) {
	tests := []struct {
		arch platform.Arch
		want uint64
	}{
		{platform.ArchAMD64, 0xe0000},
		{platform.ArchARM64, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			f := newFixture(t, platform.BootInfo{Arch: tt.arch, AcpiRsdp: 0xe0000})
			got, err := f.m.AcpiUefiRsdp(f.th, f.root)
			if err != nil || got != tt.want {
				t.Errorf("AcpiUefiRsdp() = %#x, %v, want %#x", got, err, tt.want)
			}
			if _, err := f.m.AcpiUefiRsdp(f.th, object.HandleInvalid); !errors.Is(err, status.ErrBadHandle) {
				t.Errorf("AcpiUefiRsdp(invalid) error = %v, want ErrBadHandle", err)
			}
		})
	}
}

// TestTrace tests that tracing logs entry operations only when enabled.
func TestTrace(t *testing.T) {
	for _, trace := range []bool{false, true} {
		var buf bytes.Buffer
		m, err := NewMachine(platform.Config{RamBase: 0x100000, RamPages: 4, Trace: trace}, log.New(&buf, "", 0))
		if err != nil {
			t.Fatalf("NewMachine() error = %v", err)
		}
		th, _ := m.Spawn("driver")
		root, _ := m.GrantRoot(th.Process)
		m.InterruptCreate(th, root, 0)
		m.Close()

		logged := strings.Contains(buf.String(), "interrupt_create options 0x0")
		if logged != trace {
			t.Errorf("trace=%v logged=%v: %q", trace, logged, buf.String())
		}
	}
}

// TestShortCommitLogged tests that allocation shortfalls are always logged.
func TestShortCommitLogged(t *testing.T) {
	var buf bytes.Buffer
	m, err := NewMachine(platform.Config{RamBase: 0x100000, RamPages: 2}, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	defer m.Close()
	th, _ := m.Spawn("driver")
	root, _ := m.GrantRoot(th.Process)

	if _, err := m.VmoCreateContiguous(th, root, 4*pmm.PageSize, 0); !errors.Is(err, status.ErrNoMemory) {
		t.Fatalf("VmoCreateContiguous() error = %v, want ErrNoMemory", err)
	}
	if !strings.Contains(buf.String(), "failed to allocate enough pages (asked for 4") {
		t.Errorf("log = %q", buf.String())
	}
}
