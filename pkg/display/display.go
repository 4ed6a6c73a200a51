package display

import (
	"errors"
	"fmt"
	"sync"

	"ddk/pkg/pmm"
	"ddk/pkg/status"
	"ddk/pkg/vm"
)

// Pixel formats. The high 16 bits hold the bytes per pixel.
const (
	FormatNone     uint32 = 0
	FormatRGB565   uint32 = 0x00020001
	FormatRGB332   uint32 = 0x00010002
	FormatARGB8888 uint32 = 0x00040004
	FormatRGBx888  uint32 = 0x00040005
)

// BytesPerPixel returns the pixel size encoded in format.
func BytesPerPixel(format uint32) int {
	return int(format >> 16)
}

// Flags describe where a display's memory lives.
type Flags uint32

// FlagHWFramebuffer marks a framebuffer provided by hardware rather than
// allocated by the kernel console.
const FlagHWFramebuffer Flags = 1 << 0

// Info describes the layout of a framebuffer. Stride is in pixels.
type Info struct {
	Format uint32
	Width  uint32
	Height uint32
	Stride uint32
	Flags  Flags
}

// Size returns the number of bytes the layout covers.
func (i Info) Size() uint64 {
	return uint64(i.Stride) * uint64(i.Height) * uint64(BytesPerPixel(i.Format))
}

// Driver is the kernel display console. A driver given a VM object keeps its
// own reference to it until the framebuffer is replaced.
type Driver interface {
	SetFramebuffer(paddr pmm.Paddr, length uint64)
	SetFramebufferVmo(d *vm.Dispatcher) error
	SetDisplayInfo(info Info)
}

// ErrNoVmo is returned when SetFramebufferVmo is given no object.
var ErrNoVmo = errors.New("no framebuffer vmo")

// Udisplay is an in-memory Driver. It records the most recent configuration
// and counts calls.
type Udisplay struct {
	mu     sync.Mutex
	paddr  pmm.Paddr
	length uint64
	vmo    *vm.Dispatcher
	info   Info
	calls  int

	// VmoErr, when set, is returned by SetFramebufferVmo.
	VmoErr error
}

// NewUdisplay creates an unconfigured display.
func NewUdisplay() *Udisplay {
	return &Udisplay{}
}

// SetFramebuffer points the console at a physical range, dropping any
// framebuffer VM object.
func (u *Udisplay) SetFramebuffer(paddr pmm.Paddr, length uint64) {
	u.mu.Lock()
	u.calls++
	u.paddr = paddr
	u.length = length
	old := u.vmo
	u.vmo = nil
	u.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// SetFramebufferVmo points the console at a VM object and takes a reference
// to it. The previous framebuffer object, if any, is released.
func (u *Udisplay) SetFramebufferVmo(d *vm.Dispatcher) error {
	u.mu.Lock()
	u.calls++
	if u.VmoErr != nil {
		u.mu.Unlock()
		return u.VmoErr
	}
	if d == nil {
		u.mu.Unlock()
		return fmt.Errorf("%w: %w", status.ErrInvalidArgs, ErrNoVmo)
	}
	d.AddRef()
	old := u.vmo
	u.vmo = d
	u.paddr = d.VMO().PhysicalBase()
	u.length = d.VMO().Size()
	u.mu.Unlock()

	if old != nil {
		old.Release()
	}
	return nil
}

// Close drops the framebuffer VM object reference.
func (u *Udisplay) Close() {
	u.mu.Lock()
	old := u.vmo
	u.vmo = nil
	u.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// SetDisplayInfo records the framebuffer layout.
func (u *Udisplay) SetDisplayInfo(info Info) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.info = info
}

// Framebuffer returns the current framebuffer range.
func (u *Udisplay) Framebuffer() (pmm.Paddr, uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.paddr, u.length
}

// Vmo returns the framebuffer VM object, or nil if the framebuffer was set by
// address.
func (u *Udisplay) Vmo() *vm.Object {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.vmo == nil {
		return nil
	}
	return u.vmo.VMO()
}

// Info returns the recorded layout.
func (u *Udisplay) Info() Info {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.info
}

// Calls returns the number of driver calls made.
func (u *Udisplay) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}
