// Package platform describes the machine the kernel booted on: the
// architecture, the boot-provided display and ACPI pointer, and the per-thread
// IO permission bitmap.
package platform

import (
	"fmt"
	"sync"

	"ddk/pkg/pmm"
	"ddk/pkg/status"
)

// Arch is a target architecture name, as in runtime.GOARCH.
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	Arch386   Arch = "386"
	ArchARM64 Arch = "arm64"
)

// IsX86 reports whether the architecture has x86 IO ports.
func (a Arch) IsX86() bool {
	return a == ArchAMD64 || a == Arch386
}

// FramebufferInfo is the display the bootloader left configured.
type FramebufferInfo struct {
	Base   pmm.Paddr
	Format uint32
	Width  uint32
	Height uint32
	Stride uint32
}

// BootInfo is the platform descriptor handed over by the bootloader.
type BootInfo struct {
	Arch Arch
	// Framebuffer is nil when the bootloader did not set up a display.
	Framebuffer *FramebufferInfo
	// AcpiRsdp is the physical address of the ACPI root pointer, or zero.
	AcpiRsdp uint64
}

// Translator resolves a caller virtual address to a physical address.
type Translator interface {
	VirtToPhys(vaddr uint64) (pmm.Paddr, bool)
}

// IoPortCount is the size of the x86 IO port space.
const IoPortCount = 1 << 16

// ErrPortRange is returned for port ranges past the end of the IO space.
var ErrPortRange = fmt.Errorf("%w: io port range", status.ErrInvalidArgs)

// IoBitmap is a thread's IO permission bitmap. A set bit enables the port.
type IoBitmap struct {
	mu   sync.Mutex
	bits []uint64
}

// Set enables or disables [base, base+length).
func (b *IoBitmap) Set(base, length uint32, enable bool) error {
	end := uint64(base) + uint64(length)
	if end > IoPortCount {
		return fmt.Errorf("%w: [%#x, %#x)", ErrPortRange, base, end)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bits == nil {
		b.bits = make([]uint64, IoPortCount/64)
	}
	for p := uint64(base); p < end; p++ {
		if enable {
			b.bits[p/64] |= 1 << (p % 64)
		} else {
			b.bits[p/64] &^= 1 << (p % 64)
		}
	}
	return nil
}

// Enabled reports whether port is enabled.
func (b *IoBitmap) Enabled(port uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bits == nil {
		return false
	}
	return b.bits[port/64]&(1<<(port%64)) != 0
}

// Count returns the number of enabled ports.
func (b *IoBitmap) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, w := range b.bits {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}
