package ddk

import (
	"fmt"

	"ddk/pkg/display"
	"ddk/pkg/object"
	"ddk/pkg/platform"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/status"
	"ddk/pkg/vm"
)

// IO and display gate errors.
var (
	ErrNoBootFramebuffer = fmt.Errorf("%w: no boot framebuffer", status.ErrInvalidArgs)
	ErrNotX86            = fmt.Errorf("%w: requires x86", status.ErrNotSupported)
	ErrUnmappedAddress   = fmt.Errorf("%w: address not mapped", status.ErrInvalidArgs)
)

// BootloaderFbGetInfo returns the layout of the framebuffer the bootloader
// configured. It is only available on x86.
func (k *Kernel) BootloaderFbGetInfo(th *process.Thread) (display.Info, error) {
	k.tracef("bootloader_fb_get_info")

	if !k.boot.Arch.IsX86() {
		return display.Info{}, ErrNotX86
	}
	fb := k.boot.Framebuffer
	if fb == nil || fb.Base == 0 {
		return display.Info{}, ErrNoBootFramebuffer
	}
	return display.Info{
		Format: fb.Format,
		Width:  fb.Width,
		Height: fb.Height,
		Stride: fb.Stride,
	}, nil
}

func hwInfo(format, width, height, stride uint32) display.Info {
	return display.Info{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Flags:  display.FlagHWFramebuffer,
	}
}

// SetFramebuffer points the display at the physical memory behind the
// caller's vaddr. hrsrc must be a root resource.
func (k *Kernel) SetFramebuffer(th *process.Thread, hrsrc object.Handle, vaddr uint64, length, format, width, height, stride uint32) error {
	k.tracef("set_framebuffer vaddr %#x len %#x", vaddr, length)

	if err := k.validator.Validate(th.Handles(), hrsrc, resource.KindRoot); err != nil {
		return err
	}

	var tr platform.Translator = th.Process.AddressSpace
	paddr, ok := tr.VirtToPhys(vaddr)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnmappedAddress, vaddr)
	}
	k.display.SetFramebuffer(paddr, uint64(length))
	k.display.SetDisplayInfo(hwInfo(format, width, height, stride))
	return nil
}

// SetFramebufferVmo points the display at a VM object. hrsrc must be a root
// resource.
func (k *Kernel) SetFramebufferVmo(th *process.Thread, hrsrc, vmoHandle object.Handle, length, format, width, height, stride uint32) error {
	k.tracef("set_framebuffer_vmo handle %#x len %#x", vmoHandle, length)

	if err := k.validator.Validate(th.Handles(), hrsrc, resource.KindRoot); err != nil {
		return err
	}

	d, release, err := object.Lookup[*vm.Dispatcher](th.Handles(), vmoHandle, object.TypeVmObject, object.RightNone)
	defer release()
	if err != nil {
		return err
	}
	if err := k.display.SetFramebufferVmo(d); err != nil {
		return err
	}
	k.display.SetDisplayInfo(hwInfo(format, width, height, stride))
	return nil
}

// MmapDeviceIo enables [ioAddr, ioAddr+length) in the calling thread's IO
// bitmap. hrsrc must be a root resource or an IO port resource covering the
// range. Non-x86 platforms have no IO ports.
func (k *Kernel) MmapDeviceIo(th *process.Thread, hrsrc object.Handle, ioAddr, length uint32) error {
	if !k.boot.Arch.IsX86() {
		return ErrNotX86
	}
	if err := k.validator.ValidateRange(th.Handles(), hrsrc, resource.KindIOPort, uint64(ioAddr), uint64(length)); err != nil {
		return err
	}

	k.tracef("mmap_device_io addr %#x len %#x", ioAddr, length)
	return th.IoBitmap.Set(ioAddr, length, true)
}

// AcpiUefiRsdp returns the physical address of the ACPI root pointer, or zero
// where the platform does not provide one. hrsrc must be a root resource.
func (k *Kernel) AcpiUefiRsdp(th *process.Thread, hrsrc object.Handle) (uint64, error) {
	k.tracef("acpi_uefi_rsdp")

	if err := k.validator.Validate(th.Handles(), hrsrc, resource.KindRoot); err != nil {
		return 0, err
	}
	if !k.boot.Arch.IsX86() {
		return 0, nil
	}
	return k.boot.AcpiRsdp, nil
}
