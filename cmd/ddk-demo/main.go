// ddk-demo boots a simulated kernel and drives a device driver scenario
// through the privileged driver-kit syscalls: interrupts, contiguous and
// physical VM objects, the framebuffer, IO ports and the ACPI pointer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fogleman/gg"

	flags "ddk/cmd/utils"
	"ddk/pkg/ddk"
	"ddk/pkg/display"
	"ddk/pkg/object"
	"ddk/pkg/platform"
	"ddk/pkg/pmm"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/status"
)

func main() {
	cfg, err := platform.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fs := flag.NewFlagSet("ddk-demo", flag.ExitOnError)
	arch := fs.String("arch", string(cfg.Boot.Arch), "target architecture (amd64, 386, arm64)")
	pages := fs.Int("pages", cfg.RamPages, "pages of simulated RAM")
	trace := fs.Bool("trace", cfg.Trace, "log every syscall")
	width := fs.Uint("width", 640, "framebuffer width when the bootloader provides none")
	height := fs.Uint("height", 480, "framebuffer height when the bootloader provides none")
	vector := fs.Uint("vector", 33, "interrupt vector to bind")
	pngPath := fs.String("png", "", "also write the test pattern to this PNG file")
	rsdp := flags.Uint64(cfg.Boot.AcpiRsdp)
	fs.Var(&rsdp, "rsdp", "ACPI root pointer reported by the bootloader")
	if _, err := flags.ParseFlags(fs, os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	cfg.Boot.Arch = platform.Arch(*arch)
	cfg.Boot.AcpiRsdp = uint64(rsdp)
	cfg.RamPages = *pages
	cfg.Trace = *trace

	fmt.Println("=== DDK Syscall Demo ===")
	fmt.Printf("arch=%s ram=%#x+%d pages trace=%v\n", cfg.Boot.Arch, cfg.RamBase, cfg.RamPages, cfg.Trace)

	m, err := ddk.NewMachine(cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to boot machine: %v", err)
	}
	defer m.Close()

	th, err := m.Spawn("demo-driver")
	if err != nil {
		log.Fatalf("Failed to spawn driver: %v", err)
	}
	root, err := m.GrantRoot(th.Process)
	if err != nil {
		log.Fatalf("Failed to grant root resource: %v", err)
	}
	fmt.Printf("Driver PID=%d TID=%d root=%#x\n", th.Process.PID, th.TID, root)

	fmt.Println("\n--- Interrupts ---")
	demoInterrupts(m, th, root, uint32(*vector))

	fmt.Println("\n--- Framebuffer ---")
	info := display.Info{
		Format: display.FormatRGBx888,
		Width:  uint32(*width),
		Height: uint32(*height),
		Stride: uint32(*width),
	}
	if boot, err := m.BootloaderFbGetInfo(th); err == nil {
		fmt.Printf("Bootloader framebuffer: %dx%d stride %d format %#x\n", boot.Width, boot.Height, boot.Stride, boot.Format)
		info = boot
	} else {
		fmt.Printf("bootloader_fb_get_info: %v (%s)\n", err, status.Code(err))
	}
	demoFramebuffer(m, th, root, info, *pngPath)

	fmt.Println("\n--- Device memory and ports ---")
	if h, err := m.VmoCreatePhysical(th, root, 0xfe000000, 0x4000); err != nil {
		fmt.Printf("vmo_create_physical: %s\n", status.Code(err))
	} else {
		fmt.Printf("MMIO window %#x+%#x -> handle %#x (allocs %d)\n", 0xfe000000, 0x4000, h, m.Pages.Allocs())
	}
	if err := m.MmapDeviceIo(th, root, 0x3f8, 8); err != nil {
		fmt.Printf("mmap_device_io: %v (%s)\n", err, status.Code(err))
	} else {
		fmt.Printf("COM1 ports enabled: %d\n", th.IoBitmap.Count())
	}
	addr, err := m.AcpiUefiRsdp(th, root)
	if err != nil {
		log.Fatalf("acpi_uefi_rsdp: %v", err)
	}
	fmt.Printf("ACPI RSDP: %#x\n", addr)

	fmt.Println("\n--- Permission checks ---")
	demoDenied(m, th)

	fmt.Println("\n--- Handle table ---")
	fmt.Print(th.Handles().Dump())

	fmt.Println("\n--- Exit ---")
	before := m.Arena.Stats()
	if err := m.Processes.Exit(th.Process.PID, 0); err != nil {
		log.Fatalf("Failed to exit driver: %v", err)
	}
	after := m.Arena.Stats()
	fmt.Printf("Handles after exit: %d, free pages %d -> %d\n", th.Handles().Len(), before.Free, after.Free)
	fmt.Println("\n=== Demo Complete ===")
}

func demoInterrupts(m *ddk.Machine, th *process.Thread, root object.Handle, vector uint32) {
	irq, err := m.InterruptCreate(th, root, 0)
	if err != nil {
		log.Fatalf("interrupt_create: %v", err)
	}
	if err := m.InterruptBind(th, irq, 0, root, vector, 0); err != nil {
		log.Fatalf("interrupt_bind: %v", err)
	}
	fmt.Printf("Bound vector %d to slot 0 of %#x\n", vector, irq)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		slot, ts, err := m.InterruptWaitWithTimestamp(ctx, th, irq)
		if err != nil {
			log.Printf("interrupt_wait_with_timestamp: %v", err)
			return
		}
		fmt.Printf("Hardware interrupt on slot %d at %dns\n", slot, ts)
	}()
	// give the waiter a chance to block; a fire before it does is still
	// delivered because the slot stays signaled
	time.Sleep(10 * time.Millisecond)
	m.Controller.Fire(vector)
	<-done

	if err := m.InterruptSignal(th, irq, 0, 123456789); err != nil {
		log.Fatalf("interrupt_signal: %v", err)
	}
	slots, err := m.InterruptWait(ctx, th, irq)
	if err != nil {
		log.Fatalf("interrupt_wait: %v", err)
	}
	fmt.Printf("User signal delivered, slots=%#x\n", slots)

	if err := m.InterruptUnbind(th, irq, 0); err != nil {
		log.Fatalf("interrupt_unbind: %v", err)
	}
	if err := m.InterruptSignal(th, irq, 0, 0); err != nil {
		fmt.Printf("Signal after unbind: %s\n", status.Code(err))
	}
}

func demoFramebuffer(m *ddk.Machine, th *process.Thread, root object.Handle, info display.Info, pngPath string) {
	h, err := m.VmoCreateContiguous(th, root, info.Size(), 0)
	if err != nil {
		log.Fatalf("vmo_create_contiguous: %v", err)
	}
	vmo, release, err := ddk.LookupVmo(th, h, object.RightWrite)
	if err != nil {
		log.Fatalf("lookup vmo: %v", err)
	}
	defer release()
	fmt.Printf("Framebuffer VMO %#x: %d pages at %#x\n", h, vmo.CommittedPages(), vmo.PhysicalBase())

	if err := display.RenderTestPattern(vmo, info); err != nil {
		log.Fatalf("Failed to render test pattern: %v", err)
	}
	if err := m.SetFramebufferVmo(th, root, h, uint32(info.Size()), info.Format, info.Width, info.Height, info.Stride); err != nil {
		log.Fatalf("set_framebuffer_vmo: %v", err)
	}
	fmt.Printf("Display: %+v\n", m.Display.Info())

	// map the same pages into the driver and hand the display a pointer
	const vaddr = 0x40000000
	if err := th.Process.AddressSpace.Map(vaddr, vmo.PhysicalBase(), vmo.Size()); err != nil {
		log.Fatalf("Failed to map framebuffer: %v", err)
	}
	if err := m.SetFramebuffer(th, root, vaddr, uint32(info.Size()), info.Format, info.Width, info.Height, info.Stride); err != nil {
		log.Fatalf("set_framebuffer: %v", err)
	}
	paddr, n := m.Display.Framebuffer()
	fmt.Printf("Display framebuffer by pointer: %#x+%#x\n", paddr, n)

	if pngPath != "" {
		if err := gg.SavePNG(pngPath, display.Pattern(int(info.Width), int(info.Height))); err != nil {
			log.Fatalf("Failed to write %s: %v", pngPath, err)
		}
		fmt.Printf("Test pattern written to %s\n", pngPath)
	}
}

func demoDenied(m *ddk.Machine, th *process.Thread) {
	mmio, err := m.GrantRange(th.Process, resource.KindMMIO, 0xfe000000, 0x1000, 0)
	if err != nil {
		log.Fatalf("Failed to grant MMIO range: %v", err)
	}
	allocs := m.Pages.Allocs()

	_, err = m.VmoCreateContiguous(th, mmio, pmm.PageSize, 0)
	fmt.Printf("vmo_create_contiguous with MMIO grant: %s\n", status.Code(err))
	_, err = m.VmoCreatePhysical(th, mmio, 0xfe001000, pmm.PageSize)
	fmt.Printf("vmo_create_physical outside grant: %s\n", status.Code(err))
	_, err = m.VmoCreatePhysical(th, mmio, 0xfe000000, pmm.PageSize)
	fmt.Printf("vmo_create_physical inside grant: %s\n", status.Code(err))
	fmt.Printf("Pages allocated by denied calls: %d\n", m.Pages.Allocs()-allocs)
}
