/*
Package ddk implements the privileged driver-kit operations of the kernel:
interrupt objects, physical and contiguous VM objects, and the IO, display
and ACPI gate.

Each Kernel method corresponds to one syscall. It receives the calling
*process.Thread explicitly, validates the resource handle, resolves target
handles through the caller's table, and only then touches any object or
collaborator. A failed call leaves no new handle, no bound slot and no
committed memory.

# Resource kinds

	InterruptCreate              root or IRQ
	InterruptBind                root, or IRQ covering the vector
	VmoCreateContiguous          root
	VmoCreatePhysical            root, or MMIO covering the range
	SetFramebuffer(Vmo)          root
	MmapDeviceIo                 root, or IO port covering the range
	AcpiUefiRsdp                 root

# Usage

	m, err := ddk.NewMachine(cfg, logger)
	if err != nil {
		// Handle error
	}
	th, _ := m.Spawn("driver")
	root, _ := m.GrantRoot(th.Process)

	irq, _ := m.InterruptCreate(th, root, 0)
	m.InterruptBind(th, irq, 0, root, 33, 0)
	slots, err := m.InterruptWait(ctx, th, irq)

Errors wrap the status taxonomy; status.Code converts them to syscall codes.
*/
package ddk
