package ddk

import (
	"ddk/pkg/object"
	"ddk/pkg/pmm"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/vm"
)

// VmoCreateContiguous creates a VM object of size bytes, rounded up to whole
// pages, backed by physically contiguous pages aligned to 1<<alignLog2. Every
// page is committed before the handle is returned. An alignLog2 of zero means
// page alignment. hrsrc must be a root resource.
func (k *Kernel) VmoCreateContiguous(th *process.Thread, hrsrc object.Handle, size uint64, alignLog2 uint32) (object.Handle, error) {
	k.tracef("vmo_create_contiguous size %#x align %d", size, alignLog2)

	if _, _, err := vm.ContiguousArgs(size, alignLog2); err != nil {
		return object.HandleInvalid, err
	}
	if err := k.validator.Validate(th.Handles(), hrsrc, resource.KindRoot); err != nil {
		return object.HandleInvalid, err
	}

	vmo, err := k.vms.CreateContiguous(size, alignLog2)
	if err != nil {
		return object.HandleInvalid, err
	}
	d, rights := vm.NewDispatcher(vmo)
	return install(th, d, rights)
}

// VmoCreatePhysical creates a VM object over [paddr, paddr+size) without
// allocating. size is rounded up to whole pages, and hrsrc must be a root
// resource or an MMIO resource covering the rounded range. The range is not
// checked against memory in use.
func (k *Kernel) VmoCreatePhysical(th *process.Thread, hrsrc object.Handle, paddr pmm.Paddr, size uint64) (object.Handle, error) {
	k.tracef("vmo_create_physical paddr %#x size %#x", paddr, size)

	size, err := vm.PhysicalRange(paddr, size)
	if err != nil {
		return object.HandleInvalid, err
	}
	if err := k.validator.ValidateRange(th.Handles(), hrsrc, resource.KindMMIO, uint64(paddr), size); err != nil {
		return object.HandleInvalid, err
	}

	vmo, err := k.vms.CreatePhysical(paddr, size)
	if err != nil {
		return object.HandleInvalid, err
	}
	d, rights := vm.NewDispatcher(vmo)
	return install(th, d, rights)
}

// LookupVmo resolves h to a VM object. The caller must call release.
func LookupVmo(th *process.Thread, h object.Handle, rights object.Rights) (*vm.Object, func(), error) {
	d, release, err := object.Lookup[*vm.Dispatcher](th.Handles(), h, object.TypeVmObject, rights)
	if err != nil {
		return nil, release, err
	}
	return d.VMO(), release, nil
}
