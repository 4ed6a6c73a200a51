package process

import (
	"fmt"
	"sort"
	"sync"

	"ddk/pkg/pmm"
	"ddk/pkg/status"
)

// Address space errors.
var (
	ErrMapAlignment = fmt.Errorf("%w: mapping not page aligned", status.ErrInvalidArgs)
	ErrMapOverlap   = fmt.Errorf("%w: mapping overlaps an existing region", status.ErrInvalidArgs)
	ErrNotMapped    = fmt.Errorf("%w: no mapping at address", status.ErrNotFound)
)

// Region is a contiguous virtual-to-physical mapping.
type Region struct {
	Base uint64
	Size uint64
	Phys pmm.Paddr
}

func (r Region) contains(vaddr uint64) bool {
	return vaddr >= r.Base && vaddr-r.Base < r.Size
}

// AddressSpace is a process's set of virtual mappings. It satisfies
// platform.Translator.
type AddressSpace struct {
	mu      sync.RWMutex
	regions []Region
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{}
}

// Map maps [vaddr, vaddr+size) to physical memory starting at paddr.
func (a *AddressSpace) Map(vaddr uint64, paddr pmm.Paddr, size uint64) error {
	if size == 0 || vaddr%pmm.PageSize != 0 || uint64(paddr)%pmm.PageSize != 0 {
		return ErrMapAlignment
	}
	size = pmm.RoundUpPage(size)
	if size == 0 || vaddr+size < vaddr {
		return fmt.Errorf("%w: size", status.ErrOutOfRange)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		if vaddr < r.Base+r.Size && r.Base < vaddr+size {
			return fmt.Errorf("%w: [%#x, %#x)", ErrMapOverlap, r.Base, r.Base+r.Size)
		}
	}
	a.regions = append(a.regions, Region{Base: vaddr, Size: size, Phys: paddr})
	sort.Slice(a.regions, func(i, j int) bool { return a.regions[i].Base < a.regions[j].Base })
	return nil
}

// Unmap removes the region starting at vaddr.
func (a *AddressSpace) Unmap(vaddr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.regions {
		if r.Base == vaddr {
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %#x", ErrNotMapped, vaddr)
}

// VirtToPhys translates vaddr. It reports false for unmapped addresses.
func (a *AddressSpace) VirtToPhys(vaddr uint64) (pmm.Paddr, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.regions {
		if r.contains(vaddr) {
			return r.Phys.After(vaddr - r.Base), true
		}
	}
	return 0, false
}

// Regions returns the mappings in address order.
func (a *AddressSpace) Regions() []Region {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Region(nil), a.regions...)
}
