package vm

import (
	"fmt"
	"log"

	"ddk/pkg/pmm"
	"ddk/pkg/status"
)

// Manager creates physical-memory VM objects.
type Manager struct {
	pages  pmm.Allocator
	mem    Memory
	logger *log.Logger
}

// NewManager creates a manager allocating from pages. mem may be nil, in
// which case contiguous objects cannot be read or written.
func NewManager(pages pmm.Allocator, mem Memory, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{pages: pages, mem: mem, logger: logger}
}

// ContiguousArgs checks the arguments of a contiguous allocation and returns
// the size rounded up to whole pages and the effective alignment. An
// alignLog2 of zero means page alignment.
func ContiguousArgs(size uint64, alignLog2 uint32) (uint64, uint32, error) {
	if size == 0 {
		return 0, 0, ErrZeroSize
	}
	if alignLog2 == 0 {
		alignLog2 = pmm.PageShift
	}
	if alignLog2 < pmm.PageShift || alignLog2 >= 64 {
		return 0, 0, fmt.Errorf("%w: log2 %d", ErrAlignment, alignLog2)
	}
	rounded := pmm.RoundUpPage(size)
	if rounded == 0 {
		return 0, 0, ErrSizeOverflow
	}
	return rounded, alignLog2, nil
}

// PhysicalRange checks a physical range and returns its size rounded up to
// whole pages. The object created over it covers exactly [base, base+size).
func PhysicalRange(base pmm.Paddr, size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrZeroSize
	}
	if uint64(base)%pmm.PageSize != 0 {
		return 0, fmt.Errorf("%w: base %#x", ErrAlignment, base)
	}
	rounded := pmm.RoundUpPage(size)
	if rounded == 0 || uint64(base)+rounded < uint64(base) {
		return 0, ErrSizeOverflow
	}
	return rounded, nil
}

// CreateContiguous allocates size bytes, rounded up to whole pages, of
// physically contiguous memory aligned to 1<<alignLog2 and commits every
// page before returning. An alignLog2 of zero means page alignment.
func (m *Manager) CreateContiguous(size uint64, alignLog2 uint32) (*Object, error) {
	size, alignLog2, err := ContiguousArgs(size, alignLog2)
	if err != nil {
		return nil, err
	}

	want := int(size / pmm.PageSize)
	pages, err := m.pages.AllocContiguous(want, uint8(alignLog2))
	if err != nil || len(pages) < want {
		m.logger.Printf("vm: failed to allocate enough pages (asked for %d, got %d)", want, len(pages))
		if len(pages) > 0 {
			m.pages.Free(pages)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", status.ErrNoMemory, err)
		}
		return nil, status.ErrNoMemory
	}

	return &Object{
		backing: BackingContiguous,
		size:    size,
		base:    pages[0],
		pages:   pages,
		alloc:   m.pages,
		mem:     m.mem,
	}, nil
}

// CreatePhysical wraps [base, base+size) without allocating or taking
// ownership. Nothing checks whether the range is RAM already in use, and two
// objects may alias the same range. Callers must have validated the grant.
func (m *Manager) CreatePhysical(base pmm.Paddr, size uint64) (*Object, error) {
	size, err := PhysicalRange(base, size)
	if err != nil {
		return nil, err
	}
	return &Object{
		backing: BackingPhysical,
		size:    size,
		base:    base,
	}, nil
}
