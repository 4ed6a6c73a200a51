// Package pmm manages physical page allocations.
package pmm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ddk/pkg/status"
)

const (
	// PageShift is log2 of the page size.
	PageShift = 12
	// PageSize is the allocation granule.
	PageSize = 1 << PageShift
)

// Paddr is a physical address.
type Paddr uint64

// After returns the address size bytes past p.
func (p Paddr) After(size uint64) Paddr {
	return Paddr(uint64(p) + size)
}

// RoundUpPage rounds size up to a whole number of pages. Sizes that would
// overflow return zero.
func RoundUpPage(size uint64) uint64 {
	r := (size + PageSize - 1) &^ (PageSize - 1)
	if r < size {
		return 0
	}
	return r
}

// Allocator hands out physically contiguous runs of pages.
type Allocator interface {
	// AllocContiguous returns count pages, each PageSize after the previous,
	// the first aligned to 1<<alignLog2. It allocates all or nothing.
	AllocContiguous(count int, alignLog2 uint8) ([]Paddr, error)
	// Free returns pages obtained from AllocContiguous.
	Free(pages []Paddr)
}

// Allocation errors.
var (
	ErrBadAlignment = fmt.Errorf("%w: alignment below page size", status.ErrInvalidArgs)
	ErrNoContiguous = fmt.Errorf("%w: no contiguous run available", status.ErrNoMemory)
	ErrNotAllocated = errors.New("page not allocated")
)

// Arena is a first-fit allocator over [Base, Base+pages*PageSize). The bytes
// of every page are backed by host memory so page contents can be read and
// written.
type Arena struct {
	base  Paddr
	pages int

	mu   sync.Mutex
	used []uint64
	free int
	mem  []byte
}

// NewArena creates an arena of pages pages starting at the page-aligned base.
func NewArena(base Paddr, pages int) (*Arena, error) {
	if pages <= 0 || uint64(base)%PageSize != 0 {
		return nil, status.ErrInvalidArgs
	}
	mem, err := mapMemory(pages * PageSize)
	if err != nil {
		return nil, fmt.Errorf("pmm: map arena memory: %w", err)
	}
	return &Arena{
		base:  base,
		pages: pages,
		used:  make([]uint64, (pages+63)/64),
		free:  pages,
		mem:   mem,
	}, nil
}

// Close releases the backing memory. The arena must not be used afterwards.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem := a.mem
	a.mem = nil
	return unmapMemory(mem)
}

func (a *Arena) isUsed(i int) bool {
	return a.used[i/64]&(1<<(i%64)) != 0
}

func (a *Arena) setUsed(i int, used bool) {
	if used {
		a.used[i/64] |= 1 << (i % 64)
	} else {
		a.used[i/64] &^= 1 << (i % 64)
	}
}

// AllocContiguous implements Allocator.
func (a *Arena) AllocContiguous(count int, alignLog2 uint8) ([]Paddr, error) {
	if count <= 0 {
		return nil, status.ErrInvalidArgs
	}
	if alignLog2 < PageShift || alignLog2 >= 64 {
		return nil, ErrBadAlignment
	}
	align := uint64(1) << alignLog2

	a.mu.Lock()
	defer a.mu.Unlock()

	if count > a.free {
		return nil, ErrNoContiguous
	}

	// First aligned address at or above base.
	first := uint64(a.base)
	if rem := first % align; rem != 0 {
		first += align - rem
		if first < uint64(a.base) {
			return nil, ErrNoContiguous
		}
	}
	for addr := first; addr >= first; addr += align {
		start := (addr - uint64(a.base)) / PageSize
		if start+uint64(count) > uint64(a.pages) {
			break
		}
		ok := true
		for i := 0; i < count; i++ {
			if a.isUsed(int(start) + i) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		pages := make([]Paddr, count)
		for i := 0; i < count; i++ {
			a.setUsed(int(start)+i, true)
			pages[i] = a.base.After((start + uint64(i)) * PageSize)
		}
		a.free -= count
		return pages, nil
	}
	return nil, ErrNoContiguous
}

// Free implements Allocator. Pages outside the arena or not allocated are
// ignored.
func (a *Arena) Free(pages []Paddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range pages {
		i, ok := a.index(p)
		if !ok || !a.isUsed(i) {
			continue
		}
		a.setUsed(i, false)
		a.free++
		if a.mem != nil {
			clear(a.mem[i*PageSize : (i+1)*PageSize])
		}
	}
}

func (a *Arena) index(p Paddr) (int, bool) {
	if p < a.base || uint64(p)%PageSize != 0 {
		return 0, false
	}
	i := (uint64(p) - uint64(a.base)) / PageSize
	if i >= uint64(a.pages) {
		return 0, false
	}
	return int(i), true
}

// Bytes returns the host memory backing [p, p+n). The range must lie within
// allocated pages of the arena.
func (a *Arena) Bytes(p Paddr, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 {
		return nil, status.ErrInvalidArgs
	}
	off := uint64(p) - uint64(a.base)
	if p < a.base || off+uint64(n) > uint64(len(a.mem)) {
		return nil, status.ErrOutOfRange
	}
	for i := off / PageSize; i*PageSize < off+uint64(n); i++ {
		if !a.isUsed(int(i)) {
			return nil, ErrNotAllocated
		}
	}
	return a.mem[off : off+uint64(n)], nil
}

// Stats describes arena occupancy.
type Stats struct {
	Base  Paddr
	Total int
	Free  int
}

// Stats returns current occupancy.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Base: a.base, Total: a.pages, Free: a.free}
}

// Counting wraps an Allocator and counts calls. It lets callers prove that
// an operation never touched the allocator.
type Counting struct {
	Allocator
	allocs atomic.Int64
	frees  atomic.Int64
}

// AllocContiguous counts and forwards the call.
func (c *Counting) AllocContiguous(count int, alignLog2 uint8) ([]Paddr, error) {
	c.allocs.Add(1)
	return c.Allocator.AllocContiguous(count, alignLog2)
}

// Free counts and forwards the call.
func (c *Counting) Free(pages []Paddr) {
	c.frees.Add(1)
	c.Allocator.Free(pages)
}

// Allocs returns the number of AllocContiguous calls.
func (c *Counting) Allocs() int64 {
	return c.allocs.Load()
}

// Frees returns the number of Free calls.
func (c *Counting) Frees() int64 {
	return c.frees.Load()
}
