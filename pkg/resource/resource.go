// Package resource implements capability resources, the objects that grant
// privileged access to interrupt vectors, physical memory and IO ports, and
// the validator every privileged operation calls before acting.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"ddk/pkg/object"
	"ddk/pkg/status"
)

// Kind is the class of privilege a resource grants.
type Kind uint32

const (
	// KindRoot authorizes every operation.
	KindRoot Kind = iota
	// KindMMIO covers a physical address range.
	KindMMIO
	// KindIRQ covers a range of interrupt vectors.
	KindIRQ
	// KindIOPort covers a range of x86 IO ports.
	KindIOPort
	// KindSMC covers a range of secure monitor call numbers.
	KindSMC
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindMMIO:
		return "mmio"
	case KindIRQ:
		return "irq"
	case KindIOPort:
		return "ioport"
	case KindSMC:
		return "smc"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Flags modify a ranged resource.
type Flags uint32

const (
	// FlagExclusive claims the range so no other resource may use it.
	FlagExclusive Flags = 1 << iota
)

// Resource errors.
var (
	ErrUnknownKind = fmt.Errorf("%w: unknown resource kind", status.ErrInvalidArgs)
	ErrWrongKind   = errors.New("resource kind mismatch")
	ErrExclusive   = errors.New("range is exclusively claimed")
	ErrRootRange   = fmt.Errorf("%w: root resources have no range", status.ErrInvalidArgs)
)

// Dispatcher is a resource object. Its kind and range are fixed at creation.
type Dispatcher struct {
	object.Base

	kind  Kind
	base  uint64
	size  uint64
	flags Flags

	registry *Registry
}

// Type returns object.TypeResource.
func (r *Dispatcher) Type() object.ObjectType {
	return object.TypeResource
}

// Kind returns the resource kind.
func (r *Dispatcher) Kind() Kind {
	return r.kind
}

// Range returns the covered [base, base+size). Root resources return zeros.
func (r *Dispatcher) Range() (base, size uint64) {
	return r.base, r.size
}

// Flags returns the resource flags.
func (r *Dispatcher) Flags() Flags {
	return r.flags
}

// Contains reports whether [base, base+size) lies inside the resource range.
// Overflowing requests are never contained.
func (r *Dispatcher) Contains(base, size uint64) bool {
	end := base + size
	if end < base {
		return false
	}
	return r.base <= base && end <= r.base+r.size
}

type claim struct {
	kind  Kind
	base  uint64
	size  uint64
	owner uint64
}

func (c claim) overlaps(kind Kind, base, size uint64) bool {
	return c.kind == kind && base < c.base+c.size && c.base < base+size
}

// Registry creates resources on behalf of the boot path and tracks exclusive
// range claims. It lives as long as the kernel.
type Registry struct {
	mu     sync.Mutex
	claims []claim
}

// NewRegistry creates a registry with no claims.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewRoot creates a root resource. The caller owns the returned reference.
func (reg *Registry) NewRoot() *Dispatcher {
	r := &Dispatcher{kind: KindRoot, registry: reg}
	r.Init(nil)
	return r
}

// NewRanged creates a resource covering [base, base+size) of kind.
// An exclusive resource fails with ErrExclusive if any other exclusive
// resource of the same kind overlaps it.
func (reg *Registry) NewRanged(kind Kind, base, size uint64, flags Flags) (*Dispatcher, error) {
	switch kind {
	case KindRoot:
		return nil, ErrRootRange
	case KindMMIO, KindIRQ, KindIOPort, KindSMC:
	default:
		return nil, ErrUnknownKind
	}
	if size == 0 || base+size < base {
		return nil, status.ErrInvalidArgs
	}

	r := &Dispatcher{kind: kind, base: base, size: size, flags: flags, registry: reg}

	if flags&FlagExclusive != 0 {
		reg.mu.Lock()
		for _, c := range reg.claims {
			if c.overlaps(kind, base, size) {
				reg.mu.Unlock()
				return nil, fmt.Errorf("%w: %w", status.ErrAccessDenied, ErrExclusive)
			}
		}
		r.Init(r.releaseClaim)
		reg.claims = append(reg.claims, claim{kind: kind, base: base, size: size, owner: r.KOID()})
		reg.mu.Unlock()
		return r, nil
	}

	r.Init(nil)
	return r, nil
}

func (r *Dispatcher) releaseClaim() {
	reg := r.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i, c := range reg.claims {
		if c.owner == r.KOID() {
			reg.claims = append(reg.claims[:i], reg.claims[i+1:]...)
			return
		}
	}
}

// claimedByOther reports whether [base, base+size) of kind reaches into an
// exclusive claim not owned by koid.
func (reg *Registry) claimedByOther(kind Kind, base, size, koid uint64) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, c := range reg.claims {
		if c.owner != koid && c.overlaps(kind, base, size) {
			return true
		}
	}
	return false
}

// Claims returns the number of live exclusive claims.
func (reg *Registry) Claims() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.claims)
}
