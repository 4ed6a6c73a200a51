package ddk

import (
	"fmt"
	"log"

	"ddk/pkg/display"
	"ddk/pkg/interrupt"
	"ddk/pkg/object"
	"ddk/pkg/platform"
	"ddk/pkg/pmm"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/vm"
)

// Config wires a Kernel to its collaborators.
type Config struct {
	// Registry tracks exclusive resource claims. A new one is created if nil.
	Registry *resource.Registry
	// Controller receives vector registrations from interrupt binds.
	Controller interrupt.Controller
	// Clock timestamps hardware interrupts. Defaults to the monotonic clock.
	Clock interrupt.Clock
	// Pages backs contiguous VM objects.
	Pages pmm.Allocator
	// Memory gives access to allocated pages. May be nil.
	Memory vm.Memory
	// Display receives framebuffer configuration.
	Display display.Driver
	// Boot is the platform descriptor.
	Boot platform.BootInfo
	// Logger defaults to log.Default().
	Logger *log.Logger
	// Trace logs every entry operation.
	Trace bool
}

// Kernel implements the privileged driver-kit entry operations. Every method
// takes the calling thread explicitly and resolves handles through its
// process's table. Resource validation always runs before any effect.
type Kernel struct {
	registry  *resource.Registry
	validator *resource.Validator
	ctrl      interrupt.Controller
	clock     interrupt.Clock
	vms       *vm.Manager
	display   display.Driver
	boot      platform.BootInfo
	logger    *log.Logger
	trace     bool
}

// New creates a kernel from cfg.
func New(cfg Config) *Kernel {
	if cfg.Registry == nil {
		cfg.Registry = resource.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = interrupt.MonotonicClock()
	}
	return &Kernel{
		registry:  cfg.Registry,
		validator: resource.NewValidator(cfg.Registry),
		ctrl:      cfg.Controller,
		clock:     cfg.Clock,
		vms:       vm.NewManager(cfg.Pages, cfg.Memory, cfg.Logger),
		display:   cfg.Display,
		boot:      cfg.Boot,
		logger:    cfg.Logger,
		trace:     cfg.Trace,
	}
}

func (k *Kernel) tracef(format string, args ...any) {
	if k.trace {
		k.logger.Printf("ddk: "+format, args...)
	}
}

// install adds d to the caller's table. The table takes its own reference,
// so the creator's reference is dropped either way.
func install(th *process.Thread, d object.Dispatcher, rights object.Rights) (object.Handle, error) {
	defer d.Release()
	h, err := th.Handles().Add(d, rights)
	if err != nil {
		return object.HandleInvalid, err
	}
	return h, nil
}

// GrantRoot installs a new root resource handle in p. It is the bootstrap
// path by which the first driver process gains privilege.
func (k *Kernel) GrantRoot(p *process.Process) (object.Handle, error) {
	r := k.registry.NewRoot()
	defer r.Release()
	return p.Handles.Add(r, object.DefaultRights)
}

// GrantRange installs a ranged resource handle in p.
func (k *Kernel) GrantRange(p *process.Process, kind resource.Kind, base, size uint64, flags resource.Flags) (object.Handle, error) {
	r, err := k.registry.NewRanged(kind, base, size, flags)
	if err != nil {
		return object.HandleInvalid, fmt.Errorf("grant %s: %w", kind, err)
	}
	defer r.Release()
	return p.Handles.Add(r, object.DefaultRights)
}

// Boot returns the platform descriptor.
func (k *Kernel) Boot() platform.BootInfo {
	return k.boot
}
