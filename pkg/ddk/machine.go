package ddk

import (
	"fmt"
	"log"

	"ddk/pkg/display"
	"ddk/pkg/interrupt"
	"ddk/pkg/platform"
	"ddk/pkg/pmm"
	"ddk/pkg/process"
)

// Machine is a kernel with in-memory collaborators: an mmap-backed page
// arena, a software interrupt controller and a recording display.
type Machine struct {
	*Kernel

	Arena      *pmm.Arena
	Pages      *pmm.Counting
	Controller *interrupt.SoftController
	Display    *display.Udisplay
	Processes  *process.ProcessManager
}

// NewMachine boots a simulated machine described by cfg.
func NewMachine(cfg platform.Config, logger *log.Logger) (*Machine, error) {
	if logger == nil {
		logger = log.Default()
	}
	arena, err := pmm.NewArena(cfg.RamBase, cfg.RamPages)
	if err != nil {
		return nil, fmt.Errorf("ram arena: %w", err)
	}

	m := &Machine{
		Arena:      arena,
		Pages:      &pmm.Counting{Allocator: arena},
		Controller: interrupt.NewSoftController(),
		Display:    display.NewUdisplay(),
		Processes:  process.NewProcessManager(),
	}
	m.Kernel = New(Config{
		Controller: m.Controller,
		Pages:      m.Pages,
		Memory:     arena,
		Display:    m.Display,
		Boot:       cfg.Boot,
		Logger:     logger,
		Trace:      cfg.Trace,
	})
	return m, nil
}

// Spawn creates a process with one thread.
func (m *Machine) Spawn(name string) (*process.Thread, error) {
	p, err := m.Processes.CreateProcess(&process.CreateConfig{Name: name})
	if err != nil {
		return nil, err
	}
	return m.Processes.CreateThread(p)
}

// Close releases the RAM arena. Objects still holding pages must not be
// used afterwards.
func (m *Machine) Close() error {
	for _, p := range m.Processes.GetProcesses() {
		if p.IsAlive() {
			m.Processes.Exit(p.PID, 0)
		}
	}
	m.Display.Close()
	return m.Arena.Close()
}
