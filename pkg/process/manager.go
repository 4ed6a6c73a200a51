package process

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ddk/pkg/status"
)

// Process creation errors.
var (
	ErrInvalidPID     = errors.New("invalid PID")
	ErrPIDInUse       = errors.New("PID already in use")
	ErrProcessExited  = fmt.Errorf("%w: process has exited", status.ErrBadState)
	ErrTooManyThreads = fmt.Errorf("%w: thread limit reached", status.ErrNoMemory)
)

// Limits bounds the kernel objects a process may hold.
type Limits struct {
	// MaxHandles limits the handle table. Zero means unlimited.
	MaxHandles int
	// MaxThreads limits live threads. Zero means unlimited.
	MaxThreads int
}

// DefaultLimits returns the limits applied when CreateConfig has none.
func DefaultLimits() Limits {
	return Limits{MaxHandles: 4096, MaxThreads: 64}
}

// CreateConfig contains configuration for creating a new process.
type CreateConfig struct {
	// Name is a label for diagnostics.
	Name string
	// Limits overrides DefaultLimits when non-nil.
	Limits *Limits
}

// ProcessManager manages all processes in the system.
type ProcessManager struct {
	// processes holds all processes by PID.
	processes sync.Map
	// pidCounter generates unique PIDs.
	pidCounter int32
	// tidCounter generates unique TIDs across processes.
	tidCounter int32

	mu sync.RWMutex
	// limits holds per-process limits by PID.
	limits map[int]Limits
}

// NewProcessManager creates a new process manager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		pidCounter: 1,
		tidCounter: 1,
		limits:     make(map[int]Limits),
	}
}

// allocatePID allocates a new unique PID.
func (pm *ProcessManager) allocatePID() int {
	return int(atomic.AddInt32(&pm.pidCounter, 1))
}

// CreateProcess creates a process with an empty handle table.
func (pm *ProcessManager) CreateProcess(config *CreateConfig) (*Process, error) {
	if config == nil {
		config = &CreateConfig{}
	}
	limits := DefaultLimits()
	if config.Limits != nil {
		limits = *config.Limits
	}

	pid := pm.allocatePID()
	p := NewProcess(pid, config.Name)
	p.Handles.MaxHandles = limits.MaxHandles

	if _, loaded := pm.processes.LoadOrStore(pid, p); loaded {
		return nil, ErrPIDInUse
	}
	pm.mu.Lock()
	pm.limits[pid] = limits
	pm.mu.Unlock()
	return p, nil
}

// CreateThread adds a thread to p. The first thread moves the process to
// Running.
func (pm *ProcessManager) CreateThread(p *Process) (*Thread, error) {
	pm.mu.RLock()
	limits := pm.limits[p.PID]
	pm.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State == StateZombie {
		return nil, ErrProcessExited
	}
	if limits.MaxThreads > 0 && len(p.threads) >= limits.MaxThreads {
		return nil, ErrTooManyThreads
	}
	if p.State == StateReady {
		if err := p.transitionLocked(StateRunning); err != nil {
			return nil, err
		}
	}

	t := &Thread{
		TID:     int(atomic.AddInt32(&pm.tidCounter, 1)),
		Process: p,
	}
	p.threads = append(p.threads, t)
	return t, nil
}

// GetProcess retrieves a process by PID.
func (pm *ProcessManager) GetProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}

	p, ok := pm.processes.Load(pid)
	if !ok {
		return nil, ErrProcessNotFound
	}
	return p.(*Process), nil
}

// GetProcesses returns all processes.
func (pm *ProcessManager) GetProcesses() []*Process {
	processes := make([]*Process, 0)

	pm.processes.Range(func(key, value any) bool {
		processes = append(processes, value.(*Process))
		return true
	})

	return processes
}

// Exit terminates a process and closes its handle table, dropping every
// reference the process held. Objects whose last handle lived there are
// destroyed.
func (pm *ProcessManager) Exit(pid int, exitCode int) error {
	p, err := pm.GetProcess(pid)
	if err != nil {
		return err
	}

	if err := p.Terminate(exitCode); err != nil {
		return err
	}
	p.Handles.Close()

	p.mu.Lock()
	p.threads = nil
	p.mu.Unlock()
	return nil
}

// Reap removes an exited process from the table.
func (pm *ProcessManager) Reap(pid int) error {
	p, err := pm.GetProcess(pid)
	if err != nil {
		return err
	}
	if p.IsAlive() {
		return fmt.Errorf("%w: process %d is alive", status.ErrBadState, pid)
	}

	pm.processes.Delete(pid)
	pm.mu.Lock()
	delete(pm.limits, pid)
	pm.mu.Unlock()
	return nil
}

// CountProcesses returns the total number of processes.
func (pm *ProcessManager) CountProcesses() int {
	count := 0
	pm.processes.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

// IsProcessAlive checks if a process is still alive.
func (pm *ProcessManager) IsProcessAlive(pid int) bool {
	p, err := pm.GetProcess(pid)
	if err != nil {
		return false
	}
	return p.IsAlive()
}
