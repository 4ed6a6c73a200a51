package process

import (
	"sync"
	"time"

	"ddk/pkg/object"
	"ddk/pkg/platform"
)

// ProcessState represents the state of a process in the system.
type ProcessState string

const (
	// StateReady indicates the process has been created but has not run.
	StateReady ProcessState = "ready"
	// StateRunning indicates the process has at least one live thread.
	StateRunning ProcessState = "running"
	// StateZombie indicates the process has exited and its handles are closed.
	StateZombie ProcessState = "zombie"
)

// Process is a protection domain: a handle table and an address space.
type Process struct {
	// PID is the unique process identifier.
	PID int
	// Name is a label for diagnostics.
	Name string
	// State is the current process state.
	State ProcessState
	// ExitCode is the process exit code (valid when state is Zombie).
	ExitCode int
	// CreatedAt is when the process was created.
	CreatedAt time.Time
	// FinishedAt is when the process exited.
	FinishedAt time.Time

	// Handles holds every handle the process owns.
	Handles *object.HandleTable
	// AddressSpace maps the process's virtual addresses.
	AddressSpace *AddressSpace

	mu      sync.Mutex
	threads []*Thread
}

// NewProcess creates a process with an empty handle table and address space.
func NewProcess(pid int, name string) *Process {
	return &Process{
		PID:          pid,
		Name:         name,
		State:        StateReady,
		CreatedAt:    time.Now(),
		Handles:      object.NewHandleTable(),
		AddressSpace: NewAddressSpace(),
	}
}

// SetState atomically sets the process state.
func (p *Process) SetState(state ProcessState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.State = state
}

// GetState atomically gets the process state.
func (p *Process) GetState() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

// Threads returns the process's threads.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Thread(nil), p.threads...)
}

// ThreadCount returns the number of threads.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// Thread is a thread of execution inside a process. Each thread has its own
// IO permission bitmap.
type Thread struct {
	TID     int
	Process *Process
	// IoBitmap is consulted on x86 port accesses.
	IoBitmap platform.IoBitmap
}

// Handles returns the owning process's handle table.
func (t *Thread) Handles() *object.HandleTable {
	return t.Process.Handles
}
