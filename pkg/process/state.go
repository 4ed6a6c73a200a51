package process

import (
	"errors"
	"time"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrProcessNotFound   = errors.New("process not found")
)

// StateTransition represents a valid state transition.
type StateTransition struct {
	From ProcessState
	To   ProcessState
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// First thread created: Ready -> Running
	{From: StateReady, To: StateRunning},
	// Normal exit: Running -> Zombie
	{From: StateRunning, To: StateZombie},
	// Exit before any thread ran: Ready -> Zombie
	{From: StateReady, To: StateZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ProcessState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTo attempts to transition the process to a new state.
func (p *Process) TransitionTo(to ProcessState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

func (p *Process) transitionLocked(to ProcessState) error {
	if !IsValidTransition(p.State, to) {
		return ErrInvalidTransition
	}
	p.State = to
	if to == StateZombie {
		p.FinishedAt = time.Now()
	}
	return nil
}

// Terminate moves the process to Zombie and records the exit code. It does
// not close handles; ProcessManager.Exit does.
func (p *Process) Terminate(exitCode int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transitionLocked(StateZombie); err != nil {
		return err
	}
	p.ExitCode = exitCode
	return nil
}

// IsAlive returns true if the process has not exited.
func (p *Process) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State != StateZombie
}
