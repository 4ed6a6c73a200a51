package interrupt

import (
	"fmt"
	"sync"

	"ddk/pkg/status"
)

// Mode is the trigger configuration requested at bind time.
type Mode uint32

const (
	// ModeEdge triggers on the rising edge. It is the default.
	ModeEdge Mode = 0
	// ModeLevel triggers while the line is asserted.
	ModeLevel Mode = 1 << 0
	// ModeRemap asks the controller to remap the vector before routing.
	ModeRemap Mode = 1 << 1

	modeMask = ModeLevel | ModeRemap
)

// Handler runs in interrupt context when a registered vector fires.
type Handler func()

// Controller is the hardware interrupt controller. Register claims a vector
// kernel-wide; a vector has at most one handler.
type Controller interface {
	Register(vector uint32, mode Mode, h Handler) error
	Unregister(vector uint32)
}

// SoftController is an in-memory Controller. Fire drives the same path a
// hardware interrupt would.
type SoftController struct {
	// MaxVector bounds accepted vectors. Zero means 256.
	MaxVector uint32

	mu       sync.Mutex
	handlers map[uint32]Handler
	modes    map[uint32]Mode
	calls    int
}

// NewSoftController creates a controller with no registrations.
func NewSoftController() *SoftController {
	return &SoftController{
		handlers: make(map[uint32]Handler),
		modes:    make(map[uint32]Mode),
	}
}

func (c *SoftController) maxVector() uint32 {
	if c.MaxVector == 0 {
		return 256
	}
	return c.MaxVector
}

// Register implements Controller.
func (c *SoftController) Register(vector uint32, mode Mode, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if vector >= c.maxVector() {
		return fmt.Errorf("%w: vector %d", status.ErrInvalidArgs, vector)
	}
	if _, taken := c.handlers[vector]; taken {
		return fmt.Errorf("%w: vector %d", status.ErrAlreadyBound, vector)
	}
	c.handlers[vector] = h
	c.modes[vector] = mode
	return nil
}

// Unregister implements Controller.
func (c *SoftController) Unregister(vector uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	delete(c.handlers, vector)
	delete(c.modes, vector)
}

// Fire raises vector. It reports whether a handler was registered.
func (c *SoftController) Fire(vector uint32) bool {
	c.mu.Lock()
	h := c.handlers[vector]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// Registered reports whether vector has a handler and its mode.
func (c *SoftController) Registered(vector uint32) (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[vector]
	return c.modes[vector], ok
}

// Calls returns the number of Register and Unregister calls made.
func (c *SoftController) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
