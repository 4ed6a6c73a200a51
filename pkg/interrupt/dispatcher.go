package interrupt

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"ddk/pkg/object"
	"ddk/pkg/status"
)

// MaxSlots is the number of slots per interrupt object. Slot masks fit a uint64.
const MaxSlots = 64

// AllSlots selects every slot in a wait mask.
const AllSlots = ^uint64(0)

// Interrupt errors.
var (
	ErrSlotRange   = fmt.Errorf("%w: slot out of range", status.ErrInvalidArgs)
	ErrSlotInUse   = fmt.Errorf("%w: slot bound to another vector", status.ErrInvalidArgs)
	ErrBadOptions  = fmt.Errorf("%w: unknown options", status.ErrInvalidArgs)
	ErrVectorInUse = fmt.Errorf("%w: vector bound to another slot", status.ErrAlreadyBound)
	ErrUnbound     = fmt.Errorf("%w: slot unbound while waiting", status.ErrCanceled)
	ErrDestroyed   = fmt.Errorf("%w: interrupt object destroyed", status.ErrCanceled)
)

// State is the state of one slot.
type State int

const (
	StateIdle State = iota
	StateBound
	StateSignaled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateSignaled:
		return "signaled"
	}
	return "idle"
}

type slot struct {
	vector    uint32
	bound     bool
	signaled  bool
	timestamp int64
}

func (s *slot) state() State {
	switch {
	case s.signaled:
		return StateSignaled
	case s.bound:
		return StateBound
	}
	return StateIdle
}

// waiter is one blocked WaitFor* call.
type waiter struct {
	mask     uint64
	wake     chan struct{}
	canceled error
}

func (w *waiter) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Clock returns a monotonic timestamp in nanoseconds.
type Clock func() int64

// MonotonicClock is the default Clock.
func MonotonicClock() Clock {
	start := time.Now()
	return func() int64 {
		return int64(time.Since(start))
	}
}

// Dispatcher is an interrupt object: up to MaxSlots vectors multiplexed onto
// one waitable object.
//
// Every waiter woken by a signal rechecks the pending set, so with several
// waiters whose masks share a slot exactly one of them consumes each signal
// and the rest keep waiting.
type Dispatcher struct {
	object.Base

	ctrl  Controller
	clock Clock

	mu        sync.Mutex
	slots     [MaxSlots]slot
	waiters   map[*waiter]struct{}
	destroyed bool
}

// New creates an interrupt object with no bound slots. The caller owns the
// returned reference. Closing the last handle destroys the object.
func New(ctrl Controller, clock Clock) (*Dispatcher, object.Rights) {
	if clock == nil {
		clock = MonotonicClock()
	}
	d := &Dispatcher{
		ctrl:    ctrl,
		clock:   clock,
		waiters: make(map[*waiter]struct{}),
	}
	d.Init(nil)
	d.OnZeroHandles(d.destroy)
	return d, object.DefaultRights
}

// Type returns object.TypeInterrupt.
func (d *Dispatcher) Type() object.ObjectType {
	return object.TypeInterrupt
}

// Bind routes vector into slot. Rebinding a slot to the vector it already
// has succeeds without effect.
func (d *Dispatcher) Bind(slotIdx, vector uint32, options uint32) error {
	if Mode(options)&^modeMask != 0 {
		return ErrBadOptions
	}
	if slotIdx >= MaxSlots {
		return ErrSlotRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return ErrDestroyed
	}
	s := &d.slots[slotIdx]
	if s.bound {
		if s.vector == vector {
			return nil
		}
		return ErrSlotInUse
	}
	for i := range d.slots {
		if d.slots[i].bound && d.slots[i].vector == vector {
			return ErrVectorInUse
		}
	}

	err := d.ctrl.Register(vector, Mode(options), func() {
		d.fire(slotIdx, vector)
	})
	if err != nil {
		return err
	}
	*s = slot{vector: vector, bound: true}
	return nil
}

// Unbind releases the vector bound to slot. Waiters whose mask includes the
// slot return ErrUnbound.
func (d *Dispatcher) Unbind(slotIdx uint32) error {
	if slotIdx >= MaxSlots {
		return ErrSlotRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := &d.slots[slotIdx]
	if !s.bound {
		return status.ErrNotBound
	}
	d.ctrl.Unregister(s.vector)
	*s = slot{}

	bit := uint64(1) << slotIdx
	for w := range d.waiters {
		if w.mask&bit != 0 {
			w.canceled = ErrUnbound
			w.notify()
		}
	}
	return nil
}

// UserSignal signals slot as if its vector fired at timestamp.
func (d *Dispatcher) UserSignal(slotIdx uint32, timestamp int64) error {
	if slotIdx >= MaxSlots {
		return ErrSlotRange
	}
	return d.signal(slotIdx, timestamp)
}

// fire is the hardware path. A handler may run after its slot was unbound
// and rebound, so the slot is signaled only while it is still bound to the
// vector that fired.
func (d *Dispatcher) fire(slotIdx, vector uint32) {
	ts := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()

	s := &d.slots[slotIdx]
	if d.destroyed || !s.bound || s.vector != vector {
		return
	}
	d.signalLocked(slotIdx, ts)
}

func (d *Dispatcher) signal(slotIdx uint32, timestamp int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &d.slots[slotIdx]
	if d.destroyed || !s.bound {
		return status.ErrNotBound
	}
	d.signalLocked(slotIdx, timestamp)
	return nil
}

// signalLocked marks slot signaled and wakes its waiters. A slot already
// signaled keeps its first undelivered timestamp.
func (d *Dispatcher) signalLocked(slotIdx uint32, timestamp int64) {
	s := &d.slots[slotIdx]
	if !s.signaled {
		s.signaled = true
		s.timestamp = timestamp
	}

	bit := uint64(1) << slotIdx
	for w := range d.waiters {
		if w.mask&bit != 0 {
			w.notify()
		}
	}
}

// WaitForInterrupt blocks until any bound slot is signaled, then consumes
// every signaled slot and returns them as a bitmask.
func (d *Dispatcher) WaitForInterrupt(ctx context.Context) (uint64, error) {
	return d.WaitForSlots(ctx, AllSlots)
}

// WaitForSlots is WaitForInterrupt restricted to the slots in mask.
func (d *Dispatcher) WaitForSlots(ctx context.Context, mask uint64) (uint64, error) {
	var got uint64
	err := d.wait(ctx, mask, func(pending uint64) {
		got = pending
		for p := pending; p != 0; p &= p - 1 {
			d.slots[bits.TrailingZeros64(p)].signaled = false
		}
	})
	return got, err
}

// WaitForInterruptWithTimeStamp blocks until any bound slot is signaled,
// then consumes the lowest signaled slot and returns it with its timestamp.
func (d *Dispatcher) WaitForInterruptWithTimeStamp(ctx context.Context) (uint32, int64, error) {
	var (
		slotIdx   uint32
		timestamp int64
	)
	err := d.wait(ctx, AllSlots, func(pending uint64) {
		slotIdx = uint32(bits.TrailingZeros64(pending))
		s := &d.slots[slotIdx]
		timestamp = s.timestamp
		s.signaled = false
	})
	return slotIdx, timestamp, err
}

// wait blocks until a slot in mask is signaled and calls consume with the
// pending set while holding the lock. It returns without blocking if a slot
// is already signaled.
func (d *Dispatcher) wait(ctx context.Context, mask uint64, consume func(pending uint64)) error {
	w := &waiter{mask: mask, wake: make(chan struct{}, 1)}

	d.mu.Lock()
	defer d.mu.Unlock()
	defer delete(d.waiters, w)

	for {
		if d.destroyed {
			return ErrDestroyed
		}
		if w.canceled != nil {
			return w.canceled
		}
		if pending := d.pendingLocked(mask); pending != 0 {
			consume(pending)
			return nil
		}
		d.waiters[w] = struct{}{}

		d.mu.Unlock()
		select {
		case <-w.wake:
		case <-ctx.Done():
			d.mu.Lock()
			return ctx.Err()
		}
		d.mu.Lock()
	}
}

func (d *Dispatcher) pendingLocked(mask uint64) uint64 {
	var pending uint64
	for i := range d.slots {
		if d.slots[i].signaled {
			pending |= uint64(1) << i
		}
	}
	return pending & mask
}

// destroy unbinds every slot and cancels every waiter. It runs when the last
// handle is closed.
func (d *Dispatcher) destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyed = true
	for i := range d.slots {
		if d.slots[i].bound {
			d.ctrl.Unregister(d.slots[i].vector)
		}
		d.slots[i] = slot{}
	}
	for w := range d.waiters {
		w.notify()
	}
}

// SlotState returns the state of slot and its bound vector.
func (d *Dispatcher) SlotState(slotIdx uint32) (State, uint32, error) {
	if slotIdx >= MaxSlots {
		return StateIdle, 0, ErrSlotRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &d.slots[slotIdx]
	return s.state(), s.vector, nil
}

// Destroyed reports whether the object has been destroyed.
func (d *Dispatcher) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Waiters returns the number of blocked waiters.
func (d *Dispatcher) Waiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}
