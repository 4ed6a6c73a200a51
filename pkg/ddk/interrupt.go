package ddk

import (
	"context"
	"fmt"

	"ddk/pkg/interrupt"
	"ddk/pkg/object"
	"ddk/pkg/process"
	"ddk/pkg/resource"
	"ddk/pkg/status"
)

// ErrOptions is returned for nonzero interrupt_create options.
var ErrOptions = fmt.Errorf("%w: options must be zero", status.ErrInvalidArgs)

func lookupInterrupt(th *process.Thread, h object.Handle, rights object.Rights) (*interrupt.Dispatcher, func(), error) {
	return object.Lookup[*interrupt.Dispatcher](th.Handles(), h, object.TypeInterrupt, rights)
}

// InterruptCreate creates an interrupt object with no bound slots. hrsrc must
// name a root or IRQ resource.
func (k *Kernel) InterruptCreate(th *process.Thread, hrsrc object.Handle, options uint32) (object.Handle, error) {
	k.tracef("interrupt_create options %#x", options)

	if options != 0 {
		return object.HandleInvalid, ErrOptions
	}
	if err := k.validator.Validate(th.Handles(), hrsrc, resource.KindIRQ); err != nil {
		return object.HandleInvalid, err
	}

	d, rights := interrupt.New(k.ctrl, k.clock)
	return install(th, d, rights)
}

// InterruptBind routes vector into slot of the interrupt object h. hrsrc must
// be a root resource or an IRQ resource covering vector.
func (k *Kernel) InterruptBind(th *process.Thread, h object.Handle, slot uint32, hrsrc object.Handle, vector uint32, options uint32) error {
	k.tracef("interrupt_bind handle %#x slot %d vector %d", h, slot, vector)

	if err := k.validator.ValidateRange(th.Handles(), hrsrc, resource.KindIRQ, uint64(vector), 1); err != nil {
		return err
	}

	d, release, err := lookupInterrupt(th, h, object.RightWrite)
	defer release()
	if err != nil {
		return err
	}
	return d.Bind(slot, vector, options)
}

// InterruptUnbind releases slot, cancelling any waiter on it.
func (k *Kernel) InterruptUnbind(th *process.Thread, h object.Handle, slot uint32) error {
	k.tracef("interrupt_unbind handle %#x slot %d", h, slot)

	d, release, err := lookupInterrupt(th, h, object.RightWrite)
	defer release()
	if err != nil {
		return err
	}
	return d.Unbind(slot)
}

// InterruptComplete only checks that h names an interrupt object. Signals
// are acknowledged by the wait that consumes them.
//
// Deprecated: waits consume signals; there is nothing to complete.
func (k *Kernel) InterruptComplete(th *process.Thread, h object.Handle) error {
	k.tracef("interrupt_complete handle %#x", h)

	_, release, err := lookupInterrupt(th, h, object.RightNone)
	release()
	return err
}

// InterruptWait blocks until a bound slot is signaled and returns the
// consumed slots as a bitmask. The transient reference held for the wait
// keeps the object alive, but closing its last handle still cancels the wait.
func (k *Kernel) InterruptWait(ctx context.Context, th *process.Thread, h object.Handle) (uint64, error) {
	k.tracef("interrupt_wait handle %#x", h)

	d, release, err := lookupInterrupt(th, h, object.RightRead)
	defer release()
	if err != nil {
		return 0, err
	}
	return d.WaitForInterrupt(ctx)
}

// InterruptWaitWithTimestamp blocks until a bound slot is signaled and
// returns the lowest such slot with the time it was signaled.
func (k *Kernel) InterruptWaitWithTimestamp(ctx context.Context, th *process.Thread, h object.Handle) (uint32, int64, error) {
	k.tracef("interrupt_wait_with_timestamp handle %#x", h)

	d, release, err := lookupInterrupt(th, h, object.RightRead)
	defer release()
	if err != nil {
		return 0, 0, err
	}
	return d.WaitForInterruptWithTimeStamp(ctx)
}

// InterruptSignal signals slot with a caller-supplied timestamp, exactly as
// if its vector had fired.
func (k *Kernel) InterruptSignal(th *process.Thread, h object.Handle, slot uint32, timestamp int64) error {
	k.tracef("interrupt_signal handle %#x slot %d", h, slot)

	d, release, err := lookupInterrupt(th, h, object.RightWrite)
	defer release()
	if err != nil {
		return err
	}
	return d.UserSignal(slot, timestamp)
}
