package resource

import (
	"errors"
	"fmt"

	"ddk/pkg/object"
	"ddk/pkg/status"
)

// Validator checks that a handle grants a privilege. It holds no decisions
// between calls, so closing the last handle to a resource revokes it for
// every later call.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator backed by reg's exclusive claims.
func NewValidator(reg *Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate checks that h names a resource of kind. Root resources match
// every kind.
func (v *Validator) Validate(table *object.HandleTable, h object.Handle, kind Kind) error {
	r, release, err := v.resolve(table, h)
	if err != nil {
		return err
	}
	defer release()

	if r.kind == KindRoot || r.kind == kind {
		return nil
	}
	return fmt.Errorf("%w: %w: have %s, need %s", status.ErrAccessDenied, ErrWrongKind, r.kind, kind)
}

// ValidateRange checks that h names a root resource, or a resource of kind
// whose range contains [base, base+size) without reaching into another
// resource's exclusive claim.
func (v *Validator) ValidateRange(table *object.HandleTable, h object.Handle, kind Kind, base, size uint64) error {
	r, release, err := v.resolve(table, h)
	if err != nil {
		return err
	}
	defer release()

	if r.kind == KindRoot {
		return nil
	}
	if r.kind != kind {
		return fmt.Errorf("%w: %w: have %s, need %s", status.ErrAccessDenied, ErrWrongKind, r.kind, kind)
	}
	if !r.Contains(base, size) {
		return fmt.Errorf("%w: %w: [%#x, +%#x) not within [%#x, +%#x)",
			status.ErrAccessDenied, status.ErrOutOfRange, base, size, r.base, r.size)
	}
	if v.registry != nil && v.registry.claimedByOther(kind, base, size, r.KOID()) {
		return fmt.Errorf("%w: %w", status.ErrAccessDenied, ErrExclusive)
	}
	return nil
}

// resolve looks h up as a resource. A handle to any other object type is a
// permission failure, not a lookup failure.
func (v *Validator) resolve(table *object.HandleTable, h object.Handle) (*Dispatcher, func(), error) {
	r, release, err := object.Lookup[*Dispatcher](table, h, object.TypeResource, object.RightNone)
	if err == nil {
		return r, release, nil
	}
	if errors.Is(err, status.ErrWrongType) {
		return nil, release, fmt.Errorf("%w: %w", status.ErrAccessDenied, status.ErrWrongType)
	}
	return nil, release, err
}
