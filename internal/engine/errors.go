package engine

import "errors"

// Domain failures are recoverable at the caller's boundary; handlers map them
// to HTTP statuses. Wrap with fmt.Errorf("%w: ...") to add detail.
var (
	ErrValidation         = errors.New("invalid input")
	ErrPermission         = errors.New("insufficient permissions")
	ErrNotFound           = errors.New("not found")
	ErrNotAMember         = errors.New("not a member of this group")
	ErrAlreadyMember      = errors.New("already a member of this group")
	ErrReadOnly           = errors.New("lists are no longer editable")
	ErrCapacity           = errors.New("selection limit exceeded")
	ErrDuplicateSelection = errors.New("duplicate selection")
	ErrInviteInvalid      = errors.New("invite is invalid or already used")
	ErrLastAdmin          = errors.New("cannot remove the last admin of a non-empty group")
	ErrAlreadyRunning     = errors.New("reconciliation is already running")
)
