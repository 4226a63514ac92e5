package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates that a caller-provided value violates a
	// precondition. No remote call has been made when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a naming collision or a duplicate grant.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoProvisioningTask indicates no gateway job was ever recorded for a
	// resource.
	ErrNoProvisioningTask = errors.New("no provisioning task recorded")
)

// PrimaryError is returned when the resource registry rejects a create,
// update or delete. It aborts the calling operation.
type PrimaryError struct {
	Op  string
	Err error
}

func (e *PrimaryError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *PrimaryError) Unwrap() error { return e.Err }

// AdvisoryError wraps the failure of an enrichment step. It is logged and
// never returned from the orchestrator's create or delete paths.
type AdvisoryError struct {
	Step string
	Err  error
}

func (e *AdvisoryError) Error() string {
	return fmt.Sprintf("advisory step %s: %v", e.Step, e.Err)
}

func (e *AdvisoryError) Unwrap() error { return e.Err }

// CompensationError records a failed rollback of a group parent. The parent
// must be removed by hand.
type CompensationError struct {
	ParentID string
	Err      error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate parent %s: %v", e.ParentID, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Invalid builds an ErrInvalidArgument with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
