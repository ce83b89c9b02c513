package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a lifecycle operation matches
// exactly one of these through errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrPredictionTimeout = errors.New("prediction timeout")
	ErrStorage           = errors.New("storage error")
)

var (
	ErrServiceIDRequired = fmt.Errorf("%w: service id is required", ErrValidation)
	ErrLineIDRequired    = fmt.Errorf("%w: line id is required", ErrValidation)
	ErrTicketIDRequired  = fmt.Errorf("%w: ticket id is required", ErrValidation)
	ErrCustomerRequired  = fmt.Errorf("%w: customer id or phone is required", ErrValidation)

	ErrServiceNotFound  = fmt.Errorf("service %w", ErrNotFound)
	ErrNoLines          = fmt.Errorf("service has no lines: %w", ErrNotFound)
	ErrLineNotFound     = fmt.Errorf("line %w", ErrNotFound)
	ErrTicketNotFound   = fmt.Errorf("ticket %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrNoWaitingTicket  = fmt.Errorf("no waiting ticket: %w", ErrNotFound)

	ErrActiveTicketExists = fmt.Errorf("%w: customer already has a waiting ticket for this service", ErrConflict)
)

// InvalidTransition reports an illegal status change.
func InvalidTransition(from, to Status) error {
	return fmt.Errorf("%w: cannot move ticket from %s to %s", ErrInvalidState, from, to)
}

// StorageError wraps an infrastructure fault raised by a store.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
