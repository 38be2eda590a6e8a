package store

import "github.com/pkg/errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidState   = errors.New("invalid ticket state")
	ErrQueueEmpty     = errors.New("no ticket waiting")
	ErrQueueFull      = errors.New("queue is full")
)

// ValidationError carries a caller-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}
