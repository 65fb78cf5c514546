package store

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrServiceNotFound   = errors.New("service not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrLostRace          = errors.New("ticket was changed by another actor")
	ErrQueueEmpty        = errors.New("no waiting tickets")
	ErrForbidden         = errors.New("transition requires supervisor role")
	ErrUnavailable       = errors.New("store unavailable")
	ErrHistoryTampered   = errors.New("history chain mismatch")
)

// ValidationError reports missing or malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsNotFound matches every lookup miss in the taxonomy.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
