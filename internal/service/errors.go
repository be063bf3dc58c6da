// Package service implements the availability and booking reservation core:
// slot capacity, timed holds, the booking state machine, duplicate
// reconciliation, commission and payment callbacks.
package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// Error taxonomy returned to callers.  Detail is wrapped with %w; test with
// errors.Is.  A duplicate booking submission is not an error: CreateBooking
// returns the original booking.
var (
	ErrValidation           = errors.New("validation error")
	ErrCapacityExceeded     = errors.New("no longer available, please pick another slot")
	ErrHoldExpired          = errors.New("hold expired")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotFound             = errors.New("not found")
	ErrGatewayInconsistency = errors.New("gateway inconsistency")
	ErrForbidden            = errors.New("forbidden")
)

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// notFound maps the repository sentinel into the service taxonomy.
func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func wrapCapacity(detail string) error {
	return fmt.Errorf("%w: %s", ErrCapacityExceeded, detail)
}
