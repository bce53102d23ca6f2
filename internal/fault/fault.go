// Package fault defines the error classes the engine distinguishes between.
// Callers match with errors.Is; everything else is treated as an internal
// failure.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means a provider call was attempted without a usable
	// credential. Refresh aborts for that source only.
	ErrAuthRequired = errors.New("authentication required")

	// ErrProvider covers network or HTTP failures from the calendar or
	// entity providers. Surfaced per source; sibling fetches continue.
	ErrProvider = errors.New("provider error")

	// ErrValidation marks a malformed create/update request, rejected before
	// any store mutation.
	ErrValidation = errors.New("invalid request")

	// ErrSubmission means the ledger rejected a batch or was unreachable.
	// The categorization store is left intact so the user can retry.
	ErrSubmission = errors.New("submission failed")

	// ErrStaleDrag means a drag gesture referenced an event that vanished
	// from the week snapshot before the drop committed.
	ErrStaleDrag = errors.New("drag source no longer present")
)

// Authf wraps a formatted message as an auth-required error.
func Authf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrAuthRequired, args)...)
}

// Providerf wraps a formatted message as a provider error.
func Providerf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrProvider, args)...)
}

// Validationf wraps a formatted message as a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

// Submissionf wraps a formatted message as a submission error.
func Submissionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrSubmission, args)...)
}

func prepend(err error, args []any) []any {
	return append([]any{err}, args...)
}
