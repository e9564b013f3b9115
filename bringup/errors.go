package bringup

import (
	"errors"
	"fmt"
)

var (
	// ErrInternal indicates a module reported Error while the service waited for it.
	ErrInternal = errors.New("bringup: module reported error")

	// ErrTimeout indicates the poll budget was spent before all modules converged.
	ErrTimeout = errors.New("bringup: modules did not converge in time")

	// ErrRunning indicates Start was called while an operation is in progress.
	ErrRunning = errors.New("bringup: operation in progress")
)

// ResultError describes a bring-up or shutdown that did not finish. It matches
// ErrInternal or ErrTimeout with errors.Is.
type ResultError struct {
	Mode    Mode
	Phase   Phase
	Failed  int
	Pending int
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s ended with %s: %d failed, %d pending", e.Mode, e.Phase, e.Failed, e.Pending)
}

func (e *ResultError) Unwrap() error {
	if e.Phase == PhaseError {
		return ErrInternal
	}

	return ErrTimeout
}
