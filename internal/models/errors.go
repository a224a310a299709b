package models

import "errors"

// Engine errors. Components wrap these with context using fmt.Errorf("...: %w", err)
// and callers match them with errors.Is.
var (
	// ErrNotFound is returned when a shift, template, transfer, request or executor is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoEligibleCandidate is returned when scoring produced zero usable executors.
	ErrNoEligibleCandidate = errors.New("no eligible candidate")

	// ErrConflictBlocked is returned when every scored candidate failed a high or critical conflict check.
	ErrConflictBlocked = errors.New("assignment blocked by conflict")

	// ErrRetryBudgetExhausted is returned when a transfer used up its automatic assignment attempts.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrStoreUnavailable wraps persistence I/O failures. Jobs treat it as retryable on the next tick.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidInput     = errors.New("invalid input")
	ErrTemplateInUse    = errors.New("template has dependent shifts")
	ErrNotOwner         = errors.New("executor does not own the shift")
	ErrCapacityExceeded = errors.New("shift capacity exceeded")
)

// Retryable reports whether err is a transient failure that a later run may not hit.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
