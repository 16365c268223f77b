package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed requests that are not evidence.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidEvidence is returned when risk factors are out of range.
	ErrInvalidEvidence = errors.New("invalid evidence")

	// ErrIllegalTransition is returned when a workflow action is not allowed
	// from the record's current status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNotesRequired is returned when a SAR action is attempted without notes.
	ErrNotesRequired = errors.New("notes required")

	// ErrConflictingState is returned when a record changed between read and write.
	ErrConflictingState = errors.New("conflicting state")
)

// TransitionError describes a rejected workflow action.
// It carries the status the record was in so callers can explain the rejection.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: %s from %q: %v", e.Entity, e.ID, e.Action, e.From, e.Err)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// NewTransitionError builds an ErrIllegalTransition rejection.
func NewTransitionError(entity, id, from, action, reason string) *TransitionError {
	return &TransitionError{
		Entity: entity,
		ID:     id,
		From:   from,
		Action: action,
		Reason: reason,
		Err:    ErrIllegalTransition,
	}
}
