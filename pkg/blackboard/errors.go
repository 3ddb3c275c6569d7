package blackboard

import "errors"

var (
	// ErrNotFound is returned when an entity id has no backing document.
	ErrNotFound = errors.New("not found")

	// ErrClaimConflict is returned when a claim targets a task that is no
	// longer pending, or loses a race with another claimant.
	ErrClaimConflict = errors.New("task is not claimable")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the entity's state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput is returned, wrapped with detail, when caller input
	// fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
