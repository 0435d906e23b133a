package orchestrator

import "errors"

var (
	// ErrNotFound marks an unknown agent or task id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID marks re-registration or re-submission under an
	// existing id.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrValidation marks a structurally invalid request, e.g. pausing an
	// agent that is not idle.
	ErrValidation = errors.New("invalid request")
)
